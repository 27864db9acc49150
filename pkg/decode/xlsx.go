package decode

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	compactXMLLimit    int64 = 16 << 20
	permissiveZipLimit int64 = 64 << 30
	permissiveXMLLimit int64 = 1 << 30
)

// CompactSpreadsheet reads the first worksheet with raw cell values and the
// default unzip limits, skipping number formatting.
type CompactSpreadsheet struct {
	MaxCellLength int
}

// Name implements Strategy.
func (CompactSpreadsheet) Name() string { return "xlsx-compact" }

// Decode implements Strategy.
func (s CompactSpreadsheet) Decode(data []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{
		RawCellValue:      true,
		UnzipXMLSizeLimit: compactXMLLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyTable
	}
	rows, err := f.GetRows(sheets[0], excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return buildTable(s.Name(), rows, s.MaxCellLength)
}

// PermissiveSpreadsheet raises the unzip limits so oversized worksheets are
// materialised in memory, and takes the first sheet that holds any rows.
type PermissiveSpreadsheet struct {
	MaxCellLength int
}

// Name implements Strategy.
func (PermissiveSpreadsheet) Name() string { return "xlsx-permissive" }

// Decode implements Strategy.
func (s PermissiveSpreadsheet) Decode(data []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{
		RawCellValue:      true,
		UnzipSizeLimit:    permissiveZipLimit,
		UnzipXMLSizeLimit: permissiveXMLLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		if len(rows) > 0 {
			return buildTable(s.Name(), rows, s.MaxCellLength)
		}
	}
	return nil, ErrEmptyTable
}

// StreamingSpreadsheet walks the first worksheet row by row without
// materialising the table. Over-long cells are truncated with a warning.
type StreamingSpreadsheet struct {
	MaxCellLength int
}

// Name implements Strategy.
func (StreamingSpreadsheet) Name() string { return "xlsx-stream" }

// Decode implements Strategy.
func (s StreamingSpreadsheet) Decode(data []byte) (*Result, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptyTable
	}
	iter, err := f.Rows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("iterate sheet %q: %w", sheets[0], err)
	}
	defer iter.Close() //nolint:errcheck

	builder := newTableBuilder(s.MaxCellLength)
	rowNum := 0
	for iter.Next() {
		rowNum++
		cells, err := iter.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", rowNum, err)
		}
		if !builder.hasHeader() {
			if isBlank(cells) {
				continue
			}
			builder.setHeader(cells)
			continue
		}
		builder.addRow(rowNum, cells)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate sheet %q: %w", sheets[0], err)
	}
	if !builder.hasHeader() {
		return nil, ErrEmptyTable
	}
	return builder.result(s.Name()), nil
}

func buildTable(strategy string, rows [][]string, maxCellLength int) (*Result, error) {
	builder := newTableBuilder(maxCellLength)
	for i, cells := range rows {
		if !builder.hasHeader() {
			if isBlank(cells) {
				continue
			}
			builder.setHeader(cells)
			continue
		}
		builder.addRow(i+1, cells)
	}
	if !builder.hasHeader() {
		return nil, ErrEmptyTable
	}
	return builder.result(strategy), nil
}
