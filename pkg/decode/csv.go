package decode

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Delimited parses CSV-like text. It tolerates UTF-8 and UTF-16 byte-order
// marks, ragged column counts and quoted separators. The delimiter is taken
// from the header line when Comma is zero.
type Delimited struct {
	Comma         rune
	MaxCellLength int
}

// Name implements Strategy.
func (Delimited) Name() string { return "delimited" }

// Decode implements Strategy.
func (s Delimited) Decode(data []byte) (*Result, error) {
	text, err := toUTF8(data)
	if err != nil {
		return nil, fmt.Errorf("decode text encoding: %w", err)
	}

	comma := s.Comma
	if comma == 0 {
		comma = sniffDelimiter(text)
	}

	reader := csv.NewReader(bytes.NewReader(text))
	reader.Comma = comma
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	builder := newTableBuilder(s.MaxCellLength)
	rowNum := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				builder.warnings = append(builder.warnings, Warning{Row: rowNum, Message: fmt.Sprintf("parse error: %v", err)})
				continue
			}
			return nil, fmt.Errorf("read row %d: %w", rowNum, err)
		}
		if !builder.hasHeader() {
			if isBlank(record) {
				continue
			}
			builder.setHeader(record)
			continue
		}
		if len(record) < len(builder.headers) {
			builder.warnings = append(builder.warnings, Warning{
				Row:     rowNum,
				Message: fmt.Sprintf("row has %d columns, expected %d; padding with empty values", len(record), len(builder.headers)),
			})
		}
		builder.addRow(rowNum, record)
	}
	return builder.result(s.Name()), nil
}

// toUTF8 strips a UTF-8 BOM or transcodes UTF-16 input announced by its BOM.
func toUTF8(data []byte) ([]byte, error) {
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	out, _, err := transform.Bytes(decoder, data)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sniffDelimiter(text []byte) rune {
	line := text
	if idx := bytes.IndexByte(text, '\n'); idx >= 0 {
		line = text[:idx]
	}
	best, bestCount := ',', 0
	for _, candidate := range []rune{',', ';', '\t', '|'} {
		count := bytes.Count(line, []byte(string(candidate)))
		if count > bestCount {
			best, bestCount = candidate, count
		}
	}
	return best
}
