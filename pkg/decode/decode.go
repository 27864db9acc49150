// Package decode turns exported spreadsheet and delimited-text payloads into
// column-keyed rows, falling back through several strategies for large files.
package decode

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Row maps a header name to the cell value of one data row.
type Row map[string]string

// Warning is a non-fatal issue found while decoding.
type Warning struct {
	Row     int    `json:"row"`
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

// Result is the decoder-agnostic output of one payload.
type Result struct {
	Rows     []Row
	Headers  []string
	Strategy string
	Warnings []Warning
}

// Strategy decodes one payload.
type Strategy interface {
	Name() string
	Decode(data []byte) (*Result, error)
}

// ErrEmptyTable signals a structural failure: the payload was not empty but no
// sheet or row could be materialised from it.
var ErrEmptyTable = errors.New("decoded table is empty")

// DefaultMaxCellLength bounds a single cell value.
const DefaultMaxCellLength = 4000

// tableBuilder accumulates rows against a header so every strategy emits the
// same record shape.
type tableBuilder struct {
	headers       []string
	maxCellLength int
	rows          []Row
	warnings      []Warning
}

func newTableBuilder(maxCellLength int) *tableBuilder {
	if maxCellLength <= 0 {
		maxCellLength = DefaultMaxCellLength
	}
	return &tableBuilder{maxCellLength: maxCellLength}
}

func (b *tableBuilder) hasHeader() bool {
	return b.headers != nil
}

func (b *tableBuilder) setHeader(cells []string) {
	reserved := make(map[string]bool, len(cells))
	for _, cell := range cells {
		if name := normalizeHeader(cell); name != "" {
			reserved[name] = true
		}
	}

	// Generated names skip every header present in the export.
	headers := make([]string, len(cells))
	used := make(map[string]bool, len(cells))
	for i, cell := range cells {
		name := normalizeHeader(cell)
		generated := name == ""
		if generated {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if used[name] || (generated && reserved[name]) {
			base := name
			for n := 2; ; n++ {
				name = fmt.Sprintf("%s_%d", base, n)
				if !used[name] && !reserved[name] {
					break
				}
			}
		}
		used[name] = true
		headers[i] = name
	}
	b.headers = headers
}

// addRow appends a data row; rowNum is 1-based including the header row.
func (b *tableBuilder) addRow(rowNum int, cells []string) {
	if isBlank(cells) {
		return
	}
	if len(cells) > len(b.headers) {
		b.warnings = append(b.warnings, Warning{
			Row:     rowNum,
			Message: fmt.Sprintf("row has %d columns, expected %d; truncating extra columns", len(cells), len(b.headers)),
		})
		cells = cells[:len(b.headers)]
	}
	row := make(Row, len(b.headers))
	for i, h := range b.headers {
		value := ""
		if i < len(cells) {
			value = strings.TrimSpace(cells[i])
		}
		if utf8.RuneCountInString(value) > b.maxCellLength {
			value = truncateRunes(value, b.maxCellLength)
			b.warnings = append(b.warnings, Warning{
				Row:     rowNum,
				Column:  h,
				Message: fmt.Sprintf("cell truncated to %d characters", b.maxCellLength),
			})
		}
		row[h] = value
	}
	b.rows = append(b.rows, row)
}

func (b *tableBuilder) result(strategy string) *Result {
	return &Result{Rows: b.rows, Headers: b.headers, Strategy: strategy, Warnings: b.warnings}
}

func normalizeHeader(cell string) string {
	cell = strings.TrimPrefix(cell, "\ufeff")
	return strings.TrimSpace(cell)
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func truncateRunes(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
