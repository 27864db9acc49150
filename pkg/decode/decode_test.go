package decode

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/unicode"
)

func buildWorkbook(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func attendanceRows(n int) [][]interface{} {
	rows := [][]interface{}{{"Event ID", "Student ID", "Date", "Status"}}
	for i := 0; i < n; i++ {
		rows = append(rows, []interface{}{fmt.Sprintf("evt-%d", i), fmt.Sprintf("stu-%d", i%7), "2024-09-02", "A"})
	}
	return rows
}

func attendanceCSV(n int) []byte {
	var buf bytes.Buffer
	buf.WriteString("Event ID,Student ID,Date,Status\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&buf, "evt-%d,stu-%d,2024-09-02,A\n", i, i%7)
	}
	return buf.Bytes()
}

// workbookWithLeadingBlankSheet puts the data on a second sheet and leaves the
// first one empty.
func workbookWithLeadingBlankSheet(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck
	_, err := f.NewSheet("Attendance")
	require.NoError(t, err)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Attendance", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

type failingStrategy struct {
	err   error
	calls int
}

func (f *failingStrategy) Name() string { return "failing" }

func (f *failingStrategy) Decode([]byte) (*Result, error) {
	f.calls++
	return nil, f.err
}

func TestCompactSpreadsheetDecode(t *testing.T) {
	data := buildWorkbook(t, attendanceRows(3))

	result, err := CompactSpreadsheet{}.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "xlsx-compact", result.Strategy)
	assert.Equal(t, []string{"Event ID", "Student ID", "Date", "Status"}, result.Headers)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "evt-1", result.Rows[1]["Event ID"])
	assert.Equal(t, "A", result.Rows[2]["Status"])
}

func TestPermissiveSpreadsheetDecode(t *testing.T) {
	result, err := PermissiveSpreadsheet{}.Decode(buildWorkbook(t, attendanceRows(3)))
	require.NoError(t, err)
	assert.Equal(t, "xlsx-permissive", result.Strategy)
	assert.Equal(t, []string{"Event ID", "Student ID", "Date", "Status"}, result.Headers)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "evt-2", result.Rows[2]["Event ID"])
}

func TestPermissiveSpreadsheetTakesFirstNonEmptySheet(t *testing.T) {
	data := workbookWithLeadingBlankSheet(t, attendanceRows(2))

	_, err := CompactSpreadsheet{}.Decode(data)
	require.ErrorIs(t, err, ErrEmptyTable)

	result, err := PermissiveSpreadsheet{}.Decode(data)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "stu-1", result.Rows[1]["Student ID"])
}

func TestPermissiveSpreadsheetEmptyWorkbook(t *testing.T) {
	_, err := PermissiveSpreadsheet{}.Decode(buildWorkbook(t, nil))
	assert.ErrorIs(t, err, ErrEmptyTable)
}

func TestDefaultChainStrategyOrder(t *testing.T) {
	chain := NewChain(0)

	cases := []struct {
		name        string
		contentType string
		data        []byte
		strategy    string
	}{
		{"plain workbook", xlsxMIME, buildWorkbook(t, attendanceRows(5)), "xlsx-compact"},
		{"leading blank sheet", xlsxMIME, workbookWithLeadingBlankSheet(t, attendanceRows(5)), "xlsx-permissive"},
		{"csv", "text/csv", attendanceCSV(5), Delimited{}.Name()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := chain.Decode(tc.contentType, tc.data)
			require.NoError(t, err)
			assert.Equal(t, tc.strategy, result.Strategy)
			assert.Len(t, result.Rows, 5)
		})
	}
}

func TestStreamingSpreadsheetTruncatesLongCells(t *testing.T) {
	long := strings.Repeat("x", 50)
	data := buildWorkbook(t, [][]interface{}{{"id", "note"}, {"1", long}, {"2", "short"}})

	result, err := StreamingSpreadsheet{MaxCellLength: 10}.Decode(data)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, strings.Repeat("x", 10), result.Rows[0]["note"])
	assert.Equal(t, "short", result.Rows[1]["note"])
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "note", result.Warnings[0].Column)
	assert.Equal(t, 2, result.Warnings[0].Row)
}

func TestChainFallsBackToNextStrategy(t *testing.T) {
	data := buildWorkbook(t, attendanceRows(250))
	first := &failingStrategy{err: ErrEmptyTable}
	second := &failingStrategy{err: errors.New("zip: not a valid zip file")}
	chain := &Chain{
		Spreadsheet: []Strategy{first, second, StreamingSpreadsheet{}},
		Delimited:   Delimited{},
	}

	result, err := chain.Decode(xlsxMIME, data)
	require.NoError(t, err)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, "xlsx-stream", result.Strategy)

	reference, err := Delimited{}.Decode(attendanceCSV(250))
	require.NoError(t, err)
	assert.Equal(t, len(reference.Rows), len(result.Rows))
	assert.Equal(t, reference.Headers, result.Headers)
	assert.Equal(t, reference.Rows, result.Rows)
}

func TestChainReportsEveryStrategyOnFailure(t *testing.T) {
	chain := &Chain{
		Spreadsheet: []Strategy{&failingStrategy{err: ErrEmptyTable}, &failingStrategy{err: errors.New("boom")}},
		Delimited:   Delimited{},
	}

	_, err := chain.Decode(xlsxMIME, []byte("PK\x03\x04garbage"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyTable))
	assert.Contains(t, err.Error(), "boom")
}

func TestChainRoutesDelimitedContentDirectly(t *testing.T) {
	spreadsheet := &failingStrategy{err: ErrEmptyTable}
	chain := &Chain{Spreadsheet: []Strategy{spreadsheet}, Delimited: Delimited{}}

	result, err := chain.Decode("text/csv; charset=utf-8", attendanceCSV(4))
	require.NoError(t, err)
	assert.Equal(t, 0, spreadsheet.calls)
	assert.Len(t, result.Rows, 4)
}

func TestChainEmptyPayload(t *testing.T) {
	result, err := NewChain(0).Decode(xlsxMIME, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Rows)
}

func TestDelimitedHandlesBOMRaggedRowsAndQuotes(t *testing.T) {
	payload := "\ufeffid,name,grade\n1,\"Smith, Ann\",5\n2,Lee\n3,Kim,6,extra\n"

	result, err := Delimited{}.Decode([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "grade"}, result.Headers)
	require.Len(t, result.Rows, 3)
	assert.Equal(t, "Smith, Ann", result.Rows[0]["name"])
	assert.Equal(t, "", result.Rows[1]["grade"])
	assert.Equal(t, "6", result.Rows[2]["grade"])
	assert.Len(t, result.Warnings, 2)
}

func TestDelimitedDecodesUTF16(t *testing.T) {
	encoder := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder()
	payload, err := encoder.Bytes([]byte("id;status\n1;P\n2;A\n"))
	require.NoError(t, err)

	result, err := Delimited{}.Decode(payload)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "A", result.Rows[1]["status"])
}

func TestDetectKind(t *testing.T) {
	workbook := buildWorkbook(t, attendanceRows(1))
	assert.Equal(t, KindSpreadsheet, DetectKind("", workbook))
	assert.Equal(t, KindSpreadsheet, DetectKind("application/octet-stream", workbook))
	assert.Equal(t, KindDelimited, DetectKind("", attendanceCSV(2)))
	assert.Equal(t, KindDelimited, DetectKind("text/csv", []byte("a,b\n")))
}

func TestDuplicateHeadersNeverShadowExportedNames(t *testing.T) {
	result, err := Delimited{}.Decode([]byte("id,id,id_2,,column_4\n1,2,3,4,5\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "id_3", "id_2", "column_4_2", "column_4"}, result.Headers)
	row := result.Rows[0]
	assert.Len(t, row, 5)
	assert.Equal(t, "2", row["id_3"])
	assert.Equal(t, "3", row["id_2"])
	assert.Equal(t, "4", row["column_4_2"])
	assert.Equal(t, "5", row["column_4"])
}

func TestDuplicateAndBlankHeaders(t *testing.T) {
	result, err := Delimited{}.Decode([]byte("id,,id\n1,2,3\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "column_2", "id_2"}, result.Headers)
	assert.Equal(t, "3", result.Rows[0]["id_2"])
}
