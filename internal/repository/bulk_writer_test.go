package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

// wideRecord carries 19 domain columns, so 23 bound parameters per row.
type wideRecord struct {
	key string
}

func (r wideRecord) NaturalKey() string { return r.key }

func (wideRecord) Columns() []string {
	cols := make([]string, 19)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i+1)
	}
	return cols
}

func (r wideRecord) Values() []interface{} {
	vals := make([]interface{}, 19)
	for i := range vals {
		vals[i] = r.key
	}
	return vals
}

func wideRecords(n int) []Record {
	out := make([]Record, n)
	for i := range out {
		out[i] = wideRecord{key: fmt.Sprintf("k%d", i)}
	}
	return out
}

// statementRecorder captures every SQL statement sqlmock matches.
type statementRecorder struct {
	mu    sync.Mutex
	stmts []string
}

func (s *statementRecorder) Match(expected, actual string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !strings.Contains(actual, expected) {
		return fmt.Errorf("statement %q does not contain %q", actual, expected)
	}
	s.stmts = append(s.stmts, actual)
	return nil
}

func newRecordingMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, *statementRecorder) {
	t.Helper()
	rec := &statementRecorder{}
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherFunc(rec.Match)))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock, rec
}

func TestBatchSize(t *testing.T) {
	assert.Equal(t, 90, BatchSize(23, DefaultBatchLimits))
	assert.Equal(t, 1000, BatchSize(2, DefaultBatchLimits))
	assert.Equal(t, 1, BatchSize(5000, DefaultBatchLimits))
	for width := 1; width <= 200; width++ {
		size := BatchSize(width, DefaultBatchLimits)
		assert.LessOrEqual(t, size*width, 2100, "width %d", width)
	}
}

func TestWriteBatchSplitsByParameterBudget(t *testing.T) {
	db, mock, rec := newRecordingMock(t)
	writer := NewBulkWriter(db, DefaultBatchLimits, nil, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(0, 90))
	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(0, 90))
	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(0, 70))
	mock.ExpectCommit()

	written, err := writer.WriteBatch(context.Background(), "students", "tenant-1", wideRecords(250))
	require.NoError(t, err)
	assert.Equal(t, int64(250), written)
	require.NoError(t, mock.ExpectationsWereMet())

	require.Len(t, rec.stmts, 3)
	var rows []int
	for _, stmt := range rec.stmts {
		params := strings.Count(stmt, "$")
		assert.LessOrEqual(t, params, 2100)
		assert.Zero(t, params%23)
		rows = append(rows, params/23)
		assert.Contains(t, stmt, "ON CONFLICT (tenant_id, external_id) DO UPDATE SET c1 = EXCLUDED.c1")
	}
	assert.Equal(t, []int{90, 90, 70}, rows)
}

func TestWriteBatchRollsBackOnFailure(t *testing.T) {
	db, mock, _ := newRecordingMock(t)
	writer := NewBulkWriter(db, DefaultBatchLimits, nil, nil)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO students").WillReturnResult(sqlmock.NewResult(0, 90))
	mock.ExpectExec("INSERT INTO students").WillReturnError(&pq.Error{Code: "23505", Constraint: "students_tenant_external_key"})
	mock.ExpectRollback()

	written, err := writer.WriteBatch(context.Background(), "students", "tenant-1", wideRecords(250))
	require.Error(t, err)
	assert.Zero(t, written)
	assert.True(t, errors.Is(err, appErrors.ErrPersistence))
	assert.Contains(t, err.Error(), "batch 1")
	assert.Contains(t, err.Error(), "unique_violation")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBatchBindsFixedColumns(t *testing.T) {
	db, mock, _ := newRecordingMock(t)
	writer := NewBulkWriter(db, DefaultBatchLimits, nil, nil)
	writer.newID = func() string { return "uuid-1" }

	records := []Record{
		models.OrgUnit{ExternalID: "sch-1", Name: "North", Kind: "school"},
		models.OrgUnit{ExternalID: "sch-1", Name: "North High", Kind: "school"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO org_units (id, tenant_id, external_id, name, kind, parent_id, synced_at) VALUES ($1, $2, $3, $4, $5, $6, $7)").
		WithArgs("uuid-1", "tenant-1", "sch-1", "North High", "school", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	written, err := writer.WriteBatch(context.Background(), "org_units", "tenant-1", records)
	require.NoError(t, err)
	assert.Equal(t, int64(1), written)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteBatchRejectsUnknownTable(t *testing.T) {
	db, _, _ := newRecordingMock(t)
	writer := NewBulkWriter(db, DefaultBatchLimits, nil, nil)

	_, err := writer.WriteBatch(context.Background(), "users; DROP TABLE x", "tenant-1", wideRecords(1))
	assert.True(t, errors.Is(err, appErrors.ErrPersistence))
}

func TestWriteBatchEmpty(t *testing.T) {
	writer := NewBulkWriter(nil, DefaultBatchLimits, nil, nil)
	written, err := writer.WriteBatch(context.Background(), "students", "tenant-1", nil)
	require.NoError(t, err)
	assert.Zero(t, written)
}
