package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-sync/pkg/database"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

// Record is a decoded row that can be upserted by natural key.
type Record interface {
	NaturalKey() string
	Columns() []string
	Values() []interface{}
}

// BatchLimits bounds the bound parameters of one statement.
type BatchLimits struct {
	ParamCeiling int
	Reserved     int
	MaxRows      int
}

// DefaultBatchLimits keeps every statement at or below 2070 parameters.
var DefaultBatchLimits = BatchLimits{ParamCeiling: 2100, Reserved: 30, MaxRows: 1000}

// BatchSize returns how many records of the given width fit in one statement:
// min(MaxRows, floor((ParamCeiling - Reserved) / width)), never below one.
func BatchSize(width int, limits BatchLimits) int {
	if width <= 0 {
		width = 1
	}
	budget := limits.ParamCeiling - limits.Reserved
	if budget < width {
		budget = width
	}
	size := budget / width
	if limits.MaxRows > 0 && size > limits.MaxRows {
		size = limits.MaxRows
	}
	if size < 1 {
		size = 1
	}
	return size
}

// fixedColumns precede the record columns in every upsert.
var fixedColumns = []string{"id", "tenant_id", "external_id"}

const syncedAtColumn = "synced_at"

// BatchObserver receives the outcome of every executed batch.
type BatchObserver func(table string, rows int, duration time.Duration)

// BulkWriter upserts records with multi-row statements sized to the
// parameter budget. Each WriteBatch call is one transaction.
type BulkWriter struct {
	db       *sqlx.DB
	limits   BatchLimits
	now      func() time.Time
	newID    func() string
	observer BatchObserver
	logger   *zap.Logger
}

// NewBulkWriter constructs a BulkWriter. observer may be nil.
func NewBulkWriter(db *sqlx.DB, limits BatchLimits, observer BatchObserver, logger *zap.Logger) *BulkWriter {
	if limits.ParamCeiling <= 0 {
		limits = DefaultBatchLimits
	}
	if observer == nil {
		observer = func(string, int, time.Duration) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkWriter{
		db:       db,
		limits:   limits,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		observer: observer,
		logger:   logger,
	}
}

// Width reports the bound parameters one record of columns occupies.
func Width(columns []string) int {
	return len(fixedColumns) + len(columns) + 1
}

// WriteBatch upserts records into table for tenantID keyed on
// (tenant_id, external_id). Records sharing a natural key collapse to the
// last one. Any failing batch rolls back the whole call and is reported as a
// persistence error carrying the batch index.
func (w *BulkWriter) WriteBatch(ctx context.Context, table, tenantID string, records []Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	if !writableTables[table] {
		return 0, appErrors.Clone(appErrors.ErrPersistence, fmt.Sprintf("table %q is not writable", table))
	}

	records = dedupeByKey(records)
	columns := records[0].Columns()
	size := BatchSize(Width(columns), w.limits)
	upsert := upsertStatement(table, columns)
	syncedAt := w.now()

	var written int64
	err := database.WithTx(ctx, w.db, func(tx *sqlx.Tx) error {
		for index, start := 0, 0; start < len(records); index, start = index+1, start+size {
			end := start + size
			if end > len(records) {
				end = len(records)
			}
			batch := records[start:end]

			query, args := upsert.build(len(batch), func(row int) []interface{} {
				rec := batch[row]
				vals := make([]interface{}, 0, Width(columns))
				vals = append(vals, w.newID(), tenantID, rec.NaturalKey())
				vals = append(vals, rec.Values()...)
				return append(vals, syncedAt)
			})

			started := time.Now()
			res, err := tx.ExecContext(ctx, query, args...)
			if err != nil {
				return persistenceError(err, table, index, len(batch))
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return persistenceError(err, table, index, len(batch))
			}
			written += affected
			w.observer(table, len(batch), time.Since(started))
		}
		return nil
	})
	if err != nil {
		w.logger.Sugar().Errorw("bulk write rolled back", "table", table, "tenant_id", tenantID, "records", len(records), "error", err)
		return 0, err
	}

	w.logger.Sugar().Infow("bulk write committed", "table", table, "tenant_id", tenantID, "records", len(records), "batch_size", size, "written", written)
	return written, nil
}

var writableTables = map[string]bool{
	"org_units":             true,
	"students":              true,
	"staff":                 true,
	"classes":               true,
	"allocations":           true,
	"attendance_events":     true,
	"assessment_components": true,
}

type upsertSQL struct {
	prefix string
	suffix string
	width  int
}

func upsertStatement(table string, columns []string) upsertSQL {
	all := make([]string, 0, Width(columns))
	all = append(all, fixedColumns...)
	all = append(all, columns...)
	all = append(all, syncedAtColumn)

	updates := make([]string, 0, len(columns)+1)
	for _, col := range append(append([]string(nil), columns...), syncedAtColumn) {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	return upsertSQL{
		prefix: fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(all, ", ")),
		suffix: fmt.Sprintf(" ON CONFLICT (tenant_id, external_id) DO UPDATE SET %s", strings.Join(updates, ", ")),
		width:  len(all),
	}
}

func (u upsertSQL) build(rows int, values func(row int) []interface{}) (string, []interface{}) {
	var sb strings.Builder
	args := make([]interface{}, 0, rows*u.width)
	sb.WriteString(u.prefix)
	for row := 0; row < rows; row++ {
		if row > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(")
		for col := 0; col < u.width; col++ {
			if col > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", row*u.width+col+1)
		}
		sb.WriteString(")")
		args = append(args, values(row)...)
	}
	sb.WriteString(u.suffix)
	return sb.String(), args
}

func dedupeByKey(records []Record) []Record {
	last := make(map[string]int, len(records))
	for i, rec := range records {
		last[rec.NaturalKey()] = i
	}
	if len(last) == len(records) {
		return records
	}
	out := make([]Record, 0, len(last))
	for i, rec := range records {
		if last[rec.NaturalKey()] == i {
			out = append(out, rec)
		}
	}
	return out
}

func persistenceError(err error, table string, index, rows int) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return appErrors.WrapAs(appErrors.ErrPersistence, err, "write %s batch %d (%d rows): %s %s", table, index, rows, pqErr.Code.Name(), pqErr.Constraint)
	}
	return appErrors.WrapAs(appErrors.ErrPersistence, err, "write %s batch %d (%d rows)", table, index, rows)
}
