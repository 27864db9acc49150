package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/pkg/database"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

// DefaultPropagateTimeout bounds one propagation.
const DefaultPropagateTimeout = 10 * time.Minute

const propagateInsertQuery = `INSERT INTO assessment_reports (id, tenant_id, component_id, student_id, period, category, subject, grade_level, score, benchmark, created_at, updated_at)
SELECT gen_random_uuid(), c.tenant_id, c.id, c.student_id, c.period, c.category, c.subject, c.grade_level, c.score, b.benchmark, NOW(), NOW()
FROM assessment_components c
LEFT JOIN assessment_benchmarks b
  ON b.tenant_id = c.tenant_id AND b.period = c.period AND b.category = c.category AND b.subject = c.subject
WHERE c.tenant_id = $1
  AND c.grade_level = ANY($2)
  AND NOT EXISTS (SELECT 1 FROM assessment_reports r WHERE r.component_id = c.id)`

const propagateRefreshQuery = `UPDATE assessment_reports r
SET benchmark = b.benchmark, updated_at = NOW()
FROM assessment_components c
LEFT JOIN assessment_benchmarks b
  ON b.tenant_id = c.tenant_id AND b.period = c.period AND b.category = c.category AND b.subject = c.subject
WHERE r.component_id = c.id
  AND r.tenant_id = $1
  AND r.benchmark IS DISTINCT FROM b.benchmark`

// ReportingRepository maintains the assessment reporting table derived from
// persisted assessment components.
type ReportingRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewReportingRepository constructs the repository.
func NewReportingRepository(db *sqlx.DB, timeout time.Duration) *ReportingRepository {
	if timeout <= 0 {
		timeout = DefaultPropagateTimeout
	}
	return &ReportingRepository{db: db, timeout: timeout}
}

// Propagate copies qualifying components that are not yet reported and
// refreshes the benchmark of reported rows whose mapping changed. The
// presence check and the insert are one statement, so a second run over
// unchanged input inserts nothing. Both steps share one transaction that
// runs with its own deadline, detached from the caller's cancellation.
func (r *ReportingRepository) Propagate(ctx context.Context, scope models.ReportingScope) (*models.PropagateResult, error) {
	if scope.TenantID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tenant scope is required")
	}
	result := &models.PropagateResult{}
	if len(scope.GradeLevels) == 0 {
		return result, nil
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	err := database.WithTx(runCtx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(runCtx, fmt.Sprintf("SET LOCAL statement_timeout = %d", r.timeout.Milliseconds())); err != nil {
			return fmt.Errorf("set statement timeout: %w", err)
		}

		res, err := tx.ExecContext(runCtx, propagateInsertQuery, scope.TenantID, pq.Array(scope.GradeLevels))
		if err != nil {
			return fmt.Errorf("insert reporting rows: %w", err)
		}
		if result.Inserted, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.ExecContext(runCtx, propagateRefreshQuery, scope.TenantID)
		if err != nil {
			return fmt.Errorf("refresh reporting benchmarks: %w", err)
		}
		if result.Refreshed, err = res.RowsAffected(); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "propagate assessment reports for tenant %s", scope.TenantID)
	}
	return result, nil
}
