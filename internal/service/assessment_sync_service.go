package service

import (
	"context"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/internal/sis"
)

const assessmentTable = "assessment_components"

// AssessmentSyncService syncs assessment results from the assessment platform
// and propagates them into the reporting table.
type AssessmentSyncService struct {
	syncBase
	source      listSource
	reporting   reportingPropagator
	gradeLevels []string
	observer    propagationObserver
}

type propagationObserver interface {
	ObservePropagation(result *models.PropagateResult)
}

// NewAssessmentSyncService constructs the assessments syncer. Only components
// in gradeLevels reach the reporting table.
func NewAssessmentSyncService(source listSource, reporting reportingPropagator, gradeLevels []string, deps SyncDeps) *AssessmentSyncService {
	return &AssessmentSyncService{
		syncBase:    newSyncBase(models.DomainAssessments, deps),
		source:      source,
		reporting:   reporting,
		gradeLevels: gradeLevels,
	}
}

// WithPropagationObserver reports every propagation to o.
func (s *AssessmentSyncService) WithPropagationObserver(o propagationObserver) *AssessmentSyncService {
	s.observer = o
	return s
}

// Sync writes one transaction per category to bound how much a single
// transaction holds, then propagates once every category is committed.
func (s *AssessmentSyncService) Sync(ctx context.Context, tenant models.TenantConfig, scope models.SyncScope) (*models.SyncResult, error) {
	result, started := s.start()

	items, err := s.source.FetchAll(ctx, tenant, sis.ResultsEndpoint, listParams(tenant, scope))
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	rows, err := decodeItems[sis.ResultResource](sis.ResultsEndpoint.Name, items)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	result.Fetched = len(rows)

	categories, byCategory := groupByCategory(rows)
	for _, category := range categories {
		group := byCategory[category]
		if err := s.writeCategory(ctx, tenant, group, result); err != nil {
			return s.abort(tenant, result, started, err)
		}
		s.log(tenant).Debugw("assessment category written", "category", category, "rows", len(group))
	}

	if s.reporting != nil {
		propagated, err := s.reporting.Propagate(ctx, models.ReportingScope{TenantID: tenant.TenantID, GradeLevels: s.gradeLevels})
		if err != nil {
			return s.abort(tenant, result, started, err)
		}
		result.Propagated = propagated.Affected()
		if s.observer != nil {
			s.observer.ObservePropagation(propagated)
		}
	}

	s.log(tenant).Infow("assessments synced", "fetched", result.Fetched, "persisted", result.Persisted, "skipped", result.Skipped, "propagated", result.Propagated)
	return s.finish(result, started), nil
}

func (s *AssessmentSyncService) writeCategory(ctx context.Context, tenant models.TenantConfig, rows []sis.ResultResource, result *models.SyncResult) error {
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.StudentID.String())
	}
	refs, err := s.resolve(ctx, models.RefStudents, tenant, keys)
	if err != nil {
		return err
	}

	components := make([]models.AssessmentComponent, 0, len(rows))
	missed := make([]bool, 0, len(rows))
	for _, row := range rows {
		student, miss := link(refs, row.StudentID)
		missed = append(missed, miss)
		components = append(components, models.AssessmentComponent{
			ExternalID: row.ID.String(),
			StudentID:  student,
			Period:     row.Period.String(),
			Category:   row.Category,
			Subject:    row.Subject,
			GradeLevel: row.GradeLevel.String(),
			Score:      row.Score,
			MaxScore:   row.MaxScore,
		})
	}
	return persist(ctx, s.syncBase, tenant, assessmentTable, components, missed, result)
}

// groupByCategory keeps categories in first-seen order.
func groupByCategory(rows []sis.ResultResource) ([]string, map[string][]sis.ResultResource) {
	var order []string
	groups := make(map[string][]sis.ResultResource)
	for _, row := range rows {
		if _, ok := groups[row.Category]; !ok {
			order = append(order, row.Category)
		}
		groups[row.Category] = append(groups[row.Category], row)
	}
	return order, groups
}
