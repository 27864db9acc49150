package service

import (
	"context"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/internal/sis"
)

// ClassSyncService syncs teaching groups with their school and teacher.
type ClassSyncService struct {
	syncBase
	source listSource
}

// NewClassSyncService constructs the classes syncer.
func NewClassSyncService(source listSource, deps SyncDeps) *ClassSyncService {
	return &ClassSyncService{syncBase: newSyncBase(models.DomainClasses, deps), source: source}
}

// Sync implements DomainSyncer.
func (s *ClassSyncService) Sync(ctx context.Context, tenant models.TenantConfig, scope models.SyncScope) (*models.SyncResult, error) {
	result, started := s.start()

	items, err := s.source.FetchAll(ctx, tenant, sis.ClassesEndpoint, listParams(tenant, scope))
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	rows, err := decodeItems[sis.ClassResource](sis.ClassesEndpoint.Name, items)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	result.Fetched = len(rows)

	schools := make([]string, 0, len(rows))
	teachers := make([]string, 0, len(rows))
	for _, row := range rows {
		schools = append(schools, row.SchoolID.String())
		teachers = append(teachers, row.TeacherID.String())
	}
	orgRefs, err := s.resolve(ctx, models.RefOrgUnits, tenant, schools)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	staffRefs, err := s.resolve(ctx, models.RefStaff, tenant, teachers)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}

	classes := make([]models.Class, 0, len(rows))
	missed := make([]bool, 0, len(rows))
	for _, row := range rows {
		orgUnit, orgMiss := link(orgRefs, row.SchoolID)
		teacher, teacherMiss := link(staffRefs, row.TeacherID)
		missed = append(missed, orgMiss || teacherMiss)
		classes = append(classes, models.Class{
			ExternalID: row.ID.String(),
			OrgUnitID:  orgUnit,
			TeacherID:  teacher,
			Name:       row.Name,
			Subject:    row.Subject,
			GradeLevel: row.GradeLevel.String(),
			Period:     row.Period.String(),
		})
	}
	if err := persist(ctx, s.syncBase, tenant, string(models.RefClasses), classes, missed, result); err != nil {
		return s.abort(tenant, result, started, err)
	}

	s.log(tenant).Infow("classes synced", "fetched", result.Fetched, "persisted", result.Persisted, "skipped", result.Skipped)
	return s.finish(result, started), nil
}
