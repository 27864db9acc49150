package service

import (
	"context"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/internal/sis"
)

// StudentSyncService syncs learners and links them to their school.
type StudentSyncService struct {
	syncBase
	source listSource
}

// NewStudentSyncService constructs the students syncer.
func NewStudentSyncService(source listSource, deps SyncDeps) *StudentSyncService {
	return &StudentSyncService{syncBase: newSyncBase(models.DomainStudents, deps), source: source}
}

// Sync implements DomainSyncer.
func (s *StudentSyncService) Sync(ctx context.Context, tenant models.TenantConfig, scope models.SyncScope) (*models.SyncResult, error) {
	result, started := s.start()

	items, err := s.source.FetchAll(ctx, tenant, sis.StudentsEndpoint, listParams(tenant, scope))
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	rows, err := decodeItems[sis.StudentResource](sis.StudentsEndpoint.Name, items)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	result.Fetched = len(rows)

	schools := make([]string, 0, len(rows))
	for _, row := range rows {
		schools = append(schools, row.SchoolID.String())
	}
	refs, err := s.resolve(ctx, models.RefOrgUnits, tenant, schools)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}

	students := make([]models.Student, 0, len(rows))
	missed := make([]bool, 0, len(rows))
	for _, row := range rows {
		orgUnit, miss := link(refs, row.SchoolID)
		missed = append(missed, miss)
		students = append(students, models.Student{
			ExternalID: row.ID.String(),
			OrgUnitID:  orgUnit,
			FirstName:  row.FirstName,
			LastName:   row.LastName,
			GradeLevel: row.GradeLevel.String(),
			BirthDate:  row.DateOfBirth.Ptr(),
			Email:      row.Email.Ptr(),
		})
	}
	if err := persist(ctx, s.syncBase, tenant, string(models.RefStudents), students, missed, result); err != nil {
		return s.abort(tenant, result, started, err)
	}

	s.log(tenant).Infow("students synced", "fetched", result.Fetched, "persisted", result.Persisted, "skipped", result.Skipped)
	return s.finish(result, started), nil
}
