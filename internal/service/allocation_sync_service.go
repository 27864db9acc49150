package service

import (
	"context"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/internal/sis"
)

const allocationsTable = "allocations"

// AllocationSyncService places students in classes from the enrollments list.
type AllocationSyncService struct {
	syncBase
	source listSource
}

// NewAllocationSyncService constructs the allocations syncer.
func NewAllocationSyncService(source listSource, deps SyncDeps) *AllocationSyncService {
	return &AllocationSyncService{syncBase: newSyncBase(models.DomainAllocations, deps), source: source}
}

// Sync implements DomainSyncer.
func (s *AllocationSyncService) Sync(ctx context.Context, tenant models.TenantConfig, scope models.SyncScope) (*models.SyncResult, error) {
	result, started := s.start()

	items, err := s.source.FetchAll(ctx, tenant, sis.EnrollmentsEndpoint, listParams(tenant, scope))
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	rows, err := decodeItems[sis.EnrollmentResource](sis.EnrollmentsEndpoint.Name, items)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	result.Fetched = len(rows)

	classKeys := make([]string, 0, len(rows))
	studentKeys := make([]string, 0, len(rows))
	for _, row := range rows {
		classKeys = append(classKeys, row.ClassID.String())
		studentKeys = append(studentKeys, row.StudentID.String())
	}
	classRefs, err := s.resolve(ctx, models.RefClasses, tenant, classKeys)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	studentRefs, err := s.resolve(ctx, models.RefStudents, tenant, studentKeys)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}

	allocations := make([]models.Allocation, 0, len(rows))
	missed := make([]bool, 0, len(rows))
	for _, row := range rows {
		class, classMiss := link(classRefs, row.ClassID)
		student, studentMiss := link(studentRefs, row.StudentID)
		missed = append(missed, classMiss || studentMiss)
		allocations = append(allocations, models.Allocation{
			ExternalID: row.ID.String(),
			ClassID:    class,
			StudentID:  student,
			StartDate:  row.StartDate.Ptr(),
			EndDate:    row.EndDate.Ptr(),
		})
	}
	if err := persist(ctx, s.syncBase, tenant, allocationsTable, allocations, missed, result); err != nil {
		return s.abort(tenant, result, started, err)
	}

	s.log(tenant).Infow("allocations synced", "fetched", result.Fetched, "persisted", result.Persisted, "skipped", result.Skipped)
	return s.finish(result, started), nil
}
