package service

import (
	"context"
	"encoding/json"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/internal/sis"
)

// StaffSyncService syncs staff and enriches each member with the detail
// endpoint.
type StaffSyncService struct {
	syncBase
	source  listSource
	details detailSource
}

// NewStaffSyncService constructs the staff syncer. details may be nil to skip
// enrichment.
func NewStaffSyncService(source listSource, details detailSource, deps SyncDeps) *StaffSyncService {
	return &StaffSyncService{syncBase: newSyncBase(models.DomainStaff, deps), source: source, details: details}
}

// Sync implements DomainSyncer. Members whose detail the upstream no longer
// has are persisted from the list fields alone and counted as warnings.
func (s *StaffSyncService) Sync(ctx context.Context, tenant models.TenantConfig, scope models.SyncScope) (*models.SyncResult, error) {
	result, started := s.start()

	items, err := s.source.FetchAll(ctx, tenant, sis.StaffEndpoint, listParams(tenant, scope))
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	rows, err := decodeItems[sis.StaffResource](sis.StaffEndpoint.Name, items)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	result.Fetched = len(rows)

	ids := make([]string, 0, len(rows))
	schools := make([]string, 0, len(rows))
	for _, row := range rows {
		if row.ID != "" {
			ids = append(ids, row.ID.String())
		}
		schools = append(schools, row.SchoolID.String())
	}

	details, err := s.enrich(ctx, tenant, ids, result)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	refs, err := s.resolve(ctx, models.RefOrgUnits, tenant, schools)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}

	staff := make([]models.Staff, 0, len(rows))
	missed := make([]bool, 0, len(rows))
	for _, row := range rows {
		orgUnit, miss := link(refs, row.SchoolID)
		missed = append(missed, miss)
		member := models.Staff{
			ExternalID: row.ID.String(),
			OrgUnitID:  orgUnit,
			FirstName:  row.FirstName,
			LastName:   row.LastName,
			Email:      row.Email.Ptr(),
		}
		if detail, ok := details[row.ID.String()]; ok {
			member.Title = detail.Title.Ptr()
			member.Department = detail.Department.Ptr()
			member.HireDate = detail.HireDate.Ptr()
		}
		staff = append(staff, member)
	}
	if err := persist(ctx, s.syncBase, tenant, string(models.RefStaff), staff, missed, result); err != nil {
		return s.abort(tenant, result, started, err)
	}

	s.log(tenant).Infow("staff synced", "fetched", result.Fetched, "persisted", result.Persisted, "skipped", result.Skipped, "warnings", result.Warnings)
	return s.finish(result, started), nil
}

func (s *StaffSyncService) enrich(ctx context.Context, tenant models.TenantConfig, ids []string, result *models.SyncResult) (map[string]sis.StaffDetailResource, error) {
	out := make(map[string]sis.StaffDetailResource, len(ids))
	if s.details == nil || len(ids) == 0 {
		return out, nil
	}
	fetched, err := s.details.Fetch(ctx, tenant, sis.StaffDetailPath, ids)
	if err != nil {
		return nil, err
	}
	result.Warnings += len(fetched.Missing)
	for id, body := range fetched.Bodies {
		var detail sis.StaffDetailResource
		if err := json.Unmarshal(body, &detail); err != nil {
			result.Warnings++
			s.log(tenant).Warnw("staff detail unreadable", "external_id", id, "error", err)
			continue
		}
		out[id] = detail
	}
	return out, nil
}
