package service

import (
	"context"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/internal/sis"
)

// OrganizationSyncService mirrors the school hierarchy into org_units.
type OrganizationSyncService struct {
	syncBase
	source listSource
}

// NewOrganizationSyncService constructs the organizations syncer.
func NewOrganizationSyncService(source listSource, deps SyncDeps) *OrganizationSyncService {
	return &OrganizationSyncService{syncBase: newSyncBase(models.DomainOrganizations, deps), source: source}
}

// Sync writes every unit without a parent first, then resolves parent keys
// against the freshly written rows and writes the units that have one.
func (s *OrganizationSyncService) Sync(ctx context.Context, tenant models.TenantConfig, scope models.SyncScope) (*models.SyncResult, error) {
	result, started := s.start()

	params := listParams(tenant, scope)
	params.Del("school_id")
	items, err := s.source.FetchAll(ctx, tenant, sis.SchoolsEndpoint, params)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	schools, err := decodeItems[sis.SchoolResource](sis.SchoolsEndpoint.Name, items)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	result.Fetched = len(schools)

	// Rejected units are counted once here and left out of the second pass.
	units := make([]models.OrgUnit, len(schools))
	accepted := make([]bool, len(schools))
	valid := make([]models.OrgUnit, 0, len(schools))
	parents := make([]string, 0, len(schools))
	for i, school := range schools {
		units[i] = models.OrgUnit{
			ExternalID: school.ID.String(),
			Name:       school.Name,
			Kind:       school.Type,
		}
		if !s.accept(tenant, units[i]) {
			result.Skipped++
			continue
		}
		accepted[i] = true
		valid = append(valid, units[i])
		if school.ParentID != "" {
			parents = append(parents, school.ParentID.String())
		}
	}
	if err := persist(ctx, s.syncBase, tenant, string(models.RefOrgUnits), valid, nil, result); err != nil {
		return s.abort(tenant, result, started, err)
	}
	if len(parents) == 0 {
		return s.finish(result, started), nil
	}

	refs, err := s.resolve(ctx, models.RefOrgUnits, tenant, parents)
	if err != nil {
		return s.abort(tenant, result, started, err)
	}
	linked := make([]models.OrgUnit, 0, len(parents))
	for i, school := range schools {
		if school.ParentID == "" || !accepted[i] {
			continue
		}
		parent, miss := link(refs, school.ParentID)
		if miss {
			result.Skipped++
			continue
		}
		unit := units[i]
		unit.ParentID = parent
		linked = append(linked, unit)
	}
	if len(linked) > 0 {
		// The second pass updates rows already counted as persisted.
		counted := result.Persisted
		if err := persist(ctx, s.syncBase, tenant, string(models.RefOrgUnits), linked, nil, result); err != nil {
			return s.abort(tenant, result, started, err)
		}
		result.Persisted = counted
	}

	s.log(tenant).Infow("organizations synced", "fetched", result.Fetched, "persisted", result.Persisted, "skipped", result.Skipped)
	return s.finish(result, started), nil
}
