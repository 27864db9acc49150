package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

type tenantConfigStub struct {
	configs []models.TenantConfig
	err     error
}

func (s *tenantConfigStub) ListByTenant(ctx context.Context, tenantID string) ([]models.TenantConfig, error) {
	return s.configs, s.err
}

type syncerStub struct {
	domain  models.Domain
	err     error
	partial *models.SyncResult
	order   *[]models.Domain
	tenant  models.TenantConfig
}

func (s *syncerStub) Domain() models.Domain { return s.domain }

func (s *syncerStub) Sync(ctx context.Context, tenant models.TenantConfig, scope models.SyncScope) (*models.SyncResult, error) {
	*s.order = append(*s.order, s.domain)
	s.tenant = tenant
	if s.err != nil {
		return s.partial, s.err
	}
	return &models.SyncResult{Domain: s.domain, Fetched: 1, Persisted: 1}, nil
}

type domainObserverStub struct {
	domains   []models.Domain
	failed    int
	persisted int64
}

func (o *domainObserverStub) ObserveDomain(domain models.Domain, result *models.SyncResult, duration time.Duration, err error) {
	o.domains = append(o.domains, domain)
	if result != nil {
		o.persisted += result.Persisted
	}
	if err != nil {
		o.failed++
	}
}

func validConfig(provider models.Provider) models.TenantConfig {
	return models.TenantConfig{
		TenantID:     "tenant-1",
		Provider:     provider,
		BaseURL:      "https://sis.example.org",
		TokenURL:     "https://sis.example.org/oauth/token",
		ClientID:     "client",
		ClientSecret: "secret",
		Active:       true,
	}
}

func newOrchestratorFixture(errs map[models.Domain]error) (*SyncOrchestrator, *[]models.Domain, map[models.Domain]*syncerStub, *domainObserverStub) {
	order := &[]models.Domain{}
	stubs := map[models.Domain]*syncerStub{}
	var syncers []DomainSyncer
	for _, d := range models.DomainOrder {
		stub := &syncerStub{domain: d, err: errs[d], order: order}
		stubs[d] = stub
		syncers = append(syncers, stub)
	}
	tenants := &tenantConfigStub{configs: []models.TenantConfig{
		validConfig(models.ProviderRosterSIS),
		validConfig(models.ProviderAssessmentPlatform),
	}}
	observer := &domainObserverStub{}
	return NewSyncOrchestrator(tenants, syncers, observer, nil, time.Minute, nil), order, stubs, observer
}

func TestRunTenantRunsDomainsInDependencyOrder(t *testing.T) {
	orch, order, stubs, observer := newOrchestratorFixture(nil)

	requested := []models.Domain{models.DomainAssessments, models.DomainStudents, models.DomainOrganizations}
	results, err := orch.RunTenant(context.Background(), "tenant-1", requested, models.SyncScope{}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []models.Domain{models.DomainOrganizations, models.DomainStudents, models.DomainAssessments}, *order)
	assert.Len(t, results, 3)
	assert.Equal(t, models.ProviderAssessmentPlatform, stubs[models.DomainAssessments].tenant.Provider)
	assert.Equal(t, models.ProviderRosterSIS, stubs[models.DomainStudents].tenant.Provider)
	assert.Equal(t, *order, observer.domains)
}

func TestRunTenantStopsAtFirstFailure(t *testing.T) {
	failure := appErrors.Clone(appErrors.ErrPersistence, "batch 2")
	orch, order, _, observer := newOrchestratorFixture(map[models.Domain]error{models.DomainStaff: failure})

	results, err := orch.RunTenant(context.Background(), "tenant-1", nil, models.SyncScope{}, RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrPersistence))
	assert.Equal(t, []models.Domain{models.DomainOrganizations, models.DomainStudents, models.DomainStaff}, *order)
	assert.Len(t, results, 2)
	assert.Equal(t, 1, observer.failed)
}

func TestRunTenantKeepsCommittedCountsOfFailingDomain(t *testing.T) {
	failure := appErrors.Clone(appErrors.ErrParse, "attendance offset 5000")
	orch, _, stubs, observer := newOrchestratorFixture(map[models.Domain]error{models.DomainAttendance: failure})
	stubs[models.DomainAttendance].partial = &models.SyncResult{Domain: models.DomainAttendance, Fetched: 5000, Persisted: 4990, Skipped: 10}

	results, err := orch.RunTenant(context.Background(), "tenant-1", []models.Domain{models.DomainStudents, models.DomainAttendance}, models.SyncScope{}, RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrParse))
	require.Len(t, results, 2)
	assert.Equal(t, models.DomainAttendance, results[1].Domain)
	assert.Equal(t, int64(4990), results[1].Persisted)
	assert.Equal(t, int64(4991), observer.persisted)
}

func TestRunTenantRequiresProviderConfig(t *testing.T) {
	order := &[]models.Domain{}
	syncer := &syncerStub{domain: models.DomainAssessments, order: order}
	tenants := &tenantConfigStub{configs: []models.TenantConfig{validConfig(models.ProviderRosterSIS)}}
	orch := NewSyncOrchestrator(tenants, []DomainSyncer{syncer}, nil, nil, 0, nil)

	_, err := orch.RunTenant(context.Background(), "tenant-1", []models.Domain{models.DomainAssessments}, models.SyncScope{}, RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, *order)
}

func TestRunTenantRejectsInvalidConfig(t *testing.T) {
	broken := validConfig(models.ProviderRosterSIS)
	broken.TokenURL = "not a url"
	orch := NewSyncOrchestrator(&tenantConfigStub{configs: []models.TenantConfig{broken}}, nil, nil, nil, 0, nil)

	_, err := orch.RunTenant(context.Background(), "tenant-1", nil, models.SyncScope{}, RunOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}

func TestPlanExpandsPrerequisites(t *testing.T) {
	orch := NewSyncOrchestrator(&tenantConfigStub{}, nil, nil, nil, 0, nil)

	plan, err := orch.Plan([]models.Domain{models.DomainAllocations}, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, []models.Domain{models.DomainAllocations}, plan)

	plan, err = orch.Plan([]models.Domain{models.DomainAllocations}, RunOptions{WithPrerequisites: true})
	require.NoError(t, err)
	assert.Equal(t, []models.Domain{
		models.DomainOrganizations,
		models.DomainStudents,
		models.DomainStaff,
		models.DomainClasses,
		models.DomainAllocations,
	}, plan)

	_, err = orch.Plan([]models.Domain{"grades"}, RunOptions{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
}
