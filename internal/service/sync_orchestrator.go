package service

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
	"github.com/noah-isme/sis-sync/pkg/logger"
)

type tenantConfigSource interface {
	ListByTenant(ctx context.Context, tenantID string) ([]models.TenantConfig, error)
}

type domainObserver interface {
	ObserveDomain(domain models.Domain, result *models.SyncResult, duration time.Duration, err error)
}

// prerequisites lists the domains whose rows a domain resolves against.
var prerequisites = map[models.Domain][]models.Domain{
	models.DomainStudents:    {models.DomainOrganizations},
	models.DomainStaff:       {models.DomainOrganizations},
	models.DomainClasses:     {models.DomainOrganizations, models.DomainStaff},
	models.DomainAllocations: {models.DomainClasses, models.DomainStudents},
	models.DomainAttendance:  {models.DomainStudents, models.DomainClasses},
	models.DomainAssessments: {models.DomainStudents},
}

// RunOptions tune one tenant run.
type RunOptions struct {
	// WithPrerequisites also runs every domain the requested ones resolve
	// against.
	WithPrerequisites bool
}

// SyncOrchestrator runs the requested domains of one tenant in dependency
// order and stops at the first failure.
type SyncOrchestrator struct {
	tenants  tenantConfigSource
	syncers  map[models.Domain]DomainSyncer
	metrics  domainObserver
	validate *validator.Validate
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSyncOrchestrator wires the domain syncers. timeout bounds a whole run;
// zero disables it.
func NewSyncOrchestrator(tenants tenantConfigSource, syncers []DomainSyncer, metrics domainObserver, validate *validator.Validate, timeout time.Duration, logger *zap.Logger) *SyncOrchestrator {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byDomain := make(map[models.Domain]DomainSyncer, len(syncers))
	for _, s := range syncers {
		byDomain[s.Domain()] = s
	}
	return &SyncOrchestrator{
		tenants:  tenants,
		syncers:  byDomain,
		metrics:  metrics,
		validate: validate,
		timeout:  timeout,
		logger:   logger,
	}
}

// Plan returns the domains a run would execute, in execution order. An empty
// request selects every domain.
func (o *SyncOrchestrator) Plan(domains []models.Domain, opts RunOptions) ([]models.Domain, error) {
	if len(domains) == 0 {
		return append([]models.Domain(nil), models.DomainOrder...), nil
	}
	selected := make(map[models.Domain]bool, len(domains))
	var include func(d models.Domain)
	include = func(d models.Domain) {
		if selected[d] {
			return
		}
		selected[d] = true
		if opts.WithPrerequisites {
			for _, dep := range prerequisites[d] {
				include(dep)
			}
		}
	}
	for _, d := range domains {
		if !d.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown domain %q", d))
		}
		include(d)
	}
	plan := make([]models.Domain, 0, len(selected))
	for _, d := range models.DomainOrder {
		if selected[d] {
			plan = append(plan, d)
		}
	}
	return plan, nil
}

// RunTenant loads the tenant's configurations and runs the planned domains.
// Results of the domains that ran are returned even when one fails; the
// failing domain contributes the counts it committed before the error.
func (o *SyncOrchestrator) RunTenant(ctx context.Context, tenantID string, domains []models.Domain, scope models.SyncScope, opts RunOptions) ([]models.SyncResult, error) {
	plan, err := o.Plan(domains, opts)
	if err != nil {
		return nil, err
	}
	configs, err := o.configs(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	results := make([]models.SyncResult, 0, len(plan))
	for _, domain := range plan {
		log := logger.ForTenant(o.logger, tenantID, string(domain)).Sugar()

		syncer, ok := o.syncers[domain]
		if !ok {
			return results, appErrors.Clone(appErrors.ErrDisabled, fmt.Sprintf("no syncer registered for %s", domain))
		}
		cfg, ok := configs[domain.Provider()]
		if !ok {
			return results, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("tenant %s has no active %s configuration", tenantID, domain.Provider()))
		}

		log.Infow("domain sync started", "provider", cfg.Provider)
		started := time.Now()
		result, err := syncer.Sync(ctx, cfg, scope)
		elapsed := time.Since(started)
		if o.metrics != nil {
			o.metrics.ObserveDomain(domain, result, elapsed, err)
		}
		if result != nil {
			results = append(results, *result)
		}
		if err != nil {
			log.Errorw("domain sync failed", "duration", elapsed, "error", err)
			return results, err
		}
	}
	return results, nil
}

func (o *SyncOrchestrator) configs(ctx context.Context, tenantID string) (map[models.Provider]models.TenantConfig, error) {
	if tenantID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tenant id is required")
	}
	list, err := o.tenants.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make(map[models.Provider]models.TenantConfig, len(list))
	for _, cfg := range list {
		if !cfg.Active {
			continue
		}
		if err := o.validate.Struct(cfg); err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrValidation, err, "tenant %s %s configuration is invalid", tenantID, cfg.Provider)
		}
		out[cfg.Provider] = cfg
	}
	return out, nil
}
