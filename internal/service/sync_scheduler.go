package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type activeTenantSource interface {
	ListActiveTenants(ctx context.Context) ([]string, error)
}

type tenantBatchTrigger interface {
	RunAll(ctx context.Context, tenants []string) int
}

// SyncScheduler queues a full sync of every active tenant on a cron schedule.
type SyncScheduler struct {
	cron    *cron.Cron
	spec    string
	tenants activeTenantSource
	trigger tenantBatchTrigger
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewSyncScheduler creates a scheduler for the standard five-field spec.
func NewSyncScheduler(spec string, tenants activeTenantSource, trigger tenantBatchTrigger, logger *zap.Logger) *SyncScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncScheduler{
		cron:    cron.New(),
		spec:    spec,
		tenants: tenants,
		trigger: trigger,
		logger:  logger,
	}
}

// Start registers the schedule and starts the cron runner.
func (s *SyncScheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(context.Background()) }); err != nil {
		return fmt.Errorf("adding sync schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Sugar().Infow("sync scheduler started", "schedule", s.spec)
	return nil
}

// AddJob registers a housekeeping task on its own schedule. It must be called
// before Start.
func (s *SyncScheduler) AddJob(spec, name string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("adding %s schedule %q: %w", name, spec, err)
	}
	return nil
}

// Stop waits for a running tick to return.
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Sugar().Infow("sync scheduler stopped")
}

// RunOnce queues every active tenant and returns how many were queued.
func (s *SyncScheduler) RunOnce(ctx context.Context) int {
	tenants, err := s.tenants.ListActiveTenants(ctx)
	if err != nil {
		s.logger.Sugar().Errorw("scheduled sync: list tenants", "error", err)
		return 0
	}
	queued := s.trigger.RunAll(ctx, tenants)
	s.logger.Sugar().Infow("scheduled sync queued", "tenants", len(tenants), "queued", queued)
	return queued
}
