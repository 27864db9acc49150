package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
	"github.com/noah-isme/sis-sync/pkg/jobs"
	"github.com/noah-isme/sis-sync/pkg/middleware/requestid"
)

// SyncJobType tags queued tenant runs.
const SyncJobType = "tenant_sync"

type tenantRunner interface {
	RunTenant(ctx context.Context, tenantID string, domains []models.Domain, scope models.SyncScope, opts RunOptions) ([]models.SyncResult, error)
}

type runStatusStore interface {
	Save(ctx context.Context, run *models.SyncRun, ttl time.Duration) error
	Latest(ctx context.Context, tenantID string) (*models.SyncRun, error)
}

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// TriggerSyncRequest is the body of a sync trigger.
type TriggerSyncRequest struct {
	Domains           []models.Domain `json:"domains"`
	SchoolID          string          `json:"school_id" validate:"omitempty,max=64"`
	UpdatedSince      *time.Time      `json:"updated_since"`
	WithPrerequisites bool            `json:"with_prerequisites"`
}

type syncJob struct {
	Run     *models.SyncRun
	Options RunOptions
}

// SyncService queues tenant runs and records their status.
type SyncService struct {
	runner    tenantRunner
	status    runStatusStore
	queue     jobEnqueuer
	statusTTL time.Duration
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewSyncService constructs the sync service. The queue is attached afterwards
// because its handler is the service itself.
func NewSyncService(runner tenantRunner, status runStatusStore, statusTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *SyncService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		runner:    runner,
		status:    status,
		statusTTL: statusTTL,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// AttachQueue sets the queue runs are dispatched to.
func (s *SyncService) AttachQueue(queue jobEnqueuer) {
	s.queue = queue
}

// Trigger validates the request and queues a run for tenantID.
func (s *SyncService) Trigger(ctx context.Context, tenantID string, req TriggerSyncRequest) (*models.SyncRun, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "tenant id is required")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid sync request")
	}
	for _, d := range req.Domains {
		if !d.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown domain %q", d))
		}
	}
	if s.queue == nil {
		return nil, appErrors.Clone(appErrors.ErrDisabled, "sync queue is not running")
	}

	run := &models.SyncRun{
		ID:       uuid.NewString(),
		TenantID: tenantID,
		Domains:  req.Domains,
		Scope:    models.SyncScope{SchoolID: strings.TrimSpace(req.SchoolID), UpdatedSince: req.UpdatedSince},
		State:    models.SyncRunQueued,
		QueuedAt: s.now().UTC(),
	}
	job := jobs.Job{
		ID:      run.ID,
		Type:    SyncJobType,
		Payload: syncJob{Run: run, Options: RunOptions{WithPrerequisites: req.WithPrerequisites}},
	}
	// Saved before enqueueing so a fast worker's running state is not
	// overwritten by the queued one.
	s.save(ctx, run)
	if err := s.queue.Enqueue(job); err != nil {
		finished := s.now().UTC()
		run.State = models.SyncRunFailed
		run.Error = err.Error()
		run.FinishedAt = &finished
		s.save(ctx, run)
		return nil, appErrors.Wrap(err, appErrors.ErrBusy.Code, appErrors.ErrBusy.Status, "sync queue rejected the run")
	}

	s.logger.Sugar().Infow("sync queued", "tenant_id", tenantID, "run_id", run.ID, "domains", run.Domains, "request_id", requestid.FromContext(ctx))
	return run, nil
}

// Status returns the most recent run recorded for tenantID.
func (s *SyncService) Status(ctx context.Context, tenantID string) (*models.SyncRun, error) {
	run, err := s.status.Latest(ctx, tenantID)
	if err != nil {
		if errors.Is(err, appErrors.ErrCacheMiss) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no sync run recorded for tenant")
		}
		return nil, err
	}
	return run, nil
}

// Handle runs a queued job. It matches jobs.Handler.
func (s *SyncService) Handle(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(syncJob)
	if !ok || payload.Run == nil {
		return fmt.Errorf("job %s: unexpected payload %T", job.ID, job.Payload)
	}
	run := *payload.Run

	started := s.now().UTC()
	run.State = models.SyncRunRunning
	run.StartedAt = &started
	run.FinishedAt = nil
	run.Error = ""
	s.save(ctx, &run)

	results, err := s.runner.RunTenant(ctx, run.TenantID, run.Domains, run.Scope, payload.Options)
	finished := s.now().UTC()
	run.Results = results
	run.FinishedAt = &finished
	run.State = models.SyncRunSucceeded
	if err != nil {
		run.State = models.SyncRunFailed
		run.Error = err.Error()
	}
	// The run may be cancelled on shutdown; its status is still written.
	s.save(context.WithoutCancel(ctx), &run)

	log := s.logger.Sugar().With("tenant_id", run.TenantID, "run_id", run.ID, "duration", finished.Sub(started))
	if err != nil {
		log.Errorw("sync failed", "error", err)
		return err
	}
	log.Infow("sync finished", "domains", len(results))
	return nil
}

// RunAll queues a full run for every tenant listed by tenants. Failures to
// queue one tenant do not stop the others.
func (s *SyncService) RunAll(ctx context.Context, tenants []string) int {
	queued := 0
	for _, tenantID := range tenants {
		if _, err := s.Trigger(ctx, tenantID, TriggerSyncRequest{}); err != nil {
			s.logger.Sugar().Warnw("scheduled sync not queued", "tenant_id", tenantID, "error", err)
			continue
		}
		queued++
	}
	return queued
}

func (s *SyncService) save(ctx context.Context, run *models.SyncRun) {
	if s.status == nil {
		return
	}
	if err := s.status.Save(ctx, run, s.statusTTL); err != nil {
		s.logger.Sugar().Warnw("sync status not saved", "tenant_id", run.TenantID, "run_id", run.ID, "error", err)
	}
}
