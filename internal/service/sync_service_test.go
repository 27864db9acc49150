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
	"github.com/noah-isme/sis-sync/pkg/jobs"
)

type runnerStub struct {
	results []models.SyncResult
	err     error
	opts    RunOptions
	scope   models.SyncScope
}

func (r *runnerStub) RunTenant(ctx context.Context, tenantID string, domains []models.Domain, scope models.SyncScope, opts RunOptions) ([]models.SyncResult, error) {
	r.opts = opts
	r.scope = scope
	return r.results, r.err
}

type statusStub struct {
	saved []models.SyncRun
}

func (s *statusStub) Save(ctx context.Context, run *models.SyncRun, ttl time.Duration) error {
	s.saved = append(s.saved, *run)
	return nil
}

func (s *statusStub) Latest(ctx context.Context, tenantID string) (*models.SyncRun, error) {
	for i := len(s.saved) - 1; i >= 0; i-- {
		if s.saved[i].TenantID == tenantID {
			run := s.saved[i]
			return &run, nil
		}
	}
	return nil, appErrors.ErrCacheMiss
}

type queueStub struct {
	jobs []jobs.Job
	err  error
}

func (q *queueStub) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newSyncServiceFixture(runner *runnerStub) (*SyncService, *statusStub, *queueStub) {
	status := &statusStub{}
	queue := &queueStub{}
	svc := NewSyncService(runner, status, time.Hour, nil, nil)
	svc.AttachQueue(queue)
	return svc, status, queue
}

func TestTriggerQueuesRun(t *testing.T) {
	svc, status, queue := newSyncServiceFixture(&runnerStub{})
	since := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	run, err := svc.Trigger(context.Background(), "tenant-1", TriggerSyncRequest{
		Domains:      []models.Domain{models.DomainStudents},
		SchoolID:     " sch-1 ",
		UpdatedSince: &since,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, models.SyncRunQueued, run.State)
	assert.Equal(t, "sch-1", run.Scope.SchoolID)

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, run.ID, queue.jobs[0].ID)
	assert.Equal(t, SyncJobType, queue.jobs[0].Type)
	require.Len(t, status.saved, 1)
	assert.Equal(t, models.SyncRunQueued, status.saved[0].State)
}

func TestTriggerValidation(t *testing.T) {
	svc, _, queue := newSyncServiceFixture(&runnerStub{})

	_, err := svc.Trigger(context.Background(), " ", TriggerSyncRequest{})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.Trigger(context.Background(), "tenant-1", TriggerSyncRequest{Domains: []models.Domain{"grades"}})
	assert.True(t, errors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, queue.jobs)
}

func TestTriggerReportsFullQueue(t *testing.T) {
	svc, status, queue := newSyncServiceFixture(&runnerStub{})
	queue.err = errors.New("queue sync full")

	_, err := svc.Trigger(context.Background(), "tenant-1", TriggerSyncRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrBusy))
	require.Len(t, status.saved, 2)
	assert.Equal(t, models.SyncRunFailed, status.saved[1].State)
}

func TestHandleRecordsSuccess(t *testing.T) {
	runner := &runnerStub{results: []models.SyncResult{{Domain: models.DomainStudents, Persisted: 10}}}
	svc, status, queue := newSyncServiceFixture(runner)
	_, err := svc.Trigger(context.Background(), "tenant-1", TriggerSyncRequest{WithPrerequisites: true})
	require.NoError(t, err)

	require.NoError(t, svc.Handle(context.Background(), queue.jobs[0]))
	assert.True(t, runner.opts.WithPrerequisites)

	latest, err := svc.Status(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncRunSucceeded, latest.State)
	assert.Len(t, latest.Results, 1)
	assert.NotNil(t, latest.StartedAt)
	assert.NotNil(t, latest.FinishedAt)
	assert.Equal(t, models.SyncRunRunning, status.saved[1].State)
}

func TestHandleRecordsFailure(t *testing.T) {
	runner := &runnerStub{err: appErrors.Clone(appErrors.ErrTransientHTTP, "students page 3")}
	svc, _, queue := newSyncServiceFixture(runner)
	_, err := svc.Trigger(context.Background(), "tenant-1", TriggerSyncRequest{})
	require.NoError(t, err)

	err = svc.Handle(context.Background(), queue.jobs[0])
	require.Error(t, err)
	assert.True(t, appErrors.IsTransient(err))

	latest, err := svc.Status(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, models.SyncRunFailed, latest.State)
	assert.Contains(t, latest.Error, "students page 3")
}

func TestHandleRejectsForeignPayload(t *testing.T) {
	svc, _, _ := newSyncServiceFixture(&runnerStub{})
	err := svc.Handle(context.Background(), jobs.Job{ID: "x", Payload: "nope"})
	assert.Error(t, err)
}

func TestStatusWithoutRunIsNotFound(t *testing.T) {
	svc, _, _ := newSyncServiceFixture(&runnerStub{})
	_, err := svc.Status(context.Background(), "tenant-9")
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}

type activeTenantsStub struct {
	tenants []string
	err     error
}

func (s *activeTenantsStub) ListActiveTenants(ctx context.Context) ([]string, error) {
	return s.tenants, s.err
}

func TestSchedulerRunOnceQueuesEveryTenant(t *testing.T) {
	svc, _, queue := newSyncServiceFixture(&runnerStub{})
	scheduler := NewSyncScheduler("0 2 * * *", &activeTenantsStub{tenants: []string{"tenant-1", "tenant-2"}}, svc, nil)

	assert.Equal(t, 2, scheduler.RunOnce(context.Background()))
	require.Len(t, queue.jobs, 2)
}

func TestSchedulerStartRejectsBadSpec(t *testing.T) {
	scheduler := NewSyncScheduler("every tuesday", &activeTenantsStub{}, nil, nil)
	assert.Error(t, scheduler.Start())

	scheduler = NewSyncScheduler("0 2 * * *", &activeTenantsStub{}, nil, nil)
	require.NoError(t, scheduler.Start())
	assert.Error(t, scheduler.Start())
	scheduler.Stop()
}
