package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

// SyncStatusRepository keeps the latest run of each tenant in Redis.
type SyncStatusRepository struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewSyncStatusRepository constructs the repository. A nil client turns every
// read into a cache miss and every write into a no-op.
func NewSyncStatusRepository(client *redis.Client, logger *zap.Logger) *SyncStatusRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncStatusRepository{client: client, prefix: "sis-sync:run:", logger: logger}
}

// Key returns the Redis key for a tenant's latest run.
func (r *SyncStatusRepository) Key(tenantID string) string {
	return r.prefix + tenantID
}

// Save stores run as the tenant's latest run.
func (r *SyncStatusRepository) Save(ctx context.Context, run *models.SyncRun, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal sync run %s: %w", run.ID, err)
	}
	if err := r.client.Set(ctx, r.Key(run.TenantID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", r.Key(run.TenantID), err)
	}
	return nil
}

// Latest returns the tenant's latest run or ErrCacheMiss.
func (r *SyncStatusRepository) Latest(ctx context.Context, tenantID string) (*models.SyncRun, error) {
	if r.client == nil {
		return nil, appErrors.ErrCacheMiss
	}
	raw, err := r.client.Get(ctx, r.Key(tenantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get %s: %w", r.Key(tenantID), err)
	}
	var run models.SyncRun
	if err := json.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("unmarshal sync run for %s: %w", tenantID, err)
	}
	return &run, nil
}
