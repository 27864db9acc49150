package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

const tenantConfigColumns = `id, tenant_id, provider, base_url, token_url, client_id, client_secret, school_id, active, created_at, updated_at`

// TenantRepository reads upstream connection settings.
type TenantRepository struct {
	db *sqlx.DB
}

// NewTenantRepository constructs the repository.
func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// ListByTenant returns the active configurations of a tenant, one per provider.
func (r *TenantRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.TenantConfig, error) {
	query := `SELECT ` + tenantConfigColumns + ` FROM tenant_configs WHERE tenant_id = $1 AND active = TRUE ORDER BY provider`
	var configs []models.TenantConfig
	if err := r.db.SelectContext(ctx, &configs, query, tenantID); err != nil {
		return nil, fmt.Errorf("list tenant configs: %w", err)
	}
	if len(configs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no active configuration for tenant %s", tenantID))
	}
	return configs, nil
}

// Get fetches a configuration by tenant and provider.
func (r *TenantRepository) Get(ctx context.Context, tenantID string, provider models.Provider) (*models.TenantConfig, error) {
	query := `SELECT ` + tenantConfigColumns + ` FROM tenant_configs WHERE tenant_id = $1 AND provider = $2 AND active = TRUE`
	var cfg models.TenantConfig
	if err := r.db.GetContext(ctx, &cfg, query, tenantID, provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("no %s configuration for tenant %s", provider, tenantID))
		}
		return nil, fmt.Errorf("get tenant config: %w", err)
	}
	return &cfg, nil
}

// ListActiveTenants returns the distinct tenant ids with an active configuration.
func (r *TenantRepository) ListActiveTenants(ctx context.Context) ([]string, error) {
	const query = `SELECT DISTINCT tenant_id FROM tenant_configs WHERE active = TRUE ORDER BY tenant_id`
	var tenants []string
	if err := r.db.SelectContext(ctx, &tenants, query); err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}
	return tenants, nil
}
