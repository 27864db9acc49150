package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-sync/internal/models"
	"github.com/noah-isme/sis-sync/internal/repository"
	"github.com/noah-isme/sis-sync/internal/sis"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
	"github.com/noah-isme/sis-sync/pkg/logger"
)

type listSource interface {
	FetchAll(ctx context.Context, tenant models.TenantConfig, ep sis.Endpoint, params url.Values) ([]json.RawMessage, error)
}

type detailSource interface {
	Fetch(ctx context.Context, tenant models.TenantConfig, pathTemplate string, ids []string) (*sis.Details, error)
}

type exportSource interface {
	Each(ctx context.Context, tenant models.TenantConfig, ep sis.ExportEndpoint, params url.Values, fn func(*sis.Chunk) error) (int, error)
}

type referenceResolver interface {
	ResolveMany(ctx context.Context, table models.ReferenceTable, tenantID string, keys []string) (models.ReferenceMap, error)
}

type recordWriter interface {
	WriteBatch(ctx context.Context, table, tenantID string, records []repository.Record) (int64, error)
}

type reportingPropagator interface {
	Propagate(ctx context.Context, scope models.ReportingScope) (*models.PropagateResult, error)
}

// DomainSyncer runs the fetch, resolve and persist sequence of one domain and
// reports what it did. A returned error is terminal for the domain; rows
// committed before it stay committed.
type DomainSyncer interface {
	Domain() models.Domain
	Sync(ctx context.Context, tenant models.TenantConfig, scope models.SyncScope) (*models.SyncResult, error)
}

// SyncDeps are the collaborators every domain syncer shares.
type SyncDeps struct {
	References referenceResolver
	Writer     recordWriter
	Validator  *validator.Validate
	Logger     *zap.Logger
}

type syncBase struct {
	domain   models.Domain
	refs     referenceResolver
	writer   recordWriter
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

func newSyncBase(domain models.Domain, deps SyncDeps) syncBase {
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return syncBase{
		domain:   domain,
		refs:     deps.References,
		writer:   deps.Writer,
		validate: deps.Validator,
		logger:   deps.Logger,
		now:      time.Now,
	}
}

// Domain implements DomainSyncer.
func (b syncBase) Domain() models.Domain { return b.domain }

func (b syncBase) log(tenant models.TenantConfig) *zap.SugaredLogger {
	return logger.ForTenant(b.logger, tenant.TenantID, string(b.domain)).Sugar()
}

func (b syncBase) start() (*models.SyncResult, time.Time) {
	return &models.SyncResult{Domain: b.domain}, b.now()
}

func (b syncBase) finish(result *models.SyncResult, started time.Time) *models.SyncResult {
	result.Duration = b.now().Sub(started)
	return result
}

// abort finishes result with the counts committed so far and returns it with
// the wrapped error.
func (b syncBase) abort(tenant models.TenantConfig, result *models.SyncResult, started time.Time, err error) (*models.SyncResult, error) {
	return b.finish(result, started), b.fail(tenant, err)
}

// fail wraps err with the domain and tenant while keeping its error code.
func (b syncBase) fail(tenant models.TenantConfig, err error) error {
	return fmt.Errorf("%s sync for tenant %s: %w", b.domain, tenant.TenantID, err)
}

func (b syncBase) resolve(ctx context.Context, table models.ReferenceTable, tenant models.TenantConfig, keys []string) (models.ReferenceMap, error) {
	refs, err := b.refs.ResolveMany(ctx, table, tenant.TenantID, keys)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", table, err)
	}
	return refs, nil
}

func (b syncBase) accept(tenant models.TenantConfig, rec repository.Record) bool {
	if err := b.validate.Struct(rec); err != nil {
		b.log(tenant).Warnw("record rejected", "external_id", rec.NaturalKey(), "error", err)
		return false
	}
	return true
}

// persist validates records, writes the survivors to table and records the
// counts on result. missed marks records carrying an unresolved reference;
// they are written with the reference unset. A record is counted as skipped
// at most once, whether it was rejected, unresolved or both.
func persist[T repository.Record](ctx context.Context, b syncBase, tenant models.TenantConfig, table string, records []T, missed []bool, result *models.SyncResult) error {
	valid := make([]repository.Record, 0, len(records))
	unresolved := 0
	for i, rec := range records {
		if !b.accept(tenant, rec) {
			result.Skipped++
			continue
		}
		if i < len(missed) && missed[i] {
			unresolved++
		}
		valid = append(valid, rec)
	}
	if len(valid) == 0 {
		return nil
	}
	written, err := b.writer.WriteBatch(ctx, table, tenant.TenantID, valid)
	if err != nil {
		return err
	}
	result.Persisted += written
	result.Skipped += unresolved
	return nil
}

// listParams turns scope filters into upstream query parameters. The scope's
// school wins over the tenant's configured one.
func listParams(tenant models.TenantConfig, scope models.SyncScope) url.Values {
	params := url.Values{}
	school := scope.SchoolID
	if school == "" && tenant.SchoolID != nil {
		school = *tenant.SchoolID
	}
	if school != "" {
		params.Set("school_id", school)
	}
	if scope.UpdatedSince != nil {
		params.Set("updated_since", scope.UpdatedSince.UTC().Format(time.RFC3339))
	}
	return params
}

func decodeItems[T any](endpoint string, items []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(items))
	for i, raw := range items {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrParse, err, "%s item %d", endpoint, i)
		}
		out = append(out, v)
	}
	return out, nil
}

// link resolves key through refs. A set key without a match counts as a miss.
func link(refs models.ReferenceMap, key sis.FlexString) (*string, bool) {
	if key == "" {
		return nil, false
	}
	id := refs.Resolve(key.String())
	return id, id == nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
