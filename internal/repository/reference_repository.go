package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

// DefaultResolveBatchSize is the number of keys per lookup query.
const DefaultResolveBatchSize = 1000

// ReferenceRepository resolves natural keys to surrogate ids in bulk.
type ReferenceRepository struct {
	db        *sqlx.DB
	batchSize int
}

// NewReferenceRepository constructs the repository.
func NewReferenceRepository(db *sqlx.DB, batchSize int) *ReferenceRepository {
	if batchSize <= 0 {
		batchSize = DefaultResolveBatchSize
	}
	return &ReferenceRepository{db: db, batchSize: batchSize}
}

// ResolveMany returns the surrogate id of every key present in table for the
// tenant. Keys are deduplicated and blank keys dropped; misses are absent
// from the map.
func (r *ReferenceRepository) ResolveMany(ctx context.Context, table models.ReferenceTable, tenantID string, keys []string) (models.ReferenceMap, error) {
	if !resolvableTables[table] {
		return nil, fmt.Errorf("resolve references: unknown table %q", table)
	}
	unique := uniqueKeys(keys)
	refs := make(models.ReferenceMap, len(unique))

	for index, start := 0, 0; start < len(unique); index, start = index+1, start+r.batchSize {
		end := start + r.batchSize
		if end > len(unique) {
			end = len(unique)
		}
		if err := r.resolveBatch(ctx, table, tenantID, unique[start:end], refs); err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrPersistence, err, "resolve %s references batch %d (%d keys)", table, index, end-start)
		}
	}
	return refs, nil
}

func (r *ReferenceRepository) resolveBatch(ctx context.Context, table models.ReferenceTable, tenantID string, chunk []string, refs models.ReferenceMap) error {
	placeholders := make([]string, len(chunk))
	args := make([]interface{}, 0, len(chunk)+1)
	args = append(args, tenantID)
	for i, key := range chunk {
		placeholders[i] = fmt.Sprintf("$%d", i+2)
		args = append(args, key)
	}
	query := fmt.Sprintf("SELECT external_id, id FROM %s WHERE tenant_id = $1 AND external_id IN (%s)", table, strings.Join(placeholders, ","))

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var externalID, id string
		if err := rows.Scan(&externalID, &id); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		refs[externalID] = id
	}
	return rows.Err()
}

var resolvableTables = map[models.ReferenceTable]bool{
	models.RefOrgUnits: true,
	models.RefStudents: true,
	models.RefStaff:    true,
	models.RefClasses:  true,
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
