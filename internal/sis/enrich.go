package sis

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

// DefaultEnrichGroupSize is the number of detail requests in flight at once.
const DefaultEnrichGroupSize = 20

// Details holds the per-entity detail bodies keyed by id. Ids the upstream
// rejected permanently (for example a 404) are listed in Missing.
type Details struct {
	Bodies  map[string][]byte
	Missing []string
}

// FetchDetails requests pathTemplate (with "{id}" substituted) for every id,
// groupSize requests at a time. Each group completes before the next starts.
// Auth and transient failures abort the whole call.
func FetchDetails(ctx context.Context, fetcher Fetcher, tenant models.TenantConfig, pathTemplate string, ids []string, groupSize int) (*Details, error) {
	if groupSize <= 0 {
		groupSize = DefaultEnrichGroupSize
	}
	details := &Details{Bodies: make(map[string][]byte, len(ids))}
	var mu sync.Mutex

	for start := 0; start < len(ids); start += groupSize {
		end := start + groupSize
		if end > len(ids) {
			end = len(ids)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, id := range ids[start:end] {
			id := id
			g.Go(func() error {
				payload, err := fetcher.Get(gctx, tenant, strings.ReplaceAll(pathTemplate, "{id}", id), nil)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if errors.Is(err, appErrors.ErrPermanentHTTP) {
						details.Missing = append(details.Missing, id)
						return nil
					}
					return err
				}
				details.Bodies[id] = payload.Body
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return details, nil
}

// Enricher binds FetchDetails to a fetcher and group size.
type Enricher struct {
	fetcher   Fetcher
	groupSize int
}

// NewEnricher constructs an Enricher.
func NewEnricher(fetcher Fetcher, groupSize int) *Enricher {
	return &Enricher{fetcher: fetcher, groupSize: groupSize}
}

// Fetch calls FetchDetails with the bound fetcher and group size.
func (e *Enricher) Fetch(ctx context.Context, tenant models.TenantConfig, pathTemplate string, ids []string) (*Details, error) {
	return FetchDetails(ctx, e.fetcher, tenant, pathTemplate, ids, e.groupSize)
}
