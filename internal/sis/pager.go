package sis

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
	"github.com/noah-isme/sis-sync/pkg/ratelimit"
)

// DefaultPageSize is used when the pager is built with a non-positive size.
const DefaultPageSize = 100

// Pager walks a list endpoint page by page, strictly sequentially, pacing
// requests through a rate limiter.
type Pager struct {
	fetcher  Fetcher
	pace     *ratelimit.RateLimiter
	pageSize int
	observer Observer
	logger   *zap.Logger
}

// NewPager constructs a Pager. pace spaces page requests; a nil pace sends
// them back to back.
func NewPager(fetcher Fetcher, pace *ratelimit.RateLimiter, pageSize int, observer Observer, logger *zap.Logger) *Pager {
	if pace == nil {
		pace = ratelimit.NewRateLimiter(&ratelimit.Config{MaxAttempts: 1})
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{fetcher: fetcher, pace: pace, pageSize: pageSize, observer: observerOrNop(observer), logger: logger}
}

// PageSize reports the requested items per page.
func (p *Pager) PageSize() int {
	return p.pageSize
}

// Each calls fn with the items of every page until the last page and returns
// the number of requests made. A sequence cannot be resumed mid-way; calling
// Each again starts from the first page.
func (p *Pager) Each(ctx context.Context, tenant models.TenantConfig, ep Endpoint, params url.Values, fn func(items []json.RawMessage) error) (int, error) {
	requests := 0
	for index := 0; ; index++ {
		if err := p.pace.Wait(ctx); err != nil {
			return requests, err
		}

		query := p.pageQuery(ep, params, index)
		payload, err := p.fetcher.Get(ctx, tenant, ep.Path, query)
		requests++
		if err != nil {
			return requests, annotate(err, "%s page %d", ep.Name, index+1)
		}

		page, err := ep.Extract(payload.Body)
		if err != nil {
			return requests, annotate(err, "%s page %d", ep.Name, index+1)
		}
		p.observer.PageFetched(ep.Name, len(page.Items))

		if len(page.Items) > 0 {
			if err := fn(page.Items); err != nil {
				return requests, err
			}
		}
		if p.lastPage(page, index) {
			p.logger.Sugar().Debugw("pagination finished", "tenant_id", tenant.TenantID, "endpoint", ep.Name, "requests", requests)
			return requests, nil
		}
	}
}

// FetchAll materialises every item of the endpoint.
func (p *Pager) FetchAll(ctx context.Context, tenant models.TenantConfig, ep Endpoint, params url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	_, err := p.Each(ctx, tenant, ep, params, func(items []json.RawMessage) error {
		all = append(all, items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// lastPage applies every termination rule the page exposes: an undersized or
// empty page, or the reported page count being reached.
func (p *Pager) lastPage(page Page, index int) bool {
	if len(page.Items) == 0 || len(page.Items) < p.pageSize {
		return true
	}
	return page.TotalPages > 0 && index+1 >= page.TotalPages
}

func (p *Pager) pageQuery(ep Endpoint, params url.Values, index int) url.Values {
	query := url.Values{}
	for k, v := range params {
		query[k] = append([]string(nil), v...)
	}
	switch ep.Style {
	case PageNumber:
		query.Set("page", strconv.Itoa(index+1))
		query.Set("per_page", strconv.Itoa(p.pageSize))
	default:
		query.Set("offset", strconv.Itoa(index*p.pageSize))
		query.Set("limit", strconv.Itoa(p.pageSize))
	}
	return query
}

// annotate prefixes the message of a typed error with location context while
// keeping its code, so errors.Is still matches.
func annotate(err error, format string, args ...interface{}) error {
	appErr := appErrors.FromError(err)
	if appErr.Code == appErrors.ErrInternal.Code {
		return err
	}
	return appErrors.WrapAs(appErr, err, format, args...)
}
