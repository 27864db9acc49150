package sis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
	"github.com/noah-isme/sis-sync/pkg/ratelimit"
)

// Payload is the raw body of a successful upstream response.
type Payload struct {
	Body        []byte
	ContentType string
}

// Fetcher issues authenticated GET requests against a tenant's API.
type Fetcher interface {
	Get(ctx context.Context, tenant models.TenantConfig, path string, query url.Values) (*Payload, error)
}

// Client sends bearer-authenticated requests. Transient failures are retried
// through the rate limiter; a 401 forces one token refresh and one resend.
type Client struct {
	httpClient *http.Client
	tokens     TokenProvider
	retry      *ratelimit.RateLimiter
	accept     string
	logger     *zap.Logger
}

// NewClient constructs a Client. retry controls the attempt ceiling and
// backoff for transient failures.
func NewClient(httpClient *http.Client, tokens TokenProvider, retry *ratelimit.RateLimiter, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if retry == nil {
		retry = ratelimit.NewRateLimiter(&ratelimit.Config{MaxAttempts: 3})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		tokens:     tokens,
		retry:      retry,
		accept:     "application/json, text/csv, application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		logger:     logger,
	}
}

// Get fetches path relative to the tenant base URL.
func (c *Client) Get(ctx context.Context, tenant models.TenantConfig, path string, query url.Values) (*Payload, error) {
	endpoint, err := buildURL(tenant.BaseURL, path, query)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrPermanentHTTP, err, "invalid endpoint %s", path)
	}

	var payload *Payload
	err = c.retry.ExecuteWithRetry(ctx, func(attempt int) error {
		p, err := c.getAuthorized(ctx, tenant, endpoint)
		if err != nil {
			if appErrors.IsTransient(err) && attempt < c.retry.MaxAttempts() {
				c.logger.Sugar().Warnw("upstream request failed, retrying", "tenant_id", tenant.TenantID, "endpoint", path, "attempt", attempt, "error", err)
			}
			return err
		}
		payload = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *Client) getAuthorized(ctx context.Context, tenant models.TenantConfig, endpoint string) (*Payload, error) {
	token, err := c.tokens.Token(ctx, tenant, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, endpoint, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		token, err = c.tokens.Token(ctx, tenant, true)
		if err != nil {
			return nil, err
		}
		resp, err = c.send(ctx, endpoint, token)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			return nil, appErrors.Clone(appErrors.ErrAuth, fmt.Sprintf("GET %s rejected after token refresh", redact(endpoint)))
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrTransientHTTP, err, "read body of %s", redact(endpoint))
	}
	if err := classifyStatus(resp.StatusCode, endpoint, body); err != nil {
		return nil, err
	}
	return &Payload{Body: body, ContentType: resp.Header.Get("Content-Type")}, nil
}

func (c *Client) send(ctx context.Context, endpoint, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrPermanentHTTP, err, "build request for %s", redact(endpoint))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", c.accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, appErrors.WrapAs(appErrors.ErrTransientHTTP, err, "GET %s", redact(endpoint))
	}
	return resp, nil
}

// classifyStatus maps non-2xx responses onto the retry taxonomy: 5xx and 429
// are transient, any other 4xx is permanent.
func classifyStatus(status int, endpoint string, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	snippet := string(body)
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}
	msg := fmt.Sprintf("GET %s returned %d: %s", redact(endpoint), status, snippet)
	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return appErrors.Clone(appErrors.ErrTransientHTTP, msg)
	}
	return appErrors.Clone(appErrors.ErrPermanentHTTP, msg)
}

func buildURL(base, path string, query url.Values) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	u = u.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// redact strips the query string so logs and errors keep only the endpoint.
func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	u.RawQuery = ""
	return u.String()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
