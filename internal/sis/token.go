// Package sis talks to the upstream school-information APIs: token
// acquisition, authenticated requests, pagination, exports and enrichment.
package sis

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/noah-isme/sis-sync/internal/models"
	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

// DefaultTokenBuffer is subtracted from the advertised lifetime so a token is
// never sent right before it expires upstream.
const DefaultTokenBuffer = 300 * time.Second

const defaultTokenTTL = time.Hour

// TokenProvider hands out bearer tokens for a tenant configuration.
type TokenProvider interface {
	Token(ctx context.Context, tenant models.TenantConfig, force bool) (string, error)
}

// TokenManager acquires client-credentials tokens and caches them in a
// TokenStore until their buffered expiry.
type TokenManager struct {
	store      *TokenStore
	httpClient *http.Client
	buffer     time.Duration
	now        func() time.Time
	group      singleflight.Group
	observer   Observer
	logger     *zap.Logger
}

// TokenManagerOption customises a TokenManager.
type TokenManagerOption func(*TokenManager)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) { m.now = now }
}

// WithTokenObserver reports refreshes to o.
func WithTokenObserver(o Observer) TokenManagerOption {
	return func(m *TokenManager) { m.observer = observerOrNop(o) }
}

// NewTokenManager constructs a TokenManager. A nil httpClient uses
// http.DefaultClient and a non-positive buffer uses DefaultTokenBuffer.
func NewTokenManager(store *TokenStore, httpClient *http.Client, buffer time.Duration, logger *zap.Logger, opts ...TokenManagerOption) *TokenManager {
	if store == nil {
		store = NewTokenStore()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if buffer <= 0 {
		buffer = DefaultTokenBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &TokenManager{
		store:      store,
		httpClient: httpClient,
		buffer:     buffer,
		now:        time.Now,
		observer:   nopObserver{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Token returns a cached token when it is still valid, otherwise requests a
// new one. force skips the cache. Concurrent refreshes for the same tenant
// collapse into one grant request.
func (m *TokenManager) Token(ctx context.Context, tenant models.TenantConfig, force bool) (string, error) {
	key := tenant.CacheKey()
	if !force {
		if tok, ok := m.store.Get(key); ok && tok.ValidAt(m.now()) {
			return tok.AccessToken, nil
		}
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		tok, err := m.fetch(ctx, tenant)
		if err != nil {
			return "", err
		}
		m.store.Put(key, tok)
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token for tenant.
func (m *TokenManager) Invalidate(tenant models.TenantConfig) {
	m.store.Forget(tenant.CacheKey())
}

func (m *TokenManager) fetch(ctx context.Context, tenant models.TenantConfig) (CachedToken, error) {
	cfg := clientcredentials.Config{
		ClientID:     tenant.ClientID,
		ClientSecret: tenant.ClientSecret,
		TokenURL:     tenant.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	issuedAt := m.now()
	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, m.httpClient))
	if err != nil {
		return CachedToken{}, appErrors.WrapAs(appErrors.ErrAuth, err, "token request for tenant %s failed", tenant.TenantID)
	}
	if tok.AccessToken == "" {
		return CachedToken{}, appErrors.Clone(appErrors.ErrAuth, "token response for tenant "+tenant.TenantID+" has no access_token")
	}

	ttl := defaultTokenTTL
	switch {
	case tok.ExpiresIn > 0:
		ttl = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		ttl = time.Until(tok.Expiry)
	}

	m.observer.TokenRefreshed(string(tenant.Provider))
	m.logger.Sugar().Infow("token refreshed", "tenant_id", tenant.TenantID, "provider", tenant.Provider, "ttl", ttl)

	return CachedToken{
		AccessToken: tok.AccessToken,
		ExpiresAt:   issuedAt.Add(ttl - m.buffer),
	}, nil
}
