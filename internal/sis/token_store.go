package sis

import (
	"sync"
	"time"
)

// CachedToken is a bearer token and the instant it must no longer be used.
// ExpiresAt already has the safety buffer subtracted.
type CachedToken struct {
	AccessToken string
	ExpiresAt   time.Time
}

// ValidAt reports whether the token can still be sent at now.
func (t CachedToken) ValidAt(now time.Time) bool {
	return t.AccessToken != "" && now.Before(t.ExpiresAt)
}

// TokenStore holds one cached token per tenant configuration. It is created
// once per process and entries are only overwritten by a refresh or removed
// by Forget and Clear.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[string]CachedToken
}

// NewTokenStore returns an empty store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[string]CachedToken)}
}

// Get returns the cached token for key.
func (s *TokenStore) Get(key string) (CachedToken, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[key]
	return tok, ok
}

// Put stores tok under key, replacing any previous entry.
func (s *TokenStore) Put(key string, tok CachedToken) {
	s.mu.Lock()
	s.tokens[key] = tok
	s.mu.Unlock()
}

// Forget drops the entry for key.
func (s *TokenStore) Forget(key string) {
	s.mu.Lock()
	delete(s.tokens, key)
	s.mu.Unlock()
}

// Clear drops every entry.
func (s *TokenStore) Clear() {
	s.mu.Lock()
	s.tokens = make(map[string]CachedToken)
	s.mu.Unlock()
}

// Len reports the number of cached entries.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
