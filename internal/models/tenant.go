package models

import (
	"fmt"
	"time"
)

// Provider identifies which upstream API a tenant configuration talks to.
type Provider string

const (
	ProviderRosterSIS          Provider = "roster_sis"
	ProviderAssessmentPlatform Provider = "assessment_platform"
)

// TenantConfig holds the credentials and scope of one upstream connection.
// It is loaded once per run and never mutated while the run is in progress.
type TenantConfig struct {
	ID           string    `db:"id" json:"id"`
	TenantID     string    `db:"tenant_id" json:"tenant_id" validate:"required"`
	Provider     Provider  `db:"provider" json:"provider" validate:"required,oneof=roster_sis assessment_platform"`
	BaseURL      string    `db:"base_url" json:"base_url" validate:"required,url"`
	TokenURL     string    `db:"token_url" json:"token_url" validate:"required,url"`
	ClientID     string    `db:"client_id" json:"-" validate:"required"`
	ClientSecret string    `db:"client_secret" json:"-" validate:"required"`
	SchoolID     *string   `db:"school_id" json:"school_id,omitempty"`
	Active       bool      `db:"active" json:"active"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// CacheKey identifies the token cache entry for this configuration.
func (c TenantConfig) CacheKey() string {
	return fmt.Sprintf("%s:%s:%s", c.TenantID, c.Provider, c.ClientID)
}
