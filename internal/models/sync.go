package models

import "time"

// Domain names one dataset synced from upstream.
type Domain string

const (
	DomainOrganizations Domain = "organizations"
	DomainStudents      Domain = "students"
	DomainStaff         Domain = "staff"
	DomainClasses       Domain = "classes"
	DomainAllocations   Domain = "allocations"
	DomainAttendance    Domain = "attendance"
	DomainAssessments   Domain = "assessments"
)

// DomainOrder is the order domains must run in so referenced rows exist first.
var DomainOrder = []Domain{
	DomainOrganizations,
	DomainStudents,
	DomainStaff,
	DomainClasses,
	DomainAllocations,
	DomainAttendance,
	DomainAssessments,
}

// Provider returns the upstream API serving the domain.
func (d Domain) Provider() Provider {
	if d == DomainAssessments {
		return ProviderAssessmentPlatform
	}
	return ProviderRosterSIS
}

// Valid reports whether d is a known domain.
func (d Domain) Valid() bool {
	for _, known := range DomainOrder {
		if d == known {
			return true
		}
	}
	return false
}

// SyncScope narrows one run.
type SyncScope struct {
	SchoolID     string     `json:"school_id,omitempty"`
	UpdatedSince *time.Time `json:"updated_since,omitempty"`
}

// SyncResult is returned by every domain orchestrator.
type SyncResult struct {
	Domain     Domain        `json:"domain"`
	Fetched    int           `json:"fetched"`
	Persisted  int64         `json:"persisted"`
	Skipped    int           `json:"skipped"`
	Propagated int64         `json:"propagated"`
	Warnings   int           `json:"warnings"`
	Duration   time.Duration `json:"duration"`
}

// SyncRunState tracks the lifecycle of a queued run.
type SyncRunState string

const (
	SyncRunQueued    SyncRunState = "queued"
	SyncRunRunning   SyncRunState = "running"
	SyncRunSucceeded SyncRunState = "succeeded"
	SyncRunFailed    SyncRunState = "failed"
)

// SyncRun is the status record kept for the most recent run of a tenant.
type SyncRun struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenant_id"`
	Domains    []Domain     `json:"domains"`
	Scope      SyncScope    `json:"scope"`
	State      SyncRunState `json:"state"`
	Results    []SyncResult `json:"results,omitempty"`
	Error      string       `json:"error,omitempty"`
	QueuedAt   time.Time    `json:"queued_at"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}

// PropagateResult reports the two steps of a reporting propagation.
type PropagateResult struct {
	Inserted  int64 `json:"inserted"`
	Refreshed int64 `json:"refreshed"`
}

// Affected returns the total number of reporting rows touched.
func (r PropagateResult) Affected() int64 {
	return r.Inserted + r.Refreshed
}
