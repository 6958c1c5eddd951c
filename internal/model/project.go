// Package model defines the data types shared across the ingestion,
// rule evaluation, notification, and retention pipelines: Project,
// Issue, Occurrence, AlertRule, AlertPayload, notification state, and
// digest queue entries.
package model

// ScrubPolicy controls which PII categories the sanitizer redacts
// beyond the unconditional patterns (cards, SSNs, secrets).
type ScrubPolicy struct {
	RemoveEmails bool
	RemovePhones bool
	RemoveIPs    bool
}

// Project is the tenant boundary: every Issue, Occurrence, and
// AlertRule is scoped to exactly one project.
type Project struct {
	ProjectID     string
	CredentialHash string // salted hash of the bearer credential
	CredentialPreview string // short, non-secret preview shown in the dashboard
	RetentionDays int
	Scrub         ScrubPolicy
}
