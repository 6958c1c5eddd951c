// Package store defines the persistence contracts for Issues,
// Occurrences, Projects, AlertRules, notification state, and the
// digest queue, plus memory and SQLite-backed implementations.
package store

import (
	"context"
	"time"

	"errwatch/internal/model"
)

// IssueStore persists and looks up grouped Issues.
type IssueStore interface {
	// FindByFingerprint looks up the unique (projectID, fingerprint) Issue.
	FindByFingerprint(ctx context.Context, projectID, fingerprint string) (*model.Issue, error)
	// Insert creates a new Issue. Returns a TransientStoreError wrapping a
	// unique-constraint violation if the caller lost an upsert race.
	Insert(ctx context.Context, issue model.Issue) error
	// Update persists mutations to an existing Issue (counters, lastSeen,
	// stackTrace, status, assignment).
	Update(ctx context.Context, issue model.Issue) error
	// Get returns an Issue by ID.
	Get(ctx context.Context, issueID string) (*model.Issue, error)
	// ListSimilar returns up to limit Issues for (projectID, fingerprint),
	// or for (projectID, environment) when fingerprint is empty, ordered
	// by LastSeen descending.
	ListSimilar(ctx context.Context, projectID, fingerprint, environment string, limit int) ([]model.Issue, error)
	// DeleteOlderThan deletes Issues for projectID with LastSeen before
	// cutoff, returning the count deleted.
	DeleteOlderThan(ctx context.Context, projectID string, cutoff time.Time) (int, error)
}

// OccurrenceStore persists immutable Occurrences and answers the
// windowed counts the trigger pipeline needs.
type OccurrenceStore interface {
	Insert(ctx context.Context, occ model.Occurrence) error
	// CountInWindow counts Occurrences for (projectID, fingerprint) with
	// Timestamp in [from, to), optionally filtered by environment when
	// environment is non-empty.
	CountInWindow(ctx context.Context, projectID, fingerprint, environment string, from, to time.Time) (int, error)
	// DeleteOlderThan deletes Occurrences for projectID with Timestamp
	// before cutoff, returning the count deleted.
	DeleteOlderThan(ctx context.Context, projectID string, cutoff time.Time) (int, error)
}

// ProjectStore resolves the tenant boundary the ingestion endpoint
// authenticates against; project CRUD itself is an external collaborator.
type ProjectStore interface {
	Get(ctx context.Context, projectID string) (*model.Project, error)
	// ListRetentionEligible returns every project with RetentionDays >= 1.
	ListRetentionEligible(ctx context.Context) ([]model.Project, error)
}

// RuleStore is the read-only admin contract the core consumes: rule
// CRUD itself lives outside the core.
type RuleStore interface {
	// ListEnabled returns every enabled AlertRule for projectID, in a
	// deterministic (not necessarily newest-first) order.
	ListEnabled(ctx context.Context, projectID string) ([]model.AlertRule, error)
}

// NotificationStateStore is the persistence contract the notification
// engine requires, matching the cooldown/escalation behaviour
// described for the core's state store.
type NotificationStateStore interface {
	SaveCooldown(ctx context.Context, ruleID string, epochMs int64) error
	ListCooldowns(ctx context.Context) ([]model.CooldownEntry, error)
	DeleteCooldown(ctx context.Context, ruleID string) error

	SaveEscalation(ctx context.Context, entry model.EscalationEntry) error
	ListEscalations(ctx context.Context) ([]model.EscalationEntry, error)
	DeleteEscalation(ctx context.Context, alertID string) error
	ClearAll(ctx context.Context) error
}

// DigestStore persists deferred email deliveries awaiting the digest
// scheduler.
type DigestStore interface {
	Enqueue(ctx context.Context, entry model.DigestQueueEntry) error
	// ListUnprocessed returns every unprocessed entry for (projectID, memberID).
	ListUnprocessed(ctx context.Context, projectID, memberID string) ([]model.DigestQueueEntry, error)
	// ListProjectsWithUnprocessed returns the distinct project IDs that
	// currently have at least one unprocessed entry.
	ListProjectsWithUnprocessed(ctx context.Context) ([]string, error)
	// ListMembersWithUnprocessed returns the distinct member IDs with
	// unprocessed entries within projectID.
	ListMembersWithUnprocessed(ctx context.Context, projectID string) ([]string, error)
	MarkProcessed(ctx context.Context, entryIDs []string, processedAt time.Time) error
}

// MemberStore resolves team members for email recipient resolution;
// membership management itself lives outside the core.
type MemberStore interface {
	GetByEmail(ctx context.Context, projectID, email string) (*model.TeamMember, error)
	Get(ctx context.Context, memberID string) (*model.TeamMember, error)
	UpdateDigestLastSent(ctx context.Context, memberID string, sentAt time.Time) error
}

// DeploymentStore answers the context enricher's "recent deployments"
// lookup; deployment tracking itself lives outside the core.
type DeploymentStore interface {
	ListRecent(ctx context.Context, projectID string, from, to time.Time, limit int) ([]model.Deployment, error)
}
