package model

import "time"

// IssueStatus is the lifecycle state of a grouped error.
type IssueStatus string

const (
	StatusNew            IssueStatus = "new"
	StatusOpen           IssueStatus = "open"
	StatusInvestigating  IssueStatus = "investigating"
	StatusResolved       IssueStatus = "resolved"
	StatusIgnored        IssueStatus = "ignored"
	StatusMuted          IssueStatus = "muted"
)

// StackFrame is one normalized frame of a stack trace.
type StackFrame struct {
	File     string
	Line     int
	Column   int
	Function string
	InApp    bool
}

// StatusChange is one append-only entry in an Issue's status history.
type StatusChange struct {
	From      IssueStatus
	To        IssueStatus
	ChangedAt time.Time
	ChangedBy string
}

// AssignmentChange is one append-only entry in an Issue's assignment history.
type AssignmentChange struct {
	AssignedTo string
	ChangedAt  time.Time
	ChangedBy  string
}

// Issue is the grouped error record identified by (ProjectID, Fingerprint).
type Issue struct {
	IssueID     string
	ProjectID   string
	Message     string
	Environment string
	StackTrace  []StackFrame
	Fingerprint string

	// Metadata is merged key-by-key from each ingested occurrence;
	// UserContext is replaced wholesale, but only when the occurrence
	// carried one. Both are nil until the first occurrence supplies them.
	Metadata    map[string]any
	UserContext map[string]any

	Count     int
	FirstSeen time.Time
	LastSeen  time.Time

	Status     IssueStatus
	AssignedTo string

	StatusHistory     []StatusChange
	AssignmentHistory []AssignmentChange

	ResolvedAt *time.Time
	ExpiresAt  *time.Time
}
