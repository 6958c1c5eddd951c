package model

import "time"

// Occurrence is a single reported instance of an Issue. Immutable
// after insert.
type Occurrence struct {
	OccurrenceID string
	IssueID      string
	ProjectID    string

	Timestamp   time.Time
	Environment string

	Metadata    map[string]any
	UserContext map[string]any
	StackTrace  []StackFrame

	ExpiresAt *time.Time
}
