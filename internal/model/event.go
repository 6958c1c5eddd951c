package model

import "time"

// RawEvent is the inbound error report as received from a client SDK,
// before sanitization. Presence tracking distinguishes an absent
// field from one explicitly sent empty: downstream merges must not
// overwrite an existing Issue's metadata/userContext with a field the
// client never sent.
type RawEvent struct {
	Message     string
	StackTrace  []StackFrame
	Environment string

	Metadata    map[string]any
	HasMetadata bool

	UserContext    map[string]any
	HasUserContext bool

	Context map[string]any
	Request map[string]any

	Timestamp *time.Time
}
