package model

import "time"

// Severity ranks an alert for sorting and escalation comparisons.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank implements the rank used when picking the "highest"
// severity across aggregated snapshots: critical=5 > high=4 > medium=3
// > low=2 > info=1.
var severityRank = map[Severity]int{
	SeverityCritical: 5,
	SeverityHigh:      4,
	SeverityMedium:    3,
	SeverityLow:       2,
	SeverityInfo:      1,
}

// SeverityRank returns the numeric rank of a severity, or 0 if unknown.
func SeverityRank(s Severity) int {
	return severityRank[s]
}

// HighestSeverity returns the highest-ranked severity among sev, or
// SeverityInfo if sev is empty.
func HighestSeverity(sev []Severity) Severity {
	highest := SeverityInfo
	best := 0
	for _, s := range sev {
		if r := SeverityRank(s); r > best {
			best = r
			highest = s
		}
	}
	return highest
}

// AlertContext carries the best-effort enrichment attached to a
// payload before it reaches the notification engine.
type AlertContext struct {
	RecentDeployments []Deployment
	SimilarIncidents  []SimilarIncident
	SuggestedFixes    []string
	WhyItMatters      string
	NextSteps         []string
}

// Deployment is a minimal external record the enricher consults for
// "recent deployments" context; the deployment store itself is an
// external collaborator.
type Deployment struct {
	ProjectID string
	Label     string
	Timestamp time.Time
}

// SimilarIncident is a minimal projection of a related Issue used in
// enrichment context.
type SimilarIncident struct {
	IssueID     string
	Fingerprint string
	Message     string
	LastSeen    time.Time
}

// AlertLinks are the outbound URLs embedded in rendered notifications.
type AlertLinks struct {
	Dashboard   string
	Acknowledge string
	Unsubscribe string
}

// AggregationInfo describes how an AlertPayload relates to the
// snapshots folded into it by the aggregator.
type AggregationInfo struct {
	Aggregated bool
	Count      int
	WindowMinutes float64
	StartedAt  time.Time
	EndedAt    time.Time
	Sample     []AlertSample // first 10 snapshots, projected
}

// AlertSample is the projection of an aggregated snapshot carried in
// AggregationInfo.Sample.
type AlertSample struct {
	ID              string
	Title           string
	Severity        Severity
	Environment     string
	Occurrences     int
	LastDetectedAt  time.Time
}

// AlertMetadata is the free-form metadata block. Known keys
// (ruleId, ruleType, reason, aggregation, escalation, ...) are typed
// fields; callers may also stash additional keys for channel renderers
// in Extra.
type AlertMetadata struct {
	RuleID   string
	RuleType RuleType
	Reason   string

	Aggregation *AggregationInfo

	Escalation       bool
	OriginalAlertID  string
	LevelName        string
	AfterMinutes     float64

	SourceFile   string
	UserSegments []string

	Extra map[string]any
}

// AlertPayload is the ephemeral unit handed from the trigger pipeline
// through enrichment to the notification engine; escalation entries
// persist a snapshot of it.
type AlertPayload struct {
	AlertID string // assigned at dispatch if absent

	Title   string
	Summary string

	Severity    Severity
	Environment []string // one or more environment labels

	Occurrences    int
	AffectedUsers  int

	Fingerprint string

	FirstDetectedAt time.Time
	LastDetectedAt  time.Time

	Metadata AlertMetadata
	Links    AlertLinks
	Context  AlertContext
}

// Clone returns a shallow deep-copy safe to hand to a concurrent
// dispatcher: slices and the metadata/context blocks are copied so the
// notification engine's stored snapshot cannot be mutated by a caller
// still holding the original.
func (p AlertPayload) Clone() AlertPayload {
	cp := p

	cp.Environment = append([]string(nil), p.Environment...)

	cp.Metadata.UserSegments = append([]string(nil), p.Metadata.UserSegments...)
	if p.Metadata.Extra != nil {
		cp.Metadata.Extra = make(map[string]any, len(p.Metadata.Extra))
		for k, v := range p.Metadata.Extra {
			cp.Metadata.Extra[k] = v
		}
	}
	if p.Metadata.Aggregation != nil {
		agg := *p.Metadata.Aggregation
		agg.Sample = append([]AlertSample(nil), p.Metadata.Aggregation.Sample...)
		cp.Metadata.Aggregation = &agg
	}

	cp.Context.RecentDeployments = append([]Deployment(nil), p.Context.RecentDeployments...)
	cp.Context.SimilarIncidents = append([]SimilarIncident(nil), p.Context.SimilarIncidents...)
	cp.Context.SuggestedFixes = append([]string(nil), p.Context.SuggestedFixes...)
	cp.Context.NextSteps = append([]string(nil), p.Context.NextSteps...)

	return cp
}
