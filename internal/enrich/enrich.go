// Package enrich builds the best-effort context block attached to an
// AlertPayload before it reaches the notification engine: recent
// deployments, similar incidents, suggested fixes, and a short
// narrative of why the alert matters and what to do next.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"errwatch/internal/model"
	"errwatch/internal/store"
)

const (
	maxDeployments = 3
	maxIncidents   = 3
	maxNextSteps   = 5
)

// Enricher builds the AlertContext block. Every method degrades to an
// empty result on failure; enrichment must never block dispatch.
type Enricher struct {
	deployments store.DeploymentStore
	issues      store.IssueStore
	lookback    time.Duration
	log         *zap.SugaredLogger
}

// New returns an Enricher reading recent deployments within
// ±lookback of the reference instant.
func New(deployments store.DeploymentStore, issues store.IssueStore, lookback time.Duration, log *zap.SugaredLogger) *Enricher {
	return &Enricher{deployments: deployments, issues: issues, lookback: lookback, log: log}
}

// Enrich fills the Context block of its copy of payload and returns
// that copy; the caller's value is not modified.
func (e *Enricher) Enrich(ctx context.Context, projectID string, payload model.AlertPayload, reason string, referenceTime time.Time) model.AlertPayload {
	payload.Context.RecentDeployments = e.recentDeployments(ctx, projectID, referenceTime)
	payload.Context.SimilarIncidents = e.similarIncidents(ctx, projectID, payload.Fingerprint, firstEnvironment(payload.Environment))
	payload.Context.SuggestedFixes = suggestedFixes(reason, payload, len(payload.Context.RecentDeployments) > 0)
	payload.Context.WhyItMatters = whyItMatters(payload, reason)
	payload.Context.NextSteps = nextSteps(reason, payload)
	return payload
}

func (e *Enricher) recentDeployments(ctx context.Context, projectID string, referenceTime time.Time) []model.Deployment {
	if e.deployments == nil {
		return nil
	}
	from := referenceTime.Add(-e.lookback)
	to := referenceTime.Add(e.lookback)
	deployments, err := e.deployments.ListRecent(ctx, projectID, from, to, maxDeployments)
	if err != nil {
		e.log.Warnw("failed to load recent deployments for enrichment", "projectId", projectID, "error", err)
		return nil
	}
	sort.Slice(deployments, func(i, j int) bool { return deployments[i].Timestamp.After(deployments[j].Timestamp) })
	if len(deployments) > maxDeployments {
		deployments = deployments[:maxDeployments]
	}
	return deployments
}

func (e *Enricher) similarIncidents(ctx context.Context, projectID, fingerprint, environment string) []model.SimilarIncident {
	if e.issues == nil {
		return nil
	}
	issues, err := e.issues.ListSimilar(ctx, projectID, fingerprint, environment, maxIncidents)
	if err != nil {
		e.log.Warnw("failed to load similar incidents for enrichment", "projectId", projectID, "error", err)
		return nil
	}
	out := make([]model.SimilarIncident, 0, len(issues))
	for _, issue := range issues {
		out = append(out, model.SimilarIncident{
			IssueID:     issue.IssueID,
			Fingerprint: issue.Fingerprint,
			Message:     issue.Message,
			LastSeen:    issue.LastSeen,
		})
	}
	return out
}

func firstEnvironment(environments []string) string {
	if len(environments) == 0 {
		return ""
	}
	return environments[0]
}

func suggestedFixes(reason string, payload model.AlertPayload, hasRecentDeployments bool) []string {
	var fixes []string

	if hasRecentDeployments {
		dep := payload.Context.RecentDeployments[0]
		fixes = append(fixes, fmt.Sprintf("Review deployment %q from %s for regressions.", dep.Label, dep.Timestamp.Format(time.RFC3339)))
	}

	if payload.Metadata.SourceFile != "" {
		fixes = append(fixes, fmt.Sprintf("Inspect recent changes to %s.", payload.Metadata.SourceFile))
	}

	switch reason {
	case "spike_detected":
		fixes = append(fixes, "Compare current traffic and error rates against the baseline window.")
	case "new_error":
		fixes = append(fixes, "Triage the new fingerprint before it accumulates further occurrences.")
	case "critical_severity", "critical_fingerprint":
		fixes = append(fixes, "Escalate to the on-call owner for this fingerprint immediately.")
	}

	if len(payload.Metadata.UserSegments) > 0 {
		fixes = append(fixes, fmt.Sprintf("Check impact scoped to user segments: %v.", payload.Metadata.UserSegments))
	}

	return fixes
}

func whyItMatters(payload model.AlertPayload, reason string) string {
	segments := "all users"
	if len(payload.Metadata.UserSegments) > 0 {
		segments = fmt.Sprintf("segments %v", payload.Metadata.UserSegments)
	}
	environment := firstEnvironment(payload.Environment)
	if environment == "" {
		environment = "an unspecified environment"
	}
	return fmt.Sprintf("%s severity issue in %s affecting %s with %d occurrences (%s).",
		capitalize(string(payload.Severity)), environment, segments, payload.Occurrences, reason)
}

func nextSteps(reason string, payload model.AlertPayload) []string {
	steps := []string{"Acknowledge the alert to stop further escalation."}

	switch reason {
	case "threshold_exceeded":
		steps = append(steps, "Check recent deploys and infrastructure health for the affected service.")
	case "spike_detected":
		steps = append(steps, "Confirm whether the increase correlates with a release or traffic shift.")
	case "new_error":
		steps = append(steps, "Assign the new issue to an owner.")
	case "critical_severity", "critical_fingerprint":
		steps = append(steps, "Page the on-call rotation if not already engaged.")
	}

	if len(payload.Context.SimilarIncidents) > 0 {
		steps = append(steps, "Review similar past incidents for a known fix.")
	}
	if payload.Links.Dashboard != "" {
		steps = append(steps, "Open the dashboard for full occurrence detail.")
	}
	steps = append(steps, "Resolve the issue once the underlying cause is fixed.")

	if len(steps) > maxNextSteps {
		steps = steps[:maxNextSteps]
	}
	return steps
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return string(s[0]-32) + s[1:]
}
