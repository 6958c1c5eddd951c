// Package ingest implements the one write path into the Issue/
// Occurrence store: sanitize, fingerprint, upsert the Issue, append the
// Occurrence, and fan out the asynchronous trigger evaluation.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"errwatch/internal/apperrors"
	"errwatch/internal/eventbus"
	"errwatch/internal/fingerprint"
	"errwatch/internal/model"
	"errwatch/internal/sanitize"
	"errwatch/internal/store"
)

// Result is the outcome of a successful ingest call.
type Result struct {
	Issue       model.Issue
	Occurrence  model.Occurrence
	Fingerprint string
	IsNew       bool
}

// TriggerEnvelope is the fire-and-forget payload published on
// eventbus.TopicTrigger. It carries the full tuple rather than IDs so
// the trigger subscriber needs no additional store round-trips beyond
// what rule evaluation itself requires.
type TriggerEnvelope struct {
	Project        model.Project
	Issue          model.Issue
	Occurrence     model.Occurrence
	IsNew          bool
	SanitizedEvent model.RawEvent
}

// AnalyticsInvalidation is the minimal payload published on
// eventbus.TopicAnalyticsInvalidate. Consumption lives outside this
// module; ingestion's contract is only to publish it.
type AnalyticsInvalidation struct {
	ProjectID   string
	Fingerprint string
}

// Clock abstracts the current time for deterministic tests.
type Clock func() time.Time

// Ingestor sanitizes, fingerprints, and persists raw events.
type Ingestor struct {
	sanitizer     *sanitize.Sanitizer
	fingerprinter *fingerprint.Fingerprinter
	issues        store.IssueStore
	occurrences   store.OccurrenceStore
	bus           *eventbus.Bus
	now           Clock
	log           *zap.SugaredLogger
}

// New returns an Ingestor. now defaults to time.Now when nil.
func New(issues store.IssueStore, occurrences store.OccurrenceStore, bus *eventbus.Bus, now Clock, log *zap.SugaredLogger) *Ingestor {
	if now == nil {
		now = time.Now
	}
	return &Ingestor{
		sanitizer:     sanitize.New(),
		fingerprinter: fingerprint.New(),
		issues:        issues,
		occurrences:   occurrences,
		bus:           bus,
		now:           now,
		log:           log,
	}
}

// Ingest sanitizes event per project's scrub policy, upserts the
// grouped Issue, appends an Occurrence, and fans out the trigger
// pipeline and analytics invalidation tasks. Errors returned here are
// database failures during the Issue upsert or the Occurrence insert;
// callers at the HTTP
// boundary may soft-fail on them, but Ingest itself always surfaces
// them.
func (g *Ingestor) Ingest(ctx context.Context, event model.RawEvent, project model.Project) (Result, error) {
	sanitized := g.sanitizer.Sanitize(event, project.Scrub)
	fp := g.fingerprinter.Compute(sanitized.Message, sanitized.StackTrace)
	timestamp := g.eventTimestamp(sanitized)

	issue, isNew, err := g.upsertIssue(ctx, project, sanitized, fp, timestamp)
	if err != nil {
		return Result{}, err
	}

	occurrence := model.Occurrence{
		OccurrenceID: uuid.NewString(),
		IssueID:      issue.IssueID,
		ProjectID:    project.ProjectID,
		Timestamp:    timestamp,
		Environment:  sanitized.Environment,
		StackTrace:   sanitized.StackTrace,
	}
	if sanitized.HasMetadata {
		occurrence.Metadata = sanitized.Metadata
	}
	if sanitized.HasUserContext {
		occurrence.UserContext = sanitized.UserContext
	}
	if project.RetentionDays > 0 {
		expires := timestamp.AddDate(0, 0, project.RetentionDays)
		occurrence.ExpiresAt = &expires
	}

	if err := g.occurrences.Insert(ctx, occurrence); err != nil {
		return Result{}, fmt.Errorf("insert occurrence: %w", err)
	}

	g.fanOut(project, issue, occurrence, isNew, sanitized)

	return Result{Issue: issue, Occurrence: occurrence, Fingerprint: fp, IsNew: isNew}, nil
}

func (g *Ingestor) eventTimestamp(event model.RawEvent) time.Time {
	if event.Timestamp != nil {
		return *event.Timestamp
	}
	return g.now()
}

// upsertIssue looks up (projectID, fingerprint); if found, it applies
// the merge-update path. If absent, it creates a new Issue, retrying
// via the update path if creation loses a unique-key race.
func (g *Ingestor) upsertIssue(ctx context.Context, project model.Project, event model.RawEvent, fp string, timestamp time.Time) (model.Issue, bool, error) {
	existing, err := g.issues.FindByFingerprint(ctx, project.ProjectID, fp)
	if err != nil {
		return model.Issue{}, false, fmt.Errorf("find issue by fingerprint: %w", err)
	}
	if existing != nil {
		updated := mergeIssue(*existing, event, fp, timestamp)
		if err := g.issues.Update(ctx, updated); err != nil {
			return model.Issue{}, false, fmt.Errorf("update issue: %w", err)
		}
		return updated, false, nil
	}

	created := newIssue(project, event, fp, timestamp)
	if err := g.issues.Insert(ctx, created); err != nil {
		var transient *apperrors.TransientStoreError
		if !errors.As(err, &transient) || transient.Code != apperrors.CodeStoreConflict {
			return model.Issue{}, false, fmt.Errorf("insert issue: %w", err)
		}
		g.log.Infow("lost issue creation race, retrying as update", "projectId", project.ProjectID, "fingerprint", fp)
		winner, findErr := g.issues.FindByFingerprint(ctx, project.ProjectID, fp)
		if findErr != nil || winner == nil {
			return model.Issue{}, false, fmt.Errorf("find issue after lost race: %w", findErr)
		}
		updated := mergeIssue(*winner, event, fp, timestamp)
		if err := g.issues.Update(ctx, updated); err != nil {
			return model.Issue{}, false, fmt.Errorf("update issue after lost race: %w", err)
		}
		return updated, false, nil
	}

	return created, true, nil
}

func newIssue(project model.Project, event model.RawEvent, fp string, timestamp time.Time) model.Issue {
	issue := model.Issue{
		IssueID:     uuid.NewString(),
		ProjectID:   project.ProjectID,
		Message:     event.Message,
		Environment: event.Environment,
		StackTrace:  event.StackTrace,
		Fingerprint: fp,
		Count:       1,
		FirstSeen:   timestamp,
		LastSeen:    timestamp,
		Status:      model.StatusNew,
		StatusHistory: []model.StatusChange{
			{To: model.StatusNew, ChangedAt: timestamp, ChangedBy: "system"},
		},
	}
	if event.HasMetadata {
		issue.Metadata = cloneAnyMap(event.Metadata)
	}
	if event.HasUserContext {
		issue.UserContext = cloneAnyMap(event.UserContext)
	}
	return issue
}

// mergeIssue increments count, advances lastSeen, overwrites message,
// environment, and stackTrace, and merges metadata/replaces
// userContext only for fields the sanitized event actually carried.
func mergeIssue(issue model.Issue, event model.RawEvent, fp string, timestamp time.Time) model.Issue {
	issue.Message = event.Message
	issue.Environment = event.Environment
	issue.StackTrace = event.StackTrace
	issue.Fingerprint = fp
	issue.Count++
	if timestamp.After(issue.LastSeen) {
		issue.LastSeen = timestamp
	}
	if event.HasMetadata {
		if issue.Metadata == nil {
			issue.Metadata = make(map[string]any, len(event.Metadata))
		}
		for k, v := range event.Metadata {
			issue.Metadata[k] = v
		}
	}
	if event.HasUserContext {
		issue.UserContext = cloneAnyMap(event.UserContext)
	}
	return issue
}

func cloneAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (g *Ingestor) fanOut(project model.Project, issue model.Issue, occurrence model.Occurrence, isNew bool, sanitized model.RawEvent) {
	if g.bus == nil {
		return
	}

	triggerPayload, err := json.Marshal(TriggerEnvelope{
		Project:        project,
		Issue:          issue,
		Occurrence:     occurrence,
		IsNew:          isNew,
		SanitizedEvent: sanitized,
	})
	if err != nil {
		g.log.Errorw("failed to encode trigger envelope", "issueId", issue.IssueID, "error", err)
	} else {
		g.bus.Publish(eventbus.TopicTrigger, triggerPayload)
	}

	invalidation, err := json.Marshal(AnalyticsInvalidation{ProjectID: project.ProjectID, Fingerprint: issue.Fingerprint})
	if err != nil {
		g.log.Errorw("failed to encode analytics invalidation", "projectId", project.ProjectID, "error", err)
		return
	}
	g.bus.Publish(eventbus.TopicAnalyticsInvalidate, invalidation)
}
