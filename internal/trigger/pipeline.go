// Package trigger implements the trigger pipeline: for a freshly
// ingested (project, issue, occurrence) tuple, it loads the project's
// enabled rules, assembles a metrics snapshot per rule, evaluates it,
// and for every triggered rule builds, enriches, and dispatches an
// AlertPayload.
package trigger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"errwatch/internal/model"
	"errwatch/internal/rules"
	"errwatch/internal/store"
)

// Enricher attaches contextual detail to a triggered alert. Satisfied
// by *enrich.Enricher; kept as an interface here so the pipeline does
// not import the enrichment package's store dependencies directly.
type Enricher interface {
	Enrich(ctx context.Context, projectID string, payload model.AlertPayload, reason string, referenceTime time.Time) model.AlertPayload
}

// AlertSink receives a triggered, enriched alert for aggregation,
// cooldown, and dispatch. Satisfied by the notification engine.
type AlertSink interface {
	ProcessTriggeredAlert(ctx context.Context, project model.Project, rule model.AlertRule, alert model.AlertPayload) error
}

// Clock abstracts the current time for deterministic tests.
type Clock func() time.Time

// Pipeline is the trigger pipeline's dependency bundle.
type Pipeline struct {
	ruleStore       store.RuleStore
	occurrenceStore store.OccurrenceStore
	enricher        Enricher
	sink            AlertSink
	now             Clock
	log             *zap.SugaredLogger
}

// New returns a Pipeline. now defaults to time.Now when nil.
func New(ruleStore store.RuleStore, occurrenceStore store.OccurrenceStore, enricher Enricher, sink AlertSink, now Clock, log *zap.SugaredLogger) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{ruleStore: ruleStore, occurrenceStore: occurrenceStore, enricher: enricher, sink: sink, now: now, log: log}
}

// EvaluateAndDispatch runs every enabled rule for project against the
// fresh (issue, occurrence, isNew, sanitizedEvent) tuple. Each rule's
// evaluation, enrichment, and dispatch is independent: a failure on
// one rule is logged and does not stop the others.
func (p *Pipeline) EvaluateAndDispatch(ctx context.Context, project model.Project, issue model.Issue, occurrence model.Occurrence, isNew bool, sanitizedEvent model.RawEvent) error {
	enabledRules, err := p.ruleStore.ListEnabled(ctx, project.ProjectID)
	if err != nil {
		return fmt.Errorf("list enabled rules: %w", err)
	}
	sort.Slice(enabledRules, func(i, j int) bool { return enabledRules[i].RuleID < enabledRules[j].RuleID })

	for _, rule := range enabledRules {
		if err := p.evaluateOne(ctx, project, rule, issue, occurrence, isNew, sanitizedEvent); err != nil {
			p.log.Errorw("rule evaluation failed", "ruleId", rule.RuleID, "projectId", project.ProjectID, "error", err)
		}
	}
	return nil
}

func (p *Pipeline) evaluateOne(ctx context.Context, project model.Project, rule model.AlertRule, issue model.Issue, occurrence model.Occurrence, isNew bool, sanitizedEvent model.RawEvent) error {
	metrics := baseMetrics(issue, occurrence, isNew, sanitizedEvent)

	if (rule.Type == model.RuleThreshold || rule.Type == model.RuleSpike) && metrics.Fingerprint == "" {
		p.log.Infow("skipping windowed rule without fingerprint", "ruleId", rule.RuleID)
		return nil
	}

	now := p.now()

	switch rule.Type {
	case model.RuleThreshold:
		if err := p.fillThresholdWindow(ctx, project.ProjectID, rule, &metrics, now); err != nil {
			return err
		}
	case model.RuleSpike:
		if err := p.fillThresholdWindow(ctx, project.ProjectID, rule, &metrics, now); err != nil {
			return err
		}
		if err := p.fillBaselineWindow(ctx, project.ProjectID, rule, &metrics); err != nil {
			return err
		}
	}

	result := rules.Evaluate(rule, metrics)
	if !result.Triggered {
		return nil
	}

	payload := buildPayload(rule, metrics, result, now)
	if p.enricher != nil {
		payload = p.enricher.Enrich(ctx, project.ProjectID, payload, result.Reason, now)
	}
	if p.sink == nil {
		return nil
	}
	return p.sink.ProcessTriggeredAlert(ctx, project, rule, payload)
}

func (p *Pipeline) fillThresholdWindow(ctx context.Context, projectID string, rule model.AlertRule, metrics *model.Metrics, now time.Time) error {
	windowMinutes := rule.Conditions.WindowMinutes
	if windowMinutes <= 0 {
		return nil
	}
	windowStart := now.Add(-time.Duration(windowMinutes * float64(time.Minute)))
	// CountInWindow excludes its upper bound; widening it by one
	// millisecond (the SQLite store's resolution) counts an occurrence
	// stamped exactly at now.
	count, err := p.occurrenceStore.CountInWindow(ctx, projectID, metrics.Fingerprint, metrics.Environment, windowStart, now.Add(time.Millisecond))
	if err != nil {
		return fmt.Errorf("count occurrences in window: %w", err)
	}
	metrics.WindowStart = windowStart
	metrics.WindowMinutes = windowMinutes
	metrics.WindowCount = count
	return nil
}

func (p *Pipeline) fillBaselineWindow(ctx context.Context, projectID string, rule model.AlertRule, metrics *model.Metrics) error {
	baselineMinutes := rule.Conditions.BaselineMinutes
	if baselineMinutes <= 0 {
		return nil
	}
	baselineStart := metrics.WindowStart.Add(-time.Duration(baselineMinutes * float64(time.Minute)))
	count, err := p.occurrenceStore.CountInWindow(ctx, projectID, metrics.Fingerprint, metrics.Environment, baselineStart, metrics.WindowStart)
	if err != nil {
		return fmt.Errorf("count baseline occurrences: %w", err)
	}
	metrics.BaselineMinutes = baselineMinutes
	metrics.BaselineCount = count
	return nil
}

func baseMetrics(issue model.Issue, occurrence model.Occurrence, isNew bool, event model.RawEvent) model.Metrics {
	file := firstNonEmptyFile(occurrence.StackTrace)
	if file == "" {
		file = firstNonEmptyFile(issue.StackTrace)
	}
	return model.Metrics{
		Environment:  occurrence.Environment,
		Severity:     severityFromEvent(event),
		Fingerprint:  issue.Fingerprint,
		IsNew:        isNew,
		File:         file,
		SourceFile:   file,
		UserSegments: userSegments(event),
	}
}

func firstNonEmptyFile(frames []model.StackFrame) string {
	for _, f := range frames {
		if f.File != "" {
			return f.File
		}
	}
	return ""
}

func severityFromEvent(event model.RawEvent) string {
	if v, ok := stringField(event.Context, "severity"); ok {
		return v
	}
	if v, ok := stringField(event.Metadata, "severity"); ok {
		return v
	}
	return "error"
}

func stringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

func userSegments(event model.RawEvent) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}

	for _, key := range []string{"segment", "plan", "tier"} {
		if v, ok := stringField(event.UserContext, key); ok {
			add(v)
		}
	}
	if v, ok := stringField(event.Metadata, "userSegment"); ok {
		add(v)
	}
	if raw, ok := event.Metadata["userSegments"]; ok {
		if list, ok := raw.([]string); ok {
			for _, v := range list {
				add(v)
			}
		}
	}
	return out
}

func buildPayload(rule model.AlertRule, metrics model.Metrics, result rules.Result, now time.Time) model.AlertPayload {
	return model.AlertPayload{
		Title:           titleFor(rule, result.Reason),
		Summary:         summaryFor(rule, metrics, result.Reason),
		Severity:        severityFor(metrics),
		Environment:     environmentList(metrics.Environment),
		Occurrences:     metrics.WindowCount,
		Fingerprint:     metrics.Fingerprint,
		FirstDetectedAt: now,
		LastDetectedAt:  now,
		Metadata: model.AlertMetadata{
			RuleID:       rule.RuleID,
			RuleType:     rule.Type,
			Reason:       result.Reason,
			SourceFile:   metrics.SourceFile,
			UserSegments: metrics.UserSegments,
		},
	}
}

func titleFor(rule model.AlertRule, reason string) string {
	if rule.Name != "" {
		return rule.Name
	}
	return reason
}

func summaryFor(rule model.AlertRule, metrics model.Metrics, reason string) string {
	switch reason {
	case "threshold_exceeded":
		return fmt.Sprintf("Detected %d occurrences in the last %g minutes (threshold %g).",
			metrics.WindowCount, metrics.WindowMinutes, rule.Conditions.Threshold)
	case "spike_detected":
		return fmt.Sprintf("Error rate increased by %g%% compared to baseline.", rule.Conditions.IncreasePercent)
	case "new_error":
		return fmt.Sprintf("New fingerprint detected in %s.", metrics.Environment)
	case "critical_severity", "critical_fingerprint":
		return "Critical alert triggered."
	default:
		return reason
	}
}

func severityFor(metrics model.Metrics) model.Severity {
	switch metrics.Severity {
	case "critical":
		return model.SeverityCritical
	case "high", "error":
		return model.SeverityHigh
	case "medium", "warning", "warn":
		return model.SeverityMedium
	case "low":
		return model.SeverityLow
	default:
		return model.SeverityInfo
	}
}

func environmentList(environment string) []string {
	if environment == "" {
		return nil
	}
	return []string{environment}
}
