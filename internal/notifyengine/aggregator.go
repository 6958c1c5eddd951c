package notifyengine

import (
	"context"
	"fmt"
	"time"

	"errwatch/internal/model"
)

const minTimerDelay = 10 * time.Millisecond

// ProcessTriggeredAlert appends alert to the aggregation bucket for
// rule.RuleID, arming a flush timer if none is armed yet. It satisfies
// trigger.AlertSink so the trigger pipeline can hand off directly to
// the engine.
func (e *Engine) ProcessTriggeredAlert(ctx context.Context, project model.Project, rule model.AlertRule, alert model.AlertPayload) error {
	key := rule.RuleID
	window := e.cfg.AggregationWindow

	e.mu.Lock()
	b, ok := e.buckets[key]
	if !ok {
		b = &bucket{startedAt: e.now()}
		e.buckets[key] = b
	}
	b.project = project
	b.rule = rule
	b.alerts = append(b.alerts, alert.Clone())

	flushNow := window <= 0
	if !flushNow && b.timer == nil {
		b.timer = time.AfterFunc(clampDelay(window), func() { e.flush(context.Background(), key) })
	}
	e.mu.Unlock()

	if flushNow {
		return e.flush(ctx, key)
	}
	return nil
}

func clampDelay(d time.Duration) time.Duration {
	if d < minTimerDelay {
		return minTimerDelay
	}
	return d
}

// flush dispatches the aggregated contents of the bucket named by key,
// re-arming on an unexpired cooldown or a failed dispatch, and removing
// the bucket only once it has been successfully handed to the channel
// dispatcher.
func (e *Engine) flush(ctx context.Context, key string) error {
	e.mu.Lock()
	b, ok := e.buckets[key]
	if !ok {
		e.mu.Unlock()
		return nil
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	cooldown := cooldownFor(b.rule, e.cfg.DefaultCooldown)
	lastDispatchMs := e.cooldowns[key]
	if cooldown > 0 && lastDispatchMs > 0 {
		elapsed := time.Duration(e.now().UnixMilli()-lastDispatchMs) * time.Millisecond
		if elapsed < cooldown {
			remaining := cooldown - elapsed
			rearm := remaining
			if e.cfg.AggregationWindow > rearm {
				rearm = e.cfg.AggregationWindow
			}
			b.timer = time.AfterFunc(clampDelay(rearm), func() { e.flush(context.Background(), key) })
			e.mu.Unlock()
			return nil
		}
	}

	project, rule := b.project, b.rule
	snapshots := append([]model.AlertPayload(nil), b.alerts...)
	startedAt := b.startedAt
	e.mu.Unlock()

	aggregated := aggregate(rule, snapshots, startedAt, e.now())

	if _, err := e.dispatchAlert(ctx, project, rule, aggregated); err != nil {
		e.log.Errorw("aggregated dispatch failed, re-arming bucket", "ruleId", key, "error", err)
		e.mu.Lock()
		if existing, ok := e.buckets[key]; ok {
			rearm := e.cfg.AggregationWindow
			if rearm < time.Second {
				rearm = time.Second
			}
			existing.timer = time.AfterFunc(rearm, func() { e.flush(context.Background(), key) })
		}
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	delete(e.buckets, key)
	e.mu.Unlock()
	return nil
}

func cooldownFor(rule model.AlertRule, defaultCooldown time.Duration) time.Duration {
	if rule.CooldownMinutes > 0 {
		return time.Duration(rule.CooldownMinutes * float64(time.Minute))
	}
	return defaultCooldown
}

// aggregate folds snapshots into a single AlertPayload. A lone
// snapshot is emitted as-is with aggregated=false; multiple snapshots
// are merged per the rules in the notification engine's aggregation
// flow.
func aggregate(rule model.AlertRule, snapshots []model.AlertPayload, startedAt, endedAt time.Time) model.AlertPayload {
	windowMinutes := endedAt.Sub(startedAt).Minutes()

	if len(snapshots) == 1 {
		alert := snapshots[0]
		alert.Metadata.Aggregation = &model.AggregationInfo{
			Aggregated:    false,
			Count:         1,
			WindowMinutes: windowMinutes,
			StartedAt:     startedAt,
			EndedAt:       endedAt,
		}
		return alert
	}

	var (
		severities    []model.Severity
		environments  = map[string]struct{}{}
		occurrences   int
		affectedUsers int
		first, last   time.Time
	)

	for i, s := range snapshots {
		severities = append(severities, s.Severity)
		for _, env := range s.Environment {
			environments[env] = struct{}{}
		}
		occurrences += s.Occurrences
		affectedUsers += s.AffectedUsers
		if i == 0 || s.FirstDetectedAt.Before(first) {
			first = s.FirstDetectedAt
		}
		if i == 0 || s.LastDetectedAt.After(last) {
			last = s.LastDetectedAt
		}
	}

	sample := snapshots
	if len(sample) > 10 {
		sample = sample[:10]
	}
	projected := make([]model.AlertSample, 0, len(sample))
	for _, s := range sample {
		env := ""
		if len(s.Environment) > 0 {
			env = s.Environment[0]
		}
		projected = append(projected, model.AlertSample{
			ID:             s.AlertID,
			Title:          s.Title,
			Severity:       s.Severity,
			Environment:    env,
			Occurrences:    s.Occurrences,
			LastDetectedAt: s.LastDetectedAt,
		})
	}

	envList := make([]string, 0, len(environments))
	for env := range environments {
		envList = append(envList, env)
	}

	return model.AlertPayload{
		Title:           fmt.Sprintf("%d alerts triggered for %s", len(snapshots), rule.Name),
		Summary:         fmt.Sprintf("%d alerts between %s and %s", len(snapshots), startedAt.Format(time.RFC3339), endedAt.Format(time.RFC3339)),
		Severity:        model.HighestSeverity(severities),
		Environment:     envList,
		Occurrences:     occurrences,
		AffectedUsers:   affectedUsers,
		FirstDetectedAt: first,
		LastDetectedAt:  last,
		Metadata: model.AlertMetadata{
			RuleID:   rule.RuleID,
			RuleType: rule.Type,
			Aggregation: &model.AggregationInfo{
				Aggregated:    true,
				Count:         len(snapshots),
				WindowMinutes: windowMinutes,
				StartedAt:     startedAt,
				EndedAt:       endedAt,
				Sample:        projected,
			},
		},
	}
}
