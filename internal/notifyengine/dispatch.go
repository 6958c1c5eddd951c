package notifyengine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"errwatch/internal/model"
)

// dispatchAlert assigns an ID if absent, hands the alert to the
// channel dispatcher, persists the cooldown, and arms the escalation
// ladder. Channel-level failures are captured per-channel by the
// dispatcher and never surface here; a returned error means the
// dispatch call itself could not be made (e.g. no dispatcher wired).
func (e *Engine) dispatchAlert(ctx context.Context, project model.Project, rule model.AlertRule, alert model.AlertPayload) (model.AlertPayload, error) {
	if alert.AlertID == "" {
		alert.AlertID = newAlertID()
	}
	alert.Metadata.RuleID = rule.RuleID
	alert.Metadata.RuleType = rule.Type

	if e.dispatcher == nil {
		return alert, fmt.Errorf("no channel dispatcher configured")
	}
	results := e.dispatcher.Dispatch(ctx, project, rule, alert)
	for _, r := range results {
		if r.Err != nil {
			e.log.Warnw("channel delivery failed", "ruleId", rule.RuleID, "alertId", alert.AlertID, "type", r.Type, "target", r.Target, "error", r.Err)
		}
	}

	nowMs := e.now().UnixMilli()
	e.mu.Lock()
	e.cooldowns[rule.RuleID] = nowMs
	e.mu.Unlock()
	if err := e.state.SaveCooldown(ctx, rule.RuleID, nowMs); err != nil {
		e.log.Errorw("persist cooldown failed", "ruleId", rule.RuleID, "error", err)
	}

	e.armEscalation(ctx, project, rule, alert)
	return alert, nil
}

// getLevels normalizes a rule's escalation configuration into a
// triggerAt-stamped, ascending ladder. Returns nil when escalation is
// disabled or absent.
func (e *Engine) getLevels(rule model.AlertRule, sentAt time.Time) []model.EscalationLevelState {
	if rule.Escalation == nil || !rule.Escalation.Enabled {
		return nil
	}
	esc := rule.Escalation

	levels := esc.Levels
	if len(levels) == 0 {
		levels = []model.EscalationLevel{{
			Name:         "Manager escalation",
			AfterMinutes: e.cfg.DefaultEscalationMinutes,
			Channels:     esc.FallbackChannels,
		}}
	}

	states := make([]model.EscalationLevelState, 0, len(levels))
	for _, lvl := range levels {
		after := lvl.AfterMinutes
		if after < 0.01 {
			after = 0.01
		}
		chans := lvl.Channels
		if len(chans) == 0 {
			chans = esc.FallbackChannels
		}
		states = append(states, model.EscalationLevelState{
			Name:         lvl.Name,
			AfterMinutes: after,
			Channels:     chans,
			TriggerAt:    sentAt.Add(time.Duration(after * float64(time.Minute))),
		})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].AfterMinutes < states[j].AfterMinutes })
	return states
}

// armEscalation builds the escalation entry for a freshly dispatched
// alert, persists it before arming any timer, and schedules the first
// pending level.
func (e *Engine) armEscalation(ctx context.Context, project model.Project, rule model.AlertRule, alert model.AlertPayload) {
	levels := e.getLevels(rule, e.now())
	if len(levels) == 0 {
		return
	}

	entry := model.EscalationEntry{
		AlertID:         alert.AlertID,
		ProjectSnapshot: project,
		RuleSnapshot:    rule,
		AlertSnapshot:   alert,
		SentAt:          e.now(),
		PendingLevels:   levels,
		CurrentLevel:    0,
	}

	if err := e.state.SaveEscalation(ctx, entry); err != nil {
		e.log.Errorw("persist escalation entry failed", "alertId", alert.AlertID, "error", err)
	}

	e.mu.Lock()
	e.escalations[alert.AlertID] = &escalationState{entry: entry}
	e.mu.Unlock()

	e.armNextLevel(alert.AlertID)
}

// armNextLevel schedules a timer for entry.PendingLevels[entry.CurrentLevel].
func (e *Engine) armNextLevel(alertID string) {
	e.mu.Lock()
	es, ok := e.escalations[alertID]
	if !ok || es.entry.CurrentLevel >= len(es.entry.PendingLevels) {
		e.mu.Unlock()
		return
	}
	level := es.entry.PendingLevels[es.entry.CurrentLevel]
	delay := clampDelay(e.now().Sub(level.TriggerAt) * -1)
	if es.timer != nil {
		es.timer.Stop()
	}
	es.timer = time.AfterFunc(delay, func() { e.fireEscalationLevel(alertID) })
	e.mu.Unlock()
}

// fireEscalationLevel dispatches the sub-alert for the current pending
// level (unless the entry has since been acknowledged or resolved),
// advances to the next level, and re-arms or clears the entry.
func (e *Engine) fireEscalationLevel(alertID string) {
	ctx := context.Background()

	e.mu.Lock()
	es, ok := e.escalations[alertID]
	if !ok {
		e.mu.Unlock()
		return
	}
	if es.entry.Acknowledged || es.entry.Resolved {
		e.mu.Unlock()
		return
	}
	if es.entry.CurrentLevel >= len(es.entry.PendingLevels) {
		e.mu.Unlock()
		return
	}
	level := es.entry.PendingLevels[es.entry.CurrentLevel]
	project := es.entry.ProjectSnapshot
	rule := es.entry.RuleSnapshot
	original := es.entry.AlertSnapshot
	es.entry.CurrentLevel++
	nextLevel := es.entry.CurrentLevel
	levelCount := len(es.entry.PendingLevels)
	entryCopy := es.entry
	e.mu.Unlock()

	subAlert := model.AlertPayload{
		AlertID:         fmt.Sprintf("%s-escalation-%.2f", alertID, level.AfterMinutes),
		Title:           fmt.Sprintf("Escalation: %s", original.Title),
		Summary:         fmt.Sprintf("Alert unresolved for %.0f minutes.", level.AfterMinutes),
		Severity:        model.SeverityCritical,
		Environment:     original.Environment,
		Fingerprint:     original.Fingerprint,
		FirstDetectedAt: original.FirstDetectedAt,
		LastDetectedAt:  e.now(),
		Links:           original.Links,
		Context:         original.Context,
		Metadata: model.AlertMetadata{
			RuleID:          rule.RuleID,
			RuleType:        rule.Type,
			Escalation:      true,
			OriginalAlertID: alertID,
			LevelName:       level.Name,
			AfterMinutes:    level.AfterMinutes,
		},
	}

	escalatedRule := rule
	escalatedRule.Channels = level.Channels

	if e.dispatcher != nil {
		results := e.dispatcher.Dispatch(ctx, project, escalatedRule, subAlert)
		for _, r := range results {
			if r.Err != nil {
				e.log.Warnw("escalation channel delivery failed", "alertId", alertID, "type", r.Type, "target", r.Target, "error", r.Err)
			}
		}
	}

	if nextLevel >= levelCount {
		e.clearEscalation(ctx, alertID)
		return
	}

	if err := e.state.SaveEscalation(ctx, entryCopy); err != nil {
		e.log.Errorw("persist escalation progress failed", "alertId", alertID, "error", err)
	}
	e.armNextLevel(alertID)
}

func (e *Engine) clearEscalation(ctx context.Context, alertID string) {
	e.mu.Lock()
	if es, ok := e.escalations[alertID]; ok {
		if es.timer != nil {
			es.timer.Stop()
		}
		delete(e.escalations, alertID)
	}
	e.mu.Unlock()

	if err := e.state.DeleteEscalation(ctx, alertID); err != nil {
		e.log.Errorw("delete escalation entry failed", "alertId", alertID, "error", err)
	}
}
