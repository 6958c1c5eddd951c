package notifyengine

import (
	"context"

	"errwatch/internal/model"
)

// Start loads cooldowns and in-flight escalation entries from the
// store and re-arms timers for the ones still pending. Call once at
// process boot after the store is reachable.
func (e *Engine) Start(ctx context.Context) error {
	cooldowns, err := e.state.ListCooldowns(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	for _, c := range cooldowns {
		e.cooldowns[c.RuleID] = c.LastDispatchMs
	}
	e.mu.Unlock()

	entries, err := e.state.ListEscalations(ctx)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		e.recoverEscalation(ctx, entry)
	}
	return nil
}

// recoverEscalation either re-arms a still-pending escalation entry or
// deletes it when it is malformed (no pending levels, or already past
// its own level count) rather than retrying indefinitely.
func (e *Engine) recoverEscalation(ctx context.Context, entry model.EscalationEntry) {
	if entry.Acknowledged || entry.Resolved {
		if err := e.state.DeleteEscalation(ctx, entry.AlertID); err != nil {
			e.log.Errorw("delete settled escalation entry failed", "alertId", entry.AlertID, "error", err)
		}
		return
	}
	if len(entry.PendingLevels) == 0 || entry.CurrentLevel < 0 || entry.CurrentLevel >= len(entry.PendingLevels) {
		e.log.Warnw("dropping malformed escalation entry on recovery", "alertId", entry.AlertID)
		if err := e.state.DeleteEscalation(ctx, entry.AlertID); err != nil {
			e.log.Errorw("delete malformed escalation entry failed", "alertId", entry.AlertID, "error", err)
		}
		return
	}

	e.mu.Lock()
	e.escalations[entry.AlertID] = &escalationState{entry: entry}
	e.mu.Unlock()

	e.armNextLevel(entry.AlertID)
}
