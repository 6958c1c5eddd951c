package notifyengine

import "context"

// Acknowledge marks alertID's escalation entry acknowledged, stops its
// timer, and deletes it from the store. Returns whether an entry was
// found; idempotent.
func (e *Engine) Acknowledge(ctx context.Context, alertID string) bool {
	return e.settle(ctx, alertID, func(es *escalationState) { es.entry.Acknowledged = true })
}

// Resolve marks alertID's escalation entry resolved, stops its timer,
// and deletes it from the store. Returns whether an entry was found;
// idempotent.
func (e *Engine) Resolve(ctx context.Context, alertID string) bool {
	return e.settle(ctx, alertID, func(es *escalationState) { es.entry.Resolved = true })
}

func (e *Engine) settle(ctx context.Context, alertID string, mark func(*escalationState)) bool {
	e.mu.Lock()
	es, ok := e.escalations[alertID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	mark(es)
	if es.timer != nil {
		es.timer.Stop()
	}
	delete(e.escalations, alertID)
	e.mu.Unlock()

	if err := e.state.DeleteEscalation(ctx, alertID); err != nil {
		e.log.Errorw("delete escalation entry failed", "alertId", alertID, "error", err)
	}
	return true
}
