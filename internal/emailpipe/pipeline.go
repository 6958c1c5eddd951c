// Package emailpipe resolves alert recipients, routes them between
// immediate delivery and the digest queue according to their
// preferences and quiet hours, and renders the outbound messages.
package emailpipe

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"errwatch/internal/model"
	"errwatch/internal/store"
)

// Clock abstracts the current time for deterministic tests.
type Clock func() time.Time

// Links holds the base URLs the pipeline needs to build dashboard,
// acknowledge, and unsubscribe links.
type Links struct {
	DashboardBaseURL   string
	UnsubscribeBaseURL string
}

// Pipeline resolves recipients and renders/delivers alert emails. It
// satisfies channels.EmailSender, so the channel dispatcher can hand
// email channel targets straight to it.
type Pipeline struct {
	members   store.MemberStore
	digests   store.DigestStore
	transport Transport
	links     Links
	now       Clock
	log       *zap.SugaredLogger
}

// New returns a Pipeline. now defaults to time.Now when nil.
func New(members store.MemberStore, digests store.DigestStore, transport Transport, links Links, now Clock, log *zap.SugaredLogger) *Pipeline {
	if now == nil {
		now = time.Now
	}
	return &Pipeline{members: members, digests: digests, transport: transport, links: links, now: now, log: log}
}

// SendAlert resolves recipients (deduplicated case-insensitively,
// preserving first occurrence), then routes each to immediate send or
// the digest queue per their preferences. A per-recipient failure is
// logged and does not stop the others.
func (p *Pipeline) SendAlert(ctx context.Context, project model.Project, rule model.AlertRule, alert model.AlertPayload, recipients []string) error {
	seen := make(map[string]struct{}, len(recipients))
	var ordered []string
	for _, r := range recipients {
		key := strings.ToLower(r)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		ordered = append(ordered, r)
	}

	var lastErr error
	for _, email := range ordered {
		if err := p.routeOne(ctx, project, rule, alert, email); err != nil {
			p.log.Errorw("email routing failed for recipient", "email", email, "ruleId", rule.RuleID, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (p *Pipeline) routeOne(ctx context.Context, project model.Project, rule model.AlertRule, alert model.AlertPayload, email string) error {
	member, err := p.members.GetByEmail(ctx, project.ProjectID, email)
	if err != nil {
		return fmt.Errorf("look up member: %w", err)
	}

	if member == nil {
		return p.sendImmediate(email, "", alert)
	}
	if !member.Active || member.AlertPreferences.Mode == model.EmailDisabled {
		return nil
	}

	prefs := member.AlertPreferences
	if prefs.Mode == model.EmailDigest || quietHoursActive(prefs.QuietHours, p.now()) {
		return p.enqueueDigest(ctx, project.ProjectID, member.MemberID, rule.RuleID, alert)
	}

	return p.sendImmediate(email, prefs.UnsubscribeToken, alert)
}

func (p *Pipeline) sendImmediate(email, unsubscribeToken string, alert model.AlertPayload) error {
	msg := renderAlertEmail(email, p.links.DashboardBaseURL, p.links.UnsubscribeBaseURL, unsubscribeToken, alert)
	return p.transport.Send(msg)
}

func (p *Pipeline) enqueueDigest(ctx context.Context, projectID, memberID, ruleID string, alert model.AlertPayload) error {
	return p.digests.Enqueue(ctx, model.DigestQueueEntry{
		EntryID:       uuid.NewString(),
		ProjectID:     projectID,
		MemberID:      memberID,
		RuleID:        ruleID,
		AlertSnapshot: alert.Clone(),
		CreatedAt:     p.now(),
	})
}
