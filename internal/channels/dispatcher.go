// Package channels renders and delivers alert payloads to the
// destinations named on an AlertRule: webhook, Slack, Discord, Teams,
// and (by delegation) email.
package channels

import (
	"context"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"errwatch/internal/model"
)

// EmailSender delivers an alert to a set of email recipients. Satisfied
// by the email digest pipeline; injected here so this package never
// depends on SMTP directly.
type EmailSender interface {
	SendAlert(ctx context.Context, project model.Project, rule model.AlertRule, alert model.AlertPayload, recipients []string) error
}

// ChannelResult is the outcome of dispatching to a single destination.
type ChannelResult struct {
	Type   string
	Target string
	Err    error
}

// Dispatcher delivers an AlertPayload to every channel named on a rule.
// Results are returned in rule.Channels' literal order; email targets
// are still collected and delivered in a single aggregated call rather
// than one call per target, but that call's outcome is slotted back
// into each email channel's own position.
type Dispatcher struct {
	client       *http.Client
	email        EmailSender
	slackBreaker *gobreaker.CircuitBreaker[any]
	log          *zap.SugaredLogger
}

// New returns a Dispatcher. timeout bounds every outbound HTTP call;
// email may be nil if no rule ever names an email channel.
func New(timeout time.Duration, email EmailSender, log *zap.SugaredLogger) *Dispatcher {
	settings := gobreaker.Settings{
		Name:        "slack",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Dispatcher{
		client:       &http.Client{Timeout: timeout},
		email:        email,
		slackBreaker: gobreaker.NewCircuitBreaker[any](settings),
		log:          log,
	}
}

// Dispatch sends alert to every channel on rule.Channels and returns one
// ChannelResult per destination, in rule.Channels' literal order. Email
// targets are still collected and delivered in a single aggregated call
// per §4.7's cross-target dedup requirement, but that call is made
// before the per-channel loop so each email target's result can be
// slotted into its own position rather than all trailing at the end. A
// failure on one channel never stops the others.
func (d *Dispatcher) Dispatch(ctx context.Context, project model.Project, rule model.AlertRule, alert model.AlertPayload) []ChannelResult {
	var emailTargets []string
	for _, ch := range rule.Channels {
		if ch.Type == "email" {
			emailTargets = append(emailTargets, ch.Target)
		}
	}

	var emailErr error
	if len(emailTargets) > 0 {
		if d.email == nil {
			d.log.Warnw("rule names an email channel but no email sender is configured", "ruleId", rule.RuleID)
		} else {
			emailErr = d.email.SendAlert(ctx, project, rule, alert, emailTargets)
		}
	}

	var results []ChannelResult
	for _, ch := range rule.Channels {
		switch ch.Type {
		case "email":
			results = append(results, d.result("email", ch.Target, emailErr))
		case "webhook":
			results = append(results, d.result("webhook", ch.Target, d.sendWebhook(ctx, ch.Target, project, rule, alert)))
		case "slack":
			results = append(results, d.result("slack", ch.Target, d.sendSlack(ctx, ch.Target, project, rule, alert)))
		case "discord":
			results = append(results, d.result("discord", ch.Target, d.sendDiscord(ctx, ch.Target, project, rule, alert)))
		case "teams":
			results = append(results, d.result("teams", ch.Target, d.sendTeams(ctx, ch.Target, project, rule, alert)))
		default:
			d.log.Warnw("unknown channel type, skipping", "type", ch.Type, "ruleId", rule.RuleID)
		}
	}

	return results
}

func (d *Dispatcher) result(channelType, target string, err error) ChannelResult {
	if err != nil {
		d.log.Errorw("channel delivery failed", "type", channelType, "target", target, "error", err)
	}
	return ChannelResult{Type: channelType, Target: target, Err: err}
}
