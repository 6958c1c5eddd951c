package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/slack-go/slack"
	"github.com/sony/gobreaker/v2"

	"errwatch/internal/apperrors"
	"errwatch/internal/model"
)

func (d *Dispatcher) sendSlack(ctx context.Context, target string, project model.Project, rule model.AlertRule, alert model.AlertPayload) error {
	msg := &slack.WebhookMessage{
		Text:   alert.Title,
		Blocks: &slack.Blocks{BlockSet: buildSlackBlocks(project, rule, alert)},
	}

	_, err := d.slackBreaker.Execute(func() (any, error) {
		return nil, slack.PostWebhookContext(ctx, target, msg)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return apperrors.NewCircuitOpenError("slack")
		}
		return apperrors.NewChannelDeliveryError(apperrors.CodeChannelHTTPFailed, err.Error(), "slack")
	}
	return nil
}

func buildSlackBlocks(project model.Project, rule model.AlertRule, alert model.AlertPayload) []slack.Block {
	md := func(s string) *slack.TextBlockObject { return slack.NewTextBlockObject(slack.MarkdownType, s, false, false) }
	plain := func(s string) *slack.TextBlockObject { return slack.NewTextBlockObject(slack.PlainTextType, s, true, false) }

	blocks := []slack.Block{
		slack.NewSectionBlock(md(fmt.Sprintf("*%s*\n%s", alert.Title, alert.Summary)), nil, nil),
		slack.NewContextBlock("", md(fmt.Sprintf("%s / %s", project.ProjectID, rule.Name))),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			md(fmt.Sprintf("*Severity:*\n%s", alert.Severity)),
			md(fmt.Sprintf("*Environment:*\n%s", strings.Join(alert.Environment, ", "))),
			md(fmt.Sprintf("*Occurrences:*\n%d", alert.Occurrences)),
			md(fmt.Sprintf("*Affected users:*\n%d", alert.AffectedUsers)),
		}, nil),
	}

	if alert.Context.WhyItMatters != "" {
		blocks = append(blocks, slack.NewSectionBlock(md(fmt.Sprintf("*Why this matters*\n%s", alert.Context.WhyItMatters)), nil, nil))
	}
	if len(alert.Context.RecentDeployments) > 0 {
		var lines []string
		for _, dep := range alert.Context.RecentDeployments {
			lines = append(lines, fmt.Sprintf("%s (%s)", dep.Label, dep.Timestamp.Format("Jan 2 15:04")))
		}
		blocks = append(blocks, slack.NewSectionBlock(md(fmt.Sprintf("*Recent deployments*\n%s", strings.Join(lines, "\n"))), nil, nil))
	}
	if len(alert.Context.SimilarIncidents) > 0 {
		var lines []string
		for _, inc := range alert.Context.SimilarIncidents {
			lines = append(lines, fmt.Sprintf("%s (last seen %s)", inc.Message, inc.LastSeen.Format("Jan 2 15:04")))
		}
		blocks = append(blocks, slack.NewSectionBlock(md(fmt.Sprintf("*Similar incidents*\n%s", strings.Join(lines, "\n"))), nil, nil))
	}
	if len(alert.Context.NextSteps) > 0 {
		blocks = append(blocks, slack.NewSectionBlock(md(fmt.Sprintf("*Next steps*\n%s", strings.Join(alert.Context.NextSteps, "\n"))), nil, nil))
	}

	viewButton := slack.NewButtonBlockElement("view_error", alert.AlertID, plain("View Error"))
	viewButton.URL = alert.Links.Dashboard
	viewButton.Style = slack.StylePrimary
	actionElements := []slack.BlockElement{viewButton}
	if alert.Links.Acknowledge != "" {
		ackButton := slack.NewButtonBlockElement("acknowledge", alert.AlertID, plain("Acknowledge"))
		ackButton.URL = alert.Links.Acknowledge
		actionElements = append(actionElements, ackButton)
	}
	blocks = append(blocks, slack.NewActionBlock("", actionElements...))

	return blocks
}
