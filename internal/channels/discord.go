package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"errwatch/internal/apperrors"
	"errwatch/internal/model"
)

const discordFieldLimit = 1024

type discordEmbed struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	URL         string         `json:"url,omitempty"`
	Color       int            `json:"color"`
	Timestamp   time.Time      `json:"timestamp"`
	Footer      discordFooter  `json:"footer"`
	Fields      []discordField `json:"fields"`
}

type discordFooter struct {
	Text string `json:"text"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

func (d *Dispatcher) sendDiscord(ctx context.Context, target string, project model.Project, rule model.AlertRule, alert model.AlertPayload) error {
	embed := discordEmbed{
		Title:       alert.Title,
		Description: clampDiscordField(alert.Summary),
		URL:         alert.Links.Dashboard,
		Color:       0xff4d4f,
		Timestamp:   alert.LastDetectedAt,
		Footer:      discordFooter{Text: fmt.Sprintf("%s – %s", project.ProjectID, rule.Name)},
		Fields: []discordField{
			{Name: "Severity", Value: string(alert.Severity), Inline: true},
			{Name: "Occurrences", Value: fmt.Sprintf("%d", alert.Occurrences), Inline: true},
			{Name: "Affected users", Value: fmt.Sprintf("%d", alert.AffectedUsers), Inline: true},
		},
	}
	if alert.Context.WhyItMatters != "" {
		embed.Fields = append(embed.Fields, discordField{Name: "Why this matters", Value: clampDiscordField(alert.Context.WhyItMatters)})
	}

	body, err := json.Marshal(map[string]any{"embeds": []discordEmbed{embed}})
	if err != nil {
		return apperrors.NewChannelDeliveryError(apperrors.CodeChannelHTTPFailed, fmt.Sprintf("marshal payload: %v", err), "discord")
	}
	return d.postWithRetry(ctx, "discord", target, body)
}

func clampDiscordField(value string) string {
	if len(value) <= discordFieldLimit {
		return value
	}
	return value[:discordFieldLimit]
}
