package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"errwatch/internal/apperrors"
	"errwatch/internal/model"
)

type teamsCard struct {
	Type            string          `json:"@type"`
	Context         string          `json:"@context"`
	Summary         string          `json:"summary"`
	ThemeColor      string          `json:"themeColor"`
	Title           string          `json:"title"`
	Sections        []teamsSection  `json:"sections"`
	PotentialAction []teamsAction   `json:"potentialAction"`
}

type teamsSection struct {
	ActivityTitle string      `json:"activityTitle"`
	Facts         []teamsFact `json:"facts"`
	Text          string      `json:"text,omitempty"`
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsAction struct {
	Type    string           `json:"@type"`
	Name    string           `json:"name"`
	Targets []teamsTarget    `json:"targets"`
}

type teamsTarget struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

func (d *Dispatcher) sendTeams(ctx context.Context, target string, project model.Project, rule model.AlertRule, alert model.AlertPayload) error {
	card := teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    alert.Title,
		ThemeColor: "EA4C89",
		Title:      alert.Title,
		Sections: []teamsSection{
			{
				ActivityTitle: fmt.Sprintf("%s / %s", project.ProjectID, rule.Name),
				Text:          alert.Summary,
				Facts: []teamsFact{
					{Name: "Severity", Value: string(alert.Severity)},
					{Name: "Occurrences", Value: fmt.Sprintf("%d", alert.Occurrences)},
					{Name: "Affected users", Value: fmt.Sprintf("%d", alert.AffectedUsers)},
				},
			},
		},
	}
	if alert.Links.Dashboard != "" {
		card.PotentialAction = []teamsAction{{
			Type:    "OpenUri",
			Name:    "View Error",
			Targets: []teamsTarget{{OS: "default", URI: alert.Links.Dashboard}},
		}}
	}

	body, err := json.Marshal(card)
	if err != nil {
		return apperrors.NewChannelDeliveryError(apperrors.CodeChannelHTTPFailed, fmt.Sprintf("marshal payload: %v", err), "teams")
	}
	return d.postWithRetry(ctx, "teams", target, body)
}
