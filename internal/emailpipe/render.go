package emailpipe

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"errwatch/internal/model"
)

// RenderedEmail is a transport-agnostic, ready-to-send email.
type RenderedEmail struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

var htmlBody = template.Must(template.New("alert").Parse(`<html><body>
<h2>{{.Title}}</h2>
<p>{{.Summary}}</p>
<p><strong>Severity:</strong> {{.Severity}} &mdash; <strong>Environments:</strong> {{.Environments}}</p>
<p><strong>Occurrences:</strong> {{.Occurrences}} &mdash; <strong>Affected users:</strong> {{.AffectedUsers}}</p>
{{if .WhyItMatters}}<p><strong>Why this matters:</strong> {{.WhyItMatters}}</p>{{end}}
<p><a href="{{.DashboardLink}}">View in dashboard</a>{{if .AcknowledgeLink}} | <a href="{{.AcknowledgeLink}}">Acknowledge</a>{{end}}</p>
{{if .UnsubscribeLink}}<p><small><a href="{{.UnsubscribeLink}}">Unsubscribe</a></small></p>{{end}}
</body></html>`))

type alertView struct {
	Title           string
	Summary         string
	Severity        model.Severity
	Environments    string
	Occurrences     int
	AffectedUsers   int
	WhyItMatters    string
	DashboardLink   string
	AcknowledgeLink string
	UnsubscribeLink string
}

func renderAlertEmail(to string, dashboardBaseURL, unsubscribeBaseURL, unsubscribeToken string, alert model.AlertPayload) RenderedEmail {
	view := alertView{
		Title:         alert.Title,
		Summary:       alert.Summary,
		Severity:      alert.Severity,
		Environments:  strings.Join(alert.Environment, ", "),
		Occurrences:   alert.Occurrences,
		AffectedUsers: alert.AffectedUsers,
		WhyItMatters:  alert.Context.WhyItMatters,
	}
	if alert.Links.Dashboard != "" {
		view.DashboardLink = alert.Links.Dashboard
	} else if dashboardBaseURL != "" {
		view.DashboardLink = dashboardBaseURL
	}
	view.AcknowledgeLink = alert.Links.Acknowledge
	if unsubscribeBaseURL != "" && unsubscribeToken != "" {
		view.UnsubscribeLink = fmt.Sprintf("%s?token=%s", unsubscribeBaseURL, url.QueryEscape(unsubscribeToken))
	}

	var buf bytes.Buffer
	_ = htmlBody.Execute(&buf, view)

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n%s\n\n", view.Title, view.Summary)
	fmt.Fprintf(&text, "Severity: %s | Environments: %s\n", view.Severity, view.Environments)
	fmt.Fprintf(&text, "Occurrences: %d | Affected users: %d\n", view.Occurrences, view.AffectedUsers)
	if view.WhyItMatters != "" {
		fmt.Fprintf(&text, "\nWhy this matters: %s\n", view.WhyItMatters)
	}
	fmt.Fprintf(&text, "\nView in dashboard: %s\n", view.DashboardLink)
	if view.AcknowledgeLink != "" {
		fmt.Fprintf(&text, "Acknowledge: %s\n", view.AcknowledgeLink)
	}
	if view.UnsubscribeLink != "" {
		fmt.Fprintf(&text, "\nUnsubscribe: %s\n", view.UnsubscribeLink)
	}

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Title)
	return RenderedEmail{To: to, Subject: subject, HTML: buf.String(), Text: text.String()}
}

func renderDigestEmail(to string, dashboardBaseURL string, entries []model.DigestQueueEntry) RenderedEmail {
	var html strings.Builder
	var text strings.Builder
	html.WriteString("<html><body><h2>Alert digest</h2><ul>")
	fmt.Fprintf(&text, "Alert digest (%d alerts)\n\n", len(entries))

	for _, entry := range entries {
		alert := entry.AlertSnapshot
		fmt.Fprintf(&html, "<li><strong>%s</strong> (%s) &mdash; %s</li>", alert.Title, alert.Severity, alert.Summary)
		fmt.Fprintf(&text, "- %s (%s): %s\n", alert.Title, alert.Severity, alert.Summary)
	}
	html.WriteString("</ul>")
	if dashboardBaseURL != "" {
		fmt.Fprintf(&html, `<p><a href="%s">Open dashboard</a></p>`, dashboardBaseURL)
		fmt.Fprintf(&text, "\nOpen dashboard: %s\n", dashboardBaseURL)
	}
	html.WriteString("</body></html>")

	return RenderedEmail{
		To:      to,
		Subject: fmt.Sprintf("Alert digest: %d alerts", len(entries)),
		HTML:    html.String(),
		Text:    text.String(),
	}
}
