package enrich

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"errwatch/internal/model"
)

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return ts, nil
}

// fixtureSet is the shape of a static deployment/incident fixture file
// used to exercise the enricher against a realistic, hand-authored
// scenario instead of values built up field-by-field in test code.
type fixtureSet struct {
	Deployments []fixtureDeployment `yaml:"deployments"`
	Incidents   []fixtureIncident   `yaml:"incidents"`
}

type fixtureDeployment struct {
	ProjectID string `yaml:"projectId"`
	Label     string `yaml:"label"`
	Timestamp string `yaml:"timestamp"`
}

type fixtureIncident struct {
	IssueID     string `yaml:"issueId"`
	ProjectID   string `yaml:"projectId"`
	Fingerprint string `yaml:"fingerprint"`
	Message     string `yaml:"message"`
	LastSeen    string `yaml:"lastSeen"`
}

// loadFixtures parses a deployment/incident fixture file from path.
func loadFixtures(path string) (*fixtureSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture file: %w", err)
	}
	var set fixtureSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("parse fixture file: %w", err)
	}
	return &set, nil
}

func (f fixtureDeployment) toModel() (model.Deployment, error) {
	ts, err := parseTimestamp(f.Timestamp)
	if err != nil {
		return model.Deployment{}, err
	}
	return model.Deployment{ProjectID: f.ProjectID, Label: f.Label, Timestamp: ts}, nil
}

func (f fixtureIncident) toModel() (model.Issue, error) {
	ts, err := parseTimestamp(f.LastSeen)
	if err != nil {
		return model.Issue{}, err
	}
	return model.Issue{
		IssueID:     f.IssueID,
		ProjectID:   f.ProjectID,
		Fingerprint: f.Fingerprint,
		Message:     f.Message,
		LastSeen:    ts,
	}, nil
}
