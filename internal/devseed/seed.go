// Package devseed loads a YAML fixture file describing projects, team
// members, and deployments, and applies it to an in-process memory
// store. It exists purely for local development and demo runs; nothing
// in the production ingestion or alerting path depends on it.
package devseed

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"golang.org/x/crypto/bcrypt"

	"errwatch/internal/model"
	"errwatch/internal/store"
)

// Seed is the root of a dev fixture file.
type Seed struct {
	Projects    []SeedProject    `yaml:"projects"`
	Members     []SeedMember     `yaml:"members"`
	Deployments []SeedDeployment `yaml:"deployments"`
}

// SeedProject describes one project. Credential is stored in the clear
// in the fixture file and bcrypt-hashed on load; fixture files are
// development-only and must never be used in production.
type SeedProject struct {
	ProjectID     string `yaml:"projectId"`
	Credential    string `yaml:"credential"`
	RetentionDays int    `yaml:"retentionDays"`
}

// SeedMember describes one team member and their email preferences.
type SeedMember struct {
	MemberID  string `yaml:"memberId"`
	ProjectID string `yaml:"projectId"`
	Email     string `yaml:"email"`
	Active    bool   `yaml:"active"`
	Mode      string `yaml:"mode"` // immediate, digest, disabled
}

// SeedDeployment describes one deployment marker for enrichment context.
type SeedDeployment struct {
	ProjectID string    `yaml:"projectId"`
	Label     string    `yaml:"label"`
	Timestamp time.Time `yaml:"timestamp"`
}

// LoadFile parses a Seed from the YAML file at path.
func LoadFile(path string) (*Seed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &seed, nil
}

// Apply writes every entry in s into ms, hashing each project's
// plaintext credential with bcrypt before storing it.
func Apply(s *Seed, ms *store.MemoryStore) error {
	for _, p := range s.Projects {
		hash, err := bcrypt.GenerateFromPassword([]byte(p.Credential), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash seed credential for project %s: %w", p.ProjectID, err)
		}
		ms.Projects().PutProject(model.Project{
			ProjectID:      p.ProjectID,
			CredentialHash: string(hash),
			RetentionDays:  p.RetentionDays,
		})
	}

	for _, m := range s.Members {
		ms.Members().PutMember(model.TeamMember{
			MemberID:  m.MemberID,
			ProjectID: m.ProjectID,
			Email:     m.Email,
			Active:    m.Active,
			AlertPreferences: model.AlertPreferences{
				Mode: model.EmailMode(m.Mode),
			},
		})
	}

	for _, d := range s.Deployments {
		ms.Deployments().PutDeployment(model.Deployment{
			ProjectID: d.ProjectID,
			Label:     d.Label,
			Timestamp: d.Timestamp,
		})
	}

	return nil
}
