// Package retention periodically deletes Occurrences and Issues that
// have aged past their owning project's retention window.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"errwatch/internal/model"
	"errwatch/internal/store"
)

// Clock abstracts the current time for deterministic tests.
type Clock func() time.Time

// Scanner runs the periodic retention sweep.
type Scanner struct {
	projects    store.ProjectStore
	issues      store.IssueStore
	occurrences store.OccurrenceStore
	interval    time.Duration
	now         Clock
	log         *zap.SugaredLogger
}

// New returns a Scanner. interval defaults to one hour when <= 0; now
// defaults to time.Now when nil.
func New(projects store.ProjectStore, issues store.IssueStore, occurrences store.OccurrenceStore, interval time.Duration, now Clock, log *zap.SugaredLogger) *Scanner {
	if interval <= 0 {
		interval = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &Scanner{projects: projects, issues: issues, occurrences: occurrences, interval: interval, now: now, log: log}
}

// Run ticks every s.interval until ctx is cancelled, sweeping on each
// tick. It does not sweep immediately on start; callers wanting an
// initial pass should call Sweep directly first.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep deletes Occurrences and Issues older than each eligible
// project's retention window. A single project's failure is logged
// and does not stop the scan of the remaining projects.
func (s *Scanner) Sweep(ctx context.Context) {
	projects, err := s.projects.ListRetentionEligible(ctx)
	if err != nil {
		s.log.Errorw("list retention-eligible projects failed", "error", err)
		return
	}

	for _, project := range projects {
		s.sweepProject(ctx, project)
	}
}

func (s *Scanner) sweepProject(ctx context.Context, project model.Project) {
	cutoff := s.now().Add(-time.Duration(project.RetentionDays) * 24 * time.Hour)

	issueCount, err := s.issues.DeleteOlderThan(ctx, project.ProjectID, cutoff)
	if err != nil {
		s.log.Errorw("delete aged issues failed", "projectId", project.ProjectID, "error", err)
	} else if issueCount > 0 {
		s.log.Infow("deleted aged issues", "projectId", project.ProjectID, "count", issueCount)
	}

	occurrenceCount, err := s.occurrences.DeleteOlderThan(ctx, project.ProjectID, cutoff)
	if err != nil {
		s.log.Errorw("delete aged occurrences failed", "projectId", project.ProjectID, "error", err)
	} else if occurrenceCount > 0 {
		s.log.Infow("deleted aged occurrences", "projectId", project.ProjectID, "count", occurrenceCount)
	}
}
