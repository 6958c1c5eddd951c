package emailpipe

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"errwatch/internal/model"
)

// maxConcurrentDigestRenders bounds how many members' digest batches
// flushProject renders and sends at once, so one slow SMTP round trip
// does not serialize an entire project's flush.
const maxConcurrentDigestRenders = 4

// Scheduler periodically flushes digest queue entries whose owning
// member's cadence window has elapsed.
type Scheduler struct {
	pipeline *Pipeline
	interval time.Duration
}

// NewScheduler returns a Scheduler flushing pipeline's digest queue
// every interval.
func NewScheduler(pipeline *Pipeline, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scheduler{pipeline: pipeline, interval: interval}
}

// Run ticks every s.interval until ctx is cancelled, flushing on each
// tick. It does not flush immediately on start; callers that want an
// initial pass should call Flush directly first.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pipeline.Flush(ctx)
		}
	}
}

// Flush scans every project with unprocessed digest entries and, for
// each member whose cadence window has elapsed, renders and sends the
// batch. Disabled members have their entries silently marked processed
// without sending.
func (p *Pipeline) Flush(ctx context.Context) {
	projectIDs, err := p.digests.ListProjectsWithUnprocessed(ctx)
	if err != nil {
		p.log.Errorw("list projects with unprocessed digests failed", "error", err)
		return
	}
	for _, projectID := range projectIDs {
		p.flushProject(ctx, projectID)
	}
}

func (p *Pipeline) flushProject(ctx context.Context, projectID string) {
	memberIDs, err := p.digests.ListMembersWithUnprocessed(ctx, projectID)
	if err != nil {
		p.log.Errorw("list members with unprocessed digests failed", "projectId", projectID, "error", err)
		return
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentDigestRenders)
	for _, memberID := range memberIDs {
		memberID := memberID
		group.Go(func() error {
			p.flushMember(groupCtx, projectID, memberID)
			return nil
		})
	}
	_ = group.Wait()
}

func (p *Pipeline) flushMember(ctx context.Context, projectID, memberID string) {
	entries, err := p.digests.ListUnprocessed(ctx, projectID, memberID)
	if err != nil || len(entries) == 0 {
		if err != nil {
			p.log.Errorw("list unprocessed digest entries failed", "memberId", memberID, "error", err)
		}
		return
	}

	member, err := p.members.Get(ctx, memberID)
	if err != nil {
		p.log.Errorw("look up digest member failed", "memberId", memberID, "error", err)
		return
	}

	now := p.now()
	entryIDs := entryIDsOf(entries)

	if member == nil || member.AlertPreferences.Mode == model.EmailDisabled {
		p.markProcessed(ctx, entryIDs, now)
		return
	}

	lastSent := member.AlertPreferences.Digest.LastSentAt
	window := cadenceWindow(member.AlertPreferences.Digest.Cadence)
	if lastSent != nil && now.Sub(*lastSent) < window {
		return
	}

	msg := renderDigestEmail(member.Email, p.links.DashboardBaseURL, entries)
	if err := p.transport.Send(msg); err != nil {
		p.log.Errorw("digest send failed", "memberId", memberID, "error", err)
		return
	}

	p.markProcessed(ctx, entryIDs, now)
	if err := p.members.UpdateDigestLastSent(ctx, memberID, now); err != nil {
		p.log.Errorw("update digest lastSentAt failed", "memberId", memberID, "error", err)
	}
}

func (p *Pipeline) markProcessed(ctx context.Context, entryIDs []string, now time.Time) {
	if err := p.digests.MarkProcessed(ctx, entryIDs, now); err != nil {
		p.log.Errorw("mark digest entries processed failed", "error", err)
	}
}

func entryIDsOf(entries []model.DigestQueueEntry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.EntryID
	}
	return ids
}
