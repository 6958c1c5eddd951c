package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"errwatch/internal/apperrors"
	"errwatch/internal/model"
)

// memoryState is the shared guarded state behind every in-memory
// store view. A single mutex covers all maps: the stores are small
// and contention is not a concern outside of tests and the memory
// ALERT_STATE_DRIVER.
type memoryState struct {
	mu sync.RWMutex

	issues      map[string]model.Issue // by IssueID
	issuesByKey map[string]string      // "projectID:fingerprint" -> IssueID
	occurrences []model.Occurrence

	projects    map[string]model.Project
	rules       map[string][]model.AlertRule // by ProjectID
	members     map[string]model.TeamMember  // by MemberID
	deployments []model.Deployment

	cooldowns   map[string]model.CooldownEntry   // by RuleID
	escalations map[string]model.EscalationEntry // by AlertID
	digestSeq   int
	digests     map[string]model.DigestQueueEntry // by EntryID
}

func newMemoryState() *memoryState {
	return &memoryState{
		issues:      make(map[string]model.Issue),
		issuesByKey: make(map[string]string),
		projects:    make(map[string]model.Project),
		rules:       make(map[string][]model.AlertRule),
		members:     make(map[string]model.TeamMember),
		cooldowns:   make(map[string]model.CooldownEntry),
		escalations: make(map[string]model.EscalationEntry),
		digests:     make(map[string]model.DigestQueueEntry),
	}
}

func issueKey(projectID, fingerprint string) string {
	return projectID + ":" + fingerprint
}

// MemoryStore bundles an in-process implementation of every store
// interface over one shared guarded state. Each concern is exposed
// through a named accessor returning the narrow interface it
// implements (Issues, Occurrences, ...) since several concerns share
// method names like Get and Insert. Seed helper methods on the
// concrete accessor types (PutProject, PutRule, PutMember,
// PutDeployment) are for test and local-dev fixture setup.
type MemoryStore struct {
	state *memoryState

	issues      *memoryIssueStore
	occurrences *memoryOccurrenceStore
	projects    *memoryProjectStore
	rules       *memoryRuleStore
	members     *memoryMemberStore
	deployments *memoryDeploymentStore
	notifyState *memoryNotificationStateStore
	digests     *memoryDigestStore
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	state := newMemoryState()
	return &MemoryStore{
		state:       state,
		issues:      &memoryIssueStore{state},
		occurrences: &memoryOccurrenceStore{state},
		projects:    &memoryProjectStore{state},
		rules:       &memoryRuleStore{state},
		members:     &memoryMemberStore{state},
		deployments: &memoryDeploymentStore{state},
		notifyState: &memoryNotificationStateStore{state},
		digests:     &memoryDigestStore{state},
	}
}

// Issues returns the IssueStore view.
func (ms *MemoryStore) Issues() *memoryIssueStore { return ms.issues }

// Occurrences returns the OccurrenceStore view.
func (ms *MemoryStore) Occurrences() *memoryOccurrenceStore { return ms.occurrences }

// Projects returns the ProjectStore view.
func (ms *MemoryStore) Projects() *memoryProjectStore { return ms.projects }

// Rules returns the RuleStore view.
func (ms *MemoryStore) Rules() *memoryRuleStore { return ms.rules }

// Members returns the MemberStore view.
func (ms *MemoryStore) Members() *memoryMemberStore { return ms.members }

// Deployments returns the DeploymentStore view.
func (ms *MemoryStore) Deployments() *memoryDeploymentStore { return ms.deployments }

// NotificationState returns the NotificationStateStore view.
func (ms *MemoryStore) NotificationState() *memoryNotificationStateStore { return ms.notifyState }

// Digests returns the DigestStore view.
func (ms *MemoryStore) Digests() *memoryDigestStore { return ms.digests }

// --- IssueStore ---

type memoryIssueStore struct{ s *memoryState }

func (m *memoryIssueStore) FindByFingerprint(_ context.Context, projectID, fingerprint string) (*model.Issue, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.issuesByKey[issueKey(projectID, fingerprint)]
	if !ok {
		return nil, nil
	}
	issue := m.s.issues[id]
	return &issue, nil
}

func (m *memoryIssueStore) Insert(_ context.Context, issue model.Issue) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := issueKey(issue.ProjectID, issue.Fingerprint)
	if _, exists := m.s.issuesByKey[key]; exists {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreConflict, "issue already exists for fingerprint", "insert_issue")
	}
	m.s.issues[issue.IssueID] = issue
	m.s.issuesByKey[key] = issue.IssueID
	return nil
}

func (m *memoryIssueStore) Update(_ context.Context, issue model.Issue) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.issues[issue.IssueID]; !ok {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, "issue not found", "update_issue")
	}
	m.s.issues[issue.IssueID] = issue
	return nil
}

func (m *memoryIssueStore) Get(_ context.Context, issueID string) (*model.Issue, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	issue, ok := m.s.issues[issueID]
	if !ok {
		return nil, nil
	}
	return &issue, nil
}

func (m *memoryIssueStore) ListSimilar(_ context.Context, projectID, fingerprint, environment string, limit int) ([]model.Issue, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	var matches []model.Issue
	for _, issue := range m.s.issues {
		if issue.ProjectID != projectID {
			continue
		}
		if fingerprint != "" {
			if issue.Fingerprint != fingerprint {
				continue
			}
		} else if !strings.EqualFold(issue.Environment, environment) {
			continue
		}
		matches = append(matches, issue)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].LastSeen.After(matches[j].LastSeen) })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (m *memoryIssueStore) DeleteOlderThan(_ context.Context, projectID string, cutoff time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	deleted := 0
	for id, issue := range m.s.issues {
		if issue.ProjectID == projectID && issue.LastSeen.Before(cutoff) {
			delete(m.s.issues, id)
			delete(m.s.issuesByKey, issueKey(issue.ProjectID, issue.Fingerprint))
			deleted++
		}
	}
	return deleted, nil
}

// --- OccurrenceStore ---

type memoryOccurrenceStore struct{ s *memoryState }

func (m *memoryOccurrenceStore) Insert(_ context.Context, occ model.Occurrence) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.occurrences = append(m.s.occurrences, occ)
	return nil
}

func (m *memoryOccurrenceStore) CountInWindow(_ context.Context, projectID, fingerprint, environment string, from, to time.Time) (int, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()

	issueIDs := make(map[string]bool)
	for key, id := range m.s.issuesByKey {
		if strings.HasPrefix(key, projectID+":") {
			issue := m.s.issues[id]
			if issue.Fingerprint == fingerprint {
				issueIDs[id] = true
			}
		}
	}

	count := 0
	for _, occ := range m.s.occurrences {
		if !issueIDs[occ.IssueID] {
			continue
		}
		if occ.Timestamp.Before(from) || !occ.Timestamp.Before(to) {
			continue
		}
		if environment != "" && !strings.EqualFold(occ.Environment, environment) {
			continue
		}
		count++
	}
	return count, nil
}

func (m *memoryOccurrenceStore) DeleteOlderThan(_ context.Context, projectID string, cutoff time.Time) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()

	kept := m.s.occurrences[:0]
	deleted := 0
	for _, occ := range m.s.occurrences {
		if occ.ProjectID == projectID && occ.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, occ)
	}
	m.s.occurrences = kept
	return deleted, nil
}

// --- ProjectStore ---

type memoryProjectStore struct{ s *memoryState }

func (m *memoryProjectStore) Get(_ context.Context, projectID string) (*model.Project, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	p, ok := m.s.projects[projectID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *memoryProjectStore) ListRetentionEligible(_ context.Context) ([]model.Project, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []model.Project
	for _, p := range m.s.projects {
		if p.RetentionDays >= 1 {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memoryProjectStore) PutProject(p model.Project) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.projects[p.ProjectID] = p
}

// --- RuleStore ---

type memoryRuleStore struct{ s *memoryState }

func (m *memoryRuleStore) ListEnabled(_ context.Context, projectID string) ([]model.AlertRule, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []model.AlertRule
	for _, r := range m.s.rules[projectID] {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryRuleStore) PutRule(r model.AlertRule) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.rules[r.ProjectID] = append(m.s.rules[r.ProjectID], r)
}

// --- MemberStore ---

type memoryMemberStore struct{ s *memoryState }

func (m *memoryMemberStore) GetByEmail(_ context.Context, projectID, email string) (*model.TeamMember, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	for _, mem := range m.s.members {
		if mem.ProjectID == projectID && strings.EqualFold(mem.Email, email) {
			cp := mem
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memoryMemberStore) Get(_ context.Context, memberID string) (*model.TeamMember, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	mem, ok := m.s.members[memberID]
	if !ok {
		return nil, nil
	}
	return &mem, nil
}

func (m *memoryMemberStore) UpdateDigestLastSent(_ context.Context, memberID string, sentAt time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	mem, ok := m.s.members[memberID]
	if !ok {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, "member not found", "update_digest_last_sent")
	}
	mem.AlertPreferences.Digest.LastSentAt = &sentAt
	m.s.members[memberID] = mem
	return nil
}

func (m *memoryMemberStore) PutMember(mem model.TeamMember) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.members[mem.MemberID] = mem
}

// --- DeploymentStore ---

type memoryDeploymentStore struct{ s *memoryState }

func (m *memoryDeploymentStore) ListRecent(_ context.Context, projectID string, from, to time.Time, limit int) ([]model.Deployment, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []model.Deployment
	for _, d := range m.s.deployments {
		if d.ProjectID == projectID && !d.Timestamp.Before(from) && !d.Timestamp.After(to) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryDeploymentStore) PutDeployment(d model.Deployment) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.deployments = append(m.s.deployments, d)
}

// --- NotificationStateStore ---

type memoryNotificationStateStore struct{ s *memoryState }

func (m *memoryNotificationStateStore) SaveCooldown(_ context.Context, ruleID string, epochMs int64) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.cooldowns[ruleID] = model.CooldownEntry{RuleID: ruleID, LastDispatchMs: epochMs}
	return nil
}

func (m *memoryNotificationStateStore) ListCooldowns(_ context.Context) ([]model.CooldownEntry, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]model.CooldownEntry, 0, len(m.s.cooldowns))
	for _, c := range m.s.cooldowns {
		out = append(out, c)
	}
	return out, nil
}

func (m *memoryNotificationStateStore) DeleteCooldown(_ context.Context, ruleID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.cooldowns, ruleID)
	return nil
}

func (m *memoryNotificationStateStore) SaveEscalation(_ context.Context, entry model.EscalationEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.escalations[entry.AlertID] = entry
	return nil
}

func (m *memoryNotificationStateStore) ListEscalations(_ context.Context) ([]model.EscalationEntry, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]model.EscalationEntry, 0, len(m.s.escalations))
	for _, e := range m.s.escalations {
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryNotificationStateStore) DeleteEscalation(_ context.Context, alertID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	delete(m.s.escalations, alertID)
	return nil
}

func (m *memoryNotificationStateStore) ClearAll(_ context.Context) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.cooldowns = make(map[string]model.CooldownEntry)
	m.s.escalations = make(map[string]model.EscalationEntry)
	return nil
}

// --- DigestStore ---

type memoryDigestStore struct{ s *memoryState }

func (m *memoryDigestStore) Enqueue(_ context.Context, entry model.DigestQueueEntry) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if entry.EntryID == "" {
		m.s.digestSeq++
		entry.EntryID = time.Now().UTC().Format("20060102150405") + "-" + itoa(m.s.digestSeq)
	}
	m.s.digests[entry.EntryID] = entry
	return nil
}

func (m *memoryDigestStore) ListUnprocessed(_ context.Context, projectID, memberID string) ([]model.DigestQueueEntry, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var out []model.DigestQueueEntry
	for _, e := range m.s.digests {
		if e.ProjectID == projectID && e.MemberID == memberID && !e.Processed {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *memoryDigestStore) ListProjectsWithUnprocessed(_ context.Context) ([]string, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range m.s.digests {
		if !e.Processed && !seen[e.ProjectID] {
			seen[e.ProjectID] = true
			out = append(out, e.ProjectID)
		}
	}
	return out, nil
}

func (m *memoryDigestStore) ListMembersWithUnprocessed(_ context.Context, projectID string) ([]string, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range m.s.digests {
		if e.ProjectID == projectID && !e.Processed && !seen[e.MemberID] {
			seen[e.MemberID] = true
			out = append(out, e.MemberID)
		}
	}
	return out, nil
}

func (m *memoryDigestStore) MarkProcessed(_ context.Context, entryIDs []string, processedAt time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, id := range entryIDs {
		e, ok := m.s.digests[id]
		if !ok {
			continue
		}
		e.Processed = true
		t := processedAt
		e.ProcessedAt = &t
		m.s.digests[id] = e
	}
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
