package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"errwatch/internal/apperrors"
	"errwatch/internal/model"
)

// schema creates the tables backing the SQLite-backed stores. Issues
// and Occurrences are relational since the trigger pipeline's windowed
// counts need indexed range scans; rules, members, deployments,
// escalations, and digest entries are stored as JSON documents, matching
// the "document store" option those contracts allow. Cooldowns are a
// plain rule_id/last_dispatch_ms table.
const schema = `
CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT PRIMARY KEY,
	credential_hash TEXT NOT NULL,
	credential_preview TEXT NOT NULL,
	retention_days INTEGER NOT NULL,
	scrub_emails INTEGER NOT NULL,
	scrub_phones INTEGER NOT NULL,
	scrub_ips INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS issues (
	issue_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	document TEXT NOT NULL,
	last_seen_ms INTEGER NOT NULL,
	environment TEXT NOT NULL,
	UNIQUE(project_id, fingerprint)
);
CREATE INDEX IF NOT EXISTS idx_issues_project_lastseen ON issues(project_id, last_seen_ms);

CREATE TABLE IF NOT EXISTS occurrences (
	occurrence_id TEXT PRIMARY KEY,
	issue_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	environment TEXT NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	document TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_occ_lookup ON occurrences(project_id, fingerprint, timestamp_ms);

CREATE TABLE IF NOT EXISTS rules (
	rule_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	enabled INTEGER NOT NULL,
	document TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_project ON rules(project_id, enabled);

CREATE TABLE IF NOT EXISTS members (
	member_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	email TEXT NOT NULL,
	document TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_members_project_email ON members(project_id, email);

CREATE TABLE IF NOT EXISTS deployments (
	deployment_id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	timestamp_ms INTEGER NOT NULL,
	document TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deployments_project_ts ON deployments(project_id, timestamp_ms);

CREATE TABLE IF NOT EXISTS cooldowns (
	rule_id TEXT PRIMARY KEY,
	last_dispatch_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS escalations (
	alert_id TEXT PRIMARY KEY,
	document TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS digest_entries (
	entry_id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	member_id TEXT NOT NULL,
	processed INTEGER NOT NULL,
	created_ms INTEGER NOT NULL,
	document TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_digest_lookup ON digest_entries(project_id, member_id, processed);
`

// sqliteCore holds the shared database handle behind every
// SQLite-backed store view. Several store interfaces declare
// identically-named methods with different signatures (IssueStore.Get
// vs ProjectStore.Get, IssueStore.Insert vs OccurrenceStore.Insert),
// so each concern is implemented on its own wrapper type rather than
// directly on SQLiteStore, mirroring the in-memory store's layout.
type sqliteCore struct {
	db *sql.DB
}

// SQLiteStore is a pure-Go, CGo-free persistence layer fronting a
// single database file shared by every store view.
type SQLiteStore struct {
	core *sqliteCore

	issues      *sqliteIssueStore
	occurrences *sqliteOccurrenceStore
	projects    *sqliteProjectStore
	rules       *sqliteRuleStore
	members     *sqliteMemberStore
	deployments *sqliteDeploymentStore
	notifyState *sqliteNotificationStateStore
	digests     *sqliteDigestStore
}

// OpenSQLiteStore opens (creating if necessary) the database at path
// and applies the schema.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("open sqlite: %v", err), "open")
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY under load

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("apply schema: %v", err), "migrate")
	}

	core := &sqliteCore{db: db}
	return &SQLiteStore{
		core:        core,
		issues:      &sqliteIssueStore{core},
		occurrences: &sqliteOccurrenceStore{core},
		projects:    &sqliteProjectStore{core},
		rules:       &sqliteRuleStore{core},
		members:     &sqliteMemberStore{core},
		deployments: &sqliteDeploymentStore{core},
		notifyState: &sqliteNotificationStateStore{core},
		digests:     &sqliteDigestStore{core},
	}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.core.db.Close() }

// Issues returns the IssueStore view.
func (s *SQLiteStore) Issues() *sqliteIssueStore { return s.issues }

// Occurrences returns the OccurrenceStore view.
func (s *SQLiteStore) Occurrences() *sqliteOccurrenceStore { return s.occurrences }

// Projects returns the ProjectStore view.
func (s *SQLiteStore) Projects() *sqliteProjectStore { return s.projects }

// Rules returns the RuleStore view.
func (s *SQLiteStore) Rules() *sqliteRuleStore { return s.rules }

// Members returns the MemberStore view.
func (s *SQLiteStore) Members() *sqliteMemberStore { return s.members }

// Deployments returns the DeploymentStore view.
func (s *SQLiteStore) Deployments() *sqliteDeploymentStore { return s.deployments }

// NotificationState returns the NotificationStateStore view.
func (s *SQLiteStore) NotificationState() *sqliteNotificationStateStore { return s.notifyState }

// Digests returns the DigestStore view.
func (s *SQLiteStore) Digests() *sqliteDigestStore { return s.digests }

// --- IssueStore ---

type sqliteIssueStore struct{ c *sqliteCore }

type issueDocument struct {
	Message           string                   `json:"message"`
	StackTrace        []model.StackFrame       `json:"stackTrace"`
	Count             int                      `json:"count"`
	FirstSeen         time.Time                `json:"firstSeen"`
	Status            model.IssueStatus        `json:"status"`
	AssignedTo        string                   `json:"assignedTo"`
	StatusHistory     []model.StatusChange     `json:"statusHistory"`
	AssignmentHistory []model.AssignmentChange `json:"assignmentHistory"`
	ResolvedAt        *time.Time               `json:"resolvedAt,omitempty"`
	ExpiresAt         *time.Time               `json:"expiresAt,omitempty"`
}

func toIssueDocument(i model.Issue) issueDocument {
	return issueDocument{
		Message:           i.Message,
		StackTrace:        i.StackTrace,
		Count:             i.Count,
		FirstSeen:         i.FirstSeen,
		Status:            i.Status,
		AssignedTo:        i.AssignedTo,
		StatusHistory:     i.StatusHistory,
		AssignmentHistory: i.AssignmentHistory,
		ResolvedAt:        i.ResolvedAt,
		ExpiresAt:         i.ExpiresAt,
	}
}

func rowToIssue(issueID, projectID, fingerprint, environment string, lastSeenMs int64, doc issueDocument) model.Issue {
	return model.Issue{
		IssueID:           issueID,
		ProjectID:         projectID,
		Fingerprint:       fingerprint,
		Environment:       environment,
		Message:           doc.Message,
		StackTrace:        doc.StackTrace,
		Count:             doc.Count,
		FirstSeen:         doc.FirstSeen,
		LastSeen:          time.UnixMilli(lastSeenMs).UTC(),
		Status:            doc.Status,
		AssignedTo:        doc.AssignedTo,
		StatusHistory:     doc.StatusHistory,
		AssignmentHistory: doc.AssignmentHistory,
		ResolvedAt:        doc.ResolvedAt,
		ExpiresAt:         doc.ExpiresAt,
	}
}

func (s *sqliteIssueStore) FindByFingerprint(ctx context.Context, projectID, fingerprint string) (*model.Issue, error) {
	row := s.c.db.QueryRowContext(ctx,
		`SELECT issue_id, environment, last_seen_ms, document FROM issues WHERE project_id = ? AND fingerprint = ?`,
		projectID, fingerprint)

	var issueID, environment, docJSON string
	var lastSeenMs int64
	if err := row.Scan(&issueID, &environment, &lastSeenMs, &docJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("find issue: %v", err), "find_by_fingerprint")
	}
	var doc issueDocument
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, apperrors.NewStateStoreError(fmt.Sprintf("decode issue document: %v", err), issueID)
	}
	issue := rowToIssue(issueID, projectID, fingerprint, environment, lastSeenMs, doc)
	return &issue, nil
}

func (s *sqliteIssueStore) Insert(ctx context.Context, issue model.Issue) error {
	docJSON, err := json.Marshal(toIssueDocument(issue))
	if err != nil {
		return apperrors.NewValidationError("issue", issue.IssueID, fmt.Sprintf("encode issue: %v", err))
	}
	_, err = s.c.db.ExecContext(ctx,
		`INSERT INTO issues (issue_id, project_id, fingerprint, document, last_seen_ms, environment) VALUES (?, ?, ?, ?, ?, ?)`,
		issue.IssueID, issue.ProjectID, issue.Fingerprint, string(docJSON), issue.LastSeen.UnixMilli(), issue.Environment)
	if err != nil {
		if isUniqueConstraint(err) {
			return apperrors.NewTransientStoreError(apperrors.CodeStoreConflict, "issue already exists for fingerprint", "insert_issue")
		}
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("insert issue: %v", err), "insert_issue")
	}
	return nil
}

func (s *sqliteIssueStore) Update(ctx context.Context, issue model.Issue) error {
	docJSON, err := json.Marshal(toIssueDocument(issue))
	if err != nil {
		return apperrors.NewValidationError("issue", issue.IssueID, fmt.Sprintf("encode issue: %v", err))
	}
	res, err := s.c.db.ExecContext(ctx,
		`UPDATE issues SET document = ?, last_seen_ms = ?, environment = ? WHERE issue_id = ?`,
		string(docJSON), issue.LastSeen.UnixMilli(), issue.Environment, issue.IssueID)
	if err != nil {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("update issue: %v", err), "update_issue")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, "issue not found", "update_issue")
	}
	return nil
}

func (s *sqliteIssueStore) Get(ctx context.Context, issueID string) (*model.Issue, error) {
	row := s.c.db.QueryRowContext(ctx,
		`SELECT project_id, fingerprint, environment, last_seen_ms, document FROM issues WHERE issue_id = ?`, issueID)

	var projectID, fingerprint, environment, docJSON string
	var lastSeenMs int64
	if err := row.Scan(&projectID, &fingerprint, &environment, &lastSeenMs, &docJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("get issue: %v", err), "get_issue")
	}
	var doc issueDocument
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, apperrors.NewStateStoreError(fmt.Sprintf("decode issue document: %v", err), issueID)
	}
	issue := rowToIssue(issueID, projectID, fingerprint, environment, lastSeenMs, doc)
	return &issue, nil
}

func (s *sqliteIssueStore) ListSimilar(ctx context.Context, projectID, fingerprint, environment string, limit int) ([]model.Issue, error) {
	var rows *sql.Rows
	var err error
	if fingerprint != "" {
		rows, err = s.c.db.QueryContext(ctx,
			`SELECT issue_id, fingerprint, environment, last_seen_ms, document FROM issues
			 WHERE project_id = ? AND fingerprint = ? ORDER BY last_seen_ms DESC LIMIT ?`,
			projectID, fingerprint, limit)
	} else {
		rows, err = s.c.db.QueryContext(ctx,
			`SELECT issue_id, fingerprint, environment, last_seen_ms, document FROM issues
			 WHERE project_id = ? AND environment = ? COLLATE NOCASE ORDER BY last_seen_ms DESC LIMIT ?`,
			projectID, environment, limit)
	}
	if err != nil {
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("list similar issues: %v", err), "list_similar")
	}
	defer rows.Close()

	var out []model.Issue
	for rows.Next() {
		var issueID, fp, env, docJSON string
		var lastSeenMs int64
		if err := rows.Scan(&issueID, &fp, &env, &lastSeenMs, &docJSON); err != nil {
			return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("scan issue: %v", err), "list_similar")
		}
		var doc issueDocument
		if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
			continue
		}
		out = append(out, rowToIssue(issueID, projectID, fp, env, lastSeenMs, doc))
	}
	return out, rows.Err()
}

func (s *sqliteIssueStore) DeleteOlderThan(ctx context.Context, projectID string, cutoff time.Time) (int, error) {
	res, err := s.c.db.ExecContext(ctx, `DELETE FROM issues WHERE project_id = ? AND last_seen_ms < ?`, projectID, cutoff.UnixMilli())
	if err != nil {
		return 0, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("delete issues: %v", err), "retention_issues")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- OccurrenceStore ---

type sqliteOccurrenceStore struct{ c *sqliteCore }

type occurrenceDocument struct {
	Metadata    map[string]any     `json:"metadata,omitempty"`
	UserContext map[string]any     `json:"userContext,omitempty"`
	StackTrace  []model.StackFrame `json:"stackTrace,omitempty"`
	ExpiresAt   *time.Time         `json:"expiresAt,omitempty"`
}

func (s *sqliteOccurrenceStore) Insert(ctx context.Context, occ model.Occurrence) error {
	doc := occurrenceDocument{Metadata: occ.Metadata, UserContext: occ.UserContext, StackTrace: occ.StackTrace, ExpiresAt: occ.ExpiresAt}
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return apperrors.NewValidationError("occurrence", occ.OccurrenceID, fmt.Sprintf("encode occurrence: %v", err))
	}

	row := s.c.db.QueryRowContext(ctx, `SELECT fingerprint FROM issues WHERE issue_id = ?`, occ.IssueID)
	var fingerprint string
	if err := row.Scan(&fingerprint); err != nil && err != sql.ErrNoRows {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("resolve occurrence fingerprint: %v", err), "insert_occurrence")
	}

	_, err = s.c.db.ExecContext(ctx,
		`INSERT INTO occurrences (occurrence_id, issue_id, project_id, fingerprint, environment, timestamp_ms, document)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		occ.OccurrenceID, occ.IssueID, occ.ProjectID, fingerprint, occ.Environment, occ.Timestamp.UnixMilli(), string(docJSON))
	if err != nil {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("insert occurrence: %v", err), "insert_occurrence")
	}
	return nil
}

func (s *sqliteOccurrenceStore) CountInWindow(ctx context.Context, projectID, fingerprint, environment string, from, to time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM occurrences WHERE project_id = ? AND fingerprint = ? AND timestamp_ms >= ? AND timestamp_ms < ?`
	args := []any{projectID, fingerprint, from.UnixMilli(), to.UnixMilli()}
	if environment != "" {
		query += ` AND environment = ? COLLATE NOCASE`
		args = append(args, environment)
	}
	row := s.c.db.QueryRowContext(ctx, query, args...)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("count occurrences: %v", err), "count_in_window")
	}
	return count, nil
}

func (s *sqliteOccurrenceStore) DeleteOlderThan(ctx context.Context, projectID string, cutoff time.Time) (int, error) {
	res, err := s.c.db.ExecContext(ctx, `DELETE FROM occurrences WHERE project_id = ? AND timestamp_ms < ?`, projectID, cutoff.UnixMilli())
	if err != nil {
		return 0, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("delete occurrences: %v", err), "retention_occurrences")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// --- ProjectStore ---

type sqliteProjectStore struct{ c *sqliteCore }

func (s *sqliteProjectStore) Get(ctx context.Context, projectID string) (*model.Project, error) {
	row := s.c.db.QueryRowContext(ctx,
		`SELECT credential_hash, credential_preview, retention_days, scrub_emails, scrub_phones, scrub_ips FROM projects WHERE project_id = ?`,
		projectID)
	var p model.Project
	p.ProjectID = projectID
	var emails, phones, ips int
	if err := row.Scan(&p.CredentialHash, &p.CredentialPreview, &p.RetentionDays, &emails, &phones, &ips); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("get project: %v", err), "get_project")
	}
	p.Scrub = model.ScrubPolicy{RemoveEmails: emails != 0, RemovePhones: phones != 0, RemoveIPs: ips != 0}
	return &p, nil
}

func (s *sqliteProjectStore) ListRetentionEligible(ctx context.Context) ([]model.Project, error) {
	rows, err := s.c.db.QueryContext(ctx,
		`SELECT project_id, credential_hash, credential_preview, retention_days, scrub_emails, scrub_phones, scrub_ips FROM projects WHERE retention_days >= 1`)
	if err != nil {
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("list retention-eligible projects: %v", err), "list_retention_eligible")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		var emails, phones, ips int
		if err := rows.Scan(&p.ProjectID, &p.CredentialHash, &p.CredentialPreview, &p.RetentionDays, &emails, &phones, &ips); err != nil {
			return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("scan project: %v", err), "list_retention_eligible")
		}
		p.Scrub = model.ScrubPolicy{RemoveEmails: emails != 0, RemovePhones: phones != 0, RemoveIPs: ips != 0}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqliteProjectStore) PutProject(ctx context.Context, p model.Project) error {
	_, err := s.c.db.ExecContext(ctx,
		`INSERT INTO projects (project_id, credential_hash, credential_preview, retention_days, scrub_emails, scrub_phones, scrub_ips)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id) DO UPDATE SET credential_hash=excluded.credential_hash, credential_preview=excluded.credential_preview,
		 retention_days=excluded.retention_days, scrub_emails=excluded.scrub_emails, scrub_phones=excluded.scrub_phones, scrub_ips=excluded.scrub_ips`,
		p.ProjectID, p.CredentialHash, p.CredentialPreview, p.RetentionDays,
		boolToInt(p.Scrub.RemoveEmails), boolToInt(p.Scrub.RemovePhones), boolToInt(p.Scrub.RemoveIPs))
	if err != nil {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("put project: %v", err), "put_project")
	}
	return nil
}

// --- RuleStore ---

type sqliteRuleStore struct{ c *sqliteCore }

func (s *sqliteRuleStore) ListEnabled(ctx context.Context, projectID string) ([]model.AlertRule, error) {
	rows, err := s.c.db.QueryContext(ctx, `SELECT document FROM rules WHERE project_id = ? AND enabled = 1`, projectID)
	if err != nil {
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("list enabled rules: %v", err), "list_enabled_rules")
	}
	defer rows.Close()

	var out []model.AlertRule
	for rows.Next() {
		var docJSON string
		if err := rows.Scan(&docJSON); err != nil {
			return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("scan rule: %v", err), "list_enabled_rules")
		}
		var rule model.AlertRule
		if err := json.Unmarshal([]byte(docJSON), &rule); err != nil {
			continue
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

func (s *sqliteRuleStore) PutRule(ctx context.Context, r model.AlertRule) error {
	docJSON, err := json.Marshal(r)
	if err != nil {
		return apperrors.NewValidationError("rule", r.RuleID, fmt.Sprintf("encode rule: %v", err))
	}
	_, err = s.c.db.ExecContext(ctx,
		`INSERT INTO rules (rule_id, project_id, enabled, document) VALUES (?, ?, ?, ?)
		 ON CONFLICT(rule_id) DO UPDATE SET enabled = excluded.enabled, document = excluded.document`,
		r.RuleID, r.ProjectID, boolToInt(r.Enabled), string(docJSON))
	if err != nil {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("put rule: %v", err), "put_rule")
	}
	return nil
}

// --- MemberStore ---

type sqliteMemberStore struct{ c *sqliteCore }

func (s *sqliteMemberStore) scanMember(docJSON string) (*model.TeamMember, error) {
	var mem model.TeamMember
	if err := json.Unmarshal([]byte(docJSON), &mem); err != nil {
		return nil, apperrors.NewStateStoreError(fmt.Sprintf("decode member document: %v", err), "")
	}
	return &mem, nil
}

func (s *sqliteMemberStore) GetByEmail(ctx context.Context, projectID, email string) (*model.TeamMember, error) {
	row := s.c.db.QueryRowContext(ctx,
		`SELECT document FROM members WHERE project_id = ? AND email = ? COLLATE NOCASE`, projectID, email)
	var docJSON string
	if err := row.Scan(&docJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("get member by email: %v", err), "get_member_by_email")
	}
	return s.scanMember(docJSON)
}

func (s *sqliteMemberStore) Get(ctx context.Context, memberID string) (*model.TeamMember, error) {
	row := s.c.db.QueryRowContext(ctx, `SELECT document FROM members WHERE member_id = ?`, memberID)
	var docJSON string
	if err := row.Scan(&docJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("get member: %v", err), "get_member")
	}
	return s.scanMember(docJSON)
}

func (s *sqliteMemberStore) UpdateDigestLastSent(ctx context.Context, memberID string, sentAt time.Time) error {
	mem, err := s.Get(ctx, memberID)
	if err != nil {
		return err
	}
	if mem == nil {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, "member not found", "update_digest_last_sent")
	}
	t := sentAt
	mem.AlertPreferences.Digest.LastSentAt = &t
	return s.PutMember(ctx, *mem)
}

func (s *sqliteMemberStore) PutMember(ctx context.Context, mem model.TeamMember) error {
	docJSON, err := json.Marshal(mem)
	if err != nil {
		return apperrors.NewValidationError("member", mem.MemberID, fmt.Sprintf("encode member: %v", err))
	}
	_, err = s.c.db.ExecContext(ctx,
		`INSERT INTO members (member_id, project_id, email, document) VALUES (?, ?, ?, ?)
		 ON CONFLICT(member_id) DO UPDATE SET project_id = excluded.project_id, email = excluded.email, document = excluded.document`,
		mem.MemberID, mem.ProjectID, mem.Email, string(docJSON))
	if err != nil {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("put member: %v", err), "put_member")
	}
	return nil
}

// --- DeploymentStore ---

type sqliteDeploymentStore struct{ c *sqliteCore }

func (s *sqliteDeploymentStore) ListRecent(ctx context.Context, projectID string, from, to time.Time, limit int) ([]model.Deployment, error) {
	rows, err := s.c.db.QueryContext(ctx,
		`SELECT document FROM deployments WHERE project_id = ? AND timestamp_ms >= ? AND timestamp_ms <= ? ORDER BY timestamp_ms DESC LIMIT ?`,
		projectID, from.UnixMilli(), to.UnixMilli(), limit)
	if err != nil {
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("list recent deployments: %v", err), "list_recent_deployments")
	}
	defer rows.Close()

	var out []model.Deployment
	for rows.Next() {
		var docJSON string
		if err := rows.Scan(&docJSON); err != nil {
			return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("scan deployment: %v", err), "list_recent_deployments")
		}
		var d model.Deployment
		if err := json.Unmarshal([]byte(docJSON), &d); err != nil {
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *sqliteDeploymentStore) PutDeployment(ctx context.Context, d model.Deployment) error {
	docJSON, err := json.Marshal(d)
	if err != nil {
		return apperrors.NewValidationError("deployment", d.ProjectID, fmt.Sprintf("encode deployment: %v", err))
	}
	_, err = s.c.db.ExecContext(ctx, `INSERT INTO deployments (project_id, timestamp_ms, document) VALUES (?, ?, ?)`,
		d.ProjectID, d.Timestamp.UnixMilli(), string(docJSON))
	if err != nil {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("put deployment: %v", err), "put_deployment")
	}
	return nil
}

// --- NotificationStateStore ---

type sqliteNotificationStateStore struct{ c *sqliteCore }

func (s *sqliteNotificationStateStore) SaveCooldown(ctx context.Context, ruleID string, epochMs int64) error {
	_, err := s.c.db.ExecContext(ctx,
		`INSERT INTO cooldowns (rule_id, last_dispatch_ms) VALUES (?, ?)
		 ON CONFLICT(rule_id) DO UPDATE SET last_dispatch_ms = excluded.last_dispatch_ms`,
		ruleID, epochMs)
	if err != nil {
		return apperrors.NewStateStoreError(fmt.Sprintf("save cooldown: %v", err), ruleID)
	}
	return nil
}

func (s *sqliteNotificationStateStore) ListCooldowns(ctx context.Context) ([]model.CooldownEntry, error) {
	rows, err := s.c.db.QueryContext(ctx, `SELECT rule_id, last_dispatch_ms FROM cooldowns`)
	if err != nil {
		return nil, apperrors.NewStateStoreError(fmt.Sprintf("list cooldowns: %v", err), "")
	}
	defer rows.Close()
	var out []model.CooldownEntry
	for rows.Next() {
		var c model.CooldownEntry
		if err := rows.Scan(&c.RuleID, &c.LastDispatchMs); err != nil {
			return nil, apperrors.NewStateStoreError(fmt.Sprintf("scan cooldown: %v", err), "")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteNotificationStateStore) DeleteCooldown(ctx context.Context, ruleID string) error {
	if _, err := s.c.db.ExecContext(ctx, `DELETE FROM cooldowns WHERE rule_id = ?`, ruleID); err != nil {
		return apperrors.NewStateStoreError(fmt.Sprintf("delete cooldown: %v", err), ruleID)
	}
	return nil
}

func (s *sqliteNotificationStateStore) SaveEscalation(ctx context.Context, entry model.EscalationEntry) error {
	docJSON, err := json.Marshal(entry)
	if err != nil {
		return apperrors.NewStateStoreError(fmt.Sprintf("encode escalation: %v", err), entry.AlertID)
	}
	_, err = s.c.db.ExecContext(ctx,
		`INSERT INTO escalations (alert_id, document) VALUES (?, ?)
		 ON CONFLICT(alert_id) DO UPDATE SET document = excluded.document`,
		entry.AlertID, string(docJSON))
	if err != nil {
		return apperrors.NewStateStoreError(fmt.Sprintf("save escalation: %v", err), entry.AlertID)
	}
	return nil
}

func (s *sqliteNotificationStateStore) ListEscalations(ctx context.Context) ([]model.EscalationEntry, error) {
	rows, err := s.c.db.QueryContext(ctx, `SELECT document FROM escalations`)
	if err != nil {
		return nil, apperrors.NewStateStoreError(fmt.Sprintf("list escalations: %v", err), "")
	}
	defer rows.Close()
	var out []model.EscalationEntry
	for rows.Next() {
		var docJSON string
		if err := rows.Scan(&docJSON); err != nil {
			return nil, apperrors.NewStateStoreError(fmt.Sprintf("scan escalation: %v", err), "")
		}
		var entry model.EscalationEntry
		if err := json.Unmarshal([]byte(docJSON), &entry); err != nil {
			// malformed entries are dropped rather than retried indefinitely
			continue
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *sqliteNotificationStateStore) DeleteEscalation(ctx context.Context, alertID string) error {
	if _, err := s.c.db.ExecContext(ctx, `DELETE FROM escalations WHERE alert_id = ?`, alertID); err != nil {
		return apperrors.NewStateStoreError(fmt.Sprintf("delete escalation: %v", err), alertID)
	}
	return nil
}

func (s *sqliteNotificationStateStore) ClearAll(ctx context.Context) error {
	if _, err := s.c.db.ExecContext(ctx, `DELETE FROM cooldowns`); err != nil {
		return apperrors.NewStateStoreError(fmt.Sprintf("clear cooldowns: %v", err), "")
	}
	if _, err := s.c.db.ExecContext(ctx, `DELETE FROM escalations`); err != nil {
		return apperrors.NewStateStoreError(fmt.Sprintf("clear escalations: %v", err), "")
	}
	return nil
}

// --- DigestStore ---

type sqliteDigestStore struct{ c *sqliteCore }

func (s *sqliteDigestStore) Enqueue(ctx context.Context, entry model.DigestQueueEntry) error {
	if entry.EntryID == "" {
		entry.EntryID = fmt.Sprintf("%s-%s-%d", entry.ProjectID, entry.MemberID, entry.CreatedAt.UnixNano())
	}
	docJSON, err := json.Marshal(entry)
	if err != nil {
		return apperrors.NewValidationError("digest_entry", entry.EntryID, fmt.Sprintf("encode digest entry: %v", err))
	}
	_, err = s.c.db.ExecContext(ctx,
		`INSERT INTO digest_entries (entry_id, project_id, member_id, processed, created_ms, document) VALUES (?, ?, ?, 0, ?, ?)`,
		entry.EntryID, entry.ProjectID, entry.MemberID, entry.CreatedAt.UnixMilli(), string(docJSON))
	if err != nil {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("enqueue digest entry: %v", err), "enqueue_digest")
	}
	return nil
}

func (s *sqliteDigestStore) ListUnprocessed(ctx context.Context, projectID, memberID string) ([]model.DigestQueueEntry, error) {
	rows, err := s.c.db.QueryContext(ctx,
		`SELECT document FROM digest_entries WHERE project_id = ? AND member_id = ? AND processed = 0 ORDER BY created_ms ASC`,
		projectID, memberID)
	if err != nil {
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("list unprocessed digest entries: %v", err), "list_unprocessed")
	}
	defer rows.Close()

	var out []model.DigestQueueEntry
	for rows.Next() {
		var docJSON string
		if err := rows.Scan(&docJSON); err != nil {
			return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("scan digest entry: %v", err), "list_unprocessed")
		}
		var entry model.DigestQueueEntry
		if err := json.Unmarshal([]byte(docJSON), &entry); err != nil {
			continue
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (s *sqliteDigestStore) ListProjectsWithUnprocessed(ctx context.Context) ([]string, error) {
	rows, err := s.c.db.QueryContext(ctx, `SELECT DISTINCT project_id FROM digest_entries WHERE processed = 0`)
	if err != nil {
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("list projects with unprocessed entries: %v", err), "list_projects")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("scan project id: %v", err), "list_projects")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteDigestStore) ListMembersWithUnprocessed(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.c.db.QueryContext(ctx, `SELECT DISTINCT member_id FROM digest_entries WHERE project_id = ? AND processed = 0`, projectID)
	if err != nil {
		return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("list members with unprocessed entries: %v", err), "list_members")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("scan member id: %v", err), "list_members")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqliteDigestStore) MarkProcessed(ctx context.Context, entryIDs []string, processedAt time.Time) error {
	if len(entryIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(entryIDs)), ",")
	args := make([]any, 0, len(entryIDs))
	for _, id := range entryIDs {
		args = append(args, id)
	}
	query := fmt.Sprintf(`UPDATE digest_entries SET processed = 1 WHERE entry_id IN (%s)`, placeholders)
	if _, err := s.c.db.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewTransientStoreError(apperrors.CodeStoreUnavailable, fmt.Sprintf("mark digest entries processed: %v", err), "mark_processed")
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraint(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
