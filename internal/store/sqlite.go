package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/verdant-group/esg-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local and
// test backend; production runs Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS tasks (
	id                      TEXT PRIMARY KEY,
	company_id              TEXT NOT NULL,
	natural_key             TEXT NOT NULL,
	title                   TEXT NOT NULL,
	description             TEXT NOT NULL DEFAULT '',
	compliance_context      TEXT NOT NULL DEFAULT '',
	action_required         TEXT NOT NULL DEFAULT '',
	category                TEXT NOT NULL,
	framework_tags          TEXT NOT NULL DEFAULT '[]',
	status                  TEXT NOT NULL DEFAULT 'todo',
	assigned_user_id        TEXT NOT NULL DEFAULT '',
	evidence_refs           TEXT NOT NULL DEFAULT '[]',
	required_evidence_count INTEGER NOT NULL DEFAULT 1,
	due_date                DATETIME,
	provenance              TEXT NOT NULL DEFAULT '{}',
	created_at              DATETIME NOT NULL,
	last_reconciled_at      DATETIME,
	UNIQUE (company_id, natural_key)
);

CREATE INDEX IF NOT EXISTS idx_tasks_company ON tasks(company_id);
CREATE INDEX IF NOT EXISTS idx_tasks_company_status ON tasks(company_id, status);

CREATE TABLE IF NOT EXISTS task_set_versions (
	company_id TEXT PRIMARY KEY,
	version    INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id             TEXT PRIMARY KEY,
	company_id     TEXT NOT NULL,
	action         TEXT NOT NULL,
	summary        TEXT NOT NULL,
	plan           TEXT,
	version_before INTEGER NOT NULL,
	version_after  INTEGER NOT NULL,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_company_created ON audit_log(company_id, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteTaskSelect = `SELECT id, company_id, natural_key, title, description, compliance_context, action_required, category, framework_tags, status, assigned_user_id, evidence_refs, required_evidence_count, due_date, provenance, created_at, last_reconciled_at FROM tasks`

func (s *SQLiteStore) LoadTasks(ctx context.Context, companyID string) ([]model.Task, string, error) {
	var version int64
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM task_set_versions WHERE company_id = ?`, companyID,
	).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, "", eris.Wrapf(err, "sqlite: get version for %s", companyID)
	}

	rows, err := s.db.QueryContext(ctx,
		sqliteTaskSelect+` WHERE company_id = ? ORDER BY natural_key, id`, companyID,
	)
	if err != nil {
		return nil, "", eris.Wrapf(err, "sqlite: load tasks for %s", companyID)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if err != nil {
			return nil, "", err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", eris.Wrapf(err, "sqlite: iterate tasks for %s", companyID)
	}

	return tasks, formatToken(version), nil
}

func (s *SQLiteStore) CommitPlan(ctx context.Context, companyID string, plan *model.ReconciliationPlan, expectedToken string) (string, error) {
	expected, err := parseToken(expectedToken)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin commit")
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_set_versions (company_id, version, updated_at) VALUES (?, 0, ?) ON CONFLICT (company_id) DO NOTHING`,
		companyID, now,
	); err != nil {
		return "", eris.Wrapf(err, "sqlite: ensure version row for %s", companyID)
	}

	var current int64
	if err := tx.QueryRowContext(ctx,
		`SELECT version FROM task_set_versions WHERE company_id = ?`, companyID,
	).Scan(&current); err != nil {
		return "", eris.Wrapf(err, "sqlite: read version for %s", companyID)
	}

	if current != expected {
		return "", &ConflictError{
			CompanyID:     companyID,
			ExpectedToken: expectedToken,
			CurrentToken:  formatToken(current),
		}
	}

	for _, t := range plan.Removed {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM tasks WHERE company_id = ? AND id = ?`, companyID, t.ID,
		); err != nil {
			return "", eris.Wrapf(err, "sqlite: delete task %s", t.ID)
		}
	}

	for _, t := range plan.Updated {
		tagsJSON, provJSON, err := marshalTaskJSON(t)
		if err != nil {
			return "", err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET natural_key = ?, title = ?, description = ?, compliance_context = ?, action_required = ?, category = ?, framework_tags = ?, provenance = ?, last_reconciled_at = ? WHERE company_id = ? AND id = ?`,
			t.NaturalKey, t.Title, t.Description, t.ComplianceContext, t.ActionRequired,
			string(t.Category), string(tagsJSON), string(provJSON), now, companyID, t.ID,
		); err != nil {
			return "", eris.Wrapf(err, "sqlite: update task %s", t.ID)
		}
	}

	for _, t := range plan.Preserved {
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET last_reconciled_at = ? WHERE company_id = ? AND id = ?`,
			now, companyID, t.ID,
		); err != nil {
			return "", eris.Wrapf(err, "sqlite: stamp task %s", t.ID)
		}
	}

	for _, t := range plan.Added {
		tagsJSON, provJSON, err := marshalTaskJSON(t)
		if err != nil {
			return "", err
		}
		evJSON, err := json.Marshal(evidenceOrEmpty(t.EvidenceRefs))
		if err != nil {
			return "", eris.Wrapf(err, "sqlite: marshal evidence refs for %s", t.ID)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (id, company_id, natural_key, title, description, compliance_context, action_required, category, framework_tags, status, assigned_user_id, evidence_refs, required_evidence_count, due_date, provenance, created_at, last_reconciled_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, companyID, t.NaturalKey, t.Title, t.Description, t.ComplianceContext,
			t.ActionRequired, string(t.Category), string(tagsJSON), string(t.Status),
			t.AssignedUserID, string(evJSON), t.RequiredEvidenceCount, t.DueDate,
			string(provJSON), t.CreatedAt, now,
		); err != nil {
			return "", eris.Wrapf(err, "sqlite: insert task %s", t.ID)
		}
	}

	newVersion := current + 1
	if _, err := tx.ExecContext(ctx,
		`UPDATE task_set_versions SET version = ?, updated_at = ? WHERE company_id = ?`,
		newVersion, now, companyID,
	); err != nil {
		return "", eris.Wrapf(err, "sqlite: bump version for %s", companyID)
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrapf(err, "sqlite: commit plan for %s", companyID)
	}
	return formatToken(newVersion), nil
}

func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, companyID, taskID string, status model.TaskStatus) (string, error) {
	if !status.Valid() {
		return "", eris.Errorf("sqlite: invalid task status %q", status)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: begin status update")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = ? WHERE company_id = ? AND id = ?`,
		string(status), companyID, taskID,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: update status of task %s", taskID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", eris.Wrap(err, "sqlite: rows affected")
	}
	if affected == 0 {
		return "", eris.Wrapf(ErrTaskNotFound, "task %s in company %s", taskID, companyID)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_set_versions (company_id, version, updated_at) VALUES (?, 1, ?)
		 ON CONFLICT (company_id) DO UPDATE SET version = version + 1, updated_at = excluded.updated_at`,
		companyID, now,
	); err != nil {
		return "", eris.Wrapf(err, "sqlite: bump version for %s", companyID)
	}

	var newVersion int64
	if err := tx.QueryRowContext(ctx,
		`SELECT version FROM task_set_versions WHERE company_id = ?`, companyID,
	).Scan(&newVersion); err != nil {
		return "", eris.Wrapf(err, "sqlite: read version for %s", companyID)
	}

	if err := tx.Commit(); err != nil {
		return "", eris.Wrapf(err, "sqlite: commit status update for %s", taskID)
	}
	return formatToken(newVersion), nil
}

func (s *SQLiteStore) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	summaryJSON, err := json.Marshal(rec.Summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal audit summary")
	}
	var planJSON sql.NullString
	if rec.Plan != nil {
		b, err := json.Marshal(rec.Plan)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal audit plan")
		}
		planJSON = sql.NullString{String: string(b), Valid: true}
	}
	before, err := parseToken(rec.VersionTokenBefore)
	if err != nil {
		return err
	}
	after, err := parseToken(rec.VersionTokenAfter)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, company_id, action, summary, plan, version_before, version_after, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CompanyID, string(rec.Action), string(summaryJSON), planJSON, before, after, rec.Timestamp,
	)
	return eris.Wrapf(err, "sqlite: insert audit record for %s", rec.CompanyID)
}

func (s *SQLiteStore) ListAudit(ctx context.Context, companyID string, limit int) ([]model.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, action, summary, plan, version_before, version_after, created_at FROM audit_log WHERE company_id = ? ORDER BY created_at DESC LIMIT ?`,
		companyID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list audit for %s", companyID)
	}
	defer rows.Close()

	var records []model.AuditRecord
	for rows.Next() {
		var (
			rec         model.AuditRecord
			action      string
			summaryJSON string
			planJSON    sql.NullString
			before      int64
			after       int64
		)
		if err := rows.Scan(&rec.ID, &rec.CompanyID, &action, &summaryJSON, &planJSON, &before, &after, &rec.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit record")
		}
		rec.Action = model.AuditAction(action)
		if err := json.Unmarshal([]byte(summaryJSON), &rec.Summary); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal audit summary")
		}
		if planJSON.Valid {
			rec.Plan = &model.ReconciliationPlan{}
			if err := json.Unmarshal([]byte(planJSON.String), rec.Plan); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal audit plan")
			}
		}
		rec.VersionTokenBefore = formatToken(before)
		rec.VersionTokenAfter = formatToken(after)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "sqlite: iterate audit for %s", companyID)
	}
	return records, nil
}

func scanSQLiteTask(rows *sql.Rows) (model.Task, error) {
	var (
		t        model.Task
		category string
		status   string
		tagsJSON string
		evJSON   string
		provJSON string
		dueDate  sql.NullTime
		lastRec  sql.NullTime
	)
	err := rows.Scan(
		&t.ID, &t.CompanyID, &t.NaturalKey, &t.Title, &t.Description,
		&t.ComplianceContext, &t.ActionRequired, &category, &tagsJSON, &status,
		&t.AssignedUserID, &evJSON, &t.RequiredEvidenceCount, &dueDate,
		&provJSON, &t.CreatedAt, &lastRec,
	)
	if err != nil {
		return model.Task{}, eris.Wrap(err, "sqlite: scan task")
	}
	t.Category = model.TaskCategory(category)
	t.Status = model.TaskStatus(status)
	if dueDate.Valid {
		d := dueDate.Time.UTC()
		t.DueDate = &d
	}
	if lastRec.Valid {
		l := lastRec.Time.UTC()
		t.LastReconciledAt = &l
	}
	if err := json.Unmarshal([]byte(tagsJSON), &t.FrameworkTags); err != nil {
		return model.Task{}, eris.Wrap(err, "sqlite: unmarshal framework tags")
	}
	if err := json.Unmarshal([]byte(evJSON), &t.EvidenceRefs); err != nil {
		return model.Task{}, eris.Wrap(err, "sqlite: unmarshal evidence refs")
	}
	if err := json.Unmarshal([]byte(provJSON), &t.Provenance); err != nil {
		return model.Task{}, eris.Wrap(err, "sqlite: unmarshal provenance")
	}
	return t, nil
}
