package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/verdant-group/esg-cli/internal/db"
	"github.com/verdant-group/esg-cli/internal/model"
)

// ErrTaskNotFound is returned when a task id does not exist for the company.
var ErrTaskNotFound = eris.New("store: task not found")

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries prepared on each new connection. Load and
// version lookups run on every Preview, so they dominate traffic.
var preparedStatements = map[string]string{
	"get_version":   `SELECT version FROM task_set_versions WHERE company_id = $1`,
	"load_tasks":    taskSelect + ` WHERE company_id = $1 ORDER BY natural_key, id`,
	"insert_audit":  `INSERT INTO audit_log (id, company_id, action, summary, plan, version_before, version_after, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
	"list_audit":    `SELECT id, company_id, action, summary, plan, version_before, version_after, created_at FROM audit_log WHERE company_id = $1 ORDER BY created_at DESC LIMIT $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tasks (
	id                      TEXT PRIMARY KEY,
	company_id              TEXT NOT NULL,
	natural_key             TEXT NOT NULL,
	title                   TEXT NOT NULL,
	description             TEXT NOT NULL DEFAULT '',
	compliance_context      TEXT NOT NULL DEFAULT '',
	action_required         TEXT NOT NULL DEFAULT '',
	category                TEXT NOT NULL,
	framework_tags          JSONB NOT NULL DEFAULT '[]',
	status                  TEXT NOT NULL DEFAULT 'todo',
	assigned_user_id        TEXT NOT NULL DEFAULT '',
	evidence_refs           JSONB NOT NULL DEFAULT '[]',
	required_evidence_count INTEGER NOT NULL DEFAULT 1,
	due_date                TIMESTAMPTZ,
	provenance              JSONB NOT NULL DEFAULT '{}',
	created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_reconciled_at      TIMESTAMPTZ,
	UNIQUE (company_id, natural_key)
);

CREATE INDEX IF NOT EXISTS idx_tasks_company ON tasks(company_id);
CREATE INDEX IF NOT EXISTS idx_tasks_company_status ON tasks(company_id, status);

CREATE TABLE IF NOT EXISTS task_set_versions (
	company_id TEXT PRIMARY KEY,
	version    BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_log (
	id             TEXT PRIMARY KEY,
	company_id     TEXT NOT NULL,
	action         TEXT NOT NULL,
	summary        JSONB NOT NULL,
	plan           JSONB,
	version_before BIGINT NOT NULL,
	version_after  BIGINT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_audit_company_created ON audit_log(company_id, created_at DESC);
`

const taskSelect = `SELECT id, company_id, natural_key, title, description, compliance_context, action_required, category, framework_tags, status, assigned_user_id, evidence_refs, required_evidence_count, due_date, provenance, created_at, last_reconciled_at FROM tasks`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) LoadTasks(ctx context.Context, companyID string) ([]model.Task, string, error) {
	var version int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM task_set_versions WHERE company_id = $1`, companyID).Scan(&version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, "", eris.Wrapf(err, "postgres: get version for %s", companyID)
	}

	rows, err := s.pool.Query(ctx, taskSelect+` WHERE company_id = $1 ORDER BY natural_key, id`, companyID)
	if err != nil {
		return nil, "", eris.Wrapf(err, "postgres: load tasks for %s", companyID)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, "", err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, "", eris.Wrapf(err, "postgres: iterate tasks for %s", companyID)
	}

	return tasks, formatToken(version), nil
}

func (s *PostgresStore) CommitPlan(ctx context.Context, companyID string, plan *model.ReconciliationPlan, expectedToken string) (string, error) {
	expected, err := parseToken(expectedToken)
	if err != nil {
		return "", err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin commit")
	}
	defer tx.Rollback(ctx)

	// Materialize the version row so FOR UPDATE has something to lock for a
	// company's first reconciliation.
	if _, err := tx.Exec(ctx,
		`INSERT INTO task_set_versions (company_id, version) VALUES ($1, 0) ON CONFLICT (company_id) DO NOTHING`,
		companyID,
	); err != nil {
		return "", eris.Wrapf(err, "postgres: ensure version row for %s", companyID)
	}

	var current int64
	if err := tx.QueryRow(ctx,
		`SELECT version FROM task_set_versions WHERE company_id = $1 FOR UPDATE`,
		companyID,
	).Scan(&current); err != nil {
		return "", eris.Wrapf(err, "postgres: lock version for %s", companyID)
	}

	if current != expected {
		return "", &ConflictError{
			CompanyID:     companyID,
			ExpectedToken: expectedToken,
			CurrentToken:  formatToken(current),
		}
	}

	now := time.Now().UTC()

	if len(plan.Removed) > 0 {
		ids := taskIDs(plan.Removed)
		if _, err := tx.Exec(ctx,
			`DELETE FROM tasks WHERE company_id = $1 AND id = ANY($2)`,
			companyID, ids,
		); err != nil {
			return "", eris.Wrapf(err, "postgres: delete removed tasks for %s", companyID)
		}
	}

	for _, t := range plan.Updated {
		tagsJSON, provJSON, err := marshalTaskJSON(t)
		if err != nil {
			return "", err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE tasks SET natural_key = $1, title = $2, description = $3, compliance_context = $4, action_required = $5, category = $6, framework_tags = $7, provenance = $8, last_reconciled_at = $9 WHERE company_id = $10 AND id = $11`,
			t.NaturalKey, t.Title, t.Description, t.ComplianceContext, t.ActionRequired,
			string(t.Category), tagsJSON, provJSON, now, companyID, t.ID,
		); err != nil {
			return "", eris.Wrapf(err, "postgres: update task %s", t.ID)
		}
	}

	if len(plan.Preserved) > 0 {
		if _, err := tx.Exec(ctx,
			`UPDATE tasks SET last_reconciled_at = $1 WHERE company_id = $2 AND id = ANY($3)`,
			now, companyID, taskIDs(plan.Preserved),
		); err != nil {
			return "", eris.Wrapf(err, "postgres: stamp preserved tasks for %s", companyID)
		}
	}

	if len(plan.Added) > 0 {
		rows := make([][]any, 0, len(plan.Added))
		for _, t := range plan.Added {
			tagsJSON, provJSON, err := marshalTaskJSON(t)
			if err != nil {
				return "", err
			}
			evJSON, err := json.Marshal(evidenceOrEmpty(t.EvidenceRefs))
			if err != nil {
				return "", eris.Wrapf(err, "postgres: marshal evidence refs for %s", t.ID)
			}
			rows = append(rows, []any{
				t.ID, companyID, t.NaturalKey, t.Title, t.Description, t.ComplianceContext,
				t.ActionRequired, string(t.Category), tagsJSON, string(t.Status), t.AssignedUserID,
				evJSON, t.RequiredEvidenceCount, t.DueDate, provJSON, t.CreatedAt, now,
			})
		}
		if _, err := db.CopyRows(ctx, tx, "tasks", taskColumns, rows); err != nil {
			return "", eris.Wrapf(err, "postgres: insert added tasks for %s", companyID)
		}
	}

	newVersion := current + 1
	if _, err := tx.Exec(ctx,
		`UPDATE task_set_versions SET version = $1, updated_at = $2 WHERE company_id = $3`,
		newVersion, now, companyID,
	); err != nil {
		return "", eris.Wrapf(err, "postgres: bump version for %s", companyID)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrapf(err, "postgres: commit plan for %s", companyID)
	}
	return formatToken(newVersion), nil
}

var taskColumns = []string{
	"id", "company_id", "natural_key", "title", "description", "compliance_context",
	"action_required", "category", "framework_tags", "status", "assigned_user_id",
	"evidence_refs", "required_evidence_count", "due_date", "provenance", "created_at",
	"last_reconciled_at",
}

func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, companyID, taskID string, status model.TaskStatus) (string, error) {
	if !status.Valid() {
		return "", eris.Errorf("postgres: invalid task status %q", status)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", eris.Wrap(err, "postgres: begin status update")
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET status = $1 WHERE company_id = $2 AND id = $3`,
		string(status), companyID, taskID,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: update status of task %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return "", eris.Wrapf(ErrTaskNotFound, "task %s in company %s", taskID, companyID)
	}

	var newVersion int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO task_set_versions (company_id, version) VALUES ($1, 1)
		 ON CONFLICT (company_id) DO UPDATE SET version = task_set_versions.version + 1, updated_at = now()
		 RETURNING version`,
		companyID,
	).Scan(&newVersion); err != nil {
		return "", eris.Wrapf(err, "postgres: bump version for %s", companyID)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", eris.Wrapf(err, "postgres: commit status update for %s", taskID)
	}
	return formatToken(newVersion), nil
}

func (s *PostgresStore) AppendAudit(ctx context.Context, rec model.AuditRecord) error {
	summaryJSON, err := json.Marshal(rec.Summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal audit summary")
	}
	var planJSON []byte
	if rec.Plan != nil {
		planJSON, err = json.Marshal(rec.Plan)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal audit plan")
		}
	}
	before, err := parseToken(rec.VersionTokenBefore)
	if err != nil {
		return err
	}
	after, err := parseToken(rec.VersionTokenAfter)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO audit_log (id, company_id, action, summary, plan, version_before, version_after, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.CompanyID, string(rec.Action), summaryJSON, planJSON, before, after, rec.Timestamp,
	)
	return eris.Wrapf(err, "postgres: insert audit record for %s", rec.CompanyID)
}

func (s *PostgresStore) ListAudit(ctx context.Context, companyID string, limit int) ([]model.AuditRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, action, summary, plan, version_before, version_after, created_at FROM audit_log WHERE company_id = $1 ORDER BY created_at DESC LIMIT $2`,
		companyID, limit,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list audit for %s", companyID)
	}
	defer rows.Close()

	var records []model.AuditRecord
	for rows.Next() {
		var (
			rec         model.AuditRecord
			action      string
			summaryJSON []byte
			planJSON    []byte
			before      int64
			after       int64
		)
		if err := rows.Scan(&rec.ID, &rec.CompanyID, &action, &summaryJSON, &planJSON, &before, &after, &rec.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit record")
		}
		rec.Action = model.AuditAction(action)
		if err := json.Unmarshal(summaryJSON, &rec.Summary); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal audit summary")
		}
		if len(planJSON) > 0 {
			rec.Plan = &model.ReconciliationPlan{}
			if err := json.Unmarshal(planJSON, rec.Plan); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal audit plan")
			}
		}
		rec.VersionTokenBefore = formatToken(before)
		rec.VersionTokenAfter = formatToken(after)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrapf(err, "postgres: iterate audit for %s", companyID)
	}
	return records, nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t        model.Task
		category string
		status   string
		tagsJSON []byte
		evJSON   []byte
		provJSON []byte
	)
	err := row.Scan(
		&t.ID, &t.CompanyID, &t.NaturalKey, &t.Title, &t.Description,
		&t.ComplianceContext, &t.ActionRequired, &category, &tagsJSON, &status,
		&t.AssignedUserID, &evJSON, &t.RequiredEvidenceCount, &t.DueDate,
		&provJSON, &t.CreatedAt, &t.LastReconciledAt,
	)
	if err != nil {
		return model.Task{}, eris.Wrap(err, "postgres: scan task")
	}
	t.Category = model.TaskCategory(category)
	t.Status = model.TaskStatus(status)
	if err := json.Unmarshal(tagsJSON, &t.FrameworkTags); err != nil {
		return model.Task{}, eris.Wrap(err, "postgres: unmarshal framework tags")
	}
	if err := json.Unmarshal(evJSON, &t.EvidenceRefs); err != nil {
		return model.Task{}, eris.Wrap(err, "postgres: unmarshal evidence refs")
	}
	if err := json.Unmarshal(provJSON, &t.Provenance); err != nil {
		return model.Task{}, eris.Wrap(err, "postgres: unmarshal provenance")
	}
	return t, nil
}

func marshalTaskJSON(t model.Task) (tags []byte, prov []byte, err error) {
	tags, err = json.Marshal(tagsOrEmpty(t.FrameworkTags))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "postgres: marshal framework tags for %s", t.ID)
	}
	prov, err = json.Marshal(t.Provenance)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "postgres: marshal provenance for %s", t.ID)
	}
	return tags, prov, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func evidenceOrEmpty(refs []string) []string {
	if refs == nil {
		return []string{}
	}
	return refs
}

func taskIDs(tasks []model.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}

func formatToken(version int64) string {
	return strconv.FormatInt(version, 10)
}

func parseToken(token string) (int64, error) {
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "store: malformed version token %q", token)
	}
	return v, nil
}
