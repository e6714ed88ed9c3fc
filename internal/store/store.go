// Package store persists company task sets, their version tokens, and the
// audit log. Two backends: Postgres for production, SQLite for local use.
package store

import (
	"context"
	"fmt"

	"github.com/verdant-group/esg-cli/internal/model"
)

// ConflictError reports that a commit's expected version token no longer
// matches the stored one. The task set was not touched; the caller must
// re-run Preview against the current token.
type ConflictError struct {
	CompanyID     string
	ExpectedToken string
	CurrentToken  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("store: version conflict for company %s: expected token %s, current is %s",
		e.CompanyID, e.ExpectedToken, e.CurrentToken)
}

// Store is the persistence interface for company task sets.
//
// Version tokens are opaque to callers but monotonically increasing per
// company; every CommitPlan and every UpdateTaskStatus bumps the token.
type Store interface {
	// LoadTasks returns the company's tasks and the current version token.
	// A company with no tasks yet has token "0".
	LoadTasks(ctx context.Context, companyID string) ([]model.Task, string, error)

	// CommitPlan atomically applies a reconciliation plan: removed tasks are
	// deleted, updated tasks have their content fields rewritten, added tasks
	// are inserted, and the version token is bumped, all in one transaction.
	// If expectedToken no longer matches the stored token, CommitPlan returns
	// *ConflictError and performs no mutation. Returns the new token.
	CommitPlan(ctx context.Context, companyID string, plan *model.ReconciliationPlan, expectedToken string) (string, error)

	// UpdateTaskStatus applies a user status edit and bumps the version
	// token, so any reconciliation previewed before the edit can no longer
	// be applied. Returns the new token.
	UpdateTaskStatus(ctx context.Context, companyID, taskID string, status model.TaskStatus) (string, error)

	// AppendAudit writes an immutable audit record.
	AppendAudit(ctx context.Context, rec model.AuditRecord) error

	// ListAudit returns the most recent audit records for a company, newest
	// first.
	ListAudit(ctx context.Context, companyID string, limit int) ([]model.AuditRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
