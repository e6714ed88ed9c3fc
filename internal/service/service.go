// Package service orchestrates reconciliation: it loads the persisted task
// set, runs the generator and reconciler, and commits plans through the store
// under optimistic concurrency control.
package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/verdant-group/esg-cli/internal/generate"
	"github.com/verdant-group/esg-cli/internal/model"
	"github.com/verdant-group/esg-cli/internal/reconcile"
	"github.com/verdant-group/esg-cli/internal/store"
)

// Service exposes the reconciliation operations. It is safe for concurrent
// use.
type Service struct {
	store     store.Store
	generator generate.Generator

	// previews collapses concurrent Preview calls for the same company and
	// snapshot into one computation.
	previews singleflight.Group
}

// New creates a Service on top of a store and a candidate generator.
func New(s store.Store, g generate.Generator) *Service {
	return &Service{store: s, generator: g}
}

// PreviewResult is the outcome of a Preview: the plan, its diagnostics, and
// the version token the plan is valid against.
type PreviewResult struct {
	Plan         *model.ReconciliationPlan `json:"plan"`
	Summary      model.PlanSummary         `json:"summary"`
	VersionToken string                    `json:"version_token"`
}

// ApplyResult is the outcome of a successful Apply.
type ApplyResult struct {
	Summary         model.PlanSummary `json:"summary"`
	NewVersionToken string            `json:"new_version_token"`
	AuditRecordID   string            `json:"audit_record_id"`
}

// Preview computes a reconciliation plan without committing anything. The
// returned plan carries the version token it was computed against; Apply will
// refuse the plan if the token has moved since.
//
// Concurrent previews for the same company and snapshot share one
// computation.
func (s *Service) Preview(ctx context.Context, companyID string, snapshot model.ScopingSnapshot) (*PreviewResult, error) {
	if err := validatePreview(companyID, snapshot); err != nil {
		return nil, err
	}

	key := companyID + ":" + snapshot.Hash()
	v, err, shared := s.previews.Do(key, func() (any, error) {
		return s.preview(ctx, companyID, snapshot)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		zap.L().Debug("preview deduplicated", zap.String("company_id", companyID))
	}
	return v.(*PreviewResult), nil
}

func (s *Service) preview(ctx context.Context, companyID string, snapshot model.ScopingSnapshot) (*PreviewResult, error) {
	existing, token, err := s.store.LoadTasks(ctx, companyID)
	if err != nil {
		return nil, eris.Wrapf(err, "service: load tasks for %s", companyID)
	}

	candidates, err := s.generator.GenerateCandidates(ctx, snapshot)
	if err != nil {
		return nil, eris.Wrapf(err, "service: generate candidates for %s", companyID)
	}

	m := reconcile.Match(existing, candidates)
	plan := reconcile.BuildPlan(companyID, existing, candidates, m, nil)
	plan.VersionTokenBefore = token

	summary := plan.Summary()
	zap.L().Info("reconciliation previewed",
		zap.String("company_id", companyID),
		zap.String("sector", snapshot.Sector),
		zap.String("version_token", token),
		zap.Int("preserved", summary.PreservedCount),
		zap.Int("updated", summary.UpdatedCount),
		zap.Int("added", summary.AddedCount),
		zap.Int("removed", summary.RemovedCount),
		zap.Int("diagnostics", len(plan.Diagnostics)),
	)

	return &PreviewResult{Plan: plan, Summary: summary, VersionToken: token}, nil
}

// Apply commits a previously previewed plan. The expected token must be the
// one the plan was previewed against; on a mismatch the store returns
// *store.ConflictError and nothing is mutated. A successful Apply appends an
// audit record; audit failures are logged, not returned, since the commit has
// already happened.
func (s *Service) Apply(ctx context.Context, companyID string, plan *model.ReconciliationPlan, expectedToken string) (*ApplyResult, error) {
	if companyID == "" {
		return nil, invalid("company_id", "must not be empty")
	}
	if plan == nil {
		return nil, invalid("plan", "must not be nil")
	}
	if plan.CompanyID != companyID {
		return nil, invalid("plan", fmt.Sprintf("belongs to company %s, not %s", plan.CompanyID, companyID))
	}
	if expectedToken == "" {
		return nil, invalid("version_token", "must not be empty")
	}

	newToken, err := s.store.CommitPlan(ctx, companyID, plan, expectedToken)
	if err != nil {
		return nil, err
	}

	rec := model.AuditRecord{
		ID:                 uuid.New().String(),
		CompanyID:          companyID,
		Action:             model.AuditActionReconcileApply,
		Summary:            plan.Summary(),
		Plan:               plan,
		VersionTokenBefore: expectedToken,
		VersionTokenAfter:  newToken,
		Timestamp:          time.Now().UTC(),
	}
	if err := s.store.AppendAudit(ctx, rec); err != nil {
		zap.L().Warn("audit append failed after commit",
			zap.String("company_id", companyID),
			zap.String("audit_record_id", rec.ID),
			zap.Error(err),
		)
	}

	summary := plan.Summary()
	zap.L().Info("reconciliation applied",
		zap.String("company_id", companyID),
		zap.String("version_token", newToken),
		zap.Int("preserved", summary.PreservedCount),
		zap.Int("updated", summary.UpdatedCount),
		zap.Int("added", summary.AddedCount),
		zap.Int("removed", summary.RemovedCount),
	)

	return &ApplyResult{Summary: summary, NewVersionToken: newToken, AuditRecordID: rec.ID}, nil
}

// Reconcile previews against the current state and immediately applies the
// resulting plan. The CLI uses it for one-shot runs; conflicts can still
// occur if another writer lands between the load and the commit.
func (s *Service) Reconcile(ctx context.Context, companyID string, snapshot model.ScopingSnapshot) (*ApplyResult, error) {
	preview, err := s.Preview(ctx, companyID, snapshot)
	if err != nil {
		return nil, err
	}
	return s.Apply(ctx, companyID, preview.Plan, preview.VersionToken)
}

// Tasks returns the company's persisted task set and its version token.
func (s *Service) Tasks(ctx context.Context, companyID string) ([]model.Task, string, error) {
	if companyID == "" {
		return nil, "", invalid("company_id", "must not be empty")
	}
	return s.store.LoadTasks(ctx, companyID)
}

// SetTaskStatus applies a user status edit and returns the new version token.
func (s *Service) SetTaskStatus(ctx context.Context, companyID, taskID string, status model.TaskStatus) (string, error) {
	if companyID == "" {
		return "", invalid("company_id", "must not be empty")
	}
	if taskID == "" {
		return "", invalid("task_id", "must not be empty")
	}
	if !status.Valid() {
		return "", invalid("status", fmt.Sprintf("unknown status %q", status))
	}

	newToken, err := s.store.UpdateTaskStatus(ctx, companyID, taskID, status)
	if err != nil {
		return "", err
	}

	rec := model.AuditRecord{
		ID:                uuid.New().String(),
		CompanyID:         companyID,
		Action:            model.AuditActionTaskStatusEdit,
		VersionTokenAfter: newToken,
		Timestamp:         time.Now().UTC(),
	}
	// The before token is not tracked for status edits; store it as the
	// predecessor of the returned token.
	rec.VersionTokenBefore = previousToken(newToken)
	if err := s.store.AppendAudit(ctx, rec); err != nil {
		zap.L().Warn("audit append failed after status edit",
			zap.String("company_id", companyID),
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
	return newToken, nil
}

// Audit returns the most recent audit records for a company, newest first.
func (s *Service) Audit(ctx context.Context, companyID string, limit int) ([]model.AuditRecord, error) {
	if companyID == "" {
		return nil, invalid("company_id", "must not be empty")
	}
	return s.store.ListAudit(ctx, companyID, limit)
}

func validatePreview(companyID string, snapshot model.ScopingSnapshot) error {
	if companyID == "" {
		return invalid("company_id", "must not be empty")
	}
	if snapshot.Sector == "" {
		return invalid("snapshot.sector", "must not be empty")
	}
	if snapshot.CompletedAt == nil {
		return invalid("snapshot.completed_at", "scoping must be completed before reconciliation")
	}
	return nil
}

func previousToken(token string) string {
	v, err := strconv.ParseInt(token, 10, 64)
	if err != nil || v <= 0 {
		return "0"
	}
	return strconv.FormatInt(v-1, 10)
}
