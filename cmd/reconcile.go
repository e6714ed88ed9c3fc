package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/verdant-group/esg-cli/internal/model"
	"github.com/verdant-group/esg-cli/internal/resilience"
	"github.com/verdant-group/esg-cli/internal/service"
)

var (
	reconcileCompanyID string
	reconcileSnapshot  string
	reconcileDryRun    bool
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a company's task set against its scoping snapshot",
	Long:  "Generates candidate tasks from the sector catalog and the scoping snapshot, previews the merge against the persisted task set, and applies it unless --dry-run is given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		ctx := cmd.Context()

		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		snapshot, err := loadSnapshot(reconcileSnapshot)
		if err != nil {
			return err
		}

		preview, err := svc.Preview(ctx, reconcileCompanyID, snapshot)
		if err != nil {
			return eris.Wrap(err, "preview")
		}

		zap.L().Info("plan previewed",
			zap.String("company_id", reconcileCompanyID),
			zap.Int("preserved", preview.Summary.PreservedCount),
			zap.Int("updated", preview.Summary.UpdatedCount),
			zap.Int("added", preview.Summary.AddedCount),
			zap.Int("removed", preview.Summary.RemovedCount),
		)

		if reconcileDryRun {
			return printJSON(preview)
		}

		rc := retryConfig()
		rc.OnRetry = resilience.RetryLogger("apply_plan")
		result, err := resilience.DoVal(ctx, rc, func(ctx context.Context) (*service.ApplyResult, error) {
			return svc.Apply(ctx, reconcileCompanyID, preview.Plan, preview.VersionToken)
		})
		if err != nil {
			return eris.Wrap(err, "apply")
		}

		zap.L().Info("plan applied",
			zap.String("company_id", reconcileCompanyID),
			zap.String("version_token", result.NewVersionToken),
		)
		return printJSON(result)
	},
}

// loadSnapshot reads a scoping snapshot from a YAML or JSON file.
func loadSnapshot(path string) (model.ScopingSnapshot, error) {
	var snapshot model.ScopingSnapshot

	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot, eris.Wrapf(err, "read snapshot %s", path)
	}

	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return snapshot, eris.Wrapf(err, "parse snapshot %s", path)
	}
	return snapshot, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileCompanyID, "company", "", "company ID (required)")
	reconcileCmd.Flags().StringVar(&reconcileSnapshot, "snapshot", "", "path to scoping snapshot YAML/JSON (required)")
	reconcileCmd.Flags().BoolVar(&reconcileDryRun, "dry-run", false, "preview only, do not apply")
	_ = reconcileCmd.MarkFlagRequired("company")
	_ = reconcileCmd.MarkFlagRequired("snapshot")
	rootCmd.AddCommand(reconcileCmd)
}
