package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdant-group/esg-cli/internal/model"
	"github.com/verdant-group/esg-cli/internal/resilience"
)

var (
	tasksCompanyID string
	tasksJSON      bool

	setStatusTaskID string
	setStatusValue  string
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect and edit a company's task set",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the company's tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("tasks"); err != nil {
			return err
		}

		ctx := cmd.Context()
		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		tasks, token, err := svc.Tasks(ctx, tasksCompanyID)
		if err != nil {
			return eris.Wrap(err, "list tasks")
		}

		if tasksJSON {
			return printJSON(map[string]any{"tasks": tasks, "version_token": token})
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNATURAL KEY\tSTATUS\tCATEGORY\tTITLE")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.NaturalKey, t.Status, t.Category, t.Title)
		}
		if err := w.Flush(); err != nil {
			return eris.Wrap(err, "flush output")
		}
		fmt.Printf("\n%d tasks, version token %s\n", len(tasks), token)
		return nil
	},
}

var tasksSetStatusCmd = &cobra.Command{
	Use:   "set-status",
	Short: "Set a task's status (todo, in_progress, completed)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("tasks"); err != nil {
			return err
		}

		ctx := cmd.Context()
		svc, st, err := initService(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		rc := retryConfig()
		rc.OnRetry = resilience.RetryLogger("set_task_status")
		token, err := resilience.DoVal(ctx, rc, func(ctx context.Context) (string, error) {
			return svc.SetTaskStatus(ctx, tasksCompanyID, setStatusTaskID, model.TaskStatus(setStatusValue))
		})
		if err != nil {
			return eris.Wrap(err, "set task status")
		}

		zap.L().Info("task status updated",
			zap.String("company_id", tasksCompanyID),
			zap.String("task_id", setStatusTaskID),
			zap.String("status", setStatusValue),
			zap.String("version_token", token),
		)
		fmt.Printf("task %s set to %s, version token %s\n", setStatusTaskID, setStatusValue, token)
		return nil
	},
}

func init() {
	tasksCmd.PersistentFlags().StringVar(&tasksCompanyID, "company", "", "company ID (required)")
	_ = tasksCmd.MarkPersistentFlagRequired("company")

	tasksListCmd.Flags().BoolVar(&tasksJSON, "json", false, "output JSON")

	tasksSetStatusCmd.Flags().StringVar(&setStatusTaskID, "task", "", "task ID (required)")
	tasksSetStatusCmd.Flags().StringVar(&setStatusValue, "status", "", "new status (required)")
	_ = tasksSetStatusCmd.MarkFlagRequired("task")
	_ = tasksSetStatusCmd.MarkFlagRequired("status")

	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksSetStatusCmd)
	rootCmd.AddCommand(tasksCmd)
}
