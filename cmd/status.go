package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/verdant-group/esg-cli/internal/monitoring"
)

var (
	statusCompanyID string
	statusJSON      bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a company's compliance progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("tasks"); err != nil {
			return err
		}

		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		snap, err := monitoring.NewCollector(st).Collect(ctx, statusCompanyID)
		if err != nil {
			return eris.Wrap(err, "collect progress")
		}

		if statusJSON {
			return printJSON(snap)
		}

		fmt.Printf("Company %s (token %s)\n", snap.CompanyID, snap.VersionToken)
		fmt.Printf("  Tasks:      %d total, %d todo, %d in progress, %d completed (%.0f%%)\n",
			snap.Total, snap.Todo, snap.InProgress, snap.Completed, snap.CompletionRate*100)
		fmt.Printf("  Evidence:   %d of %d completed tasks fully evidenced\n", snap.EvidenceComplete, snap.Completed)
		fmt.Printf("  Overdue:    %d\n", snap.Overdue)
		if len(snap.ByCategory) > 0 {
			fmt.Println("  Categories:")
			for _, cat := range []string{"environmental", "social", "governance"} {
				if n, ok := snap.ByCategory[cat]; ok {
					fmt.Printf("    %-14s %d\n", cat, n)
				}
			}
		}
		if len(snap.Frameworks) > 0 {
			fmt.Println("  Frameworks:")
			for _, fw := range snap.Frameworks {
				fmt.Printf("    %-28s %d/%d (%.0f%%)\n", fw.Framework, fw.Completed, fw.Total, fw.Rate*100)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusCompanyID, "company", "", "company ID (required)")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output JSON")
	_ = statusCmd.MarkFlagRequired("company")
	rootCmd.AddCommand(statusCmd)
}
