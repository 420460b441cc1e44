package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/zerochurn/success-sync/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the latest sync runs and account health distribution",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		runs := make(map[model.SyncSource]*model.SyncRun)
		for _, src := range []model.SyncSource{model.SourceCRM, model.SourcePayments, model.SourceUsage} {
			run, err := st.LatestSyncRun(ctx, src)
			if err != nil {
				return err
			}
			if run != nil {
				runs[src] = run
			}
		}

		summary, err := st.HealthSummary(ctx)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"runs":     runs,
			"accounts": summary,
		})
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
