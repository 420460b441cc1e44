package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/zerochurn/success-sync/internal/syncer"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync pass manually",
}

var syncCRMCmd = &cobra.Command{
	Use:   "crm",
	Short: "Sync companies, deals, and pipelines from the CRM",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), func(ctx context.Context, s *syncer.Syncer) (*syncer.Summary, error) {
			return s.SyncCRM(ctx)
		})
	},
}

var syncPaymentsCmd = &cobra.Command{
	Use:   "payments",
	Short: "Sync customers and charges from the payments processor",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), func(ctx context.Context, s *syncer.Syncer) (*syncer.Summary, error) {
			return s.SyncPayments(ctx)
		})
	},
}

var syncUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Sync engagement counters from product analytics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSync(cmd.Context(), func(ctx context.Context, s *syncer.Syncer) (*syncer.Summary, error) {
			return s.SyncUsage(ctx)
		})
	},
}

func runSync(ctx context.Context, pass func(context.Context, *syncer.Syncer) (*syncer.Summary, error)) error {
	e, err := initEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	summary, err := pass(ctx, e.syncer)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

func init() {
	syncCmd.AddCommand(syncCRMCmd, syncPaymentsCmd, syncUsageCmd)
	rootCmd.AddCommand(syncCmd)
}
