package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/zgpcy/azure-billing-collector/internal/jobs"
	"github.com/zgpcy/azure-billing-collector/internal/provider"
)

func newTasksCommand(opts *rootOptions) *cobra.Command {
	var (
		start        string
		lastSynced   string
		syncAccounts bool
	)

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Plan the collection tasks for the configured billing account and print them as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			var synced time.Time
			if lastSynced != "" {
				t, err := time.Parse(time.RFC3339, lastSynced)
				if err != nil {
					return fmt.Errorf("failed to parse --last-synced: %w", err)
				}
				synced = t
			}

			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			sess, err := session(ctx, cfg, nil, log)
			if err != nil {
				return err
			}
			planner := jobs.New(sess, cfg, log, nil)

			var linked []provider.Account
			if syncAccounts {
				if linked, err = planner.LinkedAccounts(ctx); err != nil {
					return err
				}
			}

			plan, err := planner.Tasks(ctx, start, synced, linked)
			if err != nil {
				return err
			}
			return printJSON(cmd, plan)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First month to collect (YYYY-MM)")
	cmd.Flags().StringVar(&lastSynced, "last-synced", "", "Time of the last synchronization (RFC 3339), used when --start is empty")
	cmd.Flags().BoolVar(&syncAccounts, "sync-accounts", false, "Report the linked accounts synchronized by the plan")
	return cmd
}

func newAccountsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List the linked customer tenants of the configured billing account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := opts.load()
			if err != nil {
				return err
			}
			sess, err := session(ctx, cfg, nil, log)
			if err != nil {
				return err
			}
			accounts, err := jobs.New(sess, cfg, log, nil).LinkedAccounts(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, accounts)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
