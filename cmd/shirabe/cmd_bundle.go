package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/shirabe"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <bundle-dir>",
		Short: "Check a run bundle against the bundle contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report := shirabe.ValidateBundle(args[0])
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.OK() {
				return &exitError{code: 2, msg: fmt.Sprintf("bundle %s is invalid", args[0])}
			}
			return nil
		},
	}
}

func newHistoryCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "history <bundle-dir>",
		Short: "Print the attempt journal of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := shirabe.History(args[0], logger)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), h)
		},
	}
}

func newRunsCmd(logger *slog.Logger) *cobra.Command {
	var (
		limit  int
		ledger string
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs from the ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			app, err := shirabe.New(ctx,
				shirabe.WithLogger(logger),
				shirabe.WithVersion(version),
				shirabe.WithLedgerDSN(ledger),
			)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close(ctx) }()

			runs, err := app.Runs(ctx, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	cmd.Flags().StringVar(&ledger, "ledger", "", "Run ledger DSN; overrides SHIRABE_LEDGER_DSN")
	return cmd
}
