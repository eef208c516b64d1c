package main

import (
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "shirabe",
		Short: "Self-repairing survey runs with evidence bundles",
		Long: "shirabe answers a survey question from a document set, checks every claim\n" +
			"against its cited evidence, and retries with a repaired configuration\n" +
			"until the quality gate passes or the repair policy stops it.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}
	root.AddCommand(newRunCmd(logger))
	root.AddCommand(newValidateCmd())
	root.AddCommand(newHistoryCmd(logger))
	root.AddCommand(newRunsCmd(logger))
	return root
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
