package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/shirabe"
)

type runFlags struct {
	input  string
	query  string
	docs   []string
	policy string
	corpus string
	out    string
	ledger string
}

func newRunCmd(logger *slog.Logger) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a survey and write its bundle",
		Long: "Run a survey and print its outcome as JSON. The input is a JSON file\n" +
			"({\"query\": ..., \"document_ids\": [...]}), \"-\" for stdin, or the\n" +
			"--query and --doc flags.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSurvey(cmd, logger, flags)
		},
	}
	f := cmd.Flags()
	f.StringVar(&flags.input, "input", "", "Path to an input JSON file, or - for stdin")
	f.StringVar(&flags.query, "query", "", "Survey question (instead of --input)")
	f.StringArrayVar(&flags.docs, "doc", nil, "Document ID to survey; repeatable (instead of --input)")
	f.StringVar(&flags.policy, "policy", "", "Repair policy file (YAML or JSON); overrides SHIRABE_POLICY")
	f.StringVar(&flags.corpus, "corpus", "", "Local document corpus root; overrides SHIRABE_CORPUS_DIR")
	f.StringVar(&flags.out, "out", "", "Parent directory for run bundles; overrides SHIRABE_OUTPUT_DIR")
	f.StringVar(&flags.ledger, "ledger", "", "Run ledger DSN; overrides SHIRABE_LEDGER_DSN")
	cmd.MarkFlagsMutuallyExclusive("input", "query")
	return cmd
}

func runSurvey(cmd *cobra.Command, logger *slog.Logger, flags runFlags) error {
	in, err := readInput(cmd.InOrStdin(), flags)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := shirabe.New(ctx,
		shirabe.WithLogger(logger),
		shirabe.WithVersion(version),
		shirabe.WithCorpusDir(flags.corpus),
		shirabe.WithOutputDir(flags.out),
		shirabe.WithLedgerDSN(flags.ledger),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(ctx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	out, runErr := app.Run(ctx, in, flags.policy)
	if out.BundleDir != "" {
		if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	}
	if runErr != nil {
		return runErr
	}
	if out.Status != shirabe.StatusSuccess {
		return &exitError{code: 2, msg: fmt.Sprintf("run %s: %s", out.RunID, out.Status)}
	}
	return nil
}

func readInput(stdin io.Reader, flags runFlags) (shirabe.Input, error) {
	if flags.input == "" {
		if flags.query == "" {
			return shirabe.Input{}, errors.New("one of --input or --query is required")
		}
		return shirabe.Input{Query: flags.query, DocumentIDs: flags.docs}, nil
	}

	var data []byte
	var err error
	if flags.input == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(flags.input)
	}
	if err != nil {
		return shirabe.Input{}, fmt.Errorf("read input: %w", err)
	}
	var in shirabe.Input
	if err := json.Unmarshal(data, &in); err != nil {
		return shirabe.Input{}, fmt.Errorf("parse input: %w", err)
	}
	return in, nil
}
