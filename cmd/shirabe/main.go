// shirabe runs evidence-grounded survey answers through a quality gate and
// repairs the run configuration until the gate passes or the repair policy
// gives up.
//
// Usage:
//
//	shirabe run --input=<file> [--policy=<file>] [--corpus=<dir>] [--out=<dir>]
//	shirabe run --query=<text> --doc=<id> [--doc=<id> ...]
//	shirabe validate <bundle-dir>
//	shirabe history <bundle-dir>
//	shirabe runs [--limit=<n>]
//
// Exit codes: 0 when the run succeeds, 2 when it fails or needs a retry,
// 1 on a system error.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("SHIRABE_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	// Stdout carries command output, so logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return exitCode(newRootCmd(logger).ExecuteContext(ctx))
}

// exitError carries a non-zero exit code for an outcome that is not a
// failure of the command itself.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	slog.Error("fatal error", "error", err)
	return 1
}
