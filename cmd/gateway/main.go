package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"rfm-gateway/internal/agent"
	"rfm-gateway/internal/config"
)

func main() {
	os.Exit(run(context.Background(), os.Stderr))
}

// run returns the process exit code. Deferred closes happen before main calls os.Exit.
func run(ctx context.Context, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	logger, logClose := agent.BuildLogger(cfg)
	defer func() { _ = logClose.Close() }()

	a, err := agent.New(cfg, logger)
	if err != nil {
		logger.Error("gateway initialization failed", "error", err)
		return 1
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("gateway runtime failed", "error", err)
		return 1
	}
	fmt.Fprintln(stderr, "\nExiting...")
	return 0
}
