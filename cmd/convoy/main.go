package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/convoyci/convoy/internal/cli"
	"github.com/convoyci/convoy/internal/logging"
)

// main is the entry point for the convoy CLI binary.
func main() {
	logger := logging.NewLogger(os.Stderr, slog.LevelInfo)
	if err := cli.Execute(os.Args[1:], logger); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			if exitErr.Err != nil {
				logger.Error("command failed", "error", exitErr.Err)
			}
			os.Exit(exitErr.Code)
		}
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}
