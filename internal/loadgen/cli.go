package loadgen

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/gather/pkg/logger"
)

// SetupLogging initializes the global logger, also writing to logFile when
// one is given.
func SetupLogging(logFile string, verbose bool) error {
	var w io.Writer = os.Stdout
	if logFile != "" {
		file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermission)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, file)
	}
	if err := logger.InitWithFormat("text", w); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	if verbose {
		return logger.SetLevelString("debug")
	}
	return nil
}

// ShowHelp prints usage information for the load tool.
func ShowHelp() {
	_, _ = os.Stdout.WriteString(`Gather Load Tool
================

Pushes synthetic provider records to a running gather service, planting
cross-source duplicates, then checks which of them were merged.

Usage:
  go run ./cmd/loadgen [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -events int
        Number of distinct events to generate (default 2000)
  -dup-ratio float
        Share of events republished by a second source (default 0.3)
  -batch int
        Records per POST /ingest (default 100)
  -workers int
        Concurrent submitters (default 4)
  -timeout duration
        HTTP request timeout (default 30s)
  -tz string
        Fallback timezone sent with every batch (default "America/Toronto")
  -seed uint
        Generator seed (default 1)
  -min-recall float
        Exit non-zero when fewer planted duplicates are found (default 0)
  -output string
        Write the generated plan to this file
  -log string
        Also write logs to this file
  -verbose
        Log every batch
  -help
        Show this help message

Examples:
  go run ./cmd/loadgen -events 10000 -workers 8
  go run ./cmd/loadgen -dup-ratio 0.5 -min-recall 0.9 -output plan.json
`)
}
