package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/gather/internal/loadgen"
)

// Default configuration constants.
const (
	defaultEvents      = 2000
	defaultDupRatio    = 0.3
	defaultBatch       = 100
	defaultWorkers     = 4
	defaultTimeout     = 30 * time.Second
	defaultTestTimeout = 10 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9080", "Base URL of the service")
		events    = flag.Int("events", defaultEvents, "Number of distinct events to generate")
		dupRatio  = flag.Float64("dup-ratio", defaultDupRatio, "Share of events republished by a second source")
		batchSize = flag.Int("batch", defaultBatch, "Records per POST /ingest")
		workers   = flag.Int("workers", defaultWorkers, "Concurrent submitters")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		tz        = flag.String("tz", "America/Toronto", "Fallback timezone sent with every batch")
		seed      = flag.Uint64("seed", 1, "Generator seed")
		minRecall = flag.Float64("min-recall", 0, "Fail when fewer planted duplicates are found")
		output    = flag.String("output", "", "Write the generated plan to this file")
		logFile   = flag.String("log", "", "Also write logs to this file")
		verbose   = flag.Bool("verbose", false, "Log every batch")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}

	if err := loadgen.SetupLogging(*logFile, *verbose); err != nil {
		os.Stderr.WriteString("failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(loadgen.Config{
		BaseURL:        *baseURL,
		Events:         *events,
		DuplicateRatio: *dupRatio,
		BatchSize:      *batchSize,
		Workers:        *workers,
		Timeout:        *timeout,
		Timezone:       *tz,
		Seed:           *seed,
		MinRecall:      *minRecall,
		OutputFile:     *output,
		Verbose:        *verbose,
	}); err != nil {
		os.Stderr.WriteString("load run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(cfg loadgen.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, defaultTestTimeout)
	defer cancel()

	_, err := loadgen.Run(ctx, cfg)
	return err
}
