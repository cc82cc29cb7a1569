package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/MikeSquared-Agency/recall/internal/api"
	"github.com/MikeSquared-Agency/recall/internal/backfill"
	"github.com/MikeSquared-Agency/recall/internal/config"
	"github.com/MikeSquared-Agency/recall/internal/hermes"
	"github.com/MikeSquared-Agency/recall/internal/mcp"
	"github.com/MikeSquared-Agency/recall/internal/merge"
	"github.com/MikeSquared-Agency/recall/internal/processor"
	"github.com/MikeSquared-Agency/recall/internal/record"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(cfg config.Config) *cli.App {
	app := &cli.App{
		Name:           "recall",
		Usage:          "Capture, merge and search AI chat conversations",
		Version:        Version,
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			serveCmd(cfg),
			mergeCmd(cfg),
			indexCmd(cfg),
			searchCmd(cfg),
			mcpCmd(cfg),
			importCmd(cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// serveCmd runs the capture API with background merging.
func serveCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the capture API and merge captured exchanges in the background",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: cfg.Port, Usage: "HTTP port"},
		},
		Action: func(c *cli.Context) error {
			cfg.Port = c.Int("port")
			setupLogging(cfg.LogLevel, os.Stdout)
			return serve(c.Context, cfg)
		},
	}
}

func serve(parent context.Context, cfg config.Config) error {
	logger := slog.Default()
	logger.Info("recall starting", "port", cfg.Port, "capture_dir", cfg.CaptureDir, "merged_dir", cfg.MergedDir)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	comps := newComponents(cfg, logger)
	defer comps.close()

	// Vector search and indexing are optional; capture and merge work without them.
	var searcher api.Searcher
	var indexer processor.TranscriptIndexer
	if cfg.SearchEnabled() {
		if err := comps.openVectors(ctx, cfg, logger); err != nil {
			logger.Error("failed to open vector store", "error", err)
			return err
		}
		comps.openCache(ctx, cfg, false, logger)
		searcher = comps.searcher()
		if cfg.IndexOnMerge {
			indexer = comps.indexer(logger)
		}
	} else {
		logger.Warn("search not configured, running capture and merge only")
	}

	// NATS/Hermes
	var publisher processor.Publisher
	var hermesClient *hermes.Client
	if cfg.NatsURL != "" {
		var err error
		hermesClient, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			logger.Error("failed to connect to NATS", "error", err)
			return err
		}
		defer hermesClient.Close()
		publisher = hermesClient
		logger.Info("NATS connected", "url", cfg.NatsURL)
	}

	// Processor, the main pipeline
	proc := processor.New(comps.records, comps.runner, indexer, publisher, logger)
	sched := merge.NewScheduler(proc.RunMerge, cfg.MergeDebounce, logger)
	proc.SetTrigger(sched)

	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	if hermesClient != nil {
		if err := hermesClient.Subscribe(hermes.SubjectExchangeStored, proc.HandleExchangeStored); err != nil {
			logger.Error("failed to subscribe to exchange events", "error", err)
			return err
		}
	}

	// Pick up anything captured while the server was down.
	sched.Request()

	// HTTP API
	srv := api.NewServer(cfg.Port, cfg.APIToken, proc, searcher, logger)
	if hermesClient != nil {
		srv.SetBus(hermesClient)
	}
	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	logger.Info("recall ready", "port", cfg.Port, "nats", hermesClient != nil, "search", searcher != nil)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case <-sigCh:
	case <-ctx.Done():
	case err := <-srvErr:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			runErr = err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}
	cancel()
	<-schedDone
	logger.Info("recall stopped")
	return runErr
}

// mergeCmd rebuilds the merged transcripts once.
func mergeCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "Merge captured exchanges into one transcript per conversation",
		Action: func(c *cli.Context) error {
			setupLogging(cfg.LogLevel, os.Stderr)
			comps := newComponents(cfg, slog.Default())

			report, err := comps.runner.Run(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(map[string]any{
				"summary":   report.Summary,
				"written":   report.Stats.Written,
				"unchanged": report.Stats.Unchanged,
				"removed":   report.Stats.Removed,
			})
		},
	}
}

// indexCmd embeds merged transcripts into the vector store.
func indexCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "index",
		Usage: "Embed merged transcripts into the vector store, skipping known text",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "provider", Usage: "Only index one provider (claude.ai or chatgpt.com)"},
			&cli.BoolFlag{Name: "merge", Usage: "Run a merge before indexing"},
			&cli.BoolFlag{Name: "reset-cache", Usage: "Forget cached content hashes before indexing"},
		},
		Action: func(c *cli.Context) error {
			setupLogging(cfg.LogLevel, os.Stderr)
			logger := slog.Default()

			var provider record.Provider
			if p := c.String("provider"); p != "" {
				provider = record.ParseProvider(p)
				if provider == record.ProviderUnknown {
					return outputError(fmt.Errorf("unknown provider %q", p))
				}
			}

			comps := newComponents(cfg, logger)
			defer comps.close()

			if c.Bool("merge") {
				if _, err := comps.runner.Run(c.Context); err != nil {
					return outputError(err)
				}
			}

			transcripts, err := comps.writer.Load(provider)
			if err != nil {
				return outputError(err)
			}
			if err := comps.openVectors(c.Context, cfg, logger); err != nil {
				return outputError(err)
			}
			comps.openCache(c.Context, cfg, c.Bool("reset-cache"), logger)

			res, err := comps.indexer(logger).IndexAll(c.Context, transcripts)
			if outErr := outputJSON(map[string]any{
				"transcripts": len(transcripts),
				"inserted":    res.Inserted,
				"skipped":     res.Skipped,
				"failed":      res.Failed,
			}); outErr != nil {
				return outErr
			}
			if err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// searchCmd runs one query against the vector store.
func searchCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search indexed messages",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "k", Value: 5, Usage: "Number of results"},
		},
		Action: func(c *cli.Context) error {
			setupLogging(cfg.LogLevel, os.Stderr)
			logger := slog.Default()

			if c.NArg() == 0 {
				return outputError(fmt.Errorf("query is required"))
			}
			query := strings.Join(c.Args().Slice(), " ")

			comps := newComponents(cfg, logger)
			defer comps.close()
			if err := comps.openVectors(c.Context, cfg, logger); err != nil {
				return outputError(err)
			}

			hits, err := comps.searcher().Search(c.Context, query, c.Int("k"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(hits)
		},
	}
}

// mcpCmd serves the search_memory tool over stdio.
func mcpCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the search_memory MCP tool over stdio",
		Action: func(c *cli.Context) error {
			setupLogging(cfg.LogLevel, os.Stderr)
			logger := slog.Default()

			comps := newComponents(cfg, logger)
			defer comps.close()
			if err := comps.openVectors(c.Context, cfg, logger); err != nil {
				return outputError(err)
			}
			return mcp.Run(comps.searcher(), Version)
		},
	}
}

// importCmd replays saved flow dumps through the capture pipeline.
func importCmd(cfg config.Config) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Capture saved flow dumps (.json or .jsonl) from a directory, then merge",
		ArgsUsage: "<dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "state", Usage: "Progress file (default <capture dir>/.import-state.json)"},
			&cli.TimestampFlag{Name: "since", Layout: "2006-01-02", Usage: "Skip flows captured before this date"},
			&cli.BoolFlag{Name: "dry-run", Usage: "Report what would be captured without writing"},
			&cli.BoolFlag{Name: "no-merge", Usage: "Do not merge after importing"},
		},
		Action: func(c *cli.Context) error {
			setupLogging(cfg.LogLevel, os.Stderr)
			logger := slog.Default()

			if c.NArg() == 0 {
				return outputError(fmt.Errorf("directory is required"))
			}
			bcfg := backfill.Config{
				Dir:       c.Args().First(),
				StatePath: c.String("state"),
				DryRun:    c.Bool("dry-run"),
			}
			if bcfg.StatePath == "" {
				bcfg.StatePath = filepath.Join(cfg.CaptureDir, ".import-state.json")
			}
			if ts := c.Timestamp("since"); ts != nil {
				bcfg.Since = *ts
			}

			comps := newComponents(cfg, logger)
			proc := processor.New(comps.records, comps.runner, nil, nil, logger)

			sum, err := backfill.NewRunner(bcfg, proc, logger).Run(c.Context)
			if err != nil {
				return outputError(err)
			}

			out := map[string]any{"import": sum}
			if !bcfg.DryRun && !c.Bool("no-merge") {
				report, err := comps.runner.Run(c.Context)
				if err != nil {
					return outputError(err)
				}
				out["summary"] = report.Summary
			}
			return outputJSON(out)
		},
	}
}

// outputJSON writes JSON output to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	return cli.Exit(err.Error(), 1)
}
