package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/MikeSquared-Agency/recall/internal/config"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	cfg := config.Load()

	app := newCLIApp(cfg)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// setupLogging installs the default JSON logger. The server logs to stdout;
// commands whose stdout carries results log to stderr.
func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
