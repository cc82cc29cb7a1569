// Package backfill imports saved flow dumps through the capture pipeline,
// remembering which files are done so an interrupted run can resume.
package backfill

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MikeSquared-Agency/recall/internal/processor"
	"github.com/MikeSquared-Agency/recall/internal/reconstruct"
)

// Capturer stores one flow as an exchange record.
type Capturer interface {
	Capture(ctx context.Context, f reconstruct.Flow) (*processor.Captured, error)
}

// Runner orchestrates the import.
type Runner struct {
	cfg      Config
	capturer Capturer
	logger   *slog.Logger
}

// NewRunner creates an import runner.
func NewRunner(cfg Config, c Capturer, logger *slog.Logger) *Runner {
	return &Runner{cfg: cfg, capturer: c, logger: logger}
}

// Run imports every dump file under the configured directory in path order.
// A file is marked done once each of its flows was captured or found
// unsupported; files with failures are retried on the next run.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return sum, fmt.Errorf("load state: %w", err)
	}

	files, err := discoverFiles(r.cfg.Dir)
	if err != nil {
		return sum, fmt.Errorf("discover files: %w", err)
	}
	r.logger.Info("files discovered", "dir", r.cfg.Dir, "files", len(files), "dry_run", r.cfg.DryRun)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			r.logger.Info("import interrupted, saving state")
			r.saveState(state)
			return sum, err
		}
		if state.IsProcessed(path) {
			sum.FilesSkip++
			continue
		}
		sum.Files++

		dumps, err := readDumps(path)
		if err != nil {
			r.logger.Warn("failed to parse dump file", "path", path, "error", err)
			state.AddError(fmt.Sprintf("parse %s: %v", path, err))
			sum.Failed++
			r.saveState(state)
			continue
		}

		failed := 0
		for i, d := range dumps {
			sum.Flows++
			f := d.Flow()
			if !r.cfg.Since.IsZero() && !f.CapturedAt.IsZero() && f.CapturedAt.Before(r.cfg.Since) {
				sum.BeforeSince++
				continue
			}

			if r.cfg.DryRun {
				if _, ok := reconstruct.Match(f.Host, f.Path); ok {
					sum.Captured++
				} else {
					sum.Unsupported++
				}
				continue
			}

			captured, err := r.capturer.Capture(ctx, f)
			switch {
			case errors.Is(err, reconstruct.ErrUnsupportedFlow):
				sum.Unsupported++
				r.logger.Debug("unsupported flow skipped", "path", path, "flow", i, "host", f.Host)
			case err != nil:
				if ctx.Err() != nil {
					r.saveState(state)
					return sum, ctx.Err()
				}
				failed++
				sum.Failed++
				state.AddError(fmt.Sprintf("capture %s#%d: %v", path, i, err))
				r.logger.Error("capture failed", "path", path, "flow", i, "error", err)
			default:
				sum.Captured++
				state.FlowsCaptured++
				r.logger.Debug("flow imported", "path", path, "flow", i, "id", captured.ID)
			}
		}

		if r.cfg.DryRun {
			continue
		}
		if failed == 0 {
			state.MarkProcessed(path)
		}
		r.saveState(state)
		r.logger.Info("file imported", "path", path, "flows", len(dumps), "failed", failed)
	}
	r.saveState(state)

	r.logger.Info("import complete",
		"files", sum.Files,
		"captured", sum.Captured,
		"unsupported", sum.Unsupported,
		"failed", sum.Failed,
	)
	return sum, nil
}

func (r *Runner) saveState(s *State) {
	if r.cfg.DryRun {
		return
	}
	if err := s.Save(); err != nil {
		r.logger.Error("failed to save import state", "error", err)
	}
}

// discoverFiles lists .json and .jsonl files under dir in lexical order.
func discoverFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".jsonl":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// readDumps parses a dump file: a .jsonl file holds one envelope per line, a
// .json file holds one envelope or an array of them.
func readDumps(path string) ([]reconstruct.Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		var out []reconstruct.Envelope
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 64<<20)
		line := 0
		for sc.Scan() {
			line++
			text := bytes.TrimSpace(sc.Bytes())
			if len(text) == 0 {
				continue
			}
			var e reconstruct.Envelope
			if err := json.Unmarshal(text, &e); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			out = append(out, e)
		}
		return out, sc.Err()
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var out []reconstruct.Envelope
		if err := json.Unmarshal(trimmed, &out); err != nil {
			return nil, err
		}
		return out, nil
	}
	var e reconstruct.Envelope
	if err := json.Unmarshal(trimmed, &e); err != nil {
		return nil, err
	}
	return []reconstruct.Envelope{e}, nil
}
