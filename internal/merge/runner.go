package merge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/recall/internal/record"
)

// Report describes one completed merge run.
type Report struct {
	Summary     Summary
	Stats       WriteStats
	Transcripts []Transcript
}

// Runner rebuilds every transcript from the record store.
type Runner struct {
	records *record.Store
	writer  *Writer
	logger  *slog.Logger
}

func NewRunner(records *record.Store, writer *Writer, logger *slog.Logger) *Runner {
	return &Runner{records: records, writer: writer, logger: logger}
}

// Run lists all records, merges them and writes the transcripts.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored, err := r.records.List()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	r.logger.Info("records discovered", "records", len(stored))

	res := Merge(stored)
	for _, path := range res.Missing {
		r.logger.Warn("record has no conversation id, excluded from merge", "path", path)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stats, err := r.writer.Write(res)
	if err != nil {
		return nil, err
	}

	summary := res.Summarize()
	r.logger.Info("merge complete",
		"conversations", summary.TotalConversations,
		"exchanges", summary.TotalExchanges,
		"missing_conversation_id", len(res.Missing),
		"written", stats.Written,
		"unchanged", stats.Unchanged,
		"removed", stats.Removed,
	)
	return &Report{Summary: summary, Stats: stats, Transcripts: res.Transcripts}, nil
}
