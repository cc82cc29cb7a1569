package merge

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/recall/internal/record"
)

func TestWriter_ByteIdenticalRerun(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	res := Merge([]record.Stored{
		stored("a", record.ProviderClaude, "conv-1", t0, str("hi"), "hello", map[string]any{"model": "claude"}),
		stored("b", record.ProviderChatGPT, "conv-2", t0, str("yo"), "sup", nil),
	})

	stats, err := w.Write(res)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Written)

	path := w.TranscriptPath(record.ProviderClaude, "conv-1")
	before, err := os.ReadFile(path)
	require.NoError(t, err)
	summaryBefore, err := os.ReadFile(filepath.Join(dir, "merge_summary.json"))
	require.NoError(t, err)

	stats, err = w.Write(res)
	require.NoError(t, err)
	require.Equal(t, WriteStats{Written: 0, Unchanged: 3}, stats)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
	summaryAfter, err := os.ReadFile(filepath.Join(dir, "merge_summary.json"))
	require.NoError(t, err)
	require.Equal(t, string(summaryBefore), string(summaryAfter))
}

func TestWriter_RemovesVanishedConversations(t *testing.T) {
	w := NewWriter(t.TempDir())
	_, err := w.Write(Merge([]record.Stored{
		stored("a", record.ProviderClaude, "gone", t0, str("hi"), "hello", nil),
		stored("b", record.ProviderChatGPT, "kept", t0, str("yo"), "sup", nil),
	}))
	require.NoError(t, err)

	stats, err := w.Write(Merge([]record.Stored{
		stored("b", record.ProviderChatGPT, "kept", t0, str("yo"), "sup", nil),
	}))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Removed)
	require.NoFileExists(t, w.TranscriptPath(record.ProviderClaude, "gone"))
	require.FileExists(t, w.TranscriptPath(record.ProviderChatGPT, "kept"))

	stats, err = w.Write(Merge(nil))
	require.NoError(t, err)
	require.Equal(t, 1, stats.Removed)

	all, err := w.Load("")
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestWriter_Load(t *testing.T) {
	w := NewWriter(t.TempDir())
	_, err := w.Write(Merge([]record.Stored{
		stored("a", record.ProviderClaude, "conv-1", t0, str("hi"), "hello", nil),
		stored("b", record.ProviderChatGPT, "conv-2", t0, str("yo"), "sup", nil),
	}))
	require.NoError(t, err)

	all, err := w.Load("")
	require.NoError(t, err)
	require.Len(t, all, 2)

	claude, err := w.Load(record.ProviderClaude)
	require.NoError(t, err)
	require.Len(t, claude, 1)
	require.Equal(t, "conv-1", claude[0].ConversationID)
	require.Equal(t, "hello", claude[0].Exchanges[0].AssistantResponse)
	require.True(t, claude[0].Exchanges[0].Timestamp.Equal(t0))
}

func TestRunner_EndToEnd(t *testing.T) {
	root := t.TempDir()
	records := record.NewStore(filepath.Join(root, "captures"), slog.Default())
	writer := NewWriter(filepath.Join(root, "merged"))
	runner := NewRunner(records, writer, slog.Default())

	for i, conv := range []string{"c1", "c1", ""} {
		ex := &record.Exchange{
			ID:             string(rune('A' + i)),
			CapturedAt:     t0.Add(time.Duration(i) * time.Second),
			Provider:       record.ProviderClaude,
			ConversationID: conv,
			UserMessage:    &record.UserMessage{Content: "q"},
			AssistantText:  "a",
		}
		_, err := records.Save(ex)
		require.NoError(t, err)
	}

	report, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Summary.TotalConversations)
	require.Equal(t, 2, report.Summary.TotalExchanges)
	require.Len(t, report.Summary.MissingConversationID, 1)
	require.Len(t, report.Transcripts, 1)

	again, err := runner.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, again.Stats.Written)
}

func TestRunner_CancelledContext(t *testing.T) {
	runner := NewRunner(record.NewStore(t.TempDir(), slog.Default()), NewWriter(t.TempDir()), slog.Default())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := runner.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
