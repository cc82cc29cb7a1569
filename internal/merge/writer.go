package merge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MikeSquared-Agency/recall/internal/record"
)

const (
	transcriptSuffix = "__conversation_merged.json"
	summaryFile      = "merge_summary.json"
)

// WriteStats counts how many files a write touched.
type WriteStats struct {
	Written   int `json:"written"`
	Unchanged int `json:"unchanged"`
	Removed   int `json:"removed"`
}

// Writer persists transcripts under root/<provider>/ and the summary at
// root/merge_summary.json. Files whose content did not change are left alone.
type Writer struct {
	root string
}

func NewWriter(root string) *Writer {
	return &Writer{root: root}
}

// TranscriptPath returns where the transcript for a conversation is stored.
func (w *Writer) TranscriptPath(p record.Provider, conversationID string) string {
	return filepath.Join(w.root, string(p), fileSafe(conversationID)+transcriptSuffix)
}

// Write stores every transcript of res and its summary, then removes stored
// transcripts of conversations res no longer contains.
func (w *Writer) Write(res Result) (WriteStats, error) {
	var stats WriteStats
	keep := make(map[string]bool, len(res.Transcripts))
	for _, t := range res.Transcripts {
		path := w.TranscriptPath(t.Provider, t.ConversationID)
		keep[path] = true
		changed, err := writeJSON(path, t)
		if err != nil {
			return stats, fmt.Errorf("write transcript %s: %w", t.ConversationID, err)
		}
		stats.add(changed)
	}
	changed, err := writeJSON(filepath.Join(w.root, summaryFile), res.Summarize())
	if err != nil {
		return stats, fmt.Errorf("write summary: %w", err)
	}
	stats.add(changed)

	stale, err := filepath.Glob(filepath.Join(w.root, "*", "*"+transcriptSuffix))
	if err != nil {
		return stats, fmt.Errorf("glob transcripts: %w", err)
	}
	for _, path := range stale {
		if keep[path] {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return stats, fmt.Errorf("remove stale transcript: %w", err)
		}
		stats.Removed++
	}
	return stats, nil
}

func (s *WriteStats) add(changed bool) {
	if changed {
		s.Written++
	} else {
		s.Unchanged++
	}
}

// Load reads the stored transcripts of one provider, or of every provider
// when p is empty, in path order.
func (w *Writer) Load(p record.Provider) ([]Transcript, error) {
	pattern := filepath.Join(w.root, "*", "*"+transcriptSuffix)
	if p != "" {
		pattern = filepath.Join(w.root, string(p), "*"+transcriptSuffix)
	}
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob transcripts: %w", err)
	}

	out := make([]Transcript, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var t Transcript
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// writeJSON writes v as indented JSON through a temp file and reports whether
// the file content changed.
func writeJSON(path string, v any) (bool, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshal: %w", err)
	}
	data = append(data, '\n')

	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, data) {
		return false, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("read existing: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}
	return true, nil
}

func fileSafe(s string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_").Replace(s)
}
