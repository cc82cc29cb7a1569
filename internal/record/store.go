package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	fileSuffix  = "__exchange.json"
	stampLayout = "20060102T150405"
)

// ErrNotFound is returned when a record file does not exist.
var ErrNotFound = errors.New("record not found")

// Stored pairs a loaded record with the file it came from.
type Stored struct {
	Path     string
	Exchange *Exchange
}

// Store keeps one JSON file per exchange under a directory per provider.
type Store struct {
	root   string
	logger *slog.Logger
}

func NewStore(root string, logger *slog.Logger) *Store {
	return &Store{root: root, logger: logger}
}

// Root returns the directory the store writes under.
func (s *Store) Root() string { return s.root }

// FileName returns the name a record is saved under: the conversation id
// (when known), the capture time and the record id.
func FileName(ex *Exchange) string {
	stamp := ex.CapturedAt.UTC().Format(stampLayout)
	if ex.ConversationID == "" {
		return stamp + "__" + ex.ID + fileSuffix
	}
	return safeName(ex.ConversationID) + "__" + stamp + "__" + ex.ID + fileSuffix
}

// Save writes the record and returns its path.
func (s *Store) Save(ex *Exchange) (string, error) {
	if ex.ID == "" {
		return "", fmt.Errorf("record has no id")
	}
	dir := filepath.Join(s.root, safeName(string(ex.Provider)))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(ex, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}

	path := filepath.Join(dir, FileName(ex))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("rename record: %w", err)
	}
	return path, nil
}

// Load reads one record file.
func (s *Store) Load(path string) (*Exchange, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read record: %w", err)
	}
	var ex Exchange
	if err := json.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("parse record %s: %w", path, err)
	}
	if ex.Provider == "" {
		ex.Provider = ParseProvider(filepath.Base(filepath.Dir(path)))
	}
	return &ex, nil
}

// List loads every record under the store root in path order. Files that
// cannot be read or parsed are logged and skipped.
func (s *Store) List() ([]Stored, error) {
	var out []Stored
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), fileSuffix) {
			return nil
		}
		ex, err := s.Load(path)
		if err != nil {
			s.logger.Warn("skipping unreadable record", "path", path, "error", err)
			return nil
		}
		out = append(out, Stored{Path: path, Exchange: ex})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", s.root, err)
	}
	return out, nil
}

// safeName keeps identifiers usable as a single path element.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, s)
}
