package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/vectorstore"
)

type stubEmbedder struct {
	got string
	err error
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.got = text
	if s.err != nil {
		return nil, s.err
	}
	return []float32{1, 0}, nil
}

type stubStore struct {
	k       int
	matches []vectorstore.Match
	err     error
}

func (s *stubStore) Search(_ context.Context, _ []float32, k int) ([]vectorstore.Match, error) {
	s.k = k
	return s.matches, s.err
}

func TestSearch_MapsMatches(t *testing.T) {
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	store := &stubStore{matches: []vectorstore.Match{
		{Score: 0.91, Payload: vectorstore.Payload{ConversationID: "c1", Provider: "claude.ai", Role: "assistant", Text: "Use a mutex.", Timestamp: &ts, MessageID: "m1", ExchangeIndex: 3}},
		{Score: 0.5, Payload: vectorstore.Payload{ConversationID: "c2", Role: "user", Text: "locks?"}},
	}}
	emb := &stubEmbedder{}
	s := New(emb, store)

	hits, err := s.Search(context.Background(), "  how do I lock  ", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if emb.got != "how do I lock" {
		t.Errorf("embedded %q, want trimmed query", emb.got)
	}
	if store.k != DefaultK {
		t.Errorf("k = %d, want %d", store.k, DefaultK)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Timestamp != "2026-05-01T10:00:00Z" || hits[0].ExchangeIndex != 3 || hits[0].Provider != "claude.ai" {
		t.Errorf("hit = %+v", hits[0])
	}
	if hits[1].Timestamp != "" {
		t.Errorf("missing timestamp should stay empty, got %q", hits[1].Timestamp)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	emb := &stubEmbedder{}
	_, err := New(emb, &stubStore{}).Search(context.Background(), "   ", 5)
	if !errors.Is(err, ErrEmptyQuery) {
		t.Fatalf("expected ErrEmptyQuery, got %v", err)
	}
	if emb.got != "" {
		t.Error("blank query must not reach the embedder")
	}
}

func TestSearch_ClampsK(t *testing.T) {
	store := &stubStore{}
	s := New(&stubEmbedder{}, store)

	if _, err := s.Search(context.Background(), "q", 500); err != nil {
		t.Fatal(err)
	}
	if store.k != MaxK {
		t.Errorf("k = %d, want %d", store.k, MaxK)
	}
	if _, err := s.Search(context.Background(), "q", 7); err != nil {
		t.Fatal(err)
	}
	if store.k != 7 {
		t.Errorf("k = %d, want 7", store.k)
	}
}

func TestSearch_Errors(t *testing.T) {
	if _, err := New(&stubEmbedder{err: errors.New("rate limited")}, &stubStore{}).Search(context.Background(), "q", 1); err == nil {
		t.Error("expected embed error")
	}
	if _, err := New(&stubEmbedder{}, &stubStore{err: errors.New("no table")}).Search(context.Background(), "q", 1); err == nil {
		t.Error("expected store error")
	}
}
