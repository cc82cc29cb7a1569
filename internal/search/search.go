// Package search answers free-text queries against the indexed messages.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/vectorstore"
)

const (
	DefaultK = 5
	MaxK     = 50
)

// ErrEmptyQuery is returned for a blank query.
var ErrEmptyQuery = errors.New("query is empty")

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher finds the nearest stored points to a vector.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]vectorstore.Match, error)
}

// Hit is one search result.
type Hit struct {
	Score          float64 `json:"score"`
	ConversationID string  `json:"conversation_id"`
	Provider       string  `json:"provider"`
	Role           string  `json:"role"`
	Text           string  `json:"text"`
	Timestamp      string  `json:"timestamp,omitempty"`
	Model          string  `json:"model,omitempty"`
	MessageID      string  `json:"message_id"`
	ExchangeIndex  int     `json:"exchange_index"`
}

type Searcher struct {
	embedder Embedder
	store    VectorSearcher
}

func New(e Embedder, s VectorSearcher) *Searcher {
	return &Searcher{embedder: e, store: s}
}

// Search embeds query and returns up to k of the closest messages, best
// first. k outside 1..MaxK is clamped; zero means DefaultK.
func (s *Searcher) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	k = clampK(k)

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.store.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		h := Hit{
			Score:          m.Score,
			ConversationID: m.Payload.ConversationID,
			Provider:       m.Payload.Provider,
			Role:           m.Payload.Role,
			Text:           m.Payload.Text,
			Model:          m.Payload.Model,
			MessageID:      m.Payload.MessageID,
			ExchangeIndex:  m.Payload.ExchangeIndex,
		}
		if m.Payload.Timestamp != nil {
			h.Timestamp = m.Payload.Timestamp.UTC().Format(time.RFC3339)
		}
		hits = append(hits, h)
	}
	return hits, nil
}

func clampK(k int) int {
	switch {
	case k <= 0:
		return DefaultK
	case k > MaxK:
		return MaxK
	}
	return k
}
