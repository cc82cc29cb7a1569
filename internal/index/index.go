// Package index embeds merged transcript messages into the vector store,
// skipping text that is already indexed.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/recall/internal/merge"
	"github.com/MikeSquared-Agency/recall/internal/vectorstore"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// PointStore is the part of the vector store the indexer writes to.
type PointStore interface {
	ExistsByHash(ctx context.Context, hash string) (bool, error)
	Upsert(ctx context.Context, points []vectorstore.Point) error
}

// HashCache short-circuits existence checks for hashes indexed earlier.
type HashCache interface {
	Seen(ctx context.Context, hash string) (bool, error)
	Mark(ctx context.Context, hashes ...string) error
}

// Result counts what one indexing pass did. Failed counts messages that were
// neither stored nor skipped because an external call failed.
type Result struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

func (r *Result) add(o Result) {
	r.Inserted += o.Inserted
	r.Skipped += o.Skipped
	r.Failed += o.Failed
}

type Indexer struct {
	embedder Embedder
	store    PointStore
	cache    HashCache
	logger   *slog.Logger
}

// New returns an indexer. cache may be nil.
func New(e Embedder, s PointStore, cache HashCache, logger *slog.Logger) *Indexer {
	return &Indexer{embedder: e, store: s, cache: cache, logger: logger}
}

var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/MikeSquared-Agency/recall/points"))

// PointID derives the stable point id of a message.
func PointID(conversationID, role, messageID string) uuid.UUID {
	return uuid.NewSHA1(pointNamespace, []byte(conversationID+"\x00"+role+"\x00"+messageID))
}

// ContentHash is the hex SHA-256 of the trimmed message text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return hex.EncodeToString(sum[:])
}

type message struct {
	role      string
	text      string
	messageID string
	index     int
	exchange  merge.Exchange
}

// messages lists the user then assistant text of every exchange in order.
func messages(t merge.Transcript) []message {
	var out []message
	for i, ex := range t.Exchanges {
		// The record file name is unique per exchange and stays put when
		// later merges insert exchanges before this one.
		fallback := "file:" + ex.FileSource
		if ex.UserInput != nil {
			id := ex.UserMessageID
			if id == "" {
				id = fallback
			}
			out = append(out, message{role: RoleUser, text: *ex.UserInput, messageID: id, index: i, exchange: ex})
		}
		if ex.AssistantResponse != "" {
			id := ex.AssistantMessageID
			if id == "" {
				id = fallback
			}
			out = append(out, message{role: RoleAssistant, text: ex.AssistantResponse, messageID: id, index: i, exchange: ex})
		}
	}
	return out
}

// Index embeds and stores every message of t whose text is not indexed yet.
// A failed embedding skips only that message; the rest of the batch is still
// stored. All new points go to the store in a single upsert.
func (ix *Indexer) Index(ctx context.Context, t merge.Transcript) (Result, error) {
	var res Result
	var batch []vectorstore.Point
	pending := make(map[string]bool)
	log := ix.logger.With("conversation_id", t.ConversationID, "provider", t.Provider)

	for _, m := range messages(t) {
		if err := ctx.Err(); err != nil {
			// Nothing embedded so far was stored.
			res.Failed += res.Inserted
			res.Inserted = 0
			return res, err
		}
		text := strings.TrimSpace(m.text)
		if text == "" {
			continue
		}
		hash := ContentHash(text)

		if pending[hash] || ix.exists(ctx, hash, log) {
			res.Skipped++
			continue
		}

		vec, err := ix.embedder.Embed(ctx, text)
		if err != nil {
			res.Failed++
			log.Warn("embedding failed, message not indexed",
				"role", m.role, "message_id", m.messageID, "exchange_index", m.index, "error", err)
			continue
		}

		pending[hash] = true
		batch = append(batch, vectorstore.Point{
			ID:          PointID(t.ConversationID, m.role, m.messageID),
			ContentHash: hash,
			Vector:      vec,
			Payload: vectorstore.Payload{
				ConversationID: t.ConversationID,
				Role:           m.role,
				Text:           text,
				Timestamp:      m.exchange.Timestamp,
				MessageID:      m.messageID,
				Model:          m.exchange.Model,
				ExchangeIndex:  m.index,
				Provider:       string(t.Provider),
				ContentHash:    hash,
			},
		})
		res.Inserted++
	}

	if len(batch) == 0 {
		return res, nil
	}
	if err := ix.store.Upsert(ctx, batch); err != nil {
		res.Failed += len(batch)
		res.Inserted = 0
		return res, fmt.Errorf("upsert %d points: %w", len(batch), err)
	}

	if ix.cache != nil {
		hashes := make([]string, len(batch))
		for i, p := range batch {
			hashes[i] = p.ContentHash
		}
		if err := ix.cache.Mark(ctx, hashes...); err != nil {
			log.Warn("hash cache update failed", "error", err)
		}
	}
	log.Info("transcript indexed", "inserted", res.Inserted, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// exists checks the cache, then the store. Any failure counts as not found.
func (ix *Indexer) exists(ctx context.Context, hash string, log *slog.Logger) bool {
	if ix.cache != nil {
		seen, err := ix.cache.Seen(ctx, hash)
		if err != nil {
			log.Debug("hash cache lookup failed", "error", err)
		} else if seen {
			return true
		}
	}
	found, err := ix.store.ExistsByHash(ctx, hash)
	if err != nil {
		log.Warn("existence check failed, treating as new", "content_hash", hash, "error", err)
		return false
	}
	return found
}

// IndexAll indexes each transcript in turn. A failing transcript is logged and
// does not stop the others; its error is part of the joined result error.
func (ix *Indexer) IndexAll(ctx context.Context, transcripts []merge.Transcript) (Result, error) {
	var total Result
	var errs []error
	for _, t := range transcripts {
		res, err := ix.Index(ctx, t)
		total.add(res)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			ix.logger.Error("indexing transcript failed", "conversation_id", t.ConversationID, "error", err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", t.Provider, t.ConversationID, err))
		}
	}
	return total, errors.Join(errs...)
}
