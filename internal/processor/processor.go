package processor

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/MikeSquared-Agency/recall/internal/hermes"
	"github.com/MikeSquared-Agency/recall/internal/index"
	"github.com/MikeSquared-Agency/recall/internal/merge"
	"github.com/MikeSquared-Agency/recall/internal/reconstruct"
	"github.com/MikeSquared-Agency/recall/internal/record"
	"github.com/MikeSquared-Agency/recall/internal/stream"
)

// Publisher sends an event on a NATS subject.
type Publisher interface {
	Publish(subject string, data any) error
}

// Trigger asks for a background merge.
type Trigger interface {
	Request()
}

// MergeRunner rebuilds every transcript.
type MergeRunner interface {
	Run(ctx context.Context) (*merge.Report, error)
}

// TranscriptIndexer embeds merged transcripts.
type TranscriptIndexer interface {
	IndexAll(ctx context.Context, transcripts []merge.Transcript) (index.Result, error)
}

// Captured describes an exchange record written by Capture.
type Captured struct {
	ID             string          `json:"id"`
	Provider       record.Provider `json:"provider"`
	ConversationID string          `json:"conversation_id"`
	EventsCount    int             `json:"events_count"`
	Strategy       stream.Strategy `json:"strategy"`
	Path           string          `json:"path"`
}

// Processor orchestrates recall's capture pipeline: reconstruct, store,
// announce, then merge (and optionally index) in the background.
type Processor struct {
	records   *record.Store
	merger    MergeRunner
	indexer   TranscriptIndexer
	publisher Publisher
	trigger   Trigger
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	entropy io.Reader
}

// New returns a processor. publisher, trigger and indexer may be nil; a nil
// indexer means merges are not followed by indexing.
func New(records *record.Store, merger MergeRunner, indexer TranscriptIndexer, publisher Publisher, logger *slog.Logger) *Processor {
	return &Processor{
		records:   records,
		merger:    merger,
		indexer:   indexer,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// SetTrigger sets what Capture and HandleExchangeStored call to schedule a
// merge. The scheduler needs RunMerge as its job, so it is wired after New.
func (p *Processor) SetTrigger(t Trigger) {
	p.trigger = t
}

func (p *Processor) newID(at time.Time) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(at), p.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Capture reconstructs one intercepted flow and stores it as an exchange
// record. Announcing the record and scheduling the merge never fail the
// capture.
func (p *Processor) Capture(ctx context.Context, f reconstruct.Flow) (*Captured, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.CapturedAt.IsZero() {
		f.CapturedAt = p.now().UTC()
	}

	ex, strategy, err := reconstruct.Reconstruct(f)
	if err != nil {
		return nil, err
	}

	id, err := p.newID(ex.CapturedAt)
	if err != nil {
		return nil, fmt.Errorf("generate record id: %w", err)
	}
	ex.ID = id

	path, err := p.records.Save(ex)
	if err != nil {
		return nil, fmt.Errorf("save record: %w", err)
	}

	p.logger.Info("exchange captured",
		"id", ex.ID,
		"provider", ex.Provider,
		"conversation_id", ex.ConversationID,
		"events", ex.EventsCount,
		"strategy", strategy,
		"assistant_chars", len(ex.AssistantText),
	)
	if ex.ConversationID == "" {
		p.logger.Warn("captured exchange has no conversation id", "id", ex.ID, "path", path)
	}

	p.announce(hermes.ExchangeStored{
		ID:             ex.ID,
		Provider:       string(ex.Provider),
		ConversationID: ex.ConversationID,
		Path:           path,
		CapturedAt:     ex.CapturedAt,
	})

	return &Captured{
		ID:             ex.ID,
		Provider:       ex.Provider,
		ConversationID: ex.ConversationID,
		EventsCount:    ex.EventsCount,
		Strategy:       strategy,
		Path:           path,
	}, nil
}

// announce publishes the stored event. Without NATS, or when publishing
// fails, the merge is requested in-process instead.
func (p *Processor) announce(evt hermes.ExchangeStored) {
	if p.publisher != nil {
		err := p.publisher.Publish(hermes.SubjectExchangeStored, evt)
		if err == nil {
			return
		}
		p.logger.Error("failed to publish exchange stored", "id", evt.ID, "error", err)
	}
	p.requestMerge()
}

func (p *Processor) requestMerge() {
	if p.trigger != nil {
		p.trigger.Request()
	}
}

// HandleExchangeStored is the NATS handler for recall.exchange.stored.
func (p *Processor) HandleExchangeStored(subject string, data []byte) {
	var evt hermes.ExchangeStored
	if err := json.Unmarshal(data, &evt); err != nil {
		p.logger.Warn("failed to parse exchange stored event", "subject", subject, "error", err)
		return
	}
	p.logger.Debug("exchange stored", "id", evt.ID, "provider", evt.Provider, "conversation_id", evt.ConversationID)
	p.requestMerge()
}

// RunMerge rebuilds the merged transcripts, indexes them when an indexer is
// configured and announces the outcome. An indexing failure is returned
// after the completion event is published.
func (p *Processor) RunMerge(ctx context.Context) error {
	report, err := p.merger.Run(ctx)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	evt := hermes.MergeCompleted{
		Conversations: report.Summary.TotalConversations,
		Exchanges:     report.Summary.TotalExchanges,
		Written:       report.Stats.Written,
		Unchanged:     report.Stats.Unchanged,
		Missing:       len(report.Summary.MissingConversationID),
	}

	var indexErr error
	if p.indexer != nil {
		res, err := p.indexer.IndexAll(ctx, report.Transcripts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			indexErr = fmt.Errorf("index: %w", err)
		}
		evt.Indexed = true
		evt.Inserted, evt.Skipped, evt.Failed = res.Inserted, res.Skipped, res.Failed
		p.logger.Info("merge indexed", "inserted", res.Inserted, "skipped", res.Skipped, "failed", res.Failed)
	}

	if p.publisher != nil {
		if err := p.publisher.Publish(hermes.SubjectMergeCompleted, evt); err != nil {
			p.logger.Error("failed to publish merge completed", "error", err)
		}
	}
	return indexErr
}
