// Package merge groups exchange records into one time-ordered transcript per
// conversation. A merge is always a full rebuild from the stored records, so
// running it twice over the same records yields identical output.
package merge

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/MikeSquared-Agency/recall/internal/record"
)

// Exchange is one user/assistant turn inside a transcript.
type Exchange struct {
	Timestamp          *time.Time     `json:"timestamp"`
	FileSource         string         `json:"file_source"`
	UserInput          *string        `json:"user_input"`
	AssistantResponse  string         `json:"assistant_response"`
	UserMessageID      string         `json:"user_message_id,omitempty"`
	AssistantMessageID string         `json:"assistant_message_id,omitempty"`
	Model              string         `json:"model,omitempty"`
	Metadata           map[string]any `json:"metadata"`
}

// Transcript is the merged view of one conversation.
type Transcript struct {
	ConversationID string          `json:"conversation_id"`
	Provider       record.Provider `json:"provider"`
	ExchangeCount  int             `json:"exchange_count"`
	FirstTimestamp *time.Time      `json:"first_timestamp"`
	LastTimestamp  *time.Time      `json:"last_timestamp"`
	Exchanges      []Exchange      `json:"exchanges"`
}

// Result is the outcome of one merge. Missing lists the sources of records
// that carry no conversation id and were left out of every transcript.
type Result struct {
	Transcripts []Transcript
	Missing     []string
}

type groupKey struct {
	provider record.Provider
	id       string
}

// Merge groups records by provider and conversation id. Records keep their
// input order when their capture times are equal or missing, and transcripts
// are returned ordered by provider and conversation id.
func Merge(records []record.Stored) Result {
	var res Result
	groups := make(map[groupKey][]record.Stored)
	var keys []groupKey

	for _, rec := range records {
		ex := rec.Exchange
		if ex == nil {
			continue
		}
		if ex.ConversationID == "" {
			res.Missing = append(res.Missing, rec.Path)
			continue
		}
		k := groupKey{provider: ex.Provider, id: ex.ConversationID}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], rec)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].provider != keys[j].provider {
			return keys[i].provider < keys[j].provider
		}
		return keys[i].id < keys[j].id
	})

	for _, k := range keys {
		res.Transcripts = append(res.Transcripts, buildTranscript(k, groups[k]))
	}
	return res
}

func buildTranscript(k groupKey, recs []record.Stored) Transcript {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Exchange.CapturedAt.Before(recs[j].Exchange.CapturedAt)
	})

	t := Transcript{
		ConversationID: k.id,
		Provider:       k.provider,
		ExchangeCount:  len(recs),
		Exchanges:      make([]Exchange, 0, len(recs)),
	}
	for _, rec := range recs {
		e := summarize(rec)
		if e.Timestamp != nil {
			if t.FirstTimestamp == nil {
				t.FirstTimestamp = e.Timestamp
			}
			t.LastTimestamp = e.Timestamp
		}
		t.Exchanges = append(t.Exchanges, e)
	}
	return t
}

func summarize(rec record.Stored) Exchange {
	ex := rec.Exchange
	e := Exchange{
		FileSource:        filepath.Base(rec.Path),
		AssistantResponse: ex.AssistantText,
		Metadata:          ex.AssistantMetadata,
		Model:             modelName(ex.AssistantMetadata),
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if !ex.CapturedAt.IsZero() {
		ts := ex.CapturedAt.UTC()
		e.Timestamp = &ts
	}
	if um := ex.UserMessage; um != nil {
		content := um.Content
		e.UserInput = &content
		e.UserMessageID = um.ID
	}
	if id, ok := ex.AssistantMetadata["assistant_message_id"].(string); ok {
		e.AssistantMessageID = id
	}
	return e
}

// modelName picks the first non-empty of model, model_slug and
// server_metadata.model_slug.
func modelName(meta map[string]any) string {
	if m, ok := meta["model"].(string); ok && m != "" {
		return m
	}
	if m, ok := meta["model_slug"].(string); ok && m != "" {
		return m
	}
	if sm, ok := meta["server_metadata"].(map[string]any); ok {
		if m, ok := sm["model_slug"].(string); ok && m != "" {
			return m
		}
	}
	return ""
}

// ProviderCount tallies one provider's share of a merge.
type ProviderCount struct {
	Conversations int `json:"conversations"`
	Exchanges     int `json:"exchanges"`
}

// Summary is written next to the transcripts after every merge.
type Summary struct {
	TotalConversations    int                               `json:"total_conversations"`
	TotalExchanges        int                               `json:"total_exchanges"`
	Providers             map[record.Provider]ProviderCount `json:"providers"`
	MissingConversationID []string                          `json:"missing_conversation_id"`
}

// Summarize counts conversations and exchanges per provider.
func (r Result) Summarize() Summary {
	s := Summary{
		Providers:             make(map[record.Provider]ProviderCount),
		MissingConversationID: make([]string, 0, len(r.Missing)),
	}
	for _, t := range r.Transcripts {
		pc := s.Providers[t.Provider]
		pc.Conversations++
		pc.Exchanges += t.ExchangeCount
		s.Providers[t.Provider] = pc
		s.TotalConversations++
		s.TotalExchanges += t.ExchangeCount
	}
	for _, p := range r.Missing {
		s.MissingConversationID = append(s.MissingConversationID, filepath.Base(p))
	}
	return s
}
