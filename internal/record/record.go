// Package record defines the exchange record produced for every captured
// response and its on-disk store.
package record

import (
	"time"

	"github.com/MikeSquared-Agency/recall/internal/stream"
)

// Provider identifies the backend that produced a record. Its value doubles as
// the record's storage namespace.
type Provider string

const (
	ProviderClaude  Provider = "claude.ai"
	ProviderChatGPT Provider = "chatgpt.com"
	ProviderUnknown Provider = "unknown"
)

// ParseProvider maps a stored namespace back to a Provider.
func ParseProvider(s string) Provider {
	switch Provider(s) {
	case ProviderClaude, ProviderChatGPT:
		return Provider(s)
	default:
		return ProviderUnknown
	}
}

// UserMessage is the user side of an exchange.
type UserMessage struct {
	ID         string         `json:"id,omitempty"`
	Content    string         `json:"content"`
	CreateTime *float64       `json:"create_time,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Exchange is the reconstructed result of one captured HTTP response.
// AssistantText is the in-order concatenation of every fragment extracted
// from Events. Records are never modified once saved.
type Exchange struct {
	ID                string         `json:"id"`
	CapturedAt        time.Time      `json:"captured_at"`
	Provider          Provider       `json:"provider"`
	Host              string         `json:"host"`
	Path              string         `json:"path"`
	ConversationID    string         `json:"conversation_id,omitempty"`
	UserMessage       *UserMessage   `json:"user_message,omitempty"`
	AssistantText     string         `json:"assistant_text"`
	AssistantMetadata map[string]any `json:"assistant_metadata,omitempty"`
	EventsCount       int            `json:"events_count"`
	Events            []stream.Event `json:"events"`
}
