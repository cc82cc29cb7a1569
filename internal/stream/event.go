// Package stream decodes captured HTTP response bodies into ordered events.
//
// A body may be Server-Sent-Events, newline-delimited JSON or one JSON
// document. Decoding is best effort and never fails; a body nothing can be
// made of decodes to zero events.
package stream

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind distinguishes parsed JSON payloads from verbatim text.
type Kind string

const (
	KindTyped Kind = "typed"
	KindRaw   Kind = "raw"
)

// doneSentinel marks end of stream and is never emitted as an event.
const doneSentinel = "[DONE]"

// Event is one decoded unit of a response body. Events are immutable once
// built; Payload is only set for typed events and Text only for raw ones.
type Event struct {
	Kind        Kind
	Payload     json.RawMessage
	Text        string
	SourceLabel string
}

// Typed reports whether the event carries a JSON payload.
func (e Event) Typed() bool { return e.Kind == KindTyped }

// parsePayload turns one payload string into a typed event when it is valid
// JSON and a raw event otherwise.
func parsePayload(payload, label string) Event {
	trimmed := strings.TrimSpace(payload)
	if json.Valid([]byte(trimmed)) {
		return Event{Kind: KindTyped, Payload: json.RawMessage(trimmed), SourceLabel: label}
	}
	return Event{Kind: KindRaw, Text: payload, SourceLabel: label}
}

type wireEvent struct {
	Kind        Kind            `json:"kind"`
	SourceLabel string          `json:"source_label,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{Kind: e.Kind, SourceLabel: e.SourceLabel, Payload: e.Payload}
	if e.Kind == KindRaw {
		text, err := json.Marshal(e.Text)
		if err != nil {
			return nil, err
		}
		w.Payload = text
	}
	return json.Marshal(w)
}

func (e *Event) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	switch w.Kind {
	case KindTyped:
		*e = Event{Kind: KindTyped, Payload: w.Payload, SourceLabel: w.SourceLabel}
	case KindRaw:
		var text string
		if err := json.Unmarshal(w.Payload, &text); err != nil {
			return fmt.Errorf("raw event payload: %w", err)
		}
		*e = Event{Kind: KindRaw, Text: text, SourceLabel: w.SourceLabel}
	default:
		return fmt.Errorf("unknown event kind %q", w.Kind)
	}
	return nil
}
