package stream

import (
	"strings"
)

// Framing selects how the SSE strategy splits a body into units.
type Framing int

const (
	// FramingLines reads `event:` / `data:` pairs line by line.
	FramingLines Framing = iota
	// FramingBlocks reads blank-line separated blocks; multiple `data:`
	// lines inside one block are joined with a newline.
	FramingBlocks
)

// Strategy names the decoding strategy that produced a result.
type Strategy string

const (
	StrategyNone     Strategy = ""
	StrategySSE      Strategy = "sse"
	StrategyNDJSON   Strategy = "ndjson"
	StrategyDocument Strategy = "document"
	StrategyRaw      Strategy = "raw"
)

type strategy struct {
	name   Strategy
	decode func(body string) []Event
}

// Decoder runs an ordered fallback chain of strategies; the first one that
// yields at least one event wins.
type Decoder struct {
	strategies []strategy
}

// NewDecoder returns a decoder whose SSE stage uses the given framing.
func NewDecoder(f Framing) *Decoder {
	sse := decodeSSELines
	if f == FramingBlocks {
		sse = decodeSSEBlocks
	}
	return &Decoder{strategies: []strategy{
		{name: StrategySSE, decode: sse},
		{name: StrategyNDJSON, decode: decodeNDJSON},
		{name: StrategyDocument, decode: decodeDocument},
		{name: StrategyRaw, decode: decodeRawLines},
	}}
}

var lineDecoder = NewDecoder(FramingLines)

// Decode decodes body with line framing.
func Decode(body string) []Event {
	events, _ := lineDecoder.Decode(body)
	return events
}

// Decode returns the events of body in order of appearance and the strategy
// that produced them. Zero events means nothing was reconstructable.
func (d *Decoder) Decode(body string) ([]Event, Strategy) {
	for _, s := range d.strategies {
		if events := s.decode(body); len(events) > 0 {
			return events, s.name
		}
	}
	return nil, StrategyNone
}

func normalizeNewlines(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	return strings.ReplaceAll(body, "\r", "\n")
}

// dataEvent builds the event for one `data:` payload. Empty payloads and the
// end-of-stream sentinel produce nothing.
func dataEvent(payload, label string) (Event, bool) {
	payload = strings.TrimSpace(payload)
	if payload == "" || payload == doneSentinel {
		return Event{}, false
	}
	return parsePayload(payload, label), true
}

func fieldValue(line, field string) (string, bool) {
	if !strings.HasPrefix(line, field+":") {
		return "", false
	}
	return strings.TrimSpace(line[len(field)+1:]), true
}

func decodeSSELines(body string) []Event {
	var events []Event
	label := ""
	for _, line := range strings.Split(normalizeNewlines(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			label = ""
			continue
		}
		if v, ok := fieldValue(line, "event"); ok {
			label = v
			continue
		}
		if v, ok := fieldValue(line, "data"); ok {
			if ev, ok := dataEvent(v, label); ok {
				events = append(events, ev)
			}
			label = ""
		}
	}
	return events
}

func decodeSSEBlocks(body string) []Event {
	var events []Event
	for _, block := range strings.Split(normalizeNewlines(body), "\n\n") {
		label := ""
		var data []string
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimRight(line, " \t")
			if v, ok := fieldValue(line, "event"); ok {
				label = v
				continue
			}
			if v, ok := fieldValue(line, "data"); ok {
				data = append(data, v)
			}
		}
		if len(data) == 0 {
			continue
		}
		if ev, ok := dataEvent(strings.Join(data, "\n"), label); ok {
			events = append(events, ev)
		}
	}
	return events
}

// ndjsonLines returns the candidate lines of an NDJSON body.
func ndjsonLines(body string) []string {
	var lines []string
	for _, line := range strings.Split(normalizeNewlines(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == doneSentinel {
			continue
		}
		if v, ok := fieldValue(line, "data"); ok && v == doneSentinel {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// decodeNDJSON only succeeds when at least one line is JSON, so a pretty
// printed document falls through to decodeDocument instead of becoming a
// list of raw fragments.
func decodeNDJSON(body string) []Event {
	var events []Event
	typed := false
	for _, line := range ndjsonLines(body) {
		ev := parsePayload(line, "")
		typed = typed || ev.Typed()
		events = append(events, ev)
	}
	if !typed {
		return nil
	}
	return events
}

func decodeDocument(body string) []Event {
	ev := parsePayload(body, "")
	if !ev.Typed() {
		return nil
	}
	return []Event{ev}
}

// decodeRawLines keeps non-JSON bodies around verbatim for audit.
func decodeRawLines(body string) []Event {
	var events []Event
	for _, line := range ndjsonLines(body) {
		events = append(events, Event{Kind: KindRaw, Text: line})
	}
	return events
}
