// Package reconstruct turns a captured provider flow into an exchange record:
// it decodes the response stream, concatenates the assistant's text fragments
// and collects conversation and message metadata.
package reconstruct

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/MikeSquared-Agency/recall/internal/record"
	"github.com/MikeSquared-Agency/recall/internal/stream"
)

// ErrUnsupportedFlow is returned for flows no provider family claims.
var ErrUnsupportedFlow = errors.New("unsupported flow")

// Flow is one intercepted request/response pair with the full response body.
type Flow struct {
	Host         string
	Path         string
	RequestBody  []byte
	ResponseBody string
	CapturedAt   time.Time
}

type family struct {
	provider  record.Provider
	host      *regexp.Regexp
	path      *regexp.Regexp
	decoder   *stream.Decoder
	fragments func(gjson.Result) []string
	metadata  func(ex *record.Exchange, f Flow, events []gjson.Result)
}

var families = []*family{
	{
		provider:  record.ProviderClaude,
		host:      regexp.MustCompile(`(?:^|\.)claude\.ai$`),
		path:      regexp.MustCompile(`(?i)^/api/organizations/[^/]+/chat_conversations/[^/]+/completion$`),
		decoder:   stream.NewDecoder(stream.FramingLines),
		fragments: deltaFragments,
		metadata:  claudeMetadata,
	},
	{
		provider:  record.ProviderChatGPT,
		host:      regexp.MustCompile(`(?:^|\.)chatgpt\.com$`),
		path:      regexp.MustCompile(`(?i)^/backend-api/f/conversation$`),
		decoder:   stream.NewDecoder(stream.FramingBlocks),
		fragments: patchFragments,
		metadata:  chatgptMetadata,
	},
}

func stripQuery(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i]
	}
	return path
}

func lookup(host, path string) *family {
	host = strings.ToLower(host)
	path = stripQuery(path)
	for _, fam := range families {
		if fam.host.MatchString(host) && fam.path.MatchString(path) {
			return fam
		}
	}
	return nil
}

func byProvider(p record.Provider) *family {
	for _, fam := range families {
		if fam.provider == p {
			return fam
		}
	}
	return nil
}

// Match reports which provider handles a request to host and path.
func Match(host, path string) (record.Provider, bool) {
	if fam := lookup(host, path); fam != nil {
		return fam.provider, true
	}
	return record.ProviderUnknown, false
}

// Reconstruct decodes the response body of f and builds its exchange record.
// The returned record has no ID; the caller assigns one before saving.
func Reconstruct(f Flow) (*record.Exchange, stream.Strategy, error) {
	fam := lookup(f.Host, f.Path)
	if fam == nil {
		return nil, stream.StrategyNone, ErrUnsupportedFlow
	}

	events, strategy := fam.decoder.Decode(f.ResponseBody)
	parsed := parseEvents(events)

	ex := &record.Exchange{
		CapturedAt:    f.CapturedAt,
		Provider:      fam.provider,
		Host:          f.Host,
		Path:          f.Path,
		AssistantText: concatenate(fam, parsed),
		EventsCount:   len(events),
		Events:        events,
	}
	fam.metadata(ex, f, parsed)
	return ex, strategy, nil
}

// Fragments returns the text fragments one event contributes under the given
// provider's rules.
func Fragments(p record.Provider, ev stream.Event) []string {
	fam := byProvider(p)
	if fam == nil || !ev.Typed() {
		return nil
	}
	return fam.fragments(gjson.ParseBytes(ev.Payload))
}

// AssistantText concatenates the fragments of events in order.
func AssistantText(p record.Provider, events []stream.Event) string {
	fam := byProvider(p)
	if fam == nil {
		return ""
	}
	return concatenate(fam, parseEvents(events))
}

// parseEvents keeps typed payloads only; raw events never carry fragments or
// metadata.
func parseEvents(events []stream.Event) []gjson.Result {
	out := make([]gjson.Result, 0, len(events))
	for _, ev := range events {
		if ev.Typed() {
			out = append(out, gjson.ParseBytes(ev.Payload))
		}
	}
	return out
}

func concatenate(fam *family, events []gjson.Result) string {
	var b strings.Builder
	for _, ev := range events {
		for _, frag := range fam.fragments(ev) {
			b.WriteString(frag)
		}
	}
	return b.String()
}
