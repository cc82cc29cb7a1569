package hermes

import (
	"encoding/json"
	"testing"
	"time"
)

func TestExchangeStoredWireFormat(t *testing.T) {
	ev := ExchangeStored{
		ID:         "01JABCDEF",
		Provider:   "claude.ai",
		Path:       "parsed_matches/claude.ai/x__exchange.json",
		CapturedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["conversation_id"]; ok {
		t.Error("empty conversation_id should be omitted")
	}
	if raw["captured_at"] != "2026-03-01T12:00:00Z" {
		t.Errorf("captured_at = %v", raw["captured_at"])
	}
	if raw["provider"] != "claude.ai" {
		t.Errorf("provider = %v", raw["provider"])
	}
}

func TestMergeCompletedOmitsIndexCountsWhenZero(t *testing.T) {
	data, err := json.Marshal(MergeCompleted{Conversations: 2, Exchanges: 5, Written: 1, Unchanged: 1})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if raw["indexed"] != false {
		t.Errorf("indexed = %v", raw["indexed"])
	}
	for _, k := range []string{"inserted", "skipped", "failed"} {
		if _, ok := raw[k]; ok {
			t.Errorf("%s should be omitted", k)
		}
	}
	if raw["exchanges"] != float64(5) {
		t.Errorf("exchanges = %v", raw["exchanges"])
	}
}
