package reconstruct

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeFlow(t *testing.T) {
	tests := []struct {
		name    string
		json    string
		wantReq string
	}{
		{"object body", `{"host":"claude.ai","path":"/p","request_body":{"prompt":"hi"}}`, `{"prompt":"hi"}`},
		{"string body", `{"host":"claude.ai","path":"/p","request_body":"{\"prompt\":\"hi\"}"}`, `{"prompt":"hi"}`},
		{"null body", `{"host":"claude.ai","path":"/p","request_body":null}`, ""},
		{"missing body", `{"host":"claude.ai","path":"/p"}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Envelope
			if err := json.Unmarshal([]byte(tt.json), &e); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			f := e.Flow()
			if string(f.RequestBody) != tt.wantReq {
				t.Errorf("request body = %q, want %q", f.RequestBody, tt.wantReq)
			}
			if f.Host != "claude.ai" || f.Path != "/p" {
				t.Errorf("flow = %+v", f)
			}
			if !f.CapturedAt.IsZero() {
				t.Errorf("captured_at should be zero, got %v", f.CapturedAt)
			}
		})
	}
}

func TestEnvelopeFlow_CapturedAtInUTC(t *testing.T) {
	var e Envelope
	if err := json.Unmarshal([]byte(`{"host":"h","path":"/","captured_at":"2026-06-01T08:00:00+02:00"}`), &e); err != nil {
		t.Fatal(err)
	}
	got := e.Flow().CapturedAt
	want := time.Date(2026, 6, 1, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) || got.Location() != time.UTC {
		t.Errorf("captured_at = %v, want %v", got, want)
	}
}
