package reconstruct

import (
	"encoding/json"
	"time"
)

// Envelope is the JSON form of a Flow used by the capture endpoint and by
// saved flow dumps. RequestBody may be the JSON request itself or a JSON
// string holding it.
type Envelope struct {
	Host         string          `json:"host"`
	Path         string          `json:"path"`
	RequestBody  json.RawMessage `json:"request_body,omitempty"`
	ResponseBody string          `json:"response_body"`
	CapturedAt   *time.Time      `json:"captured_at,omitempty"`
}

// Flow converts the envelope. A missing capture time stays zero.
func (e Envelope) Flow() Flow {
	f := Flow{
		Host:         e.Host,
		Path:         e.Path,
		ResponseBody: e.ResponseBody,
	}
	var s string
	if err := json.Unmarshal(e.RequestBody, &s); err == nil {
		f.RequestBody = []byte(s)
	} else if len(e.RequestBody) > 0 && string(e.RequestBody) != "null" {
		f.RequestBody = e.RequestBody
	}
	if e.CapturedAt != nil {
		f.CapturedAt = e.CapturedAt.UTC()
	}
	return f
}
