package opensearch

import (
	"encoding/json"
	"fmt"
	"strings"
)

// QueryError is an error reply from the engine.
type QueryError struct {
	Status  int
	Type    string
	Reason  string
	Details string
}

func (e *QueryError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "opensearch: status %d", e.Status)
	if e.Type != "" {
		b.WriteString(": ")
		b.WriteString(e.Type)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Details != "" {
		b.WriteString(" (")
		b.WriteString(e.Details)
		b.WriteString(")")
	}
	return b.String()
}

// errorBody covers both the plugin shape {"error":{...},"status":N} and a
// plain {"error":"..."} string.
type errorBody struct {
	Error  json.RawMessage `json:"error"`
	Status int             `json:"status"`
}

type errorDetail struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Details string `json:"details"`
}

func decodeError(status int, data []byte) error {
	qe := &QueryError{Status: status}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil || len(body.Error) == 0 {
		qe.Reason = strings.TrimSpace(truncate(string(data), 512))
		return qe
	}
	if body.Status != 0 {
		qe.Status = body.Status
	}

	var detail errorDetail
	if err := json.Unmarshal(body.Error, &detail); err == nil {
		qe.Type = detail.Type
		qe.Reason = detail.Reason
		qe.Details = detail.Details
		return qe
	}
	var msg string
	if err := json.Unmarshal(body.Error, &msg); err == nil {
		qe.Reason = msg
	}
	return qe
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
