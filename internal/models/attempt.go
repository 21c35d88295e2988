package models

import "time"

// MaxSnippetBytes bounds the response excerpt kept per attempt
const MaxSnippetBytes = 512

// AttemptRecord describes a single delivery attempt
type AttemptRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	Attempt    int       `json:"attempt"`
	Outcome    string    `json:"outcome"`
	HTTPStatus int       `json:"http_status,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Response   string    `json:"response,omitempty"`
	Error      string    `json:"error,omitempty"`
	Shadow     bool      `json:"shadow,omitempty"`
}

// AttemptLog is an append-only history. Append never mutates the receiver
type AttemptLog []AttemptRecord

// Append returns a new log with rec at the end
func (l AttemptLog) Append(rec AttemptRecord) AttemptLog {
	if len(rec.Response) > MaxSnippetBytes {
		rec.Response = rec.Response[:MaxSnippetBytes]
	}
	out := make(AttemptLog, len(l), len(l)+1)
	copy(out, l)
	return append(out, rec)
}

// Last returns the most recent record
func (l AttemptLog) Last() (AttemptRecord, bool) {
	if len(l) == 0 {
		return AttemptRecord{}, false
	}
	return l[len(l)-1], true
}
