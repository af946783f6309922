package audit

import (
	"context"
	"time"
)

// Record is one appended authorization decision.
type Record struct {
	ID         string    `json:"id"`
	OccurredAt time.Time `json:"occurred_at"`
	SubjectID  string    `json:"subject_id"`
	SessionID  string    `json:"session_id,omitempty"`
	Permission string    `json:"permission"`
	ObjectID   string    `json:"object_id,omitempty"`
	ObjectKind string    `json:"object_kind,omitempty"`
	Outcome    string    `json:"outcome"`
	Reason     string    `json:"reason,omitempty"`
	Redacted   []string  `json:"redacted,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
}

// Sink accepts decision records. Record never blocks the caller and never
// fails it; delivery problems are reported through logs and metrics.
type Sink interface {
	Record(ctx context.Context, r Record)
}

// Writer persists a batch of records.
type Writer interface {
	Write(ctx context.Context, batch []Record) error
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) Record(context.Context, Record) {}
