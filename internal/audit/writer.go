package audit

import (
	"context"
	"time"

	"plantgate.org/internal/obs"
)

// LogWriter emits each record as one JSON line on the shared logger.
type LogWriter struct{}

func (LogWriter) Write(ctx context.Context, batch []Record) error {
	for _, r := range batch {
		fields := map[string]any{
			"type":        "decision",
			"id":          r.ID,
			"occurred_at": r.OccurredAt.UTC().Format(time.RFC3339Nano),
			"subject_id":  r.SubjectID,
			"permission":  r.Permission,
			"outcome":     r.Outcome,
		}
		if r.SessionID != "" {
			fields["session_id"] = r.SessionID
		}
		if r.ObjectID != "" {
			fields["object_id"] = r.ObjectID
		}
		if r.ObjectKind != "" {
			fields["object_kind"] = r.ObjectKind
		}
		if r.Reason != "" {
			fields["reason"] = r.Reason
		}
		if len(r.Redacted) > 0 {
			fields["redacted"] = r.Redacted
		}
		if r.Mode != "" {
			fields["mode"] = r.Mode
		}
		if r.RequestID != "" {
			fields["request_id"] = r.RequestID
		}
		obs.Info("audit", fields)
	}
	return nil
}

// MultiWriter writes every batch to each writer and returns the first error.
type MultiWriter []Writer

func (m MultiWriter) Write(ctx context.Context, batch []Record) error {
	var first error
	for _, w := range m {
		if err := w.Write(ctx, batch); err != nil && first == nil {
			first = err
		}
	}
	return first
}
