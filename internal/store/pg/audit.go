package pg

import (
	"context"
	"encoding/json"
	"fmt"

	"plantgate.org/internal/audit"
)

// AuditWriter appends decision records to audit_decisions.
type AuditWriter struct {
	s *Store
}

var _ audit.Writer = AuditWriter{}

func (s *Store) AuditWriter() AuditWriter { return AuditWriter{s: s} }

func (w AuditWriter) Write(ctx context.Context, batch []audit.Record) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := w.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		insert into audit_decisions
			(id, occurred_at, subject_id, session_id, permission, object_id, object_kind,
			 outcome, reason, redacted, mode, request_id)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		on conflict (id) do nothing
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range batch {
		redacted := []byte("[]")
		if len(r.Redacted) > 0 {
			if redacted, err = json.Marshal(r.Redacted); err != nil {
				return fmt.Errorf("marshal redacted fields: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.OccurredAt, r.SubjectID, nullIfEmpty(r.SessionID), r.Permission,
			nullIfEmpty(r.ObjectID), nullIfEmpty(r.ObjectKind), r.Outcome, nullIfEmpty(r.Reason),
			redacted, nullIfEmpty(r.Mode), nullIfEmpty(r.RequestID),
		); err != nil {
			return fmt.Errorf("insert audit record %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}
