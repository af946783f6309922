package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"plantgate.org/internal/auth"
	"plantgate.org/internal/ledger"
)

// Ledger stores segregation-of-duty entries in sod_requests. Consumption
// locks the row, so concurrent authorizers on any number of instances
// serialize on it.
type Ledger struct {
	s   *Store
	now func() time.Time
}

var _ ledger.Ledger = (*Ledger)(nil)

func (s *Store) Ledger() *Ledger { return &Ledger{s: s, now: time.Now} }

const sodColumns = `object_id, kind, requester_id, created_at, consumed_at, coalesce(consumed_by, '')`

func (l *Ledger) RecordRequest(ctx context.Context, objectID, kind, requesterID string) (ledger.Entry, error) {
	objectID, kind, requesterID = strings.TrimSpace(objectID), strings.TrimSpace(kind), strings.TrimSpace(requesterID)
	if objectID == "" || kind == "" || requesterID == "" {
		return ledger.Entry{}, fmt.Errorf("%w: object id, kind and requester are required", auth.ErrInvalidInput)
	}
	// The requester of record never changes; only a pending entry gets its
	// timestamp refreshed. A consumed entry is closed for good.
	row := l.s.db.QueryRowContext(ctx, `
		insert into sod_requests (object_id, kind, requester_id, created_at)
		values ($1, $2, $3, $4)
		on conflict (kind, object_id) do update
		set created_at = case when sod_requests.consumed_at is null
			then excluded.created_at else sod_requests.created_at end
		returning `+sodColumns,
		objectID, kind, requesterID, l.now().UTC())
	e, err := scanEntry(row)
	if err != nil {
		return ledger.Entry{}, err
	}
	if e.Consumed() {
		return e, auth.ErrNoSuchRequest
	}
	return e, nil
}

func (l *Ledger) CheckAndConsume(ctx context.Context, objectID, kind, authorizerID string) (ledger.Entry, error) {
	objectID, kind, authorizerID = strings.TrimSpace(objectID), strings.TrimSpace(kind), strings.TrimSpace(authorizerID)
	if objectID == "" || kind == "" || authorizerID == "" {
		return ledger.Entry{}, fmt.Errorf("%w: object id, kind and authorizer are required", auth.ErrInvalidInput)
	}

	tx, err := l.s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	e, err := scanEntry(tx.QueryRowContext(ctx, `
		select `+sodColumns+`
		from sod_requests
		where kind = $1 and object_id = $2
		for update
	`, kind, objectID))
	if err != nil {
		return ledger.Entry{}, err
	}
	if e.Consumed() {
		return ledger.Entry{}, auth.ErrNoSuchRequest
	}
	if e.RequesterID == authorizerID {
		return e, auth.ErrSelfAuthorization
	}

	at := l.now().UTC()
	if _, err := tx.ExecContext(ctx, `
		update sod_requests set consumed_at = $3, consumed_by = $4
		where kind = $1 and object_id = $2
	`, kind, objectID, at, authorizerID); err != nil {
		return ledger.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, err
	}
	e.ConsumedAt = &at
	e.ConsumedBy = authorizerID
	return e, nil
}

func (l *Ledger) Lookup(ctx context.Context, objectID, kind string) (ledger.Entry, error) {
	return scanEntry(l.s.db.QueryRowContext(ctx, `
		select `+sodColumns+`
		from sod_requests
		where kind = $1 and object_id = $2
	`, strings.TrimSpace(kind), strings.TrimSpace(objectID)))
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e          ledger.Entry
		consumedAt sql.NullTime
	)
	err := row.Scan(&e.ObjectID, &e.Kind, &e.RequesterID, &e.CreatedAt, &consumedAt, &e.ConsumedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, auth.ErrNoSuchRequest
	}
	if err != nil {
		return ledger.Entry{}, err
	}
	if consumedAt.Valid {
		t := consumedAt.Time.UTC()
		e.ConsumedAt = &t
	}
	return e, nil
}
