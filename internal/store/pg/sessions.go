package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"plantgate.org/internal/auth"
	"plantgate.org/internal/session"
)

// Sessions exposes the session table as a session.Store. The method names
// would clash with the user store on Store itself.
type Sessions struct {
	s *Store
}

var _ session.Store = Sessions{}

func (s *Store) Sessions() Sessions { return Sessions{s: s} }

func (ss Sessions) Put(ctx context.Context, rec session.Record) error {
	_, err := ss.s.db.ExecContext(ctx, `
		insert into sessions (id, user_id, mode, issued_at, expires_at)
		values ($1, $2, $3, $4, $5)
	`, rec.ID, rec.UserID, string(rec.Mode), rec.IssuedAt, rec.ExpiresAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return auth.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (ss Sessions) Get(ctx context.Context, id string) (session.Record, error) {
	var (
		rec  session.Record
		mode string
	)
	err := ss.s.db.QueryRowContext(ctx, `
		select id, user_id, mode, issued_at, expires_at
		from sessions
		where id = $1
	`, id).Scan(&rec.ID, &rec.UserID, &mode, &rec.IssuedAt, &rec.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Record{}, auth.ErrUnknownSession
	}
	if err != nil {
		return session.Record{}, err
	}
	rec.Mode = auth.Mode(mode)
	return rec, nil
}

func (ss Sessions) UpdateMode(ctx context.Context, id string, mode auth.Mode) error {
	res, err := ss.s.db.ExecContext(ctx, `update sessions set mode = $2 where id = $1`, id, string(mode))
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrUnknownSession
	}
	return nil
}

func (ss Sessions) Delete(ctx context.Context, id string) error {
	_, err := ss.s.db.ExecContext(ctx, `delete from sessions where id = $1`, id)
	return err
}

func (ss Sessions) DeleteUser(ctx context.Context, userID string) (int, error) {
	res, err := ss.s.db.ExecContext(ctx, `delete from sessions where user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (ss Sessions) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := ss.s.db.ExecContext(ctx, `delete from sessions where expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
