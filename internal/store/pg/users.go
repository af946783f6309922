package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"plantgate.org/internal/auth"
	"plantgate.org/internal/ids"
)

var _ auth.UserStore = (*Store)(nil)

const userColumns = `id, username, full_name, role, permissions, default_mode, plant_areas, active, created_at, updated_at, last_login`

func (s *Store) Create(ctx context.Context, u *auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	if u == nil {
		return auth.ErrInvalidInput
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	perms, areas, err := encodeGrant(u)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, u.ID, strings.ToLower(u.Username), u.FullName, string(u.Role), perms, string(u.DefaultMode), areas,
		u.Active, u.CreatedAt, u.UpdatedAt, u.LastLogin)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	return s.scanUser(row)
}

func (s *Store) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where username = $1`,
		strings.ToLower(strings.TrimSpace(username)))
	return s.scanUser(row)
}

func (s *Store) Update(ctx context.Context, u *auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	if u == nil {
		return auth.ErrInvalidInput
	}
	perms, areas, err := encodeGrant(u)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update users
		set username = $2, full_name = $3, role = $4, permissions = $5, default_mode = $6,
		    plant_areas = $7, active = $8, updated_at = $9
		where id = $1
	`, u.ID, strings.ToLower(u.Username), u.FullName, string(u.Role), perms, string(u.DefaultMode), areas, u.Active, u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.User
	for rows.Next() {
		u, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) MarkLogin(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update users set last_login = $2 where id = $1`, id, at.UTC())
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser rebuilds the permission set through the catalog, so a token that
// left the catalog makes the read fail instead of silently dropping it.
func (s *Store) scanUser(row rowScanner) (*auth.User, error) {
	var (
		u         auth.User
		role      string
		mode      string
		rawPerms  []byte
		rawAreas  []byte
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &role, &rawPerms, &mode, &rawAreas,
		&u.Active, &u.CreatedAt, &u.UpdatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = auth.Role(role)
	if u.DefaultMode, err = auth.ParseMode(mode); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	var tokens []string
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &tokens); err != nil {
			return nil, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if u.Permissions, err = s.catalog.NewSet(tokens...); err != nil {
		return nil, fmt.Errorf("user %s: %w", u.ID, err)
	}
	if len(rawAreas) > 0 {
		if err := json.Unmarshal(rawAreas, &u.PlantAreas); err != nil {
			return nil, fmt.Errorf("decode plant areas: %w", err)
		}
		if len(u.PlantAreas) == 0 {
			u.PlantAreas = nil
		}
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLogin = &t
	}
	return &u, nil
}

func encodeGrant(u *auth.User) ([]byte, []byte, error) {
	perms, err := json.Marshal(u.Permissions.Strings())
	if err != nil {
		return nil, nil, fmt.Errorf("marshal permissions: %w", err)
	}
	areas := u.PlantAreas
	if areas == nil {
		areas = []string{}
	}
	rawAreas, err := json.Marshal(areas)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal plant areas: %w", err)
	}
	return perms, rawAreas, nil
}
