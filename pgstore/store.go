// Package pgstore implements the engine's UserStore and RoleStore on
// PostgreSQL via pgx.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clavisauth/clavis"
	"github.com/clavisauth/clavis/rbac"
)

const uniqueViolation = "23505"

// Store implements clavis.UserStore and clavis.RoleStore on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	// historyKeep bounds how many password_history rows are retained per
	// user. Older rows are trimmed on write.
	historyKeep int
}

// New wraps an existing pool. historyKeep <= 0 defaults to 10.
func New(pool *pgxpool.Pool, historyKeep int) *Store {
	if historyKeep <= 0 {
		historyKeep = 10
	}
	return &Store{pool: pool, historyKeep: historyKeep}
}

// Connect opens a pool from a connection string and pings it.
func Connect(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	return New(pool, 0), nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) CreateUser(ctx context.Context, in clavis.CreateUserInput) (*clavis.UserRecord, error) {
	record := clavis.UserRecord{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(in.Email),
		Name:         in.Name,
		PasswordHash: in.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO users (id, email, name, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		record.ID, record.Email, record.Name, record.PasswordHash, record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, clavis.ErrEmailTaken
		}
		return nil, wrapErr(err)
	}

	for _, role := range in.Roles {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			record.ID, role); err != nil {
			return nil, wrapErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapErr(err)
	}
	return &record, nil
}

const userColumns = `id, email, name, password_hash, mfa_enabled, mfa_secret,
	mfa_pending_secret, failed_login_count, locked_until, created_at`

func (s *Store) UserByID(ctx context.Context, id string) (*clavis.UserRecord, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*clavis.UserRecord, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(email)))
}

func (s *Store) scanUser(row pgx.Row) (*clavis.UserRecord, error) {
	var u clavis.UserRecord
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.MFAEnabled,
		&u.MFASecret, &u.MFAPendingSecret, &u.FailedLoginCount, &u.LockedUntil, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, clavis.ErrUserNotFound
		}
		return nil, wrapErr(err)
	}
	return &u, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO password_history (user_id, hash)
		 SELECT id, password_hash FROM users WHERE id = $1 AND password_hash <> ''`, id); err != nil {
		return wrapErr(err)
	}

	tag, err := tx.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return clavis.ErrUserNotFound
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM password_history
		 WHERE user_id = $1 AND ctid NOT IN (
		     SELECT ctid FROM password_history
		     WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2)`,
		id, s.historyKeep)
	if err != nil {
		return wrapErr(err)
	}

	return wrapErr(tx.Commit(ctx))
}

func (s *Store) PasswordHistory(ctx context.Context, id string, depth int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT hash FROM password_history
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, id, depth)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, hash)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) UpdateLockState(ctx context.Context, id string, failedCount int, lockedUntil *time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET failed_login_count = $2, locked_until = $3 WHERE id = $1`,
		id, failedCount, lockedUntil)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return clavis.ErrUserNotFound
	}
	return nil
}

func (s *Store) SetMFA(ctx context.Context, id string, enabled bool, secret, pendingSecret string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET mfa_enabled = $2, mfa_secret = $3, mfa_pending_secret = $4
		 WHERE id = $1`,
		id, enabled, secret, pendingSecret)
	if err != nil {
		return wrapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return clavis.ErrUserNotFound
	}
	return nil
}

func (s *Store) ReplaceBackupCodes(ctx context.Context, id string, hashes [][32]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapErr(err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM backup_codes WHERE user_id = $1`, id); err != nil {
		return wrapErr(err)
	}
	for _, h := range hashes {
		if _, err := tx.Exec(ctx,
			`INSERT INTO backup_codes (user_id, hash) VALUES ($1, $2)`, id, h[:]); err != nil {
			return wrapErr(err)
		}
	}
	return wrapErr(tx.Commit(ctx))
}

func (s *Store) ConsumeBackupCode(ctx context.Context, id string, hash [32]byte) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE backup_codes SET spent = TRUE
		 WHERE user_id = $1 AND hash = $2 AND NOT spent`, id, hash[:])
	if err != nil {
		return false, wrapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) RolesForUser(ctx context.Context, id string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role FROM user_roles WHERE user_id = $1 ORDER BY role`, id)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, wrapErr(err)
		}
		out = append(out, role)
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) AssignRole(ctx context.Context, id, role string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		id, role)
	return wrapErr(err)
}

func (s *Store) RevokeRole(ctx context.Context, id, role string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM user_roles WHERE user_id = $1 AND role = $2`, id, role)
	return wrapErr(err)
}

func (s *Store) UserByExternalIdentity(ctx context.Context, provider, subject string) (*clavis.UserRecord, error) {
	return s.scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users u
		 JOIN external_identities e ON e.user_id = u.id
		 WHERE e.provider = $1 AND e.subject = $2`, provider, subject))
}

func (s *Store) LinkExternalIdentity(ctx context.Context, id, provider, subject string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO external_identities (provider, subject, user_id)
		 VALUES ($1, $2, $3) ON CONFLICT (provider, subject) DO UPDATE SET user_id = $3`,
		provider, subject, id)
	return wrapErr(err)
}

func (s *Store) Roles(ctx context.Context) ([]rbac.Role, error) {
	rows, err := s.pool.Query(ctx, `SELECT definition FROM roles ORDER BY name`)
	if err != nil {
		return nil, wrapErr(err)
	}
	defer rows.Close()

	var out []rbac.Role
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, wrapErr(err)
		}
		var def roleDef
		if err := json.Unmarshal(raw, &def); err != nil {
			return nil, fmt.Errorf("pgstore: corrupt role definition: %w", err)
		}
		out = append(out, def.toRole())
	}
	return out, wrapErr(rows.Err())
}

func (s *Store) SaveRole(ctx context.Context, role rbac.Role) error {
	raw, err := json.Marshal(fromRole(role))
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO roles (name, description, definition) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET description = $2, definition = $3`,
		role.Name, role.Description, raw)
	return wrapErr(err)
}

func (s *Store) DeleteRole(ctx context.Context, name string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM roles WHERE name = $1`, name)
	return wrapErr(err)
}

// roleDef is the JSONB shape stored in the roles table.
type roleDef struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []permDef `json:"permissions,omitempty"`
	Parents     []string  `json:"parents,omitempty"`
}

type permDef struct {
	Pattern    string            `json:"pattern"`
	Conditions map[string]string `json:"conditions,omitempty"`
}

func fromRole(role rbac.Role) roleDef {
	def := roleDef{
		Name:        role.Name,
		Description: role.Description,
		Parents:     role.Parents,
	}
	for _, p := range role.Permissions {
		def.Permissions = append(def.Permissions, permDef{Pattern: p.Pattern, Conditions: p.Conditions})
	}
	return def
}

func (d roleDef) toRole() rbac.Role {
	role := rbac.Role{
		Name:        d.Name,
		Description: d.Description,
		Parents:     d.Parents,
	}
	for _, p := range d.Permissions {
		role.Permissions = append(role.Permissions, rbac.Permission{Pattern: p.Pattern, Conditions: p.Conditions})
	}
	return role
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", clavis.ErrStoreUnavailable, err)
}
