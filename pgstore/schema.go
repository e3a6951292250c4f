package pgstore

import "context"

// Schema is the DDL the store expects. Statements are idempotent so Migrate
// can run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id                 UUID PRIMARY KEY,
    email              TEXT NOT NULL UNIQUE,
    name               TEXT NOT NULL DEFAULT '',
    password_hash      TEXT NOT NULL DEFAULT '',
    mfa_enabled        BOOLEAN NOT NULL DEFAULT FALSE,
    mfa_secret         TEXT NOT NULL DEFAULT '',
    mfa_pending_secret TEXT NOT NULL DEFAULT '',
    failed_login_count INTEGER NOT NULL DEFAULT 0,
    locked_until       TIMESTAMPTZ,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS password_history (
    user_id    UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    hash       TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS password_history_user_idx
    ON password_history (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS backup_codes (
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    hash    BYTEA NOT NULL,
    spent   BOOLEAN NOT NULL DEFAULT FALSE,
    PRIMARY KEY (user_id, hash)
);

CREATE TABLE IF NOT EXISTS user_roles (
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role    TEXT NOT NULL,
    PRIMARY KEY (user_id, role)
);

CREATE TABLE IF NOT EXISTS external_identities (
    provider TEXT NOT NULL,
    subject  TEXT NOT NULL,
    user_id  UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    PRIMARY KEY (provider, subject)
);

CREATE TABLE IF NOT EXISTS roles (
    name        TEXT PRIMARY KEY,
    description TEXT NOT NULL DEFAULT '',
    definition  JSONB NOT NULL
);
`

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}
