// Package db provides the Postgres connection, the schema for stored OAuth
// tokens, and the TokenStore that reads and writes them.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'
)

// Connect opens a Postgres pool for dsn and verifies it answers.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("db: empty DSN")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	return database, nil
}

// Migrate applies idempotent schema changes.
func Migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			encryption_version INTEGER DEFAULT 0
		)`,
		`ALTER TABLE oauth_tokens ADD COLUMN IF NOT EXISTS encryption_version INTEGER DEFAULT 0`,
	}
	for i, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// Token is one stored OAuth credential.
type Token struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
	UpdatedAt    time.Time
}

// TokenStore persists tokens in oauth_tokens. With a Sealer the access and
// refresh tokens are encrypted (encryption_version=1); rows written without
// one stay readable as plaintext (version 0).
type TokenStore struct {
	db     *sql.DB
	sealer *Sealer
}

// NewTokenStore returns a store over db. A nil or empty key stores plaintext.
func NewTokenStore(db *sql.DB, key []byte) (*TokenStore, error) {
	ts := &TokenStore{db: db}
	if len(key) == 0 {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext", slog.String("component", "db"))
		return ts, nil
	}
	s, err := NewSealer(key)
	if err != nil {
		return nil, err
	}
	ts.sealer = s
	return ts, nil
}

// Ping checks database connectivity.
func (ts *TokenStore) Ping(ctx context.Context) error { return ts.db.PingContext(ctx) }

// Upsert stores or replaces the token for t.Provider.
func (ts *TokenStore) Upsert(ctx context.Context, t Token) error {
	if t.Provider == "" {
		return errors.New("db: token provider empty")
	}
	version := 0
	access, refresh := t.AccessToken, t.RefreshToken
	if ts.sealer != nil {
		version = 1
		var err error
		if access, err = ts.sealer.Seal(access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = ts.sealer.Seal(refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    encryption_version=EXCLUDED.encryption_version,
		    updated_at=NOW()`
	_, err := ts.db.ExecContext(ctx, q, t.Provider, access, refresh, t.Expiry, t.Scope, version)
	return err
}

// Get returns the token for provider; ok is false when none is stored.
func (ts *TokenStore) Get(ctx context.Context, provider string) (tok Token, ok bool, err error) {
	var (
		version int
		expiry  sql.NullTime
		updated sql.NullTime
		scope   sql.NullString
	)
	row := ts.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, updated_at, COALESCE(encryption_version, 0)
		 FROM oauth_tokens WHERE provider = $1`, provider)
	err = row.Scan(&tok.AccessToken, &tok.RefreshToken, &expiry, &scope, &updated, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	tok.Provider = provider
	tok.Expiry = expiry.Time
	tok.UpdatedAt = updated.Time
	tok.Scope = scope.String

	if version == 1 {
		if ts.sealer == nil {
			return Token{}, false, errors.New("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if tok.AccessToken, err = ts.sealer.Open(tok.AccessToken); err != nil {
			return Token{}, false, fmt.Errorf("decrypt access token: %w", err)
		}
		if tok.RefreshToken, err = ts.sealer.Open(tok.RefreshToken); err != nil {
			return Token{}, false, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return tok, true, nil
}

// EncryptPlaintext seals every plaintext (version 0) row with the store's key.
// With dryRun it only counts them. It returns the number of rows found.
func (ts *TokenStore) EncryptPlaintext(ctx context.Context, dryRun bool) (int, error) {
	if ts.sealer == nil && !dryRun {
		return 0, errors.New("ENCRYPTION_KEY is required to encrypt stored tokens")
	}
	rows, err := ts.db.QueryContext(ctx,
		`SELECT provider, COALESCE(access_token, ''), COALESCE(refresh_token, '')
		 FROM oauth_tokens WHERE COALESCE(encryption_version, 0) = 0 ORDER BY provider`)
	if err != nil {
		return 0, fmt.Errorf("query plaintext tokens: %w", err)
	}
	type plain struct{ provider, access, refresh string }
	var found []plain
	for rows.Next() {
		var p plain
		if err := rows.Scan(&p.provider, &p.access, &p.refresh); err != nil {
			_ = rows.Close()
			return 0, fmt.Errorf("scan token row: %w", err)
		}
		found = append(found, p)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate token rows: %w", err)
	}
	if dryRun {
		for _, p := range found {
			slog.Info("would encrypt token (dry-run)", slog.String("provider", p.provider))
		}
		return len(found), nil
	}

	var failed int
	for _, p := range found {
		if err := ts.sealRow(ctx, p.provider, p.access, p.refresh); err != nil {
			slog.Error("failed to encrypt token", slog.String("provider", p.provider), slog.Any("err", err))
			failed++
			continue
		}
		slog.Info("encrypted token", slog.String("provider", p.provider))
	}
	if failed > 0 {
		return len(found), fmt.Errorf("encrypt tokens: %d of %d failed", failed, len(found))
	}
	return len(found), nil
}

func (ts *TokenStore) sealRow(ctx context.Context, provider, access, refresh string) error {
	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if access, err = ts.sealer.Seal(access); err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	if refresh, err = ts.sealer.Seal(refresh); err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE oauth_tokens SET access_token=$1, refresh_token=$2, encryption_version=1, updated_at=NOW()
		 WHERE provider=$3 AND COALESCE(encryption_version, 0) = 0`, access, refresh, provider)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (token modified concurrently?)", n)
	}
	return tx.Commit()
}
