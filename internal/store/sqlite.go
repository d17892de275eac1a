package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite persists states and installations in a SQLite database. Atomicity
// for Consume comes from running the check-and-delete as a single DELETE
// statement; SQLite serializes writers, so racing callers cannot both see the
// row.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and creates if needed) the database at path and ensures
// required tables exist.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oauth_state (
  state        TEXT PRIMARY KEY,
  redirect_uri TEXT,
  created_at   TEXT NOT NULL,
  expires_at   TEXT NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS installations (
  team_id       TEXT NOT NULL,
  enterprise_id TEXT NOT NULL DEFAULT '',
  bot_token     TEXT NOT NULL,
  bot_user_id   TEXT NOT NULL,
  user_token    TEXT,
  user_id       TEXT,
  scopes        TEXT NOT NULL DEFAULT '',
  installed_at  TEXT NOT NULL,
  PRIMARY KEY (team_id, enterprise_id)
);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}

// Put stores a state token.
func (s *SQLite) Put(ctx context.Context, state OAuthState) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO oauth_state(state, redirect_uri, created_at, expires_at)
VALUES(?, ?, ?, ?);
`, state.State, state.RedirectURI,
		state.CreatedAt.UTC().Format(time.RFC3339Nano),
		state.ExpiresAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: put oauth state: %v", ErrUnavailable, err)
	}
	return nil
}

// Consume atomically checks and deletes a state token. RFC 3339 timestamps
// sort lexicographically, so the expiry comparison happens inside the DELETE.
func (s *SQLite) Consume(ctx context.Context, state string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM oauth_state WHERE state = ? AND expires_at > ?;", state, now)
	if err != nil {
		return false, fmt.Errorf("%w: consume oauth state: %v", ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: consume oauth state: %v", ErrUnavailable, err)
	}

	// Sweep the expired row if the guarded delete left it behind.
	if n == 0 {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM oauth_state WHERE state = ?;", state)
	}
	return n == 1, nil
}

// Save upserts an installation under its composite team key.
func (s *SQLite) Save(ctx context.Context, inst *Installation) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO installations(team_id, enterprise_id, bot_token, bot_user_id, user_token, user_id, scopes, installed_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(team_id, enterprise_id) DO UPDATE SET
  bot_token    = excluded.bot_token,
  bot_user_id  = excluded.bot_user_id,
  user_token   = excluded.user_token,
  user_id      = excluded.user_id,
  scopes       = excluded.scopes,
  installed_at = excluded.installed_at;
`, inst.TeamID, inst.EnterpriseID, inst.BotToken, inst.BotUserID,
		inst.UserToken, inst.UserID, strings.Join(inst.Scopes, ","),
		inst.InstalledAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: save installation: %v", ErrUnavailable, err)
	}
	return nil
}

// Find returns the installation for a team, or nil if none exists.
func (s *SQLite) Find(ctx context.Context, teamID, enterpriseID string) (*Installation, error) {
	var inst Installation
	var scopes, installedAt string
	var userToken, userID sql.NullString

	err := s.db.QueryRowContext(ctx, `
SELECT team_id, enterprise_id, bot_token, bot_user_id, user_token, user_id, scopes, installed_at
FROM installations WHERE team_id = ? AND enterprise_id = ?;
`, teamID, enterpriseID).Scan(
		&inst.TeamID, &inst.EnterpriseID, &inst.BotToken, &inst.BotUserID,
		&userToken, &userID, &scopes, &installedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find installation: %v", ErrUnavailable, err)
	}

	inst.UserToken = userToken.String
	inst.UserID = userID.String
	if scopes != "" {
		inst.Scopes = strings.Split(scopes, ",")
	}
	if ts, err := time.Parse(time.RFC3339Nano, installedAt); err == nil {
		inst.InstalledAt = ts
	}
	return &inst, nil
}

// Delete removes a team's installation.
func (s *SQLite) Delete(ctx context.Context, teamID, enterpriseID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM installations WHERE team_id = ? AND enterprise_id = ?;", teamID, enterpriseID)
	if err != nil {
		return fmt.Errorf("%w: delete installation: %v", ErrUnavailable, err)
	}
	return nil
}
