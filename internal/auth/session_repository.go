package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionRepository defines the interface for login session persistence.
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	GetByID(ctx context.Context, id string) (*Session, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	Rotate(ctx context.Context, oldID string, newSession *Session) error
	ListActiveByUser(ctx context.Context, userID string) ([]Session, error)
	CountActive(ctx context.Context) (int, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite-backed session repository.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

// Create inserts a new session. The ID is generated if empty.
func (r *SQLiteSessionRepository) Create(ctx context.Context, session *Session) error {
	if session.ID == "" {
		session.ID = "ses-" + uuid.NewString()[:16]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	session.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, user_agent, ip, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.TokenHash,
		nullString(session.UserAgent), nullString(session.IP),
		session.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(session.Revoked), now,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	return nil
}

// GetByID retrieves a session by its ID.
func (r *SQLiteSessionRepository) GetByID(ctx context.Context, id string) (*Session, error) {
	return r.getSession(ctx,
		`SELECT id, user_id, token_hash, user_agent, ip, expires_at, revoked, created_at
		 FROM sessions WHERE id = ?`, id)
}

// GetByTokenHash retrieves a session by its SHA-256 token hash.
// Used on every authenticated page request and during API refresh/logout.
func (r *SQLiteSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Session, error) {
	return r.getSession(ctx,
		`SELECT id, user_id, token_hash, user_agent, ip, expires_at, revoked, created_at
		 FROM sessions WHERE token_hash = ?`, tokenHash)
}

// Revoke marks a single session as revoked.
func (r *SQLiteSessionRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET revoked = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("revoking session: %w", err)
	}
	return nil
}

// RevokeAllForUser marks all sessions for a user as revoked.
// Used on password change, account deactivation, and token reuse detection.
func (r *SQLiteSessionRepository) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sessions SET revoked = 1 WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("revoking all sessions for user: %w", err)
	}
	return nil
}

// Rotate atomically revokes the old session and creates a new one.
// This prevents TOCTOU races during API token refresh.
func (r *SQLiteSessionRepository) Rotate(ctx context.Context, oldID string, newSession *Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is no-op after commit

	// Revoke the consumed session
	if _, err := tx.ExecContext(ctx,
		"UPDATE sessions SET revoked = 1 WHERE id = ?", oldID); err != nil {
		return fmt.Errorf("revoking old session: %w", err)
	}

	// Insert the replacement
	if newSession.ID == "" {
		newSession.ID = "ses-" + uuid.NewString()[:16]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	newSession.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, user_agent, ip, expires_at, revoked, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		newSession.ID, newSession.UserID, newSession.TokenHash,
		nullString(newSession.UserAgent), nullString(newSession.IP),
		newSession.ExpiresAt.UTC().Format(time.RFC3339),
		boolToInt(newSession.Revoked), now,
	); err != nil {
		return fmt.Errorf("creating new session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}
	return nil
}

// ListActiveByUser returns all non-revoked, non-expired sessions for a user.
func (r *SQLiteSessionRepository) ListActiveByUser(ctx context.Context, userID string) ([]Session, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, token_hash, user_agent, ip, expires_at, revoked, created_at
		 FROM sessions
		 WHERE user_id = ? AND revoked = 0 AND expires_at > ?
		 ORDER BY created_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

// CountActive returns the number of non-revoked, non-expired sessions
// across all users. Feeds the session gauge in the events sink.
func (r *SQLiteSessionRepository) CountActive(ctx context.Context) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	var count int
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sessions WHERE revoked = 0 AND expires_at > ?", now,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting active sessions: %w", err)
	}
	return count, nil
}

// DeleteExpired removes sessions that have expired, freeing storage.
// Returns the number of deleted rows.
func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"DELETE FROM sessions WHERE expires_at <= ?", now)
	if err != nil {
		return 0, fmt.Errorf("deleting expired sessions: %w", err)
	}

	count, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return count, nil
}

// getSession executes a query and scans a single session result.
func (r *SQLiteSessionRepository) getSession(ctx context.Context, query string, args ...any) (*Session, error) {
	row := r.db.QueryRowContext(ctx, query, args...)
	return scanSessionFrom(row)
}

// scanSession scans a session from sql.Rows.
func scanSession(rows *sql.Rows) (*Session, error) {
	return scanSessionFrom(rows)
}

// scanSessionFrom scans a session from any scanner (Row or Rows).
func scanSessionFrom(s scanner) (*Session, error) {
	var sess Session
	var userAgent, ip sql.NullString
	var revoked int
	var expiresAt, createdAt string

	err := s.Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &userAgent, &ip,
		&expiresAt, &revoked, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	sess.Revoked = revoked != 0
	if userAgent.Valid {
		sess.UserAgent = userAgent.String
	}
	if ip.Valid {
		sess.IP = ip.String
	}
	sess.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt) //nolint:errcheck // format is controlled
	sess.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled

	return &sess, nil
}
