package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AccountRepository defines the interface for linked OAuth account persistence.
type AccountRepository interface {
	Upsert(ctx context.Context, account *Account) error
	GetByProviderAccount(ctx context.Context, provider, providerAccountID string) (*Account, error)
	ListByUser(ctx context.Context, userID string) ([]Account, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// SQLiteAccountRepository implements AccountRepository using SQLite.
type SQLiteAccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new SQLite-backed account repository.
func NewAccountRepository(db *sql.DB) *SQLiteAccountRepository {
	return &SQLiteAccountRepository{db: db}
}

// Upsert inserts a linked account, or refreshes its tokens if the
// (provider, provider_account_id) pair already exists. Providers hand
// out new access tokens on every sign-in, so the update path is the
// common one after first link.
func (r *SQLiteAccountRepository) Upsert(ctx context.Context, account *Account) error {
	if account.ID == "" {
		account.ID = "acc-" + uuid.NewString()[:8]
	}

	now := time.Now().UTC().Format(time.RFC3339)
	account.CreatedAt, _ = time.Parse(time.RFC3339, now) //nolint:errcheck // format is controlled
	account.UpdatedAt = account.CreatedAt

	var expiresAt sql.NullString
	if !account.ExpiresAt.IsZero() {
		expiresAt = sql.NullString{String: account.ExpiresAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, provider, provider_account_id, access_token, refresh_token, token_type, scope, expires_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(provider, provider_account_id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   token_type = excluded.token_type,
		   scope = excluded.scope,
		   expires_at = excluded.expires_at,
		   updated_at = excluded.updated_at`,
		account.ID, account.UserID, account.Provider, account.ProviderAccountID,
		account.AccessToken, nullString(account.RefreshToken),
		nullString(account.TokenType), nullString(account.Scope),
		expiresAt, now, now,
	)
	if err != nil {
		return fmt.Errorf("upserting account: %w", err)
	}

	return nil
}

// GetByProviderAccount retrieves a linked account by provider and the
// provider's stable account identifier.
func (r *SQLiteAccountRepository) GetByProviderAccount(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, provider, provider_account_id, access_token, refresh_token, token_type, scope, expires_at, created_at, updated_at
		 FROM accounts WHERE provider = ? AND provider_account_id = ?`,
		provider, providerAccountID)
	return scanAccountFrom(row)
}

// ListByUser returns all linked accounts for a user.
func (r *SQLiteAccountRepository) ListByUser(ctx context.Context, userID string) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, provider, provider_account_id, access_token, refresh_token, token_type, scope, expires_at, created_at, updated_at
		 FROM accounts WHERE user_id = ? ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		a, err := scanAccountFrom(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating accounts: %w", err)
	}

	if accounts == nil {
		accounts = []Account{}
	}
	return accounts, nil
}

// DeleteByUser removes all linked accounts for a user.
func (r *SQLiteAccountRepository) DeleteByUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM accounts WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("deleting accounts for user: %w", err)
	}
	return nil
}

// scanAccountFrom scans an account from any scanner (Row or Rows).
func scanAccountFrom(s scanner) (*Account, error) {
	var a Account
	var refreshToken, tokenType, scope, expiresAt sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&a.ID, &a.UserID, &a.Provider, &a.ProviderAccountID,
		&a.AccessToken, &refreshToken, &tokenType, &scope, &expiresAt,
		&createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scanning account: %w", err)
	}

	if refreshToken.Valid {
		a.RefreshToken = refreshToken.String
	}
	if tokenType.Valid {
		a.TokenType = tokenType.String
	}
	if scope.Valid {
		a.Scope = scope.String
	}
	if expiresAt.Valid {
		a.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt.String) //nolint:errcheck // format is controlled
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &a, nil
}
