package storage

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/oauth2"
)

// === OAuth tokens ===

// LoadToken returns the stored token named name, or nil if there is none.
func (s *Storage) LoadToken(ctx context.Context, name string) (*oauth2.Token, error) {
	var (
		tok    oauth2.Token
		expiry sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expiry FROM oauth_tokens WHERE name = ?`,
		name,
	).Scan(&tok.AccessToken, &tok.RefreshToken, &tok.TokenType, &expiry)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load token %s: %w", name, err)
	}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	return &tok, nil
}

// SaveToken stores tok under name. An empty refresh token keeps the stored one,
// since refresh responses usually omit it.
func (s *Storage) SaveToken(ctx context.Context, name string, tok *oauth2.Token) error {
	var expiry sql.NullTime
	if !tok.Expiry.IsZero() {
		expiry = sql.NullTime{Time: tok.Expiry.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens (name, access_token, refresh_token, token_type, expiry, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN oauth_tokens.refresh_token ELSE excluded.refresh_token END,
			token_type = excluded.token_type,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at`,
		name, tok.AccessToken, tok.RefreshToken, tok.TokenType, expiry, s.now(),
	)
	if err != nil {
		return fmt.Errorf("save token %s: %w", name, err)
	}
	return nil
}
