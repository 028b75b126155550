package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/lingo/internal/apperr"
	"github.com/dukerupert/lingo/internal/database"
	"github.com/dukerupert/lingo/internal/model"
	"github.com/dukerupert/lingo/internal/random"
)

const (
	// DefaultSessionTTL is how long a token stays valid after its last use.
	DefaultSessionTTL = 7 * 24 * time.Hour

	tokenLength = 32
)

// TokenStore owns bearer session rows. Expiry is enforced when a token is
// verified; DeleteExpired only reclaims space.
type TokenStore struct {
	db  database.Querier
	ttl time.Duration
	now func() time.Time
}

type TokenOption func(*TokenStore)

func WithSessionTTL(d time.Duration) TokenOption {
	return func(s *TokenStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) TokenOption {
	return func(s *TokenStore) {
		s.now = now
	}
}

func NewTokenStore(db database.Querier, opts ...TokenOption) *TokenStore {
	s := &TokenStore{
		db:  db,
		ttl: DefaultSessionTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithTx returns a copy of the store bound to tx.
func (s *TokenStore) WithTx(tx database.Querier) *TokenStore {
	cp := *s
	cp.db = tx
	return &cp
}

func (s *TokenStore) TTL() time.Duration {
	return s.ttl
}

func scanToken(scanner interface{ Scan(...any) error }) (*model.Token, error) {
	var t model.Token
	err := scanner.Scan(&t.ID, &t.Token, &t.UserID, &t.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

const tokenCols = `id, token, user_id, last_used_at`

// Issue creates a session for userID and returns its token.
func (s *TokenStore) Issue(ctx context.Context, userID int64) (string, error) {
	token, err := random.String(tokenLength)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tokens (token, user_id, last_used_at) VALUES (?, ?, ?)`,
		token, userID, s.now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert token: %w", err)
	}
	return token, nil
}

// Verify returns the owner of token and slides its last use forward to now.
// Absent and stale tokens both yield apperr.ErrAuthFailure. The refresh only
// ever moves last_used_at forward, so concurrent verifies cannot rewind it.
func (s *TokenStore) Verify(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, apperr.ErrAuthFailure
	}
	now := s.now().UTC()
	cutoff := now.Add(-s.ttl)

	var userID int64
	err := s.db.QueryRowContext(ctx,
		`UPDATE tokens
		 SET last_used_at = CASE WHEN last_used_at < ? THEN ? ELSE last_used_at END
		 WHERE token = ? AND last_used_at > ?
		 RETURNING user_id`,
		now, now, token, cutoff,
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.ErrAuthFailure
	}
	if err != nil {
		return 0, fmt.Errorf("verify token: %w", err)
	}
	return userID, nil
}

// Get returns the raw row for token regardless of age, or nil if absent.
func (s *TokenStore) Get(ctx context.Context, token string) (*model.Token, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+tokenCols+` FROM tokens WHERE token = ?`, token)
	t, err := scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return t, nil
}

// Revoke deletes token. Unknown tokens are not an error.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	return nil
}

// RevokeAll deletes every token owned by userID.
func (s *TokenStore) RevokeAll(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete tokens by user: %w", err)
	}
	return nil
}

// DeleteExpired removes tokens unused for longer than the session TTL as of now.
func (s *TokenStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-s.ttl)
	result, err := s.db.ExecContext(ctx, `DELETE FROM tokens WHERE last_used_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

func (s *TokenStore) CountByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tokens WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count tokens: %w", err)
	}
	return n, nil
}
