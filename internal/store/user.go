package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/lingo/internal/database"
	"github.com/dukerupert/lingo/internal/model"
)

type UserStore struct {
	db database.Querier
}

func NewUserStore(db database.Querier) *UserStore {
	return &UserStore{db: db}
}

// WithTx returns a copy of the store bound to tx.
func (s *UserStore) WithTx(tx database.Querier) *UserStore {
	return &UserStore{db: tx}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var activationToken, resetToken sql.NullString
	err := scanner.Scan(
		&u.ID, &u.Username, &u.Email, &u.Password, &u.Inactive,
		&activationToken, &resetToken, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if activationToken.Valid {
		u.ActivationToken = &activationToken.String
	}
	if resetToken.Valid {
		u.PasswordResetToken = &resetToken.String
	}
	return &u, nil
}

const userCols = `id, username, email, password, inactive, activation_token, password_reset_token, created_at, updated_at`

// NewUser holds the fields written at registration. Password must already be hashed.
type NewUser struct {
	Username        string
	Email           string
	PasswordHash    string
	ActivationToken string
}

// Create inserts an inactive user.
func (s *UserStore) Create(ctx context.Context, nu NewUser) (*model.User, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (username, email, password, inactive, activation_token) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		nu.Username, nu.Email, nu.PasswordHash, true, nu.ActivationToken,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) getOne(ctx context.Context, what, where string, arg any) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE `+where, arg)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by %s: %w", what, err)
	}
	return u, nil
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getOne(ctx, "id", `id = ?`, id)
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getOne(ctx, "email", `email = ?`, email)
}

// GetActiveByID returns nil for unknown and inactive users alike.
func (s *UserStore) GetActiveByID(ctx context.Context, id int64) (*model.User, error) {
	u, err := s.GetByID(ctx, id)
	if err != nil || u == nil || u.Inactive {
		return nil, err
	}
	return u, nil
}

func (s *UserStore) GetByPasswordResetToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, nil
	}
	return s.getOne(ctx, "password reset token", `password_reset_token = ?`, token)
}

// ActivateByToken activates the user holding token and clears the token.
// It reports false when no user holds it.
func (s *UserStore) ActivateByToken(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET inactive = ?, activation_token = NULL, updated_at = CURRENT_TIMESTAMP WHERE activation_token = ?`,
		false, token,
	)
	if err != nil {
		return false, fmt.Errorf("activate user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// SetPasswordResetToken replaces any outstanding reset token.
func (s *UserStore) SetPasswordResetToken(ctx context.Context, id int64, token string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_reset_token = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		token, id,
	)
	if err != nil {
		return fmt.Errorf("set password reset token: %w", err)
	}
	return nil
}

// ResetPassword stores the new hash for the user still holding resetToken,
// clears both single-use tokens and activates the account. It reports false
// when the token was already consumed or replaced.
func (s *UserStore) ResetPassword(ctx context.Context, id int64, resetToken, passwordHash string) (bool, error) {
	if resetToken == "" {
		return false, nil
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE users
		 SET password = ?, password_reset_token = NULL, activation_token = NULL, inactive = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND password_reset_token = ?`,
		passwordHash, false, id, resetToken,
	)
	if err != nil {
		return false, fmt.Errorf("reset password: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (s *UserStore) UpdateUsername(ctx context.Context, id int64, username string) (*model.User, error) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET username = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		username, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update username: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// ListActive returns one page of active users ordered by id, skipping
// excludeID, along with the total number of matching users.
func (s *UserStore) ListActive(ctx context.Context, excludeID int64, limit, offset int) ([]model.User, int, error) {
	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE inactive = ? AND id <> ?`,
		false, excludeID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users WHERE inactive = ? AND id <> ? ORDER BY id LIMIT ? OFFSET ?`,
		false, excludeID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate users: %w", err)
	}
	return users, total, nil
}
