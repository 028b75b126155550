// Package account implements registration, activation, login and password
// reset on top of the user and token stores.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/lingo/internal/apperr"
	"github.com/dukerupert/lingo/internal/auth"
	"github.com/dukerupert/lingo/internal/database"
	"github.com/dukerupert/lingo/internal/metrics"
	"github.com/dukerupert/lingo/internal/model"
	"github.com/dukerupert/lingo/internal/random"
	"github.com/dukerupert/lingo/internal/store"
)

// Notifier delivers activation and reset links. A returned error means the
// message was not sent.
type Notifier interface {
	SendActivation(ctx context.Context, email, token string) error
	SendPasswordReset(ctx context.Context, email, token string) error
}

// SessionListener is told after every session of a user has been revoked.
type SessionListener interface {
	SessionsRevoked(userID int64)
}

// DefaultNotifyTimeout bounds a single activation or reset mail.
const DefaultNotifyTimeout = 10 * time.Second

type Service struct {
	db            *database.DB
	users         *store.UserStore
	tokens        *store.TokenStore
	hasher        auth.Hasher
	notifier      Notifier
	notifyTimeout time.Duration
	listener      SessionListener
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

type Option func(*Service)

func WithSessionListener(l SessionListener) Option {
	return func(s *Service) {
		s.listener = l
	}
}

// WithNotifyTimeout caps how long a mail may take. Registration holds a
// transaction open while it sends.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(db *database.DB, users *store.UserStore, tokens *store.TokenStore, hasher auth.Hasher, notifier Notifier, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		db:            db,
		users:         users,
		tokens:        tokens,
		hasher:        hasher,
		notifier:      notifier,
		notifyTimeout: DefaultNotifyTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// errResetTokenUsed aborts a reset whose token was consumed or replaced
// after it was looked up.
var errResetTokenUsed = errors.New("reset token no longer valid")

type RegisterInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an inactive account and mails its activation token. The
// insert and the mail form one unit: if the mail fails the insert is rolled
// back and the error wraps apperr.ErrEmailDelivery.
func (s *Service) Register(ctx context.Context, in RegisterInput) error {
	// Runs to completion even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	if err := s.validateRegistration(ctx, in); err != nil {
		var ve *apperr.ValidationError
		if errors.As(err, &ve) {
			s.metrics.Registration(metrics.RegistrationInvalid)
		} else {
			s.metrics.Registration(metrics.RegistrationInternalError)
		}
		return err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.metrics.Registration(metrics.RegistrationInternalError)
		return err
	}
	token, err := random.String(activationSize)
	if err != nil {
		s.metrics.Registration(metrics.RegistrationInternalError)
		return fmt.Errorf("generate activation token: %w", err)
	}

	err = s.db.WithTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		u, err := s.users.WithTx(tx).Create(ctx, store.NewUser{
			Username:        in.Username,
			Email:           in.Email,
			PasswordHash:    hash,
			ActivationToken: token,
		})
		if err != nil {
			return err
		}
		err = s.deliver(ctx, func(ctx context.Context) error {
			return s.notifier.SendActivation(ctx, u.Email, token)
		})
		if err != nil {
			return fmt.Errorf("%w: %w", apperr.ErrEmailDelivery, err)
		}
		return nil
	})
	switch {
	case err == nil:
		s.metrics.Registration(metrics.RegistrationOK)
		s.logger.Info("user registered", "email", in.Email)
		return nil
	case errors.Is(err, apperr.ErrEmailDelivery):
		s.metrics.Registration(metrics.RegistrationEmailFailure)
		s.logger.Warn("activation email failed, registration rolled back", "email", in.Email, "error", err)
		return err
	default:
		s.metrics.Registration(metrics.RegistrationInternalError)
		return fmt.Errorf("register: %w", err)
	}
}

// Activate consumes an activation token.
func (s *Service) Activate(ctx context.Context, token string) error {
	ok, err := s.users.ActivateByToken(ctx, token)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrInvalidToken
	}
	return nil
}

type AuthResult struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Token    string `json:"token"`
}

// Authenticate checks credentials and issues a session token. Unknown email
// and wrong password are indistinguishable to the caller.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*AuthResult, error) {
	if !validEmail(email) {
		return nil, apperr.ErrAuthFailure
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil || !s.hasher.Compare(u.Password, password) {
		return nil, apperr.ErrAuthFailure
	}
	if u.Inactive {
		return nil, apperr.WithKey(apperr.ErrForbidden, "inactive_authentication_failure")
	}

	token, err := s.tokens.Issue(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{ID: u.ID, Username: u.Username, Token: token}, nil
}

// Logout revokes token. An empty token is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	t, err := s.tokens.Get(ctx, token)
	if err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return err
	}
	s.logger.Info("user logged out", "user_id", t.UserID)
	return nil
}

// Get returns an active user.
func (s *Service) Get(ctx context.Context, id int64) (*model.PublicUser, error) {
	u, err := s.users.GetActiveByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.ErrNotFound
	}
	pu := u.Public()
	return &pu, nil
}

// List pages through active users other than actor. Negative pages become 0
// and sizes outside 1..MaxPageSize become MaxPageSize.
func (s *Service) List(ctx context.Context, actor int64, page, size int) (*model.UserPage, error) {
	if page < 0 {
		page = 0
	}
	if size < 1 || size > MaxPageSize {
		size = MaxPageSize
	}

	users, total, err := s.users.ListActive(ctx, actor, size, page*size)
	if err != nil {
		return nil, err
	}

	content := make([]model.PublicUser, 0, len(users))
	for i := range users {
		content = append(content, users[i].Public())
	}
	return &model.UserPage{
		Content:    content,
		Page:       page,
		Size:       size,
		TotalPages: (total + size - 1) / size,
	}, nil
}

// UpdateUsername lets a user rename themselves.
func (s *Service) UpdateUsername(ctx context.Context, actor, id int64, username string) (*model.PublicUser, error) {
	if actor == 0 || actor != id {
		return nil, apperr.WithKey(apperr.ErrForbidden, "unauth_update")
	}
	var ve apperr.ValidationError
	checkUsername(&ve, username)
	if err := ve.Err(); err != nil {
		return nil, err
	}

	u, err := s.users.UpdateUsername(ctx, id, username)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, apperr.ErrNotFound
	}
	pu := u.Public()
	return &pu, nil
}

// Delete removes the actor's own account and every session it holds.
func (s *Service) Delete(ctx context.Context, actor, id int64) error {
	if actor == 0 || actor != id {
		return apperr.WithKey(apperr.ErrForbidden, "unauth_delete")
	}
	var sessions int
	err := s.db.WithTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		tokens := s.tokens.WithTx(tx)
		n, err := tokens.CountByUser(ctx, id)
		if err != nil {
			return err
		}
		sessions = n
		if err := tokens.RevokeAll(ctx, id); err != nil {
			return err
		}
		return s.users.WithTx(tx).Delete(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	s.sessionsRevoked(id)
	s.logger.Info("user deleted", "user_id", id, "sessions_revoked", sessions)
	return nil
}

// RequestReset stores a fresh reset token and mails it. The token is kept
// even when the mail fails; the next request supersedes it.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	if !validEmail(email) {
		var ve apperr.ValidationError
		ve.Add("email", "email_invalid")
		return ve.Err()
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if u == nil {
		return apperr.WithKey(apperr.ErrNotFound, "email_not_inuse")
	}

	token, err := random.String(resetSize)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	if err := s.users.SetPasswordResetToken(ctx, u.ID, token); err != nil {
		return err
	}
	err = s.deliver(ctx, func(ctx context.Context) error {
		return s.notifier.SendPasswordReset(ctx, u.Email, token)
	})
	if err != nil {
		s.logger.Warn("password reset email failed", "user_id", u.ID, "error", err)
		return fmt.Errorf("%w: %w", apperr.ErrEmailDelivery, err)
	}
	return nil
}

// CompleteReset sets a new password for the holder of resetToken, activates
// the account and revokes all of its sessions.
func (s *Service) CompleteReset(ctx context.Context, resetToken, password string) error {
	u, err := s.users.GetByPasswordResetToken(ctx, resetToken)
	if err != nil {
		return err
	}
	if u == nil {
		return apperr.WithKey(apperr.ErrForbidden, "unauth_password_reset")
	}

	var ve apperr.ValidationError
	checkPassword(&ve, password)
	if err := ve.Err(); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	err = s.db.WithTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		ok, err := s.users.WithTx(tx).ResetPassword(ctx, u.ID, resetToken, hash)
		if err != nil {
			return err
		}
		if !ok {
			return errResetTokenUsed
		}
		return s.tokens.WithTx(tx).RevokeAll(ctx, u.ID)
	})
	if errors.Is(err, errResetTokenUsed) {
		return apperr.WithKey(apperr.ErrForbidden, "unauth_password_reset")
	}
	if err != nil {
		return fmt.Errorf("complete password reset: %w", err)
	}
	s.sessionsRevoked(u.ID)
	s.logger.Info("password reset", "user_id", u.ID)
	return nil
}

// deliver runs send under the notify timeout and gives up when it expires,
// even if send ignores its context.
func (s *Service) deliver(ctx context.Context, send func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- send(ctx)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("notifier: %w", ctx.Err())
	}
}

func (s *Service) sessionsRevoked(userID int64) {
	if s.listener != nil {
		s.listener.SessionsRevoked(userID)
	}
}
