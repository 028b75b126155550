package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/lingo/internal/apperr"
	"github.com/dukerupert/lingo/internal/auth"
	"github.com/dukerupert/lingo/internal/database"
	"github.com/dukerupert/lingo/internal/model"
	"github.com/dukerupert/lingo/internal/store"
)

type fakeNotifier struct {
	mu          sync.Mutex
	fail        error
	activations map[string]string
	resets      map[string]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{activations: map[string]string{}, resets: map[string]string{}}
}

func (n *fakeNotifier) SendActivation(ctx context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.activations[email] = token
	return nil
}

func (n *fakeNotifier) SendPasswordReset(ctx context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.resets[email] = token
	return nil
}

type fakeListener struct {
	revoked []int64
}

func (l *fakeListener) SessionsRevoked(userID int64) {
	l.revoked = append(l.revoked, userID)
}

type testEnv struct {
	svc      *Service
	users    *store.UserStore
	tokens   *store.TokenStore
	notifier *fakeNotifier
	listener *fakeListener
	now      time.Time
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	env := &testEnv{
		notifier: newFakeNotifier(),
		listener: &fakeListener{},
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	env.users = store.NewUserStore(db)
	env.tokens = store.NewTokenStore(db, store.WithClock(func() time.Time { return env.now }))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.svc = New(db, env.users, env.tokens, auth.NewBcryptHasher(bcrypt.MinCost), env.notifier, logger,
		WithSessionListener(env.listener))
	return env
}

var validUser = RegisterInput{Username: "user1", Email: "user1@mail.com", Password: "P4ssword"}

// registerActive registers and activates in, returning the user id.
func (e *testEnv) registerActive(t *testing.T, in RegisterInput) int64 {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, e.svc.Register(ctx, in))
	require.NoError(t, e.svc.Activate(ctx, e.notifier.activations[in.Email]))
	u, err := e.users.GetByEmail(ctx, in.Email)
	require.NoError(t, err)
	return u.ID
}

func TestRegisterStoresInactiveUser(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Register(ctx, validUser))

	u, err := env.users.GetByEmail(ctx, validUser.Email)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "user1", u.Username)
	assert.True(t, u.Inactive)
	require.NotNil(t, u.ActivationToken)
	assert.Len(t, *u.ActivationToken, 16)
	assert.NotEqual(t, validUser.Password, u.Password)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(validUser.Password)))
	assert.Equal(t, *u.ActivationToken, env.notifier.activations[validUser.Email])
}

func TestRegisterEmailFailureRollsBack(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.notifier.fail = errors.New("smtp down")

	err := env.svc.Register(ctx, validUser)
	require.ErrorIs(t, err, apperr.ErrEmailDelivery)

	u, err := env.users.GetByEmail(ctx, validUser.Email)
	require.NoError(t, err)
	assert.Nil(t, u, "user must not persist after email failure")

	// The address is free again once mail works.
	env.notifier.fail = nil
	require.NoError(t, env.svc.Register(ctx, validUser))
}

func TestRegisterIgnoresCancellation(t *testing.T) {
	env := setup(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, env.svc.Register(ctx, validUser))
}

func TestRegisterValidation(t *testing.T) {
	env := setup(t)
	require.NoError(t, env.svc.Register(context.Background(), validUser))

	tests := []struct {
		name  string
		in    RegisterInput
		field string
		key   string
	}{
		{"username null", RegisterInput{"", "a@mail.com", "P4ssword"}, "username", "username_null"},
		{"username short", RegisterInput{"usr", "a@mail.com", "P4ssword"}, "username", "username_size"},
		{"username long", RegisterInput{"a123456789012345678901234567890bc", "a@mail.com", "P4ssword"}, "username", "username_size"},
		{"email null", RegisterInput{"user2", "", "P4ssword"}, "email", "email_null"},
		{"email invalid", RegisterInput{"user2", "mail.com", "P4ssword"}, "email", "email_invalid"},
		{"email display name", RegisterInput{"user2", "User <a@mail.com>", "P4ssword"}, "email", "email_invalid"},
		{"email in use", RegisterInput{"user2", "user1@mail.com", "P4ssword"}, "email", "email_inuse"},
		{"password null", RegisterInput{"user2", "a@mail.com", ""}, "password", "password_null"},
		{"password short", RegisterInput{"user2", "a@mail.com", "P4ssw"}, "password", "password_size"},
		{"password all lower", RegisterInput{"user2", "a@mail.com", "alllowercase"}, "password", "password_pattern"},
		{"password all upper", RegisterInput{"user2", "a@mail.com", "ALLUPPERCASE"}, "password", "password_pattern"},
		{"password no digit", RegisterInput{"user2", "a@mail.com", "lowerANDUPPER"}, "password", "password_pattern"},
		{"password no lower", RegisterInput{"user2", "a@mail.com", "UPPER4444"}, "password", "password_pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := env.svc.Register(context.Background(), tt.in)
			var ve *apperr.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.key, ve.Fields[tt.field])
		})
	}
}

func TestRegisterValidationReportsAllFields(t *testing.T) {
	env := setup(t)

	err := env.svc.Register(context.Background(), RegisterInput{})
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)

	want := map[string]string{
		"username": "username_null",
		"email":    "email_null",
		"password": "password_null",
	}
	if diff := cmp.Diff(want, ve.Fields); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}
}

func TestActivate(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	require.NoError(t, env.svc.Register(ctx, validUser))

	require.ErrorIs(t, env.svc.Activate(ctx, "wrong-token"), apperr.ErrInvalidToken)
	u, _ := env.users.GetByEmail(ctx, validUser.Email)
	assert.True(t, u.Inactive, "wrong token must not activate")
	assert.NotNil(t, u.ActivationToken)

	require.NoError(t, env.svc.Activate(ctx, env.notifier.activations[validUser.Email]))
	u, _ = env.users.GetByEmail(ctx, validUser.Email)
	assert.False(t, u.Inactive)
	assert.Nil(t, u.ActivationToken)

	require.ErrorIs(t, env.svc.Activate(ctx, env.notifier.activations[validUser.Email]), apperr.ErrInvalidToken)
}

func TestRegisterActivateAuthenticate(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	id := env.registerActive(t, validUser)

	res, err := env.svc.Authenticate(ctx, "user1@mail.com", "P4ssword")
	require.NoError(t, err)
	assert.Equal(t, id, res.ID)
	assert.Equal(t, "user1", res.Username)
	assert.Len(t, res.Token, 32)

	got, err := env.tokens.Verify(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestAuthenticateFailures(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.registerActive(t, validUser)
	require.NoError(t, env.svc.Register(ctx, RegisterInput{"user2", "user2@mail.com", "P4ssword"}))

	_, err := env.svc.Authenticate(ctx, "nobody@mail.com", "P4ssword")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)

	_, err = env.svc.Authenticate(ctx, "user1@mail.com", "Wrong1pass")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)

	_, err = env.svc.Authenticate(ctx, "not-an-email", "P4ssword")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)

	_, err = env.svc.Authenticate(ctx, "user2@mail.com", "P4ssword")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "inactive_authentication_failure", apperr.MessageKey(err))

	n, _ := env.tokens.CountByUser(ctx, 2)
	assert.Zero(t, n, "no token for inactive user")
}

func TestLogout(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.registerActive(t, validUser)
	res, err := env.svc.Authenticate(ctx, validUser.Email, validUser.Password)
	require.NoError(t, err)

	require.NoError(t, env.svc.Logout(ctx, res.Token))
	_, err = env.tokens.Verify(ctx, res.Token)
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)

	assert.NoError(t, env.svc.Logout(ctx, ""))
	assert.NoError(t, env.svc.Logout(ctx, res.Token))
}

func TestGet(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	id := env.registerActive(t, validUser)
	require.NoError(t, env.svc.Register(ctx, RegisterInput{"user2", "user2@mail.com", "P4ssword"}))
	inactive, _ := env.users.GetByEmail(ctx, "user2@mail.com")

	got, err := env.svc.Get(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff(&model.PublicUser{ID: id, Username: "user1", Email: "user1@mail.com"}, got); diff != "" {
		t.Errorf("user mismatch (-want +got):\n%s", diff)
	}

	_, err = env.svc.Get(ctx, inactive.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = env.svc.Get(ctx, 999)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestList(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	var ids []int64
	for i := 1; i <= 11; i++ {
		in := RegisterInput{
			Username: "user" + string(rune('a'+i)),
			Email:    "user" + string(rune('a'+i)) + "@mail.com",
			Password: "P4ssword",
		}
		ids = append(ids, env.registerActive(t, in))
	}
	require.NoError(t, env.svc.Register(ctx, RegisterInput{"inactive", "inactive@mail.com", "P4ssword"}))

	page, err := env.svc.List(ctx, 0, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 10, page.Size)
	assert.Equal(t, 0, page.Page)
	assert.Equal(t, 2, page.TotalPages)
	assert.Len(t, page.Content, 10)

	page, err = env.svc.List(ctx, 0, 1, 10)
	require.NoError(t, err)
	assert.Len(t, page.Content, 1)

	page, err = env.svc.List(ctx, ids[0], -5, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Page)
	assert.Equal(t, 10, page.Size)
	assert.Equal(t, 1, page.TotalPages)
	for _, u := range page.Content {
		assert.NotEqual(t, ids[0], u.ID, "caller must be excluded")
	}

	page, err = env.svc.List(ctx, 0, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalPages)
}

func TestUpdateUsername(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	id := env.registerActive(t, validUser)
	other := env.registerActive(t, RegisterInput{"user2", "user2@mail.com", "P4ssword"})

	_, err := env.svc.UpdateUsername(ctx, other, id, "hijacked")
	require.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "unauth_update", apperr.MessageKey(err))

	_, err = env.svc.UpdateUsername(ctx, 0, id, "anonymous")
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = env.svc.UpdateUsername(ctx, id, id, "abc")
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)

	got, err := env.svc.UpdateUsername(ctx, id, id, "user1-updated")
	require.NoError(t, err)
	assert.Equal(t, "user1-updated", got.Username)
}

func TestDelete(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	id := env.registerActive(t, validUser)
	other := env.registerActive(t, RegisterInput{"user2", "user2@mail.com", "P4ssword"})
	res, err := env.svc.Authenticate(ctx, validUser.Email, validUser.Password)
	require.NoError(t, err)

	err = env.svc.Delete(ctx, other, id)
	require.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "unauth_delete", apperr.MessageKey(err))

	require.NoError(t, env.svc.Delete(ctx, id, id))

	u, _ := env.users.GetByID(ctx, id)
	assert.Nil(t, u)
	n, _ := env.tokens.CountByUser(ctx, id)
	assert.Zero(t, n)
	_, err = env.tokens.Verify(ctx, res.Token)
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)
	assert.Equal(t, []int64{id}, env.listener.revoked)
}

func TestRequestReset(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	id := env.registerActive(t, validUser)

	err := env.svc.RequestReset(ctx, "nobody@mail.com")
	require.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, "email_not_inuse", apperr.MessageKey(err))

	err = env.svc.RequestReset(ctx, "not-an-email")
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "email_invalid", ve.Fields["email"])

	require.NoError(t, env.svc.RequestReset(ctx, validUser.Email))
	u, _ := env.users.GetByID(ctx, id)
	require.NotNil(t, u.PasswordResetToken)
	assert.Len(t, *u.PasswordResetToken, 16)
	assert.Equal(t, *u.PasswordResetToken, env.notifier.resets[validUser.Email])
}

func TestRequestResetEmailFailureKeepsToken(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	id := env.registerActive(t, validUser)
	env.notifier.fail = errors.New("smtp down")

	err := env.svc.RequestReset(ctx, validUser.Email)
	require.ErrorIs(t, err, apperr.ErrEmailDelivery)

	u, _ := env.users.GetByID(ctx, id)
	assert.NotNil(t, u.PasswordResetToken, "reset token persists despite mail failure")
}

func TestCompleteReset(t *testing.T) {
	env := setup(t)
	ctx := context.Background()

	// Never activated: a reset also activates.
	require.NoError(t, env.svc.Register(ctx, validUser))
	u, _ := env.users.GetByEmail(ctx, validUser.Email)
	a, err := env.tokens.Issue(ctx, u.ID)
	require.NoError(t, err)
	b, err := env.tokens.Issue(ctx, u.ID)
	require.NoError(t, err)

	require.NoError(t, env.svc.RequestReset(ctx, validUser.Email))
	resetToken := env.notifier.resets[validUser.Email]

	err = env.svc.CompleteReset(ctx, resetToken, "weak")
	var ve *apperr.ValidationError
	require.ErrorAs(t, err, &ve)

	require.NoError(t, env.svc.CompleteReset(ctx, resetToken, "N3wPassword"))

	u, _ = env.users.GetByID(ctx, u.ID)
	assert.False(t, u.Inactive)
	assert.Nil(t, u.PasswordResetToken)
	assert.Nil(t, u.ActivationToken)
	for _, tok := range []string{a, b} {
		_, err := env.tokens.Verify(ctx, tok)
		assert.ErrorIs(t, err, apperr.ErrAuthFailure)
	}
	assert.Equal(t, []int64{u.ID}, env.listener.revoked)

	_, err = env.svc.Authenticate(ctx, validUser.Email, "N3wPassword")
	assert.NoError(t, err)
	_, err = env.svc.Authenticate(ctx, validUser.Email, validUser.Password)
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)
}

func TestCompleteResetUnknownToken(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	id := env.registerActive(t, validUser)
	before, _ := env.users.GetByID(ctx, id)

	for _, tok := range []string{"", "stale-token"} {
		err := env.svc.CompleteReset(ctx, tok, "N3wPassword")
		require.ErrorIs(t, err, apperr.ErrForbidden)
		assert.Equal(t, "unauth_password_reset", apperr.MessageKey(err))
	}

	after, _ := env.users.GetByID(ctx, id)
	assert.Equal(t, before.Password, after.Password)
	assert.Empty(t, env.listener.revoked)
}

// racingHasher runs hook once, the first time a password is hashed.
type racingHasher struct {
	auth.Hasher
	fired bool
	hook  func()
}

func (h *racingHasher) Hash(plaintext string) (string, error) {
	if !h.fired {
		h.fired = true
		h.hook()
	}
	return h.Hasher.Hash(plaintext)
}

func TestCompleteResetTokenSingleUse(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	id := env.registerActive(t, validUser)
	require.NoError(t, env.svc.RequestReset(ctx, validUser.Email))
	resetToken := env.notifier.resets[validUser.Email]

	// A second completion lands between the outer lookup and its update.
	var innerErr error
	hasher := &racingHasher{Hasher: env.svc.hasher}
	hasher.hook = func() {
		innerErr = env.svc.CompleteReset(ctx, resetToken, "Inner123")
	}
	env.svc.hasher = hasher

	err := env.svc.CompleteReset(ctx, resetToken, "Outer123")
	require.NoError(t, innerErr)
	require.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, "unauth_password_reset", apperr.MessageKey(err))

	_, err = env.svc.Authenticate(ctx, validUser.Email, "Inner123")
	assert.NoError(t, err)
	_, err = env.svc.Authenticate(ctx, validUser.Email, "Outer123")
	assert.ErrorIs(t, err, apperr.ErrAuthFailure)
	assert.Equal(t, []int64{id}, env.listener.revoked)
}

func TestCompleteResetSupersededToken(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.registerActive(t, validUser)
	require.NoError(t, env.svc.RequestReset(ctx, validUser.Email))
	first := env.notifier.resets[validUser.Email]

	// A newer request replaces the token while the first completion hashes.
	hasher := &racingHasher{Hasher: env.svc.hasher}
	hasher.hook = func() {
		require.NoError(t, env.svc.RequestReset(ctx, validUser.Email))
	}
	env.svc.hasher = hasher

	err := env.svc.CompleteReset(ctx, first, "Outer123")
	require.ErrorIs(t, err, apperr.ErrForbidden)

	second := env.notifier.resets[validUser.Email]
	require.NotEqual(t, first, second)
	require.NoError(t, env.svc.CompleteReset(ctx, second, "N3wPassword"))
}

// stuckNotifier never returns from a send until release is closed,
// whatever its context says.
type stuckNotifier struct {
	release chan struct{}
}

func (n *stuckNotifier) SendActivation(ctx context.Context, email, token string) error {
	<-n.release
	return nil
}

func (n *stuckNotifier) SendPasswordReset(ctx context.Context, email, token string) error {
	<-n.release
	return nil
}

func TestRegisterStuckNotifierDoesNotBlockSessions(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	id := env.registerActive(t, RegisterInput{"user2", "user2@mail.com", "P4ssword"})
	tok, err := env.tokens.Issue(ctx, id)
	require.NoError(t, err)

	stuck := &stuckNotifier{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })
	env.svc.notifier = stuck
	env.svc.notifyTimeout = 100 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		done <- env.svc.Register(ctx, validUser)
	}()

	verified := make(chan error, 1)
	go func() {
		_, err := env.tokens.Verify(ctx, tok)
		verified <- err
	}()

	select {
	case err := <-verified:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("session verify blocked behind a pending registration email")
	}

	select {
	case err := <-done:
		require.ErrorIs(t, err, apperr.ErrEmailDelivery)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(3 * time.Second):
		t.Fatal("registration never gave up on the notifier")
	}

	u, err := env.users.GetByEmail(ctx, validUser.Email)
	require.NoError(t, err)
	assert.Nil(t, u, "timed out registration must roll back")
}

func TestRequestResetStuckNotifier(t *testing.T) {
	env := setup(t)
	ctx := context.Background()
	env.registerActive(t, validUser)

	stuck := &stuckNotifier{release: make(chan struct{})}
	t.Cleanup(func() { close(stuck.release) })
	env.svc.notifier = stuck
	env.svc.notifyTimeout = 50 * time.Millisecond

	err := env.svc.RequestReset(ctx, validUser.Email)
	require.ErrorIs(t, err, apperr.ErrEmailDelivery)
}
