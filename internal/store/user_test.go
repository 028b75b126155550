package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/dukerupert/lingo/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func setupUserTestDB(t *testing.T) *UserStore {
	t.Helper()
	return NewUserStore(openTestDB(t))
}

func createUser(t *testing.T, us *UserStore, username, email, activation string) int64 {
	t.Helper()
	u, err := us.Create(context.Background(), NewUser{
		Username:        username,
		Email:           email,
		PasswordHash:    "hash",
		ActivationToken: activation,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func TestUserCreate(t *testing.T) {
	us := setupUserTestDB(t)
	ctx := context.Background()

	u, err := us.Create(ctx, NewUser{
		Username:        "user1",
		Email:           "user1@mail.com",
		PasswordHash:    "hash",
		ActivationToken: "0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if !u.Inactive {
		t.Error("new user should be inactive")
	}
	if u.ActivationToken == nil || *u.ActivationToken != "0123456789abcdef" {
		t.Errorf("activation token = %v, want 0123456789abcdef", u.ActivationToken)
	}
	if u.PasswordResetToken != nil {
		t.Errorf("password reset token = %v, want nil", *u.PasswordResetToken)
	}
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	us := setupUserTestDB(t)
	createUser(t, us, "user1", "user1@mail.com", "a")

	_, err := us.Create(context.Background(), NewUser{
		Username: "user2", Email: "user1@mail.com", PasswordHash: "hash", ActivationToken: "b",
	})
	if err == nil {
		t.Fatal("expected error for duplicate email, got nil")
	}
}

func TestUserGetByIDNotFound(t *testing.T) {
	us := setupUserTestDB(t)

	u, err := us.GetByID(context.Background(), 999)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if u != nil {
		t.Error("expected nil for nonexistent user")
	}
}

func TestUserGetByEmail(t *testing.T) {
	us := setupUserTestDB(t)
	id := createUser(t, us, "user1", "user1@mail.com", "a")

	u, err := us.GetByEmail(context.Background(), "user1@mail.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u == nil || u.ID != id {
		t.Fatalf("got %+v, want id %d", u, id)
	}

	u, err = us.GetByEmail(context.Background(), "nobody@mail.com")
	if err != nil {
		t.Fatalf("get by email: %v", err)
	}
	if u != nil {
		t.Error("expected nil for unknown email")
	}
}

func TestUserActivateByToken(t *testing.T) {
	us := setupUserTestDB(t)
	ctx := context.Background()
	id := createUser(t, us, "user1", "user1@mail.com", "tok1")

	if u, _ := us.GetActiveByID(ctx, id); u != nil {
		t.Fatal("inactive user returned by GetActiveByID")
	}

	ok, err := us.ActivateByToken(ctx, "tok1")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !ok {
		t.Fatal("expected activation to succeed")
	}

	u, err := us.GetActiveByID(ctx, id)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if u == nil {
		t.Fatal("expected active user")
	}
	if u.ActivationToken != nil {
		t.Errorf("activation token = %q, want cleared", *u.ActivationToken)
	}

	ok, err = us.ActivateByToken(ctx, "tok1")
	if err != nil {
		t.Fatalf("second activate: %v", err)
	}
	if ok {
		t.Error("token should be single-use")
	}
}

func TestUserActivateByTokenEmpty(t *testing.T) {
	us := setupUserTestDB(t)

	ok, err := us.ActivateByToken(context.Background(), "")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if ok {
		t.Error("empty token must not activate anyone")
	}
}

func TestUserPasswordReset(t *testing.T) {
	us := setupUserTestDB(t)
	ctx := context.Background()
	id := createUser(t, us, "user1", "user1@mail.com", "act")

	if err := us.SetPasswordResetToken(ctx, id, "first"); err != nil {
		t.Fatalf("set reset token: %v", err)
	}
	if err := us.SetPasswordResetToken(ctx, id, "second"); err != nil {
		t.Fatalf("set reset token: %v", err)
	}

	if u, _ := us.GetByPasswordResetToken(ctx, "first"); u != nil {
		t.Error("replaced reset token still resolves")
	}
	u, err := us.GetByPasswordResetToken(ctx, "second")
	if err != nil {
		t.Fatalf("get by reset token: %v", err)
	}
	if u == nil || u.ID != id {
		t.Fatalf("got %+v, want id %d", u, id)
	}

	if ok, err := us.ResetPassword(ctx, id, "first", "stolen"); err != nil || ok {
		t.Fatalf("reset with replaced token = (%v, %v), want (false, nil)", ok, err)
	}
	ok, err := us.ResetPassword(ctx, id, "second", "newhash")
	if err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if !ok {
		t.Fatal("expected reset to succeed")
	}
	if ok, _ := us.ResetPassword(ctx, id, "second", "again"); ok {
		t.Error("reset token should be single-use")
	}
	u, _ = us.GetByID(ctx, id)
	if u.Password != "newhash" {
		t.Errorf("password = %q, want newhash", u.Password)
	}
	if u.Inactive {
		t.Error("reset should activate the account")
	}
	if u.PasswordResetToken != nil || u.ActivationToken != nil {
		t.Error("reset should clear both tokens")
	}
}

func TestUserUpdateUsername(t *testing.T) {
	us := setupUserTestDB(t)
	id := createUser(t, us, "user1", "user1@mail.com", "a")

	u, err := us.UpdateUsername(context.Background(), id, "renamed")
	if err != nil {
		t.Fatalf("update username: %v", err)
	}
	if u.Username != "renamed" {
		t.Errorf("username = %q, want renamed", u.Username)
	}
}

func TestUserDelete(t *testing.T) {
	us := setupUserTestDB(t)
	ctx := context.Background()
	id := createUser(t, us, "user1", "user1@mail.com", "a")

	if err := us.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	u, _ := us.GetByID(ctx, id)
	if u != nil {
		t.Error("expected nil after delete")
	}
}

func TestUserListActive(t *testing.T) {
	us := setupUserTestDB(t)
	ctx := context.Background()

	var ids []int64
	for i := 1; i <= 5; i++ {
		tok := fmt.Sprintf("tok%d", i)
		id := createUser(t, us, fmt.Sprintf("user%d", i), fmt.Sprintf("user%d@mail.com", i), tok)
		ids = append(ids, id)
		if i != 5 {
			if _, err := us.ActivateByToken(ctx, tok); err != nil {
				t.Fatalf("activate: %v", err)
			}
		}
	}

	// user5 is inactive, caller is user1.
	users, total, err := us.ListActive(ctx, ids[0], 2, 0)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(users) != 2 {
		t.Fatalf("len = %d, want 2", len(users))
	}
	if users[0].ID != ids[1] || users[1].ID != ids[2] {
		t.Errorf("page 0 = [%d %d], want [%d %d]", users[0].ID, users[1].ID, ids[1], ids[2])
	}

	users, _, err = us.ListActive(ctx, ids[0], 2, 2)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(users) != 1 || users[0].ID != ids[3] {
		t.Errorf("page 1 = %+v, want only user %d", users, ids[3])
	}
}

func TestUserStoreWithTxRollback(t *testing.T) {
	db := openTestDB(t)
	us := NewUserStore(db)
	ctx := context.Background()

	err := db.WithTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		if _, err := us.WithTx(tx).Create(ctx, NewUser{
			Username: "user1", Email: "user1@mail.com", PasswordHash: "hash", ActivationToken: "a",
		}); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	if err == nil {
		t.Fatal("expected error from tx")
	}

	u, _ := us.GetByEmail(ctx, "user1@mail.com")
	if u != nil {
		t.Error("user persisted after rollback")
	}
}
