package model

import "time"

type User struct {
	ID                 int64     `json:"id"`
	Username           string    `json:"username"`
	Email              string    `json:"email"`
	Password           string    `json:"-"`
	Inactive           bool      `json:"-"`
	ActivationToken    *string   `json:"-"`
	PasswordResetToken *string   `json:"-"`
	CreatedAt          time.Time `json:"-"`
	UpdatedAt          time.Time `json:"-"`
}

// PublicUser is the shape returned to API callers.
type PublicUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, Email: u.Email}
}

// UserPage is one page of the active-user listing.
type UserPage struct {
	Content    []PublicUser `json:"content"`
	Page       int          `json:"page"`
	Size       int          `json:"size"`
	TotalPages int          `json:"totalPages"`
}
