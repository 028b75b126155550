package model

import "time"

// Token is a bearer session. It is valid while LastUsedAt is inside the
// session window; rows past the window are dead even before the sweeper
// removes them.
type Token struct {
	ID         int64     `json:"id"`
	Token      string    `json:"token"`
	UserID     int64     `json:"user_id"`
	LastUsedAt time.Time `json:"last_used_at"`
}
