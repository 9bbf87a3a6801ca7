package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents a marketplace account. The account API owns the full
// profile; this service only reads the fields it needs.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// UserSummary is the compact companion view attached to conversation
// listings.
type UserSummary struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Avatar   string    `json:"avatar,omitempty"`
}

// Summary returns the compact view of a user.
func (u *User) Summary() *UserSummary {
	return &UserSummary{ID: u.ID, Username: u.Username, Avatar: u.Avatar}
}
