// Package models contains data structures for the application's domain models.
package models

import "time"

// User represents a registered account. Users are immutable once created.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Email        string    `gorm:"uniqueIndex;not null" json:"email"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"column:password;not null" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// PublicUser is the author projection joined onto posts.
type PublicUser struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Public returns the author projection of u.
func (u *User) Public() *PublicUser {
	if u == nil {
		return nil
	}
	return &PublicUser{ID: u.ID, Username: u.Username, Email: u.Email}
}

// TokenClaims is the identity carried inside a bearer token.
type TokenClaims struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// AuthResponse is returned by registration and login.
type AuthResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
