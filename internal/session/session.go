// Package session owns the authenticated session for the sync client.
//
// Exactly one session is live per client process. All other components read
// it through the Store; only the login/logout flow writes it.
package session

import "time"

// Role of the authenticated user.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is the identity record carried by a session.
type User struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	DisplayName string `json:"displayName"`
	Banned      bool   `json:"banned,omitempty"`
}

// Session is the authenticated identity and token governing which data the
// client may fetch or subscribe to.
type Session struct {
	Token     string     `json:"token"`
	User      User       `json:"user"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Expired reports whether the session carries an expiry in the past.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}
