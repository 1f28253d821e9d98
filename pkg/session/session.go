package session

import (
	"context"
	"time"
)

type User struct {
	ID       string         `json:"id"`
	Email    string         `json:"email,omitempty"`
	Metadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is the credential bundle owned by the platform's auth
// subsystem. This layer only observes it.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	User         User      `json:"user"`
}

func (s Session) Expired(now time.Time) bool {
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

func (s Session) Usable(now time.Time) bool {
	return s.AccessToken != "" && !s.Expired(now)
}

// Auth is the platform's authentication surface.
type Auth interface {
	// GetSession reads the locally cached session without a network round trip.
	GetSession(ctx context.Context) (Session, bool, error)
	RefreshSession(ctx context.Context) (Session, error)
	SignOut(ctx context.Context) error
}

type Status int

const (
	// StatusUnknown means the session could not be read for a transient
	// reason; callers must not sign the user out.
	StatusUnknown Status = iota
	StatusValid
	StatusAbsent
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusAbsent:
		return "absent"
	default:
		return "unknown"
	}
}
