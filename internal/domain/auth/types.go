package auth

// Package auth contains domain-level types for identity sessions and their change events.
// It is pure and free of framework/adapter concerns.

import "time"

// Identity represents the authenticated principal returned by an IdP.
// Adapters map provider-specific claims into this shape.
type Identity struct {
	UserID string // stable subject identifier (sub)
	Email  string // optional
}

// Credentials is the opaque bearer/refresh pair issued by the remote provider.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
}

// Complete reports whether both halves of the pair are present.
func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// ExpiresWithin reports whether the access token expires inside the given margin.
// A zero ExpiresAt means the provider did not say; such credentials never expire locally.
func (c Credentials) ExpiresWithin(now time.Time, margin time.Duration) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(margin).Before(c.ExpiresAt)
}

// Session is the identity session persisted on the device and published to subscribers.
// A published Session always has both credentials set.
type Session struct {
	UserID      string      `json:"user_id"`
	Email       string      `json:"email,omitempty"`
	Credentials Credentials `json:"credentials"`
}

// NewSession combines an identity and a credential pair.
func NewSession(id Identity, creds Credentials) Session {
	return Session{UserID: id.UserID, Email: id.Email, Credentials: creds}
}

// Valid reports whether the session is fully populated.
func (s Session) Valid() bool {
	return s.UserID != "" && s.Credentials.Complete()
}

// Identity returns the principal portion of the session.
func (s Session) Identity() Identity {
	return Identity{UserID: s.UserID, Email: s.Email}
}

// Grant is what an IdP returns from a code exchange or refresh.
type Grant struct {
	Identity    Identity
	Credentials Credentials
}

// EventKind classifies a change on the provider's auth-state stream.
type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventSignedOut      EventKind = "SIGNED_OUT"
)

// ChangeEvent is a single transition on the provider's auth-state stream.
// Session is nil for signed-out states.
type ChangeEvent struct {
	Kind    EventKind
	Session *Session
}

// SubjectID returns the subject of the event's session, or "" when signed out.
func (e ChangeEvent) SubjectID() string {
	if e.Session == nil {
		return ""
	}
	return e.Session.UserID
}
