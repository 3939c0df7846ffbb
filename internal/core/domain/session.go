package domain

import "time"

type SessionID string

// AuthStatus is the state of a connection's authentication handshake.
type AuthStatus int

const (
	AuthAwaitingCredential AuthStatus = iota
	AuthAuthenticated
	AuthUnauthenticated
)

func (s AuthStatus) String() string {
	switch s {
	case AuthAwaitingCredential:
		return "awaiting_credential"
	case AuthAuthenticated:
		return "authenticated"
	case AuthUnauthenticated:
		return "unauthenticated"
	}
	return "unknown"
}

// Subscriber is one (session, subscription id) pair listening on a destination.
type Subscriber struct {
	SessionID      SessionID
	SubscriptionID string
}

// SessionInfo is a read-only copy of a registry entry.
type SessionInfo struct {
	ID            SessionID
	Status        AuthStatus
	Identity      *Identity
	Subscriptions map[string]string // destination -> subscription id
	ConnectedAt   time.Time
}

type RegistryStats struct {
	ActiveSessions        int `json:"active_sessions"`
	AuthenticatedSessions int `json:"authenticated_sessions"`
	AnonymousSessions     int `json:"anonymous_sessions"`
	Destinations          int `json:"destinations"`
	OnlineSubjects        int `json:"online_subjects"`
}

type Presence struct {
	Subject  string `json:"subject"`
	Online   bool   `json:"online"`
	Sessions int    `json:"sessions"`
}
