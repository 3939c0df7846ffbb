package domain

import "errors"

var (
	ErrTokenMalformed    = errors.New("token malformed")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenBadSignature = errors.New("token signature invalid")

	// ErrUnauthenticated is the only authentication outcome visible outside the process.
	ErrUnauthenticated = errors.New("unauthenticated")

	ErrIdentityNotFound = errors.New("identity not found")
	ErrAccountNotFound  = errors.New("account not found")

	ErrUnauthorizedSend     = errors.New("unauthorized send")
	ErrInvalidDestination   = errors.New("invalid destination")
	ErrUnsupportedCommand   = errors.New("unsupported command")
	ErrNoApplicationHandler = errors.New("no handler for application destination")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExists        = errors.New("session already registered")
	ErrInvalidNotification  = errors.New("invalid notification")
)
