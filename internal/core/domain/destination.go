package domain

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	TopicPrefix = "/topic/"
	QueuePrefix = "/queue/"
	UserPrefix  = "/user/"
	AppPrefix   = "/app/"

	// NotificationsPath is the user-relative queue every notification lands on.
	NotificationsPath = "/queue/notifications"
	// MessagesPath is the user-relative queue for direct chat messages.
	MessagesPath = "/queue/messages"
)

type DestinationKind int

const (
	DestinationTopic DestinationKind = iota + 1
	DestinationQueue
	DestinationUser
	DestinationApp
)

func (k DestinationKind) String() string {
	switch k {
	case DestinationTopic:
		return "topic"
	case DestinationQueue:
		return "queue"
	case DestinationUser:
		return "user"
	case DestinationApp:
		return "app"
	}
	return "unknown"
}

// Broadcast reports whether messages for this kind fan out to subscribers.
func (k DestinationKind) Broadcast() bool {
	return k == DestinationTopic || k == DestinationQueue
}

type Destination struct {
	Raw  string
	Kind DestinationKind
}

func ParseDestination(raw string) (Destination, error) {
	if raw == "" {
		return Destination{}, fmt.Errorf("%w: empty", ErrInvalidDestination)
	}
	if strings.IndexFunc(raw, unicode.IsSpace) >= 0 {
		return Destination{}, fmt.Errorf("%w: %q contains whitespace", ErrInvalidDestination, raw)
	}

	var kind DestinationKind
	var rest string
	switch {
	case strings.HasPrefix(raw, TopicPrefix):
		kind, rest = DestinationTopic, raw[len(TopicPrefix):]
	case strings.HasPrefix(raw, QueuePrefix):
		kind, rest = DestinationQueue, raw[len(QueuePrefix):]
	case strings.HasPrefix(raw, UserPrefix):
		kind, rest = DestinationUser, raw[len(UserPrefix):]
	case strings.HasPrefix(raw, AppPrefix):
		kind, rest = DestinationApp, raw[len(AppPrefix):]
	default:
		return Destination{}, fmt.Errorf("%w: %q has no known prefix", ErrInvalidDestination, raw)
	}
	if rest == "" || strings.HasPrefix(rest, "/") {
		return Destination{}, fmt.Errorf("%w: %q has an empty segment", ErrInvalidDestination, raw)
	}

	return Destination{Raw: raw, Kind: kind}, nil
}

// UserTarget splits /user/{subject}/{path...} into the subject and the
// remaining path (with its leading slash).
func (d Destination) UserTarget() (subject, path string, err error) {
	if d.Kind != DestinationUser {
		return "", "", fmt.Errorf("%w: %q is not a user destination", ErrInvalidDestination, d.Raw)
	}
	rest := d.Raw[len(UserPrefix):]
	idx := strings.Index(rest, "/")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("%w: %q does not name a subject and a path", ErrInvalidDestination, d.Raw)
	}
	return rest[:idx], rest[idx:], nil
}

// AppPath returns the handler key of an /app destination, e.g. "chat" for /app/chat.
func (d Destination) AppPath() string {
	if d.Kind != DestinationApp {
		return ""
	}
	return d.Raw[len(AppPrefix):]
}

// UserDestination addresses path on the private queue of subject.
func UserDestination(subject, path string) string {
	return UserPrefix + subject + path
}

// UserRelative is the form a session subscribes with to receive messages
// sent to UserDestination(self, path).
func UserRelative(path string) string {
	return "/user" + path
}
