package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type NotificationKind string

const (
	NotificationTeamInviteReceived NotificationKind = "TEAM_INVITE_RECEIVED"
	NotificationTeamInviteAccepted NotificationKind = "TEAM_INVITE_ACCEPTED"
	NotificationTeamInviteRejected NotificationKind = "TEAM_INVITE_REJECTED"
	NotificationNewFollower        NotificationKind = "NEW_FOLLOWER"
	NotificationPostLiked          NotificationKind = "POST_LIKED"
	NotificationGameInviteReceived NotificationKind = "GAME_INVITE_RECEIVED"
	NotificationGameInviteAccepted NotificationKind = "GAME_INVITE_ACCEPTED"
	NotificationGameInviteRejected NotificationKind = "GAME_INVITE_REJECTED"
	NotificationTeamMemberJoined   NotificationKind = "TEAM_MEMBER_JOINED"
	NotificationTeamMemberLeft     NotificationKind = "TEAM_MEMBER_LEFT"
	NotificationTeamMemberRemoved  NotificationKind = "TEAM_MEMBER_REMOVED"
	NotificationSystemAnnouncement NotificationKind = "SYSTEM_ANNOUNCEMENT"
)

var notificationKinds = map[NotificationKind]struct{}{
	NotificationTeamInviteReceived: {},
	NotificationTeamInviteAccepted: {},
	NotificationTeamInviteRejected: {},
	NotificationNewFollower:        {},
	NotificationPostLiked:          {},
	NotificationGameInviteReceived: {},
	NotificationGameInviteAccepted: {},
	NotificationGameInviteRejected: {},
	NotificationTeamMemberJoined:   {},
	NotificationTeamMemberLeft:     {},
	NotificationTeamMemberRemoved:  {},
	NotificationSystemAnnouncement: {},
}

func (k NotificationKind) Valid() bool {
	_, ok := notificationKinds[k]
	return ok
}

// NotificationEvent is a domain event addressed to one account. Persistence
// belongs to the caller; this core only delivers it live.
type NotificationEvent struct {
	ID               string           `json:"id"`
	RecipientSubject string           `json:"recipient_subject"`
	RecipientType    AccountType      `json:"recipient_type"`
	SenderSubject    string           `json:"sender_subject,omitempty"`
	SenderType       AccountType      `json:"sender_type,omitempty"`
	Kind             NotificationKind `json:"kind"`
	Message          string           `json:"message"`
	Metadata         json.RawMessage  `json:"metadata,omitempty"`
	ActionURL        string           `json:"action_url,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

func (e NotificationEvent) Validate() error {
	if strings.TrimSpace(e.RecipientSubject) == "" {
		return fmt.Errorf("%w: recipient_subject is required", ErrInvalidNotification)
	}
	if strings.Contains(e.RecipientSubject, "/") {
		return fmt.Errorf("%w: recipient_subject must not contain '/'", ErrInvalidNotification)
	}
	if e.RecipientType != "" && !e.RecipientType.Valid() {
		return fmt.Errorf("%w: unknown recipient_type %q", ErrInvalidNotification, e.RecipientType)
	}
	if e.SenderType != "" && !e.SenderType.Valid() {
		return fmt.Errorf("%w: unknown sender_type %q", ErrInvalidNotification, e.SenderType)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidNotification, e.Kind)
	}
	if len(e.Metadata) > 0 && !json.Valid(e.Metadata) {
		return fmt.Errorf("%w: metadata is not valid JSON", ErrInvalidNotification)
	}
	return nil
}
