package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxChatContentLength bounds a direct chat message, in runes.
	MaxChatContentLength = 4000
	// MaxNotificationMessageLength bounds the human readable notification text, in runes.
	MaxNotificationMessageLength = 1000
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// SubscriptionIDRegex validates STOMP subscription ids chosen by clients
	SubscriptionIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:\-]+$`)
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateSubject validates an account subject used inside /user destinations.
// Subjects are emails, so the email rules apply; '/' would split the destination.
func ValidateSubject(subject string) error {
	if strings.Contains(subject, "/") {
		return fmt.Errorf("subject must not contain '/'")
	}
	if err := ValidateEmail(subject); err != nil {
		return fmt.Errorf("invalid subject: %w", err)
	}
	return nil
}

// ValidatePassword validates password
func ValidatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("password is required")
	}
	if len(password) > 72 {
		// bcrypt ignores everything past 72 bytes
		return fmt.Errorf("password is too long (max 72 bytes)")
	}
	return nil
}

// ValidateSubscriptionID validates the id header of a SUBSCRIBE frame
func ValidateSubscriptionID(id string) error {
	if id == "" {
		return fmt.Errorf("subscription id is required")
	}
	if len(id) > 128 {
		return fmt.Errorf("subscription id is too long (max 128 characters)")
	}
	if !SubscriptionIDRegex.MatchString(id) {
		return fmt.Errorf("invalid subscription id format")
	}
	return nil
}

// ValidateChatContent validates the text of a direct chat message
func ValidateChatContent(content string) error {
	if err := ValidateNonEmptyString(content, "content"); err != nil {
		return err
	}
	if !utf8.ValidString(content) {
		return fmt.Errorf("content contains invalid characters")
	}
	return ValidateStringLength(content, 1, MaxChatContentLength, "content")
}

// ValidateNotificationMessage validates the text carried by a notification event
func ValidateNotificationMessage(message string) error {
	if !utf8.ValidString(message) {
		return fmt.Errorf("message contains invalid characters")
	}
	return ValidateStringLength(message, 0, MaxNotificationMessageLength, "message")
}

// ValidateActionURL validates a notification link. Relative paths are accepted.
func ValidateActionURL(urlStr string) error {
	if urlStr == "" {
		return nil
	}
	if strings.HasPrefix(urlStr, "/") {
		if strings.HasPrefix(urlStr, "//") {
			return fmt.Errorf("action URL must not be protocol relative")
		}
		return nil
	}
	return ValidateURL(urlStr)
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid URL scheme (must be http or https)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
