package domain

import "strings"

type AccountType string

const (
	AccountPlayer       AccountType = "PLAYER"
	AccountOrganization AccountType = "ORGANIZATION"
	AccountSpectator    AccountType = "SPECTATOR"
)

// NormalizeSubject is the comparison form of a subject: emails match
// case-insensitively and surrounding space is ignored.
func NormalizeSubject(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}

func (t AccountType) Valid() bool {
	switch t {
	case AccountPlayer, AccountOrganization, AccountSpectator:
		return true
	}
	return false
}

// Authority returns the role granted to every account of this type.
func (t AccountType) Authority() string {
	return "ROLE_" + string(t)
}

const RoleSystem = "ROLE_SYSTEM"

// Account is the record kept by the external account stores.
type Account struct {
	ID           int64       `json:"id"`
	Subject      string      `json:"subject"`
	Type         AccountType `json:"type"`
	DisplayName  string      `json:"display_name"`
	PasswordHash string      `json:"password_hash,omitempty"`
	Roles        []string    `json:"roles,omitempty"`
}

// Identity is the resolved principal bound to a connection. It is never
// mutated after resolution; use the accessors to read it.
type Identity struct {
	Subject     string
	AccountID   int64
	AccountType AccountType
	DisplayName string
	authorities map[string]struct{}
}

func NewIdentity(subject string, accountID int64, accountType AccountType, displayName string, authorities ...string) *Identity {
	set := make(map[string]struct{}, len(authorities))
	for _, a := range authorities {
		a = strings.TrimSpace(a)
		if a != "" {
			set[a] = struct{}{}
		}
	}
	return &Identity{
		Subject:     subject,
		AccountID:   accountID,
		AccountType: accountType,
		DisplayName: displayName,
		authorities: set,
	}
}

func (i *Identity) HasAuthority(authority string) bool {
	if i == nil {
		return false
	}
	_, ok := i.authorities[authority]
	return ok
}

// Authorities returns a copy of the authority set.
func (i *Identity) Authorities() []string {
	if i == nil {
		return nil
	}
	out := make([]string, 0, len(i.authorities))
	for a := range i.authorities {
		out = append(out, a)
	}
	return out
}
