package domain

import "time"

// Role of an account, ordered from least to most privileged.
type Role string

const (
	RoleGuest Role = "guest"
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Roles lists all valid roles in privilege order.
var Roles = []Role{RoleGuest, RoleUser, RoleAdmin}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return roleIndex(r) >= 0
}

// AtLeast reports whether the role grants at least the privileges of other.
func (r Role) AtLeast(other Role) bool {
	return roleIndex(r) >= roleIndex(other)
}

func roleIndex(r Role) int {
	for i, known := range Roles {
		if r == known {
			return i
		}
	}
	return -1
}

// Provider identifies the credential source of an account.
type Provider string

const (
	ProviderLocal    Provider = "local"
	ProviderFacebook Provider = "facebook"
	ProviderGoogle   Provider = "google"
	ProviderTwitter  Provider = "twitter"
	ProviderGithub   Provider = "github"
)

// External reports whether credentials are held by a third party rather
// than stored locally. External accounts carry no password or salt and
// may omit email.
func (p Provider) External() bool {
	switch p {
	case ProviderFacebook, ProviderGoogle, ProviderTwitter, ProviderGithub:
		return true
	}
	return false
}

// User represents an account.
type User struct {
	ID           string
	Name         string
	Email        string
	Role         Role
	Provider     Provider
	PasswordHash string
	Salt         string

	// ExternalID and RawProfile are populated only for external providers:
	// the third party's stable id and the profile payload exactly as received.
	ExternalID string
	RawProfile []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile is the reduced public view of a user. It never carries
// credentials or internal identifiers.
type Profile struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Profile returns the public projection of the user.
func (u *User) Profile() Profile {
	return Profile{Name: u.Name, Role: u.Role}
}

// Sanitized returns a copy with credential material removed. Everything
// handed out past the service boundary goes through this.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.PasswordHash = ""
	clone.Salt = ""
	return &clone
}
