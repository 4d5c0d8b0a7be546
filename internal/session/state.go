// Package session holds the client-side authenticated session: the in-memory
// state, the mutating operations the rest of the client uses, and the
// repositories that persist a subset of it between runs.
package session

import (
	"slices"
	"time"
)

// StorageKey is the key every repository stores the session under, suffixed
// with the namespace when one is set.
const StorageKey = "labportal-session"

// User is the identity record returned by the Authentication Service.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Username    string   `json:"username"`
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// DisplayName returns the user's full name, falling back to the username.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.LastName != "":
		return u.LastName
	}
	return u.Username
}

// HasPermission reports whether the user carries the named permission.
func (u *User) HasPermission(name string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Permissions, name)
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Permissions = slices.Clone(u.Permissions)
	return &c
}

// State is a point-in-time snapshot of the session. Snapshots are values;
// mutating one has no effect on the Store.
type State struct {
	User              *User
	Token             string
	RefreshToken      string
	TempToken         string
	PendingUsername   string
	IsAuthenticated   bool
	RequiresTwoFactor bool
	PasswordExpired   bool
	LastActivityAt    time.Time
	Pin               string
	BiometricEnabled  bool

	// Version increases by one on every mutation.
	Version uint64
}

func (s State) clone() State {
	s.User = s.User.clone()
	return s
}

// normalize re-derives IsAuthenticated from the token and 2FA flag.
func (s *State) normalize() {
	s.IsAuthenticated = s.Token != "" && !s.RequiresTwoFactor
}

// Persisted is the subset of State written to durable storage. Temp tokens,
// the 2FA flag and activity timestamps are deliberately absent so a restart
// in the middle of a 2FA flow starts over.
type Persisted struct {
	User             *User  `json:"user,omitempty"`
	Token            string `json:"token,omitempty"`
	RefreshToken     string `json:"refreshToken,omitempty"`
	IsAuthenticated  bool   `json:"isAuthenticated"`
	Pin              string `json:"pin,omitempty"`
	BiometricEnabled bool   `json:"biometricEnabled"`
}

func (s State) persisted() Persisted {
	return Persisted{
		User:             s.User.clone(),
		Token:            s.Token,
		RefreshToken:     s.RefreshToken,
		IsAuthenticated:  s.IsAuthenticated,
		Pin:              s.Pin,
		BiometricEnabled: s.BiometricEnabled,
	}
}

// rehydrate builds a State from a stored record. IsAuthenticated is never
// trusted from storage.
func (p Persisted) rehydrate() State {
	s := State{
		User:             p.User.clone(),
		Token:            p.Token,
		RefreshToken:     p.RefreshToken,
		Pin:              p.Pin,
		BiometricEnabled: p.BiometricEnabled,
	}
	s.normalize()
	return s
}
