package auth

import "slices"

// SessionData represents the authenticated session context for a request
type SessionData struct {
	UserID      string   `json:"user_id"`
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	TokenID     string   `json:"token_id"`
}

// Can reports whether the session carries perm. Admins can do everything.
func (s *SessionData) Can(perm string) bool {
	return s.Role == "admin" || slices.Contains(s.Permissions, perm)
}
