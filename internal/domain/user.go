package domain

import "time"

type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	TenantID int64  `json:"empresa_id"`
}

// Session is the credential returned by a password sign-in. It is persisted
// locally as-is.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         User   `json:"user"`
}

// Valid reports whether the session carries a token that has not expired at
// now. A zero ExpiresAt means the backend did not say.
func (s Session) Valid(now time.Time) bool {
	if s.AccessToken == "" {
		return false
	}
	return s.ExpiresAt == 0 || now.Unix() < s.ExpiresAt
}
