package session

import "time"

// Session holds the tokens obtained from the authorization server for one
// browser. The JSON shape is the cookie payload; field names are part of
// the stored-cookie contract.
type Session struct {
	ID           string `json:"id"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresAt    int64  `json:"expiresAt"` // epoch milliseconds
	TokenType    string `json:"tokenType"`
	CSRFToken    string `json:"csrfToken,omitempty"`
	Fingerprint  string `json:"fingerprint,omitempty"`
	User         User   `json:"user,omitzero"`
}

// Expired reports whether the access token has passed its expiry. There is
// no clock-skew grace period.
func (s Session) Expired(now time.Time) bool {
	return now.UnixMilli() >= s.ExpiresAt
}

// User is the identity snapshot taken from a verified ID token at login.
// The resource server's user-info endpoint remains authoritative; this is
// only what the provider asserted at issuance.
type User struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	Name        string   `json:"name"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}
