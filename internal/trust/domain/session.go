package domain

import "time"

// SessionTokenPair is what the session token endpoint returns: a short-lived
// access token and a longer-lived refresh token, both signed claims tokens
// over the same subject.
type SessionTokenPair struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn    time.Duration `json:"expires_in"`           // access token lifetime
}
