// Package credential stores and refreshes the OAuth tokens external
// providers (Google Calendar, HR systems) need to act on a user's behalf.
// Tokens are sealed at rest with an envelope cipher and never logged or
// returned in plaintext except to the caller that just resolved them.
package credential

import "time"

// Provider names the external identity system a Credential was issued by.
type Provider string

const (
	ProviderGoogle Provider = "google"
)

// Credential is one linked identity's token set for a Provider.
// AccessTokenEnc and RefreshTokenEnc are always the sealed (encrypted) wire
// form; callers get a plaintext access token only as the string
// Store.RefreshIfNeeded returns.
type Credential struct {
	OwnerUserID     string
	OwnerEmail      string
	Provider        Provider
	AccessTokenEnc  []byte
	RefreshTokenEnc []byte
	TokenType       string
	Scope           string
	ExpiresAt       *time.Time
	UpdatedAt       time.Time
}

// refreshSkew is the fixed 60-second early-refresh window: a token within
// this many seconds of expiry is refreshed proactively rather than used
// until it 401s.
const refreshSkew = 60 * time.Second

// needsRefresh reports whether c's access token is within refreshSkew of
// expiring. A credential with no recorded expiry never needs a refresh.
func (c *Credential) needsRefresh(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !c.ExpiresAt.After(now.Add(refreshSkew))
}
