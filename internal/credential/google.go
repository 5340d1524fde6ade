package credential

import (
	"context"

	"golang.org/x/oauth2"
)

// GoogleOAuthConfig carries the client id/secret/scopes the Google
// refresher needs, sourced from config.Config.
type GoogleOAuthConfig struct {
	ClientID     string
	ClientSecret string
	Scopes       []string
}

var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/v2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

type googleRefresher struct {
	cfg *oauth2.Config
}

// NewGoogleRefresher builds a Refresher that exchanges a refresh token for
// a new access token against Google's token endpoint.
func NewGoogleRefresher(c GoogleOAuthConfig) Refresher {
	return &googleRefresher{cfg: &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       c.Scopes,
		Endpoint:     googleEndpoint,
	}}
}

func (g *googleRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	src := g.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return src.Token()
}
