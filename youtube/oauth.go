// Package youtube polls YouTube Live Chat through the Data API and
// normalizes incoming messages. Google OAuth2 client config and token
// exchange live here; persistence and refresh scheduling belong to the
// token manager.
package youtube

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/onnwee/chatmux/backend/tokens"
)

const defaultScope = "https://www.googleapis.com/auth/youtube.readonly"

// OAuthConfig builds the Google OAuth2 config for live chat reads. Scopes
// accept comma or space separation and default to read-only.
func OAuthConfig(clientID, clientSecret, redirectURL, scopes string) *oauth2.Config {
	list := []string{defaultScope}
	if scopes != "" {
		s := strings.ReplaceAll(scopes, ",", " ")
		if fields := strings.Fields(s); len(fields) > 0 {
			list = fields
		}
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURL,
		Scopes:       list,
	}
}

// AuthCodeURL returns the consent URL. Offline access with forced approval
// guarantees a refresh token on every grant.
func AuthCodeURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeAuthCode trades an authorization code for a token record.
func ExchangeAuthCode(ctx context.Context, cfg *oauth2.Config, code string) (tokens.Record, error) {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return tokens.Record{}, err
	}
	return recordFromToken(tok, ""), nil
}

// Exchanger returns the refresh-token grant in the shape the token manager
// registers per platform.
func Exchanger(cfg *oauth2.Config) tokens.ExchangeFunc {
	return func(ctx context.Context, refreshToken string) (tokens.Record, error) {
		if refreshToken == "" {
			return tokens.Record{}, errors.New("missing refresh token")
		}
		src := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
		tok, err := src.Token()
		if err != nil {
			return tokens.Record{}, err
		}
		return recordFromToken(tok, refreshToken), nil
	}
}

func recordFromToken(tok *oauth2.Token, fallbackRefresh string) tokens.Record {
	rec := tokens.Record{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = fallbackRefresh
	}
	return rec
}
