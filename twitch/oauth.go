package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/onnwee/chatmux/backend/tokens"
)

var (
	authorizeURL = "https://id.twitch.tv/oauth2/authorize"
	tokenURL     = "https://id.twitch.tv/oauth2/token" // overridden in tests
)

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	Scope        []string `json:"scope"`
	ExpiresIn    int      `json:"expires_in"`
}

// BuildAuthorizeURL constructs the user authorization URL for the OAuth code
// grant.
func BuildAuthorizeURL(clientID, redirectURI, scopes, state string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	if scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return authorizeURL + "?" + v.Encode(), nil
}

// ExchangeAuthCode exchanges an authorization code for a token record.
func ExchangeAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (tokens.Record, error) {
	if clientID == "" || clientSecret == "" || code == "" || redirectURI == "" {
		return tokens.Record{}, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", redirectURI)
	return postTokenForm(ctx, form)
}

// Exchanger returns the refresh-token grant bound to app credentials, in the
// shape the token manager registers per platform.
func Exchanger(clientID, clientSecret string) tokens.ExchangeFunc {
	return func(ctx context.Context, refreshToken string) (tokens.Record, error) {
		if clientID == "" || clientSecret == "" || refreshToken == "" {
			return tokens.Record{}, errors.New("missing clientID/clientSecret/refreshToken")
		}
		form := url.Values{}
		form.Set("client_id", clientID)
		form.Set("client_secret", clientSecret)
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
		return postTokenForm(ctx, form)
	}
}

func postTokenForm(ctx context.Context, form url.Values) (tokens.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokens.Record{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return tokens.Record{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return tokens.Record{}, fmt.Errorf("twitch token endpoint: %s: %s", resp.Status, string(b))
	}
	var res tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return tokens.Record{}, err
	}
	return tokens.Record{
		AccessToken:  res.AccessToken,
		RefreshToken: res.RefreshToken,
		ExpiresAt:    ComputeExpiry(res.ExpiresIn),
		Scope:        strings.Join(res.Scope, " "),
	}, nil
}

// ComputeExpiry returns the absolute expiry from a lifetime in seconds,
// defaulting to +60m when the endpoint omits it.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds) * time.Second)
}
