package twitch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/onnwee/chatmux/backend/connector"
)

func TestBuildAuthorizeURL(t *testing.T) {
	u, err := BuildAuthorizeURL("cid", "http://localhost/cb", "chat:read,chat:edit", "state123")
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := url.Parse(u)
	if err != nil {
		t.Fatal(err)
	}
	q := parsed.Query()
	if q.Get("client_id") != "cid" || q.Get("response_type") != "code" || q.Get("state") != "state123" {
		t.Errorf("query = %v", q)
	}
	if q.Get("scope") != "chat:read chat:edit" {
		t.Errorf("scope = %q, want space separated", q.Get("scope"))
	}

	if _, err := BuildAuthorizeURL("", "http://localhost/cb", "", ""); err == nil {
		t.Error("missing client id should error")
	}
}

func TestExchangeAuthCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.Form.Get("grant_type") != "authorization_code" || r.Form.Get("code") != "thecode" {
			t.Errorf("form = %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"acc","refresh_token":"ref","expires_in":3600,"scope":["chat:read"]}`))
	}))
	defer srv.Close()
	orig := tokenURL
	tokenURL = srv.URL
	defer func() { tokenURL = orig }()

	rec, err := ExchangeAuthCode(context.Background(), "cid", "secret", "thecode", "http://localhost/cb")
	if err != nil {
		t.Fatal(err)
	}
	if rec.AccessToken != "acc" || rec.RefreshToken != "ref" || rec.Scope != "chat:read" {
		t.Errorf("record = %+v", rec)
	}
	if until := time.Until(rec.ExpiresAt); until < 55*time.Minute || until > 65*time.Minute {
		t.Errorf("expiry %s away, want about an hour", until)
	}
}

func TestExchangerRefreshGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if r.Form.Get("grant_type") != "refresh_token" || r.Form.Get("refresh_token") != "oldref" {
			t.Errorf("form = %v", r.Form)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"acc2","refresh_token":"newref","expires_in":14400}`))
	}))
	defer srv.Close()
	orig := tokenURL
	tokenURL = srv.URL
	defer func() { tokenURL = orig }()

	rec, err := Exchanger("cid", "secret")(context.Background(), "oldref")
	if err != nil {
		t.Fatal(err)
	}
	if rec.AccessToken != "acc2" || rec.RefreshToken != "newref" {
		t.Errorf("record = %+v", rec)
	}
}

func TestExchangeRejectionClassifiesAsAuthInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"Bad Request","status":400,"message":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	orig := tokenURL
	tokenURL = srv.URL
	defer func() { tokenURL = orig }()

	_, err := Exchanger("cid", "secret")(context.Background(), "badref")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid_grant") {
		t.Errorf("error %q should carry the endpoint body", err)
	}
	if connector.Classify(err) != connector.ClassAuthInvalid {
		t.Errorf("Classify = %s, want auth_invalid", connector.Classify(err))
	}
}

func TestComputeExpiryDefault(t *testing.T) {
	exp := ComputeExpiry(0)
	if until := time.Until(exp); until < 55*time.Minute || until > 65*time.Minute {
		t.Errorf("default expiry %s away, want about an hour", until)
	}
}
