package db_test

import (
	"context"
	"testing"
	"time"

	"github.com/onnwee/chatmux/backend/db"
	"github.com/onnwee/chatmux/backend/message"
	"github.com/onnwee/chatmux/backend/testutil"
	"github.com/onnwee/chatmux/backend/tokens"
)

func TestCredentialStoreRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := db.NewCredentialStore(database)
	ctx := context.Background()
	t.Cleanup(func() { _ = store.Clear(ctx, message.PlatformTwitch) })

	// Absent credential is (nil, nil), not an error.
	got, err := store.Load(ctx, message.PlatformTwitch)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("Load before save = %+v, want nil", got)
	}

	rec := tokens.Record{
		AccessToken:  "acc1",
		RefreshToken: "ref1",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Scope:        "chat:read",
	}
	if err := store.Save(ctx, message.PlatformTwitch, rec); err != nil {
		t.Fatal(err)
	}
	got, err = store.Load(ctx, message.PlatformTwitch)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.AccessToken != "acc1" || got.RefreshToken != "ref1" || got.Scope != "chat:read" {
		t.Fatalf("Load = %+v", got)
	}
	if !got.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("ExpiresAt = %s, want %s", got.ExpiresAt, rec.ExpiresAt)
	}

	// Upsert replaces both tokens together.
	rec2 := tokens.Record{AccessToken: "acc2", RefreshToken: "ref2", Invalid: true}
	if err := store.Save(ctx, message.PlatformTwitch, rec2); err != nil {
		t.Fatal(err)
	}
	got, err = store.Load(ctx, message.PlatformTwitch)
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != "acc2" || got.RefreshToken != "ref2" || !got.Invalid {
		t.Fatalf("Load after upsert = %+v", got)
	}

	if err := store.Clear(ctx, message.PlatformTwitch); err != nil {
		t.Fatal(err)
	}
	got, err = store.Load(ctx, message.PlatformTwitch)
	if err != nil || got != nil {
		t.Fatalf("Load after clear = %+v, %v", got, err)
	}
}

func TestCredentialStorePlatformsIndependent(t *testing.T) {
	database := testutil.SetupTestDB(t)
	store := db.NewCredentialStore(database)
	ctx := context.Background()
	t.Cleanup(func() {
		_ = store.Clear(ctx, message.PlatformTwitch)
		_ = store.Clear(ctx, message.PlatformYouTube)
	})

	if err := store.Save(ctx, message.PlatformTwitch, tokens.Record{AccessToken: "tw"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, message.PlatformYouTube, tokens.Record{AccessToken: "yt"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Clear(ctx, message.PlatformTwitch); err != nil {
		t.Fatal(err)
	}
	got, err := store.Load(ctx, message.PlatformYouTube)
	if err != nil || got == nil || got.AccessToken != "yt" {
		t.Fatalf("youtube credential affected by twitch clear: %+v, %v", got, err)
	}
}

func TestConnectorDisabledRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()
	t.Cleanup(func() { _ = db.SetConnectorDisabled(ctx, database, message.PlatformKick, false) })

	// Absent means enabled.
	disabled, err := db.ConnectorDisabled(ctx, database, message.PlatformKick)
	if err != nil || disabled {
		t.Fatalf("ConnectorDisabled before set = %v, %v", disabled, err)
	}

	if err := db.SetConnectorDisabled(ctx, database, message.PlatformKick, true); err != nil {
		t.Fatal(err)
	}
	disabled, err = db.ConnectorDisabled(ctx, database, message.PlatformKick)
	if err != nil || !disabled {
		t.Fatalf("ConnectorDisabled after disable = %v, %v", disabled, err)
	}

	// Other platforms are unaffected.
	disabled, err = db.ConnectorDisabled(ctx, database, message.PlatformTwitch)
	if err != nil || disabled {
		t.Fatalf("twitch affected by kick setting: %v, %v", disabled, err)
	}

	if err := db.SetConnectorDisabled(ctx, database, message.PlatformKick, false); err != nil {
		t.Fatal(err)
	}
	disabled, err = db.ConnectorDisabled(ctx, database, message.PlatformKick)
	if err != nil || disabled {
		t.Fatalf("ConnectorDisabled after re-enable = %v, %v", disabled, err)
	}
}

func TestKVRoundTrip(t *testing.T) {
	database := testutil.SetupTestDB(t)
	ctx := context.Background()

	if v, err := db.GetKV(ctx, database, "missing-key"); err != nil || v != "" {
		t.Fatalf("GetKV(missing) = %q, %v", v, err)
	}
	if err := db.SetKV(ctx, database, "k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetKV(ctx, database, "k", "v2"); err != nil {
		t.Fatal(err)
	}
	if v, err := db.GetKV(ctx, database, "k"); err != nil || v != "v2" {
		t.Fatalf("GetKV = %q, %v", v, err)
	}
}
