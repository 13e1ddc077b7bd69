package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.BacklogSize != DefaultBacklogSize {
		t.Errorf("BacklogSize = %d, want %d", cfg.BacklogSize, DefaultBacklogSize)
	}
	if cfg.QueueCap != DefaultQueueCap {
		t.Errorf("QueueCap = %d, want %d", cfg.QueueCap, DefaultQueueCap)
	}
	if cfg.HeartbeatInterval != 30*time.Second || cfg.PongGrace != 10*time.Second {
		t.Errorf("heartbeat = %s/%s", cfg.HeartbeatInterval, cfg.PongGrace)
	}
	if cfg.TwitchScopes != "chat:read" {
		t.Errorf("TwitchScopes = %q", cfg.TwitchScopes)
	}
}

func TestBacklogSizeClamped(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"5", MinBacklogSize},
		{"10", 10},
		{"120", 120},
		{"9999", MaxBacklogSize},
		{"notanumber", DefaultBacklogSize},
		{"", DefaultBacklogSize},
	}
	for _, tc := range cases {
		t.Setenv("BACKLOG_SIZE", tc.in)
		cfg, err := Load()
		if err != nil {
			t.Fatal(err)
		}
		if cfg.BacklogSize != tc.want {
			t.Errorf("BACKLOG_SIZE=%q: BacklogSize = %d, want %d", tc.in, cfg.BacklogSize, tc.want)
		}
	}
}

func TestInvalidKickChatroomID(t *testing.T) {
	t.Setenv("KICK_CHATROOM_ID", "notanumber")
	if _, err := Load(); err == nil {
		t.Error("invalid KICK_CHATROOM_ID should fail load")
	}
	t.Setenv("KICK_CHATROOM_ID", "-3")
	if _, err := Load(); err == nil {
		t.Error("negative KICK_CHATROOM_ID should fail load")
	}
	t.Setenv("KICK_CHATROOM_ID", "12345")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KickChatroomID != 12345 {
		t.Errorf("KickChatroomID = %d", cfg.KickChatroomID)
	}
}

func TestDurationEnv(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "45s")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.HeartbeatInterval != 45*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 45s", cfg.HeartbeatInterval)
	}

	t.Setenv("HEARTBEAT_INTERVAL", "-5s")
	cfg, _ = Load()
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("negative interval should fall back to default, got %s", cfg.HeartbeatInterval)
	}
}

func TestEnabledPredicates(t *testing.T) {
	cfg := &Config{}
	if cfg.TwitchEnabled() || cfg.KickEnabled() || cfg.YouTubeEnabled() {
		t.Error("empty config should enable nothing")
	}
	cfg.TwitchChannel = "somechannel"
	if !cfg.TwitchEnabled() {
		t.Error("TwitchEnabled with channel set")
	}
	cfg.KickChatroomID = 42
	if !cfg.KickEnabled() {
		t.Error("KickEnabled with chatroom id set")
	}
	cfg.YTClientID = "id"
	if cfg.YouTubeEnabled() {
		t.Error("YouTubeEnabled needs both client id and secret")
	}
	cfg.YTClientSecret = "secret"
	if !cfg.YouTubeEnabled() {
		t.Error("YouTubeEnabled with full oauth client")
	}
}
