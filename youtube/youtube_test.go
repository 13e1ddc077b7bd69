package youtube

import (
	"errors"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	yt "google.golang.org/api/youtube/v3"

	"github.com/onnwee/chatmux/backend/connector"
	"github.com/onnwee/chatmux/backend/message"
)

func TestNormalizeItem(t *testing.T) {
	item := &yt.LiveChatMessage{
		Snippet: &yt.LiveChatMessageSnippet{
			DisplayMessage: "hello @alice see https://example.com",
		},
		AuthorDetails: &yt.LiveChatMessageAuthorDetails{
			DisplayName:     "Bob",
			ChannelId:       "UC123",
			ProfileImageUrl: "https://example.com/avatar.png",
			IsChatModerator: true,
			IsChatSponsor:   true,
		},
	}
	got, ok := normalizeItem(item)
	if !ok {
		t.Fatal("normalizeItem rejected a valid item")
	}
	if got.Platform != message.PlatformYouTube || got.Author != "Bob" || got.AuthorID != "UC123" {
		t.Errorf("identity = %s/%s/%s", got.Platform, got.Author, got.AuthorID)
	}
	if got.AvatarURL != "https://example.com/avatar.png" {
		t.Errorf("avatar = %q", got.AvatarURL)
	}
	if !got.Meta.Moderator || !got.Meta.Subscriber || got.Meta.Broadcaster {
		t.Errorf("meta = %+v", got.Meta)
	}
	want := []message.TokenType{message.TokenText, message.TokenMention, message.TokenText, message.TokenLink}
	if len(got.Tokens) != len(want) {
		t.Fatalf("tokens = %+v", got.Tokens)
	}
	for i, tt := range want {
		if got.Tokens[i].Type != tt {
			t.Errorf("token %d = %s, want %s", i, got.Tokens[i].Type, tt)
		}
	}
}

func TestNormalizeItemSkipsNonText(t *testing.T) {
	cases := []*yt.LiveChatMessage{
		nil,
		{},
		{Snippet: &yt.LiveChatMessageSnippet{}},
		{Snippet: &yt.LiveChatMessageSnippet{DisplayMessage: ""}, AuthorDetails: &yt.LiveChatMessageAuthorDetails{DisplayName: "x"}},
	}
	for i, item := range cases {
		if _, ok := normalizeItem(item); ok {
			t.Errorf("case %d: normalizeItem accepted an empty item", i)
		}
	}
}

func TestClassifyAPIError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want connector.Class
	}{
		{"401 unauthorized", &googleapi.Error{Code: 401}, connector.ClassAuthInvalid},
		{"403 forbidden", &googleapi.Error{Code: 403}, connector.ClassAuthInvalid},
		{
			"403 quota exceeded",
			&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}},
			connector.ClassRateLimited,
		},
		{
			"403 rate limit",
			&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "rateLimitExceeded"}}},
			connector.ClassRateLimited,
		},
		{"429", &googleapi.Error{Code: 429}, connector.ClassRateLimited},
		{"invalid_grant text", errors.New(`oauth2: "invalid_grant" "Token has been expired or revoked."`), connector.ClassAuthInvalid},
		{"plain network", errors.New("dial tcp: connection refused"), connector.ClassTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyAPIError("poll", tc.err)
			if connector.Classify(got) != tc.want {
				t.Errorf("Classify(%v) = %s, want %s", got, connector.Classify(got), tc.want)
			}
		})
	}
}

func TestClassifyAPIErrorRetryAfter(t *testing.T) {
	err := classifyAPIError("poll", &googleapi.Error{
		Code:   403,
		Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}},
	})
	var rl *connector.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
	if rl.RetryAfter != time.Minute {
		t.Errorf("RetryAfter = %s, want 1m", rl.RetryAfter)
	}
}
