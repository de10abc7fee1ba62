package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ghostrider/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), "test-secret", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_MessageRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2025, 6, 10, 9, 30, 0, 0, time.UTC)
	processedAt := ts.Add(time.Second)
	msg := domain.NewUnifiedMessage("sms_1", domain.PlatformSMS, "call me back", ts,
		domain.MessageAuthor{ID: "+15551234567", Name: "+15551234567", Phone: "+15551234567"},
		domain.MessageMetadata{
			Platform:  domain.PlatformSMS,
			MessageID: "1",
			RawData:   map[string]any{"_id": "1", "sender": "+15551234567"},
		})
	msg.SMSMetadata = &domain.SMSMetadata{DeviceID: "dev1", PhoneNumber: "+15551234567"}
	msg.Priority = domain.PriorityHigh
	msg.UrgencyScore = 0.7
	msg.ContextTags = []string{"platform:sms", "meeting"}
	msg.Processed = true
	msg.ProcessingTimestamp = &processedAt

	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetMessage(ctx, "sms_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("message not found")
	}
	if got.Content != "call me back" || got.Platform != domain.PlatformSMS {
		t.Errorf("unexpected message %+v", got)
	}
	if got.Priority != domain.PriorityHigh || got.UrgencyScore != 0.7 {
		t.Errorf("priority not persisted: %s/%f", got.Priority, got.UrgencyScore)
	}
	if len(got.ContextTags) != 2 || got.ContextTags[0] != "platform:sms" {
		t.Errorf("tags not persisted: %v", got.ContextTags)
	}
	if got.Author.Phone != "+15551234567" {
		t.Errorf("author not persisted: %+v", got.Author)
	}
	if got.SMSMetadata == nil || got.SMSMetadata.DeviceID != "dev1" {
		t.Errorf("sms metadata not persisted: %+v", got.SMSMetadata)
	}
	if got.Metadata.RawData["sender"] != "+15551234567" {
		t.Errorf("raw data not persisted: %v", got.Metadata.RawData)
	}
	if !got.Processed || got.ProcessingTimestamp == nil {
		t.Error("processing state not persisted")
	}
}

func TestStore_GetMessage_NotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetMessage(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing message, got %+v", got)
	}
}

func TestStore_SaveMessage_Upsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	msg := domain.NewUnifiedMessage("m1", domain.PlatformSlack, "original", time.Now(),
		domain.MessageAuthor{}, domain.MessageMetadata{})
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	msg.Priority = domain.PriorityUrgent
	msg.Processed = true
	now := time.Now()
	msg.ProcessingTimestamp = &now
	if err := s.SaveMessage(ctx, msg); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMessage(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority != domain.PriorityUrgent || !got.Processed {
		t.Errorf("expected updated message, got %+v", got)
	}

	msgs, err := s.ListMessages(ctx, domain.PlatformSlack, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 row after upsert, got %d", len(msgs))
	}
}

func TestStore_ListMessages_FiltersByPlatform(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, platform := range []domain.Platform{domain.PlatformSlack, domain.PlatformSMS, domain.PlatformSlack} {
		msg := domain.NewUnifiedMessage(
			string(platform)+"_"+string(rune('a'+i)), platform, "hi",
			time.Now().Add(time.Duration(i)*time.Minute),
			domain.MessageAuthor{}, domain.MessageMetadata{})
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := s.ListMessages(ctx, domain.PlatformSlack, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 slack messages, got %d", len(msgs))
	}
	// Newest first.
	if !msgs[0].Timestamp.After(msgs[1].Timestamp) {
		t.Error("expected newest-first ordering")
	}
}

func TestStore_SaveResult(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveResult(context.Background(), domain.MessageProcessingResult{
		MessageID:        "m1",
		Success:          false,
		PriorityAssigned: domain.PriorityMedium,
		UrgencyScore:     0.5,
		ContextTags:      []string{},
		ProcessingTimeMs: 1.25,
		Error:            "message has no id",
	})
	if err != nil {
		t.Fatalf("save result: %v", err)
	}
}

func TestStore_TokenRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tok := domain.OAuthToken{
		Platform:     domain.PlatformGmail,
		UserID:       "me",
		AccessToken:  "ya29.secret-access",
		RefreshToken: "1//refresh-secret",
		ExpiresAt:    time.Now().Add(time.Hour).UTC(),
		Scope:        "gmail.readonly",
	}
	if err := s.SaveToken(ctx, tok); err != nil {
		t.Fatalf("save token: %v", err)
	}

	got, err := s.GetToken(ctx, domain.PlatformGmail, "me")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if got == nil {
		t.Fatal("token not found")
	}
	if got.AccessToken != tok.AccessToken || got.RefreshToken != tok.RefreshToken {
		t.Error("decrypted tokens do not match originals")
	}

	// Upsert replaces the tokens for the same (platform, user).
	tok.AccessToken = "ya29.rotated"
	if err := s.SaveToken(ctx, tok); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetToken(ctx, domain.PlatformGmail, "me")
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != "ya29.rotated" {
		t.Errorf("expected rotated token, got %q", got.AccessToken)
	}
}

func TestStore_TokensEncryptedAtRest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveToken(ctx, domain.OAuthToken{
		Platform:    domain.PlatformDiscord,
		UserID:      "u1",
		AccessToken: "plaintext-secret",
	}); err != nil {
		t.Fatal(err)
	}

	var stored string
	err := s.db.QueryRowContext(ctx,
		`SELECT access_token FROM oauth_tokens WHERE platform = ? AND user_id = ?`,
		domain.PlatformDiscord, "u1").Scan(&stored)
	if err != nil {
		t.Fatal(err)
	}
	if stored == "plaintext-secret" {
		t.Error("access token stored in plaintext")
	}
}

func TestStore_GetToken_NotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetToken(context.Background(), domain.PlatformGmail, "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for missing token, got %+v", got)
	}
}

func TestStore_ChannelUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fetched := time.Now().UTC()
	ch := domain.ChannelInfo{
		Platform:  domain.PlatformDiscord,
		ChannelID: "c1",
		Name:      "general",
		GuildID:   "g1",
	}
	if err := s.UpsertChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}

	ch.Name = "general-renamed"
	ch.LastFetched = &fetched
	if err := s.UpsertChannel(ctx, ch); err != nil {
		t.Fatal(err)
	}

	channels, err := s.ListChannels(ctx, domain.PlatformDiscord)
	if err != nil {
		t.Fatal(err)
	}
	if len(channels) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(channels))
	}
	got := channels[0]
	if got.Name != "general-renamed" || got.GuildID != "g1" {
		t.Errorf("unexpected channel %+v", got)
	}
	if got.LastFetched == nil {
		t.Error("expected last_fetched persisted")
	}
}

func TestTokenCipher_Roundtrip(t *testing.T) {
	c, ephemeral, err := newTokenCipher("secret")
	if err != nil {
		t.Fatal(err)
	}
	if ephemeral {
		t.Error("expected derived key, not ephemeral")
	}

	enc, err := c.encrypt("hello")
	if err != nil {
		t.Fatal(err)
	}
	if enc == "hello" {
		t.Error("ciphertext equals plaintext")
	}
	dec, err := c.decrypt(enc)
	if err != nil {
		t.Fatal(err)
	}
	if dec != "hello" {
		t.Errorf("expected hello, got %q", dec)
	}

	// Same secret, new cipher: must decrypt old ciphertexts.
	c2, _, err := newTokenCipher("secret")
	if err != nil {
		t.Fatal(err)
	}
	if dec, err := c2.decrypt(enc); err != nil || dec != "hello" {
		t.Errorf("expected decrypt with re-derived key, got %q err %v", dec, err)
	}

	// Wrong secret must fail.
	c3, _, _ := newTokenCipher("other")
	if _, err := c3.decrypt(enc); err == nil {
		t.Error("expected decrypt failure with wrong key")
	}
}

func TestTokenCipher_EmptyStringPassthrough(t *testing.T) {
	c, _, err := newTokenCipher("secret")
	if err != nil {
		t.Fatal(err)
	}
	enc, err := c.encrypt("")
	if err != nil || enc != "" {
		t.Errorf("expected empty passthrough, got %q err %v", enc, err)
	}
	dec, err := c.decrypt("")
	if err != nil || dec != "" {
		t.Errorf("expected empty passthrough, got %q err %v", dec, err)
	}
}

func TestTokenCipher_EphemeralWhenNoSecret(t *testing.T) {
	_, ephemeral, err := newTokenCipher("")
	if err != nil {
		t.Fatal(err)
	}
	if !ephemeral {
		t.Error("expected ephemeral key for empty secret")
	}
}
