package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"ghostrider/internal/config"
	"ghostrider/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Defaults()
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "app.db")
	cfg.Storage.EncryptionKey = "secret"

	a, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { a.store.Close() })
	return a
}

func inboundMessage(id, content string) *domain.UnifiedMessage {
	return domain.NewUnifiedMessage(
		id,
		domain.PlatformSMS,
		content,
		time.Now(),
		domain.MessageAuthor{ID: "+15550001111", Name: "+15550001111"},
		domain.MessageMetadata{Platform: domain.PlatformSMS},
	)
}

// Batches already on the bus when the run context dies must still be
// classified and persisted: processLoop saves under its own context.
func TestProcessLoop_PersistsDrainedBatches(t *testing.T) {
	a := newTestApp(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.processLoop()
	}()

	a.bus.Publish(domain.NewBatch(domain.PlatformSMS, []*domain.UnifiedMessage{
		inboundMessage("m1", "URGENT: server down, call me asap"),
	}))

	a.bus.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processing loop did not drain")
	}

	got, err := a.store.GetMessage(context.Background(), "m1")
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got == nil {
		t.Fatal("expected message persisted after drain")
	}
	if !got.Processed {
		t.Error("expected message persisted as processed")
	}
	if got.Priority != domain.PriorityUrgent {
		t.Errorf("expected urgent priority, got %s", got.Priority)
	}
}

func TestProcessLoop_FailedItemStillPersisted(t *testing.T) {
	a := newTestApp(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.processLoop()
	}()

	a.bus.Publish(domain.NewBatch(domain.PlatformSMS, []*domain.UnifiedMessage{
		inboundMessage("ok1", "see you at the meeting"),
		inboundMessage("", "no id, cannot classify"),
	}))

	a.bus.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("processing loop did not drain")
	}

	got, err := a.store.GetMessage(context.Background(), "ok1")
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if got == nil || !got.Processed {
		t.Fatal("expected healthy message processed despite failing sibling")
	}
}
