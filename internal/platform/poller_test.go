package platform

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ghostrider/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func fastPoller(fetch fetchFunc) *poller {
	p := newPoller(domain.PlatformSMS, testLogger(), fetch)
	p.successDelay = time.Millisecond
	p.errorBackoff = 5 * time.Millisecond
	return &p
}

func TestPoller_DeliversBatches(t *testing.T) {
	var calls atomic.Int32
	p := fastPoller(func(ctx context.Context) ([]*domain.UnifiedMessage, error) {
		calls.Add(1)
		msg := domain.NewUnifiedMessage("m1", domain.PlatformSMS, "hi", time.Now(),
			domain.MessageAuthor{}, domain.MessageMetadata{})
		return []*domain.UnifiedMessage{msg}, nil
	})

	var mu sync.Mutex
	var batches []domain.MessageBatch
	go p.StartReceiving(context.Background(), func(b domain.MessageBatch) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(batches)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	p.StopReceiving()

	mu.Lock()
	defer mu.Unlock()
	if len(batches) < 2 {
		t.Fatalf("expected at least 2 batches, got %d", len(batches))
	}
	b := batches[0]
	if b.Platform != domain.PlatformSMS || b.TotalCount != 1 {
		t.Errorf("unexpected batch: platform=%s count=%d", b.Platform, b.TotalCount)
	}
	if b.BatchID == "" {
		t.Error("expected batch id")
	}
}

func TestPoller_EmptyFetchEmitsNoBatch(t *testing.T) {
	p := fastPoller(func(ctx context.Context) ([]*domain.UnifiedMessage, error) {
		return nil, nil
	})

	var delivered atomic.Int32
	go p.StartReceiving(context.Background(), func(b domain.MessageBatch) {
		delivered.Add(1)
	})
	time.Sleep(20 * time.Millisecond)
	p.StopReceiving()

	if delivered.Load() != 0 {
		t.Errorf("expected no batches for empty fetches, got %d", delivered.Load())
	}
}

func TestPoller_ErrorBackoff(t *testing.T) {
	p := fastPoller(func(ctx context.Context) ([]*domain.UnifiedMessage, error) {
		return nil, errors.New("gateway unavailable")
	})
	p.successDelay = time.Millisecond
	p.errorBackoff = 40 * time.Millisecond

	var calls atomic.Int32
	p.fetch = func(ctx context.Context) ([]*domain.UnifiedMessage, error) {
		calls.Add(1)
		return nil, errors.New("gateway unavailable")
	}

	go p.StartReceiving(context.Background(), nil)
	time.Sleep(60 * time.Millisecond)
	p.StopReceiving()

	// With a 40ms backoff only ~2 fetches fit in 60ms; without backoff
	// there would be dozens.
	if n := calls.Load(); n > 4 {
		t.Errorf("expected backoff to throttle fetches, got %d calls", n)
	}
}

func TestPoller_StopReceivingWaitsForLoop(t *testing.T) {
	p := fastPoller(func(ctx context.Context) ([]*domain.UnifiedMessage, error) {
		return nil, nil
	})

	done := make(chan struct{})
	go func() {
		p.StartReceiving(context.Background(), nil)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	p.StopReceiving()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after StopReceiving")
	}
}

func TestPoller_StopWithoutStartIsNoOp(t *testing.T) {
	p := fastPoller(func(ctx context.Context) ([]*domain.UnifiedMessage, error) {
		return nil, nil
	})
	p.StopReceiving() // must not block or panic
}

func TestPoller_SecondStartIsNoOp(t *testing.T) {
	block := make(chan struct{})
	p := fastPoller(func(ctx context.Context) ([]*domain.UnifiedMessage, error) {
		<-block
		return nil, nil
	})

	go p.StartReceiving(context.Background(), nil)
	time.Sleep(5 * time.Millisecond)

	// Second call returns immediately because the loop already runs.
	started := make(chan struct{})
	go func() {
		p.StartReceiving(context.Background(), nil)
		close(started)
	}()
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("second StartReceiving did not return")
	}

	close(block)
	p.StopReceiving()
}

func TestPoller_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPoller(func(ctx context.Context) ([]*domain.UnifiedMessage, error) {
		return nil, nil
	})

	done := make(chan struct{})
	go func() {
		p.StartReceiving(ctx, nil)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit on context cancel")
	}
}
