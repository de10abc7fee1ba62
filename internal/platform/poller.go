// Package platform contains the platform adapters (SMS, Slack, Discord,
// Gmail) and the shared polling driver that turns their receive calls
// into message batches.
package platform

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"ghostrider/internal/domain"
)

const (
	defaultSuccessDelay = 1 * time.Second
	defaultErrorBackoff = 5 * time.Second
	requestTimeout      = 10 * time.Second
)

type fetchFunc func(ctx context.Context) ([]*domain.UnifiedMessage, error)

// poller drives an adapter's receive loop. Adapters embed it and point
// fetch at their error-returning receive implementation, so the loop can
// distinguish a failed fetch (back off 5s) from an empty one (wait 1s).
type poller struct {
	platform domain.Platform
	logger   *slog.Logger
	fetch    fetchFunc

	successDelay time.Duration
	errorBackoff time.Duration

	running atomic.Bool
	mu      sync.Mutex
	stopped chan struct{}
}

func newPoller(platform domain.Platform, logger *slog.Logger, fetch fetchFunc) poller {
	return poller{
		platform:     platform,
		logger:       logger,
		fetch:        fetch,
		successDelay: defaultSuccessDelay,
		errorBackoff: defaultErrorBackoff,
	}
}

// StartReceiving polls until StopReceiving is called or ctx is
// cancelled. Each non-empty fetch result is wrapped into a MessageBatch
// and handed to callback. Blocks; run in its own goroutine.
func (p *poller) StartReceiving(ctx context.Context, callback func(domain.MessageBatch)) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	stopped := make(chan struct{})
	p.mu.Lock()
	p.stopped = stopped
	p.mu.Unlock()
	defer close(stopped)
	defer p.running.Store(false)

	p.logger.Info("polling started", "platform", p.platform)

	for p.running.Load() && ctx.Err() == nil {
		messages, err := p.fetch(ctx)
		if err != nil {
			p.logger.Warn("receive failed, backing off",
				"platform", p.platform,
				"err", err,
			)
			if !p.wait(ctx, p.errorBackoff) {
				break
			}
			continue
		}

		if len(messages) > 0 && callback != nil {
			callback(domain.NewBatch(p.platform, messages))
		}
		if !p.wait(ctx, p.successDelay) {
			break
		}
	}

	p.logger.Info("polling stopped", "platform", p.platform)
}

// StopReceiving signals the loop to exit and waits for it to finish.
// A no-op if the loop is not running.
func (p *poller) StopReceiving() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped != nil {
		<-stopped
	}
}

func (p *poller) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return p.running.Load()
	}
}
