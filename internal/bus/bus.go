package bus

import (
	"log/slog"
	"sync"
	"time"

	"ghostrider/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based batch bus for in-process delivery
// from platform pollers to the processing loop.
type InMemoryBus struct {
	batches chan domain.MessageBatch
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		batches: make(chan domain.MessageBatch, bufferSize),
		logger:  logger,
	}
}

// Publish delivers a batch to the processing loop. Blocks up to 10
// seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(batch domain.MessageBatch) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "batch_id", batch.BatchID)
		return
	}

	select {
	case b.batches <- batch:
	default:
		b.logger.Warn("batch bus full, waiting...",
			"batch_id", batch.BatchID,
			"platform", batch.Platform,
		)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.batches <- batch:
			b.logger.Info("batch delivered after wait", "batch_id", batch.BatchID)
		case <-timer.C:
			b.logger.Error("batch dropped: bus full for 10s",
				"batch_id", batch.BatchID,
				"platform", batch.Platform,
				"messages", batch.TotalCount,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.MessageBatch {
	return b.batches
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.batches)
	}
}
