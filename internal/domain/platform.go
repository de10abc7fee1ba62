package domain

import (
	"context"
	"fmt"
	"time"
)

// Adapter is the interface every platform integration (SMS, Slack,
// Discord, Gmail) implements to produce unified messages.
//
// ReceiveMessages contains failures locally: on provider or network
// error it logs and returns an empty slice instead of propagating. It
// must deduplicate against provider message IDs already seen, so a
// second call with no new provider data returns nothing.
type Adapter interface {
	Name() Platform

	// Connect establishes the provider session. It fails with a
	// *ConnectionError on timeout or a non-2xx handshake and must be
	// called once before any other operation.
	Connect(ctx context.Context) error

	// Disconnect releases session resources. Idempotent; a no-op if
	// Connect was never called.
	Disconnect() error

	// SendMessage is a best-effort outbound send. It returns false on
	// provider-side failure, true on confirmed acceptance.
	SendMessage(ctx context.Context, recipient, content string) bool

	ReceiveMessages(ctx context.Context) []*UnifiedMessage

	// GetMessageHistory fetches up to limit historical messages, newest
	// first. A non-nil since filters out older messages.
	GetMessageHistory(ctx context.Context, limit int, since *time.Time) ([]*UnifiedMessage, error)

	// StartReceiving polls ReceiveMessages until StopReceiving is called
	// or ctx is cancelled, wrapping each non-empty result into a
	// MessageBatch passed to callback. It blocks; run it in its own
	// goroutine. Errors back off longer than empty results.
	StartReceiving(ctx context.Context, callback func(MessageBatch))

	// StopReceiving signals the polling loop to exit and waits for it.
	StopReceiving()
}

// ConnectionError marks a platform as unavailable at startup. Callers
// log it and continue without the platform rather than aborting.
type ConnectionError struct {
	Platform Platform
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connect failed: %v", e.Platform, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
