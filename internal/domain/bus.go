package domain

// BatchBus carries message batches from platform polling loops to the
// processing loop.
type BatchBus interface {
	Publish(batch MessageBatch)
	Subscribe() <-chan MessageBatch
	Close()
}
