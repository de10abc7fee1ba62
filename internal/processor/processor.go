// Package processor drives priority classification over message batches.
package processor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ghostrider/internal/classify"
	"ghostrider/internal/domain"
	"ghostrider/internal/metrics"
)

// Processor classifies the messages of a batch one at a time. A failure
// on one message never aborts the rest of the batch.
type Processor struct {
	classifier *classify.Classifier
	logger     *slog.Logger
}

func New(classifier *classify.Classifier, logger *slog.Logger) *Processor {
	return &Processor{classifier: classifier, logger: logger}
}

// ProcessBatch classifies every unprocessed message in the batch, in
// order, mutating messages in place. Already-processed messages are
// skipped without emitting a result. Failed messages stay unprocessed;
// they are not resubmitted automatically.
func (p *Processor) ProcessBatch(batch *domain.MessageBatch) []domain.MessageProcessingResult {
	var results []domain.MessageProcessingResult

	for _, msg := range batch.Messages {
		if msg != nil && msg.Processed {
			continue
		}

		start := time.Now()
		priority, score, tags, err := p.classifyMessage(msg)
		elapsedMs := float64(time.Since(start).Microseconds()) / 1000.0
		metrics.ClassifyLatency.Observe(time.Since(start).Seconds())

		if err != nil {
			id := ""
			if msg != nil {
				id = msg.ID
			}
			p.logger.Warn("message classification failed",
				"message_id", id,
				"platform", batch.Platform,
				"err", err,
			)
			metrics.ClassificationFailures.Inc()
			results = append(results, domain.MessageProcessingResult{
				MessageID:        id,
				Success:          false,
				PriorityAssigned: domain.PriorityMedium,
				UrgencyScore:     0.5,
				ContextTags:      []string{},
				ProcessingTimeMs: elapsedMs,
				Error:            err.Error(),
			})
			continue
		}

		now := time.Now()
		msg.Priority = priority
		msg.UrgencyScore = score
		msg.ContextTags = tags
		msg.Processed = true
		msg.ProcessingTimestamp = &now

		metrics.MessagesProcessed.Inc()
		results = append(results, domain.MessageProcessingResult{
			MessageID:        msg.ID,
			Success:          true,
			PriorityAssigned: priority,
			UrgencyScore:     score,
			ContextTags:      tags,
			ProcessingTimeMs: elapsedMs,
		})
	}

	return results
}

// classifyMessage runs priority classification and tag extraction for a
// single message, converting panics into errors so one bad message
// cannot take down the batch.
func (p *Processor) classifyMessage(msg *domain.UnifiedMessage) (priority domain.Priority, score float64, tags []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("classification panic: %v", r)
		}
	}()

	if msg == nil {
		return "", 0, nil, errors.New("nil message in batch")
	}
	if msg.ID == "" {
		return "", 0, nil, errors.New("message has no id")
	}

	priority, score = p.classifier.ClassifyPriority(msg)
	tags = p.classifier.ExtractContextTags(msg)
	return priority, score, tags, nil
}
