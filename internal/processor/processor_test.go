package processor

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"ghostrider/internal/classify"
	"ghostrider/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestProcessor() *Processor {
	return New(classify.New(), testLogger())
}

func testMsg(id, content string) *domain.UnifiedMessage {
	ts := time.Date(2025, 6, 10, 12, 0, 0, 0, time.Local)
	return domain.NewUnifiedMessage(id, domain.PlatformSlack, content, ts,
		domain.MessageAuthor{ID: "u1", Name: "someone"},
		domain.MessageMetadata{Platform: domain.PlatformSlack, MessageID: id})
}

func TestProcessBatch_ClassifiesAllMessages(t *testing.T) {
	p := newTestProcessor()
	batch := domain.NewBatch(domain.PlatformSlack, []*domain.UnifiedMessage{
		testMsg("m1", "URGENT: server is down"),
		testMsg("m2", "fyi weekly digest"),
	})

	results := p.ProcessBatch(&batch)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, res := range results {
		if !res.Success {
			t.Errorf("message %s: expected success, got error %q", res.MessageID, res.Error)
		}
	}
	if results[0].PriorityAssigned != domain.PriorityUrgent {
		t.Errorf("m1: expected urgent, got %s", results[0].PriorityAssigned)
	}
	if results[1].PriorityAssigned != domain.PriorityLow {
		t.Errorf("m2: expected low, got %s", results[1].PriorityAssigned)
	}
}

func TestProcessBatch_MutatesMessagesInPlace(t *testing.T) {
	p := newTestProcessor()
	msg := testMsg("m1", "URGENT: server is down")
	batch := domain.NewBatch(domain.PlatformSlack, []*domain.UnifiedMessage{msg})

	p.ProcessBatch(&batch)

	if !msg.Processed {
		t.Fatal("expected message marked processed")
	}
	if msg.ProcessingTimestamp == nil {
		t.Fatal("expected processing timestamp set")
	}
	if msg.Priority != domain.PriorityUrgent {
		t.Errorf("expected urgent priority on message, got %s", msg.Priority)
	}
	if len(msg.ContextTags) == 0 || msg.ContextTags[0] != "platform:slack" {
		t.Errorf("expected context tags on message, got %v", msg.ContextTags)
	}
}

func TestProcessBatch_SkipsProcessedMessages(t *testing.T) {
	p := newTestProcessor()
	done := testMsg("m1", "already handled")
	now := time.Now()
	done.Processed = true
	done.ProcessingTimestamp = &now
	done.Priority = domain.PriorityLow
	done.UrgencyScore = 0.2

	batch := domain.NewBatch(domain.PlatformSlack, []*domain.UnifiedMessage{
		done,
		testMsg("m2", "something new"),
	})

	results := p.ProcessBatch(&batch)
	if len(results) != 1 {
		t.Fatalf("expected 1 result for the unprocessed message, got %d", len(results))
	}
	if results[0].MessageID != "m2" {
		t.Errorf("expected result for m2, got %s", results[0].MessageID)
	}
	if done.Priority != domain.PriorityLow || done.UrgencyScore != 0.2 {
		t.Error("processed message must not be reclassified")
	}
}

func TestProcessBatch_SecondCallIsNoOp(t *testing.T) {
	p := newTestProcessor()
	batch := domain.NewBatch(domain.PlatformSlack, []*domain.UnifiedMessage{
		testMsg("m1", "hello"),
	})

	if n := len(p.ProcessBatch(&batch)); n != 1 {
		t.Fatalf("first pass: expected 1 result, got %d", n)
	}
	if n := len(p.ProcessBatch(&batch)); n != 0 {
		t.Fatalf("second pass: expected 0 results, got %d", n)
	}
}

func TestProcessBatch_FailureDoesNotAbortBatch(t *testing.T) {
	p := newTestProcessor()
	bad := testMsg("", "no id on this one")
	batch := domain.NewBatch(domain.PlatformSlack, []*domain.UnifiedMessage{
		testMsg("m1", "first"),
		bad,
		testMsg("m3", "third"),
	})

	results := p.ProcessBatch(&batch)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].Success || !results[2].Success {
		t.Error("expected surrounding messages to succeed")
	}
	if results[1].Success {
		t.Fatal("expected middle message to fail")
	}
	if results[1].Error == "" {
		t.Error("expected failure result to carry an error")
	}
	if results[1].PriorityAssigned != domain.PriorityMedium || results[1].UrgencyScore != 0.5 {
		t.Errorf("expected medium/0.5 defaults on failure, got %s/%f",
			results[1].PriorityAssigned, results[1].UrgencyScore)
	}
	if results[1].ContextTags == nil || len(results[1].ContextTags) != 0 {
		t.Errorf("expected empty tag list on failure, got %v", results[1].ContextTags)
	}
	if bad.Processed {
		t.Error("failed message must stay unprocessed")
	}
}

func TestProcessBatch_NilMessage(t *testing.T) {
	p := newTestProcessor()
	batch := domain.NewBatch(domain.PlatformSlack, []*domain.UnifiedMessage{nil})

	results := p.ProcessBatch(&batch)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Success {
		t.Fatal("expected failure for nil message")
	}
	if results[0].MessageID != "" {
		t.Errorf("expected empty message id, got %q", results[0].MessageID)
	}
}

func TestProcessBatch_EmptyBatch(t *testing.T) {
	p := newTestProcessor()
	batch := domain.NewBatch(domain.PlatformSlack, nil)

	if results := p.ProcessBatch(&batch); len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}
