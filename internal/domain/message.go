package domain

import (
	"fmt"
	"time"
)

// Platform identifies the source messaging platform.
type Platform string

const (
	PlatformSMS     Platform = "sms"
	PlatformSlack   Platform = "slack"
	PlatformDiscord Platform = "discord"
	PlatformGmail   Platform = "gmail"
)

// Priority is the discrete urgency tier assigned by the classifier.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// MessageType describes the content kind of a message.
type MessageType string

const (
	TypeText  MessageType = "text"
	TypeImage MessageType = "image"
	TypeFile  MessageType = "file"
	TypeAudio MessageType = "audio"
	TypeVideo MessageType = "video"
	TypeLink  MessageType = "link"
)

// MessageAuthor holds author information across platforms.
type MessageAuthor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// MessageMetadata carries platform-specific context. RawData preserves the
// original provider payload for auditing.
type MessageMetadata struct {
	Platform    Platform       `json:"platform"`
	ChannelID   string         `json:"channel_id,omitempty"`
	ChannelName string         `json:"channel_name,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty"`
	MessageID   string         `json:"message_id"`
	RawData     map[string]any `json:"raw_data,omitempty"`
}

// SMSMetadata is present only on messages from the SMS gateway.
type SMSMetadata struct {
	DeviceID    string `json:"device_id"`
	PhoneNumber string `json:"phone_number"`
	Carrier     string `json:"carrier,omitempty"`
	SIMSlot     int    `json:"sim_slot,omitempty"`
}

// UnifiedMessage is the platform-agnostic message record. Adapters create
// them unclassified; the processor mutates Priority, UrgencyScore,
// ContextTags and the processing state in place.
type UnifiedMessage struct {
	ID          string      `json:"id"`
	Platform    Platform    `json:"platform"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"message_type"`
	Timestamp   time.Time   `json:"timestamp"`

	Author MessageAuthor `json:"author"`

	Priority     Priority `json:"priority"`
	UrgencyScore float64  `json:"urgency_score"`
	ContextTags  []string `json:"context_tags"`

	Attachments []string `json:"attachments,omitempty"`
	MediaURLs   []string `json:"media_urls,omitempty"`

	Metadata    MessageMetadata `json:"metadata"`
	SMSMetadata *SMSMetadata    `json:"sms_metadata,omitempty"`

	// Processed is true iff ProcessingTimestamp is set and the classifier
	// has assigned priority, score and tags. Processed messages are never
	// reprocessed.
	Processed           bool       `json:"processed"`
	ProcessingTimestamp *time.Time `json:"processing_timestamp,omitempty"`
}

// NewUnifiedMessage creates an unclassified message with default
// priority (medium) and urgency score (0.5).
func NewUnifiedMessage(id string, platform Platform, content string, ts time.Time, author MessageAuthor, meta MessageMetadata) *UnifiedMessage {
	return &UnifiedMessage{
		ID:           id,
		Platform:     platform,
		Content:      content,
		MessageType:  TypeText,
		Timestamp:    ts,
		Author:       author,
		Priority:     PriorityMedium,
		UrgencyScore: 0.5,
		Metadata:     meta,
	}
}

// MessageBatch groups the messages of one fetch cycle. Batches are
// transient: created by the polling driver, consumed by the processor.
type MessageBatch struct {
	Messages   []*UnifiedMessage `json:"messages"`
	BatchID    string            `json:"batch_id"`
	Platform   Platform          `json:"platform"`
	Timestamp  time.Time         `json:"timestamp"`
	TotalCount int               `json:"total_count"`
}

// NewBatch wraps messages into a batch stamped with the current time.
func NewBatch(platform Platform, messages []*UnifiedMessage) MessageBatch {
	now := time.Now()
	return MessageBatch{
		Messages:   messages,
		BatchID:    fmt.Sprintf("%s_%d", platform, now.Unix()),
		Platform:   platform,
		Timestamp:  now,
		TotalCount: len(messages),
	}
}

// UnprocessedMessages returns the messages not yet classified.
func (b *MessageBatch) UnprocessedMessages() []*UnifiedMessage {
	var out []*UnifiedMessage
	for _, m := range b.Messages {
		if m != nil && !m.Processed {
			out = append(out, m)
		}
	}
	return out
}

// MessageProcessingResult records the outcome of classifying one message.
// Error is set iff Success is false.
type MessageProcessingResult struct {
	MessageID        string   `json:"message_id"`
	Success          bool     `json:"success"`
	PriorityAssigned Priority `json:"priority_assigned"`
	UrgencyScore     float64  `json:"urgency_score"`
	ContextTags      []string `json:"context_tags"`
	ProcessingTimeMs float64  `json:"processing_time_ms"`
	Error            string   `json:"error,omitempty"`
}
