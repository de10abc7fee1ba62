package domain

import (
	"context"
	"time"
)

// OAuthToken is a persisted provider token. Access and refresh tokens
// are encrypted at rest by the store.
type OAuthToken struct {
	Platform     Platform
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	Scope        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChannelInfo caches a provider channel with a fetch watermark.
type ChannelInfo struct {
	Platform    Platform
	ChannelID   string
	Name        string
	GuildID     string
	LastFetched *time.Time
	UpdatedAt   time.Time
}

// MessageStore persists unified messages, classification results and
// OAuth tokens. The classifier core never touches it; the app layer does.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg *UnifiedMessage) error
	GetMessage(ctx context.Context, id string) (*UnifiedMessage, error)
	ListMessages(ctx context.Context, platform Platform, limit int) ([]*UnifiedMessage, error)

	SaveResult(ctx context.Context, res MessageProcessingResult) error

	SaveToken(ctx context.Context, token OAuthToken) error
	GetToken(ctx context.Context, platform Platform, userID string) (*OAuthToken, error)

	UpsertChannel(ctx context.Context, ch ChannelInfo) error
	ListChannels(ctx context.Context, platform Platform) ([]ChannelInfo, error)

	Close() error
}
