package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"ghostrider/internal/domain"
	"ghostrider/internal/metrics"

	"github.com/bwmarrin/discordgo"
)

// Discord implements domain.Adapter using a bot gateway session. Message
// events are buffered internally and drained by ReceiveMessages, keeping
// the pull-based adapter contract on top of the push-based gateway.
type Discord struct {
	poller

	token    string
	guildID  string
	channels []string // channel IDs for history fetches; empty = all seen
	session  *discordgo.Session
	logger   *slog.Logger

	mu        sync.Mutex
	pending   []*domain.UnifiedMessage
	seen      map[string]struct{}
	connected bool
}

// DiscordConfig configures the Discord adapter.
type DiscordConfig struct {
	Token    string
	GuildID  string // optional: restrict to a specific guild
	Channels []string
	Logger   *slog.Logger
}

// NewDiscord creates a new Discord adapter.
func NewDiscord(cfg DiscordConfig) *Discord {
	d := &Discord{
		token:    cfg.Token,
		guildID:  cfg.GuildID,
		channels: cfg.Channels,
		logger:   cfg.Logger,
		seen:     make(map[string]struct{}),
	}
	d.poller = newPoller(domain.PlatformDiscord, cfg.Logger, d.fetch)
	return d
}

func (d *Discord) Name() domain.Platform { return domain.PlatformDiscord }

// Connect opens the gateway session and registers the message handler.
func (d *Discord) Connect(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return &domain.ConnectionError{Platform: domain.PlatformDiscord, Err: err}
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Ignore the bot's own messages.
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}
		d.enqueue(m.Message)
	})

	if err := session.Open(); err != nil {
		return &domain.ConnectionError{Platform: domain.PlatformDiscord, Err: err}
	}

	d.mu.Lock()
	d.session = session
	d.connected = true
	d.mu.Unlock()
	d.logger.Info("discord connected", "user", session.State.User.Username)
	return nil
}

func (d *Discord) Disconnect() error {
	d.mu.Lock()
	session := d.session
	wasConnected := d.connected
	d.connected = false
	d.session = nil
	d.mu.Unlock()

	if !wasConnected || session == nil {
		return nil
	}
	d.logger.Info("discord disconnecting")
	return session.Close()
}

// SendMessage sends content to the recipient channel.
func (d *Discord) SendMessage(ctx context.Context, recipient, content string) bool {
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == nil {
		d.logger.Error("discord send before connect", "recipient", recipient)
		return false
	}
	if _, err := session.ChannelMessageSend(recipient, content); err != nil {
		d.logger.Error("discord send failed", "recipient", recipient, "err", err)
		return false
	}
	return true
}

// ReceiveMessages drains the messages buffered since the last call.
func (d *Discord) ReceiveMessages(ctx context.Context) []*domain.UnifiedMessage {
	messages, _ := d.fetch(ctx)
	return messages
}

// GetMessageHistory fetches up to limit messages from the configured
// channels via the REST API.
func (d *Discord) GetMessageHistory(ctx context.Context, limit int, since *time.Time) ([]*domain.UnifiedMessage, error) {
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == nil {
		return nil, fmt.Errorf("discord: not connected")
	}

	var out []*domain.UnifiedMessage
	for _, channelID := range d.channels {
		history, err := session.ChannelMessages(channelID, limit, "", "", "")
		if err != nil {
			return nil, fmt.Errorf("discord history %s: %w", channelID, err)
		}
		for _, m := range history {
			if since != nil && m.Timestamp.Before(*since) {
				continue
			}
			out = append(out, convertDiscordMessage(m))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func (d *Discord) fetch(ctx context.Context) ([]*domain.UnifiedMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		return nil, nil
	}
	messages := d.pending
	d.pending = nil
	return messages, nil
}

func (d *Discord) enqueue(m *discordgo.Message) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[m.ID]; ok {
		return
	}
	d.seen[m.ID] = struct{}{}
	d.pending = append(d.pending, convertDiscordMessage(m))
	metrics.MessagesReceived(string(domain.PlatformDiscord)).Inc()
}

func convertDiscordMessage(m *discordgo.Message) *domain.UnifiedMessage {
	author := domain.MessageAuthor{}
	if m.Author != nil {
		author.ID = m.Author.ID
		author.Name = m.Author.Username
		author.AvatarURL = m.Author.AvatarURL("")
	}

	meta := domain.MessageMetadata{
		Platform:  domain.PlatformDiscord,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		RawData:   toRawData(m),
	}
	if m.MessageReference != nil {
		meta.ThreadID = m.MessageReference.MessageID
	}

	msg := domain.NewUnifiedMessage("discord_"+m.ID, domain.PlatformDiscord, m.Content, m.Timestamp, author, meta)

	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, att.URL)
		if strings.HasPrefix(att.ContentType, "image/") || strings.HasPrefix(att.ContentType, "video/") {
			msg.MediaURLs = append(msg.MediaURLs, att.URL)
		}
	}
	if len(msg.MediaURLs) > 0 {
		msg.MessageType = domain.TypeImage
	} else if len(msg.Attachments) > 0 {
		msg.MessageType = domain.TypeFile
	}
	return msg
}
