package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"ghostrider/internal/domain"
	"ghostrider/internal/metrics"

	"github.com/slack-go/slack"
)

// Slack implements domain.Adapter by polling conversation history for a
// configured set of channels through the Slack Web API.
type Slack struct {
	poller

	botToken string
	apiURL   string
	channels []string
	store    domain.MessageStore // optional: per-channel watermark persistence
	logger   *slog.Logger

	mu        sync.Mutex
	client    *slack.Client
	botUID    string // the bot's own user ID, to skip its own messages
	seen      map[string]struct{}
	lastTS    map[string]string // channel ID -> newest message ts seen
	userCache map[string]*slack.User
	connected bool
}

// SlackConfig configures the Slack adapter.
type SlackConfig struct {
	BotToken string
	Channels []string            // channel IDs to poll
	APIURL   string              // optional Web API base URL override
	Store    domain.MessageStore // optional: survives watermarks across restarts
	Logger   *slog.Logger
}

// NewSlack creates a new Slack adapter.
func NewSlack(cfg SlackConfig) *Slack {
	s := &Slack{
		botToken:  cfg.BotToken,
		apiURL:    cfg.APIURL,
		channels:  cfg.Channels,
		store:     cfg.Store,
		logger:    cfg.Logger,
		seen:      make(map[string]struct{}),
		lastTS:    make(map[string]string),
		userCache: make(map[string]*slack.User),
	}
	s.poller = newPoller(domain.PlatformSlack, cfg.Logger, s.fetch)
	return s
}

func (s *Slack) Name() domain.Platform { return domain.PlatformSlack }

// Connect authenticates the bot token and restores persisted channel
// watermarks.
func (s *Slack) Connect(ctx context.Context) error {
	var opts []slack.Option
	if s.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(s.apiURL))
	}
	client := slack.New(s.botToken, opts...)
	auth, err := client.AuthTestContext(ctx)
	if err != nil {
		return &domain.ConnectionError{Platform: domain.PlatformSlack, Err: err}
	}

	s.mu.Lock()
	s.client = client
	s.botUID = auth.UserID
	s.connected = true
	s.mu.Unlock()

	s.restoreWatermarks(ctx)

	s.logger.Info("slack connected", "user", auth.User, "user_id", auth.UserID)
	return nil
}

func (s *Slack) Disconnect() error {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.client = nil
	s.mu.Unlock()
	if wasConnected {
		s.logger.Info("slack disconnected")
	}
	return nil
}

// SendMessage posts content to the recipient channel.
func (s *Slack) SendMessage(ctx context.Context, recipient, content string) bool {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		s.logger.Error("slack send before connect", "recipient", recipient)
		return false
	}
	_, _, err := client.PostMessageContext(ctx, recipient,
		slack.MsgOptionText(content, false),
	)
	if err != nil {
		s.logger.Error("slack send failed", "recipient", recipient, "err", err)
		return false
	}
	return true
}

// ReceiveMessages polls each configured channel for messages newer than
// the last seen timestamp. Errors are contained and logged.
func (s *Slack) ReceiveMessages(ctx context.Context) []*domain.UnifiedMessage {
	messages, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("slack receive failed", "err", err)
		return nil
	}
	return messages
}

// GetMessageHistory fetches up to limit messages across the configured
// channels without advancing the polling watermarks.
func (s *Slack) GetMessageHistory(ctx context.Context, limit int, since *time.Time) ([]*domain.UnifiedMessage, error) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("slack: not connected")
	}

	var out []*domain.UnifiedMessage
	for _, channelID := range s.channels {
		params := &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Limit:     limit,
		}
		if since != nil {
			params.Oldest = slackTS(*since)
		}
		resp, err := client.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("slack history %s: %w", channelID, err)
		}
		for i := range resp.Messages {
			out = append(out, s.convert(ctx, channelID, &resp.Messages[i]))
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// fetch polls every configured channel. A failing channel is logged and
// skipped so it cannot discard messages the other channels already
// delivered; the error is surfaced only when nothing was collected.
func (s *Slack) fetch(ctx context.Context) ([]*domain.UnifiedMessage, error) {
	s.mu.Lock()
	client := s.client
	botUID := s.botUID
	s.mu.Unlock()
	if client == nil {
		return nil, fmt.Errorf("slack: not connected")
	}

	var messages []*domain.UnifiedMessage
	var firstErr error
	for _, channelID := range s.channels {
		s.mu.Lock()
		oldest := s.lastTS[channelID]
		s.mu.Unlock()

		resp, err := client.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channelID,
			Oldest:    oldest,
			Limit:     100,
		})
		if err != nil {
			s.logger.Warn("slack history fetch failed", "channel_id", channelID, "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("slack history %s: %w", channelID, err)
			}
			continue
		}

		newest := oldest
		// History comes newest first; walk backwards for delivery order.
		for i := len(resp.Messages) - 1; i >= 0; i-- {
			m := &resp.Messages[i]
			if m.User == "" || m.User == botUID || m.SubType != "" {
				continue
			}
			key := channelID + "/" + m.Timestamp
			s.mu.Lock()
			if _, ok := s.seen[key]; ok {
				s.mu.Unlock()
				continue
			}
			s.seen[key] = struct{}{}
			if m.Timestamp > s.lastTS[channelID] {
				s.lastTS[channelID] = m.Timestamp
			}
			newest = s.lastTS[channelID]
			s.mu.Unlock()

			messages = append(messages, s.convert(ctx, channelID, m))
			metrics.MessagesReceived(string(domain.PlatformSlack)).Inc()
		}

		if newest != oldest {
			s.persistWatermark(ctx, channelID, newest)
		}
	}

	if len(messages) == 0 && firstErr != nil {
		return nil, firstErr
	}
	return messages, nil
}

// persistWatermark records the newest fetched timestamp for a channel so
// a restart resumes where this process left off.
func (s *Slack) persistWatermark(ctx context.Context, channelID, ts string) {
	if s.store == nil {
		return
	}
	fetched := parseSlackTS(ts)
	err := s.store.UpsertChannel(ctx, domain.ChannelInfo{
		Platform:    domain.PlatformSlack,
		ChannelID:   channelID,
		LastFetched: &fetched,
	})
	if err != nil {
		s.logger.Warn("slack watermark save failed", "channel_id", channelID, "err", err)
	}
}

// restoreWatermarks seeds lastTS from persisted channel state.
func (s *Slack) restoreWatermarks(ctx context.Context) {
	if s.store == nil {
		return
	}
	channels, err := s.store.ListChannels(ctx, domain.PlatformSlack)
	if err != nil {
		s.logger.Warn("slack watermark restore failed", "err", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range channels {
		if ch.LastFetched != nil {
			s.lastTS[ch.ChannelID] = slackTS(*ch.LastFetched)
		}
	}
}

func (s *Slack) convert(ctx context.Context, channelID string, m *slack.Message) *domain.UnifiedMessage {
	author := domain.MessageAuthor{ID: m.User, Name: m.User}
	if user := s.lookupUser(ctx, m.User); user != nil {
		author.Name = user.RealName
		if author.Name == "" {
			author.Name = user.Name
		}
		author.Email = user.Profile.Email
		author.AvatarURL = user.Profile.Image48
	}

	meta := domain.MessageMetadata{
		Platform:  domain.PlatformSlack,
		ChannelID: channelID,
		ThreadID:  m.ThreadTimestamp,
		MessageID: m.Timestamp,
		RawData:   toRawData(m),
	}

	msg := domain.NewUnifiedMessage(
		"slack_"+channelID+"_"+m.Timestamp,
		domain.PlatformSlack,
		m.Text,
		parseSlackTS(m.Timestamp),
		author,
		meta,
	)

	for _, f := range m.Files {
		msg.Attachments = append(msg.Attachments, f.URLPrivate)
		if strings.HasPrefix(f.Mimetype, "image/") || strings.HasPrefix(f.Mimetype, "video/") {
			msg.MediaURLs = append(msg.MediaURLs, f.URLPrivate)
		}
	}
	if len(msg.MediaURLs) > 0 {
		msg.MessageType = domain.TypeImage
	} else if len(msg.Attachments) > 0 {
		msg.MessageType = domain.TypeFile
	}
	return msg
}

func (s *Slack) lookupUser(ctx context.Context, userID string) *slack.User {
	if userID == "" {
		return nil
	}
	s.mu.Lock()
	client := s.client
	if user, ok := s.userCache[userID]; ok {
		s.mu.Unlock()
		return user
	}
	s.mu.Unlock()
	if client == nil {
		return nil
	}

	user, err := client.GetUserInfoContext(ctx, userID)
	if err != nil {
		s.logger.Warn("slack user lookup failed", "user_id", userID, "err", err)
		return nil
	}
	s.mu.Lock()
	s.userCache[userID] = user
	s.mu.Unlock()
	return user
}

// parseSlackTS converts a Slack "seconds.micros" timestamp. Unparsable
// values default to the ingestion time.
func parseSlackTS(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Now()
	}
	var micros int64
	if len(parts) == 2 {
		micros, _ = strconv.ParseInt(parts[1], 10, 64)
	}
	return time.Unix(sec, micros*1000)
}

func slackTS(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// toRawData preserves the provider payload as an opaque map.
func toRawData(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
