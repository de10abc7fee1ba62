package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strconv"
	"sync"
	"time"

	"ghostrider/internal/domain"
	"ghostrider/internal/metrics"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const gmailAPIBase = "https://gmail.googleapis.com/gmail/v1/users/me"

// Gmail implements domain.Adapter against the Gmail REST API using an
// OAuth token source.
type Gmail struct {
	poller

	oauthCfg *oauth2.Config
	token    *oauth2.Token
	query    string
	logger   *slog.Logger

	mu        sync.Mutex
	client    *http.Client
	seen      map[string]struct{}
	connected bool
}

// GmailConfig configures the Gmail adapter. Token is a previously
// exchanged OAuth token (typically loaded from the store).
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	Token        *oauth2.Token
	Query        string // Gmail search query, e.g. "in:inbox"
	Logger       *slog.Logger
}

// NewGmail creates a new Gmail adapter.
func NewGmail(cfg GmailConfig) *Gmail {
	if cfg.Query == "" {
		cfg.Query = "in:inbox"
	}
	g := &Gmail{
		oauthCfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"https://www.googleapis.com/auth/gmail.readonly"},
		},
		token:  cfg.Token,
		query:  cfg.Query,
		logger: cfg.Logger,
		seen:   make(map[string]struct{}),
	}
	g.poller = newPoller(domain.PlatformGmail, cfg.Logger, g.fetch)
	return g
}

func (g *Gmail) Name() domain.Platform { return domain.PlatformGmail }

// Connect builds the authenticated client and verifies it against the
// profile endpoint. The token source refreshes expired tokens on use.
func (g *Gmail) Connect(ctx context.Context) error {
	if g.token == nil {
		return &domain.ConnectionError{
			Platform: domain.PlatformGmail,
			Err:      fmt.Errorf("no oauth token configured"),
		}
	}

	base := context.WithValue(context.Background(), oauth2.HTTPClient, newHTTPClient(requestTimeout))
	client := g.oauthCfg.Client(base, g.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gmailAPIBase+"/profile", nil)
	if err != nil {
		return &domain.ConnectionError{Platform: domain.PlatformGmail, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &domain.ConnectionError{Platform: domain.PlatformGmail, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.ConnectionError{
			Platform: domain.PlatformGmail,
			Err:      fmt.Errorf("profile status %d", resp.StatusCode),
		}
	}

	g.mu.Lock()
	g.client = client
	g.connected = true
	g.mu.Unlock()
	g.logger.Info("gmail connected")
	return nil
}

func (g *Gmail) Disconnect() error {
	g.mu.Lock()
	wasConnected := g.connected
	g.connected = false
	g.client = nil
	g.mu.Unlock()
	if wasConnected {
		g.logger.Info("gmail disconnected")
	}
	return nil
}

// SendMessage is not supported for the read-only Gmail scope; it always
// reports failure.
func (g *Gmail) SendMessage(ctx context.Context, recipient, content string) bool {
	g.logger.Warn("gmail send not supported with read-only scope", "recipient", recipient)
	return false
}

// ReceiveMessages polls for new inbox messages matching the configured
// query. Errors are contained and logged.
func (g *Gmail) ReceiveMessages(ctx context.Context) []*domain.UnifiedMessage {
	messages, err := g.fetch(ctx)
	if err != nil {
		g.logger.Warn("gmail receive failed", "err", err)
		return nil
	}
	return messages
}

// GetMessageHistory fetches up to limit messages matching the query.
func (g *Gmail) GetMessageHistory(ctx context.Context, limit int, since *time.Time) ([]*domain.UnifiedMessage, error) {
	query := g.query
	if since != nil {
		query = fmt.Sprintf("%s after:%d", query, since.Unix())
	}
	ids, err := g.listMessageIDs(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	var out []*domain.UnifiedMessage
	for _, id := range ids {
		msg, err := g.getMessage(ctx, id)
		if err != nil {
			g.logger.Warn("gmail message fetch failed", "message_id", id, "err", err)
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

func (g *Gmail) fetch(ctx context.Context) ([]*domain.UnifiedMessage, error) {
	ids, err := g.listMessageIDs(ctx, g.query, 25)
	if err != nil {
		return nil, err
	}

	var messages []*domain.UnifiedMessage
	for _, id := range ids {
		g.mu.Lock()
		_, dup := g.seen[id]
		g.mu.Unlock()
		if dup {
			continue
		}

		msg, err := g.getMessage(ctx, id)
		if err != nil {
			g.logger.Warn("gmail message fetch failed", "message_id", id, "err", err)
			continue
		}

		g.mu.Lock()
		g.seen[id] = struct{}{}
		g.mu.Unlock()
		messages = append(messages, msg)
		metrics.MessagesReceived(string(domain.PlatformGmail)).Inc()
	}
	return messages, nil
}

func (g *Gmail) listMessageIDs(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	u := fmt.Sprintf("%s/messages?q=%s&maxResults=%d", gmailAPIBase, url.QueryEscape(query), limit)

	var payload struct {
		Messages []struct {
			ID string `json:"id"`
		} `json:"messages"`
	}
	if err := g.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(payload.Messages))
	for _, m := range payload.Messages {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (g *Gmail) getMessage(ctx context.Context, id string) (*domain.UnifiedMessage, error) {
	var payload struct {
		ID           string `json:"id"`
		ThreadID     string `json:"threadId"`
		Snippet      string `json:"snippet"`
		InternalDate string `json:"internalDate"`
		Payload      struct {
			Headers []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"headers"`
		} `json:"payload"`
	}
	u := fmt.Sprintf("%s/messages/%s?format=metadata", gmailAPIBase, id)
	if err := g.getJSON(ctx, u, &payload); err != nil {
		return nil, err
	}

	var from, subject string
	for _, h := range payload.Payload.Headers {
		switch h.Name {
		case "From":
			from = h.Value
		case "Subject":
			subject = h.Value
		}
	}

	author := domain.MessageAuthor{ID: from, Name: from}
	if addr, err := mail.ParseAddress(from); err == nil {
		author.ID = addr.Address
		author.Email = addr.Address
		author.Name = addr.Name
		if author.Name == "" {
			author.Name = addr.Address
		}
	}

	ts := time.Now()
	if ms, err := strconv.ParseInt(payload.InternalDate, 10, 64); err == nil {
		ts = time.UnixMilli(ms)
	}

	content := subject
	if payload.Snippet != "" {
		content = subject + "\n\n" + payload.Snippet
	}

	meta := domain.MessageMetadata{
		Platform:  domain.PlatformGmail,
		ThreadID:  payload.ThreadID,
		MessageID: payload.ID,
		RawData:   toRawData(payload),
	}
	return domain.NewUnifiedMessage("gmail_"+payload.ID, domain.PlatformGmail, content, ts, author, meta), nil
}

func (g *Gmail) getJSON(ctx context.Context, url string, out any) error {
	g.mu.Lock()
	client := g.client
	g.mu.Unlock()
	if client == nil {
		return fmt.Errorf("gmail: not connected")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gmail status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
