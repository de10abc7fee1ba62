package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ghostrider/internal/domain"
	"ghostrider/internal/metrics"
)

const defaultTextBeeBaseURL = "https://api.textbee.dev/api/v1"

// SMS implements domain.Adapter for the TextBee SMS gateway. Incoming
// texts are fetched by polling the device's received-SMS endpoint.
type SMS struct {
	poller

	apiKey   string
	deviceID string
	baseURL  string
	client   *http.Client
	logger   *slog.Logger

	mu        sync.Mutex
	seen      map[string]struct{}
	connected bool
}

// SMSConfig configures the TextBee adapter.
type SMSConfig struct {
	APIKey   string
	DeviceID string
	BaseURL  string
	Logger   *slog.Logger
}

// NewSMS creates a new TextBee SMS adapter.
func NewSMS(cfg SMSConfig) *SMS {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTextBeeBaseURL
	}
	s := &SMS{
		apiKey:   cfg.APIKey,
		deviceID: cfg.DeviceID,
		baseURL:  cfg.BaseURL,
		client:   newHTTPClient(requestTimeout),
		logger:   cfg.Logger,
		seen:     make(map[string]struct{}),
	}
	s.poller = newPoller(domain.PlatformSMS, cfg.Logger, s.fetch)
	return s
}

func (s *SMS) Name() domain.Platform { return domain.PlatformSMS }

// Connect verifies credentials and device by fetching the received-SMS
// endpoint once.
func (s *SMS) Connect(ctx context.Context) error {
	resp, err := s.get(ctx, s.receivedURL())
	if err != nil {
		return &domain.ConnectionError{Platform: domain.PlatformSMS, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.ConnectionError{
			Platform: domain.PlatformSMS,
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.logger.Info("sms gateway connected", "device_id", s.deviceID)
	return nil
}

func (s *SMS) Disconnect() error {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()
	if wasConnected {
		s.client.CloseIdleConnections()
		s.logger.Info("sms gateway disconnected")
	}
	return nil
}

// SendMessage sends an SMS to the recipient. Returns true only on
// confirmed gateway acceptance.
func (s *SMS) SendMessage(ctx context.Context, recipient, content string) bool {
	payload, _ := json.Marshal(map[string]any{
		"recipients": []string{recipient},
		"message":    content,
	})

	url := fmt.Sprintf("%s/gateway/devices/%s/send-sms", s.baseURL, s.deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		s.logger.Error("sms send request build failed", "recipient", recipient, "err", err)
		return false
	}
	req.Header.Set("x-api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("sms send failed", "recipient", recipient, "err", err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Error("sms send rejected", "recipient", recipient, "status", resp.StatusCode)
		return false
	}

	var result struct {
		Success bool `json:"success"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		s.logger.Error("sms send response decode failed", "err", err)
		return false
	}
	return result.Success
}

// ReceiveMessages fetches newly received texts, deduplicated against
// already-seen gateway message IDs. Provider errors are contained: they
// are logged and an empty result is returned.
func (s *SMS) ReceiveMessages(ctx context.Context) []*domain.UnifiedMessage {
	messages, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("sms receive failed", "err", err)
		return nil
	}
	return messages
}

// GetMessageHistory returns up to limit received texts. The TextBee API
// has no dedicated history endpoint, so this reads the received list
// without touching the dedup set.
func (s *SMS) GetMessageHistory(ctx context.Context, limit int, since *time.Time) ([]*domain.UnifiedMessage, error) {
	raw, err := s.fetchRaw(ctx)
	if err != nil {
		return nil, err
	}

	var out []*domain.UnifiedMessage
	for _, data := range raw {
		msg, err := s.convert(data)
		if err != nil {
			continue
		}
		if since != nil && msg.Timestamp.Before(*since) {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *SMS) fetch(ctx context.Context) ([]*domain.UnifiedMessage, error) {
	raw, err := s.fetchRaw(ctx)
	if err != nil {
		return nil, err
	}

	var messages []*domain.UnifiedMessage
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, data := range raw {
		id, _ := data["_id"].(string)
		if id == "" {
			continue
		}
		if _, ok := s.seen[id]; ok {
			continue
		}
		msg, err := s.convert(data)
		if err != nil {
			s.logger.Warn("sms conversion failed", "message_id", id, "err", err)
			continue
		}
		s.seen[id] = struct{}{}
		messages = append(messages, msg)
		metrics.MessagesReceived(string(domain.PlatformSMS)).Inc()
	}
	return messages, nil
}

func (s *SMS) fetchRaw(ctx context.Context) ([]map[string]any, error) {
	resp, err := s.get(ctx, s.receivedURL())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("textbee status %d: %s", resp.StatusCode, body)
	}

	var payload struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode textbee response: %w", err)
	}
	return payload.Data, nil
}

func (s *SMS) convert(data map[string]any) (*domain.UnifiedMessage, error) {
	id, _ := data["_id"].(string)
	if id == "" {
		return nil, fmt.Errorf("sms payload has no _id")
	}
	content, _ := data["message"].(string)
	phone, _ := data["sender"].(string)

	ts := parseGatewayTime(data["receivedAt"])

	author := domain.MessageAuthor{ID: phone, Name: phone, Phone: phone}
	meta := domain.MessageMetadata{
		Platform:  domain.PlatformSMS,
		MessageID: id,
		RawData:   data,
	}

	msg := domain.NewUnifiedMessage("sms_"+id, domain.PlatformSMS, content, ts, author, meta)
	msg.SMSMetadata = &domain.SMSMetadata{
		DeviceID:    s.deviceID,
		PhoneNumber: phone,
	}
	return msg, nil
}

func (s *SMS) receivedURL() string {
	return fmt.Sprintf("%s/gateway/devices/%s/get-received-sms", s.baseURL, s.deviceID)
}

func (s *SMS) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", s.apiKey)
	return s.client.Do(req)
}

// parseGatewayTime handles both RFC3339 strings and epoch-millisecond
// numbers; anything unparsable falls back to the ingestion time.
func parseGatewayTime(v any) time.Time {
	switch t := v.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed
		}
	case float64:
		return time.UnixMilli(int64(t))
	}
	return time.Now()
}
