// Package app wires the configured platform adapters, the classifier
// pipeline and the persistence layer into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ghostrider/internal/bus"
	"ghostrider/internal/classify"
	"ghostrider/internal/config"
	"ghostrider/internal/domain"
	"ghostrider/internal/metrics"
	"ghostrider/internal/platform"
	"ghostrider/internal/processor"
	"ghostrider/internal/store"
	"ghostrider/internal/web"

	"golang.org/x/oauth2"
)

const shutdownTimeout = 10 * time.Second

// App owns the adapters, the batch bus and the processing loop.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store     *store.SQLiteStore
	bus       domain.BatchBus
	processor *processor.Processor
	adapters  []domain.Adapter
	web       *web.Server
}

// New builds the application from config. Adapters are constructed but
// not connected; Run does that.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	st, err := store.NewSQLiteStore(cfg.Storage.DBPath, cfg.Storage.EncryptionKey, logger)
	if err != nil {
		return nil, fmt.Errorf("message store: %w", err)
	}

	rules := classify.DefaultRules()
	if cfg.Processing.RulesPath != "" {
		rules, err = classify.LoadRules(config.ExpandPath(cfg.Processing.RulesPath))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("classification rules: %w", err)
		}
		logger.Info("classification rules loaded", "path", cfg.Processing.RulesPath)
	}

	a := &App{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		bus:       bus.New(cfg.Processing.BusBufferSize, logger),
		processor: processor.New(classify.NewWithRules(rules), logger),
	}

	a.buildAdapters()

	if cfg.Web.Enabled {
		a.web = web.NewServer(web.ServerConfig{
			Host: cfg.Web.Host,
			Port: cfg.Web.Port,
			Discord: web.OAuthApp{
				ClientID:     cfg.Platforms.Discord.ClientID,
				ClientSecret: cfg.Platforms.Discord.ClientSecret,
				RedirectURI:  cfg.Platforms.Discord.RedirectURI,
			},
			Gmail: web.OAuthApp{
				ClientID:     cfg.Platforms.Gmail.ClientID,
				ClientSecret: cfg.Platforms.Gmail.ClientSecret,
				RedirectURI:  cfg.Platforms.Gmail.RedirectURI,
			},
			Store:  st,
			Logger: logger,
		})
	}

	return a, nil
}

func (a *App) buildAdapters() {
	p := a.cfg.Platforms

	if p.SMS.Enabled {
		a.adapters = append(a.adapters, platform.NewSMS(platform.SMSConfig{
			APIKey:   p.SMS.APIKey,
			DeviceID: p.SMS.DeviceID,
			BaseURL:  p.SMS.BaseURL,
			Logger:   a.logger,
		}))
	}
	if p.Slack.Enabled {
		a.adapters = append(a.adapters, platform.NewSlack(platform.SlackConfig{
			BotToken: p.Slack.BotToken,
			Channels: p.Slack.Channels,
			Store:    a.store,
			Logger:   a.logger,
		}))
	}
	if p.Discord.Enabled {
		a.adapters = append(a.adapters, platform.NewDiscord(platform.DiscordConfig{
			Token:    p.Discord.BotToken,
			GuildID:  p.Discord.GuildID,
			Channels: p.Discord.Channels,
			Logger:   a.logger,
		}))
	}
	if p.Gmail.Enabled {
		a.adapters = append(a.adapters, platform.NewGmail(platform.GmailConfig{
			ClientID:     p.Gmail.ClientID,
			ClientSecret: p.Gmail.ClientSecret,
			Token:        a.loadGmailToken(p.Gmail.UserID),
			Query:        p.Gmail.Query,
			Logger:       a.logger,
		}))
	}
}

// loadGmailToken fetches the stored OAuth token, if any. A missing token
// is not fatal here; Connect reports it and the adapter is skipped.
func (a *App) loadGmailToken(userID string) *oauth2.Token {
	if userID == "" {
		userID = "me"
	}
	tok, err := a.store.GetToken(context.Background(), domain.PlatformGmail, userID)
	if err != nil || tok == nil {
		return nil
	}
	return &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.ExpiresAt,
	}
}

// Run connects the adapters, starts the pollers and the processing loop,
// and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	connected := a.connectAdapters(ctx)
	if len(connected) == 0 && a.web == nil {
		return errors.New("no platforms available and web server disabled")
	}

	for _, adapter := range connected {
		go adapter.StartReceiving(ctx, a.bus.Publish)
		a.logger.Info("receiving started", "platform", adapter.Name())
	}

	processingDone := make(chan struct{})
	go func() {
		defer close(processingDone)
		a.processLoop()
	}()

	if a.web != nil {
		go func() {
			if err := a.web.Start(ctx); err != nil {
				a.logger.Error("web server stopped", "err", err)
			}
		}()
	}

	a.logger.Info("ghostrider started", "platforms", len(connected))
	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, adapter := range connected {
			adapter.StopReceiving()
		}
		a.bus.Close()
		<-processingDone
		for _, adapter := range connected {
			if err := adapter.Disconnect(); err != nil {
				a.logger.Warn("disconnect failed", "platform", adapter.Name(), "err", err)
			}
		}
		a.store.Close()
	}()

	select {
	case <-done:
		a.logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		return errors.New("shutdown timed out")
	}
}

// connectAdapters connects every configured adapter. A platform that
// fails to connect is logged and skipped; the rest keep running.
func (a *App) connectAdapters(ctx context.Context) []domain.Adapter {
	var connected []domain.Adapter
	for _, adapter := range a.adapters {
		if err := adapter.Connect(ctx); err != nil {
			a.logger.Warn("platform unavailable", "platform", adapter.Name(), "err", err)
			continue
		}
		connected = append(connected, adapter)
	}
	return connected
}

// processLoop consumes batches from the bus, persists the raw messages,
// classifies them and persists the results. Saves run under their own
// context: batches drained after the run context is cancelled must
// still reach the store.
func (a *App) processLoop() {
	for batch := range a.bus.Subscribe() {
		metrics.BatchesReceived.Inc()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

		for _, msg := range batch.Messages {
			if msg == nil {
				continue
			}
			if err := a.store.SaveMessage(ctx, msg); err != nil {
				a.logger.Warn("message save failed", "id", msg.ID, "err", err)
			}
		}

		results := a.processor.ProcessBatch(&batch)

		for _, res := range results {
			if err := a.store.SaveResult(ctx, res); err != nil {
				a.logger.Warn("result save failed", "id", res.MessageID, "err", err)
			}
		}
		for _, msg := range batch.Messages {
			if msg == nil || !msg.Processed {
				continue
			}
			if err := a.store.SaveMessage(ctx, msg); err != nil {
				a.logger.Warn("processed message save failed", "id", msg.ID, "err", err)
			}
			if msg.Priority == domain.PriorityUrgent || msg.Priority == domain.PriorityHigh {
				a.logger.Info("high priority message",
					"id", msg.ID,
					"platform", msg.Platform,
					"priority", msg.Priority,
					"score", msg.UrgencyScore,
					"tags", msg.ContextTags)
			}
		}
		cancel()
	}
}
