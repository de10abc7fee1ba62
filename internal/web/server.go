// Package web exposes the HTTP surface: health and metrics endpoints and
// the OAuth authorization flows for Discord and Gmail.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"ghostrider/internal/domain"
	"ghostrider/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const stateTTL = 10 * time.Minute

var discordEndpoint = oauth2.Endpoint{
	AuthURL:  "https://discord.com/oauth2/authorize",
	TokenURL: "https://discord.com/api/oauth2/token",
}

// OAuthApp holds one provider's OAuth client settings.
type OAuthApp struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host    string
	Port    int
	Discord OAuthApp
	Gmail   OAuthApp
	Store   domain.MessageStore
	Logger  *slog.Logger
}

// Server serves health, metrics and OAuth endpoints.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	store  domain.MessageStore
	srv    *http.Server

	mu     sync.Mutex
	states map[string]time.Time // pending OAuth states
}

func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		store:  cfg.Store,
		states: make(map[string]time.Time),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	r.Get("/metrics", metrics.Collector.Handler())

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/discord/start", s.handleStart(s.discordConfig(), "discord"))
		r.Get("/discord/callback", s.handleDiscordCallback)
		r.Get("/google/start", s.handleStart(s.googleConfig(), "google"))
		r.Get("/google/callback", s.handleGoogleCallback)
	})

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) discordConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.cfg.Discord.ClientID,
		ClientSecret: s.cfg.Discord.ClientSecret,
		RedirectURL:  s.cfg.Discord.RedirectURI,
		Endpoint:     discordEndpoint,
		Scopes:       orDefault(s.cfg.Discord.Scopes, []string{"identify", "guilds"}),
	}
}

func (s *Server) googleConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.cfg.Gmail.ClientID,
		ClientSecret: s.cfg.Gmail.ClientSecret,
		RedirectURL:  s.cfg.Gmail.RedirectURI,
		Endpoint:     google.Endpoint,
		Scopes:       orDefault(s.cfg.Gmail.Scopes, []string{"https://www.googleapis.com/auth/gmail.readonly"}),
	}
}

// handleStart issues a fresh state token and redirects to the provider's
// authorization page.
func (s *Server) handleStart(cfg *oauth2.Config, provider string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.ClientID == "" {
			http.Error(w, provider+" oauth not configured", http.StatusServiceUnavailable)
			return
		}
		state := uuid.NewString()
		s.mu.Lock()
		s.states[state] = time.Now().Add(stateTTL)
		s.mu.Unlock()

		opts := []oauth2.AuthCodeOption{}
		if provider == "google" {
			// offline access yields a refresh token.
			opts = append(opts, oauth2.AccessTypeOffline)
		}
		http.Redirect(w, r, cfg.AuthCodeURL(state, opts...), http.StatusFound)
	}
}

func (s *Server) consumeState(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return time.Now().Before(expiry)
}

func (s *Server) handleDiscordCallback(w http.ResponseWriter, r *http.Request) {
	token := s.exchange(w, r, s.discordConfig())
	if token == nil {
		return
	}

	userID, err := s.discordUserID(r.Context(), token)
	if err != nil {
		s.logger.Error("discord user lookup failed", "err", err)
		http.Error(w, "could not resolve discord user", http.StatusBadGateway)
		return
	}

	if err := s.saveToken(r.Context(), domain.PlatformDiscord, userID, token); err != nil {
		s.logger.Error("discord token save failed", "err", err)
		http.Error(w, "could not store token", http.StatusInternalServerError)
		return
	}
	s.logger.Info("discord account linked", "user_id", userID)
	fmt.Fprintln(w, "Discord account linked. You can close this window.")
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	token := s.exchange(w, r, s.googleConfig())
	if token == nil {
		return
	}

	if err := s.saveToken(r.Context(), domain.PlatformGmail, "me", token); err != nil {
		s.logger.Error("gmail token save failed", "err", err)
		http.Error(w, "could not store token", http.StatusInternalServerError)
		return
	}
	s.logger.Info("gmail account linked")
	fmt.Fprintln(w, "Gmail account linked. You can close this window.")
}

// exchange validates the state and trades the authorization code for a
// token. Writes the error response itself and returns nil on failure.
func (s *Server) exchange(w http.ResponseWriter, r *http.Request, cfg *oauth2.Config) *oauth2.Token {
	if !s.consumeState(r.URL.Query().Get("state")) {
		http.Error(w, "invalid or expired state", http.StatusBadRequest)
		return nil
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return nil
	}

	token, err := cfg.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Error("oauth exchange failed", "err", err)
		http.Error(w, "token exchange failed", http.StatusBadGateway)
		return nil
	}
	return token
}

func (s *Server) saveToken(ctx context.Context, platform domain.Platform, userID string, token *oauth2.Token) error {
	if s.store == nil {
		return fmt.Errorf("no store configured")
	}
	return s.store.SaveToken(ctx, domain.OAuthToken{
		Platform:     platform,
		UserID:       userID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	})
}

func (s *Server) discordUserID(ctx context.Context, token *oauth2.Token) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://discord.com/api/users/@me", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("users/@me status %d", resp.StatusCode)
	}

	var user struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return "", err
	}
	return user.ID, nil
}

func orDefault(scopes, fallback []string) []string {
	if len(scopes) > 0 {
		return scopes
	}
	return fallback
}
