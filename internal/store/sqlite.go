// Package store persists unified messages, processing results and OAuth
// tokens in SQLite. Tokens are encrypted at rest.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ghostrider/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.MessageStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	cipher *tokenCipher
	logger *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
// encryptionKey protects stored OAuth tokens; when empty an ephemeral
// key is generated, making persisted tokens unreadable after restart.
func NewSQLiteStore(dbPath, encryptionKey string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	cipher, ephemeral, err := newTokenCipher(encryptionKey)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("token cipher: %w", err)
	}
	if ephemeral {
		logger.Warn("no encryption key configured, stored tokens will not survive a restart")
	}

	s := &SQLiteStore{db: db, cipher: cipher, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id                   TEXT PRIMARY KEY,
		platform             TEXT NOT NULL,
		content              TEXT,
		message_type         TEXT,
		timestamp            DATETIME,
		author               TEXT,
		priority             TEXT,
		urgency_score        REAL DEFAULT 0.5,
		context_tags         TEXT,
		attachments          TEXT,
		media_urls           TEXT,
		metadata             TEXT,
		sms_metadata         TEXT,
		processed            INTEGER DEFAULT 0,
		processing_timestamp DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_messages_platform ON messages(platform, timestamp);

	CREATE TABLE IF NOT EXISTS processing_results (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		message_id         TEXT NOT NULL,
		success            INTEGER NOT NULL,
		priority_assigned  TEXT,
		urgency_score      REAL,
		context_tags       TEXT,
		processing_time_ms REAL,
		error              TEXT,
		created_at         DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_results_msg ON processing_results(message_id);

	CREATE TABLE IF NOT EXISTS oauth_tokens (
		platform      TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		access_token  TEXT NOT NULL,
		refresh_token TEXT,
		expires_at    DATETIME,
		scope         TEXT,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (platform, user_id)
	);

	CREATE TABLE IF NOT EXISTS channels (
		platform     TEXT NOT NULL,
		channel_id   TEXT NOT NULL,
		name         TEXT,
		guild_id     TEXT,
		last_fetched DATETIME,
		updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (platform, channel_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *domain.UnifiedMessage) error {
	author, _ := json.Marshal(msg.Author)
	tags, _ := json.Marshal(msg.ContextTags)
	attachments, _ := json.Marshal(msg.Attachments)
	mediaURLs, _ := json.Marshal(msg.MediaURLs)
	metadata, _ := json.Marshal(msg.Metadata)

	var smsMeta any
	if msg.SMSMetadata != nil {
		data, _ := json.Marshal(msg.SMSMetadata)
		smsMeta = string(data)
	}
	var processedAt any
	if msg.ProcessingTimestamp != nil {
		processedAt = *msg.ProcessingTimestamp
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO messages
		 (id, platform, content, message_type, timestamp, author, priority, urgency_score,
		  context_tags, attachments, media_urls, metadata, sms_metadata, processed, processing_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.Platform, msg.Content, msg.MessageType, msg.Timestamp,
		string(author), msg.Priority, msg.UrgencyScore,
		string(tags), string(attachments), string(mediaURLs), string(metadata),
		smsMeta, msg.Processed, processedAt,
	)
	return err
}

func (s *SQLiteStore) GetMessage(ctx context.Context, id string) (*domain.UnifiedMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, platform, content, message_type, timestamp, author, priority, urgency_score,
		        context_tags, attachments, media_urls, metadata, sms_metadata, processed, processing_timestamp
		 FROM messages WHERE id = ?`, id,
	)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return msg, err
}

func (s *SQLiteStore) ListMessages(ctx context.Context, platform domain.Platform, limit int) ([]*domain.UnifiedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, platform, content, message_type, timestamp, author, priority, urgency_score,
		        context_tags, attachments, media_urls, metadata, sms_metadata, processed, processing_timestamp
		 FROM messages WHERE platform = ? ORDER BY timestamp DESC LIMIT ?`,
		platform, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*domain.UnifiedMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*domain.UnifiedMessage, error) {
	var msg domain.UnifiedMessage
	var author, tags, attachments, mediaURLs, metadata string
	var smsMeta sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(&msg.ID, &msg.Platform, &msg.Content, &msg.MessageType, &msg.Timestamp,
		&author, &msg.Priority, &msg.UrgencyScore,
		&tags, &attachments, &mediaURLs, &metadata,
		&smsMeta, &msg.Processed, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	json.Unmarshal([]byte(author), &msg.Author)
	json.Unmarshal([]byte(tags), &msg.ContextTags)
	json.Unmarshal([]byte(attachments), &msg.Attachments)
	json.Unmarshal([]byte(mediaURLs), &msg.MediaURLs)
	json.Unmarshal([]byte(metadata), &msg.Metadata)
	if smsMeta.Valid && smsMeta.String != "" {
		var sm domain.SMSMetadata
		if json.Unmarshal([]byte(smsMeta.String), &sm) == nil {
			msg.SMSMetadata = &sm
		}
	}
	if processedAt.Valid {
		msg.ProcessingTimestamp = &processedAt.Time
	}
	return &msg, nil
}

func (s *SQLiteStore) SaveResult(ctx context.Context, res domain.MessageProcessingResult) error {
	tags, _ := json.Marshal(res.ContextTags)
	var errStr any
	if res.Error != "" {
		errStr = res.Error
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_results
		 (message_id, success, priority_assigned, urgency_score, context_tags, processing_time_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		res.MessageID, res.Success, res.PriorityAssigned, res.UrgencyScore,
		string(tags), res.ProcessingTimeMs, errStr,
	)
	return err
}

func (s *SQLiteStore) SaveToken(ctx context.Context, token domain.OAuthToken) error {
	access, err := s.cipher.encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := s.cipher.encrypt(token.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	now := time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO oauth_tokens (platform, user_id, access_token, refresh_token, expires_at, scope, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(platform, user_id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at,
		   scope = excluded.scope,
		   updated_at = excluded.updated_at`,
		token.Platform, token.UserID, access, refresh, token.ExpiresAt, token.Scope, now, now,
	)
	return err
}

func (s *SQLiteStore) GetToken(ctx context.Context, platform domain.Platform, userID string) (*domain.OAuthToken, error) {
	var token domain.OAuthToken
	var access, refresh string
	err := s.db.QueryRowContext(ctx,
		`SELECT platform, user_id, access_token, refresh_token, expires_at, scope, created_at, updated_at
		 FROM oauth_tokens WHERE platform = ? AND user_id = ?`,
		platform, userID,
	).Scan(&token.Platform, &token.UserID, &access, &refresh,
		&token.ExpiresAt, &token.Scope, &token.CreatedAt, &token.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if token.AccessToken, err = s.cipher.decrypt(access); err != nil {
		return nil, fmt.Errorf("decrypt access token: %w", err)
	}
	if token.RefreshToken, err = s.cipher.decrypt(refresh); err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return &token, nil
}

func (s *SQLiteStore) UpsertChannel(ctx context.Context, ch domain.ChannelInfo) error {
	var lastFetched any
	if ch.LastFetched != nil {
		lastFetched = *ch.LastFetched
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (platform, channel_id, name, guild_id, last_fetched, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(platform, channel_id) DO UPDATE SET
		   name = excluded.name,
		   guild_id = excluded.guild_id,
		   last_fetched = excluded.last_fetched,
		   updated_at = excluded.updated_at`,
		ch.Platform, ch.ChannelID, ch.Name, ch.GuildID, lastFetched, time.Now(),
	)
	return err
}

func (s *SQLiteStore) ListChannels(ctx context.Context, platform domain.Platform) ([]domain.ChannelInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, channel_id, name, guild_id, last_fetched, updated_at
		 FROM channels WHERE platform = ? ORDER BY channel_id`, platform,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var channels []domain.ChannelInfo
	for rows.Next() {
		var ch domain.ChannelInfo
		var name, guildID sql.NullString
		var lastFetched sql.NullTime
		if err := rows.Scan(&ch.Platform, &ch.ChannelID, &name, &guildID, &lastFetched, &ch.UpdatedAt); err != nil {
			return nil, err
		}
		ch.Name = name.String
		ch.GuildID = guildID.String
		if lastFetched.Valid {
			ch.LastFetched = &lastFetched.Time
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
