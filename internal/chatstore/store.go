// Package chatstore keeps the chats a bot has seen, so listing stays stable
// after the platform forgets them.
package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"telesend/internal/domain"

	_ "modernc.org/sqlite"
)

// Store implements a known-chat cache on SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open creates the database file and its directory if needed and applies
// pending migrations.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// Save upserts chats for platform. New chats keep the order given; known
// chats get their title and last_seen refreshed. Chats with an empty title
// do not overwrite a stored title.
func (s *Store) Save(ctx context.Context, platform string, chats []domain.Chat) error {
	if len(chats) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chats (platform, chat_id, title, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(platform, chat_id) DO UPDATE SET
			title = CASE WHEN excluded.title != '' THEN excluded.title ELSE chats.title END,
			last_seen = excluded.last_seen`)
	if err != nil {
		return fmt.Errorf("prepare save: %w", err)
	}
	defer stmt.Close()

	now := s.now().UnixNano()
	for _, c := range chats {
		if _, err := stmt.ExecContext(ctx, platform, c.ID, c.Title, now, now); err != nil {
			return fmt.Errorf("save chat %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	s.logger.Debug("chats saved", "platform", platform, "count", len(chats))
	return nil
}

// List returns every stored chat for platform in first-seen order.
func (s *Store) List(ctx context.Context, platform string) ([]domain.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, title FROM chats WHERE platform = ? ORDER BY first_seen, rowid`,
		platform,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []domain.Chat
	for rows.Next() {
		var c domain.Chat
		if err := rows.Scan(&c.ID, &c.Title); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
