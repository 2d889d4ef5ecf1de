// Package postgres implements persistence.Persistence over PostgreSQL via
// pgx, for deployments that need concurrent writers beyond what the
// single-connection SQLite backend serializes through.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/persistence"
)

// Store implements persistence.Persistence backed by an externally-owned
// *pgxpool.Pool. The caller creates and closes the pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables and indexes. Safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			display_name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			theme TEXT NOT NULL DEFAULT '',
			locale TEXT NOT NULL DEFAULT '',
			submit_on_enter BOOLEAN NOT NULL DEFAULT false
		)`,
		`CREATE TABLE IF NOT EXISTS model_configs (
			id BIGSERIAL PRIMARY KEY,
			display_name TEXT NOT NULL,
			model_id TEXT NOT NULL,
			capability JSONB NOT NULL,
			parameter JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id BIGSERIAL PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			model_id BIGINT NOT NULL,
			title TEXT,
			mode INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT NOT NULL,
			kind INTEGER NOT NULL,
			chunks JSONB NOT NULL DEFAULT '[]',
			files JSONB NOT NULL DEFAULT '[]',
			cost REAL NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS messages_chat_idx ON messages(chat_id)`,
		`CREATE TABLE IF NOT EXISTS files (
			id BIGSERIAL PRIMARY KEY,
			chat_id BIGINT,
			owner_id BIGINT,
			mime_type TEXT,
			valid_until BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS files_expiry_idx ON files(chat_id, valid_until)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	return nil
}

func (s *Store) InsertMessage(ctx context.Context, msg entity.Message) (int64, error) {
	var id int64
	chunksJSON, err := json.Marshal(msg.Chunks)
	if err != nil {
		return 0, fmt.Errorf("marshal chunks: %w", err)
	}
	filesJSON, err := json.Marshal(msg.Files)
	if err != nil {
		return 0, fmt.Errorf("marshal files: %w", err)
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (chat_id, kind, chunks, files, cost, token_count) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		msg.ChatID, msg.Kind, chunksJSON, filesJSON, msg.Cost, msg.TokenCount,
	)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return id, nil
}

func (s *Store) UpdateMessage(ctx context.Context, msg entity.Message) error {
	chunksJSON, err := json.Marshal(msg.Chunks)
	if err != nil {
		return fmt.Errorf("marshal chunks: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE messages SET chunks = $1, cost = $2, token_count = $3 WHERE id = $4`,
		chunksJSON, msg.Cost, msg.TokenCount, msg.ID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (s *Store) ListMessagesByChat(ctx context.Context, chatID int64) ([]entity.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, kind, chunks, files, cost, token_count FROM messages WHERE chat_id = $1 ORDER BY id ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []entity.Message
	for rows.Next() {
		var m entity.Message
		var chunksJSON, filesJSON []byte
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Kind, &chunksJSON, &filesJSON, &m.Cost, &m.TokenCount); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal(chunksJSON, &m.Chunks); err != nil {
			return nil, fmt.Errorf("unmarshal chunks: %w", err)
		}
		if err := json.Unmarshal(filesJSON, &m.Files); err != nil {
			return nil, fmt.Errorf("unmarshal files: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) FindChat(ctx context.Context, id int64) (entity.Chat, error) {
	var c entity.Chat
	var title *string
	row := s.pool.QueryRow(ctx, `SELECT id, owner_id, model_id, title, mode FROM chats WHERE id = $1`, id)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.ModelID, &title, &c.Mode); err != nil {
		if err == pgx.ErrNoRows {
			return entity.Chat{}, persistence.ErrNotFound
		}
		return entity.Chat{}, fmt.Errorf("find chat: %w", err)
	}
	c.Title = title
	return c, nil
}

func (s *Store) UpdateChatTitle(ctx context.Context, chatID int64, title string) error {
	_, err := s.pool.Exec(ctx, `UPDATE chats SET title = $1 WHERE id = $2`, title, chatID)
	if err != nil {
		return fmt.Errorf("update chat title: %w", err)
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id int64) (entity.User, error) {
	var u entity.User
	row := s.pool.QueryRow(ctx,
		`SELECT id, display_name, password_hash, theme, locale, submit_on_enter FROM users WHERE id = $1`, id)
	if err := row.Scan(&u.ID, &u.DisplayName, &u.PasswordHash, &u.Preference.Theme, &u.Preference.Locale, &u.Preference.SubmitOnEnter); err != nil {
		if err == pgx.ErrNoRows {
			return entity.User{}, persistence.ErrNotFound
		}
		return entity.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *Store) FindModel(ctx context.Context, id int64) (entity.ModelConfig, error) {
	var m entity.ModelConfig
	var capJSON, paramJSON []byte
	row := s.pool.QueryRow(ctx,
		`SELECT id, display_name, model_id, capability, parameter FROM model_configs WHERE id = $1`, id)
	if err := row.Scan(&m.ID, &m.DisplayName, &m.ModelID, &capJSON, &paramJSON); err != nil {
		if err == pgx.ErrNoRows {
			return entity.ModelConfig{}, persistence.ErrNotFound
		}
		return entity.ModelConfig{}, fmt.Errorf("find model: %w", err)
	}
	if err := json.Unmarshal(capJSON, &m.Capability); err != nil {
		return entity.ModelConfig{}, fmt.Errorf("unmarshal capability: %w", err)
	}
	if err := json.Unmarshal(paramJSON, &m.Parameter); err != nil {
		return entity.ModelConfig{}, fmt.Errorf("unmarshal parameter: %w", err)
	}
	return m, nil
}

func (s *Store) InsertFile(ctx context.Context, f entity.File) (int64, error) {
	var id int64
	row := s.pool.QueryRow(ctx,
		`INSERT INTO files (chat_id, owner_id, mime_type, valid_until) VALUES ($1,$2,$3,$4) RETURNING id`,
		f.ChatID, f.OwnerID, f.MimeType, f.ValidUntil,
	)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	return id, nil
}

func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (s *Store) ListExpiredFiles(ctx context.Context, now int64) ([]entity.File, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, chat_id, owner_id, mime_type, valid_until FROM files
		 WHERE chat_id IS NULL AND valid_until IS NOT NULL AND valid_until <= $1`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired files: %w", err)
	}
	defer rows.Close()

	var out []entity.File
	for rows.Next() {
		var f entity.File
		if err := rows.Scan(&f.ID, &f.ChatID, &f.OwnerID, &f.MimeType, &f.ValidUntil); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

var _ persistence.Persistence = (*Store)(nil)
