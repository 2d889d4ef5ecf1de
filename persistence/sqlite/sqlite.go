// Package sqlite implements persistence.Persistence using pure-Go SQLite
// (modernc.org/sqlite, zero CGO), mirroring the structured-logging and
// single-connection-pool conventions of the rest of this codebase's storage
// layer.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pinkfuwa/llumen-go/chat/entity"
	"github.com/pinkfuwa/llumen-go/persistence"

	_ "modernc.org/sqlite"
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements persistence.Persistence backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New opens (or creates) a SQLite database at dbPath. A single connection is
// kept open so concurrent callers serialize through it rather than racing
// independent connections into SQLITE_BUSY.
func New(dbPath string, opts ...Option) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates all required tables. Safe to call repeatedly.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			display_name TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			theme TEXT NOT NULL DEFAULT '',
			locale TEXT NOT NULL DEFAULT '',
			submit_on_enter INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS model_configs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			display_name TEXT NOT NULL,
			model_id TEXT NOT NULL,
			capability TEXT NOT NULL,
			parameter TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner_id INTEGER NOT NULL,
			model_id INTEGER NOT NULL,
			title TEXT,
			mode INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			kind INTEGER NOT NULL,
			chunks TEXT NOT NULL DEFAULT '[]',
			files TEXT NOT NULL DEFAULT '[]',
			cost REAL NOT NULL DEFAULT 0,
			token_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER,
			owner_id INTEGER,
			mime_type TEXT,
			valid_until INTEGER
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id)`)
	_, _ = s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_files_expiry ON files(chat_id, valid_until)`)

	s.logger.Debug("sqlite: init completed", "duration", time.Since(start))
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) InsertMessage(ctx context.Context, msg entity.Message) (int64, error) {
	chunksJSON, err := marshalChunks(msg.Chunks)
	if err != nil {
		return 0, err
	}
	filesJSON, err := json.Marshal(msg.Files)
	if err != nil {
		return 0, fmt.Errorf("marshal files: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, kind, chunks, files, cost, token_count) VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ChatID, msg.Kind, chunksJSON, filesJSON, msg.Cost, msg.TokenCount,
	)
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) UpdateMessage(ctx context.Context, msg entity.Message) error {
	chunksJSON, err := marshalChunks(msg.Chunks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET chunks = ?, cost = ?, token_count = ? WHERE id = ?`,
		chunksJSON, msg.Cost, msg.TokenCount, msg.ID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	return nil
}

func (s *Store) ListMessagesByChat(ctx context.Context, chatID int64) ([]entity.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, kind, chunks, files, cost, token_count FROM messages WHERE chat_id = ? ORDER BY id ASC`,
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []entity.Message
	for rows.Next() {
		var m entity.Message
		var chunksJSON, filesJSON string
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Kind, &chunksJSON, &filesJSON, &m.Cost, &m.TokenCount); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if m.Chunks, err = unmarshalChunks(chunksJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(filesJSON), &m.Files); err != nil {
			return nil, fmt.Errorf("unmarshal files: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) FindChat(ctx context.Context, id int64) (entity.Chat, error) {
	var c entity.Chat
	var title sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT id, owner_id, model_id, title, mode FROM chats WHERE id = ?`, id)
	if err := row.Scan(&c.ID, &c.OwnerID, &c.ModelID, &title, &c.Mode); err != nil {
		if err == sql.ErrNoRows {
			return entity.Chat{}, persistence.ErrNotFound
		}
		return entity.Chat{}, fmt.Errorf("find chat: %w", err)
	}
	if title.Valid {
		c.Title = &title.String
	}
	return c, nil
}

func (s *Store) UpdateChatTitle(ctx context.Context, chatID int64, title string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE chats SET title = ? WHERE id = ?`, title, chatID)
	if err != nil {
		return fmt.Errorf("update chat title: %w", err)
	}
	return nil
}

func (s *Store) FindUser(ctx context.Context, id int64) (entity.User, error) {
	var u entity.User
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, password_hash, theme, locale, submit_on_enter FROM users WHERE id = ?`, id)
	if err := row.Scan(&u.ID, &u.DisplayName, &u.PasswordHash, &u.Preference.Theme, &u.Preference.Locale, &u.Preference.SubmitOnEnter); err != nil {
		if err == sql.ErrNoRows {
			return entity.User{}, persistence.ErrNotFound
		}
		return entity.User{}, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

func (s *Store) FindModel(ctx context.Context, id int64) (entity.ModelConfig, error) {
	var m entity.ModelConfig
	var capJSON, paramJSON string
	row := s.db.QueryRowContext(ctx,
		`SELECT id, display_name, model_id, capability, parameter FROM model_configs WHERE id = ?`, id)
	if err := row.Scan(&m.ID, &m.DisplayName, &m.ModelID, &capJSON, &paramJSON); err != nil {
		if err == sql.ErrNoRows {
			return entity.ModelConfig{}, persistence.ErrNotFound
		}
		return entity.ModelConfig{}, fmt.Errorf("find model: %w", err)
	}
	if err := json.Unmarshal([]byte(capJSON), &m.Capability); err != nil {
		return entity.ModelConfig{}, fmt.Errorf("unmarshal capability: %w", err)
	}
	if err := json.Unmarshal([]byte(paramJSON), &m.Parameter); err != nil {
		return entity.ModelConfig{}, fmt.Errorf("unmarshal parameter: %w", err)
	}
	return m, nil
}

func (s *Store) InsertFile(ctx context.Context, f entity.File) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO files (chat_id, owner_id, mime_type, valid_until) VALUES (?, ?, ?, ?)`,
		f.ChatID, f.OwnerID, f.MimeType, f.ValidUntil,
	)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) DeleteFile(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	return nil
}

func (s *Store) ListExpiredFiles(ctx context.Context, now int64) ([]entity.File, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, owner_id, mime_type, valid_until FROM files
		 WHERE chat_id IS NULL AND valid_until IS NOT NULL AND valid_until <= ?`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired files: %w", err)
	}
	defer rows.Close()

	var out []entity.File
	for rows.Next() {
		var f entity.File
		var chatID, ownerID sql.NullInt64
		var mime sql.NullString
		var validUntil sql.NullInt64
		if err := rows.Scan(&f.ID, &chatID, &ownerID, &mime, &validUntil); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		if chatID.Valid {
			f.ChatID = &chatID.Int64
		}
		if ownerID.Valid {
			f.OwnerID = &ownerID.Int64
		}
		if mime.Valid {
			f.MimeType = &mime.String
		}
		if validUntil.Valid {
			f.ValidUntil = &validUntil.Int64
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func marshalChunks(chunks []entity.AssistantChunk) (string, error) {
	raw, err := json.Marshal(chunks)
	if err != nil {
		return "", fmt.Errorf("marshal chunks: %w", err)
	}
	return string(raw), nil
}

func unmarshalChunks(s string) ([]entity.AssistantChunk, error) {
	var chunks []entity.AssistantChunk
	if s == "" {
		return nil, nil
	}
	if err := json.Unmarshal([]byte(s), &chunks); err != nil {
		return nil, fmt.Errorf("unmarshal chunks: %w", err)
	}
	return chunks, nil
}

var _ persistence.Persistence = (*Store)(nil)
