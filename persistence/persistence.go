// Package persistence defines the narrow storage contract the chat core
// depends on: messages, chats, users, model configs, and
// file lifecycle. Concrete backends live in subpackages (sqlite, postgres).
package persistence

import (
	"context"
	"errors"

	"github.com/pinkfuwa/llumen-go/chat/entity"
)

// ErrNotFound is returned by any Find* lookup that matches no row.
var ErrNotFound = errors.New("persistence: not found")

// Persistence is the complete set of storage operations the completion core
// needs. It deliberately excludes anything ingest/retrieval-specific (no
// vector search, no document chunks) — this is the chat-turn persistence
// boundary, not a general store.
type Persistence interface {
	InsertMessage(ctx context.Context, msg entity.Message) (int64, error)
	UpdateMessage(ctx context.Context, msg entity.Message) error
	ListMessagesByChat(ctx context.Context, chatID int64) ([]entity.Message, error)

	FindChat(ctx context.Context, id int64) (entity.Chat, error)
	FindUser(ctx context.Context, id int64) (entity.User, error)
	FindModel(ctx context.Context, id int64) (entity.ModelConfig, error)

	// UpdateChatTitle persists a generated title. Not named by spec.md's
	// persistence list but required by try_generate_title's "persist ... to
	// DB" contract — a one-column sibling of FindChat.
	UpdateChatTitle(ctx context.Context, chatID int64, title string) error

	InsertFile(ctx context.Context, f entity.File) (int64, error)
	DeleteFile(ctx context.Context, id int64) error
	ListExpiredFiles(ctx context.Context, now int64) ([]entity.File, error)
}
