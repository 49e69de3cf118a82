// Package store persists users, chats, messages, memories and stream ids.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/model/user"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrChatExists      = errors.New("chat already exists")
	ErrMessageNotFound = errors.New("message not found")
	// ErrMessageConflict is returned when a message id is already stored under another chat.
	ErrMessageConflict = errors.New("message id belongs to another chat")
	ErrUserNotFound    = errors.New("user not found")
)

// MemoryQuery selects approved memories. At most one of Route and ProjectRoute is set;
// neither means the owner's full set.
type MemoryQuery struct {
	OwnerID      string
	Route        string
	ProjectRoute string
	Limit        int
}

// Chats stores chat rows.
type Chats interface {
	GetChat(ctx context.Context, id string) (chat.Chat, error)
	CreateChat(ctx context.Context, c chat.Chat) error
	UpdateChatTitle(ctx context.Context, id, title string) error
	DeleteChat(ctx context.Context, id string) (chat.Chat, error)
}

// Messages stores message rows. A message id belongs to exactly one chat: writes that
// would move or touch a row of another chat fail with ErrMessageConflict or ErrMessageNotFound.
type Messages interface {
	GetMessages(ctx context.Context, chatID string) ([]chat.Message, error)
	// SaveMessages inserts messages in one transaction. An id already stored in the same
	// chat has its parts replaced.
	SaveMessages(ctx context.Context, messages []chat.Message) error
	UpdateMessageParts(ctx context.Context, chatID, id string, parts []chat.Part) error
	// ApplyMessages replaces the parts of updates and inserts inserts into chatID, all or nothing.
	ApplyMessages(ctx context.Context, chatID string, updates, inserts []chat.Message) error
	CountUserMessages(ctx context.Context, userID string, since time.Time) (int, error)
}

// Memories reads approved memories and home locations.
type Memories interface {
	ApprovedMemories(ctx context.Context, q MemoryQuery) ([]chat.MemoryRecord, error)
	HomeLocation(ctx context.Context, ownerID, route string) (chat.HomeLocation, bool, error)
	SaveMemory(ctx context.Context, m chat.MemoryRecord) error
	SaveHomeLocation(ctx context.Context, h chat.HomeLocation) error
}

// Streams records which stream ids belong to a chat.
type Streams interface {
	CreateStreamID(ctx context.Context, streamID, chatID string) error
	StreamIDs(ctx context.Context, chatID string) ([]string, error)
}

// Users resolves bearer tokens to users.
type Users interface {
	UserByToken(ctx context.Context, token string) (user.User, error)
	SaveUser(ctx context.Context, u user.User, token string) error
}

// Store is everything the hub persists.
type Store interface {
	Chats
	Messages
	Memories
	Streams
	Users
	Close() error
}
