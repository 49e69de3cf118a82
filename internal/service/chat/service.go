package chat

import (
	"context"
	"errors"
	"time"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/store"
)

// Service owns chat records and enforces ownership.
type Service struct {
	store store.Store
}

// NewService wraps a store.
func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// OwnedChat loads a chat for userID. A missing chat yields ok=false; another user's chat
// is forbidden:chat.
func (s *Service) OwnedChat(ctx context.Context, id, userID string) (chat.Chat, bool, error) {
	c, err := s.store.GetChat(ctx, id)
	if errors.Is(err, store.ErrChatNotFound) {
		return chat.Chat{}, false, nil
	}
	if err != nil {
		return chat.Chat{}, false, err
	}
	if c.UserID != userID {
		return chat.Chat{}, true, chaterr.New(chaterr.CodeForbiddenChat, "This chat belongs to another user.")
	}
	return c, true, nil
}

// CreateChat stores a new chat. Its route key is never changed afterwards.
func (s *Service) CreateChat(ctx context.Context, c chat.Chat) (chat.Chat, error) {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if !c.Visibility.Valid() {
		c.Visibility = chat.VisibilityPrivate
	}
	if err := s.store.CreateChat(ctx, c); err != nil {
		return chat.Chat{}, err
	}
	return c, nil
}

// DeleteChat removes a chat owned by userID and returns the deleted record.
func (s *Service) DeleteChat(ctx context.Context, id, userID string) (chat.Chat, error) {
	if _, exists, err := s.OwnedChat(ctx, id, userID); err != nil {
		return chat.Chat{}, err
	} else if !exists {
		return chat.Chat{}, chaterr.New(chaterr.CodeNotFoundChat, "Chat not found.")
	}
	return s.store.DeleteChat(ctx, id)
}

// History returns the stored transcript of a chat, oldest first.
func (s *Service) History(ctx context.Context, chatID string) ([]chat.Message, error) {
	return s.store.GetMessages(ctx, chatID)
}

// SaveUserMessage persists the inbound user message before streaming starts.
func (s *Service) SaveUserMessage(ctx context.Context, msg chat.Message) error {
	msg.Role = chat.RoleUser
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	return s.store.SaveMessages(ctx, []chat.Message{msg})
}

// UpdateTitle persists a generated title.
func (s *Service) UpdateTitle(ctx context.Context, chatID, title string) error {
	return s.store.UpdateChatTitle(ctx, chatID, title)
}
