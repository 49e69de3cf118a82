package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/model/user"
)

// MemoryStore keeps everything in maps, suitable for tests and storeless development.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]chat.Chat
	messages map[string][]chat.Message
	memories []chat.MemoryRecord
	homes    map[string]chat.HomeLocation
	streams  map[string][]string
	users    map[string]user.User
}

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]chat.Chat),
		messages: make(map[string][]chat.Message),
		homes:    make(map[string]chat.HomeLocation),
		streams:  make(map[string][]string),
		users:    make(map[string]user.User),
	}
}

func (s *MemoryStore) GetChat(_ context.Context, id string) (chat.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chats[id]
	if !ok {
		return chat.Chat{}, ErrChatNotFound
	}
	return c, nil
}

func (s *MemoryStore) CreateChat(_ context.Context, c chat.Chat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[c.ID]; ok {
		return ErrChatExists
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	s.chats[c.ID] = c
	s.messages[c.ID] = make([]chat.Message, 0, 16)
	return nil
}

func (s *MemoryStore) UpdateChatTitle(_ context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return ErrChatNotFound
	}
	c.Title = title
	s.chats[id] = c
	return nil
}

func (s *MemoryStore) DeleteChat(_ context.Context, id string) (chat.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chats[id]
	if !ok {
		return chat.Chat{}, ErrChatNotFound
	}
	delete(s.chats, id)
	delete(s.messages, id)
	delete(s.streams, id)
	return c, nil
}

func (s *MemoryStore) GetMessages(_ context.Context, chatID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	messages, ok := s.messages[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// SaveMessages appends messages. An id that already exists in the same chat is overwritten in place.
func (s *MemoryStore) SaveMessages(_ context.Context, messages []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prepared, err := s.prepareLocked(messages)
	if err != nil {
		return err
	}
	for _, msg := range prepared {
		s.putLocked(msg)
	}
	return nil
}

func (s *MemoryStore) UpdateMessageParts(_ context.Context, chatID, id string, parts []chat.Part) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(chatID, id)
	if i < 0 {
		return ErrMessageNotFound
	}
	s.messages[chatID][i].Parts = parts
	return nil
}

func (s *MemoryStore) ApplyMessages(_ context.Context, chatID string, updates, inserts []chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range updates {
		if s.indexOf(chatID, msg.ID) < 0 {
			return ErrMessageNotFound
		}
	}
	scoped := make([]chat.Message, len(inserts))
	for i, msg := range inserts {
		msg.ChatID = chatID
		scoped[i] = msg
	}
	prepared, err := s.prepareLocked(scoped)
	if err != nil {
		return err
	}

	for _, msg := range updates {
		s.messages[chatID][s.indexOf(chatID, msg.ID)].Parts = msg.Parts
	}
	for _, msg := range prepared {
		s.putLocked(msg)
	}
	return nil
}

// prepareLocked validates a batch before anything is written.
func (s *MemoryStore) prepareLocked(messages []chat.Message) ([]chat.Message, error) {
	out := make([]chat.Message, 0, len(messages))
	for _, msg := range messages {
		if _, ok := s.chats[msg.ChatID]; !ok {
			return nil, ErrChatNotFound
		}
		if msg.ID == "" {
			msg.ID = uuid.NewString()
		}
		if owner, ok := s.chatOf(msg.ID); ok && owner != msg.ChatID {
			return nil, ErrMessageConflict
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *MemoryStore) putLocked(msg chat.Message) {
	if i := s.indexOf(msg.ChatID, msg.ID); i >= 0 {
		s.messages[msg.ChatID][i] = msg
		return
	}
	s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
}

func (s *MemoryStore) chatOf(id string) (string, bool) {
	for chatID := range s.messages {
		if s.indexOf(chatID, id) >= 0 {
			return chatID, true
		}
	}
	return "", false
}

func (s *MemoryStore) indexOf(chatID, id string) int {
	for i, msg := range s.messages[chatID] {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

func (s *MemoryStore) CountUserMessages(_ context.Context, userID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for chatID, messages := range s.messages {
		if s.chats[chatID].UserID != userID {
			continue
		}
		for _, msg := range messages {
			if msg.Role == chat.RoleUser && !msg.CreatedAt.Before(since) {
				count++
			}
		}
	}
	return count, nil
}

func (s *MemoryStore) ApprovedMemories(_ context.Context, q MemoryQuery) ([]chat.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []chat.MemoryRecord
	for _, m := range s.memories {
		if m.OwnerID != q.OwnerID || m.ApprovedAt.IsZero() {
			continue
		}
		if q.Route != "" && m.Route != q.Route {
			continue
		}
		if q.ProjectRoute != "" && m.ProjectRoute != q.ProjectRoute {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) HomeLocation(_ context.Context, ownerID, route string) (chat.HomeLocation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.homes[ownerID+"\x00"+route]
	return h, ok, nil
}

func (s *MemoryStore) SaveMemory(_ context.Context, m chat.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.memories = append(s.memories, m)
	return nil
}

func (s *MemoryStore) SaveHomeLocation(_ context.Context, h chat.HomeLocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.homes[h.OwnerID+"\x00"+h.Route] = h
	return nil
}

func (s *MemoryStore) CreateStreamID(_ context.Context, streamID, chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chats[chatID]; !ok {
		return ErrChatNotFound
	}
	s.streams[chatID] = append(s.streams[chatID], streamID)
	return nil
}

// StreamIDs returns stream ids of a chat, newest first.
func (s *MemoryStore) StreamIDs(_ context.Context, chatID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.streams[chatID]
	out := make([]string, len(ids))
	for i, id := range ids {
		out[len(ids)-1-i] = id
	}
	return out, nil
}

func (s *MemoryStore) UserByToken(_ context.Context, token string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[token]
	if !ok {
		return user.User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *MemoryStore) SaveUser(_ context.Context, u user.User, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = u
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
