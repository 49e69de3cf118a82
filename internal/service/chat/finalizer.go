package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/logging"
	"github.com/zhouzirui/agenthub/backend/internal/model/chat"
	"github.com/zhouzirui/agenthub/backend/internal/store"
)

// Finalizer reconciles the finished messages of a stream with the stored transcript.
type Finalizer struct {
	messages store.Messages
	logger   *zap.Logger
}

// NewFinalizer creates a finalizer on the message store.
func NewFinalizer(messages store.Messages) *Finalizer {
	return &Finalizer{messages: messages, logger: logging.Named("finalizer")}
}

// Finalize persists finished messages of chatID in one store transaction. In continuation
// mode a message whose id was submitted and is already stored in chatID gets its parts
// updated in place, anything else is inserted. Outside continuation every finished message
// is inserted. Messages without parts are dropped.
func (f *Finalizer) Finalize(ctx context.Context, chatID string, continuation bool, submitted, finished []chat.Message) error {
	seen := make(map[string]bool, len(submitted))
	if continuation && len(submitted) > 0 {
		stored, err := f.messages.GetMessages(ctx, chatID)
		if err != nil {
			return err
		}
		known := make(map[string]bool, len(stored))
		for _, m := range stored {
			known[m.ID] = true
		}
		for _, m := range submitted {
			if known[m.ID] {
				seen[m.ID] = true
			}
		}
	}

	now := time.Now().UTC()
	var updates, inserts []chat.Message
	for _, m := range finished {
		if len(m.Parts) == 0 {
			continue
		}
		if seen[m.ID] {
			updates = append(updates, m)
			continue
		}
		m.ChatID = chatID
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		inserts = append(inserts, m)
	}
	if len(updates) == 0 && len(inserts) == 0 {
		f.logger.Debug("nothing to persist", zap.String("chat_id", chatID))
		return nil
	}
	if err := f.messages.ApplyMessages(ctx, chatID, updates, inserts); err != nil {
		return err
	}
	f.logger.Debug("messages persisted",
		zap.String("chat_id", chatID),
		zap.Int("inserted", len(inserts)),
		zap.Int("updated", len(updates)))
	return nil
}
