// Package stream serves reattachment to in-flight chat responses.
package stream

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/logging"
	"github.com/zhouzirui/agenthub/backend/internal/middleware"
	chatService "github.com/zhouzirui/agenthub/backend/internal/service/chat"
	streamService "github.com/zhouzirui/agenthub/backend/internal/service/stream"
	"github.com/zhouzirui/agenthub/backend/pkg/utils"
)

// Resumer replays and tails the latest response stream of a chat.
type Resumer interface {
	Resume(ctx context.Context, chatID string, sink func([]byte) error) error
}

// Handler manages stream resumption over SSE and WebSocket
type Handler struct {
	resumer Resumer
	chatSvc *chatService.Service
}

// New creates a stream handler. A nil resumer answers every request with 204.
func New(resumer Resumer, chatSvc *chatService.Service) *Handler {
	return &Handler{
		resumer: resumer,
		chatSvc: chatSvc,
	}
}

// RegisterRoutes mounts the resume endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chat/{id}/stream", h.handleResumeSSE)
	r.Get("/chat/{id}/stream/ws", h.handleResumeWebSocket)
}

// authorize returns the chat id the caller may resume, or writes the rejection.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) (string, bool) {
	chatID := chi.URLParam(r, "id")
	if chatID == "" {
		utils.RespondError(w, chaterr.New(chaterr.CodeBadRequestAPI, "Parameter id is required."))
		return "", false
	}

	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		utils.RespondError(w, chaterr.New(chaterr.CodeUnauthorizedChat, "Sign in to resume streams."))
		return "", false
	}

	_, exists, err := h.chatSvc.OwnedChat(r.Context(), chatID, u.ID)
	if err != nil {
		if chaterr.As(err).Family() == chaterr.Offline {
			logging.FromContext(r.Context(), "stream").Error("load chat", zap.Error(err))
		}
		utils.RespondError(w, err)
		return "", false
	}
	if !exists {
		utils.RespondError(w, chaterr.New(chaterr.CodeNotFoundChat, "Chat not found."))
		return "", false
	}
	if h.resumer == nil {
		w.WriteHeader(http.StatusNoContent)
		return "", false
	}
	return chatID, true
}

// handleResumeSSE replays and tails the latest response stream.
func (h *Handler) handleResumeSSE(w http.ResponseWriter, r *http.Request) {
	chatID, ok := h.authorize(w, r)
	if !ok {
		return
	}
	logger := logging.FromContext(r.Context(), "stream").With(zap.String("chat_id", chatID))

	// headers go out with the first frame so an empty stream can still answer 204
	started := false
	err := h.resumer.Resume(r.Context(), chatID, func(frame []byte) error {
		if !started {
			utils.SetupSSEHeaders(w)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		return utils.WriteSSEFrame(w, frame)
	})

	switch {
	case errors.Is(err, streamService.ErrNotResumable) && !started:
		w.WriteHeader(http.StatusNoContent)
	case err == nil, errors.Is(err, context.Canceled):
	case !started:
		logger.Error("resume stream", zap.Error(err))
		utils.RespondError(w, chaterr.Wrap(chaterr.CodeOfflineStream, err))
	default:
		logger.Warn("resume stream interrupted", zap.Error(err))
	}
}
