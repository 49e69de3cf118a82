package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/chaterr"
	"github.com/zhouzirui/agenthub/backend/internal/logging"
	"github.com/zhouzirui/agenthub/backend/internal/middleware"
	chatService "github.com/zhouzirui/agenthub/backend/internal/service/chat"
	"github.com/zhouzirui/agenthub/backend/internal/service/dispatch"
	"github.com/zhouzirui/agenthub/backend/pkg/utils"
)

// Handler 聊天接口的HTTP处理器
type Handler struct {
	dispatcher *dispatch.Dispatcher
	chatSvc    *chatService.Service
}

// New 创建聊天处理器
func New(dispatcher *dispatch.Dispatcher, chatSvc *chatService.Service) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		chatSvc:    chatSvc,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handlePostChat)
	r.Delete("/chat", h.handleDeleteChat)
}

// handlePostChat 校验请求、完成分发决策，然后以 SSE 返回回复
func (h *Handler) handlePostChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := dispatch.DecodeRequest(r.Body)
	if err != nil {
		utils.RespondError(w, err)
		return
	}

	u, ok := middleware.UserFrom(ctx)
	if !ok {
		utils.RespondError(w, chaterr.New(chaterr.CodeUnauthorizedChat, "Sign in to chat."))
		return
	}

	plan, err := h.dispatcher.Prepare(ctx, u, req)
	if err != nil {
		respondDispatchError(w, r, err)
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := h.dispatcher.Stream(ctx, w, plan); err != nil {
		// 错误已经作为 error 帧发送给客户端
		logging.FromContext(ctx, "chat").Debug("stream ended with error", zap.Error(err))
	}
}

// handleDeleteChat 删除当前用户拥有的会话
func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		utils.RespondError(w, chaterr.New(chaterr.CodeBadRequestAPI, "Parameter id is required."))
		return
	}

	u, ok := middleware.UserFrom(r.Context())
	if !ok {
		utils.RespondError(w, chaterr.New(chaterr.CodeUnauthorizedChat, "Sign in to delete chats."))
		return
	}

	deleted, err := h.chatSvc.DeleteChat(r.Context(), id, u.ID)
	if err != nil {
		respondDispatchError(w, r, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, deleted)
}

func respondDispatchError(w http.ResponseWriter, r *http.Request, err error) {
	ce := chaterr.As(err)
	if ce.Family() == chaterr.Offline {
		logging.FromContext(r.Context(), "chat").Error("request failed", zap.Error(err))
	}
	utils.RespondError(w, ce)
}
