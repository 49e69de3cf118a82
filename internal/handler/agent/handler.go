package agent

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/agenthub/backend/internal/middleware"
	agentModel "github.com/zhouzirui/agenthub/backend/internal/model/agent"
	"github.com/zhouzirui/agenthub/backend/internal/service/access"
	"github.com/zhouzirui/agenthub/backend/pkg/utils"
)

// Summary 对外暴露的 agent 信息
type Summary struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Slash             string              `json:"slash"`
	Description       string              `json:"description,omitempty"`
	Tools             []agentModel.ToolID `json:"tools"`
	RequiresElevation bool                `json:"requiresElevation"`
	// Available 调用方无权访问该路由时为 false
	Available bool `json:"available"`
}

// Handler agent目录的HTTP处理器
type Handler struct {
	agents agentModel.Store
	gate   *access.Gate
}

// New 创建agent处理器
func New(agents agentModel.Store, gate *access.Gate) *Handler {
	if gate == nil {
		gate = access.DefaultGate()
	}
	return &Handler{
		agents: agents,
		gate:   gate,
	}
}

// RegisterRoutes 注册agent相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agents", h.handleListAgents)
}

// handleListAgents 列出所有agent；匿名访问时仅按路由本身判断是否需要权限
func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	u, signedIn := middleware.UserFrom(r.Context())
	freeRoutes := h.gate.FreeRoutes()

	items := h.agents.List()
	out := make([]Summary, 0, len(items))
	for _, cfg := range items {
		elevated := access.RequiresElevatedAccess(cfg, freeRoutes)
		out = append(out, Summary{
			ID:                cfg.ID,
			Name:              cfg.Name,
			Slash:             cfg.Slash,
			Description:       cfg.Description,
			Tools:             cfg.Tools,
			RequiresElevation: elevated,
			Available:         signedIn && h.gate.Check(u, cfg) == nil,
		})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}
