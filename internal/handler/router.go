package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	agentHandler "github.com/zhouzirui/agenthub/backend/internal/handler/agent"
	"github.com/zhouzirui/agenthub/backend/internal/handler/chat"
	"github.com/zhouzirui/agenthub/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/agenthub/backend/internal/middleware"
	agentModel "github.com/zhouzirui/agenthub/backend/internal/model/agent"
	"github.com/zhouzirui/agenthub/backend/internal/service/access"
	chatService "github.com/zhouzirui/agenthub/backend/internal/service/chat"
	"github.com/zhouzirui/agenthub/backend/internal/service/dispatch"
	"github.com/zhouzirui/agenthub/backend/internal/store"
	"github.com/zhouzirui/agenthub/backend/pkg/utils"
)

// Dependencies are the services the HTTP layer is wired to.
type Dependencies struct {
	Agents     agentModel.Store
	Gate       *access.Gate
	Users      store.Users
	Chats      *chatService.Service
	Dispatcher *dispatch.Dispatcher
	// Resumer is nil when resumable streams are disabled.
	Resumer  stream.Resumer
	Throttle *middlewarePkg.Throttle

	AllowedOrigins []string
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		if deps.Throttle != nil {
			api.Use(deps.Throttle.Handler)
		}
		api.Use(middlewarePkg.Auth(deps.Users))

		agentHandler.New(deps.Agents, deps.Gate).RegisterRoutes(api)
		chat.New(deps.Dispatcher, deps.Chats).RegisterRoutes(api)
		stream.New(deps.Resumer, deps.Chats).RegisterRoutes(api)
	})

	return r
}
