package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/config"
	"github.com/zhouzirui/agenthub/backend/internal/handler"
	streamHandler "github.com/zhouzirui/agenthub/backend/internal/handler/stream"
	"github.com/zhouzirui/agenthub/backend/internal/logging"
	"github.com/zhouzirui/agenthub/backend/internal/middleware"
	"github.com/zhouzirui/agenthub/backend/internal/model/agent"
	"github.com/zhouzirui/agenthub/backend/internal/model/user"
	"github.com/zhouzirui/agenthub/backend/internal/service/access"
	"github.com/zhouzirui/agenthub/backend/internal/service/ai"
	"github.com/zhouzirui/agenthub/backend/internal/service/chat"
	"github.com/zhouzirui/agenthub/backend/internal/service/dispatch"
	"github.com/zhouzirui/agenthub/backend/internal/service/memory"
	"github.com/zhouzirui/agenthub/backend/internal/service/stream"
	"github.com/zhouzirui/agenthub/backend/internal/service/tools"
	"github.com/zhouzirui/agenthub/backend/internal/store"
)

type app struct {
	handler http.Handler
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logging.Named("main").Warn("shutdown cleanup failed", zap.Error(err))
		}
	}
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	if cfg.Path == "" {
		return store.NewMemoryStore(), nil
	}
	return store.OpenSQLite(cfg.Path)
}

func loadAgents(cfg config.ChatConfig) (*agent.Registry, error) {
	if cfg.AgentCatalog == "" {
		return agent.NewRegistry(agent.Seed(), cfg.DefaultAgent)
	}
	return agent.LoadCatalog(cfg.AgentCatalog, agent.Seed(), cfg.DefaultAgent)
}

func entitlements(caps map[user.Plan]int) access.Entitlements {
	out := access.DefaultEntitlements()
	for plan, limit := range caps {
		out[plan] = limit
	}
	return out
}

// buildApp wires every service from configuration.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.Named("main")
	a := &app{}

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.closers = append(a.closers, st.Close)

	agents, err := loadAgents(cfg.Chat)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load agents: %w", err)
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.BuiltinOptions{}); err != nil {
		a.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, cfg.AI, registry, cfg.Chat.MaxToolSteps)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("AI service initialized", zap.String("model", cfg.AI.Model))
	} else {
		logger.Warn("Ark credentials missing, model requests will fail with offline errors")
		aiService = ai.NewServiceWithModels(nil, nil, registry, cfg.Chat.MaxToolSteps)
	}

	titles, err := ai.NewTitleGenerator(ctx, aiService.ChatModel(), cfg.AI.TitleLLMEnabled)
	if err != nil {
		a.Close()
		return nil, err
	}

	var workflows dispatch.WorkflowRunner
	runner, err := ai.NewWorkflowRunner(ctx, aiService.ChatModel())
	switch {
	case err == nil:
		workflows = runner
	case errors.Is(err, ai.ErrNoModel):
		logger.Warn("workflows disabled, every agent takes the generic model path")
	default:
		a.Close()
		return nil, err
	}

	var (
		publisher stream.Publisher = stream.NoopPublisher{}
		resumer   streamHandler.Resumer
	)
	if cfg.Store.Resumable() {
		frameLog, err := stream.OpenFrameLog(cfg.Store.ResumableDSN)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("open resumable stream log: %w", err)
		}
		a.closers = append(a.closers, frameLog.Close)
		resumable := stream.NewResumablePublisher(st, frameLog)
		publisher, resumer = resumable, resumable
	}

	gate := access.DefaultGate()
	limiter := access.NewRateLimiter(st, entitlements(cfg.Chat.DailyCaps))
	chatSvc := chat.NewService(st)

	dispatcher := dispatch.New(dispatch.Deps{
		Agents:      agents,
		Gate:        gate,
		Limiter:     limiter,
		Chats:       chatSvc,
		Finalizer:   chat.NewFinalizer(st),
		Memory:      memory.NewResolver(st, limiter, cfg.Chat.MemoryLimit),
		Composer:    tools.DefaultComposer(),
		Prompts:     ai.NewPromptManager(),
		Model:       aiService,
		Workflows:   workflows,
		Titles:      titles,
		Publisher:   publisher,
		MaxDuration: cfg.Chat.MaxDuration,
	})

	a.handler = handler.NewRouter(handler.Dependencies{
		Agents:         agents,
		Gate:           gate,
		Users:          st,
		Chats:          chatSvc,
		Dispatcher:     dispatcher,
		Resumer:        resumer,
		Throttle:       middleware.NewThrottle(cfg.Server.RequestsPerSecond, cfg.Server.Burst),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})
	return a, nil
}
