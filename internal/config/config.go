package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/agenthub/backend/internal/model/user"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server ServerConfig
	AI     AIConfig
	Store  StoreConfig
	Chat   ChatConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	chat, err := loadChatConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, AI: ai, Store: loadStoreConfig(), Chat: chat}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	// RequestsPerSecond 为每个客户端 IP 的限流速率，<=0 表示不限流。
	RequestsPerSecond float64
	Burst             int
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	rps, err := parseOptionalFloatEnv("HTTP_RATE_LIMIT_RPS")
	if err != nil {
		return ServerConfig{}, err
	}
	burst, err := parseOptionalIntEnv("HTTP_RATE_LIMIT_BURST")
	if err != nil {
		return ServerConfig{}, err
	}

	cfg := ServerConfig{
		AllowedOrigins:    splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*")),
		RequestsPerSecond: 10,
		Burst:             20,
	}
	if rps != nil {
		cfg.RequestsPerSecond = *rps
	}
	if burst != nil && *burst > 0 {
		cfg.Burst = *burst
	}

	switch {
	case strings.Contains(port, ":"):
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		cfg.Addr = port
	case strings.Contains(port, " "):
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	default:
		cfg.Addr = ":" + port
	}
	return cfg, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	// ReasoningModel 为推理（thinking）模型，可为空。
	ReasoningModel  string
	BaseURL         string
	Region          string
	Temperature     *float64
	TopP            *float64
	MaxTokens       *int
	TitleLLMEnabled bool
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel 使用配置创建默认模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	return c.newChatModel(ctx, c.Model)
}

// NewReasoningChatModel 创建推理模型实例；未配置时返回 nil。
func (c AIConfig) NewReasoningChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.ReasoningModel == "" {
		return nil, nil
	}
	return c.newChatModel(ctx, c.ReasoningModel)
}

func (c AIConfig) newChatModel(ctx context.Context, name string) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + Model 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       name,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	titleEnabled, err := parseBoolEnv("AI_TITLE_LLM_ENABLED", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:          strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:       strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:       strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:           strings.TrimSpace(os.Getenv("Model")),
		ReasoningModel:  strings.TrimSpace(os.Getenv("ARK_REASONING_MODEL")),
		BaseURL:         getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:          getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:     temperature,
		TopP:            topP,
		MaxTokens:       maxTokens,
		TitleLLMEnabled: titleEnabled,
	}, nil
}

// StoreConfig 描述持久化配置。
type StoreConfig struct {
	// Path 为 SQLite 文件路径，为空时使用内存存储。
	Path string
	// ResumableDSN 配置后开启可恢复流。
	ResumableDSN string
}

// Resumable 表示是否开启可恢复流。
func (c StoreConfig) Resumable() bool {
	return c.ResumableDSN != ""
}

func loadStoreConfig() StoreConfig {
	return StoreConfig{
		Path:         strings.TrimSpace(os.Getenv("STORE_PATH")),
		ResumableDSN: strings.TrimSpace(os.Getenv("RESUMABLE_STREAM_DSN")),
	}
}

// ChatConfig 描述对话调度相关配置。
type ChatConfig struct {
	AgentCatalog string
	DefaultAgent string
	MaxToolSteps int
	MemoryLimit  int
	// MaxDuration 为单次请求的最长执行时间，超时视为失败。
	MaxDuration time.Duration
	DailyCaps   map[user.Plan]int
}

func loadChatConfig() (ChatConfig, error) {
	cfg := ChatConfig{
		AgentCatalog: strings.TrimSpace(os.Getenv("AGENT_CATALOG_FILE")),
		DefaultAgent: getEnvOrDefault("DEFAULT_AGENT", "default"),
		MaxToolSteps: 5,
		MemoryLimit:  12,
		MaxDuration:  60 * time.Second,
		DailyCaps:    make(map[user.Plan]int),
	}

	steps, err := parseOptionalIntEnv("MAX_TOOL_STEPS")
	if err != nil {
		return ChatConfig{}, err
	}
	if steps != nil && *steps > 0 {
		cfg.MaxToolSteps = *steps
	}

	limit, err := parseOptionalIntEnv("MEMORY_CONTEXT_LIMIT")
	if err != nil {
		return ChatConfig{}, err
	}
	if limit != nil && *limit > 0 {
		cfg.MemoryLimit = *limit
	}

	if raw := strings.TrimSpace(os.Getenv("CHAT_MAX_DURATION")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return ChatConfig{}, fmt.Errorf("invalid CHAT_MAX_DURATION value %q: %w", raw, err)
		}
		cfg.MaxDuration = d
	}

	for _, plan := range []user.Plan{user.PlanGuest, user.PlanFree, user.PlanPro, user.PlanFounders} {
		key := "CHAT_DAILY_CAP_" + strings.ToUpper(string(plan))
		value, err := parseOptionalIntEnv(key)
		if err != nil {
			return ChatConfig{}, err
		}
		if value != nil {
			cfg.DailyCaps[plan] = *value
		}
	}
	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
