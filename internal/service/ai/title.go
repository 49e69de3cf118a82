package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/agenthub/backend/internal/logging"
)

const (
	// PlaceholderTitle is stored on chat creation until the title task finishes.
	PlaceholderTitle = "New chat"
	maxTitleRunes    = 80
	fallbackWords    = 6
)

// TitleGenerator asks the model for a chat title and falls back to a heuristic on failure.
type TitleGenerator struct {
	chain  compose.Runnable[map[string]any, *schema.Message]
	logger *zap.Logger
}

// NewTitleGenerator compiles the title chain. A nil chatModel or enabled=false keeps only the fallback.
func NewTitleGenerator(ctx context.Context, chatModel model.ChatModel, enabled bool) (*TitleGenerator, error) {
	g := &TitleGenerator{logger: logging.Named("title")}
	if !enabled || chatModel == nil {
		return g, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(titleSystemPrompt),
		schema.UserMessage("{message}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile title chain: %w", err)
	}
	g.chain = runnable
	return g, nil
}

// Enabled reports whether titles come from the model.
func (g *TitleGenerator) Enabled() bool {
	return g != nil && g.chain != nil
}

// Generate never fails: model errors and empty answers fall back to FallbackTitle.
func (g *TitleGenerator) Generate(ctx context.Context, userText string) (string, error) {
	if !g.Enabled() {
		return FallbackTitle(userText), nil
	}

	msg, err := g.chain.Invoke(ctx, map[string]any{"message": strings.TrimSpace(userText)})
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		g.logger.Warn("title chain failed, use fallback", zap.Error(err))
		return FallbackTitle(userText), nil
	}
	if msg == nil {
		return FallbackTitle(userText), nil
	}
	if title := cleanTitle(msg.Content); title != "" {
		return title, nil
	}
	return FallbackTitle(userText), nil
}

// FallbackTitle uses the first words of the message.
func FallbackTitle(userText string) string {
	words := strings.Fields(userText)
	if len(words) == 0 {
		return PlaceholderTitle
	}
	if len(words) > fallbackWords {
		words = words[:fallbackWords]
	}
	return truncateRunes(strings.Join(words, " "), maxTitleRunes)
}

func cleanTitle(raw string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(raw), "\n")
	line = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
	line = strings.Trim(line, "\"'`*# ")
	return truncateRunes(line, maxTitleRunes)
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max]))
}

const titleSystemPrompt = "You generate a short title based on the first message a user begins a conversation with. " +
	"Keep it under 80 characters, summarise the message, and answer with the title only, without quotes or colons."
