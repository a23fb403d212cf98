package knowledge

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

// NewGeminiClient creates the genai client shared by the chat model and the embedder.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string) (*genai.Client, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		clientCfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// NewChatModel creates the answer model. Thinking is kept small since answers
// are short and latency bound.
func NewChatModel(ctx context.Context, client *genai.Client, cfg model.KnowledgeConfig) (*gemini.ChatModel, error) {
	temperature := cfg.Temperature
	maxTokens := cfg.MaxTokens

	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.ChatModel,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(512)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Str("model", cfg.ChatModel).Msg("Error creating answer model")
		return nil, fmt.Errorf("error creating answer model: %w", err)
	}
	return chatModel, nil
}
