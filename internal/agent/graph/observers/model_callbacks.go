package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	agentmodel "github.com/Chative-whatsapp-agent/server/internal/agent/model"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

// newModelHandler logs the question and answer around chat model calls and
// accumulates the priced usage of every completed call.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().Str("component", string(info.Component)).Str("name", info.Name)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages)).Str("user", lastUserContent(input.Messages))
			}
			ev.Msg("chat model start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			if output == nil || output.Message == nil {
				return ctx
			}
			modelName := info.Name
			if output.Config != nil && output.Config.Model != "" {
				modelName = output.Config.Model
			}
			ev := logx.Debug().
				Str("name", info.Name).
				Str("model", modelName).
				Str("assistant", strings.TrimSpace(output.Message.Content))
			if cost, ok := agentmodel.MessageCost(modelName, output.Message); ok {
				metrics.LLMCostUSD.WithLabelValues(modelName).Add(cost.TotalCostUSD)
				ev = ev.Int("prompt_tokens", cost.PromptTokens).
					Int("completion_tokens", cost.CompletionTokens).
					Float64("cost_usd", cost.TotalCostUSD)
			}
			ev.Msg("chat model end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("name", info.Name).Msg("chat model error")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
