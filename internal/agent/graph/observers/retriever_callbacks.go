package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/retriever"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

func newRetrieverHandler() *callbackHelper.RetrieverCallbackHandler {
	return &callbackHelper.RetrieverCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *retriever.CallbackInput) context.Context {
			if input != nil {
				logx.Debug().Str("name", info.Name).Str("query", input.Query).Int("top_k", input.TopK).Msg("retrieval start")
			}
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *retriever.CallbackOutput) context.Context {
			if output == nil {
				return ctx
			}
			scores := make([]float64, 0, len(output.Docs))
			for _, d := range output.Docs {
				if d != nil {
					scores = append(scores, d.Score())
				}
			}
			logx.Debug().Str("name", info.Name).Int("docs", len(output.Docs)).Floats64("scores", scores).Msg("retrieval end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("name", info.Name).Msg("retrieval error")
			return ctx
		},
	}
}

// NewRetrieverCallbacks constructs a callbacks.Handler that logs retrieval lifecycle events.
func NewRetrieverCallbacks() einocb.Handler {
	return callbackHelper.NewHandlerHelper().
		Retriever(newRetrieverHandler()).
		Handler()
}
