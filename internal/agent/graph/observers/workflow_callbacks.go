package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"

	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

type nodeStartKey struct{}

// NewWorkflowCallbacks logs node lifecycle for lambda and graph nodes with the
// conversation id attached.
func NewWorkflowCallbacks(conversationID string) einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			if !isWorkflowNode(info) {
				return ctx
			}
			logx.Debug().Str("conversation_id", conversationID).Str("node", info.Name).Msg("node start")
			return context.WithValue(ctx, nodeStartKey{}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackOutput) context.Context {
			if !isWorkflowNode(info) {
				return ctx
			}
			ev := logx.Debug().Str("conversation_id", conversationID).Str("node", info.Name)
			if started, ok := ctx.Value(nodeStartKey{}).(time.Time); ok {
				ev = ev.Dur("elapsed", time.Since(started))
			}
			ev.Msg("node end")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			if !isWorkflowNode(info) {
				return ctx
			}
			logx.Warn().Err(err).Str("conversation_id", conversationID).Str("node", info.Name).Msg("node error")
			return ctx
		}).
		Build()
}

func isWorkflowNode(info *einocb.RunInfo) bool {
	if info == nil {
		return false
	}
	return info.Component == compose.ComponentOfLambda || info.Component == compose.ComponentOfGraph
}
