package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"

	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/conversations"
	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/nodes"
	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/observers"
	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/parsers"
	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/prompts"
	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

const persistTimeout = 5 * time.Second

// Runner executes one conversation turn end to end.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.QueryResult, error)
}

// Config holds everything needed to compose the workflow. Services, Knowledge
// and Sessions are optional.
type Config struct {
	Workflow  model.WorkflowConfig
	Prompt    model.PromptConfig
	Sessions  *conversations.SessionManager
	Detector  *parsers.IntentDetector
	Services  model.ServiceHandler
	Knowledge model.KnowledgeBase
	Sender    model.MessageSender
}

// GraphBuilder handles the construction of the workflow graph.
type GraphBuilder struct {
	deps  *nodes.Deps
	graph *compose.Graph[model.ConversationState, model.ConversationState]
}

type graphRunner struct {
	runnable compose.Runnable[model.ConversationState, model.ConversationState]
	deps     *nodes.Deps
	sessions *conversations.SessionManager
	timeout  time.Duration
	now      func() time.Time
}

// BuildWorkflow renders the canned replies, compiles the graph and returns a Runner.
func BuildWorkflow(ctx context.Context, cfg Config) (Runner, error) {
	replies, err := prompts.NewCannedReplies(cfg.Prompt)
	if err != nil {
		return nil, err
	}

	detector := cfg.Detector
	if detector == nil {
		detector = parsers.DefaultIntentDetector()
	}

	deps := &nodes.Deps{
		Detector:  detector,
		Replies:   replies,
		Services:  cfg.Services,
		Knowledge: cfg.Knowledge,
		Sender:    cfg.Sender,
		Workflow:  cfg.Workflow,
	}

	runnable, err := BuildGraph(ctx, deps)
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Workflow graph built successfully")
	return &graphRunner{
		runnable: runnable,
		deps:     deps,
		sessions: cfg.Sessions,
		timeout:  cfg.Workflow.Timeout,
		now:      time.Now,
	}, nil
}

// BuildGraph constructs and returns the compiled workflow graph.
func BuildGraph(ctx context.Context, deps *nodes.Deps) (compose.Runnable[model.ConversationState, model.ConversationState], error) {
	if deps == nil {
		return nil, fmt.Errorf("workflow deps are nil")
	}
	if deps.Detector == nil || deps.Replies == nil {
		return nil, fmt.Errorf("intent detector and canned replies are required")
	}

	builder := &GraphBuilder{
		deps: deps,
		graph: compose.NewGraph[model.ConversationState, model.ConversationState](
			compose.WithGenLocalState(func(ctx context.Context) *model.RunState {
				return &model.RunState{StartedAt: time.Now()}
			}),
		),
	}

	if err := builder.addNodes(); err != nil {
		return nil, err
	}
	if err := builder.addEdges(); err != nil {
		return nil, err
	}
	if err := builder.addBranches(); err != nil {
		return nil, err
	}
	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() error {
	lambdas := []struct {
		key    string
		lambda *compose.Lambda
	}{
		{nodes.NodeValidateInput, nodes.NewValidateInputNode(b.deps.Workflow)},
		{nodes.NodeProcessMessage, nodes.NewProcessMessageNode(b.deps)},
		{nodes.NodeGenerateResponse, nodes.NewGenerateResponseNode(b.deps)},
		{nodes.NodeHandleError, nodes.NewHandleErrorNode(b.deps)},
	}
	for _, l := range lambdas {
		if err := b.graph.AddLambdaNode(l.key, l.lambda,
			compose.WithNodeName(l.key),
			compose.WithStatePreHandler(nodes.NewPathPreHandler(l.key)),
		); err != nil {
			return fmt.Errorf("add node %s: %w", l.key, err)
		}
	}

	if err := b.graph.AddLambdaNode(nodes.NodeSendResponse,
		nodes.NewSendResponseNode(b.deps),
		compose.WithNodeName(nodes.NodeSendResponse),
		compose.WithStatePreHandler(nodes.NewPathPreHandler(nodes.NodeSendResponse)),
		compose.WithStatePostHandler(nodes.NewSendResponsePostHandler()),
	); err != nil {
		return fmt.Errorf("add node %s: %w", nodes.NodeSendResponse, err)
	}
	return nil
}

// addEdges creates the unconditional connections between nodes
func (b *GraphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, nodes.NodeValidateInput},
		{nodes.NodeHandleError, nodes.NodeSendResponse},
		{nodes.NodeSendResponse, compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

// addBranches wires the happy path, with every step able to divert to handle_error
func (b *GraphBuilder) addBranches() error {
	steps := [][2]string{
		{nodes.NodeValidateInput, nodes.NodeProcessMessage},
		{nodes.NodeProcessMessage, nodes.NodeGenerateResponse},
		{nodes.NodeGenerateResponse, nodes.NodeSendResponse},
	}

	for _, step := range steps {
		branch := compose.NewGraphBranch(
			nodes.NewErrorCondition(step[1]),
			map[string]bool{
				step[1]:               true,
				nodes.NodeHandleError: true,
			},
		)
		if err := b.graph.AddBranch(step[0], branch); err != nil {
			logx.Error().Err(err).Str("node", step[0]).Msg("Error adding branch")
			return fmt.Errorf("error adding branch after %s: %w", step[0], err)
		}
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.ConversationState, model.ConversationState], error) {
	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName("conversation_workflow"),
		compose.WithMaxRunSteps(10),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}

func (r *graphRunner) Invoke(ctx context.Context, in model.QueryInput) (*model.QueryResult, error) {
	conversationID := strings.TrimSpace(in.ConversationID)
	if conversationID == "" {
		conversationID = strings.TrimSpace(in.Sender)
	}
	if conversationID == "" {
		return nil, errx.Validation("conversation id or sender is required")
	}

	start := r.now()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	state := model.ConversationState{
		ConversationID:  conversationID,
		Sender:          in.Sender,
		Input:           in.Query,
		MessageType:     in.MessageType,
		DryRun:          in.DryRun,
		AudioUnreadable: in.AudioUnreadable,
		History:         r.history(ctx, conversationID),
	}
	if state.MessageType == "" {
		state.MessageType = model.MessageText
	}

	out, err := r.runnable.Invoke(ctx, state, compose.WithCallbacks(
		observers.NewAllCallbacks(),
		observers.NewWorkflowCallbacks(conversationID),
	))
	if err != nil {
		out = r.fallback(ctx, state, err)
	}

	if !in.DryRun && !out.ValidationFailed {
		r.persist(ctx, conversationID, in.Query, out)
	}

	elapsed := r.now().Sub(start)
	metrics.WorkflowRuns.WithLabelValues(string(out.Intent), string(out.Source)).Inc()
	metrics.WorkflowDuration.WithLabelValues(string(out.Intent)).Observe(elapsed.Seconds())

	logx.Info().
		Str("conversation_id", conversationID).
		Str("intent", string(out.Intent)).
		Str("topic", string(out.Topic)).
		Str("source", string(out.Source)).
		Bool("sent", out.ResponseSent).
		Strs("path", out.Path).
		Dur("duration", elapsed).
		Msg("Workflow finished")

	return &model.QueryResult{
		ConversationID: conversationID,
		Response:       out.Response,
		Intent:         out.Intent,
		Topic:          out.Topic,
		Confidence:     out.Confidence,
		Source:         out.Source,
		Sent:           out.ResponseSent,
		ErrorKind:      out.ErrorKind,
		Path:           out.Path,
		Duration:       elapsed,
	}, nil
}

// history loads recent turns; a failed load degrades to no history.
func (r *graphRunner) history(ctx context.Context, conversationID string) []model.Turn {
	if r.sessions == nil {
		return nil
	}
	turns, err := r.sessions.History(ctx, conversationID)
	if err != nil {
		logx.Warn().Err(err).Str("conversation_id", conversationID).Msg("Session load failed, continuing without history")
		return nil
	}
	return turns
}

// fallback builds the generic apology when the graph itself failed and sends it best-effort.
func (r *graphRunner) fallback(ctx context.Context, state model.ConversationState, runErr error) model.ConversationState {
	logx.Error().Err(runErr).Str("conversation_id", state.ConversationID).Msg("Workflow run failed")

	out := state
	out.Err = runErr
	out.ErrorKind = string(errx.KindOf(runErr))
	out.Source = model.SourceError
	if out.Intent == "" {
		out.Intent = model.IntentError
	}
	metrics.WorkflowErrors.WithLabelValues(out.ErrorKind).Inc()

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	reply, err := r.deps.Replies.Render(sendCtx, prompts.CannedGenericError, nil)
	if err != nil {
		logx.Error().Err(err).Msg("Render generic apology failed")
		return out
	}
	out.Response = reply

	if state.DryRun || r.deps.Sender == nil || state.Sender == "" {
		return out
	}
	if err := r.deps.Sender.SendText(sendCtx, state.Sender, reply); err != nil {
		out.DeliveryError = err.Error()
		logx.Error().Err(err).Str("conversation_id", state.ConversationID).Msg("Apology delivery failed")
		return out
	}
	out.ResponseSent = true
	return out
}

// persist appends the input/output pair to the session.
func (r *graphRunner) persist(ctx context.Context, conversationID, input string, out model.ConversationState) {
	if r.sessions == nil || strings.TrimSpace(input) == "" {
		return
	}
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	meta := map[string]any{
		"intent":     string(out.Intent),
		"topic":      string(out.Topic),
		"confidence": out.Confidence,
		"source":     string(out.Source),
	}
	if err := r.sessions.RecordExchange(persistCtx, conversationID, input, out.Response, meta); err != nil {
		logx.Warn().Err(err).Str("conversation_id", conversationID).Msg("Session update failed")
	}
}
