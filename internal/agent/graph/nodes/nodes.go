package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"

	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/parsers"
	"github.com/Chative-whatsapp-agent/server/internal/agent/graph/prompts"
	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

// Deps are the collaborators shared by the workflow nodes. Services and
// Knowledge may be nil; the matching replies then fall back to canned text.
type Deps struct {
	Detector  *parsers.IntentDetector
	Replies   *prompts.CannedReplies
	Services  model.ServiceHandler
	Knowledge model.KnowledgeBase
	Sender    model.MessageSender
	Workflow  model.WorkflowConfig
}

// NewPathPreHandler records the node in the run path before it executes.
func NewPathPreHandler(node string) func(context.Context, model.ConversationState, *model.RunState) (model.ConversationState, error) {
	return func(ctx context.Context, in model.ConversationState, st *model.RunState) (model.ConversationState, error) {
		if st.ConversationID == "" {
			st.ConversationID = in.ConversationID
		}
		st.Path = append(st.Path, node)
		return in, nil
	}
}

// NewErrorCondition routes to handle_error whenever the state carries an error.
func NewErrorCondition(next string) func(context.Context, model.ConversationState) (string, error) {
	return func(ctx context.Context, s model.ConversationState) (string, error) {
		if s.Err != nil || s.ValidationFailed {
			logx.Debug().
				Str("conversation_id", s.ConversationID).
				Str("next", NodeHandleError).
				Msg("Routing to error handler")
			return NodeHandleError, nil
		}
		return next, nil
	}
}

// NewValidateInputNode trims the input and rejects empty or over-length text.
// Unreadable audio and unsupported media carry no text and pass through.
func NewValidateInputNode(cfg model.WorkflowConfig) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.ConversationState) (model.ConversationState, error) {
		s.Input = strings.TrimSpace(s.Input)
		if s.AudioUnreadable || s.MessageType == model.MessageUnsupported {
			return s, nil
		}

		var reason string
		switch n := len([]rune(s.Input)); {
		case n == 0:
			reason = "el mensaje está vacío"
		case cfg.MaxInputLength > 0 && n > cfg.MaxInputLength:
			reason = fmt.Sprintf("el mensaje es demasiado largo (%d caracteres, máximo %d)", n, cfg.MaxInputLength)
		}
		if reason != "" {
			s.ValidationFailed = true
			s.ValidationError = reason
			s.Err = errx.Validation(reason)
			logx.Debug().Str("conversation_id", s.ConversationID).Str("reason", reason).Msg("Input rejected")
		}
		return s, nil
	})
}

// NewProcessMessageNode detects the intent and, for service requests, calls the
// service dispatcher exactly once.
func NewProcessMessageNode(deps *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.ConversationState) (out model.ConversationState, err error) {
		out = s
		defer recoverInto(NodeProcessMessage, &out)

		switch {
		case s.AudioUnreadable:
			out.Intent, out.Topic, out.Confidence, out.RuleName = model.IntentGeneralInquiry, model.TopicAudioUnreadable, 1, "audio_unreadable"
			return out, nil
		case s.MessageType == model.MessageUnsupported:
			out.Intent, out.Topic, out.Confidence, out.RuleName = model.IntentGeneralInquiry, model.TopicUnsupported, 1, "unsupported_media"
			return out, nil
		}

		out.Input = normalizeWhitespace(s.Input)
		match := deps.Detector.Detect(out.Input)
		out.Intent, out.Topic, out.Confidence, out.RuleName = match.Intent, match.Topic, match.Score, match.Rule

		logx.Debug().
			Str("conversation_id", s.ConversationID).
			Str("intent", string(match.Intent)).
			Str("topic", string(match.Topic)).
			Str("rule", match.Rule).
			Float64("confidence", match.Score).
			Msg("Intent detected")

		if match.Intent != model.IntentServiceRequest || deps.Services == nil {
			return out, nil
		}

		res, serr := deps.Services.Handle(ctx, model.ServiceRequest{
			Topic:  match.Topic,
			Sender: s.Sender,
			Text:   out.Input,
		})
		switch {
		case errors.Is(serr, model.ErrServiceUnavailable):
			logx.Info().Str("conversation_id", s.ConversationID).Str("topic", string(match.Topic)).Msg("Service not configured")
		case serr != nil:
			if errx.KindOf(serr) == errx.KindInternal {
				serr = errx.Integration(string(match.Topic), serr)
			}
			out.Err = serr
		default:
			out.ServiceResult = res
		}
		return out, nil
	})
}

// NewGenerateResponseNode picks the reply: service result, canned template,
// or one knowledge-base query with the fallback template for empty answers.
func NewGenerateResponseNode(deps *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.ConversationState) (out model.ConversationState, err error) {
		out = s
		defer recoverInto(NodeGenerateResponse, &out)

		reply, source, gerr := generate(ctx, deps, s)
		if gerr != nil {
			out.Err = gerr
			return out, nil
		}
		out.Response = TruncateReply(reply, deps.Workflow.MaxResponseLength)
		out.Source = source
		return out, nil
	})
}

func generate(ctx context.Context, deps *Deps, s model.ConversationState) (string, model.ResponseSource, error) {
	if s.ServiceResult != nil {
		return s.ServiceResult.Message, model.SourceService, nil
	}

	if s.Intent == model.IntentServiceRequest {
		reply, err := deps.Replies.Render(ctx, prompts.CannedServiceUnavailable, map[string]any{"Topic": string(s.Topic)})
		return reply, model.SourceCanned, err
	}

	if name, ok := prompts.CannedForTopic(s.Topic); ok {
		reply, err := deps.Replies.Render(ctx, name, nil)
		return reply, model.SourceCanned, err
	}

	if deps.Knowledge != nil {
		answer, err := deps.Knowledge.Answer(ctx, model.KnowledgeQuery{Question: s.Input, History: s.History})
		if err != nil {
			if errx.KindOf(err) == errx.KindInternal {
				err = errx.KnowledgeBase(err)
			}
			return "", model.SourceNone, err
		}
		if strings.TrimSpace(answer) != "" {
			return strings.TrimSpace(answer), model.SourceKnowledgeBase, nil
		}
	}

	reply, err := deps.Replies.Render(ctx, prompts.CannedFallback, nil)
	return reply, model.SourceFallback, err
}

// NewHandleErrorNode turns the recorded error into the user-facing apology.
func NewHandleErrorNode(deps *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.ConversationState) (model.ConversationState, error) {
		kind := errx.KindValidation
		if !s.ValidationFailed {
			kind = errx.KindOf(s.Err)
		}
		s.ErrorKind = string(kind)
		if s.Intent == "" {
			s.Intent = model.IntentError
		}
		metrics.WorkflowErrors.WithLabelValues(s.ErrorKind).Inc()

		logx.Warn().
			Err(s.Err).
			Str("conversation_id", s.ConversationID).
			Str("error_kind", s.ErrorKind).
			Str("intent", string(s.Intent)).
			Msg("Workflow error")

		var reply string
		var err error
		if s.ValidationFailed {
			reply, err = deps.Replies.Render(ctx, prompts.CannedValidationError, map[string]any{"Detail": s.ValidationError})
		} else {
			reply, err = deps.Replies.Render(ctx, prompts.CannedGenericError, nil)
		}
		if err != nil {
			return s, fmt.Errorf("render apology: %w", err)
		}
		s.Response = reply
		s.Source = model.SourceError
		return s, nil
	})
}

// NewSendResponseNode delivers the reply once. Delivery failures are recorded
// on the state and logged; they are never retried here. Delivery metrics are
// counted per part by the sender.
func NewSendResponseNode(deps *Deps) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, s model.ConversationState) (model.ConversationState, error) {
		switch {
		case s.DryRun:
			logx.Debug().Str("conversation_id", s.ConversationID).Msg("Dry run, reply not sent")
			return s, nil
		case deps.Sender == nil || s.Sender == "" || strings.TrimSpace(s.Response) == "":
			logx.Debug().Str("conversation_id", s.ConversationID).Msg("Nothing to send")
			return s, nil
		}

		if err := deps.Sender.SendText(ctx, s.Sender, s.Response); err != nil {
			s.DeliveryError = err.Error()
			logx.Error().
				Err(err).
				Str("conversation_id", s.ConversationID).
				Str("to", s.Sender).
				Msg("Reply delivery failed")
			return s, nil
		}
		s.ResponseSent = true
		return s, nil
	})
}

// NewSendResponsePostHandler copies the visited path from the run state.
func NewSendResponsePostHandler() func(context.Context, model.ConversationState, *model.RunState) (model.ConversationState, error) {
	return func(ctx context.Context, out model.ConversationState, st *model.RunState) (model.ConversationState, error) {
		out.Path = append([]string(nil), st.Path...)
		return out, nil
	}
}
