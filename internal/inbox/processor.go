package inbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Chative-whatsapp-agent/server/internal/agent/graph"
	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	"github.com/Chative-whatsapp-agent/server/internal/integrations/whatsapp"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	"github.com/Chative-whatsapp-agent/server/internal/ratelimit"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

var (
	ErrRateLimited  = errors.New("too many messages, try again later")
	ErrShuttingDown = errors.New("processor is shutting down")
)

// Transport is the WhatsApp side the processor needs besides sending replies.
type Transport interface {
	SendPresence(ctx context.Context, to string) error
	DownloadMedia(ctx context.Context, messageID string) (*whatsapp.Media, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// Processor accepts parsed webhook messages and runs the workflow for each
// in the background. Limiter, Transport and Transcriber are optional.
type Processor struct {
	runner      graph.Runner
	limiter     ratelimit.Limiter
	transport   Transport
	transcriber Transcriber
	timeout     time.Duration

	wg      sync.WaitGroup
	closing atomic.Bool
}

type Option func(*Processor)

func WithLimiter(l ratelimit.Limiter) Option { return func(p *Processor) { p.limiter = l } }
func WithTransport(t Transport) Option       { return func(p *Processor) { p.transport = t } }
func WithTranscriber(t Transcriber) Option   { return func(p *Processor) { p.transcriber = t } }
func WithTimeout(d time.Duration) Option     { return func(p *Processor) { p.timeout = d } }

func NewProcessor(runner graph.Runner, opts ...Option) *Processor {
	p := &Processor{runner: runner}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Accept checks the sender's rate limit and starts processing msg on its own
// goroutine, detached from ctx cancellation.
func (p *Processor) Accept(ctx context.Context, msg *model.InboundMessage) error {
	if p.closing.Load() {
		return ErrShuttingDown
	}

	if p.limiter != nil {
		d, err := p.limiter.Allow(ctx, msg.Sender)
		switch {
		case err != nil:
			logx.Warn().Err(err).Str("sender", msg.Sender).Msg("Rate limiter unavailable, allowing message")
		case !d.Allowed:
			metrics.MessagesTotal.WithLabelValues(string(msg.Type), "rate_limited").Inc()
			logx.Warn().Str("sender", msg.Sender).Dur("reset_after", d.ResetAfter).Msg("Sender rate limited")
			return ErrRateLimited
		}
	}

	metrics.MessagesTotal.WithLabelValues(string(msg.Type), "accepted").Inc()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if _, err := p.Process(context.WithoutCancel(ctx), msg); err != nil {
			logx.Error().Err(err).Str("sender", msg.Sender).Str("message_id", msg.ID).Msg("Message processing failed")
		}
	}()
	return nil
}

// Process runs one message synchronously: typing indicator, transcription for
// voice notes, then the workflow.
func (p *Processor) Process(ctx context.Context, msg *model.InboundMessage) (result *model.QueryResult, err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Interface("panic", r).Str("sender", msg.Sender).Msg("Recovered from panic in message processing")
			err = errors.New("message processing panicked")
		}
	}()

	if p.transport != nil {
		if err := p.transport.SendPresence(ctx, msg.Sender); err != nil {
			logx.Debug().Err(err).Str("sender", msg.Sender).Msg("Typing indicator failed")
		}
	}

	if msg.Type == model.MessageAudio {
		p.transcribe(ctx, msg)
	}

	return p.runner.Invoke(ctx, model.QueryInput{
		ConversationID:  msg.Sender,
		Sender:          msg.Sender,
		Query:           msg.Text,
		MessageType:     msg.Type,
		AudioUnreadable: msg.TranscriptionFailed,
	})
}

// transcribe fills msg.Text, or flags the message when the clip cannot be read.
func (p *Processor) transcribe(ctx context.Context, msg *model.InboundMessage) {
	if p.transport == nil || p.transcriber == nil {
		msg.TranscriptionFailed = true
		return
	}

	media, err := p.transport.DownloadMedia(ctx, msg.ID)
	if err != nil {
		logx.Warn().Err(err).Str("message_id", msg.ID).Msg("Voice note download failed")
		msg.TranscriptionFailed = true
		return
	}
	mime := media.MimeType
	if mime == "" {
		mime = msg.MimeType
	}

	text, err := p.transcriber.Transcribe(ctx, media.Data, mime)
	if err != nil {
		logx.Warn().Err(err).Str("message_id", msg.ID).Msg("Voice note transcription failed")
		msg.TranscriptionFailed = true
		return
	}
	logx.Debug().Str("message_id", msg.ID).Int("length", len(text)).Msg("Voice note transcribed")
	msg.Text = text
}

// Shutdown stops accepting messages and waits for in-flight work or ctx.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.closing.Store(true)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
