package email

import (
	"context"
	"fmt"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

// Message is an outbound email.
type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
	HTML    bool     `json:"html,omitempty"`
}

// Dialer delivers prepared messages; *mail.Client satisfies it.
type Dialer interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Client sends mail over SMTP with mandatory STARTTLS.
type Client struct {
	cfg    model.EmailConfig
	dialer Dialer
}

func New(cfg model.EmailConfig) (*Client, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.Username),
		mail.WithPassword(cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}
	return NewWithDialer(cfg, client), nil
}

func NewWithDialer(cfg model.EmailConfig, dialer Dialer) *Client {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Client{cfg: cfg, dialer: dialer}
}

// Send builds and delivers one message.
func (c *Client) Send(ctx context.Context, m Message) error {
	msg, err := BuildMessage(c.cfg.From, c.cfg.FromName, m)
	if err != nil {
		return err
	}

	err = c.dialer.DialAndSendWithContext(ctx, msg)
	metrics.IntegrationCalls.WithLabelValues("email", metrics.Status(err)).Inc()
	if err != nil {
		logx.Error().Err(err).Strs("to", m.To).Msg("Email delivery failed")
		return errx.Integration("email", err)
	}
	logx.Info().Strs("to", m.To).Str("subject", m.Subject).Msg("Email sent")
	return nil
}

// BuildMessage validates the addresses and renders the MIME message.
func BuildMessage(from, fromName string, m Message) (*mail.Msg, error) {
	if len(m.To) == 0 {
		return nil, errx.Validation("at least one recipient is required")
	}
	if strings.TrimSpace(m.Subject) == "" {
		return nil, errx.Validation("subject is required")
	}

	msg := mail.NewMsg()
	var err error
	if fromName != "" {
		err = msg.FromFormat(fromName, from)
	} else {
		err = msg.From(from)
	}
	if err != nil {
		return nil, errx.Validation(fmt.Sprintf("invalid sender address %q", from))
	}
	if err := msg.To(m.To...); err != nil {
		return nil, errx.Validation(fmt.Sprintf("invalid recipient: %v", err))
	}
	msg.Subject(m.Subject)

	contentType := mail.TypeTextPlain
	if m.HTML {
		contentType = mail.TypeTextHTML
	}
	msg.SetBodyString(contentType, m.Body)
	return msg, nil
}
