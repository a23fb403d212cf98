package whatsapp

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	errx "github.com/Chative-whatsapp-agent/server/internal/core/error"
	"github.com/Chative-whatsapp-agent/server/internal/metrics"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

const presenceComposing = "composing"

type sendOptions struct {
	Delay    int    `json:"delay"`
	Presence string `json:"presence"`
}

type sendTextRequest struct {
	Number      string      `json:"number"`
	Options     sendOptions `json:"options"`
	TextMessage struct {
		Text string `json:"text"`
	} `json:"textMessage"`
}

type presenceRequest struct {
	Number   string `json:"number"`
	Presence string `json:"presence"`
	Delay    int    `json:"delay"`
}

type mediaRequest struct {
	Message struct {
		Key struct {
			ID string `json:"id"`
		} `json:"key"`
	} `json:"message"`
	ConvertToMp4 bool `json:"convertToMp4"`
}

type mediaResponse struct {
	Base64   string `json:"base64"`
	Mimetype string `json:"mimetype"`
}

// InstanceState is the connection state reported by Evolution API.
type InstanceState struct {
	Instance struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"instance"`
}

// Media is a downloaded attachment.
type Media struct {
	Data     []byte
	MimeType string
}

// Client talks to an Evolution API instance.
type Client struct {
	cfg  model.WhatsAppConfig
	http *resty.Client
}

func NewClient(cfg model.WhatsAppConfig) *Client {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 4000
	}
	if cfg.MaxMediaBytes <= 0 {
		cfg.MaxMediaBytes = 25 << 20
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.APIURL, "/")).
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(4 * cfg.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		})

	return &Client{cfg: cfg, http: httpClient}
}

// DryRun reports whether outbound calls are only logged.
func (c *Client) DryRun() bool {
	return c.cfg.DryRun
}

// SendText implements model.MessageSender. Long texts go out as several
// messages split at sentence boundaries.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	parts := SplitMessage(text, c.cfg.MaxMessageLength)
	for i, part := range parts {
		if i > 0 && c.cfg.PartDelay > 0 {
			select {
			case <-ctx.Done():
				return errx.Transport(ctx.Err())
			case <-time.After(c.cfg.PartDelay):
			}
		}
		if err := c.sendPart(ctx, to, part); err != nil {
			metrics.DeliveriesTotal.WithLabelValues("error").Inc()
			return err
		}
		metrics.DeliveriesTotal.WithLabelValues("success").Inc()
	}
	if len(parts) > 1 {
		logx.Debug().Str("to", to).Int("parts", len(parts)).Msg("Long message split")
	}
	return nil
}

func (c *Client) sendPart(ctx context.Context, to, text string) error {
	if c.cfg.DryRun {
		logx.Info().Str("to", to).Int("length", len(text)).Msg("Dry run, message not sent")
		return nil
	}

	body := sendTextRequest{
		Number:  to,
		Options: sendOptions{Delay: c.cfg.TypingDelay, Presence: presenceComposing},
	}
	body.TextMessage.Text = text

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/message/sendText/" + c.cfg.Instance)
	if err != nil {
		logx.Error().Err(err).Str("to", to).Msg("WhatsApp send request failed")
		return errx.Transport(fmt.Errorf("send text: %w", err))
	}
	if resp.IsError() {
		logx.Error().Int("status", resp.StatusCode()).Str("to", to).Str("body", resp.String()).Msg("WhatsApp send rejected")
		return errx.Transport(fmt.Errorf("send text (%d): %s", resp.StatusCode(), resp.String()))
	}
	return nil
}

// SendPresence shows the typing indicator to the user.
func (c *Client) SendPresence(ctx context.Context, to string) error {
	if c.cfg.DryRun {
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(presenceRequest{Number: to, Presence: presenceComposing, Delay: c.cfg.TypingDelay}).
		Post("/chat/presence/" + c.cfg.Instance)
	if err != nil {
		return errx.Transport(fmt.Errorf("send presence: %w", err))
	}
	if resp.IsError() {
		return errx.Transport(fmt.Errorf("send presence (%d): %s", resp.StatusCode(), resp.String()))
	}
	return nil
}

// InstanceStatus returns the connection state of the configured instance.
func (c *Client) InstanceStatus(ctx context.Context) (*InstanceState, error) {
	var state InstanceState
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&state).
		Get("/instance/connectionState/" + c.cfg.Instance)
	if err != nil {
		return nil, errx.Transport(fmt.Errorf("instance status: %w", err))
	}
	if resp.IsError() {
		return nil, errx.Transport(fmt.Errorf("instance status (%d): %s", resp.StatusCode(), resp.String()))
	}
	return &state, nil
}

// DownloadMedia fetches the decoded attachment of a received message.
func (c *Client) DownloadMedia(ctx context.Context, messageID string) (*Media, error) {
	if messageID == "" {
		return nil, errx.Validation("message id is required to download media")
	}

	var req mediaRequest
	req.Message.Key.ID = messageID

	var out mediaResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/chat/getBase64FromMediaMessage/" + c.cfg.Instance)
	if err != nil {
		return nil, errx.Transport(fmt.Errorf("download media: %w", err))
	}
	if resp.IsError() {
		return nil, errx.Transport(fmt.Errorf("download media (%d): %s", resp.StatusCode(), resp.String()))
	}

	if base64.StdEncoding.DecodedLen(len(out.Base64)) > c.cfg.MaxMediaBytes+2 {
		return nil, errx.Validation(fmt.Sprintf("media exceeds %d bytes", c.cfg.MaxMediaBytes))
	}
	data, err := base64.StdEncoding.DecodeString(out.Base64)
	if err != nil {
		return nil, errx.Transport(fmt.Errorf("decode media: %w", err))
	}
	if len(data) > c.cfg.MaxMediaBytes {
		return nil, errx.Validation(fmt.Sprintf("media exceeds %d bytes", c.cfg.MaxMediaBytes))
	}
	return &Media{Data: data, MimeType: out.Mimetype}, nil
}
