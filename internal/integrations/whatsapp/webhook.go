package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
)

const (
	EventMessagesUpsert = "messages.upsert"

	userSuffix  = "@s.whatsapp.net"
	groupSuffix = "@g.us"
	broadcastID = "status@broadcast"
)

// Reasons a webhook carries nothing to answer. They are not failures: the
// server acknowledges them with 200.
var (
	ErrIgnoredEvent   = errors.New("event is not a new message")
	ErrFromSelf       = errors.New("message was sent by this instance")
	ErrNoSender       = errors.New("message has no sender")
	ErrUnsupportedJID = errors.New("group and broadcast chats are not handled")
)

// Ignored reports whether err is one of the skip reasons above.
func Ignored(err error) bool {
	return errors.Is(err, ErrIgnoredEvent) ||
		errors.Is(err, ErrFromSelf) ||
		errors.Is(err, ErrNoSender) ||
		errors.Is(err, ErrUnsupportedJID)
}

type webhookPayload struct {
	Event    string      `json:"event"`
	Instance string      `json:"instance"`
	Data     messageData `json:"data"`
}

type messageData struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName         string          `json:"pushName"`
	Message          messageContent  `json:"message"`
	MessageType      string          `json:"messageType"`
	MessageTimestamp json.RawMessage `json:"messageTimestamp"`
}

type messageContent struct {
	Conversation        *string `json:"conversation"`
	ExtendedTextMessage *struct {
		Text string `json:"text"`
	} `json:"extendedTextMessage"`
	AudioMessage *struct {
		URL      string `json:"url"`
		Mimetype string `json:"mimetype"`
		Seconds  int    `json:"seconds"`
	} `json:"audioMessage"`
	ImageMessage *struct {
		URL      string `json:"url"`
		Mimetype string `json:"mimetype"`
		Caption  string `json:"caption"`
	} `json:"imageMessage"`
	DocumentMessage *struct {
		URL      string `json:"url"`
		Mimetype string `json:"mimetype"`
		FileName string `json:"fileName"`
	} `json:"documentMessage"`
}

// ParseWebhook turns an Evolution API webhook body into an InboundMessage.
// Payloads with nothing to answer return an error for which Ignored is true.
func ParseWebhook(body []byte) (*model.InboundMessage, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode webhook: %w", err)
	}
	// Evolution sends MESSAGES_UPSERT or messages.upsert depending on the version.
	if strings.ReplaceAll(strings.ToLower(p.Event), "_", ".") != EventMessagesUpsert {
		return nil, fmt.Errorf("%w: %q", ErrIgnoredEvent, p.Event)
	}
	if p.Data.Key.FromMe {
		return nil, ErrFromSelf
	}

	jid := strings.TrimSpace(p.Data.Key.RemoteJID)
	if jid == "" {
		return nil, ErrNoSender
	}
	if strings.HasSuffix(jid, groupSuffix) || jid == broadcastID {
		return nil, ErrUnsupportedJID
	}
	sender := strings.TrimSuffix(jid, userSuffix)
	if sender == "" {
		return nil, ErrNoSender
	}

	msg := &model.InboundMessage{
		ID:        p.Data.Key.ID,
		Sender:    sender,
		PushName:  p.Data.PushName,
		Instance:  p.Instance,
		Timestamp: parseTimestamp(p.Data.MessageTimestamp),
	}

	c := p.Data.Message
	switch {
	case c.Conversation != nil:
		msg.Type = model.MessageText
		msg.Text = *c.Conversation
	case c.ExtendedTextMessage != nil:
		msg.Type = model.MessageText
		msg.Text = c.ExtendedTextMessage.Text
	case c.AudioMessage != nil:
		msg.Type = model.MessageAudio
		msg.MediaURL = c.AudioMessage.URL
		msg.MimeType = c.AudioMessage.Mimetype
	case c.ImageMessage != nil:
		msg.Type = model.MessageImage
		msg.MediaURL = c.ImageMessage.URL
		msg.MimeType = c.ImageMessage.Mimetype
		msg.Text = c.ImageMessage.Caption
		if strings.TrimSpace(msg.Text) == "" {
			msg.Text = "[Image received]"
		}
	case c.DocumentMessage != nil:
		name := c.DocumentMessage.FileName
		if name == "" {
			name = "document"
		}
		msg.Type = model.MessageDocument
		msg.MediaURL = c.DocumentMessage.URL
		msg.MimeType = c.DocumentMessage.Mimetype
		msg.Text = fmt.Sprintf("[Document received: %s]", name)
	default:
		msg.Type = model.MessageUnsupported
	}
	return msg, nil
}

// parseTimestamp accepts unix seconds as a number or a quoted string; anything else is now.
func parseTimestamp(raw json.RawMessage) time.Time {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return time.Now()
	}
	secs, err := strconv.ParseInt(s, 10, 64)
	if err != nil || secs <= 0 {
		return time.Now()
	}
	return time.Unix(secs, 0)
}
