package model

import "time"

// MessageType is the normalized kind of an inbound WhatsApp message.
type MessageType string

const (
	MessageText        MessageType = "text"
	MessageAudio       MessageType = "audio"
	MessageImage       MessageType = "image"
	MessageDocument    MessageType = "document"
	MessageUnsupported MessageType = "unsupported"
)

// InboundMessage is the transport-neutral record produced by the webhook parser.
type InboundMessage struct {
	ID        string      `json:"id"`
	Sender    string      `json:"sender"`
	PushName  string      `json:"push_name,omitempty"`
	Type      MessageType `json:"type"`
	Text      string      `json:"text"`
	MediaURL  string      `json:"media_url,omitempty"`
	MimeType  string      `json:"mime_type,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Instance  string      `json:"instance,omitempty"`

	TranscriptionFailed bool `json:"transcription_failed,omitempty"`
}
