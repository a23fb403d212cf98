package model

import "time"

// Intent is the coarse classification assigned to an inbound message.
type Intent string

const (
	IntentGreeting       Intent = "greeting"
	IntentServiceRequest Intent = "service_request"
	IntentGeneralInquiry Intent = "general_inquiry"
	IntentError          Intent = "error"
)

// Topic narrows an intent down to the reply it needs.
type Topic string

const (
	TopicNone            Topic = ""
	TopicHello           Topic = "hello"
	TopicFarewell        Topic = "farewell"
	TopicPricing         Topic = "pricing"
	TopicServices        Topic = "services"
	TopicScheduling      Topic = "scheduling"
	TopicEmail           Topic = "email"
	TopicCalendar        Topic = "calendar"
	TopicReminder        Topic = "reminder"
	TopicDataQuery       Topic = "data_query"
	TopicAudioUnreadable Topic = "audio_unreadable"
	TopicUnsupported     Topic = "unsupported"
)

// ResponseSource records which branch produced the outbound text.
type ResponseSource string

const (
	SourceNone          ResponseSource = ""
	SourceCanned        ResponseSource = "canned"
	SourceService       ResponseSource = "service"
	SourceKnowledgeBase ResponseSource = "knowledge_base"
	SourceFallback      ResponseSource = "fallback"
	SourceError         ResponseSource = "error"
)

// ConversationState is the value threaded through the workflow nodes.
// Nodes receive it by value and return the updated copy; it is never persisted.
type ConversationState struct {
	ConversationID string
	Sender         string
	Input          string
	MessageType    MessageType
	DryRun         bool

	// AudioUnreadable is set when a voice note could not be transcribed.
	AudioUnreadable bool

	Intent     Intent
	Topic      Topic
	Confidence float64
	RuleName   string

	History       []Turn
	ServiceResult *ServiceResult

	Response string
	Source   ResponseSource

	ValidationFailed bool
	ValidationError  string
	Err              error
	ErrorKind        string

	ResponseSent  bool
	DeliveryError string

	Path []string
}

// RunState stores per-invocation bookkeeping for the workflow graph.
// It is registered as graph local state via compose.WithGenLocalState and only
// touched inside state handlers or compose.ProcessState.
type RunState struct {
	ConversationID string
	StartedAt      time.Time
	Path           []string
}

// QueryInput is the public input of the workflow runner.
type QueryInput struct {
	ConversationID  string      `json:"conversation_id"`
	Sender          string      `json:"sender"`
	Query           string      `json:"query"`
	MessageType     MessageType `json:"message_type,omitempty"`
	AudioUnreadable bool        `json:"audio_unreadable,omitempty"`
	DryRun          bool        `json:"dry_run,omitempty"`
}

// QueryResult summarises one workflow run.
type QueryResult struct {
	ConversationID string         `json:"conversation_id"`
	Response       string         `json:"response"`
	Intent         Intent         `json:"intent"`
	Topic          Topic          `json:"topic,omitempty"`
	Confidence     float64        `json:"confidence"`
	Source         ResponseSource `json:"source"`
	Sent           bool           `json:"sent"`
	ErrorKind      string         `json:"error_kind,omitempty"`
	Path           []string       `json:"path"`
	Duration       time.Duration  `json:"duration"`
}
