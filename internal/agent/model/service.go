package model

import "time"

// ServiceRequest is what the process node hands to the service dispatcher.
type ServiceRequest struct {
	Topic  Topic
	Sender string
	Text   string
}

// ServiceResult is the outcome of a service-integration match.
// Success=false with a Message means the user must supply missing details.
type ServiceResult struct {
	Action    string         `json:"action"`
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	Reference string         `json:"reference,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// EmailDraft is an email extracted from a user message.
type EmailDraft struct {
	To      []string
	Subject string
	Body    string
}

// EventDraft is a calendar event extracted from a user message.
type EventDraft struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	Attendees   []string
}

// ReminderDraft is a reminder extracted from a user message.
type ReminderDraft struct {
	Text string
	At   time.Time
}

// KnowledgeQuery is the single call the workflow makes into the knowledge base.
type KnowledgeQuery struct {
	Question string
	History  []Turn
}
