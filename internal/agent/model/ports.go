package model

import (
	"context"
	"errors"
)

// ErrSessionNotFound is returned by repositories when no live session exists.
var ErrSessionNotFound = errors.New("session not found")

// ErrServiceUnavailable is returned by a ServiceHandler when the integration a
// topic needs is not configured.
var ErrServiceUnavailable = errors.New("service unavailable")

type SessionRepository interface {
	// Load returns the live session for userID or ErrSessionNotFound.
	Load(ctx context.Context, userID string) (*Session, error)

	// Save replaces the stored session.
	Save(ctx context.Context, s *Session) error

	// Delete removes the session; deleting a missing session is not an error.
	Delete(ctx context.Context, userID string) error

	// AppendTurns appends turns, creating the session when needed, and keeps at most max turns.
	AppendTurns(ctx context.Context, userID string, max int, turns ...Turn) (*Session, error)

	// PurgeExpired drops sessions idle longer than the repository TTL.
	PurgeExpired(ctx context.Context) (int, error)

	// Count returns the number of live sessions.
	Count(ctx context.Context) (int, error)
}

// MessageSender delivers text to a WhatsApp user.
type MessageSender interface {
	SendText(ctx context.Context, to, text string) error
}

// KnowledgeBase answers open questions from indexed documents.
type KnowledgeBase interface {
	Answer(ctx context.Context, q KnowledgeQuery) (string, error)
}

// ServiceHandler runs the integration matched by the intent detector.
type ServiceHandler interface {
	Handle(ctx context.Context, req ServiceRequest) (*ServiceResult, error)
}
