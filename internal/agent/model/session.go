package model

import (
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Session is the persisted per-user conversation record.
type Session struct {
	UserID       string         `json:"user_id"`
	Turns        []Turn         `json:"turns"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
}

func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		Turns:        []Turn{},
		Metadata:     map[string]any{},
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Append adds turns and drops the oldest ones beyond max. max <= 0 means unbounded.
func (s *Session) Append(max int, turns ...Turn) {
	s.Turns = append(s.Turns, turns...)
	if max > 0 && len(s.Turns) > max {
		kept := make([]Turn, max)
		copy(kept, s.Turns[len(s.Turns)-max:])
		s.Turns = kept
	}
	for _, t := range turns {
		if t.Timestamp.After(s.LastActivity) {
			s.LastActivity = t.Timestamp
		}
	}
}

// Recent returns a copy of the last n turns.
func (s *Session) Recent(n int) []Turn {
	src := s.Turns
	if n >= 0 && len(src) > n {
		src = src[len(src)-n:]
	}
	out := make([]Turn, len(src))
	copy(out, src)
	return out
}

// Expired reports whether the session has been idle longer than ttl.
func (s *Session) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.LastActivity) > ttl
}

// Clone returns a deep-enough copy for handing out of in-process stores.
func (s *Session) Clone() *Session {
	c := *s
	c.Turns = make([]Turn, len(s.Turns))
	copy(c.Turns, s.Turns)
	c.Metadata = make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		c.Metadata[k] = v
	}
	return &c
}
