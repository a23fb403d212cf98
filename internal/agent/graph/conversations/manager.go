package conversations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	logx "github.com/Chative-whatsapp-agent/server/pkg/logger"
)

// SessionManager applies the history policy (cap, context window) on top of a repository.
type SessionManager struct {
	repo         model.SessionRepository
	maxTurns     int
	contextTurns int
	now          func() time.Time
}

func NewSessionManager(repo model.SessionRepository, config model.SessionConfig) *SessionManager {
	maxTurns := config.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}
	contextTurns := config.ContextTurns
	if contextTurns <= 0 || contextTurns > maxTurns {
		contextTurns = maxTurns
	}
	return &SessionManager{
		repo:         repo,
		maxTurns:     maxTurns,
		contextTurns: contextTurns,
		now:          time.Now,
	}
}

// MaxTurns is the configured history cap.
func (m *SessionManager) MaxTurns() int {
	return m.maxTurns
}

// History returns the most recent turns for userID; unknown users have none.
func (m *SessionManager) History(ctx context.Context, userID string) ([]model.Turn, error) {
	s, err := m.repo.Load(ctx, userID)
	if errors.Is(err, model.ErrSessionNotFound) {
		return []model.Turn{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.Recent(m.contextTurns), nil
}

// RecordExchange appends the user input and the assistant reply as two turns.
func (m *SessionManager) RecordExchange(ctx context.Context, userID, input, reply string, meta map[string]any) error {
	now := m.now()
	turns := []model.Turn{{Role: model.RoleUser, Content: input, Timestamp: now, Metadata: meta}}
	if strings.TrimSpace(reply) != "" {
		turns = append(turns, model.Turn{Role: model.RoleAssistant, Content: reply, Timestamp: now})
	}

	if _, err := m.repo.AppendTurns(ctx, userID, m.maxTurns, turns...); err != nil {
		logx.Error().Err(err).Str("user_id", userID).Msg("failed to record exchange")
		return err
	}
	return nil
}

// Get returns the full session for administrative views.
func (m *SessionManager) Get(ctx context.Context, userID string) (*model.Session, error) {
	return m.repo.Load(ctx, userID)
}

func (m *SessionManager) Delete(ctx context.Context, userID string) error {
	return m.repo.Delete(ctx, userID)
}

func (m *SessionManager) Purge(ctx context.Context) (int, error) {
	return m.repo.PurgeExpired(ctx)
}

func (m *SessionManager) Count(ctx context.Context) (int, error) {
	return m.repo.Count(ctx)
}

// FormatContext renders the last maxTurns turns as "role: content" lines for prompts.
func FormatContext(turns []model.Turn, maxTurns int) string {
	recent := trimTail(turns, maxTurns)

	var b strings.Builder
	for _, t := range recent {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(string(t.Role))
		b.WriteString(": ")
		b.WriteString(content)
	}
	return b.String()
}

// ====================== Helper function ======================
func trimTail(turns []model.Turn, maxTurns int) []model.Turn {
	if maxTurns < 0 {
		maxTurns = 0
	}
	if len(turns) <= maxTurns {
		result := make([]model.Turn, len(turns))
		copy(result, turns)
		return result
	}
	source := turns[len(turns)-maxTurns:]
	result := make([]model.Turn, len(source))
	copy(result, source)
	return result
}
