package conversations

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chative-whatsapp-agent/server/internal/agent/model"
	"github.com/Chative-whatsapp-agent/server/internal/agent/repo"
)

func newManager(t *testing.T, maxTurns, contextTurns int) *SessionManager {
	t.Helper()
	r, err := repo.NewMemorySessionRepository(100, time.Hour)
	require.NoError(t, err)
	return NewSessionManager(r, model.SessionConfig{MaxTurns: maxTurns, ContextTurns: contextTurns})
}

func TestHistoryNeverExceedsCap(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, 10, 4)

	for n := 1; n <= 30; n++ {
		require.NoError(t, m.RecordExchange(ctx, "u1", fmt.Sprintf("q%d", n), fmt.Sprintf("a%d", n), nil))

		s, err := m.Get(ctx, "u1")
		require.NoError(t, err)
		require.LessOrEqual(t, len(s.Turns), 10, "after %d exchanges", n)
	}

	s, err := m.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "q26", s.Turns[0].Content)
	assert.Equal(t, "a30", s.Turns[len(s.Turns)-1].Content)

	h, err := m.History(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, h, 4)
	assert.Equal(t, "q29", h[0].Content)
}

func TestHistoryForUnknownUserIsEmpty(t *testing.T) {
	m := newManager(t, 10, 6)
	h, err := m.History(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestRecordExchangeSkipsEmptyReply(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, 10, 6)

	require.NoError(t, m.RecordExchange(ctx, "u", "hola", "  ", map[string]any{"intent": "greeting"}))
	s, err := m.Get(ctx, "u")
	require.NoError(t, err)
	require.Len(t, s.Turns, 1)
	assert.Equal(t, model.RoleUser, s.Turns[0].Role)
	assert.Equal(t, "greeting", s.Turns[0].Metadata["intent"])
}

func TestFormatContext(t *testing.T) {
	turns := []model.Turn{
		{Role: model.RoleUser, Content: "hola"},
		{Role: model.RoleAssistant, Content: "¡Hola!"},
		{Role: model.RoleUser, Content: " "},
		{Role: model.RoleUser, Content: "¿precios?"},
	}
	assert.Equal(t, "assistant: ¡Hola!\nuser: ¿precios?", FormatContext(turns, 3))
	assert.Equal(t, "", FormatContext(turns, 0))
}
