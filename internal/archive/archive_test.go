package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stulentsev/jean/internal/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.BeginSession(ctx, "127.0.0.1:51234")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.NoError(t, s.EndSession(ctx, id))
}

func TestAppendAndReadTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.BeginSession(ctx, "127.0.0.1:51234")
	require.NoError(t, err)

	turns := []protocol.Turn{
		{Role: protocol.RoleUser, Content: "read a.txt please"},
		{Role: protocol.RoleAssistant, ToolCalls: []protocol.ToolCall{
			{ID: "call_1", Name: "read_file", Arguments: `{"filename":"a.txt"}`},
		}},
		{Role: protocol.RoleTool, ToolCallID: "call_1", Content: "file body"},
		{Role: protocol.RoleAssistant, Content: "The file says: file body"},
	}
	for _, turn := range turns {
		require.NoError(t, s.AppendTurn(ctx, id, turn))
	}

	got, err := s.Turns(ctx, id)
	require.NoError(t, err)
	require.Len(t, got, len(turns))
	for i := range turns {
		assert.Equal(t, turns[i].Role, got[i].Role, "turn %d role", i)
		assert.Equal(t, turns[i].Content, got[i].Content, "turn %d content", i)
	}

	require.Len(t, got[1].ToolCalls, 1)
	assert.Equal(t, "call_1", got[1].ToolCalls[0].ID)
	assert.Equal(t, "read_file", got[1].ToolCalls[0].Name)
	assert.Equal(t, "call_1", got[2].ToolCallID)
}

func TestTurnsIsolatedPerSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.BeginSession(ctx, "127.0.0.1:1")
	require.NoError(t, err)
	b, err := s.BeginSession(ctx, "127.0.0.1:2")
	require.NoError(t, err)

	require.NoError(t, s.AppendTurn(ctx, a, protocol.Turn{Role: protocol.RoleUser, Content: "for a"}))
	require.NoError(t, s.AppendTurn(ctx, b, protocol.Turn{Role: protocol.RoleUser, Content: "for b"}))

	got, err := s.Turns(ctx, a)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "for a", got[0].Content)
}

func TestTurnsEmptySession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.BeginSession(ctx, "")
	require.NoError(t, err)

	got, err := s.Turns(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAppendTurnUnknownSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Foreign keys are on, so a turn for a session that was never begun
	// must be rejected.
	err := s.AppendTurn(ctx, "no-such-session", protocol.Turn{Role: protocol.RoleUser, Content: "x"})
	assert.Error(t, err)
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.migrate())
}
