package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmaFanClub/EverMemoryArchive/pkg/types"
)

func TestCountTokens(t *testing.T) {
	tok, err := New()
	require.NoError(t, err)

	assert.Equal(t, 0, tok.CountTokens(""))
	assert.Greater(t, tok.CountTokens("Hello, world!"), 0)

	// Longer text encodes to more tokens.
	short := tok.CountTokens("one two three")
	long := tok.CountTokens(strings.Repeat("one two three ", 20))
	assert.Greater(t, long, short)
}

func TestCountMessages(t *testing.T) {
	tok, err := New()
	require.NoError(t, err)

	messages := []*types.Message{
		types.NewUserTextMessage("What is 2+3?"),
		types.NewModelMessage(nil, []types.ToolCall{
			{ID: "c1", Name: "add", Args: map[string]any{"a": 2, "b": 3}},
		}),
		types.NewToolMessage("c1", "add", &types.ToolResult{Success: true, Content: "5"}),
	}

	total := tok.CountMessages(messages)

	// At minimum, each message carries its overhead.
	assert.GreaterOrEqual(t, total, len(messages)*messageOverheadTokens)

	// Tool calls and results contribute to the count.
	bare := tok.CountMessages([]*types.Message{types.NewUserTextMessage("What is 2+3?")})
	assert.Greater(t, total, bare)
}

func TestEstimateFallback(t *testing.T) {
	messages := []*types.Message{
		types.NewUserTextMessage(strings.Repeat("x", 250)),
	}

	// 250 chars at 2.5 chars per token.
	assert.Equal(t, 100, EstimateFallback(messages))

	assert.Equal(t, 0, EstimateFallback(nil))
}
