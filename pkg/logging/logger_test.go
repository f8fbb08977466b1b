package logging

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("test-component")
	require.NoError(t, err)

	assert.NotEmpty(t, logger.SessionID())
	assert.NotEmpty(t, logger.LogPath())
	assert.Contains(t, logger.LogPath(), "-ema.log")
}

func TestLogger_WritesTaggedEntries(t *testing.T) {
	logger, err := NewLogger("tagged")
	require.NoError(t, err)

	logger.Infof("info %d", 1)
	logger.Warnf("warn %s", "two")
	logger.Errorf("error")
	logger.Debugf("debug")

	data, err := os.ReadFile(logger.LogPath())
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "[tagged] [INFO] info 1")
	assert.Contains(t, content, "[tagged] [WARN] warn two")
	assert.Contains(t, content, "[tagged] [ERROR] error")
	assert.Contains(t, content, "[tagged] [DEBUG] debug")
}

func TestLogger_ScopedEntries(t *testing.T) {
	logger, err := NewLogger("actor")
	require.NoError(t, err)

	logger.WithActor(3, 7).Infof("picked up batch")
	logger.WithRun("01ARZ").Infof("step finished")
	logger.WithScope("task:heartbeat").Infof("fired")

	data, err := os.ReadFile(logger.LogPath())
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "[actor actor:3/7] [INFO] picked up batch")
	assert.Contains(t, content, "[actor run:01ARZ] [INFO] step finished")
	assert.Contains(t, content, "[actor task:heartbeat] [INFO] fired")
}

func TestLogger_ScopesAreIndependent(t *testing.T) {
	logger, err := NewLogger("agent")
	require.NoError(t, err)

	scoped := logger.WithRun("r1")
	assert.NotSame(t, logger, scoped)

	// Deriving does not mutate the parent.
	logger.Infof("unscoped entry")
	data, err := os.ReadFile(logger.LogPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "[agent] [INFO] unscoped entry")
}

func TestLogger_SharedSessionFile(t *testing.T) {
	a, err := NewLogger("comp-a")
	require.NoError(t, err)

	b, err := NewLogger("comp-b")
	require.NoError(t, err)

	assert.Equal(t, a.SessionID(), b.SessionID())
	assert.Equal(t, a.LogPath(), b.LogPath())
}
