package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/cuemby/adcm/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithObject(WithTaskID(WithComponent("executor"), 12), types.ObjectRef{Type: types.ObjectCluster, ID: 3})
	logger.Info().Int("pid", 4711).Msg("task started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "executor", line["component"])
	assert.EqualValues(t, 12, line["task_id"])
	assert.Equal(t, "cluster", line["object_type"])
	assert.EqualValues(t, 3, line["object_id"])
	assert.Equal(t, "task started", line["message"])
	assert.Contains(t, line, "time")
}

func TestInitLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	Logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())
	Logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")

	// unknown levels fall back to info
	buf.Reset()
	Init(Config{Level: "loud", JSONOutput: true, Output: &buf})
	Logger.Debug().Msg("hidden")
	Logger.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestConsoleOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: InfoLevel, Output: &buf})

	logger := WithJobID(WithComponent("job-runner"), 7)
	logger.Info().Msg("job script finished")
	assert.Contains(t, buf.String(), "job script finished")
	assert.Contains(t, buf.String(), "job_id")
}
