package chain_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qornetwork/taskmarket/internal/chain"
)

func TestLogMirror(t *testing.T) {
	var m chain.Mirror = chain.LogMirror{}

	err := m.Mirror(context.Background(), chain.Event{
		Type:      chain.EventTrade,
		TaskID:    "task-1",
		Side:      "yes",
		Amount:    "100",
		Timestamp: time.Now().UTC(),
	})
	assert.NoError(t, err)
}

func TestEvent_WireFormat(t *testing.T) {
	success := true
	ev := chain.Event{
		Type:      chain.EventResolution,
		TaskID:    "task-1",
		RobotID:   "robot-1",
		Success:   &success,
		Score:     91.5,
		Timestamp: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	payload, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, "task_resolved", decoded["type"])
	assert.Equal(t, true, decoded["success"])
	// Zero-value optional fields stay off the wire.
	assert.NotContains(t, decoded, "amount")
	assert.NotContains(t, decoded, "user")
}
