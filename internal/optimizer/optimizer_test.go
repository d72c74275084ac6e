package optimizer_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qornetwork/taskmarket/internal/ipfs"
	"github.com/qornetwork/taskmarket/internal/model"
	"github.com/qornetwork/taskmarket/internal/optimizer"
	"github.com/qornetwork/taskmarket/internal/store"
)

func seedTask(t *testing.T, ms *store.MemoryStore, waypoints []model.Waypoint) *model.Task {
	t.Helper()
	task := &model.Task{
		ID:            "task-1",
		RobotID:       "robot-1",
		Title:         "deliver parcel",
		Waypoints:     waypoints,
		RequiredScore: 80,
		CreatedAt:     time.Now().UTC(),
	}
	require.NoError(t, ms.InsertTask(context.Background(), task))
	return task
}

func TestOptimize(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := optimizer.NewService(ms, ipfs.NewMockPinner(), nil)

	seedTask(t, ms, []model.Waypoint{
		{Lat: 55.75, Lng: 37.61, Action: "pickup"},
		{Lat: 55.76, Lng: 37.63},
		{Lat: 55.77, Lng: 37.64, Action: "dropoff"},
	})

	result, err := svc.Optimize(context.Background(), "task-1")
	require.NoError(t, err)

	require.Len(t, result.Plan, 3)
	for i, step := range result.Plan {
		assert.Equal(t, i+1, step.Step)
		assert.GreaterOrEqual(t, step.EstimatedTime, 5)
		assert.LessOrEqual(t, step.EstimatedTime, 20)
	}
	assert.Equal(t, "pickup", result.Plan[0].Action)
	assert.Equal(t, "visit", result.Plan[1].Action, "missing action defaults to visit")
	assert.Equal(t, "dropoff", result.Plan[2].Action)

	assert.GreaterOrEqual(t, result.Score, 85.0)
	assert.Less(t, result.Score, 98.0)
	assert.True(t, strings.HasPrefix(result.SolutionURI, "ipfs://Qm"))

	// Solution is recorded on the task for the oracle to verify against.
	task, err := ms.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, result.SolutionURI, task.SolutionURI)
	require.NotNil(t, task.OptimizationScore)
	assert.Equal(t, result.Score, *task.OptimizationScore)
}

func TestOptimize_NoWaypoints(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := optimizer.NewService(ms, ipfs.NewMockPinner(), nil)

	seedTask(t, ms, nil)

	result, err := svc.Optimize(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Empty(t, result.Plan)
	assert.GreaterOrEqual(t, result.Score, 85.0)
}

func TestOptimize_UnknownTask(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := optimizer.NewService(ms, ipfs.NewMockPinner(), nil)

	_, err := svc.Optimize(context.Background(), "no-such-task")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
