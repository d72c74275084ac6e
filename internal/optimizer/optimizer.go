// Package optimizer produces mock route plans for tasks. It stands in for
// a real solver behind the same shape of output (plan + score + pinned
// solution URI) and stays a pluggable collaborator: the market core never
// depends on it.
package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/qornetwork/taskmarket/internal/chain"
	"github.com/qornetwork/taskmarket/internal/ipfs"
	"github.com/qornetwork/taskmarket/internal/model"
	"github.com/qornetwork/taskmarket/internal/store"
)

// Mock score range. Real solver scores land on the same 0-100 scale.
const (
	scoreMin = 85.0
	scoreMax = 98.0
)

// effectTimeout bounds the best-effort chain mirror call.
const effectTimeout = 2 * time.Second

// Service runs the mock optimizer over task waypoints.
type Service struct {
	store  store.Store
	pinner ipfs.Pinner
	mirror chain.Mirror
}

// NewService creates an optimizer service. mirror may be nil.
func NewService(st store.Store, pinner ipfs.Pinner, mirror chain.Mirror) *Service {
	return &Service{store: st, pinner: pinner, mirror: mirror}
}

// PlanStep is one step of a computed route plan.
type PlanStep struct {
	Step          int            `json:"step"`
	Waypoint      model.Waypoint `json:"waypoint"`
	EstimatedTime int            `json:"estimated_time"`
	Action        string         `json:"action"`
}

// Result is the JSON response for an optimization run.
type Result struct {
	TaskID      string     `json:"task_id"`
	SolutionURI string     `json:"solution_uri"`
	Score       float64    `json:"score"`
	Plan        []PlanStep `json:"plan"`
	Warnings    []string   `json:"warnings,omitempty"`
}

// Optimize computes a greedy visit-all plan over the task's waypoints,
// pins it, and records the solution on the task.
func (s *Service) Optimize(ctx context.Context, taskID string) (*Result, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	plan := make([]PlanStep, 0, len(task.Waypoints))
	for i, wp := range task.Waypoints {
		action := wp.Action
		if action == "" {
			action = "visit"
		}
		plan = append(plan, PlanStep{
			Step:          i + 1,
			Waypoint:      wp,
			EstimatedTime: 5 + rand.Intn(16),
			Action:        action,
		})
	}

	score := scoreMin + rand.Float64()*(scoreMax-scoreMin)

	planJSON, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	_, solutionURI := s.pinner.Pin(planJSON)

	if err := s.store.SetTaskSolution(ctx, task.ID, solutionURI, score); err != nil {
		return nil, err
	}

	slog.Info("task optimized",
		"task_id", task.ID,
		"score", score,
		"steps", len(plan),
		"solution_uri", solutionURI,
	)

	result := &Result{
		TaskID:      task.ID,
		SolutionURI: solutionURI,
		Score:       score,
		Plan:        plan,
	}

	if s.mirror != nil {
		mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effectTimeout)
		err := s.mirror.Mirror(mctx, chain.Event{
			Type:        chain.EventOptimization,
			TaskID:      task.ID,
			RobotID:     task.RobotID,
			Score:       score,
			SolutionURI: solutionURI,
			Timestamp:   time.Now().UTC(),
		})
		cancel()
		if err != nil {
			slog.Warn("chain mirror failed", "task_id", task.ID, "err", err)
			result.Warnings = append(result.Warnings, "chain mirror failed: "+err.Error())
		}
	}

	return result, nil
}

// OptimizeRequest is the JSON body for POST /api/optimizer/optimize.
type OptimizeRequest struct {
	TaskID string `json:"task_id"`
}

// HandleOptimize handles POST /api/optimizer/optimize.
func (s *Service) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TaskID == "" {
		writeError(w, "task_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.Optimize(r.Context(), req.TaskID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		writeError(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
