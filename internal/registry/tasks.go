package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/qornetwork/taskmarket/internal/market"
	"github.com/qornetwork/taskmarket/internal/model"
	"github.com/qornetwork/taskmarket/internal/store"
)

// defaultRequiredScore is applied when a task is created without one.
const defaultRequiredScore = 80.0

// Tasks manages task creation and lookup. Creating a task also opens its
// market pool.
type Tasks struct {
	store  store.Store
	market *market.Service
}

// NewTasks creates a task registry service.
func NewTasks(st store.Store, mkt *market.Service) *Tasks {
	return &Tasks{store: st, market: mkt}
}

// CreateTaskRequest is the JSON body for POST /api/tasks/create.
type CreateTaskRequest struct {
	RobotID       string           `json:"robot_id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	Waypoints     []model.Waypoint `json:"waypoints"`
	Deadline      string           `json:"deadline"`
	RequiredScore *float64         `json:"required_score"` // nil → default 80
}

// Create posts a new task against a registered robot and opens the task's
// market pool.
func (s *Tasks) Create(ctx context.Context, req CreateTaskRequest) (*model.Task, error) {
	// The robot must exist; its lifecycle stays with the registry.
	if _, err := s.store.GetRobot(ctx, req.RobotID); err != nil {
		return nil, err
	}

	requiredScore := defaultRequiredScore
	if req.RequiredScore != nil {
		requiredScore = *req.RequiredScore
	}

	task := &model.Task{
		ID:            uuid.New().String(),
		RobotID:       req.RobotID,
		Title:         req.Title,
		Description:   req.Description,
		Waypoints:     req.Waypoints,
		Deadline:      req.Deadline,
		RequiredScore: requiredScore,
		Resolver:      "oracle_" + uuid.New().String()[:8],
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, err
	}

	if _, err := s.market.CreateMarket(ctx, task.ID, requiredScore); err != nil {
		return nil, err
	}

	slog.Info("task created", "id", task.ID, "robot_id", task.RobotID, "required_score", requiredScore)
	return task, nil
}

// Get returns a task by ID. Implements the task lookup the oracle consumes.
func (s *Tasks) Get(ctx context.Context, id string) (*model.Task, error) {
	return s.store.GetTask(ctx, id)
}

// --- HTTP handlers ---

// HandleCreate handles POST /api/tasks/create.
func (s *Tasks) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RobotID == "" {
		writeError(w, "robot_id is required", http.StatusBadRequest)
		return
	}

	task, err := s.Create(r.Context(), req)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, task)
}

// HandleList handles GET /api/tasks.
func (s *Tasks) HandleList(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context())
	if err != nil {
		writeError(w, "failed to list tasks", http.StatusInternalServerError)
		return
	}
	if tasks == nil {
		tasks = []model.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

// HandleGet handles GET /api/tasks/{taskID}.
func (s *Tasks) HandleGet(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, "task not found", errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, task)
}
