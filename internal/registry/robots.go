// Package registry owns the robot and task collaborator entities around
// the market core: robot registration and lifecycle, task creation, and
// the reputation ledger the resolution engine's deltas land in.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qornetwork/taskmarket/internal/ipfs"
	"github.com/qornetwork/taskmarket/internal/model"
	"github.com/qornetwork/taskmarket/internal/store"
)

// ErrActiveTasks is returned when deleting a robot that still has tasks
// with an active market.
var ErrActiveTasks = errors.New("registry: robot has active tasks")

// initialReputation is the reputation every robot starts with.
const initialReputation = 100

// Robots manages the robot registry.
type Robots struct {
	store  store.Store
	pinner ipfs.Pinner
}

// NewRobots creates a robot registry service.
func NewRobots(st store.Store, pinner ipfs.Pinner) *Robots {
	return &Robots{store: st, pinner: pinner}
}

// RegisterRequest is the JSON body for POST /api/robots/register.
type RegisterRequest struct {
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Capabilities []string        `json:"capabilities"`
	StakeAmount  decimal.Decimal `json:"stake_amount"`
}

// Register creates a new robot with pinned metadata and initial reputation.
func (s *Robots) Register(ctx context.Context, req RegisterRequest) (*model.Robot, error) {
	id := uuid.New().String()
	idHash := sha256.Sum256([]byte(id))

	metadata, err := json.Marshal(map[string]any{
		"name":         req.Name,
		"description":  req.Description,
		"capabilities": req.Capabilities,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	_, metadataURI := s.pinner.Pin(metadata)

	robot := &model.Robot{
		ID:           id,
		IDHash:       hex.EncodeToString(idHash[:]),
		Owner:        "user_" + uuid.New().String()[:8],
		Name:         req.Name,
		Description:  req.Description,
		Capabilities: req.Capabilities,
		MetadataURI:  metadataURI,
		Reputation:   initialReputation,
		Stake:        req.StakeAmount,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.InsertRobot(ctx, robot); err != nil {
		return nil, err
	}

	slog.Info("robot registered", "id", robot.ID, "name", robot.Name, "stake", robot.Stake.String())
	return robot, nil
}

// AdjustReputation applies a reputation delta to a robot. This is the
// consumer of the resolution engine's reputation events.
func (s *Robots) AdjustReputation(ctx context.Context, robotID string, delta int) error {
	return s.store.AdjustReputation(ctx, robotID, delta)
}

// UpdateRequest is the JSON body for PUT /api/robots/{robotID}.
// Nil fields are left unchanged.
type UpdateRequest struct {
	Description   *string          `json:"description"`
	Capabilities  []string         `json:"capabilities"`
	StakeIncrease *decimal.Decimal `json:"stake_increase"`
}

// Update applies a partial update to a robot.
func (s *Robots) Update(ctx context.Context, id string, req UpdateRequest) (*model.Robot, error) {
	robot, err := s.store.GetRobot(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Description != nil {
		robot.Description = *req.Description
	}
	if req.Capabilities != nil {
		robot.Capabilities = req.Capabilities
	}
	if req.StakeIncrease != nil && req.StakeIncrease.IsPositive() {
		robot.Stake = robot.Stake.Add(*req.StakeIncrease)
	}

	if err := s.store.UpdateRobot(ctx, robot); err != nil {
		return nil, err
	}
	return robot, nil
}

// Deactivate marks a robot inactive.
func (s *Robots) Deactivate(ctx context.Context, id string) error {
	robot, err := s.store.GetRobot(ctx, id)
	if err != nil {
		return err
	}
	robot.Active = false
	return s.store.UpdateRobot(ctx, robot)
}

// Delete removes a robot. Refused while the robot has tasks with an active
// market.
func (s *Robots) Delete(ctx context.Context, id string) error {
	active, err := s.store.HasActiveTask(ctx, id)
	if err != nil {
		return err
	}
	if active {
		return ErrActiveTasks
	}
	return s.store.DeleteRobot(ctx, id)
}

// --- HTTP handlers ---

// HandleRegister handles POST /api/robots/register.
func (s *Robots) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		writeError(w, "name is required", http.StatusBadRequest)
		return
	}

	robot, err := s.Register(r.Context(), req)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, robot)
}

// HandleList handles GET /api/robots.
func (s *Robots) HandleList(w http.ResponseWriter, r *http.Request) {
	robots, err := s.store.ListRobots(r.Context())
	if err != nil {
		writeError(w, "failed to list robots", http.StatusInternalServerError)
		return
	}
	if robots == nil {
		robots = []model.Robot{}
	}
	writeJSON(w, http.StatusOK, robots)
}

// HandleGet handles GET /api/robots/{robotID}.
func (s *Robots) HandleGet(w http.ResponseWriter, r *http.Request) {
	robot, err := s.store.GetRobot(r.Context(), chi.URLParam(r, "robotID"))
	if err != nil {
		writeError(w, "robot not found", errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, robot)
}

// HandleUpdate handles PUT /api/robots/{robotID}.
func (s *Robots) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	robot, err := s.Update(r.Context(), chi.URLParam(r, "robotID"), req)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, robot)
}

// HandleDeactivate handles POST /api/robots/{robotID}/deactivate.
func (s *Robots) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	robotID := chi.URLParam(r, "robotID")
	if err := s.Deactivate(r.Context(), robotID); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Robot deactivated",
		"robot_id": robotID,
	})
}

// HandleDelete handles DELETE /api/robots/{robotID}.
func (s *Robots) HandleDelete(w http.ResponseWriter, r *http.Request) {
	robotID := chi.URLParam(r, "robotID")
	if err := s.Delete(r.Context(), robotID); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":  "Robot deleted",
		"robot_id": robotID,
	})
}

// errStatus maps registry errors to HTTP statuses.
func errStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrActiveTasks):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
