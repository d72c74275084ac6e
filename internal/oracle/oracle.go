// Package oracle is the verification boundary: it takes an evidence
// submission for a task, scores it against the task's required score, and
// drives the market's irreversible resolution. The score comparison and the
// pool freeze live in the market core; the oracle only wires task lookup,
// evidence recording, and the outcome message together.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/qornetwork/taskmarket/internal/market"
	"github.com/qornetwork/taskmarket/internal/store"
)

// Service resolves tasks from verified evidence.
type Service struct {
	store  store.Store
	market *market.Service
}

// NewService creates an oracle service.
func NewService(st store.Store, mkt *market.Service) *Service {
	return &Service{store: st, market: mkt}
}

// VerifyRequest is the JSON body for POST /api/oracle/verify.
type VerifyRequest struct {
	TaskID      string `json:"task_id"`
	EvidenceURI string `json:"evidence_uri"`
}

// VerifyResult is the JSON response for a verification.
type VerifyResult struct {
	TaskID   string   `json:"task_id"`
	Success  bool     `json:"success"`
	Score    float64  `json:"score"`
	Message  string   `json:"message"`
	Warnings []string `json:"warnings,omitempty"`
}

// Verify resolves the task's market from its recorded optimization score.
// A task with no recorded score verifies against zero and fails unless the
// required score is also zero. Idempotency comes from the market's
// already-resolved guard: a second verification is rejected, which also
// keeps the robot's reputation adjustment to once per task.
func (s *Service) Verify(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	task, err := s.store.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	score := 0.0
	if task.OptimizationScore != nil {
		score = *task.OptimizationScore
	}

	res, err := s.market.Resolve(ctx, task.ID, task.RobotID, score, task.RequiredScore)
	if err != nil {
		return nil, err
	}

	warnings := res.Warnings
	if req.EvidenceURI != "" {
		if err := s.store.SetTaskEvidence(ctx, task.ID, req.EvidenceURI); err != nil {
			slog.Warn("record evidence failed", "task_id", task.ID, "err", err)
			warnings = append(warnings, "record evidence failed: "+err.Error())
		}
	}

	verdict := "failed"
	if res.Success {
		verdict = "succeeded"
	}

	return &VerifyResult{
		TaskID:   task.ID,
		Success:  res.Success,
		Score:    score,
		Message:  fmt.Sprintf("Task %s. Score: %.2f/%.2f", verdict, score, task.RequiredScore),
		Warnings: warnings,
	}, nil
}

// HandleVerify handles POST /api/oracle/verify.
func (s *Service) HandleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.TaskID == "" {
		writeError(w, "task_id is required", http.StatusBadRequest)
		return
	}

	result, err := s.Verify(r.Context(), req)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func errStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyResolved):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
