// Package dao implements the lightweight governance module: stakeholders
// propose actions and vote yes/no with a weight; execution applies a
// simple majority and moves the proposal to a terminal state.
package dao

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qornetwork/taskmarket/internal/model"
	"github.com/qornetwork/taskmarket/internal/store"
)

// Service manages governance proposals.
type Service struct {
	store store.Store
}

// NewService creates a governance service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// ProposeRequest is the JSON body for POST /api/dao/propose.
type ProposeRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Action      string `json:"action"`
}

// Propose creates a new active proposal with zero tallies.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (*model.Proposal, error) {
	proposal := &model.Proposal{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Action:      req.Action,
		Proposer:    "user_" + uuid.New().String()[:8],
		YesVotes:    decimal.Zero,
		NoVotes:     decimal.Zero,
		Status:      model.ProposalActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.InsertProposal(ctx, proposal); err != nil {
		return nil, err
	}

	slog.Info("proposal created", "id", proposal.ID, "title", proposal.Title)
	return proposal, nil
}

// VoteRequest is the JSON body for POST /api/dao/vote.
type VoteRequest struct {
	ProposalID string           `json:"proposal_id"`
	Support    bool             `json:"support"`
	Weight     *decimal.Decimal `json:"weight"` // nil → 1
}

// Vote adds weight to an active proposal's tally.
func (s *Service) Vote(ctx context.Context, req VoteRequest) error {
	weight := decimal.NewFromInt(1)
	if req.Weight != nil {
		weight = *req.Weight
	}
	return s.store.AddVote(ctx, req.ProposalID, req.Support, weight)
}

// ExecuteResult is the JSON response for a proposal execution.
type ExecuteResult struct {
	Message string `json:"message"`
	Status  string `json:"status"`
	Action  string `json:"action,omitempty"`
}

// Execute closes an active proposal: simple majority of yes over no
// executes it, anything else rejects it.
func (s *Service) Execute(ctx context.Context, proposalID string) (*ExecuteResult, error) {
	proposal, err := s.store.GetProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	status := model.ProposalRejected
	if proposal.YesVotes.GreaterThan(proposal.NoVotes) {
		status = model.ProposalExecuted
	}

	if err := s.store.SetProposalStatus(ctx, proposalID, status); err != nil {
		return nil, err
	}

	slog.Info("proposal closed",
		"id", proposalID,
		"status", status,
		"yes", proposal.YesVotes.String(),
		"no", proposal.NoVotes.String(),
	)

	if status == model.ProposalExecuted {
		return &ExecuteResult{Message: "Proposal executed", Status: status, Action: proposal.Action}, nil
	}
	return &ExecuteResult{Message: "Proposal rejected", Status: status}, nil
}

// --- HTTP handlers ---

// HandlePropose handles POST /api/dao/propose.
func (s *Service) HandlePropose(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		writeError(w, "title is required", http.StatusBadRequest)
		return
	}

	proposal, err := s.Propose(r.Context(), req)
	if err != nil {
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, proposal)
}

// HandleList handles GET /api/dao/proposals.
func (s *Service) HandleList(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.store.ListProposals(r.Context())
	if err != nil {
		writeError(w, "failed to list proposals", http.StatusInternalServerError)
		return
	}
	if proposals == nil {
		proposals = []model.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

// HandleVote handles POST /api/dao/vote.
func (s *Service) HandleVote(w http.ResponseWriter, r *http.Request) {
	var req VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProposalID == "" {
		writeError(w, "proposal_id is required", http.StatusBadRequest)
		return
	}

	if err := s.Vote(r.Context(), req); err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":     "Vote recorded",
		"proposal_id": req.ProposalID,
	})
}

// HandleExecute handles POST /api/dao/execute/{proposalID}.
func (s *Service) HandleExecute(w http.ResponseWriter, r *http.Request) {
	result, err := s.Execute(r.Context(), chi.URLParam(r, "proposalID"))
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
	case errors.Is(err, store.ErrProposalClosed):
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
