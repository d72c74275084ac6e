package market

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/qornetwork/taskmarket/internal/model"
	"github.com/qornetwork/taskmarket/internal/store"
)

// TradeRequest is the JSON body for POST /api/tasks/{taskID}/trade.
type TradeRequest struct {
	User   string          `json:"user"`
	Amount decimal.Decimal `json:"amount"`
	Side   string          `json:"side"` // "yes" or "no"
}

// TradeResponse is the JSON body returned from a trade.
type TradeResponse struct {
	Message    string          `json:"message"`
	PositionID string          `json:"position_id"`
	Shares     decimal.Decimal `json:"shares"`
	Side       string          `json:"side"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// RedeemRequest is the JSON body for POST /api/tasks/{taskID}/redeem.
type RedeemRequest struct {
	User string `json:"user"`
}

// RedeemResponse is the JSON body returned from a redemption.
type RedeemResponse struct {
	Message   string          `json:"message"`
	User      string          `json:"user"`
	Payout    decimal.Decimal `json:"payout"`
	Positions int             `json:"positions"`
}

// HandleTrade handles POST /api/tasks/{taskID}/trade.
func (s *Service) HandleTrade(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}

	result, err := s.Trade(r.Context(), taskID, req.User, req.Side, req.Amount)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, TradeResponse{
		Message:    "Trade executed",
		PositionID: result.PositionID,
		Shares:     result.Shares,
		Side:       result.Side,
		Warnings:   result.Warnings,
	})
}

// HandleRedeem handles POST /api/tasks/{taskID}/redeem.
// The user may be given in the JSON body or as a ?user= query parameter.
func (s *Service) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	var req RedeemRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.User == "" {
		req.User = r.URL.Query().Get("user")
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}

	result, err := s.Redeem(r.Context(), taskID, req.User)
	if err != nil {
		writeError(w, err.Error(), errStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, RedeemResponse{
		Message:   "Positions redeemed",
		User:      req.User,
		Payout:    result.Payout,
		Positions: result.Positions,
	})
}

// HandleGetMarket handles GET /api/tasks/{taskID}/market.
func (s *Service) HandleGetMarket(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	pool, err := s.GetMarket(r.Context(), taskID)
	if err != nil {
		writeError(w, "market not found", errStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, pool)
}

// HandleListMarkets handles GET /api/markets.
func (s *Service) HandleListMarkets(w http.ResponseWriter, r *http.Request) {
	pools, err := s.ListMarkets(r.Context())
	if err != nil {
		writeError(w, "failed to list markets", http.StatusInternalServerError)
		return
	}
	if pools == nil {
		pools = []model.MarketPool{}
	}

	writeJSON(w, http.StatusOK, pools)
}

// HandlePositions handles GET /api/tasks/{taskID}/positions.
func (s *Service) HandlePositions(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	positions, err := s.TaskPositions(r.Context(), taskID)
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}

	writeJSON(w, http.StatusOK, positions)
}

// errStatus maps domain errors to HTTP statuses: 404 for unknown entities
// or nothing to redeem, 400 for deterministic validation failures.
func errStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound),
		// No redeemable positions is a missing resource, not a bad request.
		errors.Is(err, ErrNothingToRedeem):
		return http.StatusNotFound
	case errors.Is(err, store.ErrMarketClosed),
		errors.Is(err, store.ErrAlreadyResolved),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrInvalidSide),
		errors.Is(err, ErrNotResolved):
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
