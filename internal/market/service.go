// Package market implements the binary-outcome market and settlement
// engine: pool accounting, position tracking, resolution, and proportional
// redemption. All monetary values use shopspring/decimal — never float64
// for money.
//
// Operations on the same task are serialized by a per-task mutex; secondary
// effects (reputation adjustment, chain mirroring, WebSocket broadcast) run
// after the committed state transition under a bounded timeout and are
// reported as warnings, never as errors.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/qornetwork/taskmarket/internal/chain"
	"github.com/qornetwork/taskmarket/internal/metrics"
	"github.com/qornetwork/taskmarket/internal/model"
	"github.com/qornetwork/taskmarket/internal/store"
)

// Reputation deltas emitted on resolution. Applied to the task's robot by
// the registry collaborator, at most once per task.
const (
	ReputationSuccess = 10
	ReputationFailure = -5
)

// defaultEffectTimeout bounds secondary-effect calls (reputation, mirror)
// so they cannot block a committed market operation indefinitely.
const defaultEffectTimeout = 2 * time.Second

// ReputationAdjuster applies a reputation delta to a robot. Implemented by
// the registry; the market core never owns robot state.
type ReputationAdjuster interface {
	AdjustReputation(ctx context.Context, robotID string, delta int) error
}

// Service owns market pool state transitions and the settlement invariants.
// rep, mirror, and hub are optional collaborators; pass nil to disable.
type Service struct {
	store         store.Store
	locks         *taskLocks
	rep           ReputationAdjuster
	mirror        chain.Mirror
	hub           *WSHub
	effectTimeout time.Duration
}

// NewService creates a market service.
func NewService(st store.Store, rep ReputationAdjuster, mirror chain.Mirror, hub *WSHub) *Service {
	return &Service{
		store:         st,
		locks:         newTaskLocks(),
		rep:           rep,
		mirror:        mirror,
		hub:           hub,
		effectTimeout: defaultEffectTimeout,
	}
}

// CreateMarket opens a new pool for a task with zero totals.
// store.ErrAlreadyExists if the task already has one.
func (s *Service) CreateMarket(ctx context.Context, taskID string, requiredScore float64) (*model.MarketPool, error) {
	pool := &model.MarketPool{
		TaskID:        taskID,
		YesPool:       decimal.Zero,
		NoPool:        decimal.Zero,
		YesShares:     decimal.Zero,
		NoShares:      decimal.Zero,
		Status:        model.StatusActive,
		RequiredScore: requiredScore,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreatePool(ctx, pool); err != nil {
		return nil, err
	}
	metrics.ActiveMarkets.Inc()
	return pool, nil
}

// GetMarket returns the current pool snapshot. store.ErrNotFound if absent.
func (s *Service) GetMarket(ctx context.Context, taskID string) (*model.MarketPool, error) {
	return s.store.GetPool(ctx, taskID)
}

// ListMarkets returns all pools.
func (s *Service) ListMarkets(ctx context.Context) ([]model.MarketPool, error) {
	return s.store.ListPools(ctx)
}

// TaskPositions returns all positions for a task in insertion order.
func (s *Service) TaskPositions(ctx context.Context, taskID string) ([]model.Position, error) {
	return s.store.PositionsByTask(ctx, taskID)
}

// TradeResult is the outcome of an executed trade.
type TradeResult struct {
	PositionID string          `json:"position_id"`
	Shares     decimal.Decimal `json:"shares"`
	Side       string          `json:"side"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// Trade executes a buy of amount on one side of the task's market.
// Under 1:1 pricing shares equal amount exactly; there is no slippage
// curve. The pool increment and the position append happen under the task
// lock, so concurrent trades on the same task are both reflected in the
// totals and the position set exactly partitions the pool by side.
func (s *Service) Trade(ctx context.Context, taskID, user, side string, amount decimal.Decimal) (*TradeResult, error) {
	if !model.ValidSide(side) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}

	start := time.Now()
	unlock := s.locks.lock(taskID)
	defer unlock()

	if err := s.store.ApplyTrade(ctx, taskID, side, amount); err != nil {
		return nil, err
	}

	shares := amount // 1:1 pricing
	position := &model.Position{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		User:      user,
		Side:      side,
		Shares:    shares,
		Cost:      amount,
		Redeemed:  false,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertPosition(ctx, position); err != nil {
		return nil, fmt.Errorf("record position: %w", err)
	}

	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeLatency.WithLabelValues(side).Observe(time.Since(start).Seconds())

	slog.Info("trade executed",
		"task_id", taskID,
		"user", user,
		"side", side,
		"amount", amount.String(),
		"position_id", position.ID,
	)

	result := &TradeResult{
		PositionID: position.ID,
		Shares:     shares,
		Side:       side,
	}

	if warn := s.mirrorEvent(ctx, chain.Event{
		Type:      chain.EventTrade,
		TaskID:    taskID,
		User:      user,
		Side:      side,
		Amount:    amount.String(),
		Shares:    shares.String(),
		Timestamp: position.CreatedAt,
	}); warn != "" {
		result.Warnings = append(result.Warnings, warn)
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:   chain.EventTrade,
			TaskID: taskID,
			Side:   side,
			Amount: amount.String(),
			Shares: shares.String(),
		})
	}

	return result, nil
}

// ResolveResult is the outcome of a market resolution.
type ResolveResult struct {
	Success         bool     `json:"success"`
	ReputationDelta int      `json:"reputation_delta"`
	Warnings        []string `json:"warnings,omitempty"`
}

// Resolve freezes the task's market with success = score >= requiredScore
// (inclusive boundary). A second resolution attempt fails with
// store.ErrAlreadyResolved — that guard is what keeps the reputation
// adjustment to at most once per task. The adjustment itself is a secondary
// effect: its failure is a warning, never a rollback.
func (s *Service) Resolve(ctx context.Context, taskID, robotID string, score, requiredScore float64) (*ResolveResult, error) {
	success := score >= requiredScore

	unlock := s.locks.lock(taskID)
	defer unlock()

	if err := s.store.ResolvePool(ctx, taskID, success); err != nil {
		return nil, err
	}

	metrics.ActiveMarkets.Dec()
	outcome := "failure"
	delta := ReputationFailure
	if success {
		outcome = "success"
		delta = ReputationSuccess
	}
	metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()

	slog.Info("market resolved",
		"task_id", taskID,
		"success", success,
		"score", score,
		"required_score", requiredScore,
	)

	result := &ResolveResult{Success: success, ReputationDelta: delta}

	if s.rep != nil && robotID != "" {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.effectTimeout)
		err := s.rep.AdjustReputation(rctx, robotID, delta)
		cancel()
		if err != nil {
			slog.Warn("reputation adjustment failed", "robot_id", robotID, "delta", delta, "err", err)
			result.Warnings = append(result.Warnings, "reputation adjustment failed: "+err.Error())
		}
	}

	if warn := s.mirrorEvent(ctx, chain.Event{
		Type:      chain.EventResolution,
		TaskID:    taskID,
		RobotID:   robotID,
		Success:   &success,
		Score:     score,
		Timestamp: time.Now().UTC(),
	}); warn != "" {
		result.Warnings = append(result.Warnings, warn)
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:    chain.EventResolution,
			TaskID:  taskID,
			Success: &success,
		})
	}

	return result, nil
}

// RedeemResult is the outcome of a redemption.
type RedeemResult struct {
	Payout    decimal.Decimal `json:"payout"`
	Positions int             `json:"positions"`
}

// Redeem pays out the user's unredeemed positions for a resolved task.
// Losing positions contribute zero but are still marked redeemed. Winning
// positions pay shares/total_winning_shares of the combined pool, computed
// shares*pool/total so terminating ratios distribute the pool exactly;
// non-terminating ratios round at decimal division precision and leave
// residual dust in the pool. When the winning side holds zero shares the
// market is degenerate: nothing is distributed and no refund is issued.
// The read-then-mark sequence runs
// under the task lock so each position pays out exactly once; a second
// call returns ErrNothingToRedeem once all positions are consumed.
func (s *Service) Redeem(ctx context.Context, taskID, user string) (*RedeemResult, error) {
	unlock := s.locks.lock(taskID)
	defer unlock()

	pool, err := s.store.GetPool(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if pool.Status != model.StatusResolved {
		return nil, ErrNotResolved
	}

	positions, err := s.store.UnredeemedPositions(ctx, taskID, user)
	if err != nil {
		return nil, err
	}
	if len(positions) == 0 {
		return nil, ErrNothingToRedeem
	}

	winningSide := pool.WinningSide()
	winningShares := pool.YesShares
	if winningSide == model.SideNo {
		winningShares = pool.NoShares
	}
	totalPool := pool.TotalPool()

	payout := decimal.Zero
	for _, p := range positions {
		if p.Side == winningSide && winningShares.IsPositive() {
			// Multiply before dividing: exact whenever the quotient
			// terminates, so payouts sum to the full pool. Dividing first
			// would round each share fraction and leak dust on every split.
			payout = payout.Add(p.Shares.Mul(totalPool).Div(winningShares))
		}
		if err := s.store.MarkRedeemed(ctx, p.ID); err != nil {
			return nil, fmt.Errorf("mark position %s redeemed: %w", p.ID, err)
		}
	}

	metrics.RedemptionsTotal.Inc()

	slog.Info("positions redeemed",
		"task_id", taskID,
		"user", user,
		"positions", len(positions),
		"payout", payout.String(),
	)

	return &RedeemResult{Payout: payout, Positions: len(positions)}, nil
}

// mirrorEvent submits an event to the chain mirror under a bounded timeout.
// Returns a warning string on failure, empty on success or when no mirror
// is configured.
func (s *Service) mirrorEvent(ctx context.Context, ev chain.Event) string {
	if s.mirror == nil {
		return ""
	}

	mctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.effectTimeout)
	defer cancel()

	if err := s.mirror.Mirror(mctx, ev); err != nil {
		metrics.MirrorFailures.Inc()
		slog.Warn("chain mirror failed", "type", ev.Type, "task_id", ev.TaskID, "err", err)
		return "chain mirror failed: " + err.Error()
	}
	return ""
}
