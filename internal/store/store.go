// Package store defines the persistence interface for the task market.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/qornetwork/taskmarket/internal/model"
)

// Sentinel errors returned by Store implementations. Callers match with
// errors.Is; handlers map them to HTTP statuses.
var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when inserting an entity whose key is taken.
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrMarketClosed is returned by ApplyTrade when the pool is not active.
	ErrMarketClosed = errors.New("store: market closed")

	// ErrAlreadyResolved is returned by ResolvePool when the pool is already
	// in a terminal state.
	ErrAlreadyResolved = errors.New("store: already resolved")

	// ErrProposalClosed is returned when voting on or executing a proposal
	// that is no longer active.
	ErrProposalClosed = errors.New("store: proposal closed")
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer. ApplyTrade and ResolvePool are
// atomic on their own: the status guard and the mutation happen in a single
// statement (or under the store lock for the in-memory implementation).
type Store interface {
	// --- Market pools ---

	// CreatePool persists a new market pool. ErrAlreadyExists if the task
	// already has one.
	CreatePool(ctx context.Context, pool *model.MarketPool) error

	// GetPool retrieves the pool for a task. ErrNotFound if absent.
	GetPool(ctx context.Context, taskID string) (*model.MarketPool, error)

	// ListPools returns all pools.
	ListPools(ctx context.Context) ([]model.MarketPool, error)

	// ApplyTrade increments the side's pool and share totals by amount.
	// ErrNotFound if no pool, ErrMarketClosed if the pool is not active.
	ApplyTrade(ctx context.Context, taskID, side string, amount decimal.Decimal) error

	// ResolvePool transitions the pool to resolved with the given outcome.
	// ErrNotFound if no pool, ErrAlreadyResolved on a second attempt.
	ResolvePool(ctx context.Context, taskID string, success bool) error

	// --- Positions (immutable except the redeemed flag) ---

	// InsertPosition appends a new position record.
	InsertPosition(ctx context.Context, p *model.Position) error

	// PositionsByTask returns all positions for a task in insertion order.
	PositionsByTask(ctx context.Context, taskID string) ([]model.Position, error)

	// UnredeemedPositions returns the user's positions for a task where
	// redeemed is still false, in insertion order.
	UnredeemedPositions(ctx context.Context, taskID, user string) ([]model.Position, error)

	// MarkRedeemed flips a position's redeemed flag to true.
	MarkRedeemed(ctx context.Context, positionID string) error

	// --- Robots ---

	InsertRobot(ctx context.Context, r *model.Robot) error
	GetRobot(ctx context.Context, id string) (*model.Robot, error)
	ListRobots(ctx context.Context) ([]model.Robot, error)

	// UpdateRobot overwrites the robot's mutable fields (description,
	// capabilities, stake, active). ErrNotFound if absent.
	UpdateRobot(ctx context.Context, r *model.Robot) error

	// DeleteRobot removes a robot. ErrNotFound if absent.
	DeleteRobot(ctx context.Context, id string) error

	// AdjustReputation atomically increments a robot's reputation by delta.
	AdjustReputation(ctx context.Context, robotID string, delta int) error

	// --- Tasks ---

	InsertTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context) ([]model.Task, error)

	// HasActiveTask reports whether the robot has any task whose market pool
	// is still active.
	HasActiveTask(ctx context.Context, robotID string) (bool, error)

	// SetTaskSolution records the optimizer's output on a task.
	SetTaskSolution(ctx context.Context, taskID, solutionURI string, score float64) error

	// SetTaskEvidence records the oracle's evidence URI on a task.
	SetTaskEvidence(ctx context.Context, taskID, evidenceURI string) error

	// --- Governance proposals ---

	InsertProposal(ctx context.Context, p *model.Proposal) error
	GetProposal(ctx context.Context, id string) (*model.Proposal, error)
	ListProposals(ctx context.Context) ([]model.Proposal, error)

	// AddVote adds weight to the yes or no tally of an active proposal.
	// ErrProposalClosed if the proposal reached a terminal state.
	AddVote(ctx context.Context, proposalID string, support bool, weight decimal.Decimal) error

	// SetProposalStatus transitions an active proposal to a terminal status.
	// ErrProposalClosed if it is no longer active.
	SetProposalStatus(ctx context.Context, proposalID, status string) error
}
