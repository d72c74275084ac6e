// Package model defines the core domain types shared across the task market.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Market sides. Stored lowercase in the database and on the wire.
const (
	SideYes = "yes"
	SideNo  = "no"
)

// Market pool statuses.
const (
	StatusActive   = "active"
	StatusResolved = "resolved"
)

// ValidSide reports whether s is a recognized market side.
func ValidSide(s string) bool {
	return s == SideYes || s == SideNo
}

// MarketPool is the aggregate per-task market state: total value and shares
// staked on each binary outcome. Pool and share totals only grow while the
// market is active and never go negative. Status transitions
// active → resolved exactly once and never reverses.
type MarketPool struct {
	TaskID        string          `json:"task_id" db:"task_id"`
	YesPool       decimal.Decimal `json:"yes_pool" db:"yes_pool"`
	NoPool        decimal.Decimal `json:"no_pool" db:"no_pool"`
	YesShares     decimal.Decimal `json:"yes_shares" db:"yes_shares"`
	NoShares      decimal.Decimal `json:"no_shares" db:"no_shares"`
	Status        string          `json:"status" db:"status"` // "active", "resolved"
	Success       *bool           `json:"success,omitempty" db:"success"`
	RequiredScore float64         `json:"required_score" db:"required_score"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// TotalPool returns yes_pool + no_pool.
func (p *MarketPool) TotalPool() decimal.Decimal {
	return p.YesPool.Add(p.NoPool)
}

// WinningSide returns the side matching the resolved success flag.
// Only meaningful once Status == StatusResolved.
func (p *MarketPool) WinningSide() string {
	if p.Success != nil && *p.Success {
		return SideYes
	}
	return SideNo
}

// Position is a user's individual stake on one side of one task's market.
// Immutable after creation except for the Redeemed flag, which moves
// false → true exactly once. Positions are never deleted.
type Position struct {
	ID        string          `json:"id" db:"id"`
	TaskID    string          `json:"task_id" db:"task_id"`
	User      string          `json:"user" db:"user_id"`
	Side      string          `json:"side" db:"side"` // "yes" or "no"
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Cost      decimal.Decimal `json:"cost" db:"cost"`
	Redeemed  bool            `json:"redeemed" db:"redeemed"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Robot is a registered agent that tasks are posted against. Owned by the
// registry; the market core only reads existence/activity and emits
// reputation deltas.
type Robot struct {
	ID           string          `json:"id" db:"id"`
	IDHash       string          `json:"id_hash" db:"id_hash"`
	Owner        string          `json:"owner" db:"owner"`
	Name         string          `json:"name" db:"name"`
	Description  string          `json:"description" db:"description"`
	Capabilities []string        `json:"capabilities" db:"capabilities"`
	MetadataURI  string          `json:"metadata_uri" db:"metadata_uri"`
	Reputation   int             `json:"reputation" db:"reputation"`
	Stake        decimal.Decimal `json:"stake" db:"stake"`
	Active       bool            `json:"active" db:"active"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Waypoint is a single step in a task's route description. Opaque to the
// market core; consumed by the optimizer.
type Waypoint struct {
	Label  string  `json:"label,omitempty"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Action string  `json:"action,omitempty"`
}

// Task is the unit of work a robot is asked to perform. Each task carries
// one MarketPool keyed by the task ID.
type Task struct {
	ID                string     `json:"id" db:"id"`
	RobotID           string     `json:"robot_id" db:"robot_id"`
	Title             string     `json:"title" db:"title"`
	Description       string     `json:"description" db:"description"`
	Waypoints         []Waypoint `json:"waypoints" db:"waypoints"`
	Deadline          string     `json:"deadline" db:"deadline"`
	RequiredScore     float64    `json:"required_score" db:"required_score"`
	Resolver          string     `json:"resolver" db:"resolver"`
	SolutionURI       string     `json:"solution_uri,omitempty" db:"solution_uri"`
	EvidenceURI       string     `json:"evidence_uri,omitempty" db:"evidence_uri"`
	OptimizationScore *float64   `json:"optimization_score,omitempty" db:"optimization_score"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// Proposal statuses.
const (
	ProposalActive   = "active"
	ProposalExecuted = "executed"
	ProposalRejected = "rejected"
)

// Proposal is a governance action put to a weighted yes/no vote.
type Proposal struct {
	ID          string          `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	Description string          `json:"description" db:"description"`
	Action      string          `json:"action" db:"action"`
	Proposer    string          `json:"proposer" db:"proposer"`
	YesVotes    decimal.Decimal `json:"yes_votes" db:"yes_votes"`
	NoVotes     decimal.Decimal `json:"no_votes" db:"no_votes"`
	Status      string          `json:"status" db:"status"` // "active", "executed", "rejected"
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}
