package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/qornetwork/taskmarket/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for pools, robots, and tasks. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Positions are never cached: redemption reads them under the
// task lock and must always see the latest redeemed flags.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Market pools ---

func (s *CachedStore) CreatePool(ctx context.Context, p *model.MarketPool) error {
	if err := s.primary.CreatePool(ctx, p); err != nil {
		return err
	}
	s.cacheSet(ctx, poolKey(p.TaskID), p)
	return nil
}

func (s *CachedStore) GetPool(ctx context.Context, taskID string) (*model.MarketPool, error) {
	var cached model.MarketPool
	if s.cacheGet(ctx, poolKey(taskID), &cached) {
		return &cached, nil
	}

	p, err := s.primary.GetPool(ctx, taskID)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, poolKey(taskID), p)
	return p, nil
}

func (s *CachedStore) ListPools(ctx context.Context) ([]model.MarketPool, error) {
	return s.primary.ListPools(ctx)
}

func (s *CachedStore) ApplyTrade(ctx context.Context, taskID, side string, amount decimal.Decimal) error {
	if err := s.primary.ApplyTrade(ctx, taskID, side, amount); err != nil {
		return err
	}
	// Invalidate; next read re-populates with the fresh totals.
	s.rdb.Del(ctx, poolKey(taskID))
	return nil
}

func (s *CachedStore) ResolvePool(ctx context.Context, taskID string, success bool) error {
	if err := s.primary.ResolvePool(ctx, taskID, success); err != nil {
		return err
	}
	s.rdb.Del(ctx, poolKey(taskID))
	return nil
}

// --- Positions (passthrough, never cached) ---

func (s *CachedStore) InsertPosition(ctx context.Context, p *model.Position) error {
	return s.primary.InsertPosition(ctx, p)
}

func (s *CachedStore) PositionsByTask(ctx context.Context, taskID string) ([]model.Position, error) {
	return s.primary.PositionsByTask(ctx, taskID)
}

func (s *CachedStore) UnredeemedPositions(ctx context.Context, taskID, user string) ([]model.Position, error) {
	return s.primary.UnredeemedPositions(ctx, taskID, user)
}

func (s *CachedStore) MarkRedeemed(ctx context.Context, positionID string) error {
	return s.primary.MarkRedeemed(ctx, positionID)
}

// --- Robots ---

func (s *CachedStore) InsertRobot(ctx context.Context, r *model.Robot) error {
	if err := s.primary.InsertRobot(ctx, r); err != nil {
		return err
	}
	s.cacheSet(ctx, robotKey(r.ID), r)
	return nil
}

func (s *CachedStore) GetRobot(ctx context.Context, id string) (*model.Robot, error) {
	var cached model.Robot
	if s.cacheGet(ctx, robotKey(id), &cached) {
		return &cached, nil
	}

	r, err := s.primary.GetRobot(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, robotKey(id), r)
	return r, nil
}

func (s *CachedStore) ListRobots(ctx context.Context) ([]model.Robot, error) {
	return s.primary.ListRobots(ctx)
}

func (s *CachedStore) UpdateRobot(ctx context.Context, r *model.Robot) error {
	if err := s.primary.UpdateRobot(ctx, r); err != nil {
		return err
	}
	s.rdb.Del(ctx, robotKey(r.ID))
	return nil
}

func (s *CachedStore) DeleteRobot(ctx context.Context, id string) error {
	if err := s.primary.DeleteRobot(ctx, id); err != nil {
		return err
	}
	s.rdb.Del(ctx, robotKey(id))
	return nil
}

func (s *CachedStore) AdjustReputation(ctx context.Context, robotID string, delta int) error {
	if err := s.primary.AdjustReputation(ctx, robotID, delta); err != nil {
		return err
	}
	s.rdb.Del(ctx, robotKey(robotID))
	return nil
}

// --- Tasks ---

func (s *CachedStore) InsertTask(ctx context.Context, t *model.Task) error {
	if err := s.primary.InsertTask(ctx, t); err != nil {
		return err
	}
	s.cacheSet(ctx, taskKey(t.ID), t)
	return nil
}

func (s *CachedStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	var cached model.Task
	if s.cacheGet(ctx, taskKey(id), &cached) {
		return &cached, nil
	}

	t, err := s.primary.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSet(ctx, taskKey(id), t)
	return t, nil
}

func (s *CachedStore) ListTasks(ctx context.Context) ([]model.Task, error) {
	return s.primary.ListTasks(ctx)
}

func (s *CachedStore) HasActiveTask(ctx context.Context, robotID string) (bool, error) {
	return s.primary.HasActiveTask(ctx, robotID)
}

func (s *CachedStore) SetTaskSolution(ctx context.Context, taskID, solutionURI string, score float64) error {
	if err := s.primary.SetTaskSolution(ctx, taskID, solutionURI, score); err != nil {
		return err
	}
	s.rdb.Del(ctx, taskKey(taskID))
	return nil
}

func (s *CachedStore) SetTaskEvidence(ctx context.Context, taskID, evidenceURI string) error {
	if err := s.primary.SetTaskEvidence(ctx, taskID, evidenceURI); err != nil {
		return err
	}
	s.rdb.Del(ctx, taskKey(taskID))
	return nil
}

// --- Governance proposals (passthrough) ---

func (s *CachedStore) InsertProposal(ctx context.Context, p *model.Proposal) error {
	return s.primary.InsertProposal(ctx, p)
}

func (s *CachedStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	return s.primary.GetProposal(ctx, id)
}

func (s *CachedStore) ListProposals(ctx context.Context) ([]model.Proposal, error) {
	return s.primary.ListProposals(ctx)
}

func (s *CachedStore) AddVote(ctx context.Context, proposalID string, support bool, weight decimal.Decimal) error {
	return s.primary.AddVote(ctx, proposalID, support, weight)
}

func (s *CachedStore) SetProposalStatus(ctx context.Context, proposalID, status string) error {
	return s.primary.SetProposalStatus(ctx, proposalID, status)
}

// --- Cache helpers ---

func (s *CachedStore) cacheGet(ctx context.Context, key string, dest any) bool {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dest) == nil
}

func (s *CachedStore) cacheSet(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func poolKey(taskID string) string { return fmt.Sprintf("pool:%s", taskID) }
func robotKey(id string) string    { return fmt.Sprintf("robot:%s", id) }
func taskKey(id string) string     { return fmt.Sprintf("task:%s", id) }
