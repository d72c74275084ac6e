package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/qornetwork/taskmarket/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu        sync.RWMutex
	pools     map[string]*model.MarketPool
	positions []*model.Position
	posByID   map[string]*model.Position
	robots    map[string]*model.Robot
	tasks     map[string]*model.Task
	proposals map[string]*model.Proposal
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pools:     make(map[string]*model.MarketPool),
		posByID:   make(map[string]*model.Position),
		robots:    make(map[string]*model.Robot),
		tasks:     make(map[string]*model.Task),
		proposals: make(map[string]*model.Proposal),
	}
}

// --- Market pools ---

func (s *MemoryStore) CreatePool(_ context.Context, pool *model.MarketPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pools[pool.TaskID]; ok {
		return ErrAlreadyExists
	}
	cp := *pool
	s.pools[pool.TaskID] = &cp
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, taskID string) (*model.MarketPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListPools(_ context.Context) ([]model.MarketPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pools := make([]model.MarketPool, 0, len(s.pools))
	for _, p := range s.pools {
		pools = append(pools, *p)
	}
	return pools, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, taskID, side string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[taskID]
	if !ok {
		return ErrNotFound
	}
	if p.Status != model.StatusActive {
		return ErrMarketClosed
	}
	if side == model.SideYes {
		p.YesPool = p.YesPool.Add(amount)
		p.YesShares = p.YesShares.Add(amount)
	} else {
		p.NoPool = p.NoPool.Add(amount)
		p.NoShares = p.NoShares.Add(amount)
	}
	return nil
}

func (s *MemoryStore) ResolvePool(_ context.Context, taskID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pools[taskID]
	if !ok {
		return ErrNotFound
	}
	if p.Status != model.StatusActive {
		return ErrAlreadyResolved
	}
	p.Status = model.StatusResolved
	p.Success = &success
	return nil
}

// --- Positions ---

func (s *MemoryStore) InsertPosition(_ context.Context, p *model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.positions = append(s.positions, &cp)
	s.posByID[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) PositionsByTask(_ context.Context, taskID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.TaskID == taskID {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) UnredeemedPositions(_ context.Context, taskID, user string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Position
	for _, p := range s.positions {
		if p.TaskID == taskID && p.User == user && !p.Redeemed {
			result = append(result, *p)
		}
	}
	return result, nil
}

func (s *MemoryStore) MarkRedeemed(_ context.Context, positionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posByID[positionID]
	if !ok {
		return ErrNotFound
	}
	p.Redeemed = true
	return nil
}

// --- Robots ---

func (s *MemoryStore) InsertRobot(_ context.Context, r *model.Robot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.robots[r.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *r
	s.robots[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRobot(_ context.Context, id string) (*model.Robot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.robots[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRobots(_ context.Context) ([]model.Robot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	robots := make([]model.Robot, 0, len(s.robots))
	for _, r := range s.robots {
		robots = append(robots, *r)
	}
	return robots, nil
}

func (s *MemoryStore) UpdateRobot(_ context.Context, r *model.Robot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.robots[r.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Description = r.Description
	existing.Capabilities = r.Capabilities
	existing.Stake = r.Stake
	existing.Active = r.Active
	return nil
}

func (s *MemoryStore) DeleteRobot(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.robots[id]; !ok {
		return ErrNotFound
	}
	delete(s.robots, id)
	return nil
}

func (s *MemoryStore) AdjustReputation(_ context.Context, robotID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.robots[robotID]
	if !ok {
		return ErrNotFound
	}
	r.Reputation += delta
	return nil
}

// --- Tasks ---

func (s *MemoryStore) InsertTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[t.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *t
	s.tasks[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTasks(_ context.Context) ([]model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]model.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, *t)
	}
	return tasks, nil
}

func (s *MemoryStore) HasActiveTask(_ context.Context, robotID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tasks {
		if t.RobotID != robotID {
			continue
		}
		if p, ok := s.pools[t.ID]; ok && p.Status == model.StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) SetTaskSolution(_ context.Context, taskID, solutionURI string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.SolutionURI = solutionURI
	t.OptimizationScore = &score
	return nil
}

func (s *MemoryStore) SetTaskEvidence(_ context.Context, taskID, evidenceURI string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.EvidenceURI = evidenceURI
	return nil
}

// --- Governance proposals ---

func (s *MemoryStore) InsertProposal(_ context.Context, p *model.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proposals[p.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *p
	s.proposals[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProposal(_ context.Context, id string) (*model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProposals(_ context.Context) ([]model.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	proposals := make([]model.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		proposals = append(proposals, *p)
	}
	return proposals, nil
}

func (s *MemoryStore) AddVote(_ context.Context, proposalID string, support bool, weight decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[proposalID]
	if !ok {
		return ErrNotFound
	}
	if p.Status != model.ProposalActive {
		return ErrProposalClosed
	}
	if support {
		p.YesVotes = p.YesVotes.Add(weight)
	} else {
		p.NoVotes = p.NoVotes.Add(weight)
	}
	return nil
}

func (s *MemoryStore) SetProposalStatus(_ context.Context, proposalID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.proposals[proposalID]
	if !ok {
		return ErrNotFound
	}
	if p.Status != model.ProposalActive {
		return ErrProposalClosed
	}
	p.Status = status
	return nil
}
