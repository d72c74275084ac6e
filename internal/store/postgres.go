package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/qornetwork/taskmarket/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Pool and proposal mutations guard the status in the UPDATE itself, so a
// stale read can never turn into a lost update or a double resolution.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// uniqueViolation is the PostgreSQL error code for duplicate keys.
const uniqueViolation = "23505"

func isUnique(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// --- Market pools ---

func (s *PostgresStore) CreatePool(ctx context.Context, p *model.MarketPool) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_pools (task_id, yes_pool, no_pool, yes_shares, no_shares, status, success, required_score, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8, $9)`,
		p.TaskID,
		p.YesPool.String(), p.NoPool.String(),
		p.YesShares.String(), p.NoShares.String(),
		p.Status, p.Success, p.RequiredScore, p.CreatedAt,
	)
	if isUnique(err) {
		return ErrAlreadyExists
	}
	return err
}

const poolColumns = `task_id,
	yes_pool::TEXT, no_pool::TEXT,
	yes_shares::TEXT, no_shares::TEXT,
	status, success, required_score, created_at`

func scanPool(row pgx.Row) (*model.MarketPool, error) {
	var p model.MarketPool
	var yesPool, noPool, yesShares, noShares string

	err := row.Scan(&p.TaskID,
		&yesPool, &noPool,
		&yesShares, &noShares,
		&p.Status, &p.Success, &p.RequiredScore, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.YesPool, _ = decimal.NewFromString(yesPool)
	p.NoPool, _ = decimal.NewFromString(noPool)
	p.YesShares, _ = decimal.NewFromString(yesShares)
	p.NoShares, _ = decimal.NewFromString(noShares)

	return &p, nil
}

func (s *PostgresStore) GetPool(ctx context.Context, taskID string) (*model.MarketPool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM market_pools WHERE task_id = $1`, taskID)

	p, err := scanPool(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pool %s: %w", taskID, err)
	}
	return p, nil
}

func (s *PostgresStore) ListPools(ctx context.Context) ([]model.MarketPool, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+poolColumns+` FROM market_pools ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []model.MarketPool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}
	return pools, rows.Err()
}

func (s *PostgresStore) ApplyTrade(ctx context.Context, taskID, side string, amount decimal.Decimal) error {
	var tag pgconn.CommandTag
	var err error

	if side == model.SideYes {
		tag, err = s.pool.Exec(ctx,
			`UPDATE market_pools
			 SET yes_pool = yes_pool + $2::NUMERIC, yes_shares = yes_shares + $2::NUMERIC
			 WHERE task_id = $1 AND status = 'active'`,
			taskID, amount.String())
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE market_pools
			 SET no_pool = no_pool + $2::NUMERIC, no_shares = no_shares + $2::NUMERIC
			 WHERE task_id = $1 AND status = 'active'`,
			taskID, amount.String())
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.poolMissOrClosed(ctx, taskID, ErrMarketClosed)
	}
	return nil
}

func (s *PostgresStore) ResolvePool(ctx context.Context, taskID string, success bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE market_pools
		 SET status = 'resolved', success = $2
		 WHERE task_id = $1 AND status = 'active'`,
		taskID, success)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.poolMissOrClosed(ctx, taskID, ErrAlreadyResolved)
	}
	return nil
}

// poolMissOrClosed distinguishes "no such pool" from "pool not active" after
// a guarded UPDATE touched zero rows.
func (s *PostgresStore) poolMissOrClosed(ctx context.Context, taskID string, closedErr error) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM market_pools WHERE task_id = $1`, taskID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return closedErr
}

// --- Positions ---

func (s *PostgresStore) InsertPosition(ctx context.Context, p *model.Position) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO positions (id, task_id, user_id, side, shares, cost, redeemed, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		p.ID, p.TaskID, p.User, p.Side,
		p.Shares.String(), p.Cost.String(),
		p.Redeemed, p.CreatedAt,
	)
	if isUnique(err) {
		return ErrAlreadyExists
	}
	return err
}

const positionColumns = `id, task_id, user_id, side, shares::TEXT, cost::TEXT, redeemed, created_at`

func scanPositions(rows pgx.Rows) ([]model.Position, error) {
	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var shares, cost string

		if err := rows.Scan(&p.ID, &p.TaskID, &p.User, &p.Side,
			&shares, &cost, &p.Redeemed, &p.CreatedAt); err != nil {
			return nil, err
		}

		p.Shares, _ = decimal.NewFromString(shares)
		p.Cost, _ = decimal.NewFromString(cost)

		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (s *PostgresStore) PositionsByTask(ctx context.Context, taskID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) UnredeemedPositions(ctx context.Context, taskID, user string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+`
		 FROM positions
		 WHERE task_id = $1 AND user_id = $2 AND redeemed = FALSE
		 ORDER BY created_at`, taskID, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanPositions(rows)
}

func (s *PostgresStore) MarkRedeemed(ctx context.Context, positionID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET redeemed = TRUE WHERE id = $1`, positionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Robots ---

func (s *PostgresStore) InsertRobot(ctx context.Context, r *model.Robot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO robots (id, id_hash, owner, name, description, capabilities, metadata_uri, reputation, stake, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::NUMERIC, $10, $11)`,
		r.ID, r.IDHash, r.Owner, r.Name, r.Description, r.Capabilities,
		r.MetadataURI, r.Reputation, r.Stake.String(), r.Active, r.CreatedAt,
	)
	if isUnique(err) {
		return ErrAlreadyExists
	}
	return err
}

const robotColumns = `id, id_hash, owner, name, description, capabilities, metadata_uri, reputation, stake::TEXT, active, created_at`

func scanRobot(row pgx.Row) (*model.Robot, error) {
	var r model.Robot
	var stake string

	err := row.Scan(&r.ID, &r.IDHash, &r.Owner, &r.Name, &r.Description,
		&r.Capabilities, &r.MetadataURI, &r.Reputation, &stake, &r.Active, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Stake, _ = decimal.NewFromString(stake)
	return &r, nil
}

func (s *PostgresStore) GetRobot(ctx context.Context, id string) (*model.Robot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+robotColumns+` FROM robots WHERE id = $1`, id)

	r, err := scanRobot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get robot %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) ListRobots(ctx context.Context) ([]model.Robot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+robotColumns+` FROM robots ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var robots []model.Robot
	for rows.Next() {
		r, err := scanRobot(rows)
		if err != nil {
			return nil, err
		}
		robots = append(robots, *r)
	}
	return robots, rows.Err()
}

func (s *PostgresStore) UpdateRobot(ctx context.Context, r *model.Robot) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE robots
		 SET description = $2, capabilities = $3, stake = $4::NUMERIC, active = $5
		 WHERE id = $1`,
		r.ID, r.Description, r.Capabilities, r.Stake.String(), r.Active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteRobot(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM robots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AdjustReputation(ctx context.Context, robotID string, delta int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE robots SET reputation = reputation + $2 WHERE id = $1`,
		robotID, delta,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Tasks ---

func (s *PostgresStore) InsertTask(ctx context.Context, t *model.Task) error {
	waypoints, err := json.Marshal(t.Waypoints)
	if err != nil {
		return fmt.Errorf("marshal waypoints: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (id, robot_id, title, description, waypoints, deadline, required_score, resolver, solution_uri, evidence_uri, optimization_score, created_at)
		 VALUES ($1, $2, $3, $4, $5::JSONB, $6, $7, $8, $9, $10, $11, $12)`,
		t.ID, t.RobotID, t.Title, t.Description, waypoints,
		t.Deadline, t.RequiredScore, t.Resolver,
		t.SolutionURI, t.EvidenceURI, t.OptimizationScore, t.CreatedAt,
	)
	if isUnique(err) {
		return ErrAlreadyExists
	}
	return err
}

const taskColumns = `id, robot_id, title, description, waypoints, deadline, required_score, resolver, COALESCE(solution_uri, ''), COALESCE(evidence_uri, ''), optimization_score, created_at`

func scanTask(row pgx.Row) (*model.Task, error) {
	var t model.Task
	var waypoints []byte

	err := row.Scan(&t.ID, &t.RobotID, &t.Title, &t.Description, &waypoints,
		&t.Deadline, &t.RequiredScore, &t.Resolver,
		&t.SolutionURI, &t.EvidenceURI, &t.OptimizationScore, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(waypoints) > 0 {
		if err := json.Unmarshal(waypoints, &t.Waypoints); err != nil {
			return nil, fmt.Errorf("unmarshal waypoints: %w", err)
		}
	}
	return &t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context) ([]model.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) HasActiveTask(ctx context.Context, robotID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM tasks t
			JOIN market_pools mp ON mp.task_id = t.id
			WHERE t.robot_id = $1 AND mp.status = 'active'
		 )`, robotID).Scan(&exists)
	return exists, err
}

func (s *PostgresStore) SetTaskSolution(ctx context.Context, taskID, solutionURI string, score float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET solution_uri = $2, optimization_score = $3 WHERE id = $1`,
		taskID, solutionURI, score,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetTaskEvidence(ctx context.Context, taskID, evidenceURI string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET evidence_uri = $2 WHERE id = $1`,
		taskID, evidenceURI,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Governance proposals ---

func (s *PostgresStore) InsertProposal(ctx context.Context, p *model.Proposal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO proposals (id, title, description, action, proposer, yes_votes, no_votes, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
		p.ID, p.Title, p.Description, p.Action, p.Proposer,
		p.YesVotes.String(), p.NoVotes.String(), p.Status, p.CreatedAt,
	)
	if isUnique(err) {
		return ErrAlreadyExists
	}
	return err
}

const proposalColumns = `id, title, description, action, proposer, yes_votes::TEXT, no_votes::TEXT, status, created_at`

func scanProposal(row pgx.Row) (*model.Proposal, error) {
	var p model.Proposal
	var yesVotes, noVotes string

	err := row.Scan(&p.ID, &p.Title, &p.Description, &p.Action, &p.Proposer,
		&yesVotes, &noVotes, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}

	p.YesVotes, _ = decimal.NewFromString(yesVotes)
	p.NoVotes, _ = decimal.NewFromString(noVotes)
	return &p, nil
}

func (s *PostgresStore) GetProposal(ctx context.Context, id string) (*model.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`, id)

	p, err := scanProposal(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get proposal %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListProposals(ctx context.Context) ([]model.Proposal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+proposalColumns+` FROM proposals ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proposals []model.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, rows.Err()
}

func (s *PostgresStore) AddVote(ctx context.Context, proposalID string, support bool, weight decimal.Decimal) error {
	column := "no_votes"
	if support {
		column = "yes_votes"
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE proposals SET `+column+` = `+column+` + $2::NUMERIC
		 WHERE id = $1 AND status = 'active'`,
		proposalID, weight.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.proposalMissOrClosed(ctx, proposalID)
	}
	return nil
}

func (s *PostgresStore) SetProposalStatus(ctx context.Context, proposalID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE proposals SET status = $2 WHERE id = $1 AND status = 'active'`,
		proposalID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.proposalMissOrClosed(ctx, proposalID)
	}
	return nil
}

func (s *PostgresStore) proposalMissOrClosed(ctx context.Context, proposalID string) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM proposals WHERE id = $1`, proposalID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrProposalClosed
}
