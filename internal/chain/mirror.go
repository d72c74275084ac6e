// Package chain provides the best-effort boundary that mirrors market
// events onto an external ledger pipeline. Mirroring never blocks or fails
// a committed market operation: callers apply a bounded timeout and treat
// any error as a warning.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types mirrored on chain.
const (
	EventTrade        = "trade_executed"
	EventResolution   = "task_resolved"
	EventOptimization = "optimization_submitted"
)

// Event is a market occurrence worth mirroring. Monetary fields are decimal
// strings to keep the wire format exact.
type Event struct {
	Type        string    `json:"type"`
	TaskID      string    `json:"task_id"`
	RobotID     string    `json:"robot_id,omitempty"`
	User        string    `json:"user,omitempty"`
	Side        string    `json:"side,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Shares      string    `json:"shares,omitempty"`
	Success     *bool     `json:"success,omitempty"`
	Score       float64   `json:"score,omitempty"`
	SolutionURI string    `json:"solution_uri,omitempty"`
	EvidenceURI string    `json:"evidence_uri,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Mirror submits events to an external ledger-mirroring collaborator.
type Mirror interface {
	Mirror(ctx context.Context, ev Event) error
}

// LogMirror writes events to the structured log. Used when no mirroring
// backend is configured.
type LogMirror struct{}

func (LogMirror) Mirror(_ context.Context, ev Event) error {
	slog.Info("chain event mirrored",
		"type", ev.Type,
		"task_id", ev.TaskID,
		"side", ev.Side,
		"amount", ev.Amount,
	)
	return nil
}

// streamMaxLen is the approximate maximum stream length, enforced via
// XADD MAXLEN ~.
const streamMaxLen int64 = 10000

// StreamMirror publishes events to a Redis stream consumed by the chain
// submission worker. Durable and ordered; the worker retries on its side.
type StreamMirror struct {
	rdb    *redis.Client
	stream string
}

// NewStreamMirror creates a StreamMirror publishing to the given stream key.
func NewStreamMirror(rdb *redis.Client, stream string) *StreamMirror {
	if stream == "" {
		stream = "chain:events"
	}
	return &StreamMirror{rdb: rdb, stream: stream}
}

func (m *StreamMirror) Mirror(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("chain: marshal event: %w", err)
	}

	err = m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]any{
			"type":    ev.Type,
			"task_id": ev.TaskID,
			"payload": payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("chain: xadd %s: %w", m.stream, err)
	}
	return nil
}
