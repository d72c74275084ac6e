package market_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/qornetwork/taskmarket/internal/market"
	"github.com/qornetwork/taskmarket/internal/model"
	"github.com/qornetwork/taskmarket/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv creates a test Service with in-memory store and chi router.
func newTestEnv(t *testing.T) (*market.Service, *store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	svc := market.NewService(ms, nil, nil, nil)

	r := chi.NewRouter()
	r.Get("/api/markets", svc.HandleListMarkets)
	r.Get("/api/tasks/{taskID}/market", svc.HandleGetMarket)
	r.Get("/api/tasks/{taskID}/positions", svc.HandlePositions)
	r.Post("/api/tasks/{taskID}/trade", svc.HandleTrade)
	r.Post("/api/tasks/{taskID}/redeem", svc.HandleRedeem)

	return svc, ms, r
}

// seedPool opens a market for a task directly through the service.
func seedPool(t *testing.T, svc *market.Service, taskID string) {
	t.Helper()
	if _, err := svc.CreateMarket(context.Background(), taskID, 80); err != nil {
		t.Fatalf("failed to seed pool: %v", err)
	}
}

func mustTrade(t *testing.T, svc *market.Service, taskID, user, side string, amount float64) {
	t.Helper()
	if _, err := svc.Trade(context.Background(), taskID, user, side, d(amount)); err != nil {
		t.Fatalf("trade failed: %v", err)
	}
}

// --- Trade tests ---

func TestTrade_BuyYes(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")

	result, err := svc.Trade(context.Background(), "task-1", "alice", model.SideYes, d(100))
	if err != nil {
		t.Fatalf("trade failed: %v", err)
	}

	if result.PositionID == "" {
		t.Error("expected non-empty position_id")
	}
	if !result.Shares.Equal(d(100)) {
		t.Errorf("expected shares=100 under 1:1 pricing, got %s", result.Shares)
	}

	pool, _ := ms.GetPool(context.Background(), "task-1")
	if !pool.YesPool.Equal(d(100)) {
		t.Errorf("expected yes_pool=100, got %s", pool.YesPool)
	}
	if !pool.YesShares.Equal(d(100)) {
		t.Errorf("expected yes_shares=100, got %s", pool.YesShares)
	}
	if !pool.NoPool.IsZero() {
		t.Errorf("expected no_pool=0, got %s", pool.NoPool)
	}
}

func TestTrade_PoolPartitionInvariant(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")

	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)
	mustTrade(t, svc, "task-1", "bob", model.SideNo, 50)
	mustTrade(t, svc, "task-1", "carol", model.SideYes, 25)

	pool, _ := ms.GetPool(context.Background(), "task-1")
	positions, _ := ms.PositionsByTask(context.Background(), "task-1")

	sumYes, sumNo := decimal.Zero, decimal.Zero
	for _, p := range positions {
		if p.Side == model.SideYes {
			sumYes = sumYes.Add(p.Shares)
		} else {
			sumNo = sumNo.Add(p.Shares)
		}
	}

	if !sumYes.Equal(pool.YesShares) {
		t.Errorf("yes positions (%s) should sum to yes_shares (%s)", sumYes, pool.YesShares)
	}
	if !sumNo.Equal(pool.NoShares) {
		t.Errorf("no positions (%s) should sum to no_shares (%s)", sumNo, pool.NoShares)
	}
	if !pool.TotalPool().Equal(d(175)) {
		t.Errorf("expected total pool 175, got %s", pool.TotalPool())
	}
}

func TestTrade_InvalidSide(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")

	_, err := svc.Trade(context.Background(), "task-1", "alice", "maybe", d(10))
	if err == nil || !errors.Is(err, market.ErrInvalidSide) {
		t.Errorf("expected ErrInvalidSide, got %v", err)
	}
}

func TestTrade_NonPositiveAmount(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")

	for _, amount := range []float64{0, -10} {
		_, err := svc.Trade(context.Background(), "task-1", "alice", model.SideYes, d(amount))
		if err == nil || !errors.Is(err, market.ErrInvalidAmount) {
			t.Errorf("amount %v: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestTrade_UnknownTask(t *testing.T) {
	svc, _, _ := newTestEnv(t)

	_, err := svc.Trade(context.Background(), "no-such-task", "alice", model.SideYes, d(10))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTrade_ResolvedMarketRejected(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)

	if _, err := svc.Resolve(context.Background(), "task-1", "", 90, 80); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	_, err := svc.Trade(context.Background(), "task-1", "bob", model.SideNo, d(10))
	if !errors.Is(err, store.ErrMarketClosed) {
		t.Errorf("expected ErrMarketClosed, got %v", err)
	}
}

func TestTrade_ConcurrentSameTask(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, err := svc.Trade(context.Background(), "task-1", "alice", model.SideYes, d(1)); err != nil {
				t.Errorf("concurrent trade failed: %v", err)
			}
		}()
	}
	wg.Wait()

	pool, _ := ms.GetPool(context.Background(), "task-1")
	if !pool.YesPool.Equal(d(n)) {
		t.Errorf("expected yes_pool=%d after %d concurrent trades, got %s", n, n, pool.YesPool)
	}

	positions, _ := ms.PositionsByTask(context.Background(), "task-1")
	if len(positions) != n {
		t.Errorf("expected %d positions, got %d", n, len(positions))
	}
}

// --- Resolution tests ---

func TestResolve_ScoreBoundary(t *testing.T) {
	// Resolution succeeds iff score >= required, inclusive.
	cases := []struct {
		name    string
		score   float64
		success bool
	}{
		{"above", 90, true},
		{"exact", 80, true},
		{"below", 79.99, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, ms, _ := newTestEnv(t)
			seedPool(t, svc, "task-1")

			result, err := svc.Resolve(context.Background(), "task-1", "", tc.score, 80)
			if err != nil {
				t.Fatalf("resolve failed: %v", err)
			}
			if result.Success != tc.success {
				t.Errorf("score %v vs required 80: expected success=%v, got %v",
					tc.score, tc.success, result.Success)
			}

			pool, _ := ms.GetPool(context.Background(), "task-1")
			if pool.Status != model.StatusResolved {
				t.Errorf("expected status=resolved, got %s", pool.Status)
			}
			if pool.Success == nil || *pool.Success != tc.success {
				t.Errorf("pool success not recorded: %v", pool.Success)
			}
		})
	}
}

func TestResolve_Twice(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")

	if _, err := svc.Resolve(context.Background(), "task-1", "", 90, 80); err != nil {
		t.Fatalf("first resolve failed: %v", err)
	}

	_, err := svc.Resolve(context.Background(), "task-1", "", 90, 80)
	if !errors.Is(err, store.ErrAlreadyResolved) {
		t.Errorf("expected ErrAlreadyResolved, got %v", err)
	}
}

// fakeAdjuster records reputation adjustments.
type fakeAdjuster struct {
	mu    sync.Mutex
	calls []int
}

func (f *fakeAdjuster) AdjustReputation(ctx context.Context, robotID string, delta int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, delta)
	return nil
}

func TestResolve_ReputationAppliedOnce(t *testing.T) {
	ms := store.NewMemoryStore()
	rep := &fakeAdjuster{}
	svc := market.NewService(ms, rep, nil, nil)
	seedPool(t, svc, "task-1")

	result, err := svc.Resolve(context.Background(), "task-1", "robot-1", 90, 80)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if result.ReputationDelta != market.ReputationSuccess {
		t.Errorf("expected delta=%d, got %d", market.ReputationSuccess, result.ReputationDelta)
	}

	// Second resolve fails before any reputation call.
	svc.Resolve(context.Background(), "task-1", "robot-1", 90, 80)

	if len(rep.calls) != 1 {
		t.Fatalf("expected exactly 1 reputation adjustment, got %d", len(rep.calls))
	}
	if rep.calls[0] != market.ReputationSuccess {
		t.Errorf("expected +%d, got %d", market.ReputationSuccess, rep.calls[0])
	}
}

func TestResolve_FailureReputation(t *testing.T) {
	ms := store.NewMemoryStore()
	rep := &fakeAdjuster{}
	svc := market.NewService(ms, rep, nil, nil)
	seedPool(t, svc, "task-1")

	result, err := svc.Resolve(context.Background(), "task-1", "robot-1", 40, 80)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if result.Success {
		t.Error("expected failure outcome")
	}
	if result.ReputationDelta != market.ReputationFailure {
		t.Errorf("expected delta=%d, got %d", market.ReputationFailure, result.ReputationDelta)
	}
}

// --- Redemption tests ---

func TestRedeem_WinnerTakesPool(t *testing.T) {
	// Alice buys 100 yes, Bob buys 50 no; task succeeds. Alice holds all
	// winning shares and collects the combined 150 pool; Bob gets zero but
	// his position is still consumed.
	svc, ms, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)
	mustTrade(t, svc, "task-1", "bob", model.SideNo, 50)

	if _, err := svc.Resolve(context.Background(), "task-1", "", 90, 80); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	aliceResult, err := svc.Redeem(context.Background(), "task-1", "alice")
	if err != nil {
		t.Fatalf("alice redeem failed: %v", err)
	}
	if !aliceResult.Payout.Equal(d(150)) {
		t.Errorf("expected alice payout=150, got %s", aliceResult.Payout)
	}

	bobResult, err := svc.Redeem(context.Background(), "task-1", "bob")
	if err != nil {
		t.Fatalf("bob redeem failed: %v", err)
	}
	if !bobResult.Payout.IsZero() {
		t.Errorf("expected bob payout=0, got %s", bobResult.Payout)
	}
	if bobResult.Positions != 1 {
		t.Errorf("bob's losing position should still be consumed, got %d", bobResult.Positions)
	}

	// Every position, winning or losing, is marked redeemed.
	positions, _ := ms.PositionsByTask(context.Background(), "task-1")
	for _, p := range positions {
		if !p.Redeemed {
			t.Errorf("position %s (%s %s) not marked redeemed", p.ID, p.User, p.Side)
		}
	}
}

func TestRedeem_ProportionalSplit(t *testing.T) {
	// Two users with equal winning shares each collect half the pool; the
	// payouts sum exactly to the combined pool.
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)
	mustTrade(t, svc, "task-1", "bob", model.SideYes, 100)

	if _, err := svc.Resolve(context.Background(), "task-1", "", 90, 80); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	alice, err := svc.Redeem(context.Background(), "task-1", "alice")
	if err != nil {
		t.Fatalf("alice redeem failed: %v", err)
	}
	bob, err := svc.Redeem(context.Background(), "task-1", "bob")
	if err != nil {
		t.Fatalf("bob redeem failed: %v", err)
	}

	if !alice.Payout.Equal(d(100)) {
		t.Errorf("expected alice payout=100, got %s", alice.Payout)
	}
	if !bob.Payout.Equal(d(100)) {
		t.Errorf("expected bob payout=100, got %s", bob.Payout)
	}
	if !alice.Payout.Add(bob.Payout).Equal(d(200)) {
		t.Errorf("payouts should sum to pool, got %s", alice.Payout.Add(bob.Payout))
	}
}

func TestRedeem_ConservationUnevenSplit(t *testing.T) {
	// Three winners of 1 share each. Dividing each share fraction first
	// would round 1/3 and pay out 2.9999... in total; multiplying by the
	// pool before dividing keeps each payout at exactly 1.
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 1)
	mustTrade(t, svc, "task-1", "bob", model.SideYes, 1)
	mustTrade(t, svc, "task-1", "carol", model.SideYes, 1)

	if _, err := svc.Resolve(context.Background(), "task-1", "", 90, 80); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	total := decimal.Zero
	for _, user := range []string{"alice", "bob", "carol"} {
		result, err := svc.Redeem(context.Background(), "task-1", user)
		if err != nil {
			t.Fatalf("%s redeem failed: %v", user, err)
		}
		if !result.Payout.Equal(d(1)) {
			t.Errorf("expected %s payout=1, got %s", user, result.Payout)
		}
		total = total.Add(result.Payout)
	}

	if !total.Equal(d(3)) {
		t.Errorf("payouts should sum to pool exactly, got %s", total)
	}
}

func TestRedeem_ConcurrentSameUser(t *testing.T) {
	// Two simultaneous redemptions for the same user must not both read
	// redeemed=false and both pay out: exactly one collects the pool, the
	// other finds nothing left.
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)
	mustTrade(t, svc, "task-1", "bob", model.SideNo, 50)

	if _, err := svc.Resolve(context.Background(), "task-1", "", 90, 80); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	results := make(chan error, 2)
	payouts := make(chan decimal.Decimal, 2)
	for i := 0; i < 2; i++ {
		go func() {
			result, err := svc.Redeem(context.Background(), "task-1", "alice")
			if err != nil {
				results <- err
				return
			}
			payouts <- result.Payout
			results <- nil
		}()
	}

	var paid, empty int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			paid++
		case errors.Is(err, market.ErrNothingToRedeem):
			empty++
		default:
			t.Fatalf("unexpected redeem error: %v", err)
		}
	}

	if paid != 1 || empty != 1 {
		t.Fatalf("expected exactly one payout and one empty redemption, got paid=%d empty=%d", paid, empty)
	}
	if payout := <-payouts; !payout.Equal(d(150)) {
		t.Errorf("expected the single payout to be 150, got %s", payout)
	}
}

func TestRedeem_BeforeResolution(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)

	_, err := svc.Redeem(context.Background(), "task-1", "alice")
	if !errors.Is(err, market.ErrNotResolved) {
		t.Errorf("expected ErrNotResolved, got %v", err)
	}
}

func TestRedeem_Twice(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)

	if _, err := svc.Resolve(context.Background(), "task-1", "", 90, 80); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if _, err := svc.Redeem(context.Background(), "task-1", "alice"); err != nil {
		t.Fatalf("first redeem failed: %v", err)
	}

	_, err := svc.Redeem(context.Background(), "task-1", "alice")
	if !errors.Is(err, market.ErrNothingToRedeem) {
		t.Errorf("expected ErrNothingToRedeem, got %v", err)
	}
}

func TestRedeem_NoPositions(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)

	if _, err := svc.Resolve(context.Background(), "task-1", "", 90, 80); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	_, err := svc.Redeem(context.Background(), "task-1", "stranger")
	if !errors.Is(err, market.ErrNothingToRedeem) {
		t.Errorf("expected ErrNothingToRedeem, got %v", err)
	}
}

func TestRedeem_DegenerateMarket(t *testing.T) {
	// Nobody bought the winning side: the pool pays out nothing and no
	// refund is issued. Losing positions are still consumed.
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "bob", model.SideNo, 50)

	if _, err := svc.Resolve(context.Background(), "task-1", "", 90, 80); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	result, err := svc.Redeem(context.Background(), "task-1", "bob")
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if !result.Payout.IsZero() {
		t.Errorf("expected payout=0 in degenerate market, got %s", result.Payout)
	}
}

func TestRedeem_FailureOutcome(t *testing.T) {
	// Task fails: no-side wins.
	svc, _, _ := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)
	mustTrade(t, svc, "task-1", "bob", model.SideNo, 50)

	if _, err := svc.Resolve(context.Background(), "task-1", "", 40, 80); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	bob, err := svc.Redeem(context.Background(), "task-1", "bob")
	if err != nil {
		t.Fatalf("bob redeem failed: %v", err)
	}
	if !bob.Payout.Equal(d(150)) {
		t.Errorf("expected bob payout=150, got %s", bob.Payout)
	}
}

// --- HTTP handler tests ---

func doTrade(t *testing.T, router chi.Router, taskID string, req market.TradeRequest) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(req)
	httpReq := httptest.NewRequest("POST", "/api/tasks/"+taskID+"/trade", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httpReq)
	return w
}

func TestHandleTrade_OK(t *testing.T) {
	svc, _, router := newTestEnv(t)
	seedPool(t, svc, "task-1")

	w := doTrade(t, router, "task-1", market.TradeRequest{
		User:   "alice",
		Side:   model.SideYes,
		Amount: d(100),
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp market.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if resp.PositionID == "" {
		t.Error("expected non-empty position_id")
	}
	if !resp.Shares.Equal(d(100)) {
		t.Errorf("expected shares=100, got %s", resp.Shares)
	}
}

func TestHandleTrade_MissingUser(t *testing.T) {
	svc, _, router := newTestEnv(t)
	seedPool(t, svc, "task-1")

	w := doTrade(t, router, "task-1", market.TradeRequest{
		Side:   model.SideYes,
		Amount: d(100),
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing user, got %d", w.Code)
	}
}

func TestHandleTrade_UnknownTask(t *testing.T) {
	_, _, router := newTestEnv(t)

	w := doTrade(t, router, "no-such-task", market.TradeRequest{
		User:   "alice",
		Side:   model.SideYes,
		Amount: d(100),
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestHandleTrade_ClosedMarket(t *testing.T) {
	svc, _, router := newTestEnv(t)
	seedPool(t, svc, "task-1")
	svc.Resolve(context.Background(), "task-1", "", 90, 80)

	w := doTrade(t, router, "task-1", market.TradeRequest{
		User:   "alice",
		Side:   model.SideYes,
		Amount: d(100),
	})

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for closed market, got %d", w.Code)
	}
}

func TestHandleRedeem_UserFromQuery(t *testing.T) {
	svc, _, router := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)
	svc.Resolve(context.Background(), "task-1", "", 90, 80)

	req := httptest.NewRequest("POST", "/api/tasks/task-1/redeem?user=alice", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp market.RedeemResponse
	json.Unmarshal(w.Body.Bytes(), &resp)

	if !resp.Payout.Equal(d(100)) {
		t.Errorf("expected payout=100, got %s", resp.Payout)
	}
}

func TestHandleGetMarket(t *testing.T) {
	svc, _, router := newTestEnv(t)
	seedPool(t, svc, "task-1")
	mustTrade(t, svc, "task-1", "alice", model.SideYes, 100)

	req := httptest.NewRequest("GET", "/api/tasks/task-1/market", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var pool model.MarketPool
	json.Unmarshal(w.Body.Bytes(), &pool)

	if pool.TaskID != "task-1" {
		t.Errorf("expected task_id=task-1, got %s", pool.TaskID)
	}
	if !pool.YesPool.Equal(d(100)) {
		t.Errorf("expected yes_pool=100, got %s", pool.YesPool)
	}
	if pool.Status != model.StatusActive {
		t.Errorf("expected status=active, got %s", pool.Status)
	}
}

func TestHandleListMarkets_Empty(t *testing.T) {
	_, _, router := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/markets", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if w.Body.String() == "null\n" {
		t.Error("expected empty array, got null")
	}
}
