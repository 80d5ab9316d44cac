package control

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/indexing/cache"
	"github.com/vietddude/chainscan/internal/indexing/reconcile"
	"github.com/vietddude/chainscan/internal/infra/chain"
	"github.com/vietddude/chainscan/internal/infra/storage/memory"
)

// MockScanner implements chain.Scanner for engine tests
type MockScanner struct {
	mu           sync.Mutex
	chainID      domain.ChainID
	balance      *domain.BalanceRecord
	balanceCalls int
	txs          []*domain.UnifiedTransaction
	head         int64
	receipts     map[string]*domain.Receipt
}

func (m *MockScanner) Chain() domain.ChainID { return m.chainID }

func (m *MockScanner) NormalizeAddress(addr string) (string, error) {
	if addr == "bad" {
		return "", fmt.Errorf("%q: %w", addr, chain.ErrInvalidAddress)
	}
	return strings.ToLower(addr), nil
}

func (m *MockScanner) GetBalance(ctx context.Context, address string) (*domain.BalanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCalls++
	return m.balance.Clone(), nil
}

func (m *MockScanner) GetTransactions(ctx context.Context, scan domain.ScanContext) ([]*domain.UnifiedTransaction, error) {
	return m.txs, nil
}

func (m *MockScanner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceCalls
}

// MockReceiptScanner adds receipt lookups
type MockReceiptScanner struct {
	*MockScanner
}

func (m *MockReceiptScanner) LatestBlock(ctx context.Context) (int64, error) {
	return m.head, nil
}

func (m *MockReceiptScanner) Receipt(ctx context.Context, hash string) (*domain.Receipt, error) {
	return m.receipts[hash], nil
}

func testConfig(id domain.ChainID, family domain.Family, kind domain.EndpointKind) domain.ProviderConfig {
	return domain.ProviderConfig{
		Chain:          id,
		Family:         family,
		DefaultNetwork: "mainnet",
		Networks: map[string]domain.NetworkConfig{
			"mainnet": {Endpoints: []domain.Endpoint{{Name: "mock", Kind: kind, URL: "http://mock"}}},
		},
	}
}

func withNetwork(cfg domain.ProviderConfig, name string) domain.ProviderConfig {
	cfg.Networks[name] = domain.NetworkConfig{Endpoints: cfg.Networks[cfg.DefaultNetwork].Endpoints}
	return cfg
}

type testEnv struct {
	engine    *Engine
	eth       *MockScanner
	bsv       *MockScanner
	factories int
	networks  []string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg, err := chain.NewRegistry(
		withNetwork(testConfig("ETH", domain.FamilyEVM, domain.KindEthRPC), "ropsten"),
		testConfig("BSV", domain.FamilyUTXO, domain.KindBtcCom),
	)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	env := &testEnv{
		eth: &MockScanner{
			chainID:  "ETH",
			balance:  &domain.BalanceRecord{Balance: decimal.NewFromInt(5), Provider: "mock"},
			receipts: make(map[string]*domain.Receipt),
		},
		bsv: &MockScanner{chainID: "BSV"},
	}
	reg.Register(domain.FamilyEVM, func(cfg domain.ProviderConfig, sel chain.Selector) (chain.Scanner, error) {
		env.factories++
		env.networks = append(env.networks, sel.Network)
		return &MockReceiptScanner{env.eth}, nil
	})
	reg.Register(domain.FamilyUTXO, func(cfg domain.ProviderConfig, sel chain.Selector) (chain.Scanner, error) {
		return env.bsv, nil
	})

	env.engine = NewEngine(reg, cache.NewMemoryBalanceCache(time.Minute, 100), memory.NewMemoryStorage(), nil)
	return env
}

func TestEngine_BalanceCachedUntilHistoryFetch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eth := domain.CurrencyContext{Chain: "ETH"}

	for i := 0; i < 2; i++ {
		rec, err := env.engine.GetBalance(ctx, "0xABC", eth)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if !rec.Balance.Equal(decimal.NewFromInt(5)) {
			t.Errorf("expected 5, got %s", rec.Balance)
		}
	}
	if env.eth.calls() != 1 {
		t.Fatalf("expected 1 upstream call, got %d", env.eth.calls())
	}

	// differently cased input shares the cache entry of the history fetch
	if _, err := env.engine.GetTransactions(ctx, domain.ScanContext{CurrencyContext: eth, Address: "0xabc"}); err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if _, err := env.engine.GetBalance(ctx, "0xabc", eth); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if env.eth.calls() != 2 {
		t.Errorf("expected refetch after history fetch, got %d calls", env.eth.calls())
	}
}

func TestEngine_NilBalanceNotCached(t *testing.T) {
	env := newTestEnv(t)
	env.eth.balance = nil
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		rec, err := env.engine.GetBalance(ctx, "0xabc", domain.CurrencyContext{Chain: "ETH"})
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if rec != nil {
			t.Fatalf("expected nil record, got %+v", rec)
		}
	}
	if env.eth.calls() != 2 {
		t.Errorf("expected 2 upstream calls, got %d", env.eth.calls())
	}
}

func TestEngine_ScannersCreatedLazily(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if env.factories != 0 {
		t.Fatalf("expected no scanner before first use, got %d", env.factories)
	}
	_, _ = env.engine.GetBalance(ctx, "0xabc", domain.CurrencyContext{Chain: "ETH"})
	_, _ = env.engine.GetBalance(ctx, "0xabc", domain.CurrencyContext{Chain: "ETH", Network: "mainnet", Asset: "_"})
	if env.factories != 1 {
		t.Errorf("expected default network to share one scanner, got %d", env.factories)
	}

	_, _ = env.engine.GetBalance(ctx, "0xabc", domain.CurrencyContext{Chain: "ETH", Asset: "0xdac17f958d2ee523a2206206994597c13d831ec7"})
	if env.factories != 2 {
		t.Errorf("expected a scanner per asset, got %d", env.factories)
	}
}

func TestEngine_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.engine.GetBalance(ctx, "x", domain.CurrencyContext{Chain: "DOGE"}); !errors.Is(err, chain.ErrUnknownChain) {
		t.Errorf("expected ErrUnknownChain, got %v", err)
	}
	if _, err := env.engine.GetBalance(ctx, "bad", domain.CurrencyContext{Chain: "ETH"}); !errors.Is(err, chain.ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
	_, err := env.engine.ReconcilePending(ctx, domain.ScanContext{CurrencyContext: domain.CurrencyContext{Chain: "BSV"}})
	if !errors.Is(err, ErrReceiptsUnsupported) {
		t.Errorf("expected ErrReceiptsUnsupported, got %v", err)
	}
}

func TestEngine_ReconcilePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eth := domain.CurrencyContext{Chain: "ETH"}
	scan := domain.ScanContext{CurrencyContext: eth}

	if _, err := env.engine.TrackTransaction(ctx, eth, "0xh1"); err != nil {
		t.Fatalf("track: %v", err)
	}
	env.eth.head = 120
	env.eth.receipts["0xh1"] = &domain.Receipt{TransactionHash: "0xh1", BlockNumber: 100, Result: domain.ResultSuccess}

	confirmed, err := env.engine.ReconcilePending(ctx, scan)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !confirmed {
		t.Fatal("expected a row to reach success")
	}

	// nothing left: the chain is marked empty
	if _, err := env.engine.ReconcilePending(ctx, scan); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if st := env.engine.PendingState(eth); st != reconcile.StateConfirmedEmpty {
		t.Fatalf("expected confirmed_empty, got %s", st)
	}

	// tracking a new transaction reopens the chain
	if _, err := env.engine.TrackTransaction(ctx, eth, "0xh2"); err != nil {
		t.Fatalf("track: %v", err)
	}
	if st := env.engine.PendingState(eth); st != reconcile.StateUnknown {
		t.Errorf("expected unknown after track, got %s", st)
	}
	confirmed, err = env.engine.ReconcilePending(ctx, scan)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if confirmed {
		t.Error("expected unmined row to stay pending")
	}
	if st := env.engine.PendingState(eth); st != reconcile.StateHasPending {
		t.Errorf("expected has_pending, got %s", st)
	}

	n, err := env.engine.PendingCount(ctx, "ETH")
	if err != nil || n != 1 {
		t.Errorf("expected 1 pending row, got %d (%v)", n, err)
	}
}

func TestEngine_HistoryFetchReconcilesPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eth := domain.CurrencyContext{Chain: "ETH"}

	if _, err := env.engine.TrackTransaction(ctx, eth, "0xdef"); err != nil {
		t.Fatalf("track: %v", err)
	}
	env.eth.head = 200
	env.eth.receipts["0xdef"] = &domain.Receipt{TransactionHash: "0xdef", BlockNumber: 150, Result: domain.ResultSuccess}

	if _, err := env.engine.GetBalance(ctx, "0xabc", eth); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if _, err := env.engine.GetTransactions(ctx, domain.ScanContext{CurrencyContext: eth, Address: "0xabc"}); err != nil {
		t.Fatalf("transactions: %v", err)
	}

	row, err := env.engine.repo.GetByHash(ctx, "ETH", "0xdef")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.Status != domain.TxStatusSuccess || row.BlockNumber != 150 {
		t.Errorf("expected success at block 150, got %s %d", row.Status, row.BlockNumber)
	}
	if _, err := env.engine.GetBalance(ctx, "0xabc", eth); err != nil {
		t.Fatalf("balance: %v", err)
	}
	if env.eth.calls() != 2 {
		t.Errorf("expected refetch after confirmation, got %d calls", env.eth.calls())
	}
}

func TestEngine_HistoryFetchWithoutReceiptsSkipsReconcile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bsv := domain.CurrencyContext{Chain: "BSV"}

	if _, err := env.engine.GetTransactions(ctx, domain.ScanContext{CurrencyContext: bsv, Address: "1abc"}); err != nil {
		t.Fatalf("expected history to succeed without receipts, got %v", err)
	}
	if st := env.engine.PendingState(bsv); st != reconcile.StateUnknown {
		t.Errorf("expected no reconciler state, got %s", st)
	}
}

func TestEngine_RetrackKeepsConfirmedRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	eth := domain.CurrencyContext{Chain: "ETH"}

	id, err := env.engine.TrackTransaction(ctx, eth, "0xabc")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	env.eth.head = 100
	env.eth.receipts["0xabc"] = &domain.Receipt{TransactionHash: "0xabc", BlockNumber: 50, Result: domain.ResultSuccess}
	if _, err := env.engine.ReconcilePending(ctx, domain.ScanContext{CurrencyContext: eth}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	again, err := env.engine.TrackTransaction(ctx, eth, "0xabc")
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if again != id {
		t.Errorf("expected id %d, got %d", id, again)
	}

	row, _ := env.engine.repo.GetByHash(ctx, "ETH", "0xabc")
	if row.Status != domain.TxStatusSuccess || row.BlockNumber != 50 {
		t.Errorf("expected success at block 50 to stick, got %s %d", row.Status, row.BlockNumber)
	}
	if lines := strings.Split(row.ScanLog, "\n"); len(lines) != 3 || !strings.HasSuffix(lines[2], " TRACKED") {
		t.Errorf("expected track appended to the log, got %q", row.ScanLog)
	}
	if n, _ := env.engine.PendingCount(ctx, "ETH"); n != 0 {
		t.Errorf("expected no pending rows, got %d", n)
	}
}

func TestEngine_ReconcilerPerNetwork(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mainnet := domain.CurrencyContext{Chain: "ETH", Network: "mainnet"}
	ropsten := domain.CurrencyContext{Chain: "ETH", Network: "ropsten"}

	rm, err := env.engine.reconciler(mainnet)
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	rr, err := env.engine.reconciler(ropsten)
	if err != nil {
		t.Fatalf("reconciler: %v", err)
	}
	if rm == rr {
		t.Fatal("expected a reconciler per network")
	}
	if dflt, _ := env.engine.reconciler(domain.CurrencyContext{Chain: "ETH"}); dflt != rm {
		t.Error("expected the default network to share the mainnet reconciler")
	}
	if len(env.networks) != 2 || env.networks[0] != "mainnet" || env.networks[1] != "ropsten" {
		t.Errorf("expected one native scanner per network, got %v", env.networks)
	}

	if _, err := env.engine.TrackTransaction(ctx, ropsten, "0xr"); err != nil {
		t.Fatalf("track: %v", err)
	}
	env.eth.head = 100
	env.eth.receipts["0xr"] = &domain.Receipt{TransactionHash: "0xr", BlockNumber: 90, Result: domain.ResultSuccess}

	confirmed, err := env.engine.ReconcilePending(ctx, domain.ScanContext{CurrencyContext: mainnet})
	if err != nil || confirmed {
		t.Fatalf("expected mainnet to ignore the ropsten row, got %v %v", confirmed, err)
	}
	if st := env.engine.PendingState(mainnet); st != reconcile.StateConfirmedEmpty {
		t.Errorf("expected mainnet confirmed_empty, got %s", st)
	}
	confirmed, err = env.engine.ReconcilePending(ctx, domain.ScanContext{CurrencyContext: ropsten})
	if err != nil || !confirmed {
		t.Fatalf("expected ropsten row confirmed, got %v %v", confirmed, err)
	}

	if _, err := env.engine.TrackTransaction(ctx, domain.CurrencyContext{Chain: "ETH", Network: "goerli"}, "0xg"); !errors.Is(err, chain.ErrUnknownNetwork) {
		t.Errorf("expected ErrUnknownNetwork, got %v", err)
	}
}
