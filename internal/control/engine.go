package control

import (
	"context"
	"errors"
	"fmt"
	logger "log/slog"
	"sync"
	"time"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/core/txerror"
	"github.com/vietddude/chainscan/internal/indexing/cache"
	"github.com/vietddude/chainscan/internal/indexing/emitter"
	"github.com/vietddude/chainscan/internal/indexing/metrics"
	"github.com/vietddude/chainscan/internal/indexing/reconcile"
	"github.com/vietddude/chainscan/internal/infra/chain"
	"github.com/vietddude/chainscan/internal/infra/chain/evm"
	"github.com/vietddude/chainscan/internal/infra/chain/omni"
	"github.com/vietddude/chainscan/internal/infra/chain/tron"
	"github.com/vietddude/chainscan/internal/infra/chain/utxo"
	"github.com/vietddude/chainscan/internal/infra/storage"
)

// ErrReceiptsUnsupported is returned when a chain's scanner cannot look up
// receipts by hash, so pending rows cannot be reconciled.
var ErrReceiptsUnsupported = errors.New("chain does not support receipt lookup")

// pendingCountLimit bounds the rows read when reporting the pending backlog.
const pendingCountLimit = 50

// NewChainRegistry validates provider configs and registers the adapter
// factory of every supported family.
func NewChainRegistry(configs []domain.ProviderConfig, headTTL time.Duration) (*chain.Registry, error) {
	reg, err := chain.NewRegistry(configs...)
	if err != nil {
		return nil, err
	}
	reg.Register(domain.FamilyUTXO, utxo.New)
	reg.Register(domain.FamilyEVM, evm.New)
	reg.Register(domain.FamilyTron, tron.NewFactory(headTTL).New)
	reg.Register(domain.FamilyOmni, omni.New)
	return reg, nil
}

// Engine is the downstream API over every configured chain.
// Scanners and reconcilers are built on first use.
type Engine struct {
	registry   *chain.Registry
	balances   cache.BalanceCache
	repo       storage.TransactionRepository
	emitter    emitter.Emitter
	translator *txerror.Translator

	mu          sync.Mutex
	scanners    map[domain.CurrencyContext]chain.Scanner
	reconcilers map[domain.CurrencyContext]*reconcile.Reconciler

	now func() time.Time
	log logger.Logger
}

// NewEngine creates an engine. em may be nil.
func NewEngine(
	registry *chain.Registry,
	balances cache.BalanceCache,
	repo storage.TransactionRepository,
	em emitter.Emitter,
) *Engine {
	return &Engine{
		registry:    registry,
		balances:    balances,
		repo:        repo,
		emitter:     em,
		translator:  txerror.NewTranslator(),
		scanners:    make(map[domain.CurrencyContext]chain.Scanner),
		reconcilers: make(map[domain.CurrencyContext]*reconcile.Reconciler),
		now:         time.Now,
		log:         *logger.Default(),
	}
}

// Chains returns the configured chain ids.
func (e *Engine) Chains() []domain.ChainID {
	return e.registry.Chains()
}

// resolve fills the default network and asset key so equal requests share
// one scanner and one cache key.
func (e *Engine) resolve(cc domain.CurrencyContext) (domain.CurrencyContext, error) {
	cfg, ok := e.registry.Config(cc.Chain)
	if !ok {
		return cc, fmt.Errorf("%w: %s", chain.ErrUnknownChain, cc.Chain)
	}
	if cc.Network == "" {
		cc.Network = cfg.DefaultNetwork
	}
	cc.Asset = cc.AssetKey()
	return cc, nil
}

func (e *Engine) scanner(cc domain.CurrencyContext) (chain.Scanner, domain.CurrencyContext, error) {
	cc, err := e.resolve(cc)
	if err != nil {
		return nil, cc, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.scanners[cc]; ok {
		return s, cc, nil
	}
	s, err := e.registry.New(cc)
	if err != nil {
		return nil, cc, err
	}
	e.scanners[cc] = s
	e.log.Debug("Scanner created", "currency", cc.String())
	return s, cc, nil
}

// networkOf drops the asset of a resolved context. Pending rows and their
// reconcilers are scoped by chain and network only.
func networkOf(cc domain.CurrencyContext) domain.CurrencyContext {
	return domain.CurrencyContext{Chain: cc.Chain, Network: cc.Network}
}

// addressKey scopes a cache key to the chain and network of cc.
func addressKey(cc domain.CurrencyContext, address string) cache.Key {
	return cache.NormalizeKey(domain.ChainID(networkOf(cc).String()), address)
}

// GetBalance returns the balance of address in cc, or nil when no provider
// had a record. Upstream failures propagate.
func (e *Engine) GetBalance(ctx context.Context, address string, cc domain.CurrencyContext) (*domain.BalanceRecord, error) {
	s, cc, err := e.scanner(cc)
	if err != nil {
		return nil, err
	}
	addr, err := s.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	key := addressKey(cc, addr)
	lookup, err := e.balances.Lookup(ctx, key, cc.Asset)
	if err != nil {
		e.log.Warn("Balance cache lookup failed", "chain", cc.Chain, "error", err)
	} else if lookup.Hit {
		metrics.BalanceCacheLookups.WithLabelValues(string(cc.Chain), "hit").Inc()
		return lookup.Record, nil
	}
	metrics.BalanceCacheLookups.WithLabelValues(string(cc.Chain), "miss").Inc()

	rec, err := s.GetBalance(ctx, addr)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	if lookup.Generation != 0 {
		if _, err := e.balances.Store(ctx, key, cc.Asset, lookup.Generation, rec); err != nil {
			e.log.Warn("Balance cache store failed", "chain", cc.Chain, "error", err)
		}
	}
	return rec, nil
}

// GetTransactions returns the normalized history of scan.Address. A
// successful fetch invalidates the cached balances of the address.
func (e *Engine) GetTransactions(ctx context.Context, scan domain.ScanContext) ([]*domain.UnifiedTransaction, error) {
	s, cc, err := e.scanner(scan.CurrencyContext)
	if err != nil {
		return nil, err
	}
	addr, err := s.NormalizeAddress(scan.Address)
	if err != nil {
		return nil, err
	}
	scan.CurrencyContext = cc
	scan.Address = addr

	txs, err := s.GetTransactions(ctx, scan)
	if err != nil {
		return nil, err
	}

	key := addressKey(cc, addr)
	e.invalidate(ctx, cc, key)

	// account chains learn about mined sends from the fetch as well
	if _, ok := s.(chain.ReceiptSource); ok {
		confirmed, err := e.ReconcilePending(ctx, domain.ScanContext{CurrencyContext: cc})
		if err != nil {
			e.log.Warn("Pending reconciliation after history fetch failed", "currency", cc.String(), "error", err)
		} else if confirmed {
			e.invalidate(ctx, cc, key)
		}
	}
	return txs, nil
}

func (e *Engine) invalidate(ctx context.Context, cc domain.CurrencyContext, key cache.Key) {
	if err := e.balances.Invalidate(ctx, key); err != nil {
		e.log.Warn("Balance cache invalidation failed", "chain", cc.Chain, "error", err)
	}
}

// reconciler returns the reconciler of the chain and network of cc. It checks
// receipts through the native scanner of that network.
func (e *Engine) reconciler(cc domain.CurrencyContext) (*reconcile.Reconciler, error) {
	resolved, err := e.resolve(cc)
	if err != nil {
		return nil, err
	}
	scope := networkOf(resolved)
	s, _, err := e.scanner(scope)
	if err != nil {
		return nil, err
	}
	source, ok := s.(chain.ReceiptSource)
	if !ok {
		return nil, fmt.Errorf("%s: %w", scope.Chain, ErrReceiptsUnsupported)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.reconcilers[scope]; ok {
		return r, nil
	}
	cfg, _ := e.registry.Config(scope.Chain)
	head, _ := s.(chain.HeadTracker)
	r := reconcile.New(
		reconcile.Config{Chain: scope.Chain, Network: scope.Network, Threshold: cfg.ConfirmationThreshold},
		source, head, e.repo, e.emitter,
	)
	e.reconcilers[scope] = r
	return r, nil
}

// ReconcilePending rechecks pending wallet-originated rows of the chain and
// network of scan and reports whether any reached success.
func (e *Engine) ReconcilePending(ctx context.Context, scan domain.ScanContext) (bool, error) {
	r, err := e.reconciler(scan.CurrencyContext)
	if err != nil {
		return false, err
	}
	return r.Reconcile(ctx)
}

// ResetPending forgets that any network of chain had no pending rows.
func (e *Engine) ResetPending(chainID domain.ChainID) {
	e.mu.Lock()
	var rs []*reconcile.Reconciler
	for scope, r := range e.reconcilers {
		if scope.Chain == chainID {
			rs = append(rs, r)
		}
	}
	e.mu.Unlock()
	for _, r := range rs {
		r.Reset()
	}
}

// PendingState reports the reconciler state of the chain and network of cc.
func (e *Engine) PendingState(cc domain.CurrencyContext) reconcile.State {
	resolved, err := e.resolve(cc)
	if err != nil {
		return reconcile.StateUnknown
	}
	e.mu.Lock()
	r, ok := e.reconcilers[networkOf(resolved)]
	e.mu.Unlock()
	if !ok {
		return reconcile.StateUnknown
	}
	return r.State()
}

// TrackTransaction records a wallet-originated transaction so the
// reconciler of its network picks it up. Tracking a known hash only
// appends to its scan log.
func (e *Engine) TrackTransaction(ctx context.Context, cc domain.CurrencyContext, hash string) (int64, error) {
	if hash == "" {
		return 0, fmt.Errorf("track transaction: empty hash")
	}
	cc, err := e.resolve(cc)
	if err != nil {
		return 0, err
	}
	cfg, _ := e.registry.Config(cc.Chain)
	if _, ok := cfg.Networks[cc.Network]; !ok {
		return 0, fmt.Errorf("%s: %w: %q", cc.Chain, chain.ErrUnknownNetwork, cc.Network)
	}

	now := e.now().UTC()
	id, err := e.repo.Save(ctx, &domain.StoredTransaction{
		Chain:            cc.Chain,
		Network:          cc.Network,
		Asset:            cc.Asset,
		TransactionHash:  hash,
		WalletOriginated: true,
		Status:           domain.TxStatusNew,
		ScanLog:          now.Format(time.RFC3339) + " TRACKED",
		CreatedAt:        now,
	})
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	r, ok := e.reconcilers[networkOf(cc)]
	e.mu.Unlock()
	if ok {
		r.Reset()
	}
	return id, nil
}

// TranslateError maps an upstream error to its canonical form.
func (e *Engine) TranslateError(err error, tx txerror.TxContext) error {
	return e.translator.Translate(err, tx)
}

// LatestHead returns the chain head seen by the native scanner. Chains
// without a receipt source report the head of their last history fetch.
func (e *Engine) LatestHead(ctx context.Context, chainID domain.ChainID) (int64, error) {
	s, _, err := e.scanner(domain.CurrencyContext{Chain: chainID})
	if err != nil {
		return 0, err
	}
	if src, ok := s.(chain.ReceiptSource); ok {
		return src.LatestBlock(ctx)
	}
	if ht, ok := s.(chain.HeadTracker); ok {
		return ht.LastSeenBlock(), nil
	}
	return 0, nil
}

// PendingCount returns the pending backlog of a chain, capped.
func (e *Engine) PendingCount(ctx context.Context, chainID domain.ChainID) (int, error) {
	rows, err := e.repo.FindPending(ctx, chainID, "", pendingCountLimit)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
