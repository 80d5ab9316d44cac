package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/infra/storage"
)

type txKey struct {
	chain domain.ChainID
	hash  string
}

// MemoryStorage is a process-local transaction table.
type MemoryStorage struct {
	mu     sync.RWMutex
	rows   map[int64]*domain.StoredTransaction
	byHash map[txKey]int64
	nextID int64
	now    func() time.Time
}

var _ storage.TransactionRepository = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		rows:   make(map[int64]*domain.StoredTransaction),
		byHash: make(map[txKey]int64),
		now:    time.Now,
	}
}

func (s *MemoryStorage) Save(ctx context.Context, tx *domain.StoredTransaction) (int64, error) {
	if tx.TransactionHash == "" {
		return 0, fmt.Errorf("save transaction: empty hash")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := txKey{tx.Chain, tx.TransactionHash}
	if id, ok := s.byHash[key]; ok {
		storage.MergeSaved(s.rows[id], tx)
		return id, nil
	}

	cp := *tx
	if cp.Status == "" {
		cp.Status = domain.TxStatusNew
	}
	if cp.Asset == "" {
		cp.Asset = domain.NativeAsset
	}
	s.nextID++
	cp.ID = s.nextID
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.rows[cp.ID] = &cp
	s.byHash[key] = cp.ID
	return cp.ID, nil
}

func (s *MemoryStorage) GetByHash(ctx context.Context, chain domain.ChainID, hash string) (*domain.StoredTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[txKey{chain, hash}]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *s.rows[id]
	return &cp, nil
}

func (s *MemoryStorage) FindPending(ctx context.Context, chain domain.ChainID, network string, limit int) ([]domain.PendingRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []*domain.StoredTransaction
	for _, tx := range s.rows {
		if tx.Chain != chain || (network != "" && tx.Network != network) {
			continue
		}
		if tx.WalletOriginated && tx.BlockNumber == 0 {
			pending = append(pending, tx)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt.Equal(pending[j].CreatedAt) {
			return pending[i].ID > pending[j].ID
		}
		return pending[i].CreatedAt.After(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	out := make([]domain.PendingRow, 0, len(pending))
	for _, tx := range pending {
		out = append(out, domain.PendingRow{
			ID:              tx.ID,
			TransactionHash: tx.TransactionHash,
			ScanLog:         tx.ScanLog,
			CreatedAt:       tx.CreatedAt,
		})
	}
	return out, nil
}

func (s *MemoryStorage) ApplyReceipt(ctx context.Context, id int64, upd domain.ReceiptUpdate) (*domain.StoredTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.rows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	storage.Narrow(tx, upd)
	cp := *tx
	return &cp, nil
}
