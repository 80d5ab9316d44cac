package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/vietddude/chainscan/internal/core/domain"
	"github.com/vietddude/chainscan/internal/infra/storage"
)

// serializationFailure is the SQLSTATE of a lost concurrent update.
const serializationFailure = "40001"

type txRow struct {
	ID                 int64         `db:"id"`
	Chain              string        `db:"chain"`
	Network            string        `db:"network"`
	Asset              string        `db:"asset"`
	TxHash             string        `db:"tx_hash"`
	WalletOriginated   bool          `db:"wallet_originated"`
	BlockNumber        sql.NullInt64 `db:"block_number"`
	BlockTime          sql.NullTime  `db:"block_time"`
	BlockConfirmations int64         `db:"block_confirmations"`
	Status             string        `db:"status"`
	ScanLog            string        `db:"scan_log"`
	CreatedAt          time.Time     `db:"created_at"`
}

func (r txRow) toDomain() *domain.StoredTransaction {
	tx := &domain.StoredTransaction{
		ID:                 r.ID,
		Chain:              domain.ChainID(r.Chain),
		Network:            r.Network,
		Asset:              r.Asset,
		TransactionHash:    r.TxHash,
		WalletOriginated:   r.WalletOriginated,
		BlockConfirmations: r.BlockConfirmations,
		Status:             domain.TxStatus(r.Status),
		ScanLog:            r.ScanLog,
		CreatedAt:          r.CreatedAt,
	}
	if r.BlockNumber.Valid {
		tx.BlockNumber = r.BlockNumber.Int64
	}
	if r.BlockTime.Valid {
		tx.BlockTime = r.BlockTime.Time
	}
	return tx
}

func nullBlock(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n > 0}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

const txColumns = `id, chain, network, asset, tx_hash, wallet_originated, block_number, block_time,
	block_confirmations, status, scan_log, created_at`

// TxRepo implements storage.TransactionRepository.
type TxRepo struct {
	db  *DB
	now func() time.Time
}

var _ storage.TransactionRepository = (*TxRepo)(nil)

// NewTxRepo creates a new transaction repository.
func NewTxRepo(db *DB) *TxRepo {
	return &TxRepo{db: db, now: time.Now}
}

// Save inserts the row or narrows an existing row with the same chain and
// hash. A serialization failure is retried once.
func (r *TxRepo) Save(ctx context.Context, tx *domain.StoredTransaction) (int64, error) {
	if tx.TransactionHash == "" {
		return 0, fmt.Errorf("save transaction: empty hash")
	}
	id, err := r.save(ctx, tx)
	if err != nil && isSerializationFailure(err) {
		id, err = r.save(ctx, tx)
	}
	if err != nil {
		return 0, fmt.Errorf("save transaction %s: %w", tx.TransactionHash, err)
	}
	return id, nil
}

func (r *TxRepo) save(ctx context.Context, tx *domain.StoredTransaction) (int64, error) {
	now := r.now().UTC()
	created := tx.CreatedAt
	if created.IsZero() {
		created = now
	}
	status := tx.Status
	if status == "" {
		status = domain.TxStatusNew
	}
	asset := tx.Asset
	if asset == "" {
		asset = domain.NativeAsset
	}

	dbTx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	insert := dbTx.Rebind(`
		INSERT INTO transactions (chain, network, asset, tx_hash, wallet_originated, block_number,
			block_time, block_confirmations, status, scan_log, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (chain, tx_hash) DO NOTHING
		RETURNING id
	`)
	var id int64
	err = dbTx.GetContext(ctx, &id, insert,
		string(tx.Chain), tx.Network, asset, tx.TransactionHash, tx.WalletOriginated,
		nullBlock(tx.BlockNumber), nullTime(tx.BlockTime), tx.BlockConfirmations,
		string(status), tx.ScanLog, created.UTC(), now,
	)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		// the hash is known: narrow the stored row
		selectQuery := `SELECT ` + txColumns + ` FROM transactions WHERE chain = ? AND tx_hash = ?`
		if !r.db.isSQLite() {
			selectQuery += ` FOR UPDATE`
		}
		var row txRow
		if err := dbTx.GetContext(ctx, &row, dbTx.Rebind(selectQuery), string(tx.Chain), tx.TransactionHash); err != nil {
			return 0, err
		}
		stored := row.toDomain()
		storage.MergeSaved(stored, tx)
		if err := r.update(ctx, dbTx, stored); err != nil {
			return 0, err
		}
		id = stored.ID
	default:
		return 0, err
	}

	if err := dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func (r *TxRepo) GetByHash(ctx context.Context, chain domain.ChainID, hash string) (*domain.StoredTransaction, error) {
	query := r.db.Rebind(`SELECT ` + txColumns + ` FROM transactions WHERE chain = ? AND tx_hash = ?`)

	var row txRow
	if err := r.db.GetContext(ctx, &row, query, string(chain), hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return row.toDomain(), nil
}

func (r *TxRepo) FindPending(ctx context.Context, chain domain.ChainID, network string, limit int) ([]domain.PendingRow, error) {
	query := r.db.Rebind(`
		SELECT ` + txColumns + `
		FROM transactions
		WHERE chain = ? AND (CAST(? AS TEXT) = '' OR network = ?)
			AND wallet_originated = ? AND (block_number IS NULL OR block_number = 0)
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`)

	var rows []txRow
	if err := r.db.SelectContext(ctx, &rows, query, string(chain), network, network, true, limit); err != nil {
		return nil, fmt.Errorf("find pending for %s: %w", chain, err)
	}

	out := make([]domain.PendingRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.PendingRow{
			ID:              row.ID,
			TransactionHash: row.TxHash,
			ScanLog:         row.ScanLog,
			CreatedAt:       row.CreatedAt,
		})
	}
	return out, nil
}

// ApplyReceipt narrows the row inside a transaction. A serialization
// failure is retried once.
func (r *TxRepo) ApplyReceipt(ctx context.Context, id int64, upd domain.ReceiptUpdate) (*domain.StoredTransaction, error) {
	tx, err := r.applyReceipt(ctx, id, upd)
	if err != nil && isSerializationFailure(err) {
		tx, err = r.applyReceipt(ctx, id, upd)
	}
	return tx, err
}

func (r *TxRepo) applyReceipt(ctx context.Context, id int64, upd domain.ReceiptUpdate) (*domain.StoredTransaction, error) {
	dbTx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	selectQuery := `SELECT ` + txColumns + ` FROM transactions WHERE id = ?`
	if !r.db.isSQLite() {
		selectQuery += ` FOR UPDATE`
	}

	var row txRow
	if err := dbTx.GetContext(ctx, &row, dbTx.Rebind(selectQuery), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	stored := row.toDomain()
	storage.Narrow(stored, upd)

	if err := r.update(ctx, dbTx, stored); err != nil {
		return nil, err
	}
	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return stored, nil
}

func (r *TxRepo) update(ctx context.Context, dbTx *sqlx.Tx, tx *domain.StoredTransaction) error {
	query := dbTx.Rebind(`
		UPDATE transactions SET
			network = ?, wallet_originated = ?,
			block_number = ?, block_time = ?, block_confirmations = ?,
			status = ?, scan_log = ?, updated_at = ?
		WHERE id = ?
	`)
	_, err := dbTx.ExecContext(ctx, query,
		tx.Network, tx.WalletOriginated,
		nullBlock(tx.BlockNumber), nullTime(tx.BlockTime), tx.BlockConfirmations,
		string(tx.Status), tx.ScanLog, r.now().UTC(), tx.ID,
	)
	if err != nil {
		return fmt.Errorf("update transaction %d: %w", tx.ID, err)
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == serializationFailure
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == serializationFailure
	}
	return false
}
