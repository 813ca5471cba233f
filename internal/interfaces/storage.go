// Package interfaces defines service contracts for Tally
package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/tally/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	PositionStore() PositionStore
	EodStore() EodStore
	RefDataStore() RefDataStore
	SnapshotCache() SnapshotCache
	LockStore() LockStore

	// Lifecycle
	Close() error
}

// PositionStore owns all Position and Batch rows.
// All multi-row mutations are transactional; the stage->activate critical
// section serializes per account.
type PositionStore interface {
	// CreateBatch allocates the next batch id for the account and inserts a
	// STAGING batch row for the business date.
	CreateBatch(ctx context.Context, accountID, businessDate string) (int64, error)

	// InsertPositions bulk-inserts staged rows; whole-or-nothing per call.
	InsertPositions(ctx context.Context, accountID string, batchID int64, positions []models.SnapshotPosition, source models.PositionSource) error

	// CountBatchPositions returns the number of rows staged for a batch,
	// and the number with an empty product id.
	CountBatchPositions(ctx context.Context, accountID string, batchID int64) (total int, nullProducts int, err error)

	// ActivateBatch atomically archives any current ACTIVE batch for the
	// account and flips the given STAGING batch to ACTIVE.
	ActivateBatch(ctx context.Context, accountID string, batchID int64) error

	// RollbackBatch flips the current ACTIVE batch to ROLLED_BACK and
	// re-activates the most recent ARCHIVED batch. Returns false if there is
	// no ARCHIVED batch to fall back to.
	RollbackBatch(ctx context.Context, accountID, businessDate string) (bool, error)

	// CleanupBatches keeps the ACTIVE batch plus the keep most recent
	// ARCHIVED; ROLLED_BACK rows are retained until explicit purge.
	CleanupBatches(ctx context.Context, accountID string, keep int) (int, error)

	// PurgeBatchesBefore deletes ARCHIVED and ROLLED_BACK batches (and their
	// rows) archived before the cutoff.
	PurgeBatchesBefore(ctx context.Context, cutoff time.Time) (int, error)

	GetBatch(ctx context.Context, accountID string, batchID int64) (*models.Batch, error)
	GetActiveBatch(ctx context.Context, accountID, businessDate string) (*models.Batch, error)
	ListBatches(ctx context.Context, accountID string, limit int) ([]*models.Batch, error)

	// Readers. STAGING rows are invisible to all of them.
	GetActivePositions(ctx context.Context, accountID, businessDate string) ([]*models.Position, error)
	GetPositionsByDate(ctx context.Context, accountID, businessDate string) ([]*models.Position, error)
	GetQuantityAsOf(ctx context.Context, accountID, productID, businessDate string, systemTime time.Time) (float64, error)

	// AdjustPosition applies an intraday single-position mutation via the
	// bitemporal close-and-insert path. It never creates or rotates batches.
	AdjustPosition(ctx context.Context, accountID, productID, businessDate string, quantity, price float64, source models.PositionSource) error
}

// EodStore is written only by the EOD engine.
type EodStore interface {
	GetStatus(ctx context.Context, accountID, businessDate string) (*models.EodStatus, error)
	SetStatus(ctx context.Context, status *models.EodStatus) error
	ResetStatus(ctx context.Context, accountID, businessDate string) error
	ListStatusHistory(ctx context.Context, accountID string, limit int) ([]*models.EodStatus, error)

	// CountCompleted returns how many of the given accounts are COMPLETED
	// for the business date. Used for client sign-off.
	CountCompleted(ctx context.Context, accountIDs []string, businessDate string) (int, error)

	GetSnapshotHash(ctx context.Context, accountID, businessDate string) (*models.SnapshotHash, error)
	SaveSnapshotHash(ctx context.Context, hash *models.SnapshotHash) error
	DeleteSnapshotHash(ctx context.Context, accountID, businessDate string) error
}

// RefDataStore manages accounts, products and the holiday calendar.
type RefDataStore interface {
	UpsertAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListAccountIDs(ctx context.Context) ([]string, error)
	ListClientAccounts(ctx context.Context, clientID string) ([]string, error)

	UpsertProduct(ctx context.Context, product *models.Product) error

	ListHolidays(ctx context.Context, country string) ([]string, error)
	UpsertHoliday(ctx context.Context, holiday *models.Holiday) error
}

// SnapshotCache stores the last good snapshot per account for stale-cache
// fallback. Single writer per account, many readers.
type SnapshotCache interface {
	Get(ctx context.Context, accountID string) (*models.Snapshot, error)
	Put(ctx context.Context, snapshot *models.Snapshot) error
}

// LockStore provides named distributed locks for scheduled jobs so they run
// at most once across any number of instances.
type LockStore interface {
	// Acquire takes the named lock for at most ttl. Returns false when the
	// lock is currently held elsewhere.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}
