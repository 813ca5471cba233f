// Package surrealdb implements Tally's persistent stores on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	positionStore *PositionStore
	eodStore      *EodStore
	refDataStore  *RefDataStore
	snapshotCache *SnapshotCache
	lockStore     *LockStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	m, err := NewManagerWithDB(ctx, db, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

// NewManagerWithDB builds a Manager on an already connected database.
// Used by tests that manage their own container connection.
func NewManagerWithDB(ctx context.Context, db *surrealdb.DB, logger *common.Logger) (*Manager, error) {
	// Define tables to ensure they exist (SurrealDB v3 errors on querying non-existent tables)
	tables := []string{"batches", "positions", "eod_status", "snapshot_hashes", "accounts", "products", "holidays", "snapshot_cache", "locks"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	m := &Manager{
		db:     db,
		logger: logger,
	}

	m.positionStore = NewPositionStore(db, logger)
	m.eodStore = NewEodStore(db, logger)
	m.refDataStore = NewRefDataStore(db, logger)
	m.snapshotCache = NewSnapshotCache(db, logger)
	m.lockStore = NewLockStore(db, logger)

	return m, nil
}

func (m *Manager) PositionStore() interfaces.PositionStore {
	return m.positionStore
}

func (m *Manager) EodStore() interfaces.EodStore {
	return m.eodStore
}

func (m *Manager) RefDataStore() interfaces.RefDataStore {
	return m.refDataStore
}

func (m *Manager) SnapshotCache() interfaces.SnapshotCache {
	return m.snapshotCache
}

func (m *Manager) LockStore() interfaces.LockStore {
	return m.lockStore
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
