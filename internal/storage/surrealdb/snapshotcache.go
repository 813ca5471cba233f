package surrealdb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// SnapshotCache implements interfaces.SnapshotCache using SurrealDB.
// One record per account holding the last good snapshot as a JSON payload;
// the upstream client is the single writer per account.
type SnapshotCache struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewSnapshotCache creates a new SnapshotCache.
func NewSnapshotCache(db *surrealdb.DB, logger *common.Logger) *SnapshotCache {
	return &SnapshotCache{db: db, logger: logger}
}

type cachedSnapshot struct {
	AccountID string    `json:"account_id"`
	Payload   string    `json:"payload"`
	CachedAt  time.Time `json:"cached_at"`
}

func (c *SnapshotCache) Get(ctx context.Context, accountID string) (*models.Snapshot, error) {
	sql := "SELECT account_id, payload, cached_at FROM snapshot_cache WHERE account_id = $account LIMIT 1"
	vars := map[string]any{"account": accountID}

	results, err := surrealdb.Query[[]cachedSnapshot](ctx, c.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot cache: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, nil
	}

	var snap models.Snapshot
	if err := json.Unmarshal([]byte((*results)[0].Result[0].Payload), &snap); err != nil {
		return nil, fmt.Errorf("failed to decode cached snapshot: %w", err)
	}
	return &snap, nil
}

func (c *SnapshotCache) Put(ctx context.Context, snapshot *models.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	sql := "UPSERT $rid SET account_id = $account, payload = $payload, cached_at = $now"
	vars := map[string]any{
		"rid":     surrealmodels.NewRecordID("snapshot_cache", snapshot.AccountID),
		"account": snapshot.AccountID,
		"payload": string(payload),
		"now":     time.Now(),
	}

	if _, err := surrealdb.Query[any](ctx, c.db, sql, vars); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	return nil
}

// Compile-time check
var _ interfaces.SnapshotCache = (*SnapshotCache)(nil)
