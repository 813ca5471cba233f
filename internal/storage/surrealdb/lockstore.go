package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

// LockStore implements interfaces.LockStore using SurrealDB.
//
// A lock is one record per name. Acquisition is the same claim idiom as a
// queue dequeue: a conditional UPDATE that only succeeds while the lock is
// expired, followed by a read-back to confirm ownership. Scheduled jobs
// guarded this way run at most once across any number of instances.
type LockStore struct {
	db     *surrealdb.DB
	logger *common.Logger
	owner  string // per-process identity
}

// NewLockStore creates a new LockStore with a unique process owner id.
func NewLockStore(db *surrealdb.DB, logger *common.Logger) *LockStore {
	return &LockStore{db: db, logger: logger, owner: uuid.New().String()}
}

func lockRecordID(name string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("locks", name)
}

type lockRow struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *LockStore) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	now := time.Now()

	// Ensure the record exists; INSERT IGNORE leaves a held lock untouched.
	seedSQL := "INSERT IGNORE INTO locks { id: $id, name: $name, owner: $none, expires_at: $epoch }"
	seedVars := map[string]any{
		"id":    name,
		"name":  name,
		"none":  "",
		"epoch": time.Unix(0, 0),
	}
	if _, err := surrealdb.Query[any](ctx, s.db, seedSQL, seedVars); err != nil {
		return false, fmt.Errorf("failed to seed lock %s: %w", name, err)
	}

	claimSQL := `UPDATE $rid SET owner = $owner, expires_at = $expires, acquired_at = $now
		WHERE expires_at < $now`
	claimVars := map[string]any{
		"rid":     lockRecordID(name),
		"owner":   s.owner,
		"expires": now.Add(ttl),
		"now":     now,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, claimSQL, claimVars); err != nil {
		return false, fmt.Errorf("failed to claim lock %s: %w", name, err)
	}

	// Read back: we hold the lock only if the claim landed.
	readSQL := "SELECT name, owner, expires_at FROM $rid"
	readVars := map[string]any{"rid": lockRecordID(name)}

	results, err := surrealdb.Query[[]lockRow](ctx, s.db, readSQL, readVars)
	if err != nil {
		return false, fmt.Errorf("failed to read lock %s: %w", name, err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		row := (*results)[0].Result[0]
		return row.Owner == s.owner && row.ExpiresAt.After(now), nil
	}
	return false, nil
}

func (s *LockStore) Release(ctx context.Context, name string) error {
	sql := "UPDATE $rid SET expires_at = $epoch WHERE owner = $owner"
	vars := map[string]any{
		"rid":   lockRecordID(name),
		"epoch": time.Unix(0, 0),
		"owner": s.owner,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", name, err)
	}
	return nil
}

// Compile-time check
var _ interfaces.LockStore = (*LockStore)(nil)
