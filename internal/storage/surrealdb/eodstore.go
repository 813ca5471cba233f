package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const statusSelectFields = "account_id, business_date, status, reason, started_at, completed_at, position_count, last_error, failure_count"

const hashSelectFields = "account_id, business_date, content_hash, position_count, total_quantity, total_market_value, stored_at"

// EodStore implements interfaces.EodStore using SurrealDB.
// The EOD engine is the only writer.
type EodStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewEodStore creates a new EodStore.
func NewEodStore(db *surrealdb.DB, logger *common.Logger) *EodStore {
	return &EodStore{db: db, logger: logger}
}

func statusRecordID(accountID, businessDate string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("eod_status", accountID+"_"+businessDate)
}

func hashRecordID(accountID, businessDate string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("snapshot_hashes", accountID+"_"+businessDate)
}

func (s *EodStore) GetStatus(ctx context.Context, accountID, businessDate string) (*models.EodStatus, error) {
	sql := "SELECT " + statusSelectFields + " FROM eod_status WHERE account_id = $account AND business_date = $date LIMIT 1"
	vars := map[string]any{"account": accountID, "date": businessDate}

	results, err := surrealdb.Query[[]models.EodStatus](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get EOD status: %w", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}
	return nil, nil
}

func (s *EodStore) SetStatus(ctx context.Context, status *models.EodStatus) error {
	sql := `UPSERT $rid SET
		account_id = $account, business_date = $date, status = $status, reason = $reason,
		started_at = $started, completed_at = $completed, position_count = $count,
		last_error = $lastError, failure_count = $failures`
	vars := map[string]any{
		"rid":       statusRecordID(status.AccountID, status.BusinessDate),
		"account":   status.AccountID,
		"date":      status.BusinessDate,
		"status":    status.Status,
		"reason":    status.Reason,
		"started":   status.StartedAt,
		"completed": status.CompletedAt,
		"count":     status.PositionCount,
		"lastError": status.LastError,
		"failures":  status.FailureCount,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to set EOD status: %w", err)
	}
	return nil
}

func (s *EodStore) ResetStatus(ctx context.Context, accountID, businessDate string) error {
	sql := "DELETE $rid"
	vars := map[string]any{"rid": statusRecordID(accountID, businessDate)}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to reset EOD status: %w", err)
	}
	return nil
}

func (s *EodStore) ListStatusHistory(ctx context.Context, accountID string, limit int) ([]*models.EodStatus, error) {
	if limit <= 0 {
		limit = 30
	}
	sql := "SELECT " + statusSelectFields + " FROM eod_status WHERE account_id = $account ORDER BY business_date DESC LIMIT $limit"
	vars := map[string]any{"account": accountID, "limit": limit}

	results, err := surrealdb.Query[[]models.EodStatus](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list EOD history: %w", err)
	}

	var history []*models.EodStatus
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			history = append(history, &(*results)[0].Result[i])
		}
	}
	return history, nil
}

func (s *EodStore) CountCompleted(ctx context.Context, accountIDs []string, businessDate string) (int, error) {
	if len(accountIDs) == 0 {
		return 0, nil
	}

	sql := `SELECT count() AS cnt FROM eod_status
		WHERE account_id IN $accounts AND business_date = $date AND status = $completed GROUP ALL`
	vars := map[string]any{
		"accounts":  accountIDs,
		"date":      businessDate,
		"completed": models.EodCompleted,
	}

	type countResult struct {
		Cnt int `json:"cnt"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to count completed accounts: %w", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Cnt, nil
	}
	return 0, nil
}

func (s *EodStore) GetSnapshotHash(ctx context.Context, accountID, businessDate string) (*models.SnapshotHash, error) {
	sql := "SELECT " + hashSelectFields + " FROM snapshot_hashes WHERE account_id = $account AND business_date = $date LIMIT 1"
	vars := map[string]any{"account": accountID, "date": businessDate}

	results, err := surrealdb.Query[[]models.SnapshotHash](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot hash: %w", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}
	return nil, nil
}

func (s *EodStore) SaveSnapshotHash(ctx context.Context, hash *models.SnapshotHash) error {
	if hash.StoredAt.IsZero() {
		hash.StoredAt = time.Now()
	}

	sql := `UPSERT $rid SET
		account_id = $account, business_date = $date, content_hash = $hash,
		position_count = $count, total_quantity = $quantity,
		total_market_value = $marketValue, stored_at = $storedAt`
	vars := map[string]any{
		"rid":         hashRecordID(hash.AccountID, hash.BusinessDate),
		"account":     hash.AccountID,
		"date":        hash.BusinessDate,
		"hash":        hash.ContentHash,
		"count":       hash.PositionCount,
		"quantity":    hash.TotalQuantity,
		"marketValue": hash.TotalMarketValue,
		"storedAt":    hash.StoredAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save snapshot hash: %w", err)
	}
	return nil
}

func (s *EodStore) DeleteSnapshotHash(ctx context.Context, accountID, businessDate string) error {
	sql := "DELETE $rid"
	vars := map[string]any{"rid": hashRecordID(accountID, businessDate)}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to delete snapshot hash: %w", err)
	}
	return nil
}

// Compile-time check
var _ interfaces.EodStore = (*EodStore)(nil)
