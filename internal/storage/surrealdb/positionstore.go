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

// batchSelectFields lists the batch columns to select for struct mapping.
const batchSelectFields = "account_id, batch_id, business_date, status, created_at, activated_at, archived_at, position_count"

// positionSelectFields lists the position columns to select for struct mapping.
const positionSelectFields = "account_id, product_id, business_date, batch_id, quantity, price, currency, market_value, source, system_from, system_to"

// PositionStore implements interfaces.PositionStore using SurrealDB.
//
// Staged position rows are inserted with an empty bitemporal interval
// (system_from = system_to = the far-future sentinel) so they are invisible
// to every reader; activation opens the interval in the same transaction
// that archives the previous ACTIVE batch.
type PositionStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewPositionStore creates a new PositionStore.
func NewPositionStore(db *surrealdb.DB, logger *common.Logger) *PositionStore {
	return &PositionStore{db: db, logger: logger}
}

func batchRecordID(accountID string, batchID int64) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("batches", fmt.Sprintf("%s_%d", accountID, batchID))
}

// CreateBatch allocates the next batch id for the account and inserts a
// STAGING batch row. Batch ids are strictly increasing per account. The EOD
// engine is the single writer per account, so the two-step allocation cannot
// race with itself; a duplicate record id from a concurrent operator trigger
// fails the UPSERT-free CREATE below rather than silently overwriting.
func (s *PositionStore) CreateBatch(ctx context.Context, accountID, businessDate string) (int64, error) {
	sql := "SELECT math::max(batch_id) AS max_id FROM batches WHERE account_id = $account GROUP ALL"
	vars := map[string]any{"account": accountID}

	type maxResult struct {
		MaxID int64 `json:"max_id"`
	}

	results, err := surrealdb.Query[[]maxResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate batch id: %w", err)
	}

	var next int64 = 1
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		next = (*results)[0].Result[0].MaxID + 1
	}

	createSQL := `CREATE $rid SET
		account_id = $account, batch_id = $batch_id, business_date = $date,
		status = $staging, created_at = $now, position_count = 0`
	createVars := map[string]any{
		"rid":      batchRecordID(accountID, next),
		"account":  accountID,
		"batch_id": next,
		"date":     businessDate,
		"staging":  models.BatchStaging,
		"now":      time.Now(),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, createSQL, createVars); err != nil {
		return 0, fmt.Errorf("failed to create staging batch: %w", err)
	}

	return next, nil
}

// InsertPositions bulk-inserts staged rows in a single round trip.
// Rows carry the empty bitemporal interval until activation.
func (s *PositionStore) InsertPositions(ctx context.Context, accountID string, batchID int64, positions []models.SnapshotPosition, source models.PositionSource) error {
	if len(positions) == 0 {
		return nil
	}

	rows := make([]map[string]any, 0, len(positions))
	for _, p := range positions {
		mv := p.MarketValue
		if mv == 0 {
			mv = p.Quantity * p.Price
		}
		rows = append(rows, map[string]any{
			"account_id":    accountID,
			"product_id":    p.ProductID,
			"business_date": p.BusinessDate,
			"batch_id":      batchID,
			"quantity":      p.Quantity,
			"price":         p.Price,
			"currency":      p.Currency,
			"market_value":  mv,
			"source":        source,
			"system_from":   models.SystemToMax,
			"system_to":     models.SystemToMax,
		})
	}

	sql := `BEGIN TRANSACTION;
		INSERT INTO positions $rows;
		UPDATE $rid SET position_count = $count;
		COMMIT TRANSACTION;`
	vars := map[string]any{
		"rows":  rows,
		"rid":   batchRecordID(accountID, batchID),
		"count": len(rows),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to insert positions: %w", err)
	}
	return nil
}

// CountBatchPositions returns the staged row count and how many landed with
// an empty product id. Used for pre-activation validation.
func (s *PositionStore) CountBatchPositions(ctx context.Context, accountID string, batchID int64) (int, int, error) {
	sql := `SELECT count() AS total, count(product_id = NONE OR product_id = "") AS nulls
		FROM positions WHERE account_id = $account AND batch_id = $batch GROUP ALL`
	vars := map[string]any{"account": accountID, "batch": batchID}

	type countResult struct {
		Total int `json:"total"`
		Nulls int `json:"nulls"`
	}

	results, err := surrealdb.Query[[]countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count batch positions: %w", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		r := (*results)[0].Result[0]
		return r.Total, r.Nulls, nil
	}
	return 0, 0, nil
}

// ActivateBatch atomically archives the current ACTIVE batch (closing its
// position rows) and flips the STAGING batch to ACTIVE (opening its rows).
// All updates share one timestamp so a reader at any instant sees exactly
// one batch in force.
func (s *PositionStore) ActivateBatch(ctx context.Context, accountID string, batchID int64) error {
	batch, err := s.GetBatch(ctx, accountID, batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("batch %d for account %s: %w", batchID, accountID, models.ErrNotFound)
	}
	if batch.Status != models.BatchStaging {
		return fmt.Errorf("batch %d for account %s is %s, not STAGING: %w", batchID, accountID, batch.Status, models.ErrConcurrencyConflict)
	}

	now := time.Now()
	sql := `BEGIN TRANSACTION;
		UPDATE positions SET system_to = $now
			WHERE account_id = $account
			AND batch_id IN (SELECT VALUE batch_id FROM batches WHERE account_id = $account AND status = $active);
		UPDATE batches SET status = $archived, archived_at = $now
			WHERE account_id = $account AND status = $active;
		UPDATE positions SET system_from = $now, system_to = $maxTime
			WHERE account_id = $account AND batch_id = $batch;
		UPDATE $rid SET status = $active, activated_at = $now WHERE status = $staging;
		COMMIT TRANSACTION;`
	vars := map[string]any{
		"rid":      batchRecordID(accountID, batchID),
		"account":  accountID,
		"batch":    batchID,
		"now":      now,
		"maxTime":  models.SystemToMax,
		"active":   models.BatchActive,
		"archived": models.BatchArchived,
		"staging":  models.BatchStaging,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to activate batch: %w", err)
	}

	// Verify the swap landed; a concurrent mutation of the same account is a
	// conflict, never a silent partial state.
	after, err := s.GetBatch(ctx, accountID, batchID)
	if err != nil {
		return err
	}
	if after == nil || after.Status != models.BatchActive {
		return fmt.Errorf("batch %d for account %s did not activate: %w", batchID, accountID, models.ErrConcurrencyConflict)
	}
	return nil
}

// RollbackBatch flips the current ACTIVE batch to ROLLED_BACK and
// re-activates the most recent ARCHIVED batch, reopening its position rows.
// Returns false when there is no ARCHIVED batch to fall back to.
func (s *PositionStore) RollbackBatch(ctx context.Context, accountID, businessDate string) (bool, error) {
	active, err := s.GetActiveBatch(ctx, accountID, businessDate)
	if err != nil {
		return false, err
	}
	if active == nil {
		return false, fmt.Errorf("no active batch for account %s on %s: %w", accountID, businessDate, models.ErrNotFound)
	}

	sql := "SELECT " + batchSelectFields + ` FROM batches
		WHERE account_id = $account AND status = $archived
		ORDER BY batch_id DESC LIMIT 1`
	vars := map[string]any{"account": accountID, "archived": models.BatchArchived}

	results, err := surrealdb.Query[[]models.Batch](ctx, s.db, sql, vars)
	if err != nil {
		return false, fmt.Errorf("failed to find archived batch: %w", err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return false, nil
	}
	prior := (*results)[0].Result[0]

	now := time.Now()
	txSQL := `BEGIN TRANSACTION;
		UPDATE positions SET system_to = $now WHERE account_id = $account AND batch_id = $activeBatch;
		UPDATE $activeRid SET status = $rolledBack, archived_at = $now WHERE status = $active;
		UPDATE positions SET system_from = $now, system_to = $maxTime WHERE account_id = $account AND batch_id = $priorBatch;
		UPDATE $priorRid SET status = $active, activated_at = $now WHERE status = $archived;
		COMMIT TRANSACTION;`
	txVars := map[string]any{
		"account":     accountID,
		"activeBatch": active.BatchID,
		"activeRid":   batchRecordID(accountID, active.BatchID),
		"priorBatch":  prior.BatchID,
		"priorRid":    batchRecordID(accountID, prior.BatchID),
		"now":         now,
		"maxTime":     models.SystemToMax,
		"active":      models.BatchActive,
		"archived":    models.BatchArchived,
		"rolledBack":  models.BatchRolledBack,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, txSQL, txVars); err != nil {
		return false, fmt.Errorf("failed to roll back batch: %w", err)
	}

	s.logger.Info().
		Str("account", accountID).
		Int64("rolled_back", active.BatchID).
		Int64("reactivated", prior.BatchID).
		Msg("Batch rolled back")

	return true, nil
}

// CleanupBatches keeps the ACTIVE batch plus the keep most recent ARCHIVED
// batches; older ARCHIVED batches and their rows are deleted. ROLLED_BACK
// batches are retained for explicit purge.
func (s *PositionStore) CleanupBatches(ctx context.Context, accountID string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	sql := "SELECT " + batchSelectFields + ` FROM batches
		WHERE account_id = $account AND status = $archived
		ORDER BY batch_id DESC`
	vars := map[string]any{"account": accountID, "archived": models.BatchArchived}

	results, err := surrealdb.Query[[]models.Batch](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to list archived batches: %w", err)
	}

	var archived []models.Batch
	if results != nil && len(*results) > 0 {
		archived = (*results)[0].Result
	}
	if len(archived) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, b := range archived[keep:] {
		delSQL := `BEGIN TRANSACTION;
			DELETE positions WHERE account_id = $account AND batch_id = $batch;
			DELETE $rid;
			COMMIT TRANSACTION;`
		delVars := map[string]any{
			"account": accountID,
			"batch":   b.BatchID,
			"rid":     batchRecordID(accountID, b.BatchID),
		}
		if _, err := surrealdb.Query[any](ctx, s.db, delSQL, delVars); err != nil {
			return deleted, fmt.Errorf("failed to delete batch %d: %w", b.BatchID, err)
		}
		deleted++
	}

	return deleted, nil
}

// PurgeBatchesBefore deletes ARCHIVED and ROLLED_BACK batches archived
// before the cutoff, together with their position rows.
func (s *PositionStore) PurgeBatchesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	sql := "SELECT " + batchSelectFields + ` FROM batches
		WHERE status IN [$archived, $rolledBack] AND archived_at < $cutoff`
	vars := map[string]any{
		"archived":   models.BatchArchived,
		"rolledBack": models.BatchRolledBack,
		"cutoff":     cutoff,
	}

	results, err := surrealdb.Query[[]models.Batch](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to list purgeable batches: %w", err)
	}

	var stale []models.Batch
	if results != nil && len(*results) > 0 {
		stale = (*results)[0].Result
	}

	purged := 0
	for _, b := range stale {
		delSQL := `BEGIN TRANSACTION;
			DELETE positions WHERE account_id = $account AND batch_id = $batch;
			DELETE $rid;
			COMMIT TRANSACTION;`
		delVars := map[string]any{
			"account": b.AccountID,
			"batch":   b.BatchID,
			"rid":     batchRecordID(b.AccountID, b.BatchID),
		}
		if _, err := surrealdb.Query[any](ctx, s.db, delSQL, delVars); err != nil {
			return purged, fmt.Errorf("failed to purge batch %d: %w", b.BatchID, err)
		}
		purged++
	}

	return purged, nil
}

func (s *PositionStore) GetBatch(ctx context.Context, accountID string, batchID int64) (*models.Batch, error) {
	sql := "SELECT " + batchSelectFields + " FROM batches WHERE account_id = $account AND batch_id = $batch LIMIT 1"
	vars := map[string]any{"account": accountID, "batch": batchID}
	return s.queryOneBatch(ctx, sql, vars)
}

// GetActiveBatch returns the ACTIVE batch for the account and business date,
// or nil when none exists.
func (s *PositionStore) GetActiveBatch(ctx context.Context, accountID, businessDate string) (*models.Batch, error) {
	sql := "SELECT " + batchSelectFields + ` FROM batches
		WHERE account_id = $account AND business_date = $date AND status = $active LIMIT 1`
	vars := map[string]any{"account": accountID, "date": businessDate, "active": models.BatchActive}
	return s.queryOneBatch(ctx, sql, vars)
}

func (s *PositionStore) ListBatches(ctx context.Context, accountID string, limit int) ([]*models.Batch, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := "SELECT " + batchSelectFields + " FROM batches WHERE account_id = $account ORDER BY batch_id DESC LIMIT $limit"
	vars := map[string]any{"account": accountID, "limit": limit}

	results, err := surrealdb.Query[[]models.Batch](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}

	var batches []*models.Batch
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			batches = append(batches, &(*results)[0].Result[i])
		}
	}
	return batches, nil
}

// GetActivePositions returns the position rows of the ACTIVE batch for the
// business date. STAGING rows are invisible: their bitemporal interval is
// empty until activation.
func (s *PositionStore) GetActivePositions(ctx context.Context, accountID, businessDate string) ([]*models.Position, error) {
	batch, err := s.GetActiveBatch(ctx, accountID, businessDate)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		return nil, nil
	}
	return s.batchPositions(ctx, accountID, batch.BatchID)
}

// GetPositionsByDate returns positions for the date from the ACTIVE batch,
// falling back to the most recent ARCHIVED batch when none is active.
func (s *PositionStore) GetPositionsByDate(ctx context.Context, accountID, businessDate string) ([]*models.Position, error) {
	batch, err := s.GetActiveBatch(ctx, accountID, businessDate)
	if err != nil {
		return nil, err
	}
	if batch == nil {
		sql := "SELECT " + batchSelectFields + ` FROM batches
			WHERE account_id = $account AND business_date = $date AND status = $archived
			ORDER BY batch_id DESC LIMIT 1`
		vars := map[string]any{"account": accountID, "date": businessDate, "archived": models.BatchArchived}
		batch, err = s.queryOneBatch(ctx, sql, vars)
		if err != nil {
			return nil, err
		}
	}
	if batch == nil {
		return nil, nil
	}
	return s.batchPositions(ctx, accountID, batch.BatchID)
}

// GetQuantityAsOf returns the quantity of the row in force at systemTime for
// the product on the business date.
func (s *PositionStore) GetQuantityAsOf(ctx context.Context, accountID, productID, businessDate string, systemTime time.Time) (float64, error) {
	sql := "SELECT " + positionSelectFields + ` FROM positions
		WHERE account_id = $account AND product_id = $product AND business_date = $date
		AND system_from <= $at AND system_to > $at LIMIT 1`
	vars := map[string]any{
		"account": accountID,
		"product": productID,
		"date":    businessDate,
		"at":      systemTime,
	}

	results, err := surrealdb.Query[[]models.Position](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to query position as of: %w", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].Quantity, nil
	}
	return 0, fmt.Errorf("no position for %s/%s on %s: %w", accountID, productID, businessDate, models.ErrNotFound)
}

// AdjustPosition applies an intraday mutation through the bitemporal
// close-and-insert path: the open row is closed and a new row inserted in
// one transaction. Batches are never created or rotated here.
func (s *PositionStore) AdjustPosition(ctx context.Context, accountID, productID, businessDate string, quantity, price float64, source models.PositionSource) error {
	batch, err := s.GetActiveBatch(ctx, accountID, businessDate)
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("no active batch for account %s on %s: %w", accountID, businessDate, models.ErrNotFound)
	}

	current, err := s.currentPosition(ctx, accountID, productID, businessDate)
	if err != nil {
		return err
	}

	currency := ""
	if current != nil {
		currency = current.Currency
	}

	now := time.Now()
	sql := `BEGIN TRANSACTION;
		UPDATE positions SET system_to = $now
			WHERE account_id = $account AND product_id = $product AND business_date = $date
			AND system_from <= $now AND system_to > $now;
		INSERT INTO positions {
			account_id: $account, product_id: $product, business_date: $date,
			batch_id: $batch, quantity: $quantity, price: $price, currency: $currency,
			market_value: $marketValue, source: $source, system_from: $now, system_to: $maxTime
		};
		COMMIT TRANSACTION;`
	vars := map[string]any{
		"account":     accountID,
		"product":     productID,
		"date":        businessDate,
		"batch":       batch.BatchID,
		"quantity":    quantity,
		"price":       price,
		"currency":    currency,
		"marketValue": quantity * price,
		"source":      source,
		"now":         now,
		"maxTime":     models.SystemToMax,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to adjust position: %w", err)
	}
	return nil
}

// batchPositions returns the open rows of one batch.
func (s *PositionStore) batchPositions(ctx context.Context, accountID string, batchID int64) ([]*models.Position, error) {
	sql := "SELECT " + positionSelectFields + ` FROM positions
		WHERE account_id = $account AND batch_id = $batch AND system_from <= $now AND system_to > $now`
	vars := map[string]any{"account": accountID, "batch": batchID, "now": time.Now()}

	results, err := surrealdb.Query[[]models.Position](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch positions: %w", err)
	}

	var positions []*models.Position
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			positions = append(positions, &(*results)[0].Result[i])
		}
	}
	return positions, nil
}

func (s *PositionStore) currentPosition(ctx context.Context, accountID, productID, businessDate string) (*models.Position, error) {
	sql := "SELECT " + positionSelectFields + ` FROM positions
		WHERE account_id = $account AND product_id = $product AND business_date = $date
		AND system_from <= $now AND system_to > $now LIMIT 1`
	vars := map[string]any{"account": accountID, "product": productID, "date": businessDate, "now": time.Now()}

	results, err := surrealdb.Query[[]models.Position](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query current position: %w", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}
	return nil, nil
}

func (s *PositionStore) queryOneBatch(ctx context.Context, sql string, vars map[string]any) (*models.Batch, error) {
	results, err := surrealdb.Query[[]models.Batch](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch: %w", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}
	return nil, nil
}

// Compile-time check
var _ interfaces.PositionStore = (*PositionStore)(nil)
