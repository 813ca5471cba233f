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

// RefDataStore implements interfaces.RefDataStore using SurrealDB.
// Accounts and products are upserted from snapshots; holidays are seeded by
// operators and read by the calendar service.
type RefDataStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewRefDataStore creates a new RefDataStore.
func NewRefDataStore(db *surrealdb.DB, logger *common.Logger) *RefDataStore {
	return &RefDataStore{db: db, logger: logger}
}

func (s *RefDataStore) UpsertAccount(ctx context.Context, account *models.Account) error {
	sql := `UPSERT $rid SET
		account_id = $account, client_id = $client, base_currency = $currency, updated_at = $now`
	vars := map[string]any{
		"rid":      surrealmodels.NewRecordID("accounts", account.AccountID),
		"account":  account.AccountID,
		"client":   account.ClientID,
		"currency": account.BaseCurrency,
		"now":      time.Now(),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

func (s *RefDataStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	sql := "SELECT account_id, client_id, base_currency, updated_at FROM accounts WHERE account_id = $account LIMIT 1"
	vars := map[string]any{"account": accountID}

	results, err := surrealdb.Query[[]models.Account](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return &(*results)[0].Result[0], nil
	}
	return nil, nil
}

func (s *RefDataStore) ListAccountIDs(ctx context.Context) ([]string, error) {
	sql := "SELECT VALUE account_id FROM accounts ORDER BY account_id"

	results, err := surrealdb.Query[[]string](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return nil, nil
}

func (s *RefDataStore) ListClientAccounts(ctx context.Context, clientID string) ([]string, error) {
	sql := "SELECT VALUE account_id FROM accounts WHERE client_id = $client ORDER BY account_id"
	vars := map[string]any{"client": clientID}

	results, err := surrealdb.Query[[]string](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list client accounts: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return nil, nil
}

func (s *RefDataStore) UpsertProduct(ctx context.Context, product *models.Product) error {
	sql := `UPSERT $rid SET
		product_id = $product, ticker = $ticker, asset_class = $assetClass,
		issue_currency = $issueCcy, settlement_currency = $settleCcy, updated_at = $now`
	vars := map[string]any{
		"rid":        surrealmodels.NewRecordID("products", product.ProductID),
		"product":    product.ProductID,
		"ticker":     product.Ticker,
		"assetClass": product.AssetClass,
		"issueCcy":   product.IssueCcy,
		"settleCcy":  product.SettleCcy,
		"now":        time.Now(),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert product: %w", err)
	}
	return nil
}

func (s *RefDataStore) ListHolidays(ctx context.Context, country string) ([]string, error) {
	sql := "SELECT VALUE holiday_date FROM holidays WHERE country = $country"
	vars := map[string]any{"country": country}

	results, err := surrealdb.Query[[]string](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list holidays: %w", err)
	}

	if results != nil && len(*results) > 0 {
		return (*results)[0].Result, nil
	}
	return nil, nil
}

func (s *RefDataStore) UpsertHoliday(ctx context.Context, holiday *models.Holiday) error {
	sql := "UPSERT $rid SET holiday_date = $date, country = $country"
	vars := map[string]any{
		"rid":     surrealmodels.NewRecordID("holidays", holiday.Country+"_"+holiday.Date),
		"date":    holiday.Date,
		"country": holiday.Country,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to upsert holiday: %w", err)
	}
	return nil
}

// Compile-time check
var _ interfaces.RefDataStore = (*RefDataStore)(nil)
