package surrealdb

import (
	"context"
	"testing"

	"github.com/bobmcallan/tally/internal/models"
)

func TestAccountUpsertAndListing(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	store := m.refDataStore

	accounts := []*models.Account{
		{AccountID: "ACC-002", ClientID: "CLI-1", BaseCurrency: "USD"},
		{AccountID: "ACC-001", ClientID: "CLI-1", BaseCurrency: "USD"},
		{AccountID: "ACC-003", ClientID: "CLI-2", BaseCurrency: "EUR"},
	}
	for _, a := range accounts {
		if err := store.UpsertAccount(ctx, a); err != nil {
			t.Fatalf("UpsertAccount failed: %v", err)
		}
	}
	// Upserting again must not duplicate.
	if err := store.UpsertAccount(ctx, &models.Account{AccountID: "ACC-001", ClientID: "CLI-1", BaseCurrency: "GBP"}); err != nil {
		t.Fatalf("UpsertAccount failed: %v", err)
	}

	ids, err := store.ListAccountIDs(ctx)
	if err != nil {
		t.Fatalf("ListAccountIDs failed: %v", err)
	}
	if len(ids) != 3 || ids[0] != "ACC-001" || ids[2] != "ACC-003" {
		t.Errorf("Unexpected account ids: %v", ids)
	}

	clientAccounts, err := store.ListClientAccounts(ctx, "CLI-1")
	if err != nil {
		t.Fatalf("ListClientAccounts failed: %v", err)
	}
	if len(clientAccounts) != 2 {
		t.Errorf("Expected 2 accounts for CLI-1, got %v", clientAccounts)
	}

	got, err := store.GetAccount(ctx, "ACC-001")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if got == nil || got.BaseCurrency != "GBP" {
		t.Errorf("Upsert did not replace the account: %+v", got)
	}

	none, err := store.GetAccount(ctx, "ACC-404")
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if none != nil {
		t.Errorf("Expected nil for unknown account, got %+v", none)
	}
}

func TestProductUpsert(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	store := m.refDataStore

	product := &models.Product{
		ProductID:  "PROD-1",
		Ticker:     "AAPL",
		AssetClass: "EQUITY",
		IssueCcy:   "USD",
		SettleCcy:  "USD",
	}
	if err := store.UpsertProduct(ctx, product); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}
	// Second upsert with the same id must not error.
	product.Ticker = "AAPL.O"
	if err := store.UpsertProduct(ctx, product); err != nil {
		t.Fatalf("UpsertProduct failed: %v", err)
	}
}

func TestHolidayCalendarByCountry(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()
	store := m.refDataStore

	holidays := []*models.Holiday{
		{Country: "US", Date: "2026-12-25"},
		{Country: "US", Date: "2026-07-03"},
		{Country: "AU", Date: "2026-01-26"},
	}
	for _, h := range holidays {
		if err := store.UpsertHoliday(ctx, h); err != nil {
			t.Fatalf("UpsertHoliday failed: %v", err)
		}
	}
	// Duplicate upsert is a no-op.
	if err := store.UpsertHoliday(ctx, &models.Holiday{Country: "US", Date: "2026-12-25"}); err != nil {
		t.Fatalf("UpsertHoliday failed: %v", err)
	}

	us, err := store.ListHolidays(ctx, "US")
	if err != nil {
		t.Fatalf("ListHolidays failed: %v", err)
	}
	if len(us) != 2 {
		t.Errorf("Expected 2 US holidays, got %v", us)
	}

	au, err := store.ListHolidays(ctx, "AU")
	if err != nil {
		t.Fatalf("ListHolidays failed: %v", err)
	}
	if len(au) != 1 || au[0] != "2026-01-26" {
		t.Errorf("Expected one AU holiday, got %v", au)
	}
}
