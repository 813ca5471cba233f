package models

import "time"

// Account is a back-office account owned by a client.
// Created and updated by reference-data upserts derived from snapshots.
type Account struct {
	AccountID    string    `json:"account_id"`
	ClientID     string    `json:"client_id"`
	BaseCurrency string    `json:"base_currency"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Product is a traded instrument referenced by positions.
type Product struct {
	ProductID  string    `json:"product_id"`
	Ticker     string    `json:"ticker,omitempty"`
	AssetClass string    `json:"asset_class,omitempty"`
	IssueCcy   string    `json:"issue_currency,omitempty"`
	SettleCcy  string    `json:"settlement_currency,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Holiday is one non-business date for a country calendar.
type Holiday struct {
	Date    string `json:"holiday_date"`
	Country string `json:"country"`
}
