// Package models defines domain types for Tally
package models

import "time"

// PositionSource identifies how a position row entered the store.
type PositionSource string

const (
	SourceEOD          PositionSource = "MSPM_EOD"
	SourceIntraday     PositionSource = "INTRADAY"
	SourceManualUpload PositionSource = "MANUAL_UPLOAD"
	SourceUpload       PositionSource = "UPLOAD"
)

// BatchStatus is the lifecycle state of a position batch.
type BatchStatus string

const (
	BatchStaging    BatchStatus = "STAGING"
	BatchActive     BatchStatus = "ACTIVE"
	BatchArchived   BatchStatus = "ARCHIVED"
	BatchRolledBack BatchStatus = "ROLLED_BACK"
)

// SystemToMax is the sentinel far-future timestamp for open bitemporal rows.
var SystemToMax = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// Position is a bitemporal position row. Rows are never updated in place:
// a mutation closes the current row (system_to = now) and inserts a new one
// with system_from = now, system_to = SystemToMax.
type Position struct {
	AccountID    string         `json:"account_id"`
	ProductID    string         `json:"product_id"`
	BusinessDate string         `json:"business_date"`
	BatchID      int64          `json:"batch_id"`
	Quantity     float64        `json:"quantity"`
	Price        float64        `json:"price"`
	Currency     string         `json:"currency"`
	MarketValue  float64        `json:"market_value"`
	Source       PositionSource `json:"source"`
	SystemFrom   time.Time      `json:"system_from"`
	SystemTo     time.Time      `json:"system_to"`
}

// Current reports whether the row is the open bitemporal version.
func (p *Position) Current() bool {
	return p.SystemTo.After(time.Now())
}

// Batch is a versioned set of positions for an account and business date.
type Batch struct {
	AccountID     string      `json:"account_id"`
	BatchID       int64       `json:"batch_id"`
	BusinessDate  string      `json:"business_date"`
	Status        BatchStatus `json:"status"`
	CreatedAt     time.Time   `json:"created_at"`
	ActivatedAt   time.Time   `json:"activated_at"`
	ArchivedAt    time.Time   `json:"archived_at"`
	PositionCount int         `json:"position_count"`
}
