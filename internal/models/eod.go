package models

import "time"

// EodRunStatus is the per (account, business date) EOD state.
type EodRunStatus string

const (
	EodNotStarted EodRunStatus = "NOT_STARTED"
	EodInProgress EodRunStatus = "IN_PROGRESS"
	EodCompleted  EodRunStatus = "COMPLETED"
	EodFailed     EodRunStatus = "FAILED"
	EodSkipped    EodRunStatus = "SKIPPED"
)

// Skip reasons recorded on EodStatus.Reason.
const (
	SkipReasonDuplicate   = "DUPLICATE"
	SkipReasonNonBusiness = "NON_BUSINESS_DAY"
)

// EodStatus tracks one account's EOD run for a business date.
// COMPLETED is a fixed point: it is never overwritten unless an operator
// explicitly resets the row.
type EodStatus struct {
	AccountID     string       `json:"account_id"`
	BusinessDate  string       `json:"business_date"`
	Status        EodRunStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	StartedAt     time.Time    `json:"started_at"`
	CompletedAt   time.Time    `json:"completed_at"`
	PositionCount int          `json:"position_count"`
	LastError     string       `json:"last_error,omitempty"`
	FailureCount  int          `json:"failure_count"` // consecutive failures, drives alert escalation
}

// SnapshotHash is the stored content hash used for duplicate detection.
type SnapshotHash struct {
	AccountID        string    `json:"account_id"`
	BusinessDate     string    `json:"business_date"`
	ContentHash      string    `json:"content_hash"`
	PositionCount    int       `json:"position_count"`
	TotalQuantity    float64   `json:"total_quantity"`
	TotalMarketValue float64   `json:"total_market_value"`
	StoredAt         time.Time `json:"stored_at"`
}
