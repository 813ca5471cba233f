package models

import "time"

// ReconSeverity classifies a reconciliation anomaly or report.
type ReconSeverity string

const (
	ReconOK       ReconSeverity = "OK"
	ReconWarning  ReconSeverity = "WARNING"
	ReconCritical ReconSeverity = "CRITICAL"
)

// Reconciliation anomaly types.
const (
	AnomalyValueChange = "VALUE_CHANGE"
	AnomalyCountChange = "COUNT_CHANGE"
	AnomalyMissingData = "MISSING_DATA"
)

// ReconAnomaly is one finding from day-over-day reconciliation.
type ReconAnomaly struct {
	Severity  ReconSeverity `json:"severity"`
	Type      string        `json:"type"`
	ProductID string        `json:"product_id,omitempty"`
	Message   string        `json:"message"`
}

// ReconReport is the day-over-day reconciliation result for one account.
// Status is the worst anomaly severity, or OK.
type ReconReport struct {
	AccountID      string         `json:"account_id"`
	BusinessDate   string         `json:"business_date"`
	PreviousDate   string         `json:"previous_date"`
	Status         ReconSeverity  `json:"status"`
	Anomalies      []ReconAnomaly `json:"anomalies,omitempty"`
	NewCount       int            `json:"new_count"`
	ClosedCount    int            `json:"closed_count"`
	IncreasedCount int            `json:"increased_count"`
	DecreasedCount int            `json:"decreased_count"`
	UnchangedCount int            `json:"unchanged_count"`
	ValueChangePct float64        `json:"value_change_pct"`
	CountChangePct float64        `json:"count_change_pct"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// DiffKind classifies a per-product position difference.
type DiffKind string

const (
	DiffNew       DiffKind = "NEW"
	DiffClosed    DiffKind = "CLOSED"
	DiffIncreased DiffKind = "INCREASED"
	DiffDecreased DiffKind = "DECREASED"
	DiffUnchanged DiffKind = "UNCHANGED"
	DiffPriceOnly DiffKind = "PRICE_ONLY"
)

// DiffEntry is one product's change between two position sets.
type DiffEntry struct {
	ProductID string   `json:"product_id"`
	Kind      DiffKind `json:"kind"`
	PrevQty   float64  `json:"prev_qty"`
	CurrQty   float64  `json:"curr_qty"`
	PrevPrice float64  `json:"prev_price"`
	CurrPrice float64  `json:"curr_price"`
	PctChange float64  `json:"pct_change"` // absolute percent change in market value
}

// DiffReport is a pure position comparison, sorted by |PctChange| descending.
type DiffReport struct {
	AccountID string      `json:"account_id"`
	Entries   []DiffEntry `json:"entries"`
}
