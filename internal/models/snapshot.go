package models

// SnapshotStatus reflects the health of an upstream snapshot fetch.
type SnapshotStatus string

const (
	SnapshotAvailable   SnapshotStatus = "AVAILABLE"
	SnapshotUnavailable SnapshotStatus = "UNAVAILABLE"
	SnapshotStaleCache  SnapshotStatus = "STALE_CACHE"
	SnapshotError       SnapshotStatus = "ERROR"
)

// Snapshot is the in-flight position snapshot returned by the Portfolio
// Manager. It is never stored as-is; positions are staged into a batch.
type Snapshot struct {
	AccountID    string             `json:"account_id"`
	ClientID     string             `json:"client_id"`
	BusinessDate string             `json:"business_date"`
	Status       SnapshotStatus     `json:"status"`
	Positions    []SnapshotPosition `json:"positions"`
}

// Loadable reports whether the snapshot carries authoritative data the EOD
// engine may load. Stale-cache snapshots are readable but never loaded.
func (s *Snapshot) Loadable() bool {
	return s.Status == SnapshotAvailable
}

// SnapshotPosition is one position as reported by the upstream.
type SnapshotPosition struct {
	ProductID    string  `json:"product_id"`
	Ticker       string  `json:"ticker,omitempty"`
	PositionType string  `json:"position_type,omitempty"`
	AssetClass   string  `json:"asset_class,omitempty"`
	BusinessDate string  `json:"business_date"`
	Quantity     float64 `json:"quantity"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	MarketValue  float64 `json:"market_value,omitempty"`
	IssueCcy     string  `json:"issue_currency,omitempty"`
	SettleCcy    string  `json:"settlement_currency,omitempty"`
}
