package models

import "time"

// Logical bus topics. Dead-letter topics follow the <topic>.DLT convention.
const (
	TopicPositionChange = "POSITION_CHANGE_EVENTS"
	TopicClientSignOff  = "CLIENT_REPORTING_SIGNOFF"
	TopicSystemAlerts   = "SYSTEM_ALERTS"
)

// DLTTopic returns the dead-letter topic for a topic.
func DLTTopic(topic string) string {
	return topic + ".DLT"
}

// Position change event types.
const (
	EventEodComplete    = "EOD_COMPLETE"
	EventIntradayUpdate = "INTRADAY_UPDATE"
	EventManualUpload   = "MANUAL_UPLOAD"
)

// PositionChangeEvent notifies downstream consumers that an account's
// positions changed. Keyed by account id to preserve per-account ordering.
type PositionChangeEvent struct {
	EventType     string    `json:"event_type"`
	AccountID     string    `json:"account_id"`
	ClientID      string    `json:"client_id"`
	BusinessDate  string    `json:"business_date"`
	PositionCount int       `json:"position_count"`
	Timestamp     time.Time `json:"timestamp"`
}

// ClientSignOffEvent is emitted once all of a client's accounts complete
// EOD for a business date. AccountCount is always the real completed count.
type ClientSignOffEvent struct {
	ClientID     string    `json:"client_id"`
	BusinessDate string    `json:"business_date"`
	AccountCount int       `json:"account_count"`
	Timestamp    time.Time `json:"timestamp"`
}

// AlertLevel classifies alert severity.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
	AlertPage     AlertLevel = "PAGE"
)

// Alert types emitted by the core.
const (
	AlertTypeEodFailed        = "EOD_FAILED"
	AlertTypeEodRollback      = "EOD_ROLLBACK"
	AlertTypePriceServiceDown = "PRICE_SERVICE_DOWN"
	AlertTypeUpstream         = "UPSTREAM_UNAVAILABLE"
	AlertTypeBreakerState     = "CIRCUIT_BREAKER_STATE"
	AlertTypePublishFailed    = "EVENT_PUBLISH_FAILED"
	AlertTypeRecon            = "RECONCILIATION"
)

// Alert is a system alert record published on TopicSystemAlerts.
type Alert struct {
	Level     AlertLevel `json:"level"`
	Source    string     `json:"source"`
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	EntityID  string     `json:"entity_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// EscalateFailure maps a consecutive-failure count to an alert level:
// WARNING below 3, CRITICAL at 3-4, PAGE at 5 or more.
func EscalateFailure(consecutive int) AlertLevel {
	switch {
	case consecutive >= 5:
		return AlertPage
	case consecutive >= 3:
		return AlertCritical
	default:
		return AlertWarning
	}
}
