package models

import "time"

// AccountRunState is the per-account lifecycle inside an orchestrated run.
type AccountRunState string

const (
	RunPending    AccountRunState = "PENDING"
	RunInProgress AccountRunState = "IN_PROGRESS"
	RunCompleted  AccountRunState = "COMPLETED"
	RunFailed     AccountRunState = "FAILED"
	RunSkipped    AccountRunState = "SKIPPED"
)

// Failure reason recorded when the per-account deadline fires.
const RunReasonTimeout = "TIMEOUT"

// AccountRun is one account's progress entry in a run.
type AccountRun struct {
	AccountID  string          `json:"account_id"`
	State      AccountRunState `json:"state"`
	StartedAt  time.Time       `json:"started_at,omitempty"`
	FinishedAt time.Time       `json:"finished_at,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// RunProgress is a non-blocking point-in-time view of an orchestrated run.
type RunProgress struct {
	BusinessDate string        `json:"business_date"`
	Total        int           `json:"total"`
	Pending      int           `json:"pending"`
	InProgress   int           `json:"in_progress"`
	Completed    int           `json:"completed"`
	Failed       int           `json:"failed"`
	Skipped      int           `json:"skipped"`
	Elapsed      time.Duration `json:"elapsed"`
	EstimatedETA time.Duration `json:"estimated_eta"`
	Accounts     []AccountRun  `json:"accounts,omitempty"`
}

// RunResult is the terminal outcome of an orchestrated run.
type RunResult struct {
	BusinessDate string            `json:"business_date"`
	Total        int               `json:"total"`
	Completed    int               `json:"completed"`
	Failed       int               `json:"failed"`
	Skipped      int               `json:"skipped"`
	Unprocessed  int               `json:"unprocessed"` // PENDING or IN_PROGRESS at deadline
	TimedOut     bool              `json:"timed_out"`
	Elapsed      time.Duration     `json:"elapsed"`
	Errors       map[string]string `json:"errors,omitempty"` // account id -> error
}
