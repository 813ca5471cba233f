package interfaces

import (
	"context"

	"github.com/bobmcallan/tally/internal/models"
)

// EodService runs the per-account EOD pipeline.
type EodService interface {
	// ProcessEod executes the idempotent EOD flow for one account and
	// business date, returning the final status row.
	ProcessEod(ctx context.Context, accountID, businessDate string) (*models.EodStatus, error)

	// ProcessLateEod is ProcessEod for a past business date, rejected when
	// older than the configured late window.
	ProcessLateEod(ctx context.Context, accountID, businessDate string) (*models.EodStatus, error)

	// Rollback re-activates the prior batch. Operator-only.
	Rollback(ctx context.Context, accountID, businessDate string) (bool, error)

	// Reset clears the EOD status row and stored content hash. Positions are
	// untouched. Operator-only.
	Reset(ctx context.Context, accountID, businessDate string) error
}

// OrchestratorService fans ProcessEod out over many accounts.
type OrchestratorService interface {
	ProcessAll(ctx context.Context, accountIDs []string, businessDate string) (*models.RunResult, error)

	// Progress returns a non-blocking view of the run for a business date,
	// or nil when no run is known.
	Progress(businessDate string) *models.RunProgress
}

// ValidationService applies the validation rule bundle to snapshots.
type ValidationService interface {
	// Validate checks a snapshot; previous holds yesterday's active
	// positions for day-over-day rules and may be nil.
	Validate(snapshot *models.Snapshot, previous []*models.Position) *models.ValidationResult

	// ContentHash computes the canonical SHA-256 content hash of a position
	// set; invariant under permutation of the input.
	ContentHash(positions []models.SnapshotPosition) string
}

// ReconService compares day-over-day positions.
type ReconService interface {
	Reconcile(ctx context.Context, accountID, businessDate string) (*models.ReconReport, error)
	ReconcileAll(ctx context.Context, businessDate string) ([]*models.ReconReport, error)

	// ComputeDiff is a pure comparison; no storage access, no alerting.
	ComputeDiff(accountID string, current, previous []*models.Position) *models.DiffReport
}

// CalendarService answers business-day questions from the holiday calendar.
type CalendarService interface {
	IsBusinessDay(date string) bool

	// PreviousBusinessDay returns the closest business day strictly before
	// the given date.
	PreviousBusinessDay(date string) string

	// Refresh reloads the holiday set from storage.
	Refresh(ctx context.Context) error
}
