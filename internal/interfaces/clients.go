package interfaces

import (
	"context"

	"github.com/bobmcallan/tally/internal/models"
)

// PortfolioManagerClient fetches authoritative position snapshots from the
// upstream Portfolio Manager. Implementations absorb transient faults;
// fallbacks surface as snapshot values (STALE_CACHE / UNAVAILABLE), not
// errors. Callers must inspect Snapshot.Status.
type PortfolioManagerClient interface {
	FetchSnapshot(ctx context.Context, accountID, businessDate string) (*models.Snapshot, error)
}

// EventPublisher publishes outbound records with at-least-once semantics.
// Keys preserve per-entity ordering via partitioning.
type EventPublisher interface {
	PublishChange(ctx context.Context, event *models.PositionChangeEvent) error
	PublishSignOff(ctx context.Context, event *models.ClientSignOffEvent) error
	PublishAlert(ctx context.Context, alert *models.Alert) error
}

// DLQReplayer drains a dead-letter topic back to its origin topic.
type DLQReplayer interface {
	// Replay re-publishes <originalTopic>.DLT records to originalTopic,
	// preserving keys, committing offsets only after each full batch.
	// Returns the number of records replayed.
	Replay(ctx context.Context, originalTopic string) (int, error)
}
