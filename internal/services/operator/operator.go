// Package operator is the back-office facade: every operation an operator
// can trigger against the position loader, with the guard rails applied
// before touching the underlying services.
package operator

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Service exposes the operator operations.
type Service struct {
	positions    interfaces.PositionStore
	eodStore     interfaces.EodStore
	refdata      interfaces.RefDataStore
	engine       interfaces.EodService
	orchestrator interfaces.OrchestratorService
	validator    interfaces.ValidationService
	recon        interfaces.ReconService
	calendar     interfaces.CalendarService
	publisher    interfaces.EventPublisher
	replayer     interfaces.DLQReplayer
	upload       common.UploadConfig
	logger       *common.Logger
}

// NewService wires the operator facade.
func NewService(
	storage interfaces.StorageManager,
	engine interfaces.EodService,
	orchestrator interfaces.OrchestratorService,
	validator interfaces.ValidationService,
	recon interfaces.ReconService,
	calendar interfaces.CalendarService,
	publisher interfaces.EventPublisher,
	replayer interfaces.DLQReplayer,
	upload common.UploadConfig,
	logger *common.Logger,
) *Service {
	return &Service{
		positions:    storage.PositionStore(),
		eodStore:     storage.EodStore(),
		refdata:      storage.RefDataStore(),
		engine:       engine,
		orchestrator: orchestrator,
		validator:    validator,
		recon:        recon,
		calendar:     calendar,
		publisher:    publisher,
		replayer:     replayer,
		upload:       upload,
		logger:       logger,
	}
}

// TriggerEod runs EOD for one account. Past dates route through the late
// window check.
func (s *Service) TriggerEod(ctx context.Context, accountID, businessDate string) (*models.EodStatus, error) {
	if businessDate == "" {
		businessDate = common.Today()
	}
	if businessDate != common.Today() {
		return s.engine.ProcessLateEod(ctx, accountID, businessDate)
	}
	return s.engine.ProcessEod(ctx, accountID, businessDate)
}

// RunEodAll orchestrates EOD over every known account.
func (s *Service) RunEodAll(ctx context.Context, businessDate string) (*models.RunResult, error) {
	if businessDate == "" {
		businessDate = common.Today()
	}
	accountIDs, err := s.refdata.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	if len(accountIDs) == 0 {
		return nil, fmt.Errorf("no accounts registered: %w", models.ErrNotFound)
	}
	return s.orchestrator.ProcessAll(ctx, accountIDs, businessDate)
}

// GetStatus returns the EOD status row, or ErrNotFound.
func (s *Service) GetStatus(ctx context.Context, accountID, businessDate string) (*models.EodStatus, error) {
	status, err := s.eodStore.GetStatus(ctx, accountID, businessDate)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, fmt.Errorf("no EOD status for %s/%s: %w", accountID, businessDate, models.ErrNotFound)
	}
	return status, nil
}

// GetEodHistory returns recent status rows for an account, newest first.
func (s *Service) GetEodHistory(ctx context.Context, accountID string, limit int) ([]*models.EodStatus, error) {
	return s.eodStore.ListStatusHistory(ctx, accountID, limit)
}

// UploadPositions stages and activates an operator-supplied position list
// through the same validation and batch-swap path as EOD, with source
// MANUAL_UPLOAD. The upload size guard applies before anything is written.
func (s *Service) UploadPositions(ctx context.Context, accountID, businessDate string, positions []models.SnapshotPosition) (*models.Batch, error) {
	if len(positions) == 0 {
		return nil, fmt.Errorf("no positions in upload: %w", models.ErrInvalidArgument)
	}
	if s.upload.MaxPositions > 0 && len(positions) > s.upload.MaxPositions {
		return nil, fmt.Errorf("upload of %d positions exceeds limit %d: %w",
			len(positions), s.upload.MaxPositions, models.ErrInvalidArgument)
	}
	if _, err := common.ParseBusinessDate(businessDate); err != nil {
		return nil, fmt.Errorf("%v: %w", err, models.ErrInvalidArgument)
	}

	snapshot := &models.Snapshot{
		AccountID:    accountID,
		BusinessDate: businessDate,
		Status:       models.SnapshotAvailable,
		Positions:    positions,
	}
	vr := s.validator.Validate(snapshot, nil)
	if vr.HasErrors() {
		return nil, fmt.Errorf("upload rejected with %d validation errors: %w",
			len(vr.Errors()), models.ErrValidation)
	}

	batchID, err := s.positions.CreateBatch(ctx, accountID, businessDate)
	if err != nil {
		return nil, fmt.Errorf("create batch: %w", err)
	}
	if err := s.positions.InsertPositions(ctx, accountID, batchID, vr.Valid, models.SourceManualUpload); err != nil {
		return nil, fmt.Errorf("insert positions: %w", err)
	}

	total, nullProducts, err := s.positions.CountBatchPositions(ctx, accountID, batchID)
	if err != nil {
		return nil, fmt.Errorf("count staged positions: %w", err)
	}
	if total != len(vr.Valid) || nullProducts > 0 {
		return nil, fmt.Errorf("staged %d of %d rows, %d null products: %w",
			total, len(vr.Valid), nullProducts, models.ErrBatchValidation)
	}

	if err := s.positions.ActivateBatch(ctx, accountID, batchID); err != nil {
		return nil, fmt.Errorf("activate batch: %w", err)
	}

	s.publishChange(ctx, models.EventManualUpload, accountID, businessDate, len(vr.Valid))
	s.logger.Info().
		Str("account", accountID).
		Str("date", businessDate).
		Int64("batch", batchID).
		Int("positions", len(vr.Valid)).
		Msg("Manual upload activated")

	return s.positions.GetBatch(ctx, accountID, batchID)
}

// AdjustPosition applies one intraday position change via the bitemporal
// close-and-insert path. Never creates or rotates batches.
func (s *Service) AdjustPosition(ctx context.Context, accountID, productID, businessDate string, quantity, price float64) error {
	if accountID == "" || productID == "" {
		return fmt.Errorf("account and product are required: %w", models.ErrInvalidArgument)
	}
	if _, err := common.ParseBusinessDate(businessDate); err != nil {
		return fmt.Errorf("%v: %w", err, models.ErrInvalidArgument)
	}
	if price < 0 {
		return fmt.Errorf("price must not be negative: %w", models.ErrInvalidArgument)
	}

	if err := s.positions.AdjustPosition(ctx, accountID, productID, businessDate, quantity, price, models.SourceIntraday); err != nil {
		return fmt.Errorf("adjust position: %w", err)
	}

	s.publishChange(ctx, models.EventIntradayUpdate, accountID, businessDate, 1)
	s.logger.Info().
		Str("account", accountID).
		Str("product", productID).
		Float64("quantity", quantity).
		Float64("price", price).
		Msg("Intraday adjustment applied")
	return nil
}

// Rollback re-activates the prior batch for an account.
func (s *Service) Rollback(ctx context.Context, accountID, businessDate string) (bool, error) {
	return s.engine.Rollback(ctx, accountID, businessDate)
}

// Reset clears EOD status and content hash for an account and date.
func (s *Service) Reset(ctx context.Context, accountID, businessDate string) error {
	return s.engine.Reset(ctx, accountID, businessDate)
}

// Diff compares an account's positions for a date against the previous
// business day.
func (s *Service) Diff(ctx context.Context, accountID, businessDate string) (*models.DiffReport, error) {
	previousDate := s.calendar.PreviousBusinessDay(businessDate)
	if previousDate == "" {
		return nil, fmt.Errorf("no previous business day for %s: %w", businessDate, models.ErrInvalidArgument)
	}

	current, err := s.positions.GetPositionsByDate(ctx, accountID, businessDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load current positions: %w", err)
	}
	previous, err := s.positions.GetPositionsByDate(ctx, accountID, previousDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load previous positions: %w", err)
	}
	return s.recon.ComputeDiff(accountID, current, previous), nil
}

// Reconcile runs reconciliation for one account.
func (s *Service) Reconcile(ctx context.Context, accountID, businessDate string) (*models.ReconReport, error) {
	return s.recon.Reconcile(ctx, accountID, businessDate)
}

// ReconcileAll sweeps every account.
func (s *Service) ReconcileAll(ctx context.Context, businessDate string) ([]*models.ReconReport, error) {
	return s.recon.ReconcileAll(ctx, businessDate)
}

// ReplayDLT drains a topic's dead letters back to the topic.
func (s *Service) ReplayDLT(ctx context.Context, topic string) (int, error) {
	switch topic {
	case models.TopicPositionChange, models.TopicClientSignOff, models.TopicSystemAlerts:
	default:
		return 0, fmt.Errorf("unknown topic %q: %w", topic, models.ErrInvalidArgument)
	}
	return s.replayer.Replay(ctx, topic)
}

// Progress returns the orchestrated run view for a business date.
func (s *Service) Progress(businessDate string) *models.RunProgress {
	return s.orchestrator.Progress(businessDate)
}

// UpsertHoliday registers a non-business date on the calendar.
func (s *Service) UpsertHoliday(ctx context.Context, country, date string) error {
	if _, err := common.ParseBusinessDate(date); err != nil {
		return fmt.Errorf("%v: %w", err, models.ErrInvalidArgument)
	}
	if err := s.refdata.UpsertHoliday(ctx, &models.Holiday{Country: country, Date: date}); err != nil {
		return fmt.Errorf("upsert holiday: %w", err)
	}
	return s.calendar.Refresh(ctx)
}

func (s *Service) publishChange(ctx context.Context, eventType, accountID, businessDate string, count int) {
	event := &models.PositionChangeEvent{
		EventType:     eventType,
		AccountID:     accountID,
		BusinessDate:  businessDate,
		PositionCount: count,
		Timestamp:     time.Now(),
	}
	if err := s.publisher.PublishChange(ctx, event); err != nil {
		s.logger.Error().Str("account", accountID).Str("event", eventType).Err(err).Msg("Failed to publish change event")
	}
}
