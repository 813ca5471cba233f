// Package eod implements the per-account end-of-day load pipeline:
// fetch, validate, duplicate-check, stage, activate, publish. The flow is
// idempotent per (account, business date); COMPLETED is a fixed point that
// only an operator reset can clear.
package eod

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Service implements interfaces.EodService.
type Service struct {
	positions interfaces.PositionStore
	eod       interfaces.EodStore
	refdata   interfaces.RefDataStore
	upstream  interfaces.PortfolioManagerClient
	validator interfaces.ValidationService
	calendar  interfaces.CalendarService
	publisher interfaces.EventPublisher
	config    common.EodConfig
	logger    *common.Logger
}

// NewService wires the EOD engine.
func NewService(
	storage interfaces.StorageManager,
	upstream interfaces.PortfolioManagerClient,
	validator interfaces.ValidationService,
	calendar interfaces.CalendarService,
	publisher interfaces.EventPublisher,
	config common.EodConfig,
	logger *common.Logger,
) *Service {
	return &Service{
		positions: storage.PositionStore(),
		eod:       storage.EodStore(),
		refdata:   storage.RefDataStore(),
		upstream:  upstream,
		validator: validator,
		calendar:  calendar,
		publisher: publisher,
		config:    config,
		logger:    logger,
	}
}

// ProcessEod runs the EOD flow for one account and business date.
//
// Skips (non-business day, duplicate snapshot) and completed re-runs return
// the status row with a nil error; only genuine processing faults return an
// error. The caller can distinguish outcomes via Status and Reason.
func (s *Service) ProcessEod(ctx context.Context, accountID, businessDate string) (*models.EodStatus, error) {
	if accountID == "" {
		return nil, fmt.Errorf("account id is required: %w", models.ErrInvalidArgument)
	}
	if _, err := common.ParseBusinessDate(businessDate); err != nil {
		return nil, fmt.Errorf("%v: %w", err, models.ErrInvalidArgument)
	}

	existing, err := s.eod.GetStatus(ctx, accountID, businessDate)
	if err != nil {
		return nil, fmt.Errorf("failed to read EOD status: %w", err)
	}

	// Idempotency gate: COMPLETED is never mutated.
	if existing != nil && existing.Status == models.EodCompleted {
		s.logger.Info().Str("account", accountID).Str("date", businessDate).Msg("EOD already completed")
		return existing, nil
	}

	// Business-day gate.
	if !s.calendar.IsBusinessDay(businessDate) {
		status := &models.EodStatus{
			AccountID:    accountID,
			BusinessDate: businessDate,
			Status:       models.EodSkipped,
			Reason:       models.SkipReasonNonBusiness,
			CompletedAt:  time.Now(),
		}
		if err := s.eod.SetStatus(ctx, status); err != nil {
			return nil, fmt.Errorf("failed to record skip: %w", err)
		}
		return status, nil
	}

	status := &models.EodStatus{
		AccountID:    accountID,
		BusinessDate: businessDate,
		Status:       models.EodInProgress,
		StartedAt:    time.Now(),
	}
	if existing != nil {
		status.FailureCount = existing.FailureCount
	}
	if err := s.eod.SetStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to mark EOD in progress: %w", err)
	}

	return s.run(ctx, status)
}

// run executes steps 4-12. Cancellation is checked between phases only;
// storage transactions are never aborted mid-commit.
func (s *Service) run(ctx context.Context, status *models.EodStatus) (*models.EodStatus, error) {
	accountID, businessDate := status.AccountID, status.BusinessDate

	// Fetch.
	snapshot, err := s.upstream.FetchSnapshot(ctx, accountID, businessDate)
	if err != nil {
		return s.fail(ctx, status, fmt.Errorf("snapshot fetch: %w", err))
	}
	if !snapshot.Loadable() {
		s.alert(ctx, models.AlertWarning, models.AlertTypeUpstream, accountID,
			fmt.Sprintf("snapshot for %s/%s not loadable (status %s)", accountID, businessDate, snapshot.Status))
		return s.fail(ctx, status, fmt.Errorf("snapshot status %s: %w", snapshot.Status, models.ErrUpstreamUnavailable))
	}
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, status, fmt.Errorf("cancelled after fetch: %w", models.ErrCancelled))
	}

	// Validate, with yesterday's active positions for day-over-day rules.
	var previous []*models.Position
	if prevDate := s.calendar.PreviousBusinessDay(businessDate); prevDate != "" {
		previous, err = s.positions.GetPositionsByDate(ctx, accountID, prevDate)
		if err != nil {
			s.logger.Warn().Str("account", accountID).Err(err).Msg("Prior positions unavailable, skipping day-over-day rules")
			previous = nil
		}
	}

	vr := s.validator.Validate(snapshot, previous)
	if vr.Has(models.CodePriceServiceDown) {
		s.alert(ctx, models.AlertCritical, models.AlertTypePriceServiceDown, accountID,
			fmt.Sprintf("zero-price ratio tripped for %s/%s", accountID, businessDate))
		return s.fail(ctx, status, fmt.Errorf("price service down: %w", models.ErrValidation))
	}
	if vr.HasErrors() {
		if s.config.StrictValidation {
			return s.fail(ctx, status, fmt.Errorf("%d validation errors: %w", len(vr.Errors()), models.ErrValidation))
		}
		for _, issue := range vr.Errors() {
			s.logger.Warn().
				Str("account", accountID).
				Str("code", issue.Code).
				Str("product", issue.ProductID).
				Msg(issue.Message)
		}
	}
	loadable := vr.Valid

	// Duplicate check against the stored content hash.
	hash := s.validator.ContentHash(snapshot.Positions)
	stored, err := s.eod.GetSnapshotHash(ctx, accountID, businessDate)
	if err != nil {
		return s.fail(ctx, status, fmt.Errorf("hash lookup: %w", err))
	}
	if stored != nil && stored.ContentHash == hash {
		s.logger.Info().Str("account", accountID).Str("date", businessDate).Msg("Duplicate snapshot, skipping")
		status.Status = models.EodSkipped
		status.Reason = models.SkipReasonDuplicate
		status.CompletedAt = time.Now()
		if err := s.eod.SetStatus(ctx, status); err != nil {
			return nil, fmt.Errorf("failed to record duplicate skip: %w", err)
		}
		return status, nil
	}
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, status, fmt.Errorf("cancelled before staging: %w", models.ErrCancelled))
	}

	// Stage.
	batchID, err := s.positions.CreateBatch(ctx, accountID, businessDate)
	if err != nil {
		return s.fail(ctx, status, fmt.Errorf("create batch: %w", err))
	}
	if err := s.positions.InsertPositions(ctx, accountID, batchID, loadable, models.SourceEOD); err != nil {
		return s.fail(ctx, status, fmt.Errorf("insert positions: %w", err))
	}

	// Pre-activation validation. A mismatch leaves the batch in STAGING for
	// later cleanup.
	total, nullProducts, err := s.positions.CountBatchPositions(ctx, accountID, batchID)
	if err != nil {
		return s.fail(ctx, status, fmt.Errorf("count staged positions: %w", err))
	}
	if total != len(loadable) || nullProducts > 0 {
		return s.fail(ctx, status, fmt.Errorf(
			"staged %d of %d rows, %d null products: %w", total, len(loadable), nullProducts, models.ErrBatchValidation))
	}
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, status, fmt.Errorf("cancelled before activation: %w", models.ErrCancelled))
	}

	// The single atomic swap point.
	if err := s.positions.ActivateBatch(ctx, accountID, batchID); err != nil {
		return s.fail(ctx, status, fmt.Errorf("activate batch: %w", err))
	}

	if err := s.eod.SaveSnapshotHash(ctx, snapshotHash(accountID, businessDate, hash, loadable)); err != nil {
		// The swap already happened; a lost hash only weakens duplicate
		// detection for this date.
		s.logger.Error().Str("account", accountID).Err(err).Msg("Failed to store content hash")
	}

	if deleted, err := s.positions.CleanupBatches(ctx, accountID, s.config.KeepArchivedBatches); err != nil {
		s.logger.Warn().Str("account", accountID).Err(err).Msg("Batch cleanup failed")
	} else if deleted > 0 {
		s.logger.Debug().Str("account", accountID).Int("deleted", deleted).Msg("Old archived batches cleaned up")
	}

	s.upsertRefData(ctx, snapshot)

	status.Status = models.EodCompleted
	status.Reason = ""
	status.CompletedAt = time.Now()
	status.PositionCount = len(loadable)
	status.LastError = ""
	status.FailureCount = 0
	if err := s.eod.SetStatus(ctx, status); err != nil {
		return nil, fmt.Errorf("failed to mark EOD completed: %w", err)
	}

	s.publishChange(ctx, models.EventEodComplete, snapshot.ClientID, status)
	s.signOffIfClientComplete(ctx, snapshot.ClientID, businessDate)

	s.logger.Info().
		Str("account", accountID).
		Str("date", businessDate).
		Int64("batch", batchID).
		Int("positions", len(loadable)).
		Msg("EOD completed")
	return status, nil
}

// ProcessLateEod runs the EOD flow for a past business date inside the
// configured late window. A COMPLETED row must be reset first.
func (s *Service) ProcessLateEod(ctx context.Context, accountID, businessDate string) (*models.EodStatus, error) {
	date, err := common.ParseBusinessDate(businessDate)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, models.ErrInvalidArgument)
	}

	today, _ := common.ParseBusinessDate(common.Today())
	age := int(today.Sub(date).Hours() / 24)
	if age < 0 {
		return nil, fmt.Errorf("business date %s is in the future: %w", businessDate, models.ErrInvalidArgument)
	}
	if age > s.config.LateEodMaxDays {
		return nil, fmt.Errorf("business date %s is %d days old, window is %d: %w",
			businessDate, age, s.config.LateEodMaxDays, models.ErrInvalidArgument)
	}

	existing, err := s.eod.GetStatus(ctx, accountID, businessDate)
	if err != nil {
		return nil, fmt.Errorf("failed to read EOD status: %w", err)
	}
	if existing != nil && existing.Status == models.EodCompleted {
		return nil, fmt.Errorf("EOD already completed for %s/%s, reset first: %w",
			accountID, businessDate, models.ErrInvalidArgument)
	}

	s.logger.Info().Str("account", accountID).Str("date", businessDate).Int("age_days", age).Msg("Late EOD run")
	return s.ProcessEod(ctx, accountID, businessDate)
}

// Rollback re-activates the prior batch. Returns false when there is no
// archived batch to fall back to. No data repair beyond the swap.
func (s *Service) Rollback(ctx context.Context, accountID, businessDate string) (bool, error) {
	ok, err := s.positions.RollbackBatch(ctx, accountID, businessDate)
	if err != nil {
		return false, fmt.Errorf("rollback: %w", err)
	}
	if !ok {
		return false, nil
	}

	s.alert(ctx, models.AlertWarning, models.AlertTypeEodRollback, accountID,
		fmt.Sprintf("EOD rolled back for %s/%s", accountID, businessDate))
	s.logger.Warn().Str("account", accountID).Str("date", businessDate).Msg("EOD rolled back")
	return true, nil
}

// Reset clears the status row and stored content hash. Positions untouched.
func (s *Service) Reset(ctx context.Context, accountID, businessDate string) error {
	if err := s.eod.ResetStatus(ctx, accountID, businessDate); err != nil {
		return fmt.Errorf("reset status: %w", err)
	}
	if err := s.eod.DeleteSnapshotHash(ctx, accountID, businessDate); err != nil {
		return fmt.Errorf("reset hash: %w", err)
	}
	s.logger.Info().Str("account", accountID).Str("date", businessDate).Msg("EOD status reset")
	return nil
}

// fail records FAILED with the error, bumps the consecutive-failure count
// and emits an EOD_FAILED alert whose severity escalates with that count.
func (s *Service) fail(ctx context.Context, status *models.EodStatus, cause error) (*models.EodStatus, error) {
	status.Status = models.EodFailed
	status.LastError = cause.Error()
	status.CompletedAt = time.Now()
	status.FailureCount++

	if err := s.eod.SetStatus(ctx, status); err != nil {
		s.logger.Error().Str("account", status.AccountID).Err(err).Msg("Failed to record EOD failure")
	}

	level := models.EscalateFailure(status.FailureCount)
	s.alert(ctx, level, models.AlertTypeEodFailed, status.AccountID,
		fmt.Sprintf("EOD failed for %s/%s (attempt %d): %v",
			status.AccountID, status.BusinessDate, status.FailureCount, cause))

	s.logger.Error().
		Str("account", status.AccountID).
		Str("date", status.BusinessDate).
		Int("failures", status.FailureCount).
		Err(cause).
		Msg("EOD failed")
	return status, cause
}

// signOffIfClientComplete publishes a client sign-off once every account of
// the client is COMPLETED for the business date.
func (s *Service) signOffIfClientComplete(ctx context.Context, clientID, businessDate string) {
	if clientID == "" {
		return
	}

	accounts, err := s.refdata.ListClientAccounts(ctx, clientID)
	if err != nil || len(accounts) == 0 {
		if err != nil {
			s.logger.Warn().Str("client", clientID).Err(err).Msg("Sign-off check failed")
		}
		return
	}

	completed, err := s.eod.CountCompleted(ctx, accounts, businessDate)
	if err != nil {
		s.logger.Warn().Str("client", clientID).Err(err).Msg("Sign-off count failed")
		return
	}
	if completed < len(accounts) {
		return
	}

	event := &models.ClientSignOffEvent{
		ClientID:     clientID,
		BusinessDate: businessDate,
		AccountCount: completed,
		Timestamp:    time.Now(),
	}
	if err := s.publisher.PublishSignOff(ctx, event); err != nil {
		s.logger.Error().Str("client", clientID).Err(err).Msg("Failed to publish client sign-off")
		s.alert(ctx, models.AlertWarning, models.AlertTypePublishFailed, clientID, "client sign-off publish failed")
		return
	}
	s.logger.Info().Str("client", clientID).Str("date", businessDate).Int("accounts", completed).Msg("Client signed off")
}

// publishChange emits a position change event, fire-and-log: the position
// state is the source of truth, a missed notification is repaired by DLT
// replay and reconciliation.
func (s *Service) publishChange(ctx context.Context, eventType, clientID string, status *models.EodStatus) {
	event := &models.PositionChangeEvent{
		EventType:     eventType,
		AccountID:     status.AccountID,
		ClientID:      clientID,
		BusinessDate:  status.BusinessDate,
		PositionCount: status.PositionCount,
		Timestamp:     time.Now(),
	}
	if err := s.publisher.PublishChange(ctx, event); err != nil {
		s.logger.Error().Str("account", status.AccountID).Err(err).Msg("Failed to publish change event")
		s.alert(ctx, models.AlertWarning, models.AlertTypePublishFailed, status.AccountID,
			fmt.Sprintf("%s publish failed for %s", eventType, status.AccountID))
	}
}

func (s *Service) alert(ctx context.Context, level models.AlertLevel, alertType, entityID, message string) {
	alert := &models.Alert{
		Level:     level,
		Source:    "eod",
		Type:      alertType,
		Message:   message,
		EntityID:  entityID,
		Timestamp: time.Now(),
	}
	if err := s.publisher.PublishAlert(ctx, alert); err != nil {
		s.logger.Error().Str("type", alertType).Err(err).Msg("Failed to publish alert")
	}
}

// upsertRefData keeps account and product reference data current from the
// loaded snapshot. Best-effort.
func (s *Service) upsertRefData(ctx context.Context, snapshot *models.Snapshot) {
	if snapshot.ClientID != "" {
		account := &models.Account{AccountID: snapshot.AccountID, ClientID: snapshot.ClientID}
		if err := s.refdata.UpsertAccount(ctx, account); err != nil {
			s.logger.Warn().Str("account", snapshot.AccountID).Err(err).Msg("Account upsert failed")
		}
	}

	seen := make(map[string]bool, len(snapshot.Positions))
	for i := range snapshot.Positions {
		p := &snapshot.Positions[i]
		if p.ProductID == "" || seen[p.ProductID] {
			continue
		}
		seen[p.ProductID] = true
		product := &models.Product{
			ProductID:  p.ProductID,
			Ticker:     p.Ticker,
			AssetClass: p.AssetClass,
			IssueCcy:   p.IssueCcy,
			SettleCcy:  p.SettleCcy,
		}
		if err := s.refdata.UpsertProduct(ctx, product); err != nil {
			s.logger.Warn().Str("product", p.ProductID).Err(err).Msg("Product upsert failed")
		}
	}
}

func snapshotHash(accountID, businessDate, hash string, positions []models.SnapshotPosition) *models.SnapshotHash {
	var totalQty, totalMV float64
	for i := range positions {
		totalQty += positions[i].Quantity
		totalMV += positions[i].Quantity * positions[i].Price
	}
	return &models.SnapshotHash{
		AccountID:        accountID,
		BusinessDate:     businessDate,
		ContentHash:      hash,
		PositionCount:    len(positions),
		TotalQuantity:    totalQty,
		TotalMarketValue: totalMV,
		StoredAt:         time.Now(),
	}
}

// Compile-time check
var _ interfaces.EodService = (*Service)(nil)
