// Package recon compares an account's positions day over day: a
// reconciliation report with severity-classified anomalies, and a pure
// position diff for operators.
package recon

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

// Severity thresholds, percent.
const (
	valueChangeWarnPct = 20.0
	valueChangeCritPct = 50.0
	countChangeWarnPct = 30.0
	countChangeCritPct = 50.0
)

// Service implements interfaces.ReconService.
type Service struct {
	positions interfaces.PositionStore
	refdata   interfaces.RefDataStore
	calendar  interfaces.CalendarService
	publisher interfaces.EventPublisher
	logger    *common.Logger
}

// NewService wires the reconciliation engine.
func NewService(
	storage interfaces.StorageManager,
	calendar interfaces.CalendarService,
	publisher interfaces.EventPublisher,
	logger *common.Logger,
) *Service {
	return &Service{
		positions: storage.PositionStore(),
		refdata:   storage.RefDataStore(),
		calendar:  calendar,
		publisher: publisher,
		logger:    logger,
	}
}

// Reconcile compares an account's positions for a business date against the
// previous business day and classifies anomalies. Non-OK reports emit a
// RECONCILIATION alert.
func (s *Service) Reconcile(ctx context.Context, accountID, businessDate string) (*models.ReconReport, error) {
	if _, err := common.ParseBusinessDate(businessDate); err != nil {
		return nil, fmt.Errorf("%v: %w", err, models.ErrInvalidArgument)
	}

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

	report := s.buildReport(accountID, businessDate, previousDate, current, previous)

	if report.Status != models.ReconOK {
		level := models.AlertWarning
		if report.Status == models.ReconCritical {
			level = models.AlertCritical
		}
		s.alert(ctx, level, accountID, fmt.Sprintf(
			"reconciliation %s for %s/%s: %d anomalies", report.Status, accountID, businessDate, len(report.Anomalies)))
	}
	return report, nil
}

// ReconcileAll reconciles every known account; per-account failures are
// recorded and do not stop the sweep.
func (s *Service) ReconcileAll(ctx context.Context, businessDate string) ([]*models.ReconReport, error) {
	accountIDs, err := s.refdata.ListAccountIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	var reports []*models.ReconReport
	for _, accountID := range accountIDs {
		if err := ctx.Err(); err != nil {
			return reports, fmt.Errorf("reconcile sweep cancelled: %w", models.ErrCancelled)
		}
		report, err := s.Reconcile(ctx, accountID, businessDate)
		if err != nil {
			s.logger.Error().Str("account", accountID).Err(err).Msg("Reconciliation failed")
			continue
		}
		reports = append(reports, report)
	}

	s.logger.Info().Str("date", businessDate).Int("accounts", len(reports)).Msg("Reconciliation sweep complete")
	return reports, nil
}

func (s *Service) buildReport(accountID, businessDate, previousDate string, current, previous []*models.Position) *models.ReconReport {
	report := &models.ReconReport{
		AccountID:    accountID,
		BusinessDate: businessDate,
		PreviousDate: previousDate,
		Status:       models.ReconOK,
		GeneratedAt:  time.Now(),
	}

	diff := s.ComputeDiff(accountID, current, previous)
	for _, entry := range diff.Entries {
		switch entry.Kind {
		case models.DiffNew:
			report.NewCount++
		case models.DiffClosed:
			report.ClosedCount++
		case models.DiffIncreased:
			report.IncreasedCount++
		case models.DiffDecreased:
			report.DecreasedCount++
		case models.DiffUnchanged, models.DiffPriceOnly:
			report.UnchangedCount++
		}

		// Per-product value change severity.
		if entry.Kind != models.DiffNew && entry.Kind != models.DiffClosed {
			if severity := classify(entry.PctChange, valueChangeWarnPct, valueChangeCritPct); severity != models.ReconOK {
				report.Anomalies = append(report.Anomalies, models.ReconAnomaly{
					Severity:  severity,
					Type:      models.AnomalyValueChange,
					ProductID: entry.ProductID,
					Message:   fmt.Sprintf("market value moved %.1f%% day over day", entry.PctChange),
				})
			}
		}
	}

	report.ValueChangePct = totalValueChangePct(current, previous)
	if len(previous) > 0 {
		report.CountChangePct = math.Abs(float64(len(current)-len(previous))) / float64(len(previous)) * 100
		if severity := classify(report.CountChangePct, countChangeWarnPct, countChangeCritPct); severity != models.ReconOK {
			report.Anomalies = append(report.Anomalies, models.ReconAnomaly{
				Severity: severity,
				Type:     models.AnomalyCountChange,
				Message: fmt.Sprintf("position count moved %.1f%% (%d -> %d)",
					report.CountChangePct, len(previous), len(current)),
			})
		}
	}

	if len(current) == 0 && len(previous) > 0 {
		report.Anomalies = append(report.Anomalies, models.ReconAnomaly{
			Severity: models.ReconCritical,
			Type:     models.AnomalyMissingData,
			Message:  fmt.Sprintf("no positions for %s but %d yesterday", businessDate, len(previous)),
		})
	}

	for _, a := range report.Anomalies {
		if worse(a.Severity, report.Status) {
			report.Status = a.Severity
		}
	}
	return report
}

// ComputeDiff classifies every product present on either side. Pure
// computation: no storage access, no alerting.
func (s *Service) ComputeDiff(accountID string, current, previous []*models.Position) *models.DiffReport {
	prevByProduct := make(map[string]*models.Position, len(previous))
	for _, p := range previous {
		prevByProduct[p.ProductID] = p
	}
	currByProduct := make(map[string]*models.Position, len(current))
	for _, p := range current {
		currByProduct[p.ProductID] = p
	}

	report := &models.DiffReport{AccountID: accountID}

	for _, curr := range current {
		prev, existed := prevByProduct[curr.ProductID]
		entry := models.DiffEntry{
			ProductID: curr.ProductID,
			CurrQty:   curr.Quantity,
			CurrPrice: curr.Price,
		}
		if !existed {
			entry.Kind = models.DiffNew
			entry.PctChange = 100
		} else {
			entry.PrevQty = prev.Quantity
			entry.PrevPrice = prev.Price
			entry.PctChange = valueChangePct(prev, curr)
			switch {
			case curr.Quantity > prev.Quantity:
				entry.Kind = models.DiffIncreased
			case curr.Quantity < prev.Quantity:
				entry.Kind = models.DiffDecreased
			case curr.Price != prev.Price:
				entry.Kind = models.DiffPriceOnly
			default:
				entry.Kind = models.DiffUnchanged
			}
		}
		report.Entries = append(report.Entries, entry)
	}

	for _, prev := range previous {
		if _, still := currByProduct[prev.ProductID]; still {
			continue
		}
		report.Entries = append(report.Entries, models.DiffEntry{
			ProductID: prev.ProductID,
			Kind:      models.DiffClosed,
			PrevQty:   prev.Quantity,
			PrevPrice: prev.Price,
			PctChange: 100,
		})
	}

	sort.SliceStable(report.Entries, func(i, j int) bool {
		return math.Abs(report.Entries[i].PctChange) > math.Abs(report.Entries[j].PctChange)
	})
	return report
}

func (s *Service) alert(ctx context.Context, level models.AlertLevel, accountID, message string) {
	alert := &models.Alert{
		Level:     level,
		Source:    "recon",
		Type:      models.AlertTypeRecon,
		Message:   message,
		EntityID:  accountID,
		Timestamp: time.Now(),
	}
	if err := s.publisher.PublishAlert(ctx, alert); err != nil {
		s.logger.Error().Str("account", accountID).Err(err).Msg("Failed to publish recon alert")
	}
}

func valueChangePct(prev, curr *models.Position) float64 {
	prevValue := math.Abs(prev.Quantity * prev.Price)
	currValue := math.Abs(curr.Quantity * curr.Price)
	if prevValue == 0 {
		if currValue == 0 {
			return 0
		}
		return 100
	}
	return math.Abs(currValue-prevValue) / prevValue * 100
}

func totalValueChangePct(current, previous []*models.Position) float64 {
	var currTotal, prevTotal float64
	for _, p := range current {
		currTotal += math.Abs(p.Quantity * p.Price)
	}
	for _, p := range previous {
		prevTotal += math.Abs(p.Quantity * p.Price)
	}
	if prevTotal == 0 {
		if currTotal == 0 {
			return 0
		}
		return 100
	}
	return math.Abs(currTotal-prevTotal) / prevTotal * 100
}

func classify(pct, warn, crit float64) models.ReconSeverity {
	switch {
	case pct >= crit:
		return models.ReconCritical
	case pct >= warn:
		return models.ReconWarning
	default:
		return models.ReconOK
	}
}

func worse(a, b models.ReconSeverity) bool {
	rank := map[models.ReconSeverity]int{models.ReconOK: 0, models.ReconWarning: 1, models.ReconCritical: 2}
	return rank[a] > rank[b]
}

// Compile-time check
var _ interfaces.ReconService = (*Service)(nil)
