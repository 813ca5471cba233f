// Package validation applies the snapshot rule bundle: per-position checks,
// cross-position checks, and day-over-day checks against the prior active
// positions. It also owns the canonical content hash used for duplicate
// detection.
package validation

import (
	"fmt"
	"math"
	"regexp"

	"github.com/bobmcallan/tally/internal/common"
	"github.com/bobmcallan/tally/internal/interfaces"
	"github.com/bobmcallan/tally/internal/models"
)

var tickerPattern = regexp.MustCompile(`^[A-Z0-9./-]{1,20}$`)

// Placeholder tokens that indicate garbage upstream data.
var tickerBlacklist = map[string]bool{
	"NULL":    true,
	"N/A":     true,
	"NA":      true,
	"TEST":    true,
	"UNKNOWN": true,
}

const (
	marketValueTolerance = 0.01 // 1% of quantity*price
	concentrationPct     = 50.0
)

// Service implements interfaces.ValidationService.
type Service struct {
	config common.EodConfig
	logger *common.Logger
}

// NewService creates a validation service with the given rule configuration.
func NewService(config common.EodConfig, logger *common.Logger) *Service {
	return &Service{config: config, logger: logger}
}

// Validate runs the full rule bundle over a snapshot. previous holds the
// prior business date's active positions for day-over-day rules; nil skips
// them. The result carries every issue found plus the positions that passed
// per-position checks.
func (s *Service) Validate(snapshot *models.Snapshot, previous []*models.Position) *models.ValidationResult {
	result := &models.ValidationResult{}

	seen := make(map[string]bool, len(snapshot.Positions))
	zeroPriced := 0
	totalExposure := 0.0

	for i := range snapshot.Positions {
		p := &snapshot.Positions[i]
		issues := s.checkPosition(p)
		result.Issues = append(result.Issues, issues...)

		if p.Price == 0 {
			zeroPriced++
		}
		totalExposure += math.Abs(p.Quantity * p.Price)

		if p.ProductID != "" {
			if seen[p.ProductID] {
				result.Issues = append(result.Issues, models.ValidationIssue{
					Severity:  s.duplicateSeverity(),
					Code:      models.CodeDuplicateProduct,
					ProductID: p.ProductID,
					Message:   fmt.Sprintf("product %s appears more than once in snapshot", p.ProductID),
				})
			}
			seen[p.ProductID] = true
		}

		if !hasErrorFor(issues) {
			result.Valid = append(result.Valid, *p)
		}
	}

	s.checkZeroPriceRatio(result, zeroPriced, len(snapshot.Positions))
	s.checkConcentration(result, snapshot.Positions, totalExposure)

	if previous != nil {
		s.checkDayOverDay(result, snapshot.Positions, previous)
	}

	if len(result.Issues) > 0 {
		s.logger.Debug().
			Str("account", snapshot.AccountID).
			Str("date", snapshot.BusinessDate).
			Int("issues", len(result.Issues)).
			Int("errors", len(result.Errors())).
			Msg("Snapshot validation issues")
	}
	return result
}

func (s *Service) duplicateSeverity() models.IssueSeverity {
	if s.config.StrictValidation {
		return models.SeverityError
	}
	return models.SeverityWarning
}

func (s *Service) checkPosition(p *models.SnapshotPosition) []models.ValidationIssue {
	var issues []models.ValidationIssue

	appendIssue := func(severity models.IssueSeverity, code, format string, args ...any) {
		issues = append(issues, models.ValidationIssue{
			Severity:  severity,
			Code:      code,
			ProductID: p.ProductID,
			Message:   fmt.Sprintf(format, args...),
		})
	}

	if p.ProductID == "" {
		appendIssue(models.SeverityError, models.CodeMissingField, "productId is required")
	}
	if p.BusinessDate == "" {
		appendIssue(models.SeverityError, models.CodeMissingField, "businessDate is required")
	}
	if p.Currency == "" {
		appendIssue(models.SeverityError, models.CodeMissingField, "currency is required")
	} else if len(p.Currency) != 3 {
		appendIssue(models.SeverityError, models.CodeBadCurrency, "currency %q is not a 3-letter code", p.Currency)
	}

	if p.Price <= 0 {
		appendIssue(models.SeverityError, models.CodeZeroPrice, "price must be strictly positive, got %v", p.Price)
	}

	if s.config.MaxQuantity > 0 && math.Abs(p.Quantity) > s.config.MaxQuantity {
		appendIssue(models.SeverityWarning, models.CodeQuantityLimit,
			"quantity %v exceeds limit %v", p.Quantity, s.config.MaxQuantity)
	}
	if s.config.MaxPrice > 0 && p.Price > s.config.MaxPrice {
		appendIssue(models.SeverityWarning, models.CodePriceLimit,
			"price %v exceeds limit %v", p.Price, s.config.MaxPrice)
	}

	if p.MarketValue != 0 {
		expected := p.Quantity * p.Price
		if expected != 0 && math.Abs(p.MarketValue-expected) > math.Abs(expected)*marketValueTolerance {
			appendIssue(models.SeverityError, models.CodeMarketValue,
				"marketValue %v differs from quantity*price %v by more than 1%%", p.MarketValue, expected)
		}
	}

	if p.Ticker != "" {
		if tickerBlacklist[p.Ticker] {
			appendIssue(models.SeverityError, models.CodeBlacklistedTicker, "ticker %q is a placeholder token", p.Ticker)
		} else if !tickerPattern.MatchString(p.Ticker) {
			appendIssue(models.SeverityError, models.CodeBadTicker, "ticker %q is malformed", p.Ticker)
		}
	}

	return issues
}

// checkZeroPriceRatio raises PRICE_SERVICE_DOWN when the share of zero-priced
// positions exceeds the configured threshold. This is the upstream pricing
// health signal and is always an error.
func (s *Service) checkZeroPriceRatio(result *models.ValidationResult, zeroPriced, total int) {
	if total == 0 || zeroPriced == 0 {
		return
	}
	ratioPct := float64(zeroPriced) / float64(total) * 100
	if ratioPct > s.config.ZeroPriceThresholdPct {
		result.Issues = append(result.Issues, models.ValidationIssue{
			Severity: models.SeverityError,
			Code:     models.CodePriceServiceDown,
			Message: fmt.Sprintf("%d of %d positions priced at zero (%.1f%% > %.1f%% threshold)",
				zeroPriced, total, ratioPct, s.config.ZeroPriceThresholdPct),
		})
	}
}

func (s *Service) checkConcentration(result *models.ValidationResult, positions []models.SnapshotPosition, totalExposure float64) {
	if totalExposure == 0 {
		return
	}
	for i := range positions {
		p := &positions[i]
		share := math.Abs(p.Quantity*p.Price) / totalExposure * 100
		if share > concentrationPct {
			result.Issues = append(result.Issues, models.ValidationIssue{
				Severity:  models.SeverityWarning,
				Code:      models.CodeConcentration,
				ProductID: p.ProductID,
				Message:   fmt.Sprintf("position contributes %.1f%% of total exposure", share),
			})
		}
	}
}

func (s *Service) checkDayOverDay(result *models.ValidationResult, positions []models.SnapshotPosition, previous []*models.Position) {
	prior := make(map[string]*models.Position, len(previous))
	for _, p := range previous {
		prior[p.ProductID] = p
	}

	for i := range positions {
		p := &positions[i]
		old, ok := prior[p.ProductID]
		if !ok {
			continue
		}

		if old.Price > 0 && p.Price == 0 {
			result.Issues = append(result.Issues, models.ValidationIssue{
				Severity:  models.SeverityError,
				Code:      models.CodePriceDroppedToZero,
				ProductID: p.ProductID,
				Message:   fmt.Sprintf("price dropped from %v to zero", old.Price),
			})
		}

		if s.config.QuantityJumpPct > 0 && old.Quantity != 0 {
			changePct := math.Abs(p.Quantity-old.Quantity) / math.Abs(old.Quantity) * 100
			if changePct > s.config.QuantityJumpPct {
				result.Issues = append(result.Issues, models.ValidationIssue{
					Severity:  models.SeverityWarning,
					Code:      models.CodeQuantityJump,
					ProductID: p.ProductID,
					Message: fmt.Sprintf("quantity moved %.1f%% day over day (%v -> %v)",
						changePct, old.Quantity, p.Quantity),
				})
			}
		}
	}
}

func hasErrorFor(issues []models.ValidationIssue) bool {
	for _, is := range issues {
		if is.Severity == models.SeverityError {
			return true
		}
	}
	return false
}

// Compile-time check
var _ interfaces.ValidationService = (*Service)(nil)
