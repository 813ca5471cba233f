package models

// Validation issue severities.
type IssueSeverity string

const (
	SeverityError   IssueSeverity = "ERROR"
	SeverityWarning IssueSeverity = "WARNING"
)

// Validation issue codes.
const (
	CodeMissingField       = "MISSING_FIELD"
	CodeBadCurrency        = "BAD_CURRENCY"
	CodeZeroPrice          = "ZERO_PRICE"
	CodeQuantityLimit      = "QUANTITY_LIMIT"
	CodePriceLimit         = "PRICE_LIMIT"
	CodeMarketValue        = "MARKET_VALUE_MISMATCH"
	CodeBadTicker          = "BAD_TICKER"
	CodeBlacklistedTicker  = "BLACKLISTED_TICKER"
	CodeDuplicateProduct   = "DUPLICATE_PRODUCT"
	CodePriceServiceDown   = "PRICE_SERVICE_DOWN"
	CodeConcentration      = "CONCENTRATION"
	CodeQuantityJump       = "QUANTITY_JUMP"
	CodePriceDroppedToZero = "PRICE_DROPPED_TO_ZERO"
)

// ValidationIssue is one finding against a snapshot.
type ValidationIssue struct {
	Severity  IssueSeverity `json:"severity"`
	Code      string        `json:"code"`
	ProductID string        `json:"product_id,omitempty"`
	Message   string        `json:"message"`
}

// ValidationResult is the structured outcome of snapshot validation.
// Valid holds the positions that passed per-position checks; in strict mode
// any error aborts before Valid is consulted.
type ValidationResult struct {
	Issues []ValidationIssue  `json:"issues"`
	Valid  []SnapshotPosition `json:"-"`
}

// HasErrors reports whether any error-severity issue is present.
func (r *ValidationResult) HasErrors() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Has reports whether an issue with the given code is present.
func (r *ValidationResult) Has(code string) bool {
	for _, is := range r.Issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity issues.
func (r *ValidationResult) Errors() []ValidationIssue {
	var out []ValidationIssue
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			out = append(out, is)
		}
	}
	return out
}
