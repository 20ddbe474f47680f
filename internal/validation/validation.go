package validation

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateCreateRequest checks the create-request payload before any state
// change. Limits are inclusive bounds in the request's currency unit.
func ValidateCreateRequest(direction, currency, amount string, min, max decimal.Decimal) []FieldError {
	var errs []FieldError

	if _, err := engine.ParseDirection(direction); err != nil {
		errs = append(errs, FieldError{Field: "direction", Message: "must be funding or withdrawal"})
	}
	if _, err := engine.ParseCurrency(currency); err != nil {
		errs = append(errs, FieldError{Field: "currency", Message: "must be naira or usdt"})
	}

	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		errs = append(errs, FieldError{Field: "amount", Message: "is required"})
		return errs
	}
	parsed, err := decimal.NewFromString(trimmed)
	if err != nil {
		errs = append(errs, FieldError{Field: "amount", Message: "must be a decimal number"})
		return errs
	}
	if parsed.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, FieldError{Field: "amount", Message: "must be positive"})
		return errs
	}
	if parsed.LessThan(min) {
		errs = append(errs, FieldError{Field: "amount", Message: "below minimum of " + min.String()})
	}
	if parsed.GreaterThan(max) {
		errs = append(errs, FieldError{Field: "amount", Message: "above maximum of " + max.String()})
	}
	return errs
}
