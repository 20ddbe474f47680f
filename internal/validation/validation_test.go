package validation

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestValidateCreateRequest(t *testing.T) {
	min := decimal.NewFromInt(1000)
	max := decimal.NewFromInt(10000000)

	cases := []struct {
		name      string
		direction string
		currency  string
		amount    string
		wantErrs  int
	}{
		{"valid funding", "funding", "naira", "5000", 0},
		{"valid withdrawal usdt", "withdrawal", "usdt", "1000", 0},
		{"bad direction", "deposit", "naira", "5000", 1},
		{"bad currency", "funding", "eur", "5000", 1},
		{"missing amount", "funding", "naira", "", 1},
		{"non-numeric amount", "funding", "naira", "abc", 1},
		{"negative amount", "funding", "naira", "-5", 1},
		{"below minimum", "funding", "naira", "999", 1},
		{"above maximum", "funding", "naira", "10000001", 1},
		{"everything wrong", "x", "y", "z", 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := ValidateCreateRequest(tc.direction, tc.currency, tc.amount, min, max)
			if len(errs) != tc.wantErrs {
				t.Fatalf("expected %d errors, got %d: %v", tc.wantErrs, len(errs), errs)
			}
		})
	}
}
