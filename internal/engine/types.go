package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Direction string

const (
	DirectionFunding    Direction = "funding"
	DirectionWithdrawal Direction = "withdrawal"
)

func ParseDirection(value string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(DirectionFunding):
		return DirectionFunding, nil
	case string(DirectionWithdrawal):
		return DirectionWithdrawal, nil
	default:
		return "", fmt.Errorf("invalid direction: %s", value)
	}
}

type Currency string

const (
	CurrencyNaira Currency = "naira"
	CurrencyUSDT  Currency = "usdt"
)

var Currencies = []Currency{CurrencyNaira, CurrencyUSDT}

func ParseCurrency(value string) (Currency, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(CurrencyNaira):
		return CurrencyNaira, nil
	case string(CurrencyUSDT):
		return CurrencyUSDT, nil
	default:
		return "", fmt.Errorf("invalid currency: %s", value)
	}
}

// Request is the matcher's view of a funding or withdrawal request: just
// enough to allocate amounts deterministically.
type Request struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Currency  Currency
	Amount    decimal.Decimal
	Remaining decimal.Decimal
	CreatedAt time.Time
}

type AllocationSource string

const (
	SourceSweep    AllocationSource = "sweep"
	SourceFallback AllocationSource = "fallback"
	SourceManual   AllocationSource = "manual"
)

// Allocation links one funder and one withdrawer for a fixed amount. Exactly
// one of the two sides may be the admin wallet, in which case that side's
// request id is Nil and AdminWalletID is set.
type Allocation struct {
	FundingID     uuid.UUID
	WithdrawalID  uuid.UUID
	AdminWalletID uuid.UUID
	Currency      Currency
	Amount        decimal.Decimal
	Source        AllocationSource
}

// SweepResult carries the allocations of one matching pass plus the requests
// that still hold unmatched amounts afterwards, with Remaining updated.
type SweepResult struct {
	Allocations          []Allocation
	FundingRemainders    []Request
	WithdrawalRemainders []Request
}

// AdminWallet is the counterparty of last resort for one currency. Balance
// bounds how much it can pay out to withdrawers; inbound funding carries no
// balance requirement.
type AdminWallet struct {
	ID       uuid.UUID
	Currency Currency
	Balance  decimal.Decimal
}

func minDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
