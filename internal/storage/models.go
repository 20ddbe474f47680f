package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
)

type CycleStatus string

const (
	CycleScheduled CycleStatus = "scheduled"
	CycleJoinOpen  CycleStatus = "join_open"
	CycleMatching  CycleStatus = "matching"
	CycleCompleted CycleStatus = "completed"
)

// Request is one funding or withdrawal intent. AmountRemaining only ever
// decreases through pair creation; Completed flips once every pair against
// the request is confirmed.
type Request struct {
	ID              uuid.UUID
	OwnerID         uuid.UUID
	Direction       engine.Direction
	Currency        engine.Currency
	Amount          decimal.Decimal
	AmountRemaining decimal.Decimal
	JoinedCycleID   *uuid.UUID
	FullyMatched    bool
	Completed       bool
	Cancelled       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *Request) Open() bool {
	return !r.Cancelled && !r.Completed
}

func (r *Request) OptedIn(cycleID uuid.UUID) bool {
	return r.JoinedCycleID != nil && *r.JoinedCycleID == cycleID
}

type MergeCycle struct {
	ID            uuid.UUID
	ScheduledTime time.Time
	CutoffTime    time.Time
	JoinWindowEnd time.Time
	Status        CycleStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MatchPair is one allocation. Exactly one of FundingRequestID and
// WithdrawalRequestID may be nil, in which case AdminWalletID identifies the
// platform counterparty on that side.
type MatchPair struct {
	ID                   uuid.UUID
	CycleID              *uuid.UUID
	FundingRequestID     *uuid.UUID
	WithdrawalRequestID  *uuid.UUID
	AdminWalletID        *uuid.UUID
	Currency             engine.Currency
	Amount               decimal.Decimal
	Status               engine.PairStatus
	Source               engine.AllocationSource
	ProofRef             *string
	ProofUploadedAt      *time.Time
	ProofDeadline        time.Time
	ConfirmationDeadline *time.Time
	ExtensionGranted     bool
	ConfirmedAt          *time.Time
	CompletedAt          *time.Time
	SettledAt            *time.Time
	ReservationReleased  bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// PairView is a MatchPair with both sides' owners resolved for authorization
// checks and listings. An admin-wallet side has a nil owner.
type PairView struct {
	MatchPair
	FunderOwnerID     *uuid.UUID
	WithdrawerOwnerID *uuid.UUID
}

func (p *PairView) AdminIsFunder() bool {
	return p.FundingRequestID == nil && p.AdminWalletID != nil
}

func (p *PairView) AdminIsWithdrawer() bool {
	return p.WithdrawalRequestID == nil && p.AdminWalletID != nil
}

type AdminWallet struct {
	ID        uuid.UUID
	Currency  engine.Currency
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

type WalletBlock struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Reason    string
	PairID    *uuid.UUID
	CreatedAt time.Time
	ReleasedAt *time.Time
}

type AuditLog struct {
	ActorID    string
	ActorType  string
	Action     string
	EntityType string
	EntityID   string
	IP         string
	UserAgent  string
}

// NewPair is the insert shape produced by a matching pass or an admin match.
type NewPair struct {
	ID                  uuid.UUID
	CycleID             *uuid.UUID
	FundingRequestID    *uuid.UUID
	WithdrawalRequestID *uuid.UUID
	AdminWalletID       *uuid.UUID
	Currency            engine.Currency
	Amount              decimal.Decimal
	Source              engine.AllocationSource
	ProofDeadline       time.Time
}
