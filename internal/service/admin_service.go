package service

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
)

var (
	ErrDirectionMismatch = errors.New("requests must pair a funding with a withdrawal")
	ErrCurrencyMismatch  = errors.New("currency mismatch")
	ErrRequestClosed     = errors.New("request is not open")
)

type AdminStore interface {
	GetRequest(ctx context.Context, requestID uuid.UUID) (*storage.Request, error)
	ListUnmatched(ctx context.Context, currency engine.Currency) ([]storage.Request, error)
	ListExpiredPairs(ctx context.Context) ([]storage.PairView, error)
	GetPair(ctx context.Context, pairID uuid.UUID) (*storage.PairView, error)
	CreateManualPair(ctx context.Context, pair storage.NewPair) (*storage.PairView, error)
	ReleaseExpiredReservation(ctx context.Context, pairID uuid.UUID) (*storage.MatchPair, error)

	GetNextCycle(ctx context.Context) (*storage.MergeCycle, error)
	OpenJoinWindow(ctx context.Context, cycleID uuid.UUID) (*storage.MergeCycle, error)
	ShortenJoinWindow(ctx context.Context, cycleID uuid.UUID, end time.Time) (*storage.MergeCycle, error)

	GetAdminWallet(ctx context.Context, currency engine.Currency) (*storage.AdminWallet, error)
	ListAdminWallets(ctx context.Context) ([]storage.AdminWallet, error)
	DebitAdminWallet(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) error
	CreditAdminWallet(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) error
	UnblockWallet(ctx context.Context, ownerID uuid.UUID) error

	InsertAudit(ctx context.Context, log storage.AuditLog) error
}

// PairWorkflow is the slice of the merge flow the operator drives when the
// admin wallet sits on one side of a pair: uploading the platform's payment
// proof and confirming receipts into the platform wallet.
type PairWorkflow interface {
	UploadPlatformProof(ctx context.Context, input UploadProofInput) (*storage.MatchPair, error)
	ConfirmPlatformProof(ctx context.Context, input PairActionInput) (*storage.MatchPair, error)
}

// AdminService is the operator surface: dashboard reads, manual matches,
// fallback matches against the platform wallet, cycle triggers and the
// recovery actions the automatic flow deliberately leaves to a human.
type AdminService struct {
	store     AdminStore
	pairs     PairWorkflow
	logger    *slog.Logger
	metrics   *Metrics
	deadlines engine.Deadlines
}

type AdminActor struct {
	ID        string
	IP        string
	UserAgent string
}

type ManualMatchInput struct {
	FundingRequestID    uuid.UUID
	WithdrawalRequestID uuid.UUID
	Amount              *decimal.Decimal
	Actor               AdminActor
}

type FallbackMatchInput struct {
	RequestID uuid.UUID
	Actor     AdminActor
}

func NewAdminService(store AdminStore, pairs PairWorkflow, logger *slog.Logger, metrics *Metrics, deadlines engine.Deadlines) *AdminService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{
		store:     store,
		pairs:     pairs,
		logger:    logger,
		metrics:   metrics,
		deadlines: deadlines,
	}
}

func (s *AdminService) ListUnmatched(ctx context.Context, currency engine.Currency) ([]storage.Request, error) {
	return s.store.ListUnmatched(ctx, currency)
}

func (s *AdminService) ListExpired(ctx context.Context) ([]storage.PairView, error) {
	return s.store.ListExpiredPairs(ctx)
}

func (s *AdminService) ListAdminWallets(ctx context.Context) ([]storage.AdminWallet, error) {
	return s.store.ListAdminWallets(ctx)
}

// ManualMatch pairs two specific requests outside a cycle. The amount
// defaults to the smaller remaining side; explicit amounts cannot exceed
// either side (the reservation guard rejects that inside the transaction).
func (s *AdminService) ManualMatch(ctx context.Context, input ManualMatchInput) (*storage.PairView, error) {
	funding, err := s.store.GetRequest(ctx, input.FundingRequestID)
	if err != nil {
		return nil, err
	}
	withdrawal, err := s.store.GetRequest(ctx, input.WithdrawalRequestID)
	if err != nil {
		return nil, err
	}

	if funding.Direction != engine.DirectionFunding || withdrawal.Direction != engine.DirectionWithdrawal {
		return nil, ErrDirectionMismatch
	}
	if funding.Currency != withdrawal.Currency {
		return nil, ErrCurrencyMismatch
	}
	if !funding.Open() || !withdrawal.Open() {
		return nil, ErrRequestClosed
	}

	amount := funding.AmountRemaining
	if withdrawal.AmountRemaining.LessThan(amount) {
		amount = withdrawal.AmountRemaining
	}
	if input.Amount != nil {
		amount = *input.Amount
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, storage.ErrInsufficientRemaining
	}

	fundingID := funding.ID
	withdrawalID := withdrawal.ID
	pair := storage.NewPair{
		ID:                  uuid.New(),
		FundingRequestID:    &fundingID,
		WithdrawalRequestID: &withdrawalID,
		Currency:            funding.Currency,
		Amount:              amount,
		Source:              engine.SourceManual,
		ProofDeadline:       s.deadlines.ProofDeadline(time.Now().UTC()),
	}

	created, err := s.store.CreateManualPair(ctx, pair)
	if err != nil {
		return nil, err
	}

	s.insertAudit(ctx, input.Actor, "admin.manual_match", "match_pair", created.ID.String())
	if s.metrics != nil {
		s.metrics.PairsCreated.WithLabelValues(string(engine.SourceManual)).Inc()
	}
	return created, nil
}

// FallbackMatch pairs one request's full remainder against the platform
// wallet. Withdrawals reserve wallet balance first and hand it back if the
// pair cannot be created.
func (s *AdminService) FallbackMatch(ctx context.Context, input FallbackMatchInput) (*storage.PairView, error) {
	req, err := s.store.GetRequest(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}
	if !req.Open() || req.AmountRemaining.LessThanOrEqual(decimal.Zero) {
		return nil, ErrRequestClosed
	}

	wallet, err := s.store.GetAdminWallet(ctx, req.Currency)
	if err != nil {
		return nil, err
	}

	amount := req.AmountRemaining
	if req.Direction == engine.DirectionWithdrawal {
		if err := s.store.DebitAdminWallet(ctx, wallet.ID, amount); err != nil {
			return nil, err
		}
	}

	walletID := wallet.ID
	requestID := req.ID
	pair := storage.NewPair{
		ID:            uuid.New(),
		AdminWalletID: &walletID,
		Currency:      req.Currency,
		Amount:        amount,
		Source:        engine.SourceFallback,
		ProofDeadline: s.deadlines.ProofDeadline(time.Now().UTC()),
	}
	if req.Direction == engine.DirectionFunding {
		pair.FundingRequestID = &requestID
	} else {
		pair.WithdrawalRequestID = &requestID
	}

	created, err := s.store.CreateManualPair(ctx, pair)
	if err != nil {
		if req.Direction == engine.DirectionWithdrawal {
			if creditErr := s.store.CreditAdminWallet(ctx, wallet.ID, amount); creditErr != nil {
				s.logger.Error("return of reserved wallet balance failed", "wallet_id", wallet.ID, "error", creditErr)
			}
		}
		return nil, err
	}

	s.insertAudit(ctx, input.Actor, "admin.fallback_match", "match_pair", created.ID.String())
	if s.metrics != nil {
		s.metrics.PairsCreated.WithLabelValues(string(engine.SourceFallback)).Inc()
	}
	return created, nil
}

// UploadProof stores the platform's payment evidence on a pair the admin
// wallet funds, the operator's side of a withdrawal fallback.
func (s *AdminService) UploadProof(ctx context.Context, pairID uuid.UUID, data []byte, contentType string, actor AdminActor) (*storage.MatchPair, error) {
	pair, err := s.pairs.UploadPlatformProof(ctx, UploadProofInput{
		PairID:      pairID,
		Data:        data,
		ContentType: contentType,
		IP:          actor.IP,
		UserAgent:   actor.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	s.insertAudit(ctx, actor, "admin.upload_proof", "match_pair", pair.ID.String())
	return pair, nil
}

// ConfirmPair acknowledges receipt into the admin wallet on a pair the
// platform withdraws, releasing the funder's settlement.
func (s *AdminService) ConfirmPair(ctx context.Context, pairID uuid.UUID, actor AdminActor) (*storage.MatchPair, error) {
	pair, err := s.pairs.ConfirmPlatformProof(ctx, PairActionInput{
		PairID:    pairID,
		IP:        actor.IP,
		UserAgent: actor.UserAgent,
	})
	if err != nil {
		return nil, err
	}
	s.insertAudit(ctx, actor, "admin.confirm_pair", "match_pair", pair.ID.String())
	return pair, nil
}

// TriggerCycleNow pulls the next cycle forward: a scheduled cycle opens its
// join window immediately and the window end drops to now, so the scheduler's
// next tick runs the matching pass.
func (s *AdminService) TriggerCycleNow(ctx context.Context, actor AdminActor) (*storage.MergeCycle, error) {
	cycle, err := s.store.GetNextCycle(ctx)
	if err != nil {
		return nil, err
	}

	if cycle.Status == storage.CycleScheduled {
		if _, err := s.store.OpenJoinWindow(ctx, cycle.ID); err != nil && !errors.Is(err, storage.ErrInvalidStatus) {
			return nil, err
		}
	}

	updated, err := s.store.ShortenJoinWindow(ctx, cycle.ID, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.insertAudit(ctx, actor, "admin.trigger_cycle", "merge_cycle", updated.ID.String())
	return updated, nil
}

func (s *AdminService) UnblockOwner(ctx context.Context, ownerID uuid.UUID, actor AdminActor) error {
	if err := s.store.UnblockWallet(ctx, ownerID); err != nil {
		return err
	}
	s.insertAudit(ctx, actor, "admin.unblock_wallet", "wallet_block", ownerID.String())
	return nil
}

// ReleaseReservation hands an expired pair's reserved amounts back to their
// requests. This is intentionally manual so an operator reviews the dispute
// before funds move again.
func (s *AdminService) ReleaseReservation(ctx context.Context, pairID uuid.UUID, actor AdminActor) (*storage.MatchPair, error) {
	pair, err := s.store.ReleaseExpiredReservation(ctx, pairID)
	if err != nil {
		return nil, err
	}
	s.insertAudit(ctx, actor, "admin.release_reservation", "match_pair", pair.ID.String())
	return pair, nil
}

func (s *AdminService) insertAudit(ctx context.Context, actor AdminActor, action, entityType, entityID string) {
	log := storage.AuditLog{
		ActorID:    actor.ID,
		ActorType:  "admin",
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IP:         actor.IP,
		UserAgent:  actor.UserAgent,
	}
	if err := s.store.InsertAudit(ctx, log); err != nil {
		s.logger.Error("audit log failed", "error", err)
	}
}
