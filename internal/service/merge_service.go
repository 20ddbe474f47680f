package service

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
	"github.com/olucodehub/2aside-platform-sub000/internal/proofstore"
	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
	"github.com/olucodehub/2aside-platform-sub000/libs/kafka"
)

var (
	ErrWalletBlocked      = errors.New("wallet blocked")
	ErrForbidden          = errors.New("forbidden")
	ErrCancelWindowClosed = errors.New("cancel window closed")
	ErrExtensionExhausted = errors.New("extension already used")
	ErrDeadlinePassed     = errors.New("deadline passed")
)

const (
	JoinGranted       = "granted"
	JoinWindowClosed  = "window_closed"
	JoinNotOwner      = "not_owner"
	JoinAlreadyJoined = "already_joined"
	JoinIneligible    = "ineligible"
)

type Topics struct {
	RequestsCreated string
	CyclesMatched   string
	ProofUploaded   string
	PairsExpired    string
}

type MergeStore interface {
	CreateRequest(ctx context.Context, req storage.Request) (*storage.Request, error)
	GetRequest(ctx context.Context, requestID uuid.UUID) (*storage.Request, error)
	CancelRequest(ctx context.Context, requestID, ownerID uuid.UUID) (*storage.Request, error)
	JoinCycle(ctx context.Context, requestID, cycleID uuid.UUID) (*storage.Request, error)
	ListOpenRequestsByOwner(ctx context.Context, ownerID uuid.UUID) ([]storage.Request, error)
	ListOptedIn(ctx context.Context, cycleID uuid.UUID, direction engine.Direction) ([]storage.Request, error)

	GetNextCycle(ctx context.Context) (*storage.MergeCycle, error)
	GetCycle(ctx context.Context, cycleID uuid.UUID) (*storage.MergeCycle, error)
	BeginMatching(ctx context.Context, cycleID uuid.UUID) (*storage.MergeCycle, error)
	ApplySweep(ctx context.Context, apply storage.SweepApply) error

	GetPair(ctx context.Context, pairID uuid.UUID) (*storage.PairView, error)
	ListActivePairsForOwner(ctx context.Context, ownerID uuid.UUID) ([]storage.PairView, error)
	UploadProof(ctx context.Context, pairID uuid.UUID, proofRef string, confirmationDeadline time.Time) (*storage.MatchPair, error)
	GrantExtension(ctx context.Context, pairID uuid.UUID, newDeadline time.Time) (*storage.MatchPair, error)
	ConfirmPair(ctx context.Context, pairID uuid.UUID) (*storage.MatchPair, error)
	ExpireOverduePairs(ctx context.Context, now time.Time) ([]storage.PairView, error)
	MarkPairSettled(ctx context.Context, pairID uuid.UUID) error

	GetAdminWallet(ctx context.Context, currency engine.Currency) (*storage.AdminWallet, error)
	BlockWallet(ctx context.Context, ownerID uuid.UUID, reason string, pairID *uuid.UUID) error
	IsWalletBlocked(ctx context.Context, ownerID uuid.UUID) (bool, error)

	InsertAudit(ctx context.Context, log storage.AuditLog) error
}

// WalletLedger is the user wallet side: withdrawals debit it up front and a
// cancelled withdrawal gets its debit back.
type WalletLedger interface {
	Debit(ctx context.Context, ownerID uuid.UUID, currency engine.Currency, amount decimal.Decimal, reference string) error
	Credit(ctx context.Context, ownerID uuid.UUID, currency engine.Currency, amount decimal.Decimal, idempotencyKey string) (bool, error)
}

type SettlementRequester interface {
	RequestSettlement(ctx context.Context, pair storage.PairView, correlationID string) error
}

type MergeService struct {
	store      MergeStore
	wallet     WalletLedger
	proofs     proofstore.Store
	settlement SettlementRequester
	producer   kafka.Publisher
	logger     *slog.Logger
	metrics    *Metrics
	topics     Topics

	deadlines      engine.Deadlines
	cancelGuard    time.Duration
	proofRetention time.Duration
}

type CreateRequestInput struct {
	OwnerID       uuid.UUID
	Direction     engine.Direction
	Currency      engine.Currency
	Amount        decimal.Decimal
	IP            string
	UserAgent     string
	CorrelationID string
}

type CancelRequestInput struct {
	OwnerID       uuid.UUID
	RequestID     uuid.UUID
	IP            string
	UserAgent     string
	CorrelationID string
}

type JoinCycleInput struct {
	OwnerID   uuid.UUID
	RequestID uuid.UUID
	CycleID   uuid.UUID
	IP        string
	UserAgent string
}

type JoinCycleResult struct {
	Granted bool
	Reason  string
	Request *storage.Request
}

type UploadProofInput struct {
	OwnerID       uuid.UUID
	PairID        uuid.UUID
	Data          []byte
	ContentType   string
	IP            string
	UserAgent     string
	CorrelationID string
}

type PairActionInput struct {
	OwnerID       uuid.UUID
	PairID        uuid.UUID
	IP            string
	UserAgent     string
	CorrelationID string
}

type OwnerStatus struct {
	Requests  []storage.Request
	Pairs     []storage.PairView
	Blocked   bool
	NextCycle *storage.MergeCycle
}

func NewMergeService(store MergeStore, wallet WalletLedger, proofs proofstore.Store, settlement SettlementRequester, producer kafka.Publisher, logger *slog.Logger, metrics *Metrics, topics Topics, deadlines engine.Deadlines, cancelGuard, proofRetention time.Duration) *MergeService {
	if logger == nil {
		logger = slog.Default()
	}
	if cancelGuard <= 0 {
		cancelGuard = 10 * time.Minute
	}
	if proofRetention <= 0 {
		proofRetention = 30 * 24 * time.Hour
	}
	return &MergeService{
		store:          store,
		wallet:         wallet,
		proofs:         proofs,
		settlement:     settlement,
		producer:       producer,
		logger:         logger,
		metrics:        metrics,
		topics:         topics,
		deadlines:      deadlines,
		cancelGuard:    cancelGuard,
		proofRetention: proofRetention,
	}
}

// CreateRequest opens a funding or withdrawal request. Withdrawals debit the
// owner's wallet immediately so the promised amount cannot be spent twice; the
// debit is reversed if the request cannot be cancelled cleanly later.
func (s *MergeService) CreateRequest(ctx context.Context, input CreateRequestInput) (*storage.Request, error) {
	blocked, err := s.store.IsWalletBlocked(ctx, input.OwnerID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return nil, ErrWalletBlocked
	}

	req := storage.Request{
		ID:        uuid.New(),
		OwnerID:   input.OwnerID,
		Direction: input.Direction,
		Currency:  input.Currency,
		Amount:    input.Amount,
	}

	stored, err := s.store.CreateRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	if input.Direction == engine.DirectionWithdrawal && s.wallet != nil {
		if err := s.wallet.Debit(ctx, input.OwnerID, input.Currency, input.Amount, "merge_request:"+stored.ID.String()); err != nil {
			if _, cancelErr := s.store.CancelRequest(ctx, stored.ID, input.OwnerID); cancelErr != nil {
				s.logger.Error("rollback of unfunded withdrawal failed", "request_id", stored.ID, "error", cancelErr)
			}
			return nil, err
		}
	}

	s.publishRequestCreated(ctx, input.CorrelationID, stored)
	s.insertAudit(ctx, input.OwnerID.String(), "user", "requests.create", "merge_request", stored.ID.String(), input.IP, input.UserAgent)
	if s.metrics != nil {
		s.metrics.RequestsCreated.WithLabelValues(string(stored.Direction), string(stored.Currency)).Inc()
	}
	return stored, nil
}

// CancelRequest withdraws an untouched request. Cancellation closes shortly
// before the joined cycle runs, or the next scheduled one for requests that
// never opted in, so the matcher never sees a vanishing side.
func (s *MergeService) CancelRequest(ctx context.Context, input CancelRequestInput) (*storage.Request, error) {
	req, err := s.store.GetRequest(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != input.OwnerID {
		return nil, storage.ErrNotFound
	}

	var cycle *storage.MergeCycle
	if req.JoinedCycleID != nil {
		cycle, err = s.store.GetCycle(ctx, *req.JoinedCycleID)
	} else {
		// the guard holds against the upcoming cycle even before the owner
		// opts in, so nobody ducks out a minute before matching
		cycle, err = s.store.GetNextCycle(ctx)
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if err == nil && cycle.Status != storage.CycleCompleted {
		if !time.Now().UTC().Before(cycle.ScheduledTime.Add(-s.cancelGuard)) {
			return nil, ErrCancelWindowClosed
		}
	}

	cancelled, err := s.store.CancelRequest(ctx, input.RequestID, input.OwnerID)
	if err != nil {
		return nil, err
	}

	if cancelled.Direction == engine.DirectionWithdrawal && s.wallet != nil {
		if _, err := s.wallet.Credit(ctx, input.OwnerID, cancelled.Currency, cancelled.Amount, "refund:"+cancelled.ID.String()); err != nil {
			s.logger.Error("withdrawal refund failed", "request_id", cancelled.ID, "error", err)
			return nil, err
		}
	}

	s.insertAudit(ctx, input.OwnerID.String(), "user", "requests.cancel", "merge_request", cancelled.ID.String(), input.IP, input.UserAgent)
	return cancelled, nil
}

// JoinCycle opts a request into the open join window. Joining twice is
// granted without effect; every denial carries a reason code.
func (s *MergeService) JoinCycle(ctx context.Context, input JoinCycleInput) (*JoinCycleResult, error) {
	req, err := s.store.GetRequest(ctx, input.RequestID)
	if err != nil {
		return nil, err
	}
	if req.OwnerID != input.OwnerID {
		return s.joinDenied(JoinNotOwner), nil
	}
	if req.OptedIn(input.CycleID) {
		if s.metrics != nil {
			s.metrics.CycleJoins.WithLabelValues(JoinAlreadyJoined).Inc()
		}
		return &JoinCycleResult{Granted: true, Reason: JoinAlreadyJoined, Request: req}, nil
	}
	if !req.Open() || req.AmountRemaining.LessThanOrEqual(decimal.Zero) {
		return s.joinDenied(JoinIneligible), nil
	}

	blocked, err := s.store.IsWalletBlocked(ctx, input.OwnerID)
	if err != nil {
		return nil, err
	}
	if blocked {
		return s.joinDenied(JoinIneligible), nil
	}

	cycle, err := s.store.GetCycle(ctx, input.CycleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.joinDenied(JoinWindowClosed), nil
		}
		return nil, err
	}
	if !req.CreatedAt.Before(cycle.CutoffTime) {
		// requests must predate the cutoff to ride this cycle
		return s.joinDenied(JoinIneligible), nil
	}

	joined, err := s.store.JoinCycle(ctx, input.RequestID, input.CycleID)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidStatus) {
			// the update carries the cycle-status guard, so a miss here
			// means the window is not open
			return s.joinDenied(JoinWindowClosed), nil
		}
		return nil, err
	}

	s.insertAudit(ctx, input.OwnerID.String(), "user", "cycles.join", "merge_request", joined.ID.String(), input.IP, input.UserAgent)
	if s.metrics != nil {
		s.metrics.CycleJoins.WithLabelValues(JoinGranted).Inc()
	}
	return &JoinCycleResult{Granted: true, Reason: JoinGranted, Request: joined}, nil
}

func (s *MergeService) joinDenied(reason string) *JoinCycleResult {
	if s.metrics != nil {
		s.metrics.CycleJoins.WithLabelValues(reason).Inc()
	}
	return &JoinCycleResult{Granted: false, Reason: reason}
}

func (s *MergeService) NextCycle(ctx context.Context) (*storage.MergeCycle, error) {
	return s.store.GetNextCycle(ctx)
}

// OwnerStatus is the my-status view: open requests, active pairs, block state
// and the upcoming cycle in one read.
func (s *MergeService) OwnerStatus(ctx context.Context, ownerID uuid.UUID) (*OwnerStatus, error) {
	requests, err := s.store.ListOpenRequestsByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	pairs, err := s.store.ListActivePairsForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	blocked, err := s.store.IsWalletBlocked(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	cycle, err := s.store.GetNextCycle(ctx)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	return &OwnerStatus{
		Requests:  requests,
		Pairs:     pairs,
		Blocked:   blocked,
		NextCycle: cycle,
	}, nil
}

func (s *MergeService) ActivePairs(ctx context.Context, ownerID uuid.UUID) ([]storage.PairView, error) {
	return s.store.ListActivePairsForOwner(ctx, ownerID)
}

// UploadProof stores the funder's payment evidence and moves the pair to
// proof_uploaded, starting the withdrawer's confirmation clock.
func (s *MergeService) UploadProof(ctx context.Context, input UploadProofInput) (*storage.MatchPair, error) {
	view, err := s.store.GetPair(ctx, input.PairID)
	if err != nil {
		return nil, err
	}
	if view.FunderOwnerID == nil || *view.FunderOwnerID != input.OwnerID {
		if s.metrics != nil {
			s.metrics.ProofUploads.WithLabelValues("forbidden").Inc()
		}
		return nil, ErrForbidden
	}

	pair, err := s.storeProof(ctx, input, view)
	if err != nil {
		return nil, err
	}
	s.insertAudit(ctx, input.OwnerID.String(), "user", "pairs.upload_proof", "match_pair", pair.ID.String(), input.IP, input.UserAgent)
	return pair, nil
}

// UploadPlatformProof stores payment evidence on a pair the admin wallet
// funds. No user owns that side, so the operator surface calls this on the
// platform's behalf; admin authorization is the caller's concern.
func (s *MergeService) UploadPlatformProof(ctx context.Context, input UploadProofInput) (*storage.MatchPair, error) {
	view, err := s.store.GetPair(ctx, input.PairID)
	if err != nil {
		return nil, err
	}
	if !view.AdminIsFunder() {
		if s.metrics != nil {
			s.metrics.ProofUploads.WithLabelValues("forbidden").Inc()
		}
		return nil, ErrForbidden
	}
	return s.storeProof(ctx, input, view)
}

func (s *MergeService) storeProof(ctx context.Context, input UploadProofInput, view *storage.PairView) (*storage.MatchPair, error) {
	ref, err := s.proofs.Save(ctx, input.Data, input.ContentType)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ProofUploads.WithLabelValues("rejected").Inc()
		}
		return nil, err
	}

	confirmationDeadline := s.deadlines.ConfirmationDeadline(time.Now().UTC())
	pair, err := s.store.UploadProof(ctx, input.PairID, ref, confirmationDeadline)
	if err != nil {
		if s.metrics != nil {
			s.metrics.ProofUploads.WithLabelValues("error").Inc()
		}
		if errors.Is(err, storage.ErrInvalidStatus) && time.Now().UTC().After(view.ProofDeadline) {
			return nil, ErrDeadlinePassed
		}
		return nil, err
	}

	if err := s.proofs.ScheduleDeletion(ctx, ref, s.proofRetention); err != nil {
		s.logger.Error("schedule proof deletion failed", "pair_id", pair.ID, "error", err)
	}

	s.publishProofUploaded(ctx, input.CorrelationID, pair)
	if s.metrics != nil {
		s.metrics.ProofUploads.WithLabelValues("success").Inc()
	}
	return pair, nil
}

// RequestExtension grants the funder's one-shot proof deadline extension.
func (s *MergeService) RequestExtension(ctx context.Context, input PairActionInput) (*storage.MatchPair, error) {
	view, err := s.store.GetPair(ctx, input.PairID)
	if err != nil {
		return nil, err
	}
	if view.FunderOwnerID == nil || *view.FunderOwnerID != input.OwnerID {
		return nil, ErrForbidden
	}
	if view.ExtensionGranted {
		return nil, ErrExtensionExhausted
	}

	newDeadline, err := s.deadlines.ExtendedProofDeadline(view.ProofDeadline, time.Now().UTC())
	if err != nil {
		return nil, ErrDeadlinePassed
	}

	pair, err := s.store.GrantExtension(ctx, input.PairID, newDeadline)
	if err != nil {
		return nil, err
	}

	s.insertAudit(ctx, input.OwnerID.String(), "user", "pairs.extend", "match_pair", pair.ID.String(), input.IP, input.UserAgent)
	return pair, nil
}

// ConfirmProof is the withdrawer acknowledging receipt. Confirmation triggers
// settlement of the funder's wallet credit. When the platform wallet is the
// receiving side there is no user withdrawer and only an operator may
// confirm, so this path rejects every caller for such pairs.
func (s *MergeService) ConfirmProof(ctx context.Context, input PairActionInput) (*storage.MatchPair, error) {
	view, err := s.store.GetPair(ctx, input.PairID)
	if err != nil {
		return nil, err
	}
	if view.WithdrawerOwnerID == nil || *view.WithdrawerOwnerID != input.OwnerID {
		if s.metrics != nil {
			s.metrics.PairConfirmations.WithLabelValues("forbidden").Inc()
		}
		return nil, ErrForbidden
	}

	pair, err := s.settleConfirmed(ctx, input)
	if err != nil {
		return nil, err
	}
	s.insertAudit(ctx, input.OwnerID.String(), "user", "pairs.confirm", "match_pair", pair.ID.String(), input.IP, input.UserAgent)
	return pair, nil
}

// ConfirmPlatformProof confirms receipt into the admin wallet on a pair the
// platform withdraws. Admin authorization is the caller's concern.
func (s *MergeService) ConfirmPlatformProof(ctx context.Context, input PairActionInput) (*storage.MatchPair, error) {
	view, err := s.store.GetPair(ctx, input.PairID)
	if err != nil {
		return nil, err
	}
	if !view.AdminIsWithdrawer() {
		if s.metrics != nil {
			s.metrics.PairConfirmations.WithLabelValues("forbidden").Inc()
		}
		return nil, ErrForbidden
	}
	return s.settleConfirmed(ctx, input)
}

/// settleConfirmed flips the pair to confirmed and kicks off settlement: a
// user-funded pair goes through the settlement pipeline, a platform-funded
// pair has no wallet to credit and settles in place.
func (s *MergeService) settleConfirmed(ctx context.Context, input PairActionInput) (*storage.MatchPair, error) {
	pair, err := s.store.ConfirmPair(ctx, input.PairID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.PairConfirmations.WithLabelValues("error").Inc()
		}
		return nil, err
	}

	confirmed, err := s.store.GetPair(ctx, pair.ID)
	if err != nil {
		return nil, err
	}
	if confirmed.AdminIsFunder() {
		if err := s.store.MarkPairSettled(ctx, pair.ID); err != nil {
			s.logger.Error("settle admin-funded pair failed", "pair_id", pair.ID, "error", err)
		}
	} else if s.settlement != nil {
		if err := s.settlement.RequestSettlement(ctx, *confirmed, input.CorrelationID); err != nil {
			// the rescan loop will pick the pair up again
			s.logger.Error("settlement request failed", "pair_id", pair.ID, "error", err)
		}
	}

	if s.metrics != nil {
		s.metrics.PairConfirmations.WithLabelValues("success").Inc()
	}
	return pair, nil
}

// RunMatchingPass executes one cycle's sweep. The join_open -> matching
// transition is the mutual exclusion point; a cycle already in matching is a
// crashed pass and is resumed, since ApplySweep commits everything in one
// transaction.
func (s *MergeService) RunMatchingPass(ctx context.Context, cycleID uuid.UUID) error {
	start := time.Now()

	if _, err := s.store.BeginMatching(ctx, cycleID); err != nil {
		if !errors.Is(err, storage.ErrInvalidStatus) {
			return err
		}
		cycle, getErr := s.store.GetCycle(ctx, cycleID)
		if getErr != nil {
			return getErr
		}
		switch cycle.Status {
		case storage.CycleMatching:
			// resume the crashed pass
		case storage.CycleCompleted:
			return nil
		default:
			return err
		}
	}

	now := time.Now().UTC()
	apply := storage.SweepApply{
		CycleID:        cycleID,
		WalletBalances: map[uuid.UUID]string{},
	}
	totals := map[string]int{}

	funders, err := s.listSide(ctx, cycleID, engine.DirectionFunding)
	if err != nil {
		return err
	}
	withdrawers, err := s.listSide(ctx, cycleID, engine.DirectionWithdrawal)
	if err != nil {
		return err
	}

	for _, currency := range engine.Currencies {
		result := engine.Sweep(filterCurrency(funders, currency), filterCurrency(withdrawers, currency))
		allocations := result.Allocations

		wallet, err := s.store.GetAdminWallet(ctx, currency)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			s.logger.Warn("no admin wallet for currency, remainders carried", "currency", currency)
		} else {
			resolver := engine.AdminWallet{ID: wallet.ID, Currency: wallet.Currency, Balance: wallet.Balance}
			fallback, carried := resolver.Resolve(result)
			allocations = append(allocations, fallback...)
			apply.WalletBalances[wallet.ID] = resolver.Balance.String()
			for _, rem := range carried {
				s.logger.Info("withdrawal carried to next cycle", "request_id", rem.ID, "remaining", rem.Remaining)
			}
		}

		for _, alloc := range allocations {
			apply.Pairs = append(apply.Pairs, newPairFromAllocation(alloc, cycleID, s.deadlines.ProofDeadline(now)))
			totals[string(alloc.Source)]++
		}
	}

	if err := s.store.ApplySweep(ctx, apply); err != nil {
		if errors.Is(err, storage.ErrInvalidStatus) {
			// another instance finished the pass first
			return nil
		}
		return err
	}

	if s.metrics != nil {
		for source, count := range totals {
			s.metrics.PairsCreated.WithLabelValues(source).Add(float64(count))
		}
		s.metrics.MatchingPassDuration.Observe(time.Since(start).Seconds())
	}

	s.publishCycleMatched(ctx, cycleID, len(apply.Pairs), totals)
	s.logger.Info("matching pass completed", "cycle_id", cycleID, "pairs", len(apply.Pairs))
	return nil
}

func (s *MergeService) listSide(ctx context.Context, cycleID uuid.UUID, direction engine.Direction) ([]engine.Request, error) {
	stored, err := s.store.ListOptedIn(ctx, cycleID, direction)
	if err != nil {
		return nil, err
	}
	out := make([]engine.Request, 0, len(stored))
	for _, req := range stored {
		out = append(out, engine.Request{
			ID:        req.ID,
			OwnerID:   req.OwnerID,
			Currency:  req.Currency,
			Amount:    req.Amount,
			Remaining: req.AmountRemaining,
			CreatedAt: req.CreatedAt,
		})
	}
	return out, nil
}

// SweepDeadlines expires overdue pairs and blocks the party that went silent:
// the funder when no proof landed, the withdrawer when an uploaded proof was
// never confirmed. Reserved amounts stay held until an admin releases them.
func (s *MergeService) SweepDeadlines(ctx context.Context, now time.Time) error {
	expired, err := s.store.ExpireOverduePairs(ctx, now)
	if err != nil {
		return err
	}

	for _, pair := range expired {
		party := "funder"
		owner := pair.FunderOwnerID
		reason := "proof deadline missed"
		if pair.ProofUploadedAt != nil {
			party = "withdrawer"
			owner = pair.WithdrawerOwnerID
			reason = "confirmation deadline missed"
		}

		if owner != nil {
			if err := s.store.BlockWallet(ctx, *owner, reason, &pair.ID); err != nil {
				s.logger.Error("block wallet failed", "owner_id", *owner, "pair_id", pair.ID, "error", err)
			}
		}

		s.publishPairExpired(ctx, &pair, party)
		if s.metrics != nil {
			s.metrics.PairsExpired.WithLabelValues(party).Inc()
		}
		s.logger.Info("pair expired", "pair_id", pair.ID, "party", party)
	}
	return nil
}

func newPairFromAllocation(alloc engine.Allocation, cycleID uuid.UUID, proofDeadline time.Time) storage.NewPair {
	pair := storage.NewPair{
		ID:            uuid.New(),
		CycleID:       &cycleID,
		Currency:      alloc.Currency,
		Amount:        alloc.Amount,
		Source:        alloc.Source,
		ProofDeadline: proofDeadline,
	}
	if alloc.FundingID != uuid.Nil {
		fundingID := alloc.FundingID
		pair.FundingRequestID = &fundingID
	}
	if alloc.WithdrawalID != uuid.Nil {
		withdrawalID := alloc.WithdrawalID
		pair.WithdrawalRequestID = &withdrawalID
	}
	if alloc.AdminWalletID != uuid.Nil {
		walletID := alloc.AdminWalletID
		pair.AdminWalletID = &walletID
	}
	return pair
}

func filterCurrency(requests []engine.Request, currency engine.Currency) []engine.Request {
	var out []engine.Request
	for _, req := range requests {
		if req.Currency == currency {
			out = append(out, req)
		}
	}
	return out
}

func (s *MergeService) publishRequestCreated(ctx context.Context, correlationID string, req *storage.Request) {
	if s.producer == nil || req == nil {
		return
	}
	eventID := kafka.DeterministicEventID("merge.requests.created", req.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "merge.requests.created", 1, correlationID)
	if err != nil {
		s.logger.Error("build request created envelope failed", "error", err)
		return
	}
	payload := RequestCreatedEvent{
		Envelope:  env,
		RequestID: req.ID.String(),
		OwnerID:   req.OwnerID.String(),
		Direction: string(req.Direction),
		Currency:  string(req.Currency),
		Amount:    req.Amount.String(),
		CreatedAt: req.CreatedAt.UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.RequestsCreated, req.OwnerID.String(), payload); err != nil {
		s.logger.Error("publish request created failed", "error", err)
	}
}

func (s *MergeService) publishCycleMatched(ctx context.Context, cycleID uuid.UUID, pairs int, bySource map[string]int) {
	if s.producer == nil {
		return
	}
	eventID := kafka.DeterministicEventID("merge.cycles.matched", cycleID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "merge.cycles.matched", 1, "")
	if err != nil {
		s.logger.Error("build cycle matched envelope failed", "error", err)
		return
	}
	payload := CycleMatchedEvent{
		Envelope:  env,
		CycleID:   cycleID.String(),
		PairCount: pairs,
		BySource:  bySource,
		MatchedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.CyclesMatched, cycleID.String(), payload); err != nil {
		s.logger.Error("publish cycle matched failed", "error", err)
	}
}

func (s *MergeService) publishProofUploaded(ctx context.Context, correlationID string, pair *storage.MatchPair) {
	if s.producer == nil || pair == nil {
		return
	}
	eventID := kafka.DeterministicEventID("merge.pairs.proof_uploaded", pair.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "merge.pairs.proof_uploaded", 1, correlationID)
	if err != nil {
		s.logger.Error("build proof uploaded envelope failed", "error", err)
		return
	}
	var deadline string
	if pair.ConfirmationDeadline != nil {
		deadline = pair.ConfirmationDeadline.UTC().Format(time.RFC3339)
	}
	payload := ProofUploadedEvent{
		Envelope:             env,
		PairID:               pair.ID.String(),
		Currency:             string(pair.Currency),
		Amount:               pair.Amount.String(),
		ConfirmationDeadline: deadline,
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.ProofUploaded, pair.ID.String(), payload); err != nil {
		s.logger.Error("publish proof uploaded failed", "error", err)
	}
}

func (s *MergeService) publishPairExpired(ctx context.Context, pair *storage.PairView, party string) {
	if s.producer == nil || pair == nil {
		return
	}
	eventID := kafka.DeterministicEventID("merge.pairs.expired", pair.ID.String())
	env, err := kafka.NewEnvelopeWithID(eventID, "merge.pairs.expired", 1, "")
	if err != nil {
		s.logger.Error("build pair expired envelope failed", "error", err)
		return
	}
	payload := PairExpiredEvent{
		Envelope:  env,
		PairID:    pair.ID.String(),
		Currency:  string(pair.Currency),
		Amount:    pair.Amount.String(),
		Party:     party,
		ExpiredAt: time.Now().UTC().Format(time.RFC3339),
	}
	if _, _, err := s.producer.PublishJSON(ctx, s.topics.PairsExpired, pair.ID.String(), payload); err != nil {
		s.logger.Error("publish pair expired failed", "error", err)
	}
}

func (s *MergeService) insertAudit(ctx context.Context, actorID, actorType, action, entityType, entityID, ip, userAgent string) {
	if s.store == nil {
		return
	}
	log := storage.AuditLog{
		ActorID:    actorID,
		ActorType:  actorType,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		IP:         ip,
		UserAgent:  userAgent,
	}
	if err := s.store.InsertAudit(ctx, log); err != nil {
		s.logger.Error("audit log failed", "error", err)
	}
}

// Event payloads

type RequestCreatedEvent struct {
	kafka.Envelope
	RequestID string `json:"request_id"`
	OwnerID   string `json:"owner_id"`
	Direction string `json:"direction"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	CreatedAt string `json:"created_at"`
}

type CycleMatchedEvent struct {
	kafka.Envelope
	CycleID   string         `json:"cycle_id"`
	PairCount int            `json:"pair_count"`
	BySource  map[string]int `json:"by_source"`
	MatchedAt string         `json:"matched_at"`
}

type ProofUploadedEvent struct {
	kafka.Envelope
	PairID               string `json:"pair_id"`
	Currency             string `json:"currency"`
	Amount               string `json:"amount"`
	ConfirmationDeadline string `json:"confirmation_deadline,omitempty"`
}

type PairExpiredEvent struct {
	kafka.Envelope
	PairID    string `json:"pair_id"`
	Currency  string `json:"currency"`
	Amount    string `json:"amount"`
	Party     string `json:"party"`
	ExpiredAt string `json:"expired_at"`
}
