package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
)

type fakeAdminStore struct {
	requests    map[uuid.UUID]*storage.Request
	cycle       *storage.MergeCycle
	adminWallet *storage.AdminWallet

	createdPairs  []storage.NewPair
	debits        []decimal.Decimal
	credits       []decimal.Decimal
	unblocked     []uuid.UUID
	released      []uuid.UUID
	shortenedTo   []time.Time
	openedWindows []uuid.UUID

	createPairErr error
	debitErr      error
}

func newFakeAdminStore() *fakeAdminStore {
	return &fakeAdminStore{requests: map[uuid.UUID]*storage.Request{}}
}

func (f *fakeAdminStore) GetRequest(_ context.Context, requestID uuid.UUID) (*storage.Request, error) {
	req, ok := f.requests[requestID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return req, nil
}

func (f *fakeAdminStore) ListUnmatched(_ context.Context, _ engine.Currency) ([]storage.Request, error) {
	return nil, nil
}

func (f *fakeAdminStore) ListExpiredPairs(_ context.Context) ([]storage.PairView, error) {
	return nil, nil
}

func (f *fakeAdminStore) GetPair(_ context.Context, pairID uuid.UUID) (*storage.PairView, error) {
	for _, pair := range f.createdPairs {
		if pair.ID == pairID {
			return &storage.PairView{MatchPair: storage.MatchPair{
				ID:       pair.ID,
				Currency: pair.Currency,
				Amount:   pair.Amount,
				Status:   engine.PairPendingProof,
				Source:   pair.Source,
			}}, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeAdminStore) CreateManualPair(_ context.Context, pair storage.NewPair) (*storage.PairView, error) {
	if f.createPairErr != nil {
		return nil, f.createPairErr
	}
	f.createdPairs = append(f.createdPairs, pair)
	view, _ := f.GetPair(context.Background(), pair.ID)
	view.FundingRequestID = pair.FundingRequestID
	view.WithdrawalRequestID = pair.WithdrawalRequestID
	view.AdminWalletID = pair.AdminWalletID
	return view, nil
}

func (f *fakeAdminStore) ReleaseExpiredReservation(_ context.Context, pairID uuid.UUID) (*storage.MatchPair, error) {
	f.released = append(f.released, pairID)
	return &storage.MatchPair{ID: pairID, Status: engine.PairExpired, ReservationReleased: true}, nil
}

func (f *fakeAdminStore) GetNextCycle(_ context.Context) (*storage.MergeCycle, error) {
	if f.cycle == nil {
		return nil, storage.ErrNotFound
	}
	return f.cycle, nil
}

func (f *fakeAdminStore) OpenJoinWindow(_ context.Context, cycleID uuid.UUID) (*storage.MergeCycle, error) {
	f.openedWindows = append(f.openedWindows, cycleID)
	f.cycle.Status = storage.CycleJoinOpen
	return f.cycle, nil
}

func (f *fakeAdminStore) ShortenJoinWindow(_ context.Context, _ uuid.UUID, end time.Time) (*storage.MergeCycle, error) {
	if f.cycle == nil || f.cycle.Status != storage.CycleJoinOpen {
		return nil, storage.ErrInvalidStatus
	}
	f.shortenedTo = append(f.shortenedTo, end)
	f.cycle.JoinWindowEnd = end
	return f.cycle, nil
}

func (f *fakeAdminStore) GetAdminWallet(_ context.Context, currency engine.Currency) (*storage.AdminWallet, error) {
	if f.adminWallet == nil || f.adminWallet.Currency != currency {
		return nil, storage.ErrNotFound
	}
	return f.adminWallet, nil
}

func (f *fakeAdminStore) ListAdminWallets(_ context.Context) ([]storage.AdminWallet, error) {
	if f.adminWallet == nil {
		return nil, nil
	}
	return []storage.AdminWallet{*f.adminWallet}, nil
}

func (f *fakeAdminStore) DebitAdminWallet(_ context.Context, _ uuid.UUID, amount decimal.Decimal) error {
	if f.debitErr != nil {
		return f.debitErr
	}
	f.debits = append(f.debits, amount)
	return nil
}

func (f *fakeAdminStore) CreditAdminWallet(_ context.Context, _ uuid.UUID, amount decimal.Decimal) error {
	f.credits = append(f.credits, amount)
	return nil
}

func (f *fakeAdminStore) UnblockWallet(_ context.Context, ownerID uuid.UUID) error {
	f.unblocked = append(f.unblocked, ownerID)
	return nil
}

func (f *fakeAdminStore) InsertAudit(_ context.Context, _ storage.AuditLog) error {
	return nil
}

type fakePairWorkflow struct {
	uploaded  []uuid.UUID
	confirmed []uuid.UUID
	err       error
}

func (f *fakePairWorkflow) UploadPlatformProof(_ context.Context, input UploadProofInput) (*storage.MatchPair, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.uploaded = append(f.uploaded, input.PairID)
	return &storage.MatchPair{ID: input.PairID, Status: engine.PairProofUploaded}, nil
}

func (f *fakePairWorkflow) ConfirmPlatformProof(_ context.Context, input PairActionInput) (*storage.MatchPair, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.confirmed = append(f.confirmed, input.PairID)
	return &storage.MatchPair{ID: input.PairID, Status: engine.PairConfirmed}, nil
}

func newTestAdminService(store *fakeAdminStore) *AdminService {
	return NewAdminService(store, &fakePairWorkflow{}, slog.Default(), nil, testDeadlines())
}

func newTestAdminServiceWithPairs(store *fakeAdminStore, pairs PairWorkflow) *AdminService {
	return NewAdminService(store, pairs, slog.Default(), nil, testDeadlines())
}

func adminRequest(store *fakeAdminStore, direction engine.Direction, remaining int64) *storage.Request {
	value := decimal.NewFromInt(remaining)
	req := &storage.Request{
		ID:              uuid.New(),
		OwnerID:         uuid.New(),
		Direction:       direction,
		Currency:        engine.CurrencyNaira,
		Amount:          value,
		AmountRemaining: value,
	}
	store.requests[req.ID] = req
	return req
}

func TestManualMatchDefaultsToSmallerSide(t *testing.T) {
	store := newFakeAdminStore()
	funding := adminRequest(store, engine.DirectionFunding, 1000)
	withdrawal := adminRequest(store, engine.DirectionWithdrawal, 600)
	svc := newTestAdminService(store)

	pair, err := svc.ManualMatch(context.Background(), ManualMatchInput{
		FundingRequestID:    funding.ID,
		WithdrawalRequestID: withdrawal.ID,
	})
	if err != nil {
		t.Fatalf("manual match: %v", err)
	}
	if !pair.Amount.Equal(decimal.NewFromInt(600)) {
		t.Fatalf("expected amount 600, got %s", pair.Amount)
	}
	created := store.createdPairs[0]
	if created.Source != engine.SourceManual {
		t.Fatalf("expected manual source, got %s", created.Source)
	}
	if created.FundingRequestID == nil || *created.FundingRequestID != funding.ID {
		t.Fatalf("funding side mismatch")
	}
}

func TestManualMatchRejectsMismatches(t *testing.T) {
	store := newFakeAdminStore()
	fundingA := adminRequest(store, engine.DirectionFunding, 1000)
	fundingB := adminRequest(store, engine.DirectionFunding, 1000)
	withdrawal := adminRequest(store, engine.DirectionWithdrawal, 1000)
	withdrawal.Currency = engine.CurrencyUSDT
	svc := newTestAdminService(store)

	if _, err := svc.ManualMatch(context.Background(), ManualMatchInput{
		FundingRequestID:    fundingA.ID,
		WithdrawalRequestID: fundingB.ID,
	}); !errors.Is(err, ErrDirectionMismatch) {
		t.Fatalf("expected ErrDirectionMismatch, got %v", err)
	}

	if _, err := svc.ManualMatch(context.Background(), ManualMatchInput{
		FundingRequestID:    fundingA.ID,
		WithdrawalRequestID: withdrawal.ID,
	}); !errors.Is(err, ErrCurrencyMismatch) {
		t.Fatalf("expected ErrCurrencyMismatch, got %v", err)
	}
}

func TestFallbackMatchWithdrawalReservesBalance(t *testing.T) {
	store := newFakeAdminStore()
	withdrawal := adminRequest(store, engine.DirectionWithdrawal, 700)
	store.adminWallet = &storage.AdminWallet{ID: uuid.New(), Currency: engine.CurrencyNaira, Balance: decimal.NewFromInt(1000)}
	svc := newTestAdminService(store)

	pair, err := svc.FallbackMatch(context.Background(), FallbackMatchInput{RequestID: withdrawal.ID})
	if err != nil {
		t.Fatalf("fallback match: %v", err)
	}
	if len(store.debits) != 1 || !store.debits[0].Equal(decimal.NewFromInt(700)) {
		t.Fatalf("expected wallet debit of 700, got %v", store.debits)
	}
	created := store.createdPairs[0]
	if created.WithdrawalRequestID == nil || created.AdminWalletID == nil || created.FundingRequestID != nil {
		t.Fatalf("admin wallet should fund the withdrawal")
	}
	if pair.Amount.Cmp(decimal.NewFromInt(700)) != 0 {
		t.Fatalf("expected pair amount 700, got %s", pair.Amount)
	}
}

func TestFallbackMatchInsufficientBalance(t *testing.T) {
	store := newFakeAdminStore()
	withdrawal := adminRequest(store, engine.DirectionWithdrawal, 700)
	store.adminWallet = &storage.AdminWallet{ID: uuid.New(), Currency: engine.CurrencyNaira, Balance: decimal.NewFromInt(100)}
	store.debitErr = storage.ErrInsufficientBalance
	svc := newTestAdminService(store)

	if _, err := svc.FallbackMatch(context.Background(), FallbackMatchInput{RequestID: withdrawal.ID}); !errors.Is(err, storage.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(store.createdPairs) != 0 {
		t.Fatalf("no pair should be created")
	}
}

func TestFallbackMatchReturnsBalanceOnFailure(t *testing.T) {
	store := newFakeAdminStore()
	withdrawal := adminRequest(store, engine.DirectionWithdrawal, 700)
	store.adminWallet = &storage.AdminWallet{ID: uuid.New(), Currency: engine.CurrencyNaira, Balance: decimal.NewFromInt(1000)}
	store.createPairErr = errors.New("insert failed")
	svc := newTestAdminService(store)

	if _, err := svc.FallbackMatch(context.Background(), FallbackMatchInput{RequestID: withdrawal.ID}); err == nil {
		t.Fatalf("expected create failure")
	}
	if len(store.credits) != 1 || !store.credits[0].Equal(decimal.NewFromInt(700)) {
		t.Fatalf("reserved balance should be returned, got %v", store.credits)
	}
}

func TestFallbackMatchFundingNeedsNoBalance(t *testing.T) {
	store := newFakeAdminStore()
	funding := adminRequest(store, engine.DirectionFunding, 900)
	store.adminWallet = &storage.AdminWallet{ID: uuid.New(), Currency: engine.CurrencyNaira, Balance: decimal.Zero}
	svc := newTestAdminService(store)

	if _, err := svc.FallbackMatch(context.Background(), FallbackMatchInput{RequestID: funding.ID}); err != nil {
		t.Fatalf("fallback match: %v", err)
	}
	if len(store.debits) != 0 {
		t.Fatalf("funding fallback must not debit the wallet")
	}
	created := store.createdPairs[0]
	if created.FundingRequestID == nil || created.WithdrawalRequestID != nil {
		t.Fatalf("admin wallet should receive the funding")
	}
}

func TestTriggerCycleNow(t *testing.T) {
	store := newFakeAdminStore()
	store.cycle = &storage.MergeCycle{
		ID:            uuid.New(),
		Status:        storage.CycleScheduled,
		ScheduledTime: time.Now().UTC().Add(2 * time.Hour),
		JoinWindowEnd: time.Now().UTC().Add(2*time.Hour + 5*time.Minute),
	}
	svc := newTestAdminService(store)

	cycle, err := svc.TriggerCycleNow(context.Background(), AdminActor{ID: "ops"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(store.openedWindows) != 1 {
		t.Fatalf("scheduled cycle should be opened first")
	}
	if len(store.shortenedTo) != 1 {
		t.Fatalf("join window should be shortened")
	}
	if cycle.JoinWindowEnd.After(time.Now().UTC().Add(time.Second)) {
		t.Fatalf("join window end should be pulled to now")
	}
}

func TestAdminUploadProofDelegates(t *testing.T) {
	store := newFakeAdminStore()
	pairs := &fakePairWorkflow{}
	svc := newTestAdminServiceWithPairs(store, pairs)
	pairID := uuid.New()

	pair, err := svc.UploadProof(context.Background(), pairID, []byte("receipt"), "image/png", AdminActor{ID: "ops"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if pair.Status != engine.PairProofUploaded {
		t.Fatalf("expected proof_uploaded, got %s", pair.Status)
	}
	if len(pairs.uploaded) != 1 || pairs.uploaded[0] != pairID {
		t.Fatalf("expected upload for %s, got %v", pairID, pairs.uploaded)
	}
}

func TestAdminConfirmPairDelegates(t *testing.T) {
	store := newFakeAdminStore()
	pairs := &fakePairWorkflow{}
	svc := newTestAdminServiceWithPairs(store, pairs)
	pairID := uuid.New()

	pair, err := svc.ConfirmPair(context.Background(), pairID, AdminActor{ID: "ops"})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if pair.Status != engine.PairConfirmed {
		t.Fatalf("expected confirmed, got %s", pair.Status)
	}
	if len(pairs.confirmed) != 1 || pairs.confirmed[0] != pairID {
		t.Fatalf("expected confirm for %s, got %v", pairID, pairs.confirmed)
	}
}

func TestAdminConfirmPairPassesErrorThrough(t *testing.T) {
	store := newFakeAdminStore()
	pairs := &fakePairWorkflow{err: ErrForbidden}
	svc := newTestAdminServiceWithPairs(store, pairs)

	if _, err := svc.ConfirmPair(context.Background(), uuid.New(), AdminActor{ID: "ops"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestReleaseReservation(t *testing.T) {
	store := newFakeAdminStore()
	svc := newTestAdminService(store)
	pairID := uuid.New()

	pair, err := svc.ReleaseReservation(context.Background(), pairID, AdminActor{ID: "ops"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if !pair.ReservationReleased {
		t.Fatalf("reservation should be released")
	}
	if len(store.released) != 1 || store.released[0] != pairID {
		t.Fatalf("expected release call for pair")
	}
}
