package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
)

const pairColumns = `id, cycle_id, funding_request_id, withdrawal_request_id, admin_wallet_id, currency, amount::text, status, source, proof_ref, proof_uploaded_at, proof_deadline, confirmation_deadline, extension_granted, confirmed_at, completed_at, settled_at, reservation_released, created_at, updated_at`

const pairViewQuery = `
	SELECT p.id, p.cycle_id, p.funding_request_id, p.withdrawal_request_id, p.admin_wallet_id, p.currency, p.amount::text, p.status, p.source, p.proof_ref, p.proof_uploaded_at, p.proof_deadline, p.confirmation_deadline, p.extension_granted, p.confirmed_at, p.completed_at, p.settled_at, p.reservation_released, p.created_at, p.updated_at, f.owner_id, w.owner_id
	FROM match_pairs p
	LEFT JOIN merge_requests f ON f.id = p.funding_request_id
	LEFT JOIN merge_requests w ON w.id = p.withdrawal_request_id
`

func (s *Store) GetPair(ctx context.Context, pairID uuid.UUID) (*PairView, error) {
	row := s.pool.QueryRow(ctx, pairViewQuery+` WHERE p.id = $1`, pairID)
	pair, err := scanPairView(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return pair, nil
}

// ListActivePairsForOwner returns non-terminal pairs where the owner sits on
// either side, oldest first.
func (s *Store) ListActivePairsForOwner(ctx context.Context, ownerID uuid.UUID) ([]PairView, error) {
	rows, err := s.pool.Query(ctx, pairViewQuery+`
		WHERE p.status IN ('pending_proof', 'proof_uploaded')
		  AND (f.owner_id = $1 OR w.owner_id = $1)
		ORDER BY p.created_at, p.id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPairViews(rows)
}

func (s *Store) ListExpiredPairs(ctx context.Context) ([]PairView, error) {
	rows, err := s.pool.Query(ctx, pairViewQuery+`
		WHERE p.status = 'expired' AND NOT p.reservation_released
		ORDER BY p.created_at, p.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPairViews(rows)
}

// UploadProof transitions pending_proof -> proof_uploaded while the deadline
// still holds. Authorization happens in the service before this call.
func (s *Store) UploadProof(ctx context.Context, pairID uuid.UUID, proofRef string, confirmationDeadline time.Time) (*MatchPair, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE match_pairs
		SET status = 'proof_uploaded', proof_ref = $2, proof_uploaded_at = now(), confirmation_deadline = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending_proof' AND proof_deadline > now()
		RETURNING `+pairColumns+`
	`, pairID, proofRef, confirmationDeadline)
	return s.pairOrStatusError(ctx, row, pairID)
}

// GrantExtension pushes the proof deadline forward once, only before the
// current deadline passes.
func (s *Store) GrantExtension(ctx context.Context, pairID uuid.UUID, newDeadline time.Time) (*MatchPair, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE match_pairs
		SET proof_deadline = $2, extension_granted = true, updated_at = now()
		WHERE id = $1 AND status = 'pending_proof' AND NOT extension_granted AND proof_deadline > now()
		RETURNING `+pairColumns+`
	`, pairID, newDeadline)
	return s.pairOrStatusError(ctx, row, pairID)
}

// ConfirmPair transitions proof_uploaded -> confirmed and, in the same
// transaction, marks parent requests completed once all of their pairs are
// confirmed.
func (s *Store) ConfirmPair(ctx context.Context, pairID uuid.UUID) (*MatchPair, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `
		UPDATE match_pairs
		SET status = 'confirmed', confirmed_at = now(), completed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'proof_uploaded'
		RETURNING `+pairColumns+`
	`, pairID)

	pair, err := scanPairRow(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var exists bool
		check := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM match_pairs WHERE id = $1)`, pairID)
		if scanErr := check.Scan(&exists); scanErr != nil {
			return nil, scanErr
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidStatus
	}

	parentIDs := make([]uuid.UUID, 0, 2)
	if pair.FundingRequestID != nil {
		parentIDs = append(parentIDs, *pair.FundingRequestID)
	}
	if pair.WithdrawalRequestID != nil {
		parentIDs = append(parentIDs, *pair.WithdrawalRequestID)
	}
	for _, parentID := range parentIDs {
		if _, err := tx.Exec(ctx, `
			UPDATE merge_requests
			SET completed = true, updated_at = now()
			WHERE id = $1 AND fully_matched AND NOT completed
			  AND NOT EXISTS (
				SELECT 1 FROM match_pairs
				WHERE (funding_request_id = $1 OR withdrawal_request_id = $1)
				  AND status <> 'confirmed'
			  )
		`, parentID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return pair, nil
}

// ExpireOverduePairs moves every overdue pair to expired and returns them
// with owners resolved so the caller can block the party at fault.
func (s *Store) ExpireOverduePairs(ctx context.Context, now time.Time) ([]PairView, error) {
	rows, err := s.pool.Query(ctx, `
		WITH expired AS (
			UPDATE match_pairs
			SET status = 'expired', updated_at = now()
			WHERE (status = 'pending_proof' AND proof_deadline < $1)
			   OR (status = 'proof_uploaded' AND confirmation_deadline < $1)
			RETURNING `+pairColumns+`
		)
		SELECT p.id, p.cycle_id, p.funding_request_id, p.withdrawal_request_id, p.admin_wallet_id, p.currency, p.amount, p.status, p.source, p.proof_ref, p.proof_uploaded_at, p.proof_deadline, p.confirmation_deadline, p.extension_granted, p.confirmed_at, p.completed_at, p.settled_at, p.reservation_released, p.created_at, p.updated_at, f.owner_id, w.owner_id
		FROM expired p
		LEFT JOIN merge_requests f ON f.id = p.funding_request_id
		LEFT JOIN merge_requests w ON w.id = p.withdrawal_request_id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPairViews(rows)
}

func (s *Store) MarkPairSettled(ctx context.Context, pairID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE match_pairs
		SET settled_at = COALESCE(settled_at, now()), updated_at = now()
		WHERE id = $1 AND status = 'confirmed'
	`, pairID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus
	}
	return nil
}

// ListUnsettledConfirmed powers the settlement rescan: confirmed pairs whose
// credit never landed.
func (s *Store) ListUnsettledConfirmed(ctx context.Context, confirmedBefore time.Time) ([]PairView, error) {
	rows, err := s.pool.Query(ctx, pairViewQuery+`
		WHERE p.status = 'confirmed' AND p.settled_at IS NULL AND p.confirmed_at < $1
		ORDER BY p.confirmed_at, p.id
	`, confirmedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPairViews(rows)
}

// ReleaseExpiredReservation returns an expired pair's amount to its parent
// requests. Admin-only; runs at most once per pair.
func (s *Store) ReleaseExpiredReservation(ctx context.Context, pairID uuid.UUID) (*MatchPair, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	row := tx.QueryRow(ctx, `
		UPDATE match_pairs
		SET reservation_released = true, updated_at = now()
		WHERE id = $1 AND status = 'expired' AND NOT reservation_released
		RETURNING `+pairColumns+`
	`, pairID)

	pair, err := scanPairRow(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var exists bool
		check := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM match_pairs WHERE id = $1)`, pairID)
		if scanErr := check.Scan(&exists); scanErr != nil {
			return nil, scanErr
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidStatus
	}

	for _, parentID := range []*uuid.UUID{pair.FundingRequestID, pair.WithdrawalRequestID} {
		if parentID == nil {
			continue
		}
		if _, err := tx.Exec(ctx, `
			UPDATE merge_requests
			SET amount_remaining = amount_remaining + $2, fully_matched = false, updated_at = now()
			WHERE id = $1
		`, *parentID, pair.Amount.String()); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return pair, nil
}

// SweepApply is everything one matching pass writes atomically: the new
// pairs, the reservation decrements they imply, updated admin wallet
// balances, and the cycle's completion.
type SweepApply struct {
	CycleID        uuid.UUID
	Pairs          []NewPair
	WalletBalances map[uuid.UUID]string
}

func (s *Store) ApplySweep(ctx context.Context, apply SweepApply) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, pair := range apply.Pairs {
		if err := insertPair(ctx, tx, pair); err != nil {
			return err
		}
	}

	for walletID, balance := range apply.WalletBalances {
		if _, err := tx.Exec(ctx, `
			UPDATE admin_wallets
			SET balance = $2, updated_at = now()
			WHERE id = $1
		`, walletID, balance); err != nil {
			return err
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE merge_cycles
		SET status = 'completed', updated_at = now()
		WHERE id = $1 AND status = 'matching'
	`, apply.CycleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidStatus
	}

	return tx.Commit(ctx)
}

// CreateManualPair reserves amounts and inserts one admin-created pair.
func (s *Store) CreateManualPair(ctx context.Context, pair NewPair) (*PairView, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := insertPair(ctx, tx, pair); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetPair(ctx, pair.ID)
}

// insertPair decrements both parent reservations under a remaining-amount
// guard, then writes the pair row. Called inside a transaction.
func insertPair(ctx context.Context, tx pgx.Tx, pair NewPair) error {
	for _, parentID := range []*uuid.UUID{pair.FundingRequestID, pair.WithdrawalRequestID} {
		if parentID == nil {
			continue
		}
		tag, err := tx.Exec(ctx, `
			UPDATE merge_requests
			SET amount_remaining = amount_remaining - $2,
			    fully_matched = (amount_remaining - $2 = 0),
			    updated_at = now()
			WHERE id = $1
			  AND NOT cancelled AND NOT completed
			  AND amount_remaining >= $2
		`, *parentID, pair.Amount.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("reserve %s on request %s: %w", pair.Amount, parentID, ErrInsufficientRemaining)
		}
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO match_pairs (id, cycle_id, funding_request_id, withdrawal_request_id, admin_wallet_id, currency, amount, status, source, proof_deadline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending_proof', $8, $9)
	`, pair.ID, pair.CycleID, pair.FundingRequestID, pair.WithdrawalRequestID, pair.AdminWalletID, pair.Currency, pair.Amount.String(), pair.Source, pair.ProofDeadline)
	return err
}

// ListOptedIn snapshots the opted-in open requests of a cycle for one side.
// Called after the cycle has moved to matching, so no join can still land.
func (s *Store) ListOptedIn(ctx context.Context, cycleID uuid.UUID, direction engine.Direction) ([]Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM merge_requests
		WHERE joined_cycle_id = $1 AND direction = $2
		  AND NOT cancelled AND NOT completed
		  AND amount_remaining > 0
		ORDER BY created_at, id
	`, cycleID, direction)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *Store) pairOrStatusError(ctx context.Context, row pgx.Row, pairID uuid.UUID) (*MatchPair, error) {
	pair, err := scanPairRow(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var exists bool
		check := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM match_pairs WHERE id = $1)`, pairID)
		if scanErr := check.Scan(&exists); scanErr != nil {
			return nil, scanErr
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidStatus
	}
	return pair, nil
}

func collectPairViews(rows pgx.Rows) ([]PairView, error) {
	var out []PairView
	for rows.Next() {
		view, err := scanPairView(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *view)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanPairView(row pgx.Row) (*PairView, error) {
	var view PairView
	var amountStr string
	if err := row.Scan(&view.ID, &view.CycleID, &view.FundingRequestID, &view.WithdrawalRequestID, &view.AdminWalletID, &view.Currency, &amountStr, &view.Status, &view.Source, &view.ProofRef, &view.ProofUploadedAt, &view.ProofDeadline, &view.ConfirmationDeadline, &view.ExtensionGranted, &view.ConfirmedAt, &view.CompletedAt, &view.SettledAt, &view.ReservationReleased, &view.CreatedAt, &view.UpdatedAt, &view.FunderOwnerID, &view.WithdrawerOwnerID); err != nil {
		return nil, err
	}
	amount, err := parseAmount(amountStr, "amount")
	if err != nil {
		return nil, err
	}
	view.Amount = amount
	return &view, nil
}

func scanPairRow(row pgx.Row) (*MatchPair, error) {
	var pair MatchPair
	var amountStr string
	if err := row.Scan(&pair.ID, &pair.CycleID, &pair.FundingRequestID, &pair.WithdrawalRequestID, &pair.AdminWalletID, &pair.Currency, &amountStr, &pair.Status, &pair.Source, &pair.ProofRef, &pair.ProofUploadedAt, &pair.ProofDeadline, &pair.ConfirmationDeadline, &pair.ExtensionGranted, &pair.ConfirmedAt, &pair.CompletedAt, &pair.SettledAt, &pair.ReservationReleased, &pair.CreatedAt, &pair.UpdatedAt); err != nil {
		return nil, err
	}
	amount, err := parseAmount(amountStr, "amount")
	if err != nil {
		return nil, err
	}
	pair.Amount = amount
	return &pair, nil
}
