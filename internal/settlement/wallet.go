package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
)

const settlementEventPrefix = "settlement:"

// WalletStore is the balance-mutation side of the wallet ledger. Credits are
// idempotent per key; debits are balance-guarded.
type WalletStore struct {
	pool *pgxpool.Pool
}

func NewWalletStore(pool *pgxpool.Pool) *WalletStore {
	return &WalletStore{pool: pool}
}

// Credit applies amount to the owner's wallet exactly once per idempotency
// key. Returns false when the key was seen before (crash-retry replay).
func (s *WalletStore) Credit(ctx context.Context, ownerID uuid.UUID, currency engine.Currency, amount decimal.Decimal, idempotencyKey string) (bool, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return false, fmt.Errorf("credit amount must be positive")
	}
	key := settlementEventKey(idempotencyKey)
	if key == "" {
		return false, fmt.Errorf("idempotency key required")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var exists bool
	row := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, key)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE wallet_accounts
		SET balance = balance + $3, updated_at = now()
		WHERE owner_id = $1 AND currency = $2
	`, ownerID, currency, amount.String())
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, ErrWalletNotFound
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_logs (id, owner_id, currency, entry_type, amount, reference)
		VALUES ($1, $2, $3, 'credit', $4, $5)
	`, uuid.New(), ownerID, currency, amount.String(), idempotencyKey); err != nil {
		return false, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id)
		VALUES ($1)
		ON CONFLICT (event_id) DO NOTHING
	`, key); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Debit removes amount from the owner's wallet, failing without side effects
// when the balance does not cover it.
func (s *WalletStore) Debit(ctx context.Context, ownerID uuid.UUID, currency engine.Currency, amount decimal.Decimal, reference string) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("debit amount must be positive")
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE wallet_accounts
		SET balance = balance - $3, updated_at = now()
		WHERE owner_id = $1 AND currency = $2 AND balance >= $3
	`, ownerID, currency, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		row := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM wallet_accounts WHERE owner_id = $1 AND currency = $2)
		`, ownerID, currency)
		if scanErr := row.Scan(&exists); scanErr != nil {
			return scanErr
		}
		if !exists {
			return ErrWalletNotFound
		}
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO wallet_logs (id, owner_id, currency, entry_type, amount, reference)
		VALUES ($1, $2, $3, 'debit', $4, $5)
	`, uuid.New(), ownerID, currency, amount.String(), reference); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *WalletStore) GetBalance(ctx context.Context, ownerID uuid.UUID, currency engine.Currency) (decimal.Decimal, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT balance::text
		FROM wallet_accounts
		WHERE owner_id = $1 AND currency = $2
	`, ownerID, currency)

	var balanceStr string
	if err := row.Scan(&balanceStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrWalletNotFound
		}
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(strings.TrimSpace(balanceStr))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	return balance, nil
}

func settlementEventKey(idempotencyKey string) string {
	trimmed := strings.TrimSpace(idempotencyKey)
	if trimmed == "" {
		return ""
	}
	if strings.HasPrefix(trimmed, settlementEventPrefix) {
		return trimmed
	}
	return settlementEventPrefix + trimmed
}
