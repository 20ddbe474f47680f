package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
)

const adminWalletColumns = `id, currency, balance::text, created_at, updated_at`

func (s *Store) GetAdminWallet(ctx context.Context, currency engine.Currency) (*AdminWallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+adminWalletColumns+`
		FROM admin_wallets
		WHERE currency = $1
	`, currency)
	wallet, err := scanAdminWalletRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return wallet, nil
}

func (s *Store) ListAdminWallets(ctx context.Context) ([]AdminWallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+adminWalletColumns+`
		FROM admin_wallets
		ORDER BY currency
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AdminWallet
	for rows.Next() {
		wallet, err := scanAdminWalletRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *wallet)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// BlockWallet flags an owner after a missed deadline. Re-blocking an already
// blocked owner is a no-op.
func (s *Store) BlockWallet(ctx context.Context, ownerID uuid.UUID, reason string, pairID *uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO wallet_blocks (id, owner_id, reason, pair_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) WHERE released_at IS NULL DO NOTHING
	`, uuid.New(), ownerID, reason, pairID)
	return err
}

func (s *Store) IsWalletBlocked(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	var blocked bool
	row := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM wallet_blocks WHERE owner_id = $1 AND released_at IS NULL
		)
	`, ownerID)
	if err := row.Scan(&blocked); err != nil {
		return false, err
	}
	return blocked, nil
}

func (s *Store) UnblockWallet(ctx context.Context, ownerID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE wallet_blocks
		SET released_at = now()
		WHERE owner_id = $1 AND released_at IS NULL
	`, ownerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DebitAdminWallet reserves wallet balance for an admin fallback match. The
// balance guard makes over-committing the wallet impossible.
func (s *Store) DebitAdminWallet(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE admin_wallets
		SET balance = balance - $2, updated_at = now()
		WHERE id = $1 AND balance >= $2
	`, walletID, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (s *Store) CreditAdminWallet(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE admin_wallets
		SET balance = balance + $2, updated_at = now()
		WHERE id = $1
	`, walletID, amount.String())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAdminWalletRow(row pgx.Row) (*AdminWallet, error) {
	var wallet AdminWallet
	var balanceStr string
	if err := row.Scan(&wallet.ID, &wallet.Currency, &balanceStr, &wallet.CreatedAt, &wallet.UpdatedAt); err != nil {
		return nil, err
	}
	balance, err := parseAmount(balanceStr, "balance")
	if err != nil {
		return nil, err
	}
	wallet.Balance = balance
	return &wallet, nil
}
