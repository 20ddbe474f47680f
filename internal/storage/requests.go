package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/olucodehub/2aside-platform-sub000/internal/engine"
)

const requestColumns = `id, owner_id, direction, currency, amount::text, amount_remaining::text, joined_cycle_id, fully_matched, completed, cancelled, created_at, updated_at`

// CreateRequest inserts a new request unless the owner already holds an open
// one for the same direction and currency (enforced by a partial unique
// index on open rows).
func (s *Store) CreateRequest(ctx context.Context, req Request) (*Request, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO merge_requests (id, owner_id, direction, currency, amount, amount_remaining)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (owner_id, direction, currency) WHERE NOT completed AND NOT cancelled DO NOTHING
		RETURNING `+requestColumns+`
	`, req.ID, req.OwnerID, req.Direction, req.Currency, req.Amount.String())

	stored, err := scanRequestRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOpenRequestExists
		}
		return nil, err
	}
	return stored, nil
}

func (s *Store) GetRequest(ctx context.Context, requestID uuid.UUID) (*Request, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM merge_requests
		WHERE id = $1
	`, requestID)
	req, err := scanRequestRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

// CancelRequest succeeds only while nothing has been allocated against the
// request. The pre-cycle guard window is the service's concern.
func (s *Store) CancelRequest(ctx context.Context, requestID, ownerID uuid.UUID) (*Request, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE merge_requests
		SET cancelled = true, joined_cycle_id = NULL, updated_at = now()
		WHERE id = $1 AND owner_id = $2
		  AND NOT cancelled AND NOT completed
		  AND amount_remaining = amount
		RETURNING `+requestColumns+`
	`, requestID, ownerID)

	req, err := scanRequestRow(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		var exists bool
		check := s.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM merge_requests WHERE id = $1 AND owner_id = $2)
		`, requestID, ownerID)
		if scanErr := check.Scan(&exists); scanErr != nil {
			return nil, scanErr
		}
		if !exists {
			return nil, ErrNotFound
		}
		return nil, ErrInvalidStatus
	}
	return req, nil
}

// JoinCycle opts a request into a cycle. The cycle-status and cutoff guards
// are part of the update so a join racing the window-close transition cannot
// land after the matching snapshot, and a request created after the cutoff
// never rides the cycle. Re-joining the same cycle is a no-op.
func (s *Store) JoinCycle(ctx context.Context, requestID, cycleID uuid.UUID) (*Request, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE merge_requests
		SET joined_cycle_id = $2, updated_at = now()
		WHERE id = $1
		  AND NOT cancelled AND NOT completed
		  AND amount_remaining > 0
		  AND EXISTS (
			SELECT 1 FROM merge_cycles c
			WHERE c.id = $2 AND c.status = 'join_open'
			  AND merge_requests.created_at < c.cutoff_time
		  )
		RETURNING `+requestColumns+`
	`, requestID, cycleID)

	req, err := scanRequestRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStatus
		}
		return nil, err
	}
	return req, nil
}

func (s *Store) ListOpenRequestsByOwner(ctx context.Context, ownerID uuid.UUID) ([]Request, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM merge_requests
		WHERE owner_id = $1 AND NOT cancelled AND NOT completed
		ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ListUnmatched returns open requests still holding unmatched amounts, the
// admin dashboard view.
func (s *Store) ListUnmatched(ctx context.Context, currency engine.Currency) ([]Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM merge_requests
		WHERE NOT cancelled AND NOT completed AND amount_remaining > 0
	`
	args := []any{}
	if currency != "" {
		query += ` AND currency = $1`
		args = append(args, currency)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]Request, error) {
	var out []Request
	for rows.Next() {
		req, err := scanRequestRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *req)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanRequestRow(row pgx.Row) (*Request, error) {
	var req Request
	var amountStr, remainingStr string
	if err := row.Scan(&req.ID, &req.OwnerID, &req.Direction, &req.Currency, &amountStr, &remainingStr, &req.JoinedCycleID, &req.FullyMatched, &req.Completed, &req.Cancelled, &req.CreatedAt, &req.UpdatedAt); err != nil {
		return nil, err
	}

	amount, err := parseAmount(amountStr, "amount")
	if err != nil {
		return nil, err
	}
	remaining, err := parseAmount(remainingStr, "amount_remaining")
	if err != nil {
		return nil, err
	}
	req.Amount = amount
	req.AmountRemaining = remaining
	return &req, nil
}
