package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const cycleColumns = `id, scheduled_time, cutoff_time, join_window_end, status, created_at, updated_at`

// GetNextCycle returns the earliest non-completed cycle. Exactly one such
// cycle exists at any time once the scheduler has bootstrapped.
func (s *Store) GetNextCycle(ctx context.Context) (*MergeCycle, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+cycleColumns+`
		FROM merge_cycles
		WHERE status <> 'completed'
		ORDER BY scheduled_time
		LIMIT 1
	`)
	cycle, err := scanCycleRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cycle, nil
}

func (s *Store) GetCycle(ctx context.Context, cycleID uuid.UUID) (*MergeCycle, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+cycleColumns+`
		FROM merge_cycles
		WHERE id = $1
	`, cycleID)
	cycle, err := scanCycleRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cycle, nil
}

// EnsureCycle inserts the cycle for a scheduled instant if it does not exist
// yet. Safe to call from concurrent scheduler instances.
func (s *Store) EnsureCycle(ctx context.Context, scheduled, cutoff, joinWindowEnd time.Time) (*MergeCycle, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO merge_cycles (id, scheduled_time, cutoff_time, join_window_end, status)
		VALUES ($1, $2, $3, $4, 'scheduled')
		ON CONFLICT (scheduled_time) DO NOTHING
	`, uuid.New(), scheduled, cutoff, joinWindowEnd)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		SELECT `+cycleColumns+`
		FROM merge_cycles
		WHERE scheduled_time = $1
	`, scheduled)
	cycle, err := scanCycleRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return cycle, nil
}

// OpenJoinWindow moves a scheduled cycle to join_open. Only one caller wins.
func (s *Store) OpenJoinWindow(ctx context.Context, cycleID uuid.UUID) (*MergeCycle, error) {
	return s.transitionCycle(ctx, cycleID, CycleScheduled, CycleJoinOpen)
}

// BeginMatching moves a join_open cycle to matching; losing the race returns
// ErrInvalidStatus so only a single matching pass runs per cycle.
func (s *Store) BeginMatching(ctx context.Context, cycleID uuid.UUID) (*MergeCycle, error) {
	return s.transitionCycle(ctx, cycleID, CycleJoinOpen, CycleMatching)
}

// ShortenJoinWindow pulls join_window_end to now, used by the admin trigger.
func (s *Store) ShortenJoinWindow(ctx context.Context, cycleID uuid.UUID, end time.Time) (*MergeCycle, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE merge_cycles
		SET join_window_end = $2, updated_at = now()
		WHERE id = $1 AND status = 'join_open'
		RETURNING `+cycleColumns+`
	`, cycleID, end)
	cycle, err := scanCycleRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStatus
		}
		return nil, err
	}
	return cycle, nil
}

func (s *Store) transitionCycle(ctx context.Context, cycleID uuid.UUID, from, to CycleStatus) (*MergeCycle, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE merge_cycles
		SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING `+cycleColumns+`
	`, cycleID, from, to)

	cycle, err := scanCycleRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvalidStatus
		}
		return nil, err
	}
	return cycle, nil
}

func scanCycleRow(row pgx.Row) (*MergeCycle, error) {
	var cycle MergeCycle
	if err := row.Scan(&cycle.ID, &cycle.ScheduledTime, &cycle.CutoffTime, &cycle.JoinWindowEnd, &cycle.Status, &cycle.CreatedAt, &cycle.UpdatedAt); err != nil {
		return nil, err
	}
	return &cycle, nil
}
