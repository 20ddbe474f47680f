package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// seedTestData adds an upcoming cycle and a pair of opposing requests so the
// matching pass has something to chew on right after a fresh seed.
func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	demoID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	traderID := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	cycleID := uuid.MustParse("00000000-0000-0000-0000-000000000401")
	scheduled := time.Now().UTC().Truncate(time.Minute).Add(90 * time.Minute)

	_, err := pool.Exec(ctx, `
		INSERT INTO merge_cycles (id, scheduled_time, cutoff_time, join_window_end, status)
		VALUES ($1, $2, $3, $4, 'scheduled')
		ON CONFLICT (scheduled_time) DO NOTHING
	`, cycleID, scheduled, scheduled.Add(-time.Hour), scheduled.Add(5*time.Minute))
	if err != nil {
		return err
	}

	requests := []struct {
		id        uuid.UUID
		ownerID   uuid.UUID
		direction string
		amount    string
	}{
		{uuid.MustParse("00000000-0000-0000-0000-000000000601"), demoID, "funding", "50000"},
		{uuid.MustParse("00000000-0000-0000-0000-000000000602"), traderID, "withdrawal", "30000"},
	}

	for _, r := range requests {
		_, err := pool.Exec(ctx, `
			INSERT INTO merge_requests (id, owner_id, direction, currency, amount, amount_remaining)
			VALUES ($1, $2, $3, 'naira', $4, $4)
			ON CONFLICT (id) DO NOTHING
		`, r.id, r.ownerID, r.direction, r.amount)
		if err != nil {
			return err
		}
	}

	return nil
}
