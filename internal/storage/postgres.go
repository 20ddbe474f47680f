package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/olucodehub/2aside-platform-sub000/libs/apikey"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidStatus         = errors.New("invalid status transition")
	ErrOpenRequestExists     = errors.New("open request exists")
	ErrInsufficientRemaining = errors.New("insufficient remaining amount")
	ErrInsufficientBalance   = errors.New("insufficient balance")
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) InsertAudit(ctx context.Context, log AuditLog) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, actor_type, action, entity_type, entity_id, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, now(), $6)
	`, log.ActorID, log.ActorType, log.Action, log.EntityType, log.EntityID, map[string]string{
		"ip":         log.IP,
		"user_agent": log.UserAgent,
	})
	return err
}

// GetAPIKeyRecord resolves an admin API key by its public prefix.
func (s *Store) GetAPIKeyRecord(ctx context.Context, prefix string) (apikey.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, key_hash, scopes, ip_whitelist, revoked_at
		FROM admin_api_keys
		WHERE key_prefix = $1
	`, prefix)

	var record apikey.Record
	if err := row.Scan(&record.ID, &record.UserID, &record.KeyHash, &record.Scopes, &record.IPWhitelist, &record.RevokedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apikey.Record{}, ErrNotFound
		}
		return apikey.Record{}, err
	}
	return record, nil
}

func parseAmount(value string, field string) (decimal.Decimal, error) {
	parsed, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", field, err)
	}
	return parsed, nil
}
