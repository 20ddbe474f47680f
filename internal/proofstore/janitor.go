package proofstore

import (
	"context"
	"strconv"
	"time"

	"log/slog"

	"github.com/redis/go-redis/v9"
)

const defaultDeletionKey = "aside:merge:proof_deletions"

// RedisScheduler records pending proof deletions in a sorted set scored by
// the deletion instant.
type RedisScheduler struct {
	client *redis.Client
	key    string
}

func NewRedisScheduler(client *redis.Client, key string) *RedisScheduler {
	if key == "" {
		key = defaultDeletionKey
	}
	return &RedisScheduler{client: client, key: key}
}

func (s *RedisScheduler) Schedule(ctx context.Context, ref string, deleteAt time.Time) error {
	return s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(deleteAt.Unix()),
		Member: ref,
	}).Err()
}

// Janitor drains due deletions and removes the underlying files.
type Janitor struct {
	client   *redis.Client
	key      string
	store    *DiskStore
	logger   *slog.Logger
	Interval time.Duration
}

func NewJanitor(client *redis.Client, key string, store *DiskStore, logger *slog.Logger) *Janitor {
	if key == "" {
		key = defaultDeletionKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		client:   client,
		key:      key,
		store:    store,
		logger:   logger,
		Interval: time.Minute,
	}
}

func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := j.sweep(ctx, time.Now().UTC()); err != nil {
				j.logger.Error("proof janitor sweep failed", "error", err)
			}
		}
	}
}

func (j *Janitor) sweep(ctx context.Context, now time.Time) error {
	refs, err := j.client.ZRangeByScore(ctx, j.key, &redis.ZRangeBy{
		Min:   "0",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return err
	}

	for _, ref := range refs {
		if err := j.store.Remove(ref); err != nil {
			j.logger.Error("proof removal failed", "ref", ref, "error", err)
			continue
		}
		if err := j.client.ZRem(ctx, j.key, ref).Err(); err != nil {
			return err
		}
		j.logger.Info("proof deleted after retention", "ref", ref)
	}
	return nil
}
