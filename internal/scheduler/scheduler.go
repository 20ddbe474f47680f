package scheduler

import (
	"context"
	"errors"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
)

type CycleStore interface {
	GetNextCycle(ctx context.Context) (*storage.MergeCycle, error)
	EnsureCycle(ctx context.Context, scheduled, cutoff, joinWindowEnd time.Time) (*storage.MergeCycle, error)
	OpenJoinWindow(ctx context.Context, cycleID uuid.UUID) (*storage.MergeCycle, error)
}

type MatchRunner interface {
	RunMatchingPass(ctx context.Context, cycleID uuid.UUID) error
	SweepDeadlines(ctx context.Context, now time.Time) error
}

type SettlementRescanner interface {
	Rescan(ctx context.Context, grace time.Duration) (int, error)
}

// Scheduler drives the persisted cycle clock. Every decision derives from
// stored cycle timestamps, so a restart mid-window simply resumes where the
// rows say the cycle is. Mutual exclusion across instances comes from the
// store's status-guarded transitions, not from anything in-process.
type Scheduler struct {
	store      CycleStore
	runner     MatchRunner
	settlement SettlementRescanner
	schedule   *Schedule
	logger     *slog.Logger

	Tick           time.Duration
	SweepInterval  time.Duration
	RescanInterval time.Duration
	RescanGrace    time.Duration
}

func New(store CycleStore, runner MatchRunner, settlement SettlementRescanner, schedule *Schedule, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:          store,
		runner:         runner,
		settlement:     settlement,
		schedule:       schedule,
		logger:         logger,
		Tick:           5 * time.Second,
		SweepInterval:  time.Minute,
		RescanInterval: 5 * time.Minute,
		RescanGrace:    2 * time.Minute,
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		return err
	}

	tick := time.NewTicker(s.Tick)
	defer tick.Stop()
	sweep := time.NewTicker(s.SweepInterval)
	defer sweep.Stop()
	rescan := time.NewTicker(s.RescanInterval)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			if err := s.step(ctx, time.Now().UTC()); err != nil {
				s.logger.Error("cycle step failed", "error", err)
			}
		case <-sweep.C:
			if err := s.runner.SweepDeadlines(ctx, time.Now().UTC()); err != nil {
				s.logger.Error("deadline sweep failed", "error", err)
			}
		case <-rescan.C:
			if s.settlement == nil {
				continue
			}
			count, err := s.settlement.Rescan(ctx, s.RescanGrace)
			if err != nil {
				s.logger.Error("settlement rescan failed", "error", err)
				continue
			}
			if count > 0 {
				s.logger.Info("settlement rescan republished", "count", count)
			}
		}
	}
}

// bootstrap makes sure a next cycle exists before the loop starts.
func (s *Scheduler) bootstrap(ctx context.Context) error {
	_, err := s.store.GetNextCycle(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return s.ensureNext(ctx, time.Now().UTC())
}

// step advances the next cycle according to its persisted timestamps.
func (s *Scheduler) step(ctx context.Context, now time.Time) error {
	cycle, err := s.store.GetNextCycle(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return s.ensureNext(ctx, now)
		}
		return err
	}

	switch cycle.Status {
	case storage.CycleScheduled:
		if now.Before(cycle.ScheduledTime) {
			return nil
		}
		if _, err := s.store.OpenJoinWindow(ctx, cycle.ID); err != nil {
			// another instance won the transition
			if errors.Is(err, storage.ErrInvalidStatus) {
				return nil
			}
			return err
		}
		s.logger.Info("join window opened", "cycle_id", cycle.ID, "join_window_end", cycle.JoinWindowEnd)
		return nil

	case storage.CycleJoinOpen:
		if now.Before(cycle.JoinWindowEnd) {
			return nil
		}
		if err := s.runner.RunMatchingPass(ctx, cycle.ID); err != nil {
			if errors.Is(err, storage.ErrInvalidStatus) {
				return nil
			}
			return err
		}
		return s.ensureNext(ctx, now)

	case storage.CycleMatching:
		// a crash mid-pass left the cycle here; the runner resumes it
		if err := s.runner.RunMatchingPass(ctx, cycle.ID); err != nil {
			if errors.Is(err, storage.ErrInvalidStatus) {
				return nil
			}
			return err
		}
		return s.ensureNext(ctx, now)

	default:
		return s.ensureNext(ctx, now)
	}
}

func (s *Scheduler) ensureNext(ctx context.Context, now time.Time) error {
	scheduled := s.schedule.NextInstant(now)
	cutoff, joinWindowEnd := s.schedule.Bounds(scheduled)
	cycle, err := s.store.EnsureCycle(ctx, scheduled, cutoff, joinWindowEnd)
	if err != nil {
		return err
	}
	s.logger.Info("next cycle ready", "cycle_id", cycle.ID, "scheduled_time", cycle.ScheduledTime)
	return nil
}
