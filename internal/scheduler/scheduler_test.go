package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/olucodehub/2aside-platform-sub000/internal/storage"
)

func mustSchedule(t *testing.T) *Schedule {
	t.Helper()
	schedule, err := NewSchedule([]string{"09:00", "15:00", "21:00"}, "Africa/Lagos", 5*time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("new schedule: %v", err)
	}
	return schedule
}

func TestNextInstantSameDay(t *testing.T) {
	schedule := mustSchedule(t)
	lagos, _ := time.LoadLocation("Africa/Lagos")

	after := time.Date(2025, 3, 10, 10, 30, 0, 0, lagos)
	next := schedule.NextInstant(after)

	want := time.Date(2025, 3, 10, 15, 0, 0, 0, lagos).UTC()
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextInstantRollsToNextDay(t *testing.T) {
	schedule := mustSchedule(t)
	lagos, _ := time.LoadLocation("Africa/Lagos")

	after := time.Date(2025, 3, 10, 21, 0, 0, 0, lagos)
	next := schedule.NextInstant(after)

	want := time.Date(2025, 3, 11, 9, 0, 0, 0, lagos).UTC()
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestNextInstantExactlyAtInstantIsExcluded(t *testing.T) {
	schedule := mustSchedule(t)
	lagos, _ := time.LoadLocation("Africa/Lagos")

	after := time.Date(2025, 3, 10, 9, 0, 0, 0, lagos)
	next := schedule.NextInstant(after)

	want := time.Date(2025, 3, 10, 15, 0, 0, 0, lagos).UTC()
	if !next.Equal(want) {
		t.Fatalf("expected %s, got %s", want, next)
	}
}

func TestBounds(t *testing.T) {
	schedule := mustSchedule(t)
	scheduled := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

	cutoff, joinEnd := schedule.Bounds(scheduled)
	if !cutoff.Equal(scheduled.Add(-time.Hour)) {
		t.Fatalf("unexpected cutoff %s", cutoff)
	}
	if !joinEnd.Equal(scheduled.Add(5 * time.Minute)) {
		t.Fatalf("unexpected join window end %s", joinEnd)
	}
}

func TestNewScheduleRejectsBadInput(t *testing.T) {
	if _, err := NewSchedule([]string{"25:00"}, "Africa/Lagos", 5*time.Minute, time.Hour); err == nil {
		t.Fatalf("expected error for invalid hour")
	}
	if _, err := NewSchedule([]string{"09:00"}, "Mars/Olympus", 5*time.Minute, time.Hour); err == nil {
		t.Fatalf("expected error for unknown timezone")
	}
	if _, err := NewSchedule(nil, "Africa/Lagos", 5*time.Minute, time.Hour); err == nil {
		t.Fatalf("expected error for empty times")
	}
}

type fakeCycleStore struct {
	next       *storage.MergeCycle
	ensured    []time.Time
	opened     []uuid.UUID
	openErr    error
	nextErr    error
	ensureCall func(scheduled time.Time) *storage.MergeCycle
}

func (f *fakeCycleStore) GetNextCycle(ctx context.Context) (*storage.MergeCycle, error) {
	if f.nextErr != nil {
		return nil, f.nextErr
	}
	if f.next == nil {
		return nil, storage.ErrNotFound
	}
	return f.next, nil
}

func (f *fakeCycleStore) EnsureCycle(ctx context.Context, scheduled, cutoff, joinWindowEnd time.Time) (*storage.MergeCycle, error) {
	f.ensured = append(f.ensured, scheduled)
	if f.ensureCall != nil {
		return f.ensureCall(scheduled), nil
	}
	return &storage.MergeCycle{ID: uuid.New(), ScheduledTime: scheduled, CutoffTime: cutoff, JoinWindowEnd: joinWindowEnd, Status: storage.CycleScheduled}, nil
}

func (f *fakeCycleStore) OpenJoinWindow(ctx context.Context, cycleID uuid.UUID) (*storage.MergeCycle, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.opened = append(f.opened, cycleID)
	f.next.Status = storage.CycleJoinOpen
	return f.next, nil
}

type fakeRunner struct {
	matched []uuid.UUID
	swept   int
	err     error
}

func (f *fakeRunner) RunMatchingPass(ctx context.Context, cycleID uuid.UUID) error {
	if f.err != nil {
		return f.err
	}
	f.matched = append(f.matched, cycleID)
	return nil
}

func (f *fakeRunner) SweepDeadlines(ctx context.Context, now time.Time) error {
	f.swept++
	return nil
}

func TestStepOpensDueJoinWindow(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 30, 0, time.UTC)
	cycle := &storage.MergeCycle{
		ID:            uuid.New(),
		ScheduledTime: now.Add(-30 * time.Second),
		JoinWindowEnd: now.Add(4 * time.Minute),
		Status:        storage.CycleScheduled,
	}
	store := &fakeCycleStore{next: cycle}
	runner := &fakeRunner{}
	s := New(store, runner, nil, mustSchedule(t), nil)

	if err := s.step(context.Background(), now); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(store.opened) != 1 || store.opened[0] != cycle.ID {
		t.Fatalf("expected join window opened")
	}
	if len(runner.matched) != 0 {
		t.Fatalf("matching must not run before window close")
	}
}

func TestStepDoesNothingBeforeScheduledTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 7, 0, 0, 0, time.UTC)
	cycle := &storage.MergeCycle{
		ID:            uuid.New(),
		ScheduledTime: now.Add(time.Hour),
		JoinWindowEnd: now.Add(65 * time.Minute),
		Status:        storage.CycleScheduled,
	}
	store := &fakeCycleStore{next: cycle}
	runner := &fakeRunner{}
	s := New(store, runner, nil, mustSchedule(t), nil)

	if err := s.step(context.Background(), now); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(store.opened) != 0 || len(runner.matched) != 0 {
		t.Fatalf("expected no transitions before scheduled time")
	}
}

func TestStepRunsMatchingAfterWindowClose(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 6, 0, 0, time.UTC)
	cycle := &storage.MergeCycle{
		ID:            uuid.New(),
		ScheduledTime: now.Add(-6 * time.Minute),
		JoinWindowEnd: now.Add(-time.Minute),
		Status:        storage.CycleJoinOpen,
	}
	store := &fakeCycleStore{next: cycle}
	runner := &fakeRunner{}
	s := New(store, runner, nil, mustSchedule(t), nil)

	if err := s.step(context.Background(), now); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(runner.matched) != 1 || runner.matched[0] != cycle.ID {
		t.Fatalf("expected matching pass for cycle")
	}
	if len(store.ensured) != 1 {
		t.Fatalf("expected next cycle ensured after pass")
	}
}

func TestStepResumesCrashedMatchingCycle(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 10, 0, 0, time.UTC)
	cycle := &storage.MergeCycle{
		ID:            uuid.New(),
		ScheduledTime: now.Add(-10 * time.Minute),
		JoinWindowEnd: now.Add(-5 * time.Minute),
		Status:        storage.CycleMatching,
	}
	store := &fakeCycleStore{next: cycle}
	runner := &fakeRunner{}
	s := New(store, runner, nil, mustSchedule(t), nil)

	if err := s.step(context.Background(), now); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(runner.matched) != 1 {
		t.Fatalf("expected crashed matching cycle resumed")
	}
}

func TestStepLostTransitionIsNotAnError(t *testing.T) {
	now := time.Date(2025, 3, 10, 8, 0, 30, 0, time.UTC)
	cycle := &storage.MergeCycle{
		ID:            uuid.New(),
		ScheduledTime: now.Add(-30 * time.Second),
		JoinWindowEnd: now.Add(4 * time.Minute),
		Status:        storage.CycleScheduled,
	}
	store := &fakeCycleStore{next: cycle, openErr: storage.ErrInvalidStatus}
	s := New(store, &fakeRunner{}, nil, mustSchedule(t), nil)

	if err := s.step(context.Background(), now); err != nil {
		t.Fatalf("losing the transition race must not error: %v", err)
	}
}

func TestStepBootstrapsWhenNoCycleExists(t *testing.T) {
	store := &fakeCycleStore{}
	s := New(store, &fakeRunner{}, nil, mustSchedule(t), nil)

	now := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	if err := s.step(context.Background(), now); err != nil {
		t.Fatalf("step: %v", err)
	}
	if len(store.ensured) != 1 {
		t.Fatalf("expected a cycle to be ensured")
	}
	if !store.ensured[0].After(now) {
		t.Fatalf("ensured cycle must be in the future")
	}
}
