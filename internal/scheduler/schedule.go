package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Schedule holds the daily merge instants and the windows derived from them.
// All computation happens in the configured location; stored timestamps are
// UTC.
type Schedule struct {
	instants   []dayInstant
	loc        *time.Location
	joinWindow time.Duration
	cutoffLead time.Duration
}

type dayInstant struct {
	hour   int
	minute int
}

func NewSchedule(times []string, timezone string, joinWindow, cutoffLead time.Duration) (*Schedule, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("at least one merge time required")
	}
	if joinWindow <= 0 {
		return nil, fmt.Errorf("join window must be positive")
	}
	if cutoffLead < 0 {
		return nil, fmt.Errorf("cutoff lead must not be negative")
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	instants := make([]dayInstant, 0, len(times))
	for _, raw := range times {
		instant, err := parseDayInstant(raw)
		if err != nil {
			return nil, err
		}
		instants = append(instants, instant)
	}
	sort.Slice(instants, func(i, j int) bool {
		if instants[i].hour == instants[j].hour {
			return instants[i].minute < instants[j].minute
		}
		return instants[i].hour < instants[j].hour
	})

	return &Schedule{
		instants:   instants,
		loc:        loc,
		joinWindow: joinWindow,
		cutoffLead: cutoffLead,
	}, nil
}

// NextInstant returns the first merge instant strictly after the given time.
func (s *Schedule) NextInstant(after time.Time) time.Time {
	local := after.In(s.loc)
	for dayOffset := 0; ; dayOffset++ {
		day := local.AddDate(0, 0, dayOffset)
		for _, instant := range s.instants {
			candidate := time.Date(day.Year(), day.Month(), day.Day(), instant.hour, instant.minute, 0, 0, s.loc)
			if candidate.After(local) {
				return candidate.UTC()
			}
		}
	}
}

// Bounds derives a cycle's cutoff and join-window-end from its scheduled
// instant.
func (s *Schedule) Bounds(scheduled time.Time) (cutoff, joinWindowEnd time.Time) {
	return scheduled.Add(-s.cutoffLead), scheduled.Add(s.joinWindow)
}

func parseDayInstant(raw string) (dayInstant, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return dayInstant{}, fmt.Errorf("invalid merge time %q, want HH:MM", raw)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return dayInstant{}, fmt.Errorf("invalid merge time %q, want HH:MM", raw)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return dayInstant{}, fmt.Errorf("invalid merge time %q, want HH:MM", raw)
	}
	return dayInstant{hour: hour, minute: minute}, nil
}
