package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"radish-rewards/internal/domain"
)

// ErrInvalidTimezone is returned for an unknown timezone name.
var ErrInvalidTimezone = errors.New("invalid timezone")

// RunSucceeded is the JobRun status of a completed run.
const RunSucceeded = "success"

// Planner decides when the daily ranking and the weekly retention run are due.
// Slots are computed in the configured local timezone.
type Planner struct {
	loc              *time.Location
	rankingHour      int
	retentionWeekday time.Weekday
	retentionHour    int
}

// NewPlanner creates a planner. weekday follows time.Weekday (0 = Sunday).
func NewPlanner(timezone string, rankingHour, retentionWeekday, retentionHour int) (*Planner, error) {
	name, err := normalizeTimezone(timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, timezone)
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, timezone)
	}
	if rankingHour < 0 || rankingHour > 23 || retentionHour < 0 || retentionHour > 23 {
		return nil, fmt.Errorf("hours must be within 0..23")
	}
	if retentionWeekday < 0 || retentionWeekday > 6 {
		return nil, fmt.Errorf("weekday must be within 0..6")
	}
	return &Planner{
		loc:              loc,
		rankingHour:      rankingHour,
		retentionWeekday: time.Weekday(retentionWeekday),
		retentionHour:    retentionHour,
	}, nil
}

// Location returns the planner timezone.
func (p *Planner) Location() *time.Location { return p.loc }

// RankingSlot returns the latest daily ranking slot at or before now.
func (p *Planner) RankingSlot(now time.Time) time.Time {
	local := now.In(p.loc)
	slot := time.Date(local.Year(), local.Month(), local.Day(), p.rankingHour, 0, 0, 0, p.loc)
	if slot.After(local) {
		slot = slot.AddDate(0, 0, -1)
	}
	return slot
}

// RetentionSlot returns the latest weekly retention slot at or before now.
func (p *Planner) RetentionSlot(now time.Time) time.Time {
	local := now.In(p.loc)
	back := (int(local.Weekday()) - int(p.retentionWeekday) + 7) % 7
	day := local.AddDate(0, 0, -back)
	slot := time.Date(day.Year(), day.Month(), day.Day(), p.retentionHour, 0, 0, 0, p.loc)
	if slot.After(local) {
		slot = slot.AddDate(0, 0, -7)
	}
	return slot
}

// RankingDue reports whether the ranking for the current slot still has to run.
func (p *Planner) RankingDue(now time.Time, last domain.JobRun, hasLast bool) bool {
	return due(p.RankingSlot(now), last, hasLast)
}

// RetentionDue reports whether the retention run for the current slot still
// has to run.
func (p *Planner) RetentionDue(now time.Time, last domain.JobRun, hasLast bool) bool {
	return due(p.RetentionSlot(now), last, hasLast)
}

// StatDateFor returns the day ranked by a run at now: the previous local day.
func (p *Planner) StatDateFor(now time.Time) time.Time {
	local := now.In(p.loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, p.loc).AddDate(0, 0, -1)
}

func due(slot time.Time, last domain.JobRun, hasLast bool) bool {
	if !hasLast || last.Status != RunSucceeded {
		return true
	}
	return last.StartedAt.Before(slot)
}

func normalizeTimezone(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return "", ErrInvalidTimezone
	}
	candidate = strings.ReplaceAll(candidate, " ", "_")
	if _, err := time.LoadLocation(candidate); err == nil {
		return candidate, nil
	}

	lower := strings.ToLower(candidate)
	parts := strings.Split(lower, "/")
	for i, part := range parts {
		segments := strings.Split(part, "_")
		for j, segment := range segments {
			pieces := strings.Split(segment, "-")
			for k, piece := range pieces {
				if piece == "" {
					continue
				}
				pieces[k] = strings.ToUpper(piece[:1]) + piece[1:]
			}
			segments[j] = strings.Join(pieces, "-")
		}
		parts[i] = strings.Join(segments, "_")
	}
	normalized := strings.Join(parts, "/")
	if _, err := time.LoadLocation(normalized); err == nil {
		return normalized, nil
	}
	return "", ErrInvalidTimezone
}
