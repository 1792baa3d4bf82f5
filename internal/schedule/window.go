/*
Copyright (C) 2026 Signcast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package schedule

import (
	"fmt"
	"strings"
	"time"

	"github.com/signcast/signcast/internal/models"
)

// clockTime is minutes since midnight.
type clockTime int

func parseClock(s string) (clockTime, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return clockTime(t.Hour()*60 + t.Minute()), nil
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

// parseDays parses "mon,tue,fri" into a weekday set. Empty means every day.
func parseDays(csv string) (map[time.Weekday]bool, error) {
	if strings.TrimSpace(csv) == "" {
		return nil, nil
	}
	days := make(map[time.Weekday]bool)
	for _, part := range strings.Split(csv, ",") {
		day, ok := dayNames[strings.ToLower(strings.TrimSpace(part))]
		if !ok {
			return nil, fmt.Errorf("unknown day %q", part)
		}
		days[day] = true
	}
	return days, nil
}

// activeAt reports whether the schedule should hold its slot at now.
//
// Window schedules are active between startTime and endTime in the
// schedule's timezone on allowed days; overnight windows (start after end)
// span midnight and belong to the day they started. Cron schedules are
// active from each fire time until durationMinutes later.
func activeAt(sched *models.Schedule, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		return false, fmt.Errorf("load timezone %q: %w", sched.Timezone, err)
	}
	local := now.In(loc)

	if sched.IsCron() {
		return cronActiveAt(sched, local)
	}
	return windowActiveAt(sched, local)
}

func windowActiveAt(sched *models.Schedule, local time.Time) (bool, error) {
	start, err := parseClock(sched.StartTime)
	if err != nil {
		return false, fmt.Errorf("parse startTime: %w", err)
	}
	end, err := parseClock(sched.EndTime)
	if err != nil {
		return false, fmt.Errorf("parse endTime: %w", err)
	}
	days, err := parseDays(sched.DaysOfWeek)
	if err != nil {
		return false, err
	}

	cur := clockTime(local.Hour()*60 + local.Minute())

	if start < end {
		if days != nil && !days[local.Weekday()] {
			return false, nil
		}
		return cur >= start && cur < end, nil
	}

	// Overnight window. Before midnight it belongs to today; after
	// midnight it belongs to yesterday's day-of-week rule.
	if cur >= start {
		return days == nil || days[local.Weekday()], nil
	}
	if cur < end {
		yesterday := local.AddDate(0, 0, -1).Weekday()
		return days == nil || days[yesterday], nil
	}
	return false, nil
}

func cronActiveAt(sched *models.Schedule, local time.Time) (bool, error) {
	spec, err := cronParser.Parse(sched.CronExpression)
	if err != nil {
		return false, fmt.Errorf("parse cron: %w", err)
	}

	duration := time.Duration(sched.DurationMinutes) * time.Minute

	// Active when a fire time falls within (now-duration, now]. Next never
	// returns its argument, so probing from the window start finds it.
	fire := spec.Next(local.Add(-duration))
	return !fire.After(local), nil
}
