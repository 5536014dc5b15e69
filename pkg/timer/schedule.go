package timer

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Type identifies the recurrence of a schedule
type Type string

const (
	Daily   Type = "daily"
	Weekly  Type = "weekly"
	Monthly Type = "monthly"
)

// Schedule describes when a tracked creator should be checked.
// Time is a wall-clock "HH:MM" string. For weekly schedules Day is the
// weekday with 0 = Monday; for monthly schedules Day is the day of the
// month (1-31), clamped to the last day of shorter months.
type Schedule struct {
	Type Type   `yaml:"type" json:"type"`
	Time string `yaml:"time" json:"time"`
	Day  int    `yaml:"day,omitempty" json:"day,omitempty"`
}

// Validate checks the schedule fields
func (s *Schedule) Validate() error {
	switch s.Type {
	case Daily:
	case Weekly:
		if s.Day < 0 || s.Day > 6 {
			return fmt.Errorf("weekly schedule day must be 0-6 (0 = Monday), got %d", s.Day)
		}
	case Monthly:
		if s.Day < 1 || s.Day > 31 {
			return fmt.Errorf("monthly schedule day must be 1-31, got %d", s.Day)
		}
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}

	if _, _, err := s.clock(); err != nil {
		return err
	}

	return nil
}

// IsDue reports whether a check should fire at now, given the time of
// the last dispatched run. Due-ness is computed from wall-clock
// comparison so that missed ticks are caught on the next tick. At most
// one check fires per due window: the caller is expected to record the
// dispatch time before the check runs.
func (s *Schedule) IsDue(lastRun, now time.Time) bool {
	occ, ok := s.occurrence(now)
	if !ok {
		return false
	}
	return lastRun.Before(occ)
}

// NextDue returns the first instant strictly after now that matches
// the schedule's recurrence.
func (s *Schedule) NextDue(now time.Time) time.Time {
	hour, min, err := s.clock()
	if err != nil {
		hour, min = 2, 0
	}

	at := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), hour, min, 0, 0, t.Location())
	}

	switch s.Type {
	case Weekly:
		next := at(now)
		ahead := (s.Day - mondayWeekday(now) + 7) % 7
		next = next.AddDate(0, 0, ahead)
		if !next.After(now) {
			next = next.AddDate(0, 0, 7)
		}
		return next

	case Monthly:
		next := at(monthlyDate(now.Year(), now.Month(), s.Day, now.Location()))
		if !next.After(now) {
			year, month := now.Year(), now.Month()
			if month == time.December {
				year, month = year+1, time.January
			} else {
				month++
			}
			next = at(monthlyDate(year, month, s.Day, now.Location()))
		}
		return next

	default: // daily
		next := at(now)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
}

// occurrence returns today's scheduled instant if it is at or before
// now and today matches the recurrence; ok is false otherwise.
func (s *Schedule) occurrence(now time.Time) (time.Time, bool) {
	hour, min, err := s.clock()
	if err != nil {
		return time.Time{}, false
	}

	occ := time.Date(now.Year(), now.Month(), now.Day(), hour, min, 0, 0, now.Location())
	if occ.After(now) {
		return time.Time{}, false
	}

	switch s.Type {
	case Weekly:
		if mondayWeekday(now) != s.Day {
			return time.Time{}, false
		}
	case Monthly:
		if now.Day() != clampDay(s.Day, now.Year(), now.Month()) {
			return time.Time{}, false
		}
	}

	return occ, true
}

// clock parses the "HH:MM" time-of-day field
func (s *Schedule) clock() (int, int, error) {
	parts := strings.SplitN(s.Time, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid schedule time %q, expected HH:MM", s.Time)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid schedule hour in %q", s.Time)
	}

	min, err := strconv.Atoi(parts[1])
	if err != nil || min < 0 || min > 59 {
		return 0, 0, fmt.Errorf("invalid schedule minute in %q", s.Time)
	}

	return hour, min, nil
}

// mondayWeekday converts Go's Sunday-based weekday to the persisted
// 0 = Monday convention
func mondayWeekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// clampDay clamps a day-of-month to the last day of the given month
func clampDay(day, year int, month time.Month) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}

// monthlyDate builds the date for a monthly schedule in the given month,
// clamping the day to month length
func monthlyDate(year int, month time.Month, day int, loc *time.Location) time.Time {
	return time.Date(year, month, clampDay(day, year, month), 0, 0, 0, 0, loc)
}
