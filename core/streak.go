package core

import (
	"math"
	"time"
)

// StartOfDay strips the time of day in UTC.
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween is ceil(|b - a| / 24h) after normalizing both to midnight.
func DaysBetween(a, b time.Time) int {
	d := StartOfDay(b).Sub(StartOfDay(a))
	if d < 0 {
		d = -d
	}
	return int(math.Ceil(d.Hours() / 24))
}

// StreakResult is the outcome of UpdateStreak.
type StreakResult struct {
	StreakDays       int
	LastActivityDate time.Time
	Extended         bool
	Reset            bool
}

// UpdateStreak advances a day streak given the last activity date.
// Same-day repeats leave the count unchanged; a zero last date starts a streak of one.
func UpdateStreak(last time.Time, now time.Time, streak int) StreakResult {
	today := StartOfDay(now)
	res := StreakResult{StreakDays: streak, LastActivityDate: today}
	if last.IsZero() {
		res.StreakDays = 1
		res.Extended = true
		return res
	}
	switch diff := DaysBetween(last, today); {
	case diff == 0:
		if streak < 1 {
			res.StreakDays = 1
			res.Extended = true
		}
	case diff == 1:
		res.StreakDays = streak + 1
		res.Extended = true
	default:
		res.StreakDays = 1
		res.Reset = true
	}
	return res
}
