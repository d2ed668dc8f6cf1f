package core

import (
	"testing"
	"time"
)

func TestUpdateStreak(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 30, 0, 0, time.UTC)
	today := StartOfDay(now)

	t.Run("yesterday extends", func(t *testing.T) {
		res := UpdateStreak(now.AddDate(0, 0, -1).Add(-5*time.Hour), now, 4)
		if res.StreakDays != 5 || !res.Extended || !res.LastActivityDate.Equal(today) {
			t.Fatalf("unexpected %+v", res)
		}
	})

	t.Run("gap resets", func(t *testing.T) {
		res := UpdateStreak(now.AddDate(0, 0, -3), now, 9)
		if res.StreakDays != 1 || !res.Reset {
			t.Fatalf("unexpected %+v", res)
		}
	})

	t.Run("same day unchanged", func(t *testing.T) {
		res := UpdateStreak(today.Add(time.Hour), now, 4)
		if res.StreakDays != 4 || res.Extended || res.Reset {
			t.Fatalf("unexpected %+v", res)
		}
	})

	t.Run("first activity starts streak", func(t *testing.T) {
		res := UpdateStreak(time.Time{}, now, 0)
		if res.StreakDays != 1 || !res.LastActivityDate.Equal(today) {
			t.Fatalf("unexpected %+v", res)
		}
	})

	t.Run("late night then early morning counts as next day", func(t *testing.T) {
		last := time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC)
		morning := time.Date(2024, 3, 10, 0, 1, 0, 0, time.UTC)
		if res := UpdateStreak(last, morning, 2); res.StreakDays != 3 {
			t.Fatalf("unexpected %+v", res)
		}
	})
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 4, 1, 0, 0, 0, time.UTC)
	if d := DaysBetween(a, b); d != 3 {
		t.Fatalf("want 3 got %d", d)
	}
	if d := DaysBetween(b, a); d != 3 {
		t.Fatalf("want 3 got %d", d)
	}
}
