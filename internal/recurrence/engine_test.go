package recurrence

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestEngine_Generate(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC)

	t.Run("monthly on the 31st clamps into February", func(t *testing.T) {
		t.Parallel()
		cases := []struct {
			year int
			want int
		}{
			{year: 2023, want: 28},
			{year: 2024, want: 29},
		}
		for _, tc := range cases {
			start := date(tc.year, time.January, 31)
			got := engine.Generate(start, date(tc.year, time.March, 31), Parse("FREQ=MONTHLY"), start, nil)
			if len(got) != 3 {
				t.Fatalf("%d: expected 3 dates, got %v", tc.year, got)
			}
			if got[1].Month() != time.February || got[1].Day() != tc.want {
				t.Fatalf("%d: expected Feb %d, got %v", tc.year, tc.want, got[1])
			}
			if got[2].Month() != time.March || got[2].Day() != 31 {
				t.Fatalf("%d: expected anchor day to return in March, got %v", tc.year, got[2])
			}
		}
	})

	t.Run("weekly by day over two weeks", func(t *testing.T) {
		t.Parallel()
		start := date(2024, time.March, 4)
		got := engine.Generate(start, start.AddDate(0, 0, 13), Parse("FREQ=WEEKLY;BYDAY=MO,WE,FR"), start.AddDate(0, -1, 0), nil)
		if len(got) != 6 {
			t.Fatalf("expected 6 dates, got %d: %v", len(got), got)
		}
		for _, d := range got {
			switch d.Weekday() {
			case time.Monday, time.Wednesday, time.Friday:
			default:
				t.Fatalf("unexpected weekday %s for %v", d.Weekday(), d)
			}
		}
	})

	t.Run("weekly by day honours interval", func(t *testing.T) {
		t.Parallel()
		pattern := date(2024, time.March, 4)
		got := engine.Generate(date(2024, time.March, 11), date(2024, time.March, 31), Parse("FREQ=WEEKLY;INTERVAL=2;BYDAY=MO"), pattern, nil)
		want := []time.Time{date(2024, time.March, 18)}
		if len(got) != len(want) || !got[0].Equal(want[0]) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	})

	t.Run("count stops the series", func(t *testing.T) {
		t.Parallel()
		start := date(2024, time.January, 1)
		got := engine.Generate(start, start.AddDate(1, 0, 0), Parse("FREQ=DAILY;COUNT=3"), start, nil)
		if len(got) != 3 {
			t.Fatalf("expected 3 dates, got %d", len(got))
		}
	})

	t.Run("count includes occurrences before the window", func(t *testing.T) {
		t.Parallel()
		pattern := date(2024, time.January, 1)
		got := engine.Generate(date(2024, time.January, 3), date(2024, time.February, 1), Parse("FREQ=DAILY;COUNT=3"), pattern, nil)
		if len(got) != 1 || !got[0].Equal(date(2024, time.January, 3)) {
			t.Fatalf("expected only Jan 3, got %v", got)
		}
	})

	t.Run("count series started long before the window still reaches it", func(t *testing.T) {
		t.Parallel()
		windowStart := date(2026, time.October, 19)
		windowEnd := windowStart.AddDate(0, 0, 30)

		weekly := engine.Generate(windowStart, windowEnd, Parse("FREQ=WEEKLY;BYDAY=MO;COUNT=200"), date(2023, time.October, 16), nil)
		if len(weekly) != 5 {
			t.Fatalf("expected the 5 Mondays of the window, got %v", weekly)
		}
		if !weekly[0].Equal(windowStart) || !weekly[4].Equal(date(2026, time.November, 16)) {
			t.Fatalf("unexpected Mondays %v", weekly)
		}

		daily := engine.Generate(windowStart, windowEnd, Parse("FREQ=DAILY;COUNT=1300"), windowStart.AddDate(0, 0, -1200), nil)
		if len(daily) != 31 {
			t.Fatalf("expected the whole window, got %d dates", len(daily))
		}

		ending := engine.Generate(windowStart, windowEnd, Parse("FREQ=DAILY;COUNT=1210"), windowStart.AddDate(0, 0, -1200), nil)
		if len(ending) != 10 || !ending[9].Equal(windowStart.AddDate(0, 0, 9)) {
			t.Fatalf("expected the last 10 occurrences, got %v", ending)
		}
	})

	t.Run("dates stay within window and pattern bounds", func(t *testing.T) {
		t.Parallel()
		rules := []string{
			"FREQ=DAILY",
			"FREQ=DAILY;INTERVAL=3",
			"FREQ=WEEKLY",
			"FREQ=WEEKLY;BYDAY=SA,SU",
			"FREQ=MONTHLY;BYMONTHDAY=15",
			"FREQ=YEARLY",
		}
		windowStart := date(2024, time.February, 10)
		windowEnd := date(2025, time.March, 1)
		patternStart := date(2024, time.January, 20)
		patternEnd := date(2024, time.December, 15)
		for _, text := range rules {
			got := engine.Generate(windowStart, windowEnd, Parse(text), patternStart, &patternEnd)
			for _, d := range got {
				if d.Before(windowStart) || d.After(patternEnd) {
					t.Fatalf("%s: date %v outside bounds", text, d)
				}
			}
		}
	})

	t.Run("interval phase is anchored on the pattern start", func(t *testing.T) {
		t.Parallel()
		pattern := date(2024, time.January, 1)
		rule := Parse("FREQ=DAILY;INTERVAL=2")
		first := engine.Generate(date(2024, time.January, 10), date(2024, time.January, 14), rule, pattern, nil)
		second := engine.Generate(date(2024, time.January, 11), date(2024, time.January, 15), rule, pattern, nil)
		if !first[0].Equal(date(2024, time.January, 11)) {
			t.Fatalf("expected Jan 11 to start the window, got %v", first)
		}
		for _, d := range second {
			if d.Day()%2 == 0 {
				t.Fatalf("rolling window shifted the phase: %v", second)
			}
		}
	})

	t.Run("until caps the range", func(t *testing.T) {
		t.Parallel()
		start := date(2024, time.January, 1)
		got := engine.Generate(start, start.AddDate(0, 2, 0), Parse("FREQ=DAILY;UNTIL=20240105"), start, nil)
		if len(got) != 5 {
			t.Fatalf("expected 5 dates, got %v", got)
		}
	})

	t.Run("empty when pattern ends before window", func(t *testing.T) {
		t.Parallel()
		end := date(2024, time.January, 1)
		got := engine.Generate(date(2024, time.February, 1), date(2024, time.March, 1), Parse("FREQ=DAILY"), date(2023, time.January, 1), &end)
		if len(got) != 0 {
			t.Fatalf("expected no dates, got %v", got)
		}
	})

	t.Run("iteration ceiling bounds the output", func(t *testing.T) {
		t.Parallel()
		start := date(2020, time.January, 1)
		got := engine.Generate(start, start.AddDate(10, 0, 0), Parse("FREQ=DAILY"), start, nil)
		if len(got) != MaxIterations {
			t.Fatalf("expected %d dates, got %d", MaxIterations, len(got))
		}
	})

	t.Run("yearly keeps leap day anchor", func(t *testing.T) {
		t.Parallel()
		start := date(2024, time.February, 29)
		got := engine.Generate(start, date(2028, time.December, 31), Parse("FREQ=YEARLY"), start, nil)
		if len(got) != 5 {
			t.Fatalf("expected 5 dates, got %v", got)
		}
		if got[1].Day() != 28 || got[4].Day() != 29 {
			t.Fatalf("unexpected clamping %v", got)
		}
	})

	t.Run("normalizes output to engine timezone", func(t *testing.T) {
		t.Parallel()
		loc := time.FixedZone("CET", 3600)
		local := NewEngine(loc)
		start := time.Date(2024, time.March, 3, 23, 30, 0, 0, time.UTC)
		got := local.Generate(start, start.AddDate(0, 0, 1), Parse("FREQ=DAILY"), start, nil)
		if len(got) == 0 || got[0].Location() != loc || got[0].Day() != 4 {
			t.Fatalf("expected Mar 4 in CET, got %v", got)
		}
	})
}
