package recurrence

import (
	"time"
)

// MaxIterations caps the generation loop. Reaching it ends generation quietly
// with the dates collected so far.
const MaxIterations = 1000

// Engine expands recurrence rules into calendar dates.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine whose output dates are midnights in loc.
// If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Location returns the timezone dates are produced in.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// Day truncates t to midnight of its calendar date in the engine's timezone.
func (e *Engine) Day(t time.Time) time.Time {
	loc := e.Location()
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// Generate returns the ordered dates of rule that fall inside
// [max(windowStart, patternStart), min(windowEnd, patternEnd, rule.Until)].
//
// The function is pure: it keeps no state between calls, so a rerun over the
// same inputs yields the same dates. Stepping is anchored on patternStart, which
// keeps INTERVAL phase and COUNT stable while the window rolls forward:
//   - DAILY advances by INTERVAL days.
//   - WEEKLY with BYDAY walks day by day and keeps only weeks whose distance
//     from the pattern's first week is a multiple of INTERVAL; without BYDAY
//     it advances by 7*INTERVAL days.
//   - MONTHLY advances by INTERVAL months and clamps the anchor day to the
//     length of the target month (Jan 31 -> Feb 28/29 -> Mar 31).
//   - YEARLY advances by INTERVAL years with the same clamping.
//
// COUNT is counted from patternStart, so occurrences before the window use up
// the series. Without COUNT the cursor jumps straight to the window; with it,
// the steps before the window are walked to count them. Only steps inside the
// window are held to MaxIterations, and the walk before it ends at the window
// or once COUNT is used up.
func (e *Engine) Generate(windowStart, windowEnd time.Time, rule Rule, patternStart time.Time, patternEnd *time.Time) []time.Time {
	loc := e.Location()

	ws := civil(windowStart.In(loc))
	ps := civil(patternStart.In(loc))

	end := civil(windowEnd.In(loc))
	if patternEnd != nil {
		if pe := civil(patternEnd.In(loc)); pe.Before(end) {
			end = pe
		}
	}
	if rule.Until != nil {
		if until := civil(*rule.Until); until.Before(end) {
			end = until
		}
	}

	lower := ws
	if ps.After(lower) {
		lower = ps
	}
	if lower.After(end) {
		return nil
	}

	s := newStepper(rule, ps)
	cursor := s.first()
	if rule.Count == nil {
		cursor = s.fastForward(cursor, lower)
	}

	dates := make([]time.Time, 0)
	seen := 0
	steps := 0
	for steps < MaxIterations && !cursor.After(end) {
		inWindow := !cursor.Before(lower)
		if !cursor.Before(ps) && s.matches(cursor) {
			seen++
			if inWindow {
				y, m, d := cursor.Date()
				dates = append(dates, time.Date(y, m, d, 0, 0, 0, 0, loc))
			}
			if rule.Count != nil && seen >= *rule.Count {
				break
			}
		}
		if inWindow {
			steps++
		}
		cursor = s.next(cursor)
	}

	return dates
}

// stepper holds the per-rule stepping state. All arithmetic runs on UTC
// midnights so daylight saving transitions cannot shift a date.
type stepper struct {
	rule        Rule
	interval    int
	anchor      time.Time
	anchorDay   int
	anchorMonth time.Month
	anchorWeek  time.Time
	weekdays    map[time.Weekday]struct{}
}

func newStepper(rule Rule, anchor time.Time) *stepper {
	interval := rule.Interval
	if interval < 1 {
		interval = 1
	}
	anchorDay := anchor.Day()
	if rule.ByMonthDay != nil {
		anchorDay = *rule.ByMonthDay
	}
	weekdays := make(map[time.Weekday]struct{}, len(rule.ByDay))
	for _, day := range rule.ByDay {
		weekdays[day] = struct{}{}
	}
	return &stepper{
		rule:        rule,
		interval:    interval,
		anchor:      anchor,
		anchorDay:   anchorDay,
		anchorMonth: anchor.Month(),
		anchorWeek:  startOfWeek(anchor),
		weekdays:    weekdays,
	}
}

func (s *stepper) dayByDay() bool {
	return s.rule.Frequency == FrequencyWeekly && len(s.weekdays) > 0
}

func (s *stepper) first() time.Time {
	switch s.rule.Frequency {
	case FrequencyMonthly:
		return clampedDate(s.anchor.Year(), s.anchor.Month(), s.anchorDay)
	case FrequencyYearly:
		return clampedDate(s.anchor.Year(), s.anchorMonth, s.anchorDay)
	}
	return s.anchor
}

func (s *stepper) next(cursor time.Time) time.Time {
	switch s.rule.Frequency {
	case FrequencyWeekly:
		if s.dayByDay() {
			return cursor.AddDate(0, 0, 1)
		}
		return cursor.AddDate(0, 0, 7*s.interval)
	case FrequencyMonthly:
		return addMonths(cursor, s.interval, s.anchorDay)
	case FrequencyYearly:
		return clampedDate(cursor.Year()+s.interval, s.anchorMonth, s.anchorDay)
	}
	return cursor.AddDate(0, 0, s.interval)
}

// fastForward moves cursor to the first step on or after lower without
// iterating, so old patterns do not exhaust the loop ceiling.
func (s *stepper) fastForward(cursor, lower time.Time) time.Time {
	if !cursor.Before(lower) {
		return cursor
	}
	switch s.rule.Frequency {
	case FrequencyWeekly:
		if s.dayByDay() {
			return lower
		}
		return skipDays(cursor, lower, 7*s.interval)
	case FrequencyMonthly:
		months := (lower.Year()-cursor.Year())*12 + int(lower.Month()-cursor.Month())
		steps := months / s.interval
		cursor = addMonths(cursor, steps*s.interval, s.anchorDay)
	case FrequencyYearly:
		steps := (lower.Year() - cursor.Year()) / s.interval
		cursor = clampedDate(cursor.Year()+steps*s.interval, s.anchorMonth, s.anchorDay)
	default:
		return skipDays(cursor, lower, s.interval)
	}
	for cursor.Before(lower) {
		cursor = s.next(cursor)
	}
	return cursor
}

func (s *stepper) matches(day time.Time) bool {
	if len(s.weekdays) > 0 {
		if _, ok := s.weekdays[day.Weekday()]; !ok {
			return false
		}
	}
	if s.rule.ByMonthDay != nil && day.Day() != *s.rule.ByMonthDay {
		return false
	}
	if s.dayByDay() && s.interval > 1 {
		weeks := daysBetween(s.anchorWeek, startOfWeek(day)) / 7
		if weeks%s.interval != 0 {
			return false
		}
	}
	return true
}

func civil(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}

func skipDays(cursor, lower time.Time, step int) time.Time {
	gap := daysBetween(cursor, lower)
	steps := (gap + step - 1) / step
	return cursor.AddDate(0, 0, steps*step)
}

// startOfWeek returns the Monday of the ISO week containing day.
func startOfWeek(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func clampedDate(year int, month time.Month, day int) time.Time {
	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// addMonths moves to day 1 before changing the month so time.Date never
// overflows (Jan 31 + 1 month would otherwise land on Mar 2 or 3), then
// clamps anchorDay to the target month.
func addMonths(cursor time.Time, months, anchorDay int) time.Time {
	firstOfTarget := time.Date(cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, months, 0)
	return clampedDate(firstOfTarget.Year(), firstOfTarget.Month(), anchorDay)
}
