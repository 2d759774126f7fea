package recurrence

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Frequency represents supported recurrence intervals.
type Frequency int

const (
	// FrequencyUnspecified indicates the rule frequency is not set.
	FrequencyUnspecified Frequency = iota
	// FrequencyDaily steps by INTERVAL days.
	FrequencyDaily
	// FrequencyWeekly steps by INTERVAL weeks, or day by day when BYDAY is present.
	FrequencyWeekly
	// FrequencyMonthly steps by INTERVAL months, clamping to the end of short months.
	FrequencyMonthly
	// FrequencyYearly steps by INTERVAL years.
	FrequencyYearly
)

// String returns the RRULE token for the frequency.
func (f Frequency) String() string {
	switch f {
	case FrequencyDaily:
		return "DAILY"
	case FrequencyWeekly:
		return "WEEKLY"
	case FrequencyMonthly:
		return "MONTHLY"
	case FrequencyYearly:
		return "YEARLY"
	}
	return "UNSPECIFIED"
}

// Rule is the structured form of a textual recurrence rule.
//
// Nil optional fields mean "no constraint". Until holds a calendar date; only
// its year, month and day are meaningful.
type Rule struct {
	Frequency  Frequency
	Interval   int
	ByDay      []time.Weekday
	ByMonthDay *int
	Count      *int
	Until      *time.Time
}

// ErrInvalidRule indicates that a rule text contains fragments the lenient
// parser would silently drop.
var ErrInvalidRule = errors.New("recurrence: invalid rule")

// RuleError lists every problem found by Validate.
type RuleError struct {
	Problems []string
}

// Error implements the error interface.
func (e *RuleError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return ErrInvalidRule.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRule.Error(), strings.Join(e.Problems, "; "))
}

// Unwrap allows errors.Is(err, ErrInvalidRule).
func (e *RuleError) Unwrap() error {
	return ErrInvalidRule
}

var weekdayCodes = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var frequencyCodes = map[string]Frequency{
	"DAILY":   FrequencyDaily,
	"WEEKLY":  FrequencyWeekly,
	"MONTHLY": FrequencyMonthly,
	"YEARLY":  FrequencyYearly,
}

// Parse converts a semicolon delimited RRULE subset into a Rule.
//
// Parse never fails. Unknown keys are ignored and malformed values leave the
// corresponding field unset, so one bad definition cannot block a batch run.
// FREQ defaults to DAILY and INTERVAL to 1.
func Parse(text string) Rule {
	rule, _ := parse(text)
	return rule
}

// Validate applies the same grammar as Parse but reports every fragment that
// Parse would drop. It is meant for save-time checks; generation stays lenient.
func Validate(text string) error {
	_, problems := parse(text)
	if len(problems) == 0 {
		return nil
	}
	return &RuleError{Problems: problems}
}

func parse(text string) (Rule, []string) {
	rule := Rule{Frequency: FrequencyDaily, Interval: 1}
	var problems []string

	body := strings.TrimSpace(text)
	if len(body) >= 6 && strings.EqualFold(body[:6], "RRULE:") {
		body = body[6:]
	}
	if body == "" {
		return rule, []string{"rule is empty"}
	}

	for _, part := range strings.Split(body, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			problems = append(problems, fmt.Sprintf("fragment %q has no value", part))
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			freq, known := frequencyCodes[strings.ToUpper(value)]
			if !known {
				problems = append(problems, fmt.Sprintf("unsupported FREQ %q", value))
				continue
			}
			rule.Frequency = freq
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				problems = append(problems, fmt.Sprintf("INTERVAL %q is not a positive integer", value))
				continue
			}
			rule.Interval = n
		case "BYDAY":
			days, bad := parseWeekdays(value)
			for _, code := range bad {
				problems = append(problems, fmt.Sprintf("unknown BYDAY code %q", code))
			}
			if len(days) > 0 {
				rule.ByDay = days
			}
		case "BYMONTHDAY":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 || n > 31 {
				problems = append(problems, fmt.Sprintf("BYMONTHDAY %q is not within 1..31", value))
				continue
			}
			rule.ByMonthDay = &n
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				problems = append(problems, fmt.Sprintf("COUNT %q is not a positive integer", value))
				continue
			}
			rule.Count = &n
		case "UNTIL":
			until, err := parseUntil(value)
			if err != nil {
				problems = append(problems, fmt.Sprintf("UNTIL %q is not a YYYYMMDD date", value))
				continue
			}
			rule.Until = &until
		}
	}

	if rule.Count != nil && rule.Until != nil {
		problems = append(problems, "COUNT and UNTIL are mutually exclusive")
	}

	return rule, problems
}

func parseWeekdays(value string) ([]time.Weekday, []string) {
	seen := make(map[time.Weekday]struct{}, 7)
	days := make([]time.Weekday, 0, 7)
	var bad []string
	for _, code := range strings.Split(value, ",") {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			continue
		}
		day, ok := weekdayCodes[code]
		if !ok {
			bad = append(bad, code)
			continue
		}
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })
	return days, bad
}

// parseUntil accepts the compact YYYYMMDD form. A trailing time component
// (YYYYMMDDTHHMMSSZ) is tolerated and discarded.
func parseUntil(value string) (time.Time, error) {
	if len(value) < 8 {
		return time.Time{}, fmt.Errorf("too short")
	}
	if len(value) > 8 && value[8] != 'T' {
		return time.Time{}, fmt.Errorf("unexpected suffix")
	}
	return time.Parse("20060102", value[:8])
}
