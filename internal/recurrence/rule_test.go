package recurrence

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("applies defaults", func(t *testing.T) {
		t.Parallel()
		rule := Parse("RRULE:BYDAY=MO")
		if rule.Frequency != FrequencyDaily {
			t.Fatalf("expected DAILY default, got %s", rule.Frequency)
		}
		if rule.Interval != 1 {
			t.Fatalf("expected interval 1, got %d", rule.Interval)
		}
	})

	t.Run("reads every supported key", func(t *testing.T) {
		t.Parallel()
		rule := Parse("RRULE:FREQ=MONTHLY;INTERVAL=2;BYDAY=FR,MO;BYMONTHDAY=15;UNTIL=20241231;X-CUSTOM=1")
		if rule.Frequency != FrequencyMonthly {
			t.Fatalf("unexpected frequency %s", rule.Frequency)
		}
		if rule.Interval != 2 {
			t.Fatalf("unexpected interval %d", rule.Interval)
		}
		if !reflect.DeepEqual(rule.ByDay, []time.Weekday{time.Monday, time.Friday}) {
			t.Fatalf("unexpected weekdays %v", rule.ByDay)
		}
		if rule.ByMonthDay == nil || *rule.ByMonthDay != 15 {
			t.Fatalf("unexpected month day %v", rule.ByMonthDay)
		}
		if rule.Until == nil || !rule.Until.Equal(time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected until %v", rule.Until)
		}
	})

	t.Run("accepts rules without prefix and with lower case keys", func(t *testing.T) {
		t.Parallel()
		rule := Parse("freq=weekly;count=4")
		if rule.Frequency != FrequencyWeekly {
			t.Fatalf("unexpected frequency %s", rule.Frequency)
		}
		if rule.Count == nil || *rule.Count != 4 {
			t.Fatalf("unexpected count %v", rule.Count)
		}
	})

	t.Run("drops malformed fragments", func(t *testing.T) {
		t.Parallel()
		rule := Parse("RRULE:FREQ=WEEKLY;INTERVAL=abc;COUNT=-1;BYMONTHDAY=40;UNTIL=2024;BYDAY=XX;garbage")
		if rule.Frequency != FrequencyWeekly {
			t.Fatalf("expected FREQ to survive, got %s", rule.Frequency)
		}
		if rule.Interval != 1 {
			t.Fatalf("expected default interval, got %d", rule.Interval)
		}
		if rule.Count != nil || rule.ByMonthDay != nil || rule.Until != nil || rule.ByDay != nil {
			t.Fatalf("expected malformed fields to be unset, got %+v", rule)
		}
	})

	t.Run("tolerates timestamp suffix on UNTIL", func(t *testing.T) {
		t.Parallel()
		rule := Parse("FREQ=DAILY;UNTIL=20240301T235959Z")
		if rule.Until == nil || rule.Until.Day() != 1 || rule.Until.Month() != time.March {
			t.Fatalf("unexpected until %v", rule.Until)
		}
	})
}

func TestValidate(t *testing.T) {
	t.Parallel()

	if err := Validate("RRULE:FREQ=WEEKLY;BYDAY=MO,WE"); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}

	err := Validate("RRULE:FREQ=HOURLY;INTERVAL=0;COUNT=2;UNTIL=20240101")
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !errors.Is(err, ErrInvalidRule) {
		t.Fatalf("expected ErrInvalidRule, got %v", err)
	}
	var ruleErr *RuleError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("expected *RuleError, got %T", err)
	}
	if len(ruleErr.Problems) != 3 {
		t.Fatalf("expected 3 problems, got %v", ruleErr.Problems)
	}

	if err := Validate("   "); err == nil {
		t.Fatalf("expected empty rule to be rejected")
	}
}
