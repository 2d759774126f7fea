package recurrence

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MonthDay identifies a fixed-date holiday independent of the year.
type MonthDay struct {
	Month time.Month
	Day   int
}

// Calendar classifies dates as weekend or fixed-date holiday.
//
// Only fixed dates are supported. Moving holidays such as Easter are not
// computed; list them per year in the calendar file if needed.
type Calendar struct {
	holidays map[MonthDay]string
}

// defaultHolidays lists the fixed-date Swedish public and de facto holidays.
var defaultHolidays = map[MonthDay]string{
	{time.January, 1}:   "New Year's Day",
	{time.January, 6}:   "Epiphany",
	{time.May, 1}:       "May Day",
	{time.June, 6}:      "National Day",
	{time.December, 24}: "Christmas Eve",
	{time.December, 25}: "Christmas Day",
	{time.December, 26}: "Boxing Day",
	{time.December, 31}: "New Year's Eve",
}

// NewCalendar builds a calendar from the provided table. A nil table yields a
// calendar that only recognises weekends.
func NewCalendar(holidays map[MonthDay]string) *Calendar {
	table := make(map[MonthDay]string, len(holidays))
	for key, name := range holidays {
		table[key] = name
	}
	return &Calendar{holidays: table}
}

// DefaultCalendar returns the built-in holiday table.
func DefaultCalendar() *Calendar {
	return NewCalendar(defaultHolidays)
}

// IsHolidayOrWeekend reports whether date falls on Saturday, Sunday or a
// listed holiday. The date is read in its own location.
func (c *Calendar) IsHolidayOrWeekend(date time.Time) bool {
	switch date.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	_, ok := c.HolidayName(date)
	return ok
}

// HolidayName returns the configured name for date, if any.
func (c *Calendar) HolidayName(date time.Time) (string, bool) {
	if c == nil {
		return "", false
	}
	name, ok := c.holidays[MonthDay{Month: date.Month(), Day: date.Day()}]
	return name, ok
}

// Len reports how many holidays are configured.
func (c *Calendar) Len() int {
	if c == nil {
		return 0
	}
	return len(c.holidays)
}

type calendarFile struct {
	Holidays []struct {
		Date string `yaml:"date"`
		Name string `yaml:"name"`
	} `yaml:"holidays"`
}

// LoadCalendar reads a YAML holiday table of the form
//
//	holidays:
//	  - date: "12-25"
//	    name: Christmas Day
//
// where date is MM-DD.
func LoadCalendar(path string) (*Calendar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recurrence: read calendar %s: %w", path, err)
	}
	return ParseCalendar(data)
}

// ParseCalendar decodes the YAML form accepted by LoadCalendar.
func ParseCalendar(data []byte) (*Calendar, error) {
	var parsed calendarFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("recurrence: parse calendar: %w", err)
	}

	table := make(map[MonthDay]string, len(parsed.Holidays))
	for i, entry := range parsed.Holidays {
		day, err := time.Parse("01-02", strings.TrimSpace(entry.Date))
		if err != nil {
			return nil, fmt.Errorf("recurrence: holiday %d: date %q is not MM-DD", i+1, entry.Date)
		}
		table[MonthDay{Month: day.Month(), Day: day.Day()}] = strings.TrimSpace(entry.Name)
	}
	return NewCalendar(table), nil
}
