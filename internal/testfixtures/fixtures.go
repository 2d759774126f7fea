package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/stable-scheduler/internal/persistence"
)

var (
	definitionCounter uint64
	horseCounter      uint64
	exceptionCounter  uint64
)

// referenceTime is a Monday, 02:00 UTC, the hour the daily run fires.
var referenceTime = time.Date(2024, time.March, 4, 2, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Date returns midnight UTC of the given calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// --------------------------- Definition fixtures ---------------------------

// DefinitionOption configures a generated definition.
type DefinitionOption func(*persistence.RecurringActivityDefinition)

// NewDefinition returns an active daily definition starting on the reference
// date with a fixed assignee, weight 1 and a 7 day window.
func NewDefinition(opts ...DefinitionOption) persistence.RecurringActivityDefinition {
	idx := atomic.AddUint64(&definitionCounter, 1)
	created := referenceTime.Add(-time.Duration(idx) * time.Hour)
	def := persistence.RecurringActivityDefinition{
		ID:                fmt.Sprintf("def-%03d", idx),
		OrganizationID:    "org-1",
		StableID:          "stable-1",
		ScheduleID:        "schedule-1",
		Title:             fmt.Sprintf("Activity %03d", idx),
		Category:          "feeding",
		RecurrenceRule:    "FREQ=DAILY",
		PatternStartDate:  Date(2024, time.March, 4),
		TimeOfDay:         "07:00",
		DurationMinutes:   30,
		AssignmentMode:    persistence.AssignmentFixed,
		AssignedTo:        "user-1",
		AssignedToName:    "User One",
		Weight:            1,
		GenerateDaysAhead: 7,
		Status:            persistence.DefinitionActive,
		CreatedAt:         created,
		UpdatedAt:         created,
	}
	for _, opt := range opts {
		opt(&def)
	}
	return def
}

// WithDefinitionID overrides the generated identifier.
func WithDefinitionID(id string) DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.ID = id
	}
}

// WithRule overrides the recurrence rule text.
func WithRule(rule string) DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.RecurrenceRule = rule
	}
}

// WithPattern sets the pattern bounds. end may be nil.
func WithPattern(start time.Time, end *time.Time) DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.PatternStartDate = start
		d.PatternEndDate = end
	}
}

// WithDaysAhead overrides the generation window size.
func WithDaysAhead(days int) DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.GenerateDaysAhead = days
	}
}

// WithRotation switches the definition to rotation mode.
func WithRotation(group []string, cursor int) DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.AssignmentMode = persistence.AssignmentRotation
		d.AssignedTo = ""
		d.AssignedToName = ""
		d.RotationGroup = append([]string(nil), group...)
		d.CurrentRotationIndex = &cursor
	}
}

// WithFairDistribution leaves occurrences for the balancing pass.
func WithFairDistribution() DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.AssignmentMode = persistence.AssignmentFairDistribution
		d.AssignedTo = ""
		d.AssignedToName = ""
	}
}

// WithHolidayWeight sets the base weight and enables the holiday multiplier.
func WithHolidayWeight(weight float64) DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.Weight = weight
		d.IsHolidayMultiplied = true
	}
}

// WithAllHorses builds checklists from every active horse of the stable.
func WithAllHorses() DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.AppliesToAllHorses = true
		d.HorseGroupID = ""
	}
}

// WithHorseGroup builds checklists from a horse group.
func WithHorseGroup(groupID string) DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.AppliesToAllHorses = false
		d.HorseGroupID = groupID
	}
}

// WithStatus overrides the lifecycle status.
func WithStatus(status persistence.DefinitionStatus) DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.Status = status
	}
}

// WithSchedule attaches the definition to a schedule.
func WithSchedule(scheduleID string) DefinitionOption {
	return func(d *persistence.RecurringActivityDefinition) {
		d.ScheduleID = scheduleID
	}
}

// ------------------------------ Horse fixtures ------------------------------

// NewHorse returns an active horse of stable-1 in the given groups.
func NewHorse(name string, groupIDs ...string) persistence.Horse {
	idx := atomic.AddUint64(&horseCounter, 1)
	return persistence.Horse{
		ID:       fmt.Sprintf("horse-%03d", idx),
		StableID: "stable-1",
		Name:     name,
		GroupIDs: append([]string(nil), groupIDs...),
		Active:   true,
	}
}

// ---------------------------- Exception fixtures ----------------------------

// ExceptionOption configures a generated exception.
type ExceptionOption func(*persistence.Exception)

// NewSkipException skips the occurrence of definitionID on day.
func NewSkipException(definitionID string, day time.Time, opts ...ExceptionOption) persistence.Exception {
	return newException(definitionID, day, persistence.ExceptionSkip, opts)
}

// NewModifyException overrides the occurrence of definitionID on day.
func NewModifyException(definitionID string, day time.Time, opts ...ExceptionOption) persistence.Exception {
	return newException(definitionID, day, persistence.ExceptionModify, opts)
}

func newException(definitionID string, day time.Time, kind persistence.ExceptionType, opts []ExceptionOption) persistence.Exception {
	idx := atomic.AddUint64(&exceptionCounter, 1)
	exc := persistence.Exception{
		ID:            fmt.Sprintf("exc-%03d", idx),
		DefinitionID:  definitionID,
		ExceptionDate: day,
		ExceptionType: kind,
		CreatedAt:     referenceTime,
	}
	for _, opt := range opts {
		opt(&exc)
	}
	return exc
}

// WithModifiedTitle overrides the title of the occurrence.
func WithModifiedTitle(title string) ExceptionOption {
	return func(e *persistence.Exception) {
		e.ModifiedTitle = &title
	}
}

// WithModifiedTime overrides the time of day of the occurrence.
func WithModifiedTime(timeOfDay string) ExceptionOption {
	return func(e *persistence.Exception) {
		e.ModifiedTime = &timeOfDay
	}
}

// WithModifiedAssignee overrides the assignee of the occurrence.
func WithModifiedAssignee(id, name string) ExceptionOption {
	return func(e *persistence.Exception) {
		e.ModifiedAssignedTo = &id
		e.ModifiedAssignedToName = &name
	}
}

// WithReason sets the note carried onto the instance.
func WithReason(reason string) ExceptionOption {
	return func(e *persistence.Exception) {
		e.Reason = reason
	}
}
