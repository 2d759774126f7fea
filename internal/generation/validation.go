package generation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/stable-scheduler/internal/persistence"
	"github.com/example/stable-scheduler/internal/recurrence"
)

type definitionFields struct {
	ID                string    `json:"id" validate:"required"`
	Title             string    `json:"title" validate:"required,max=200"`
	RecurrenceRule    string    `json:"recurrenceRule" validate:"required"`
	PatternStartDate  time.Time `json:"patternStartDate" validate:"required"`
	TimeOfDay         string    `json:"timeOfDay" validate:"omitempty,datetime=15:04"`
	DurationMinutes   int       `json:"durationMinutes" validate:"gte=0,lte=1440"`
	AssignmentMode    string    `json:"assignmentMode" validate:"oneof=fixed rotation fair-distribution"`
	AssignedTo        string    `json:"assignedTo" validate:"required_if=AssignmentMode fixed"`
	RotationGroup     []string  `json:"rotationGroup" validate:"required_if=AssignmentMode rotation,dive,required"`
	Weight            float64   `json:"weight" validate:"gte=0"`
	GenerateDaysAhead int       `json:"generateDaysAhead" validate:"gte=0,lte=366"`
	Status            string    `json:"status" validate:"oneof=active paused archived"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func definitionValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
			if name == "" || name == "-" {
				return field.Name
			}
			return name
		})
	})
	return validate
}

// ValidateDefinition checks a definition before it is saved. Field problems,
// an unparsable recurrence rule and out of range rotation state are reported
// together in a ValidationError.
func ValidateDefinition(def persistence.RecurringActivityDefinition) error {
	vErr := &ValidationError{}

	fields := definitionFields{
		ID:                def.ID,
		Title:             strings.TrimSpace(def.Title),
		RecurrenceRule:    def.RecurrenceRule,
		PatternStartDate:  def.PatternStartDate,
		TimeOfDay:         def.TimeOfDay,
		DurationMinutes:   def.DurationMinutes,
		AssignmentMode:    string(def.AssignmentMode),
		AssignedTo:        def.AssignedTo,
		RotationGroup:     def.RotationGroup,
		Weight:            def.Weight,
		GenerateDaysAhead: def.GenerateDaysAhead,
		Status:            string(def.Status),
	}
	if err := definitionValidator().Struct(fields); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			field := fe.Field()
			if _, exists := vErr.FieldErrors[field]; exists {
				continue
			}
			vErr.add(field, describeFieldError(fe))
		}
	}

	if def.RecurrenceRule != "" {
		if err := recurrence.Validate(def.RecurrenceRule); err != nil {
			vErr.add("recurrenceRule", err.Error())
		}
	}
	if def.PatternEndDate != nil && !def.PatternStartDate.IsZero() && def.PatternEndDate.Before(def.PatternStartDate) {
		vErr.add("patternEndDate", "must not be before patternStartDate")
	}
	if def.CurrentRotationIndex != nil {
		idx := *def.CurrentRotationIndex
		if idx < 0 || idx >= len(def.RotationGroup) {
			vErr.add("currentRotationIndex", fmt.Sprintf("must index rotationGroup (size %d)", len(def.RotationGroup)))
		}
	}

	if vErr.HasErrors() {
		return vErr
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "datetime":
		return "must use the HH:MM format"
	case "gte":
		return "must be at least " + fe.Param()
	case "lte", "max":
		return "must be at most " + fe.Param()
	}
	return "failed " + fe.Tag()
}
