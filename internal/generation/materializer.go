package generation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/example/stable-scheduler/internal/logging"
	"github.com/example/stable-scheduler/internal/persistence"
	"github.com/example/stable-scheduler/internal/recurrence"
)

// HolidayMultiplier scales the weight of holiday and weekend occurrences of
// definitions with IsHolidayMultiplied set.
const HolidayMultiplier = 1.5

// MaterializeParams describes one definition's generation input.
type MaterializeParams struct {
	Definition  persistence.RecurringActivityDefinition
	Dates       []time.Time
	Exceptions  ExceptionSet
	Roster      []RosterEntry
	WindowStart time.Time
	WindowEnd   time.Time
}

// MaterializeResult summarises one definition's generation.
type MaterializeResult struct {
	Generated int
	Skipped   int
	Commits   int
	// NextCursor is the rotation cursor after the last inserted occurrence.
	NextCursor int
}

// Materializer turns candidate dates into persisted instances.
type Materializer struct {
	instances persistence.InstanceRepository
	calendar  *recurrence.Calendar
	batchSize int
	now       func() time.Time
	logger    *slog.Logger
}

// NewMaterializer constructs a Materializer with the default logger.
func NewMaterializer(instances persistence.InstanceRepository, calendar *recurrence.Calendar, batchSize int, now func() time.Time) *Materializer {
	return NewMaterializerWithLogger(instances, calendar, batchSize, now, nil)
}

// NewMaterializerWithLogger constructs a Materializer with a specified logger.
// A nil calendar uses recurrence.DefaultCalendar and batchSize is clamped to
// (0, persistence.MaxBatchOperations].
func NewMaterializerWithLogger(instances persistence.InstanceRepository, calendar *recurrence.Calendar, batchSize int, now func() time.Time, logger *slog.Logger) *Materializer {
	if calendar == nil {
		calendar = recurrence.DefaultCalendar()
	}
	if now == nil {
		now = time.Now
	}
	return &Materializer{
		instances: instances,
		calendar:  calendar,
		batchSize: clampBatchSize(batchSize),
		now:       now,
		logger:    logging.Default(logger),
	}
}

// Materialize writes an instance for every candidate date that has neither an
// existing instance nor a skip exception.
//
// Dates already materialized within [WindowStart, WindowEnd] and dates with a
// skip exception count as skipped. Writes are committed in batches of the
// configured size; a failed commit aborts the remaining dates and leaves
// earlier batches in place. The rotation cursor advances once per inserted
// occurrence.
func (m *Materializer) Materialize(ctx context.Context, params MaterializeParams) (MaterializeResult, error) {
	def := params.Definition
	result := MaterializeResult{NextCursor: initialCursor(def)}
	if m == nil || m.instances == nil {
		return result, ErrNotConfigured
	}
	if len(params.Dates) == 0 {
		return result, nil
	}

	logger := logging.Component(ctx, m.logger, "Materializer", "Materialize", "definition_id", def.ID)

	from, to := params.WindowStart, params.WindowEnd
	existing, err := m.instances.ListInstances(ctx, persistence.InstanceFilter{
		DefinitionID: def.ID,
		From:         &from,
		To:           &to,
	})
	if err != nil {
		return result, definitionError(def.ID, StageExisting, err)
	}
	materialized := make(map[string]struct{}, len(existing))
	for _, inst := range existing {
		materialized[inst.ScheduledDate.Format(persistence.DateLayout)] = struct{}{}
	}

	checklist := BuildChecklist(params.Roster)
	writer := newBatchWriter(m.instances, m.batchSize)
	cursor := result.NextCursor
	now := m.now()

	for _, day := range params.Dates {
		key := day.Format(persistence.DateLayout)
		if _, ok := materialized[key]; ok {
			result.Skipped++
			continue
		}
		exc, hasException := params.Exceptions.For(day)
		if hasException && exc.ExceptionType == persistence.ExceptionSkip {
			result.Skipped++
			continue
		}

		var assignment Assignment
		assignment, cursor = ResolveAssignment(def, cursor)
		instance := m.buildInstance(def, day, assignment, checklist, now)
		if hasException && exc.ExceptionType == persistence.ExceptionModify {
			applyModification(&instance, exc)
		}

		if err := writer.create(ctx, instance); err != nil {
			m.collect(&result, writer)
			logger.ErrorContext(ctx, "batch commit failed", "error", err, "commits", writer.commits, "error_kind", ErrorKind(err))
			return result, definitionError(def.ID, StageCommit, err)
		}
	}
	if err := writer.flush(ctx); err != nil {
		m.collect(&result, writer)
		logger.ErrorContext(ctx, "batch commit failed", "error", err, "commits", writer.commits, "error_kind", ErrorKind(err))
		return result, definitionError(def.ID, StageCommit, err)
	}

	m.collect(&result, writer)
	if writer.conflicts > 0 {
		// Rows written concurrently keep their own assignee.
		cursor = advanceCursor(def, result.NextCursor, result.Generated)
	}
	result.NextCursor = cursor
	logger.DebugContext(ctx, "definition materialized",
		"generated", result.Generated,
		"skipped", result.Skipped,
		"commits", result.Commits,
	)
	return result, nil
}

func (m *Materializer) collect(result *MaterializeResult, writer *batchWriter) {
	result.Generated += writer.inserted
	result.Skipped += writer.conflicts
	result.Commits += writer.commits
}

func (m *Materializer) buildInstance(def persistence.RecurringActivityDefinition, day time.Time, assignment Assignment, checklist []persistence.ChecklistItem, now time.Time) persistence.ActivityInstance {
	holiday := m.calendar.IsHolidayOrWeekend(day)
	weight := def.Weight
	if def.IsHolidayMultiplied && holiday {
		weight *= HolidayMultiplier
	}

	instance := persistence.ActivityInstance{
		ID:                  persistence.InstanceID(def.ID, day),
		RecurringActivityID: def.ID,
		OrganizationID:      def.OrganizationID,
		StableID:            def.StableID,
		ScheduleID:          def.ScheduleID,
		Title:               def.Title,
		Description:         def.Description,
		Category:            def.Category,
		Color:               def.Color,
		Icon:                def.Icon,
		ScheduledDate:       day,
		ScheduledTime:       def.TimeOfDay,
		ScheduledEndTime:    EndTime(def.TimeOfDay, def.DurationMinutes),
		DurationMinutes:     def.DurationMinutes,
		AssignmentMode:      def.AssignmentMode,
		AssignedTo:          assignment.AssignedTo,
		AssignedToName:      assignment.AssignedToName,
		RotationIndex:       assignment.RotationIndex,
		Weight:              weight,
		IsHolidayShift:      holiday,
		Status:              persistence.InstanceScheduled,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if len(checklist) > 0 {
		instance.Checklist = append([]persistence.ChecklistItem(nil), checklist...)
		instance.Progress = &persistence.Progress{Completed: 0, Total: len(checklist)}
	}
	return instance
}

func applyModification(instance *persistence.ActivityInstance, exc persistence.Exception) {
	instance.IsException = true
	instance.ExceptionNote = exc.Reason
	if exc.ModifiedTitle != nil {
		instance.Title = *exc.ModifiedTitle
	}
	if exc.ModifiedTime != nil {
		instance.ScheduledTime = *exc.ModifiedTime
		instance.ScheduledEndTime = EndTime(*exc.ModifiedTime, instance.DurationMinutes)
	}
	if exc.ModifiedAssignedTo != nil {
		instance.AssignedTo = *exc.ModifiedAssignedTo
		instance.AssignedToName = ""
	}
	if exc.ModifiedAssignedToName != nil {
		instance.AssignedToName = *exc.ModifiedAssignedToName
	}
}

// EndTime adds durationMinutes to an "HH:MM" time of day, wrapping past
// midnight. It returns "" when timeOfDay is not a valid time.
func EndTime(timeOfDay string, durationMinutes int) string {
	hours, minutes, ok := strings.Cut(strings.TrimSpace(timeOfDay), ":")
	if !ok {
		return ""
	}
	h, err := strconv.Atoi(hours)
	if err != nil || h < 0 || h > 23 {
		return ""
	}
	mi, err := strconv.Atoi(minutes)
	if err != nil || mi < 0 || mi > 59 {
		return ""
	}
	const day = 24 * 60
	total := ((h*60+mi+durationMinutes)%day + day) % day
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
