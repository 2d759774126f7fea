package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/stable-scheduler/internal/persistence"
)

type definitionRow struct {
	ID                   string         `db:"id"`
	OrganizationID       string         `db:"organization_id"`
	StableID             string         `db:"stable_id"`
	ScheduleID           string         `db:"schedule_id"`
	Title                string         `db:"title"`
	Description          string         `db:"description"`
	Category             string         `db:"category"`
	Color                string         `db:"color"`
	Icon                 string         `db:"icon"`
	RecurrenceRule       string         `db:"recurrence_rule"`
	PatternStartDate     string         `db:"pattern_start_date"`
	PatternEndDate       sql.NullString `db:"pattern_end_date"`
	TimeOfDay            string         `db:"time_of_day"`
	DurationMinutes      int            `db:"duration_minutes"`
	AssignmentMode       string         `db:"assignment_mode"`
	AssignedTo           string         `db:"assigned_to"`
	AssignedToName       string         `db:"assigned_to_name"`
	RotationGroup        string         `db:"rotation_group"`
	CurrentRotationIndex sql.NullInt64  `db:"current_rotation_index"`
	AppliesToAllHorses   bool           `db:"applies_to_all_horses"`
	HorseGroupID         string         `db:"horse_group_id"`
	IsHolidayMultiplied  bool           `db:"is_holiday_multiplied"`
	Weight               float64        `db:"weight"`
	GenerateDaysAhead    int            `db:"generate_days_ahead"`
	Status               string         `db:"status"`
	LastGeneratedDate    sql.NullString `db:"last_generated_date"`
	CreatedAt            string         `db:"created_at"`
	UpdatedAt            string         `db:"updated_at"`
}

const definitionColumns = `id, organization_id, stable_id, schedule_id, title, description, category, color, icon,
	recurrence_rule, pattern_start_date, pattern_end_date, time_of_day, duration_minutes, assignment_mode,
	assigned_to, assigned_to_name, rotation_group, current_rotation_index, applies_to_all_horses,
	horse_group_id, is_holiday_multiplied, weight, generate_days_ahead, status, last_generated_date,
	created_at, updated_at`

// ListActiveDefinitions returns every definition with status active.
func (s *Store) ListActiveDefinitions(ctx context.Context) ([]persistence.RecurringActivityDefinition, error) {
	query := s.db.Rebind(`SELECT ` + definitionColumns + ` FROM recurring_activities WHERE status = ? ORDER BY id ASC`)
	return s.selectDefinitions(ctx, query, string(persistence.DefinitionActive))
}

// ListDefinitionsForSchedule returns every definition attached to scheduleID.
func (s *Store) ListDefinitionsForSchedule(ctx context.Context, scheduleID string) ([]persistence.RecurringActivityDefinition, error) {
	query := s.db.Rebind(`SELECT ` + definitionColumns + ` FROM recurring_activities WHERE schedule_id = ? ORDER BY id ASC`)
	return s.selectDefinitions(ctx, query, scheduleID)
}

// GetDefinition returns the definition with the given id.
func (s *Store) GetDefinition(ctx context.Context, id string) (persistence.RecurringActivityDefinition, error) {
	var row definitionRow
	query := s.db.Rebind(`SELECT ` + definitionColumns + ` FROM recurring_activities WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.RecurringActivityDefinition{}, mapError(err)
	}
	return s.definitionFromRow(row)
}

// SaveDefinition inserts or replaces a definition.
func (s *Store) SaveDefinition(ctx context.Context, definition persistence.RecurringActivityDefinition) error {
	row, err := s.definitionToRow(definition)
	if err != nil {
		return err
	}

	const upsert = `INSERT INTO recurring_activities (` + definitionColumns + `) VALUES (
		:id, :organization_id, :stable_id, :schedule_id, :title, :description, :category, :color, :icon,
		:recurrence_rule, :pattern_start_date, :pattern_end_date, :time_of_day, :duration_minutes, :assignment_mode,
		:assigned_to, :assigned_to_name, :rotation_group, :current_rotation_index, :applies_to_all_horses,
		:horse_group_id, :is_holiday_multiplied, :weight, :generate_days_ahead, :status, :last_generated_date,
		:created_at, :updated_at)
	ON CONFLICT (id) DO UPDATE SET
		organization_id = excluded.organization_id,
		stable_id = excluded.stable_id,
		schedule_id = excluded.schedule_id,
		title = excluded.title,
		description = excluded.description,
		category = excluded.category,
		color = excluded.color,
		icon = excluded.icon,
		recurrence_rule = excluded.recurrence_rule,
		pattern_start_date = excluded.pattern_start_date,
		pattern_end_date = excluded.pattern_end_date,
		time_of_day = excluded.time_of_day,
		duration_minutes = excluded.duration_minutes,
		assignment_mode = excluded.assignment_mode,
		assigned_to = excluded.assigned_to,
		assigned_to_name = excluded.assigned_to_name,
		rotation_group = excluded.rotation_group,
		current_rotation_index = excluded.current_rotation_index,
		applies_to_all_horses = excluded.applies_to_all_horses,
		horse_group_id = excluded.horse_group_id,
		is_holiday_multiplied = excluded.is_holiday_multiplied,
		weight = excluded.weight,
		generate_days_ahead = excluded.generate_days_ahead,
		status = excluded.status,
		last_generated_date = excluded.last_generated_date,
		updated_at = excluded.updated_at`

	return s.retry.WithRetry(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, upsert, row)
		return err
	})
}

// UpdateGenerationState records the generation bookkeeping of a definition.
func (s *Store) UpdateGenerationState(ctx context.Context, id string, lastGenerated time.Time, rotationIndex *int) error {
	var (
		query string
		args  []any
	)
	now := formatTimestamp(time.Now())
	if rotationIndex != nil {
		query = `UPDATE recurring_activities SET last_generated_date = ?, current_rotation_index = ?, updated_at = ? WHERE id = ?`
		args = []any{s.formatDate(lastGenerated), *rotationIndex, now, id}
	} else {
		query = `UPDATE recurring_activities SET last_generated_date = ?, updated_at = ? WHERE id = ?`
		args = []any{s.formatDate(lastGenerated), now, id}
	}

	return s.retry.WithRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return persistence.ErrNotFound
		}
		return nil
	})
}

func (s *Store) selectDefinitions(ctx context.Context, query string, args ...any) ([]persistence.RecurringActivityDefinition, error) {
	var rows []definitionRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	definitions := make([]persistence.RecurringActivityDefinition, 0, len(rows))
	for _, row := range rows {
		definition, err := s.definitionFromRow(row)
		if err != nil {
			return nil, err
		}
		definitions = append(definitions, definition)
	}
	return definitions, nil
}

func (s *Store) definitionToRow(d persistence.RecurringActivityDefinition) (definitionRow, error) {
	group := d.RotationGroup
	if group == nil {
		group = []string{}
	}
	encodedGroup, err := json.Marshal(group)
	if err != nil {
		return definitionRow{}, fmt.Errorf("encode rotation group: %w", err)
	}

	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := d.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	row := definitionRow{
		ID:                  d.ID,
		OrganizationID:      d.OrganizationID,
		StableID:            d.StableID,
		ScheduleID:          d.ScheduleID,
		Title:               d.Title,
		Description:         d.Description,
		Category:            d.Category,
		Color:               d.Color,
		Icon:                d.Icon,
		RecurrenceRule:      d.RecurrenceRule,
		PatternStartDate:    s.formatDate(d.PatternStartDate),
		TimeOfDay:           d.TimeOfDay,
		DurationMinutes:     d.DurationMinutes,
		AssignmentMode:      string(d.AssignmentMode),
		AssignedTo:          d.AssignedTo,
		AssignedToName:      d.AssignedToName,
		RotationGroup:       string(encodedGroup),
		AppliesToAllHorses:  d.AppliesToAllHorses,
		HorseGroupID:        d.HorseGroupID,
		IsHolidayMultiplied: d.IsHolidayMultiplied,
		Weight:              d.Weight,
		GenerateDaysAhead:   d.GenerateDaysAhead,
		Status:              string(d.Status),
		CreatedAt:           formatTimestamp(createdAt),
		UpdatedAt:           formatTimestamp(updatedAt),
	}
	if d.PatternEndDate != nil {
		row.PatternEndDate = sql.NullString{String: s.formatDate(*d.PatternEndDate), Valid: true}
	}
	if d.CurrentRotationIndex != nil {
		row.CurrentRotationIndex = sql.NullInt64{Int64: int64(*d.CurrentRotationIndex), Valid: true}
	}
	if d.LastGeneratedDate != nil {
		row.LastGeneratedDate = sql.NullString{String: s.formatDate(*d.LastGeneratedDate), Valid: true}
	}
	return row, nil
}

func (s *Store) definitionFromRow(row definitionRow) (persistence.RecurringActivityDefinition, error) {
	start, err := s.parseDate(row.PatternStartDate)
	if err != nil {
		return persistence.RecurringActivityDefinition{}, fmt.Errorf("definition %s: pattern start: %w", row.ID, err)
	}

	d := persistence.RecurringActivityDefinition{
		ID:                  row.ID,
		OrganizationID:      row.OrganizationID,
		StableID:            row.StableID,
		ScheduleID:          row.ScheduleID,
		Title:               row.Title,
		Description:         row.Description,
		Category:            row.Category,
		Color:               row.Color,
		Icon:                row.Icon,
		RecurrenceRule:      row.RecurrenceRule,
		PatternStartDate:    start,
		TimeOfDay:           row.TimeOfDay,
		DurationMinutes:     row.DurationMinutes,
		AssignmentMode:      persistence.AssignmentMode(row.AssignmentMode),
		AssignedTo:          row.AssignedTo,
		AssignedToName:      row.AssignedToName,
		AppliesToAllHorses:  row.AppliesToAllHorses,
		HorseGroupID:        row.HorseGroupID,
		IsHolidayMultiplied: row.IsHolidayMultiplied,
		Weight:              row.Weight,
		GenerateDaysAhead:   row.GenerateDaysAhead,
		Status:              persistence.DefinitionStatus(row.Status),
	}

	if row.RotationGroup != "" {
		if err := json.Unmarshal([]byte(row.RotationGroup), &d.RotationGroup); err != nil {
			return persistence.RecurringActivityDefinition{}, fmt.Errorf("definition %s: rotation group: %w", row.ID, err)
		}
	}
	if row.PatternEndDate.Valid {
		end, err := s.parseDate(row.PatternEndDate.String)
		if err != nil {
			return persistence.RecurringActivityDefinition{}, fmt.Errorf("definition %s: pattern end: %w", row.ID, err)
		}
		d.PatternEndDate = &end
	}
	if row.CurrentRotationIndex.Valid {
		idx := int(row.CurrentRotationIndex.Int64)
		d.CurrentRotationIndex = &idx
	}
	if row.LastGeneratedDate.Valid {
		last, err := s.parseDate(row.LastGeneratedDate.String)
		if err != nil {
			return persistence.RecurringActivityDefinition{}, fmt.Errorf("definition %s: last generated: %w", row.ID, err)
		}
		d.LastGeneratedDate = &last
	}
	if d.CreatedAt, err = parseTimestamp(row.CreatedAt); err != nil {
		return persistence.RecurringActivityDefinition{}, fmt.Errorf("definition %s: created_at: %w", row.ID, err)
	}
	if d.UpdatedAt, err = parseTimestamp(row.UpdatedAt); err != nil {
		return persistence.RecurringActivityDefinition{}, fmt.Errorf("definition %s: updated_at: %w", row.ID, err)
	}
	return d, nil
}
