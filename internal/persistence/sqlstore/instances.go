package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/stable-scheduler/internal/persistence"
)

type instanceRow struct {
	ID                  string         `db:"id"`
	RecurringActivityID string         `db:"recurring_activity_id"`
	OrganizationID      string         `db:"organization_id"`
	StableID            string         `db:"stable_id"`
	ScheduleID          string         `db:"schedule_id"`
	Title               string         `db:"title"`
	Description         string         `db:"description"`
	Category            string         `db:"category"`
	Color               string         `db:"color"`
	Icon                string         `db:"icon"`
	ScheduledDate       string         `db:"scheduled_date"`
	ScheduledTime       string         `db:"scheduled_time"`
	ScheduledEndTime    string         `db:"scheduled_end_time"`
	DurationMinutes     int            `db:"duration_minutes"`
	AssignmentMode      string         `db:"assignment_mode"`
	AssignedTo          string         `db:"assigned_to"`
	AssignedToName      string         `db:"assigned_to_name"`
	RotationIndex       sql.NullInt64  `db:"rotation_index"`
	Checklist           string         `db:"checklist"`
	Progress            sql.NullString `db:"progress"`
	IsException         bool           `db:"is_exception"`
	ExceptionNote       string         `db:"exception_note"`
	Weight              float64        `db:"weight"`
	IsHolidayShift      bool           `db:"is_holiday_shift"`
	Status              string         `db:"status"`
	CreatedAt           string         `db:"created_at"`
	UpdatedAt           string         `db:"updated_at"`
}

const instanceColumns = `id, recurring_activity_id, organization_id, stable_id, schedule_id, title, description,
	category, color, icon, scheduled_date, scheduled_time, scheduled_end_time, duration_minutes, assignment_mode,
	assigned_to, assigned_to_name, rotation_index, checklist, progress, is_exception, exception_note, weight,
	is_holiday_shift, status, created_at, updated_at`

const insertInstanceIfAbsent = `INSERT INTO activity_instances (` + instanceColumns + `) VALUES (
	:id, :recurring_activity_id, :organization_id, :stable_id, :schedule_id, :title, :description,
	:category, :color, :icon, :scheduled_date, :scheduled_time, :scheduled_end_time, :duration_minutes, :assignment_mode,
	:assigned_to, :assigned_to_name, :rotation_index, :checklist, :progress, :is_exception, :exception_note, :weight,
	:is_holiday_shift, :status, :created_at, :updated_at)
ON CONFLICT (id) DO NOTHING`

// ListInstances returns instances matching filter ordered by date then id.
func (s *Store) ListInstances(ctx context.Context, filter persistence.InstanceFilter) ([]persistence.ActivityInstance, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.DefinitionID != "" {
		clauses = append(clauses, "recurring_activity_id = ?")
		args = append(args, filter.DefinitionID)
	}
	if filter.From != nil {
		clauses = append(clauses, "scheduled_date >= ?")
		args = append(args, s.formatDate(*filter.From))
	}
	if filter.To != nil {
		clauses = append(clauses, "scheduled_date <= ?")
		args = append(args, s.formatDate(*filter.To))
	}

	query := `SELECT ` + instanceColumns + ` FROM activity_instances`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY scheduled_date ASC, id ASC`

	var rows []instanceRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, mapError(err)
	}

	instances := make([]persistence.ActivityInstance, 0, len(rows))
	for _, row := range rows {
		inst, err := s.instanceFromRow(row)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

// GetInstance returns the instance with the given id.
func (s *Store) GetInstance(ctx context.Context, id string) (persistence.ActivityInstance, error) {
	var row instanceRow
	query := s.db.Rebind(`SELECT ` + instanceColumns + ` FROM activity_instances WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.ActivityInstance{}, mapError(err)
	}
	return s.instanceFromRow(row)
}

// UpdateInstanceStatus sets the workflow status of an instance.
func (s *Store) UpdateInstanceStatus(ctx context.Context, id string, status persistence.InstanceStatus) error {
	query := s.db.Rebind(`UPDATE activity_instances SET status = ?, updated_at = ? WHERE id = ?`)
	return s.retry.WithRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, query, string(status), formatTimestamp(time.Now()), id)
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

// NewInstanceBatch starts an empty batch bound to this store.
func (s *Store) NewInstanceBatch() persistence.InstanceBatch {
	return &instanceBatch{store: s}
}

type instanceOp struct {
	create *instanceRow
	delete string
}

type instanceBatch struct {
	store     *Store
	ops       []instanceOp
	committed bool
	err       error
}

func (b *instanceBatch) push(op instanceOp) error {
	if b.committed {
		return persistence.ErrBatchCommitted
	}
	if len(b.ops) >= persistence.MaxBatchOperations {
		return persistence.ErrBatchTooLarge
	}
	b.ops = append(b.ops, op)
	return nil
}

func (b *instanceBatch) CreateIfAbsent(instance persistence.ActivityInstance) error {
	row, err := b.store.instanceToRow(instance)
	if err != nil {
		return err
	}
	return b.push(instanceOp{create: &row})
}

func (b *instanceBatch) Delete(id string) error {
	return b.push(instanceOp{delete: id})
}

func (b *instanceBatch) Len() int {
	return len(b.ops)
}

// Commit writes the queued operations in one transaction. Lock contention is
// retried with the store's retry policy.
func (b *instanceBatch) Commit(ctx context.Context) (int, error) {
	if b.committed {
		return 0, persistence.ErrBatchCommitted
	}

	s := b.store
	inserted := 0
	err := s.retry.WithRetry(ctx, func() error {
		inserted = 0
		return s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
			var (
				insertStmt *sqlx.NamedStmt
				deleteStmt *sqlx.Stmt
			)
			defer func() {
				if insertStmt != nil {
					_ = insertStmt.Close()
				}
				if deleteStmt != nil {
					_ = deleteStmt.Close()
				}
			}()

			for _, op := range b.ops {
				if op.create != nil {
					if insertStmt == nil {
						stmt, err := tx.PrepareNamedContext(ctx, insertInstanceIfAbsent)
						if err != nil {
							return fmt.Errorf("prepare instance insert: %w", err)
						}
						insertStmt = stmt
					}
					result, err := insertStmt.ExecContext(ctx, op.create)
					if err != nil {
						return fmt.Errorf("insert instance %s: %w", op.create.ID, err)
					}
					affected, err := result.RowsAffected()
					if err != nil {
						return err
					}
					inserted += int(affected)
					continue
				}

				if deleteStmt == nil {
					stmt, err := tx.PreparexContext(ctx, tx.Rebind(`DELETE FROM activity_instances WHERE id = ?`))
					if err != nil {
						return fmt.Errorf("prepare instance delete: %w", err)
					}
					deleteStmt = stmt
				}
				if _, err := deleteStmt.ExecContext(ctx, op.delete); err != nil {
					return fmt.Errorf("delete instance %s: %w", op.delete, err)
				}
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	b.committed = true
	return inserted, nil
}

func (s *Store) instanceToRow(inst persistence.ActivityInstance) (instanceRow, error) {
	checklist := inst.Checklist
	if checklist == nil {
		checklist = []persistence.ChecklistItem{}
	}
	encodedChecklist, err := json.Marshal(checklist)
	if err != nil {
		return instanceRow{}, fmt.Errorf("encode checklist: %w", err)
	}

	createdAt := inst.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := inst.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	row := instanceRow{
		ID:                  inst.ID,
		RecurringActivityID: inst.RecurringActivityID,
		OrganizationID:      inst.OrganizationID,
		StableID:            inst.StableID,
		ScheduleID:          inst.ScheduleID,
		Title:               inst.Title,
		Description:         inst.Description,
		Category:            inst.Category,
		Color:               inst.Color,
		Icon:                inst.Icon,
		ScheduledDate:       s.formatDate(inst.ScheduledDate),
		ScheduledTime:       inst.ScheduledTime,
		ScheduledEndTime:    inst.ScheduledEndTime,
		DurationMinutes:     inst.DurationMinutes,
		AssignmentMode:      string(inst.AssignmentMode),
		AssignedTo:          inst.AssignedTo,
		AssignedToName:      inst.AssignedToName,
		Checklist:           string(encodedChecklist),
		IsException:         inst.IsException,
		ExceptionNote:       inst.ExceptionNote,
		Weight:              inst.Weight,
		IsHolidayShift:      inst.IsHolidayShift,
		Status:              string(inst.Status),
		CreatedAt:           formatTimestamp(createdAt),
		UpdatedAt:           formatTimestamp(updatedAt),
	}
	if inst.RotationIndex != nil {
		row.RotationIndex = sql.NullInt64{Int64: int64(*inst.RotationIndex), Valid: true}
	}
	if inst.Progress != nil {
		encoded, err := json.Marshal(inst.Progress)
		if err != nil {
			return instanceRow{}, fmt.Errorf("encode progress: %w", err)
		}
		row.Progress = sql.NullString{String: string(encoded), Valid: true}
	}
	return row, nil
}

func (s *Store) instanceFromRow(row instanceRow) (persistence.ActivityInstance, error) {
	day, err := s.parseDate(row.ScheduledDate)
	if err != nil {
		return persistence.ActivityInstance{}, fmt.Errorf("instance %s: scheduled date: %w", row.ID, err)
	}

	inst := persistence.ActivityInstance{
		ID:                  row.ID,
		RecurringActivityID: row.RecurringActivityID,
		OrganizationID:      row.OrganizationID,
		StableID:            row.StableID,
		ScheduleID:          row.ScheduleID,
		Title:               row.Title,
		Description:         row.Description,
		Category:            row.Category,
		Color:               row.Color,
		Icon:                row.Icon,
		ScheduledDate:       day,
		ScheduledTime:       row.ScheduledTime,
		ScheduledEndTime:    row.ScheduledEndTime,
		DurationMinutes:     row.DurationMinutes,
		AssignmentMode:      persistence.AssignmentMode(row.AssignmentMode),
		AssignedTo:          row.AssignedTo,
		AssignedToName:      row.AssignedToName,
		IsException:         row.IsException,
		ExceptionNote:       row.ExceptionNote,
		Weight:              row.Weight,
		IsHolidayShift:      row.IsHolidayShift,
		Status:              persistence.InstanceStatus(row.Status),
	}
	if row.RotationIndex.Valid {
		idx := int(row.RotationIndex.Int64)
		inst.RotationIndex = &idx
	}
	if row.Checklist != "" {
		if err := json.Unmarshal([]byte(row.Checklist), &inst.Checklist); err != nil {
			return persistence.ActivityInstance{}, fmt.Errorf("instance %s: checklist: %w", row.ID, err)
		}
	}
	if row.Progress.Valid {
		var progress persistence.Progress
		if err := json.Unmarshal([]byte(row.Progress.String), &progress); err != nil {
			return persistence.ActivityInstance{}, fmt.Errorf("instance %s: progress: %w", row.ID, err)
		}
		inst.Progress = &progress
	}
	if inst.CreatedAt, err = parseTimestamp(row.CreatedAt); err != nil {
		return persistence.ActivityInstance{}, fmt.Errorf("instance %s: created_at: %w", row.ID, err)
	}
	if inst.UpdatedAt, err = parseTimestamp(row.UpdatedAt); err != nil {
		return persistence.ActivityInstance{}, fmt.Errorf("instance %s: updated_at: %w", row.ID, err)
	}
	return inst, nil
}
