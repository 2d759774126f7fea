package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/stable-scheduler/internal/persistence"
)

type exceptionRow struct {
	ID                     string         `db:"id"`
	DefinitionID           string         `db:"definition_id"`
	ExceptionDate          string         `db:"exception_date"`
	ExceptionType          string         `db:"exception_type"`
	ModifiedTitle          sql.NullString `db:"modified_title"`
	ModifiedTime           sql.NullString `db:"modified_time"`
	ModifiedAssignedTo     sql.NullString `db:"modified_assigned_to"`
	ModifiedAssignedToName sql.NullString `db:"modified_assigned_to_name"`
	Reason                 string         `db:"reason"`
	CreatedAt              string         `db:"created_at"`
}

const exceptionColumns = `id, definition_id, exception_date, exception_type, modified_title, modified_time,
	modified_assigned_to, modified_assigned_to_name, reason, created_at`

// ListExceptions returns the exceptions of definitionID dated within [from, to].
func (s *Store) ListExceptions(ctx context.Context, definitionID string, from, to time.Time) ([]persistence.Exception, error) {
	query := s.db.Rebind(`SELECT ` + exceptionColumns + ` FROM activity_exceptions
		WHERE definition_id = ? AND exception_date >= ? AND exception_date <= ?
		ORDER BY exception_date ASC`)

	var rows []exceptionRow
	if err := s.db.SelectContext(ctx, &rows, query, definitionID, s.formatDate(from), s.formatDate(to)); err != nil {
		return nil, mapError(err)
	}

	exceptions := make([]persistence.Exception, 0, len(rows))
	for _, row := range rows {
		day, err := s.parseDate(row.ExceptionDate)
		if err != nil {
			return nil, fmt.Errorf("exception %s: date: %w", row.ID, err)
		}
		createdAt, err := parseTimestamp(row.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("exception %s: created_at: %w", row.ID, err)
		}
		exceptions = append(exceptions, persistence.Exception{
			ID:                     row.ID,
			DefinitionID:           row.DefinitionID,
			ExceptionDate:          day,
			ExceptionType:          persistence.ExceptionType(row.ExceptionType),
			ModifiedTitle:          nullableString(row.ModifiedTitle),
			ModifiedTime:           nullableString(row.ModifiedTime),
			ModifiedAssignedTo:     nullableString(row.ModifiedAssignedTo),
			ModifiedAssignedToName: nullableString(row.ModifiedAssignedToName),
			Reason:                 row.Reason,
			CreatedAt:              createdAt,
		})
	}
	return exceptions, nil
}

// SaveException inserts an exception, replacing any previous one for the same
// definition and date.
func (s *Store) SaveException(ctx context.Context, exception persistence.Exception) error {
	createdAt := exception.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	row := exceptionRow{
		ID:                     exception.ID,
		DefinitionID:           exception.DefinitionID,
		ExceptionDate:          s.formatDate(exception.ExceptionDate),
		ExceptionType:          string(exception.ExceptionType),
		ModifiedTitle:          toNullString(exception.ModifiedTitle),
		ModifiedTime:           toNullString(exception.ModifiedTime),
		ModifiedAssignedTo:     toNullString(exception.ModifiedAssignedTo),
		ModifiedAssignedToName: toNullString(exception.ModifiedAssignedToName),
		Reason:                 exception.Reason,
		CreatedAt:              formatTimestamp(createdAt),
	}

	const upsert = `INSERT INTO activity_exceptions (` + exceptionColumns + `) VALUES (
		:id, :definition_id, :exception_date, :exception_type, :modified_title, :modified_time,
		:modified_assigned_to, :modified_assigned_to_name, :reason, :created_at)
	ON CONFLICT (definition_id, exception_date) DO UPDATE SET
		id = excluded.id,
		exception_type = excluded.exception_type,
		modified_title = excluded.modified_title,
		modified_time = excluded.modified_time,
		modified_assigned_to = excluded.modified_assigned_to,
		modified_assigned_to_name = excluded.modified_assigned_to_name,
		reason = excluded.reason`

	return s.retry.WithRetry(ctx, func() error {
		_, err := s.db.NamedExecContext(ctx, upsert, row)
		return err
	})
}

func nullableString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func toNullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
