package sqlstore

import (
	"context"
	"time"
)

// AcquireLease claims name for owner until expiresAt. The upsert only replaces
// a row that has expired or is already held by owner, so at most one caller
// observes an affected row.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, now, expiresAt time.Time) (bool, error) {
	query := s.db.Rebind(`INSERT INTO run_leases (name, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE run_leases.owner = excluded.owner OR run_leases.expires_at <= ?`)

	acquired := false
	err := s.retry.WithRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, query, name, owner, expiresAt.UnixMilli(), now.UnixMilli())
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		acquired = affected == 1
		return nil
	})
	return acquired, err
}

// ReleaseLease deletes the lease when owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	query := s.db.Rebind(`DELETE FROM run_leases WHERE name = ? AND owner = ?`)
	return s.retry.WithRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, name, owner)
		return err
	})
}
