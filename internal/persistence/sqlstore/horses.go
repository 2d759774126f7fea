package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/example/stable-scheduler/internal/persistence"
)

type horseRow struct {
	ID       string `db:"id"`
	StableID string `db:"stable_id"`
	Name     string `db:"name"`
	Active   bool   `db:"active"`
}

type groupMemberRow struct {
	GroupID string `db:"group_id"`
	HorseID string `db:"horse_id"`
}

// ListActiveHorsesByStable returns the active horses of a stable ordered by name.
func (s *Store) ListActiveHorsesByStable(ctx context.Context, stableID string) ([]persistence.Horse, error) {
	query := s.db.Rebind(`SELECT id, stable_id, name, active FROM horses
		WHERE stable_id = ? AND active = ? ORDER BY name ASC, id ASC`)
	return s.selectHorses(ctx, query, stableID, true)
}

// ListActiveHorsesByGroup returns the active members of a horse group ordered by name.
func (s *Store) ListActiveHorsesByGroup(ctx context.Context, groupID string) ([]persistence.Horse, error) {
	query := s.db.Rebind(`SELECT h.id, h.stable_id, h.name, h.active FROM horses h
		JOIN horse_group_members m ON m.horse_id = h.id
		WHERE m.group_id = ? AND h.active = ? ORDER BY h.name ASC, h.id ASC`)
	return s.selectHorses(ctx, query, groupID, true)
}

// SaveHorse inserts or replaces a horse together with its group memberships.
func (s *Store) SaveHorse(ctx context.Context, horse persistence.Horse) error {
	if horse.ID == "" {
		return fmt.Errorf("sqlstore: horse id is required")
	}

	return s.retry.WithRetry(ctx, func() error {
		return s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
			upsert := tx.Rebind(`INSERT INTO horses (id, stable_id, name, active) VALUES (?, ?, ?, ?)
				ON CONFLICT (id) DO UPDATE SET stable_id = excluded.stable_id, name = excluded.name, active = excluded.active`)
			if _, err := tx.ExecContext(ctx, upsert, horse.ID, horse.StableID, horse.Name, horse.Active); err != nil {
				return fmt.Errorf("save horse %s: %w", horse.ID, err)
			}
			if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM horse_group_members WHERE horse_id = ?`), horse.ID); err != nil {
				return fmt.Errorf("clear groups of horse %s: %w", horse.ID, err)
			}
			insertMember := tx.Rebind(`INSERT INTO horse_group_members (group_id, horse_id) VALUES (?, ?) ON CONFLICT DO NOTHING`)
			for _, groupID := range horse.GroupIDs {
				if _, err := tx.ExecContext(ctx, insertMember, groupID, horse.ID); err != nil {
					return fmt.Errorf("add horse %s to group %s: %w", horse.ID, groupID, err)
				}
			}
			return nil
		})
	})
}

func (s *Store) selectHorses(ctx context.Context, query string, args ...any) ([]persistence.Horse, error) {
	var rows []horseRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	if len(rows) == 0 {
		return []persistence.Horse{}, nil
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	groups, err := s.groupsOf(ctx, ids)
	if err != nil {
		return nil, err
	}

	horses := make([]persistence.Horse, 0, len(rows))
	for _, row := range rows {
		horses = append(horses, persistence.Horse{
			ID:       row.ID,
			StableID: row.StableID,
			Name:     row.Name,
			GroupIDs: groups[row.ID],
			Active:   row.Active,
		})
	}
	return horses, nil
}

func (s *Store) groupsOf(ctx context.Context, horseIDs []string) (map[string][]string, error) {
	query, args, err := sqlx.In(`SELECT group_id, horse_id FROM horse_group_members WHERE horse_id IN (?) ORDER BY group_id ASC`, horseIDs)
	if err != nil {
		return nil, fmt.Errorf("build group query: %w", err)
	}

	var members []groupMemberRow
	if err := s.db.SelectContext(ctx, &members, s.db.Rebind(query), args...); err != nil {
		return nil, mapError(err)
	}
	groups := make(map[string][]string, len(horseIDs))
	for _, member := range members {
		groups[member.HorseID] = append(groups[member.HorseID], member.GroupID)
	}
	return groups, nil
}
