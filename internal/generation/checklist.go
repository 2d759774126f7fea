package generation

import (
	"context"

	"github.com/example/stable-scheduler/internal/persistence"
)

// RosterEntry is one horse a checklist is built from.
type RosterEntry struct {
	ID   string
	Name string
}

// ChecklistBuilder fetches a definition's roster once and turns it into
// per-instance checklists.
type ChecklistBuilder struct {
	horses persistence.HorseRepository
}

// NewChecklistBuilder constructs a builder over the horse repository.
func NewChecklistBuilder(horses persistence.HorseRepository) *ChecklistBuilder {
	return &ChecklistBuilder{horses: horses}
}

// BuildRoster returns the ordered roster of def. Definitions applying to all
// horses use the active horses of the stable, definitions bound to a horse
// group use that group's active members, and all others have no roster.
func (b *ChecklistBuilder) BuildRoster(ctx context.Context, def persistence.RecurringActivityDefinition) ([]RosterEntry, error) {
	if b == nil || b.horses == nil {
		return nil, nil
	}

	var (
		horses []persistence.Horse
		err    error
	)
	switch {
	case def.AppliesToAllHorses && def.StableID != "":
		horses, err = b.horses.ListActiveHorsesByStable(ctx, def.StableID)
	case def.HorseGroupID != "":
		horses, err = b.horses.ListActiveHorsesByGroup(ctx, def.HorseGroupID)
	default:
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	roster := make([]RosterEntry, 0, len(horses))
	for _, horse := range horses {
		roster = append(roster, RosterEntry{ID: horse.ID, Name: horse.Name})
	}
	return roster, nil
}

// BuildChecklist returns one unchecked item per roster entry in roster order.
// The result is nil for an empty roster.
func BuildChecklist(roster []RosterEntry) []persistence.ChecklistItem {
	if len(roster) == 0 {
		return nil
	}
	items := make([]persistence.ChecklistItem, len(roster))
	for i, entry := range roster {
		items[i] = persistence.ChecklistItem{
			ID:    entry.ID,
			Name:  entry.Name,
			Order: i,
		}
	}
	return items
}
