package generation

import "github.com/example/stable-scheduler/internal/persistence"

// Assignment is the assignee chosen for one occurrence.
type Assignment struct {
	AssignedTo     string
	AssignedToName string
	// RotationIndex is the cursor value used under rotation mode.
	RotationIndex *int
}

// Unassigned reports whether no assignee was chosen.
func (a Assignment) Unassigned() bool {
	return a.AssignedTo == ""
}

// ResolveAssignment picks the assignee of the next occurrence and returns the
// cursor for the one after it.
//
// Rotation mode returns RotationGroup[cursor] and advances the cursor modulo the
// group size. Fixed mode always returns the configured assignee. Fair
// distribution is left unassigned for the balancing pass that runs later. The
// cursor is returned unchanged outside rotation mode.
func ResolveAssignment(def persistence.RecurringActivityDefinition, cursor int) (Assignment, int) {
	switch def.AssignmentMode {
	case persistence.AssignmentRotation:
		size := len(def.RotationGroup)
		if size == 0 {
			return Assignment{}, cursor
		}
		cursor = normalizeCursor(cursor, size)
		slot := cursor
		return Assignment{
			AssignedTo:    def.RotationGroup[slot],
			RotationIndex: &slot,
		}, (cursor + 1) % size
	case persistence.AssignmentFixed:
		return Assignment{AssignedTo: def.AssignedTo, AssignedToName: def.AssignedToName}, cursor
	default:
		return Assignment{}, cursor
	}
}

// initialCursor returns the stored rotation cursor, or 0 when it is unset.
func initialCursor(def persistence.RecurringActivityDefinition) int {
	if def.CurrentRotationIndex == nil || len(def.RotationGroup) == 0 {
		return 0
	}
	return normalizeCursor(*def.CurrentRotationIndex, len(def.RotationGroup))
}

// advanceCursor moves a rotation cursor forward by n occurrences.
func advanceCursor(def persistence.RecurringActivityDefinition, cursor, n int) int {
	if def.AssignmentMode != persistence.AssignmentRotation || len(def.RotationGroup) == 0 {
		return cursor
	}
	return normalizeCursor(cursor+n, len(def.RotationGroup))
}

func normalizeCursor(cursor, size int) int {
	cursor %= size
	if cursor < 0 {
		cursor += size
	}
	return cursor
}
