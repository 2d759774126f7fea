package persistence

import (
	"fmt"
	"time"
)

// DateLayout is the storage form of calendar dates.
const DateLayout = "2006-01-02"

// AssignmentMode selects how an occurrence's assignee is chosen.
type AssignmentMode string

const (
	AssignmentFixed            AssignmentMode = "fixed"
	AssignmentRotation         AssignmentMode = "rotation"
	AssignmentFairDistribution AssignmentMode = "fair-distribution"
)

// DefinitionStatus is the lifecycle state of a recurring activity definition.
type DefinitionStatus string

const (
	DefinitionActive   DefinitionStatus = "active"
	DefinitionPaused   DefinitionStatus = "paused"
	DefinitionArchived DefinitionStatus = "archived"
)

// ExceptionType selects how an exception alters an occurrence.
type ExceptionType string

const (
	ExceptionSkip   ExceptionType = "skip"
	ExceptionModify ExceptionType = "modify"
)

// InstanceStatus tracks the downstream workflow state of an instance.
type InstanceStatus string

const (
	InstanceScheduled  InstanceStatus = "scheduled"
	InstanceInProgress InstanceStatus = "in_progress"
	InstanceCompleted  InstanceStatus = "completed"
	InstanceCancelled  InstanceStatus = "cancelled"
)

// RecurringActivityDefinition is the source of truth for a recurring activity.
// The generator only writes CurrentRotationIndex and LastGeneratedDate.
type RecurringActivityDefinition struct {
	ID                   string
	OrganizationID       string
	StableID             string
	ScheduleID           string
	Title                string
	Description          string
	Category             string
	Color                string
	Icon                 string
	RecurrenceRule       string
	PatternStartDate     time.Time
	PatternEndDate       *time.Time
	TimeOfDay            string
	DurationMinutes      int
	AssignmentMode       AssignmentMode
	AssignedTo           string
	AssignedToName       string
	RotationGroup        []string
	CurrentRotationIndex *int
	AppliesToAllHorses   bool
	HorseGroupID         string
	IsHolidayMultiplied  bool
	Weight               float64
	// GenerateDaysAhead is inclusive of today: 7 materializes 8 days. Zero
	// falls back to the configured default.
	GenerateDaysAhead int
	Status               DefinitionStatus
	LastGeneratedDate    *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Exception overrides a single occurrence of a definition.
type Exception struct {
	ID                     string
	DefinitionID           string
	ExceptionDate          time.Time
	ExceptionType          ExceptionType
	ModifiedTitle          *string
	ModifiedTime           *string
	ModifiedAssignedTo     *string
	ModifiedAssignedToName *string
	Reason                 string
	CreatedAt              time.Time
}

// ChecklistItem is one roster entry to tick off on an instance.
type ChecklistItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
	Order     int    `json:"order"`
}

// Progress summarises checklist completion.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// ActivityInstance is one materialized occurrence of a definition. It carries a
// denormalized copy of the definition fields effective for its date.
type ActivityInstance struct {
	ID                  string
	RecurringActivityID string
	OrganizationID      string
	StableID            string
	ScheduleID          string
	Title               string
	Description         string
	Category            string
	Color               string
	Icon                string
	ScheduledDate       time.Time
	ScheduledTime       string
	ScheduledEndTime    string
	DurationMinutes     int
	AssignmentMode      AssignmentMode
	AssignedTo          string
	AssignedToName      string
	RotationIndex       *int
	Checklist           []ChecklistItem
	Progress            *Progress
	IsException         bool
	ExceptionNote       string
	Weight              float64
	IsHolidayShift      bool
	Status              InstanceStatus
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// InstanceID returns the deterministic key of the instance for definitionID on
// the calendar date of day. At most one instance can exist per key.
func InstanceID(definitionID string, day time.Time) string {
	return fmt.Sprintf("%s_%s", definitionID, day.Format(DateLayout))
}

// Horse is a roster entry used to build checklists.
type Horse struct {
	ID       string
	StableID string
	Name     string
	GroupIDs []string
	Active   bool
}

// Lease is a time boxed claim on a named resource.
type Lease struct {
	Name      string
	Owner     string
	ExpiresAt time.Time
}
