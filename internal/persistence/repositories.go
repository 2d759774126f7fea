package persistence

import (
	"context"
	"time"
)

// MaxBatchOperations is the hard per-commit limit of the document store.
const MaxBatchOperations = 500

// DefinitionRepository exposes the recurring definitions.
type DefinitionRepository interface {
	ListActiveDefinitions(ctx context.Context) ([]RecurringActivityDefinition, error)
	ListDefinitionsForSchedule(ctx context.Context, scheduleID string) ([]RecurringActivityDefinition, error)
	GetDefinition(ctx context.Context, id string) (RecurringActivityDefinition, error)
	SaveDefinition(ctx context.Context, definition RecurringActivityDefinition) error
	// UpdateGenerationState writes lastGeneratedDate and, when rotationIndex is
	// non-nil, the rotation cursor in a single update.
	UpdateGenerationState(ctx context.Context, id string, lastGenerated time.Time, rotationIndex *int) error
}

// ExceptionRepository exposes per-date overrides.
type ExceptionRepository interface {
	// ListExceptions returns the exceptions of definitionID whose date lies in
	// [from, to], both inclusive.
	ListExceptions(ctx context.Context, definitionID string, from, to time.Time) ([]Exception, error)
	SaveException(ctx context.Context, exception Exception) error
}

// InstanceFilter narrows instance queries.
type InstanceFilter struct {
	DefinitionID string
	From         *time.Time
	To           *time.Time
}

// InstanceBatch accumulates instance writes committed together. A batch
// rejects more than MaxBatchOperations operations.
type InstanceBatch interface {
	// CreateIfAbsent queues an insert that is a no-op when an instance with the
	// same ID already exists.
	CreateIfAbsent(instance ActivityInstance) error
	Delete(id string) error
	Len() int
	// Commit applies the queued operations atomically and reports how many
	// creates inserted a new row.
	Commit(ctx context.Context) (int, error)
}

// InstanceRepository exposes materialized instances.
type InstanceRepository interface {
	ListInstances(ctx context.Context, filter InstanceFilter) ([]ActivityInstance, error)
	GetInstance(ctx context.Context, id string) (ActivityInstance, error)
	UpdateInstanceStatus(ctx context.Context, id string, status InstanceStatus) error
	NewInstanceBatch() InstanceBatch
}

// HorseRepository exposes the roster used for checklists.
type HorseRepository interface {
	ListActiveHorsesByStable(ctx context.Context, stableID string) ([]Horse, error)
	ListActiveHorsesByGroup(ctx context.Context, groupID string) ([]Horse, error)
	SaveHorse(ctx context.Context, horse Horse) error
}

// LeaseRepository stores run leases.
type LeaseRepository interface {
	// AcquireLease claims name for owner until expiresAt. It succeeds when no
	// lease exists, the existing one has expired at now, or owner already holds it.
	AcquireLease(ctx context.Context, name, owner string, now, expiresAt time.Time) (bool, error)
	// ReleaseLease drops the lease only if owner still holds it.
	ReleaseLease(ctx context.Context, name, owner string) error
}
