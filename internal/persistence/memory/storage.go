// Package memory provides an in-process implementation of the persistence
// repositories. It enforces the same batch ceiling as the SQL store and counts
// commits, which makes it suitable for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/stable-scheduler/internal/persistence"
)

// Storage keeps every collection in maps guarded by a single lock.
type Storage struct {
	mu          sync.RWMutex
	definitions map[string]persistence.RecurringActivityDefinition
	exceptions  map[string]persistence.Exception
	instances   map[string]persistence.ActivityInstance
	horses      map[string]persistence.Horse
	leases      map[string]persistence.Lease

	commits    int
	failCommit func(commit int) error
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		definitions: make(map[string]persistence.RecurringActivityDefinition),
		exceptions:  make(map[string]persistence.Exception),
		instances:   make(map[string]persistence.ActivityInstance),
		horses:      make(map[string]persistence.Horse),
		leases:      make(map[string]persistence.Lease),
	}
}

// Ping always succeeds.
func (s *Storage) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Storage) Close() error {
	return nil
}

// Commits reports how many batches have been committed.
func (s *Storage) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// FailCommits installs a hook consulted before each commit with the 1-based
// commit number; a non-nil result aborts that commit.
func (s *Storage) FailCommits(hook func(commit int) error) {
	s.mu.Lock()
	s.failCommit = hook
	s.mu.Unlock()
}

// --- DefinitionRepository implementation ---

// ListActiveDefinitions returns active definitions ordered by ID.
func (s *Storage) ListActiveDefinitions(ctx context.Context) ([]persistence.RecurringActivityDefinition, error) {
	return s.listDefinitions(func(def persistence.RecurringActivityDefinition) bool {
		return def.Status == persistence.DefinitionActive
	}), nil
}

// ListDefinitionsForSchedule returns the definitions owned by scheduleID.
func (s *Storage) ListDefinitionsForSchedule(ctx context.Context, scheduleID string) ([]persistence.RecurringActivityDefinition, error) {
	return s.listDefinitions(func(def persistence.RecurringActivityDefinition) bool {
		return def.ScheduleID == scheduleID
	}), nil
}

func (s *Storage) listDefinitions(keep func(persistence.RecurringActivityDefinition) bool) []persistence.RecurringActivityDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]persistence.RecurringActivityDefinition, 0)
	for _, def := range s.definitions {
		if keep(def) {
			defs = append(defs, cloneDefinition(def))
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// GetDefinition retrieves a definition by ID.
func (s *Storage) GetDefinition(ctx context.Context, id string) (persistence.RecurringActivityDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.definitions[id]
	if !ok {
		return persistence.RecurringActivityDefinition{}, persistence.ErrNotFound
	}
	return cloneDefinition(def), nil
}

// SaveDefinition creates or replaces a definition.
func (s *Storage) SaveDefinition(ctx context.Context, definition persistence.RecurringActivityDefinition) error {
	if definition.ID == "" {
		return fmt.Errorf("memory: definition id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.definitions[definition.ID]; ok {
		definition.CreatedAt = existing.CreatedAt
	}
	s.definitions[definition.ID] = cloneDefinition(definition)
	return nil
}

// UpdateGenerationState records the outcome of a generation run.
func (s *Storage) UpdateGenerationState(ctx context.Context, id string, lastGenerated time.Time, rotationIndex *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, ok := s.definitions[id]
	if !ok {
		return persistence.ErrNotFound
	}
	def.LastGeneratedDate = &lastGenerated
	if rotationIndex != nil {
		def.CurrentRotationIndex = cloneInt(rotationIndex)
	}
	def.UpdatedAt = lastGenerated
	s.definitions[id] = def
	return nil
}

// --- ExceptionRepository implementation ---

// ListExceptions returns exceptions of a definition within [from, to] ordered by date.
func (s *Storage) ListExceptions(ctx context.Context, definitionID string, from, to time.Time) ([]persistence.Exception, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lo, hi := from.Format(persistence.DateLayout), to.Format(persistence.DateLayout)
	out := make([]persistence.Exception, 0)
	for _, exc := range s.exceptions {
		if exc.DefinitionID != definitionID {
			continue
		}
		key := exc.ExceptionDate.Format(persistence.DateLayout)
		if key < lo || key > hi {
			continue
		}
		out = append(out, cloneException(exc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExceptionDate.Before(out[j].ExceptionDate) })
	return out, nil
}

// SaveException stores an exception, replacing any other exception of the
// same definition on the same date.
func (s *Storage) SaveException(ctx context.Context, exception persistence.Exception) error {
	if exception.ID == "" {
		return fmt.Errorf("memory: exception id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := exception.ExceptionDate.Format(persistence.DateLayout)
	for id, existing := range s.exceptions {
		if existing.DefinitionID == exception.DefinitionID && existing.ExceptionDate.Format(persistence.DateLayout) == key {
			delete(s.exceptions, id)
		}
	}
	s.exceptions[exception.ID] = cloneException(exception)
	return nil
}

// --- InstanceRepository implementation ---

// ListInstances returns instances matching the filter ordered by date then ID.
func (s *Storage) ListInstances(ctx context.Context, filter persistence.InstanceFilter) ([]persistence.ActivityInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.ActivityInstance, 0)
	for _, inst := range s.instances {
		if !matchesInstanceFilter(inst, filter) {
			continue
		}
		out = append(out, cloneInstance(inst))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledDate.Equal(out[j].ScheduledDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledDate.Before(out[j].ScheduledDate)
	})
	return out, nil
}

// GetInstance retrieves an instance by ID.
func (s *Storage) GetInstance(ctx context.Context, id string) (persistence.ActivityInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return persistence.ActivityInstance{}, persistence.ErrNotFound
	}
	return cloneInstance(inst), nil
}

// UpdateInstanceStatus moves an instance through the downstream workflow.
func (s *Storage) UpdateInstanceStatus(ctx context.Context, id string, status persistence.InstanceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return persistence.ErrNotFound
	}
	inst.Status = status
	s.instances[id] = inst
	return nil
}

// NewInstanceBatch starts an empty batch.
func (s *Storage) NewInstanceBatch() persistence.InstanceBatch {
	return &batch{storage: s}
}

type batchOp struct {
	create *persistence.ActivityInstance
	delete string
}

type batch struct {
	storage   *Storage
	ops       []batchOp
	committed bool
}

func (b *batch) push(op batchOp) error {
	if b.committed {
		return persistence.ErrBatchCommitted
	}
	if len(b.ops) >= persistence.MaxBatchOperations {
		return persistence.ErrBatchTooLarge
	}
	b.ops = append(b.ops, op)
	return nil
}

func (b *batch) CreateIfAbsent(instance persistence.ActivityInstance) error {
	clone := cloneInstance(instance)
	return b.push(batchOp{create: &clone})
}

func (b *batch) Delete(id string) error {
	return b.push(batchOp{delete: id})
}

func (b *batch) Len() int {
	return len(b.ops)
}

func (b *batch) Commit(ctx context.Context) (int, error) {
	if b.committed {
		return 0, persistence.ErrBatchCommitted
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s := b.storage
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCommit != nil {
		if err := s.failCommit(s.commits + 1); err != nil {
			return 0, err
		}
	}

	inserted := 0
	for _, op := range b.ops {
		if op.create != nil {
			if _, exists := s.instances[op.create.ID]; exists {
				continue
			}
			s.instances[op.create.ID] = *op.create
			inserted++
			continue
		}
		delete(s.instances, op.delete)
	}
	s.commits++
	b.committed = true
	return inserted, nil
}

// --- HorseRepository implementation ---

// ListActiveHorsesByStable returns active horses of a stable ordered by name.
func (s *Storage) ListActiveHorsesByStable(ctx context.Context, stableID string) ([]persistence.Horse, error) {
	return s.listHorses(func(h persistence.Horse) bool { return h.StableID == stableID }), nil
}

// ListActiveHorsesByGroup returns active horses that belong to groupID ordered by name.
func (s *Storage) ListActiveHorsesByGroup(ctx context.Context, groupID string) ([]persistence.Horse, error) {
	return s.listHorses(func(h persistence.Horse) bool {
		for _, id := range h.GroupIDs {
			if id == groupID {
				return true
			}
		}
		return false
	}), nil
}

func (s *Storage) listHorses(keep func(persistence.Horse) bool) []persistence.Horse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]persistence.Horse, 0)
	for _, horse := range s.horses {
		if horse.Active && keep(horse) {
			out = append(out, cloneHorse(horse))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// SaveHorse creates or replaces a horse.
func (s *Storage) SaveHorse(ctx context.Context, horse persistence.Horse) error {
	if horse.ID == "" {
		return fmt.Errorf("memory: horse id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.horses[horse.ID] = cloneHorse(horse)
	return nil
}

// --- LeaseRepository implementation ---

// AcquireLease claims name for owner when it is free, expired or already owned.
func (s *Storage) AcquireLease(ctx context.Context, name, owner string, now, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.leases[name]; ok && current.Owner != owner && current.ExpiresAt.After(now) {
		return false, nil
	}
	s.leases[name] = persistence.Lease{Name: name, Owner: owner, ExpiresAt: expiresAt}
	return true, nil
}

// ReleaseLease removes the lease when owner holds it.
func (s *Storage) ReleaseLease(ctx context.Context, name, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.leases[name]; ok && current.Owner == owner {
		delete(s.leases, name)
	}
	return nil
}

// --- Helpers ---

func matchesInstanceFilter(inst persistence.ActivityInstance, filter persistence.InstanceFilter) bool {
	if filter.DefinitionID != "" && inst.RecurringActivityID != filter.DefinitionID {
		return false
	}
	day := inst.ScheduledDate.Format(persistence.DateLayout)
	if filter.From != nil && day < filter.From.Format(persistence.DateLayout) {
		return false
	}
	if filter.To != nil && day > filter.To.Format(persistence.DateLayout) {
		return false
	}
	return true
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneDefinition(def persistence.RecurringActivityDefinition) persistence.RecurringActivityDefinition {
	def.PatternEndDate = cloneTime(def.PatternEndDate)
	def.LastGeneratedDate = cloneTime(def.LastGeneratedDate)
	def.CurrentRotationIndex = cloneInt(def.CurrentRotationIndex)
	def.RotationGroup = append([]string(nil), def.RotationGroup...)
	return def
}

func cloneException(exc persistence.Exception) persistence.Exception {
	exc.ModifiedTitle = cloneString(exc.ModifiedTitle)
	exc.ModifiedTime = cloneString(exc.ModifiedTime)
	exc.ModifiedAssignedTo = cloneString(exc.ModifiedAssignedTo)
	exc.ModifiedAssignedToName = cloneString(exc.ModifiedAssignedToName)
	return exc
}

func cloneInstance(inst persistence.ActivityInstance) persistence.ActivityInstance {
	inst.RotationIndex = cloneInt(inst.RotationIndex)
	inst.Checklist = append([]persistence.ChecklistItem(nil), inst.Checklist...)
	if inst.Progress != nil {
		progress := *inst.Progress
		inst.Progress = &progress
	}
	return inst
}

func cloneHorse(horse persistence.Horse) persistence.Horse {
	horse.GroupIDs = append([]string(nil), horse.GroupIDs...)
	return horse
}
