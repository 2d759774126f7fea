// Package lease provides the run level mutual exclusion used by the
// generation orchestrator.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/stable-scheduler/internal/persistence"
)

// DefaultName is the lease key guarding the daily generation run.
const DefaultName = "activity-generation"

var (
	// ErrNoBackend is returned when a locker is built without a backing store.
	ErrNoBackend = errors.New("lease: no backend configured")
	// ErrEmptyOwner is returned when a caller tries to lock without an owner id.
	ErrEmptyOwner = errors.New("lease: owner must not be empty")
)

// StoreLocker claims the run lease through the activity store.
type StoreLocker struct {
	repo persistence.LeaseRepository
	name string
	now  func() time.Time
}

// NewStoreLocker builds a locker over repo. An empty name uses DefaultName and
// a nil now uses time.Now.
func NewStoreLocker(repo persistence.LeaseRepository, name string, now func() time.Time) *StoreLocker {
	if name == "" {
		name = DefaultName
	}
	if now == nil {
		now = time.Now
	}
	return &StoreLocker{repo: repo, name: name, now: now}
}

// TryLock claims the lease for owner until now+ttl.
func (l *StoreLocker) TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	if l == nil || l.repo == nil {
		return false, ErrNoBackend
	}
	if owner == "" {
		return false, ErrEmptyOwner
	}
	now := l.now().UTC()
	acquired, err := l.repo.AcquireLease(ctx, l.name, owner, now, now.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.name, err)
	}
	return acquired, nil
}

// Unlock releases the lease if owner still holds it.
func (l *StoreLocker) Unlock(ctx context.Context, owner string) error {
	if l == nil || l.repo == nil {
		return ErrNoBackend
	}
	if err := l.repo.ReleaseLease(ctx, l.name, owner); err != nil {
		return fmt.Errorf("release lease %s: %w", l.name, err)
	}
	return nil
}
