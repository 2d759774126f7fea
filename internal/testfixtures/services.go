package testfixtures

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/example/stable-scheduler/internal/generation"
	"github.com/example/stable-scheduler/internal/persistence"
	"github.com/example/stable-scheduler/internal/persistence/memory"
	"github.com/example/stable-scheduler/internal/recurrence"
)

// GeneratorFactory assists tests with constructing generation components over
// an in-memory store using deterministic identifiers and clocks.
type GeneratorFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Store       *memory.Storage
	Calendar    *recurrence.Calendar
	BatchSize   int
	Logger      *slog.Logger
}

// GeneratorFactoryOption configures a GeneratorFactory instance.
type GeneratorFactoryOption func(*GeneratorFactory)

// NewGeneratorFactory constructs a GeneratorFactory with defaults.
func NewGeneratorFactory(opts ...GeneratorFactoryOption) *GeneratorFactory {
	factory := &GeneratorFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("exec"),
		Store:       memory.New(),
		Calendar:    recurrence.DefaultCalendar(),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("exec")
	}
	if factory.Store == nil {
		factory.Store = memory.New()
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) GeneratorFactoryOption {
	return func(factory *GeneratorFactory) {
		factory.Clock = clock
	}
}

// WithBatchSize overrides the commit size of built components.
func WithBatchSize(size int) GeneratorFactoryOption {
	return func(factory *GeneratorFactory) {
		factory.BatchSize = size
	}
}

// WithCalendar overrides the holiday calendar.
func WithCalendar(calendar *recurrence.Calendar) GeneratorFactoryOption {
	return func(factory *GeneratorFactory) {
		factory.Calendar = calendar
	}
}

// WithLogger overrides the logger handed to built components.
func WithLogger(logger *slog.Logger) GeneratorFactoryOption {
	return func(factory *GeneratorFactory) {
		factory.Logger = logger
	}
}

// Repositories exposes the factory store through every repository interface.
func (f *GeneratorFactory) Repositories() generation.Repositories {
	return generation.Repositories{
		Definitions: f.Store,
		Exceptions:  f.Store,
		Instances:   f.Store,
		Horses:      f.Store,
	}
}

// NewOrchestrator builds an orchestrator in UTC. locker may be nil.
func (f *GeneratorFactory) NewOrchestrator(locker generation.Locker) *generation.Orchestrator {
	return generation.NewOrchestrator(f.Repositories(), locker, generation.Options{
		Location:    time.UTC,
		Calendar:    f.Calendar,
		BatchSize:   f.BatchSize,
		IDGenerator: f.IDGenerator.NextFunc(),
		Now:         f.Clock.NowFunc(),
		Logger:      f.Logger,
	})
}

// NewMaterializer builds a materializer over the factory store.
func (f *GeneratorFactory) NewMaterializer() *generation.Materializer {
	return generation.NewMaterializerWithLogger(f.Store, f.Calendar, f.BatchSize, f.Clock.NowFunc(), f.Logger)
}

// NewCleaner builds an instance cleaner over the factory store.
func (f *GeneratorFactory) NewCleaner() *generation.InstanceCleaner {
	return generation.NewInstanceCleanerWithLogger(f.Store, f.Store, f.BatchSize, f.Logger)
}

// Seed stores definitions, horses and exceptions, failing tb on error.
func (f *GeneratorFactory) Seed(tb testing.TB, definitions []persistence.RecurringActivityDefinition, horses []persistence.Horse, exceptions []persistence.Exception) {
	tb.Helper()
	ctx := context.Background()
	for _, def := range definitions {
		if err := f.Store.SaveDefinition(ctx, def); err != nil {
			tb.Fatalf("failed to seed definition %s: %v", def.ID, err)
		}
	}
	for _, horse := range horses {
		if err := f.Store.SaveHorse(ctx, horse); err != nil {
			tb.Fatalf("failed to seed horse %s: %v", horse.ID, err)
		}
	}
	for _, exc := range exceptions {
		if err := f.Store.SaveException(ctx, exc); err != nil {
			tb.Fatalf("failed to seed exception %s: %v", exc.ID, err)
		}
	}
}
