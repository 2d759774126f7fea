package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/stable-scheduler/internal/logging"
	"github.com/example/stable-scheduler/internal/persistence"
	"github.com/example/stable-scheduler/internal/recurrence"
)

const (
	// DefaultDaysAhead is the window size used by definitions that do not set one.
	DefaultDaysAhead = 30
	// DefaultLeaseTTL bounds how long a crashed run can block the next one.
	DefaultLeaseTTL = 15 * time.Minute
)

// Locker provides run level mutual exclusion.
type Locker interface {
	// TryLock claims the run lease for owner. It reports false without error
	// when another owner holds a live lease.
	TryLock(ctx context.Context, owner string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, owner string) error
}

// DefinitionFailure describes a definition that failed during a run.
type DefinitionFailure struct {
	DefinitionID string `json:"definitionId"`
	Stage        Stage  `json:"stage"`
	Kind         string `json:"kind"`
	Message      string `json:"message"`
}

// RunStats aggregates one orchestrator run.
type RunStats struct {
	ExecutionID string              `json:"executionId"`
	StartedAt   time.Time           `json:"startedAt"`
	FinishedAt  time.Time           `json:"finishedAt"`
	Definitions int                 `json:"definitions"`
	Generated   int                 `json:"generated"`
	Skipped     int                 `json:"skipped"`
	Errors      int                 `json:"errors"`
	LeaseHeld   bool                `json:"leaseHeld"`
	Failures    []DefinitionFailure `json:"failures,omitempty"`
	Err         string              `json:"error,omitempty"`
}

// Options tunes an Orchestrator.
type Options struct {
	Location         *time.Location
	Calendar         *recurrence.Calendar
	BatchSize        int
	DefaultDaysAhead int
	LeaseTTL         time.Duration
	IDGenerator      func() string
	Now              func() time.Time
	Logger           *slog.Logger
}

// Repositories groups the stores an Orchestrator reads and writes.
type Repositories struct {
	Definitions persistence.DefinitionRepository
	Exceptions  persistence.ExceptionRepository
	Instances   persistence.InstanceRepository
	Horses      persistence.HorseRepository
}

// Orchestrator runs generation for every active definition, one at a time.
type Orchestrator struct {
	definitions  persistence.DefinitionRepository
	engine       *recurrence.Engine
	exceptions   *ExceptionResolver
	checklists   *ChecklistBuilder
	materializer *Materializer
	locker       Locker

	daysAhead   int
	leaseTTL    time.Duration
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger

	mu     sync.RWMutex
	latest *RunStats
}

// NewOrchestrator wires the generation pipeline. locker may be nil, in which
// case runs are not mutually excluded.
func NewOrchestrator(repos Repositories, locker Locker, opts Options) *Orchestrator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IDGenerator == nil {
		opts.IDGenerator = uuid.NewString
	}
	if opts.DefaultDaysAhead <= 0 {
		opts.DefaultDaysAhead = DefaultDaysAhead
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = DefaultLeaseTTL
	}
	logger := logging.Default(opts.Logger)

	return &Orchestrator{
		definitions:  repos.Definitions,
		engine:       recurrence.NewEngine(opts.Location),
		exceptions:   NewExceptionResolver(repos.Exceptions),
		checklists:   NewChecklistBuilder(repos.Horses),
		materializer: NewMaterializerWithLogger(repos.Instances, opts.Calendar, opts.BatchSize, opts.Now, logger),
		locker:       locker,
		daysAhead:    opts.DefaultDaysAhead,
		leaseTTL:     opts.LeaseTTL,
		idGenerator:  opts.IDGenerator,
		now:          opts.Now,
		logger:       logger,
	}
}

// Run generates instances for every active definition.
//
// A failure inside one definition is logged, counted and does not stop the
// run. Failing to take the lease or to list definitions fails the whole run.
// When another execution holds the lease the run does nothing and returns
// stats with LeaseHeld set and a nil error.
func (o *Orchestrator) Run(ctx context.Context) (stats RunStats, err error) {
	if o == nil || o.definitions == nil {
		return RunStats{}, ErrNotConfigured
	}

	stats = RunStats{ExecutionID: o.idGenerator(), StartedAt: o.now()}
	logger := logging.Component(ctx, o.logger, "Orchestrator", "Run", "execution_id", stats.ExecutionID)
	ctx = logging.ContextWithLogger(ctx, logger)

	defer func() {
		stats.FinishedAt = o.now()
		if err != nil {
			stats.Err = err.Error()
			logger.ErrorContext(ctx, "generation run failed", "error", err, "error_kind", ErrorKind(err))
		}
		o.record(stats)
	}()

	if o.locker != nil {
		acquired, lockErr := o.locker.TryLock(ctx, stats.ExecutionID, o.leaseTTL)
		if lockErr != nil {
			return stats, fmt.Errorf("acquire run lease: %w", lockErr)
		}
		if !acquired {
			stats.LeaseHeld = true
			logger.InfoContext(ctx, "run lease held by another execution, skipping run")
			return stats, nil
		}
		defer func() {
			if unlockErr := o.locker.Unlock(context.WithoutCancel(ctx), stats.ExecutionID); unlockErr != nil {
				logger.WarnContext(ctx, "failed to release run lease", "error", unlockErr)
			}
		}()
	}

	definitions, err := o.definitions.ListActiveDefinitions(ctx)
	if err != nil {
		return stats, fmt.Errorf("list active definitions: %w", err)
	}
	logger.InfoContext(ctx, "generation run started", "definitions", len(definitions))

	today := o.engine.Day(o.now())
	for _, def := range definitions {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stats, fmt.Errorf("generation interrupted after %d definitions: %w", stats.Definitions, ctxErr)
		}
		stats.Definitions++

		result, genErr := o.generateDefinition(ctx, def, today)
		stats.Generated += result.Generated
		stats.Skipped += result.Skipped
		if genErr != nil {
			stats.Errors++
			stats.Failures = append(stats.Failures, failureOf(def.ID, genErr))
			logger.ErrorContext(ctx, "definition generation failed",
				"definition_id", def.ID,
				"error", genErr,
				"error_kind", ErrorKind(genErr),
			)
		}
	}

	logger.InfoContext(ctx, "generation run finished",
		"definitions", stats.Definitions,
		"generated", stats.Generated,
		"skipped", stats.Skipped,
		"errors", stats.Errors,
	)
	return stats, nil
}

// Latest returns the stats of the most recent run, if any.
func (o *Orchestrator) Latest() (RunStats, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.latest == nil {
		return RunStats{}, false
	}
	stats := *o.latest
	stats.Failures = append([]DefinitionFailure(nil), o.latest.Failures...)
	return stats, true
}

func (o *Orchestrator) record(stats RunStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.latest = &stats
}

// Window returns the generation window of def for the given day.
func (o *Orchestrator) Window(def persistence.RecurringActivityDefinition, today time.Time) (time.Time, time.Time) {
	days := def.GenerateDaysAhead
	if days <= 0 {
		days = o.daysAhead
	}
	start := o.engine.Day(today)
	return start, start.AddDate(0, 0, days)
}

func (o *Orchestrator) generateDefinition(ctx context.Context, def persistence.RecurringActivityDefinition, today time.Time) (result MaterializeResult, err error) {
	stage := StageParse
	defer func() {
		if p := recover(); p != nil {
			err = definitionError(def.ID, stage, fmt.Errorf("%w: %v", ErrDefinitionPanic, p))
		}
	}()

	logger := logging.Component(ctx, o.logger, "Orchestrator", "GenerateDefinition", "definition_id", def.ID)
	if vErr := ValidateDefinition(def); vErr != nil {
		logger.WarnContext(ctx, "definition does not validate, generating with lenient parsing", "error", vErr, "error_kind", ErrorKind(vErr))
	}

	rule := recurrence.Parse(def.RecurrenceRule)
	windowStart, windowEnd := o.Window(def, today)
	dates := o.engine.Generate(windowStart, windowEnd, rule, def.PatternStartDate, def.PatternEndDate)

	stage = StageExceptions
	exceptions, err := o.exceptions.Load(ctx, def.ID, windowStart, windowEnd)
	if err != nil {
		return result, definitionError(def.ID, stage, err)
	}

	stage = StageRoster
	roster, err := o.checklists.BuildRoster(ctx, def)
	if err != nil {
		return result, definitionError(def.ID, stage, err)
	}

	stage = StageCommit
	result, err = o.materializer.Materialize(ctx, MaterializeParams{
		Definition:  def,
		Dates:       dates,
		Exceptions:  exceptions,
		Roster:      roster,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
	})
	if err != nil {
		var dErr *DefinitionError
		if errors.As(err, &dErr) {
			return result, err
		}
		return result, definitionError(def.ID, stage, err)
	}

	stage = StageState
	var rotationIndex *int
	if def.AssignmentMode == persistence.AssignmentRotation && len(def.RotationGroup) > 0 {
		next := result.NextCursor
		rotationIndex = &next
	}
	if err := o.definitions.UpdateGenerationState(ctx, def.ID, today, rotationIndex); err != nil {
		return result, definitionError(def.ID, stage, err)
	}

	logger.InfoContext(ctx, "definition generated",
		"dates", len(dates),
		"generated", result.Generated,
		"skipped", result.Skipped,
		"window_start", windowStart.Format(persistence.DateLayout),
		"window_end", windowEnd.Format(persistence.DateLayout),
	)
	return result, nil
}

func failureOf(definitionID string, err error) DefinitionFailure {
	failure := DefinitionFailure{DefinitionID: definitionID, Kind: ErrorKind(err), Message: err.Error()}
	var dErr *DefinitionError
	if errors.As(err, &dErr) {
		failure.Stage = dErr.Stage
		if inner := ErrorKind(dErr.Err); inner != "unexpected" {
			failure.Kind = inner
		}
	}
	return failure
}
