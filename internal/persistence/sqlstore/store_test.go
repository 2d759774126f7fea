package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/stable-scheduler/internal/persistence"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "stable.db")
	store, err := Open(ctx, DriverSQLite, dsn, Options{Location: time.UTC})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(ctx))
	return store
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestMigrate_IsIdempotent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))

	versions, err := store.AppliedVersions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"001"}, versions)
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "mysql", "", Options{})
	require.Error(t, err)
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	got := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- note\nCREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, got)
}

func TestDefinitions_RoundTripAndGenerationState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)

	end := day(2024, time.December, 31)
	idx := 2
	def := persistence.RecurringActivityDefinition{
		ID:                   "def-1",
		StableID:             "stable-1",
		ScheduleID:           "schedule-1",
		Title:                "Morning feed",
		RecurrenceRule:       "FREQ=DAILY",
		PatternStartDate:     day(2024, time.January, 1),
		PatternEndDate:       &end,
		TimeOfDay:            "07:00",
		DurationMinutes:      30,
		AssignmentMode:       persistence.AssignmentRotation,
		RotationGroup:        []string{"u1", "u2", "u3"},
		CurrentRotationIndex: &idx,
		IsHolidayMultiplied:  true,
		Weight:               10,
		Status:               persistence.DefinitionActive,
	}
	require.NoError(t, store.SaveDefinition(ctx, def))
	require.NoError(t, store.SaveDefinition(ctx, persistence.RecurringActivityDefinition{
		ID:               "def-2",
		ScheduleID:       "schedule-1",
		Title:            "Paused",
		RecurrenceRule:   "FREQ=WEEKLY",
		PatternStartDate: day(2024, time.January, 1),
		Status:           persistence.DefinitionPaused,
	}))

	active, err := store.ListActiveDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	got := active[0]
	assert.Equal(t, "Morning feed", got.Title)
	assert.Equal(t, []string{"u1", "u2", "u3"}, got.RotationGroup)
	require.NotNil(t, got.CurrentRotationIndex)
	assert.Equal(t, 2, *got.CurrentRotationIndex)
	require.NotNil(t, got.PatternEndDate)
	assert.True(t, got.PatternEndDate.Equal(end))
	assert.True(t, got.IsHolidayMultiplied)
	assert.Equal(t, 10.0, got.Weight)
	assert.Nil(t, got.LastGeneratedDate)

	forSchedule, err := store.ListDefinitionsForSchedule(ctx, "schedule-1")
	require.NoError(t, err)
	assert.Len(t, forSchedule, 2)

	next := 5
	require.NoError(t, store.UpdateGenerationState(ctx, "def-1", day(2024, time.March, 1), &next))
	updated, err := store.GetDefinition(ctx, "def-1")
	require.NoError(t, err)
	require.NotNil(t, updated.LastGeneratedDate)
	assert.Equal(t, "2024-03-01", updated.LastGeneratedDate.Format(persistence.DateLayout))
	assert.Equal(t, 5, *updated.CurrentRotationIndex)

	require.NoError(t, store.UpdateGenerationState(ctx, "def-1", day(2024, time.March, 2), nil))
	updated, err = store.GetDefinition(ctx, "def-1")
	require.NoError(t, err)
	assert.Equal(t, 5, *updated.CurrentRotationIndex)

	err = store.UpdateGenerationState(ctx, "missing", day(2024, time.March, 2), nil)
	assert.True(t, errors.Is(err, persistence.ErrNotFound))

	_, err = store.GetDefinition(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestExceptions_InclusiveRange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)

	title := "Vet visit"
	for i, d := range []time.Time{day(2024, time.March, 1), day(2024, time.March, 5), day(2024, time.March, 10)} {
		require.NoError(t, store.SaveException(ctx, persistence.Exception{
			ID:            "exc-" + d.Format("02"),
			DefinitionID:  "def-1",
			ExceptionDate: d,
			ExceptionType: persistence.ExceptionModify,
			ModifiedTitle: &title,
			Reason:        []string{"a", "b", "c"}[i],
		}))
	}

	got, err := store.ListExceptions(ctx, "def-1", day(2024, time.March, 1), day(2024, time.March, 5))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-03-01", got[0].ExceptionDate.Format(persistence.DateLayout))
	require.NotNil(t, got[1].ModifiedTitle)
	assert.Equal(t, "Vet visit", *got[1].ModifiedTitle)
	assert.Nil(t, got[1].ModifiedTime)

	// A second exception on the same date replaces the first.
	require.NoError(t, store.SaveException(ctx, persistence.Exception{
		ID:            "exc-replacement",
		DefinitionID:  "def-1",
		ExceptionDate: day(2024, time.March, 5),
		ExceptionType: persistence.ExceptionSkip,
	}))
	got, err = store.ListExceptions(ctx, "def-1", day(2024, time.March, 5), day(2024, time.March, 5))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, persistence.ExceptionSkip, got[0].ExceptionType)
}

func TestInstanceBatch_CreateIfAbsentCountsInserts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)

	rotation := 1
	inst := persistence.ActivityInstance{
		ID:                  persistence.InstanceID("def-1", day(2024, time.March, 4)),
		RecurringActivityID: "def-1",
		Title:               "Morning feed",
		ScheduledDate:       day(2024, time.March, 4),
		ScheduledTime:       "07:00",
		ScheduledEndTime:    "07:30",
		RotationIndex:       &rotation,
		Checklist: []persistence.ChecklistItem{
			{ID: "h1", Name: "Ada", Order: 0},
			{ID: "h2", Name: "Bess", Order: 1},
		},
		Progress: &persistence.Progress{Completed: 0, Total: 2},
		Weight:   15,
		Status:   persistence.InstanceScheduled,
	}

	batch := store.NewInstanceBatch()
	require.NoError(t, batch.CreateIfAbsent(inst))
	inserted, err := batch.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	_, err = batch.Commit(ctx)
	assert.ErrorIs(t, err, persistence.ErrBatchCommitted)

	second := store.NewInstanceBatch()
	require.NoError(t, second.CreateIfAbsent(inst))
	other := inst
	other.ID = persistence.InstanceID("def-1", day(2024, time.March, 5))
	other.ScheduledDate = day(2024, time.March, 5)
	require.NoError(t, second.CreateIfAbsent(other))
	inserted, err = second.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, inserted)

	stored, err := store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "def-1_2024-03-04", stored.ID)
	assert.Len(t, stored.Checklist, 2)
	assert.Equal(t, "Bess", stored.Checklist[1].Name)
	require.NotNil(t, stored.Progress)
	assert.Equal(t, 2, stored.Progress.Total)
	assert.Equal(t, 1, *stored.RotationIndex)
	assert.Equal(t, 15.0, stored.Weight)

	from := day(2024, time.March, 5)
	listed, err := store.ListInstances(ctx, persistence.InstanceFilter{DefinitionID: "def-1", From: &from})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, other.ID, listed[0].ID)

	require.NoError(t, store.UpdateInstanceStatus(ctx, inst.ID, persistence.InstanceCompleted))
	assert.ErrorIs(t, store.UpdateInstanceStatus(ctx, "missing", persistence.InstanceCompleted), persistence.ErrNotFound)

	deletes := store.NewInstanceBatch()
	require.NoError(t, deletes.Delete(other.ID))
	_, err = deletes.Commit(ctx)
	require.NoError(t, err)
	_, err = store.GetInstance(ctx, other.ID)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestInstanceBatch_RejectsOverflow(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	batch := store.NewInstanceBatch()
	for i := 0; i < persistence.MaxBatchOperations; i++ {
		require.NoError(t, batch.Delete("x"))
	}
	assert.ErrorIs(t, batch.Delete("x"), persistence.ErrBatchTooLarge)
	assert.Equal(t, persistence.MaxBatchOperations, batch.Len())
}

func TestHorses_ByStableAndGroup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)

	horses := []persistence.Horse{
		{ID: "h1", StableID: "stable-1", Name: "Bess", GroupIDs: []string{"g1"}, Active: true},
		{ID: "h2", StableID: "stable-1", Name: "Ada", GroupIDs: []string{"g1", "g2"}, Active: true},
		{ID: "h3", StableID: "stable-1", Name: "Cleo", GroupIDs: []string{"g1"}, Active: false},
		{ID: "h4", StableID: "stable-2", Name: "Dot", Active: true},
	}
	for _, h := range horses {
		require.NoError(t, store.SaveHorse(ctx, h))
	}

	byStable, err := store.ListActiveHorsesByStable(ctx, "stable-1")
	require.NoError(t, err)
	require.Len(t, byStable, 2)
	assert.Equal(t, "Ada", byStable[0].Name)
	assert.Equal(t, []string{"g1", "g2"}, byStable[0].GroupIDs)

	byGroup, err := store.ListActiveHorsesByGroup(ctx, "g2")
	require.NoError(t, err)
	require.Len(t, byGroup, 1)
	assert.Equal(t, "h2", byGroup[0].ID)

	empty, err := store.ListActiveHorsesByGroup(ctx, "nope")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestLeases_ExclusiveUntilExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := openTestStore(t)
	now := time.Date(2024, time.March, 1, 2, 0, 0, 0, time.UTC)

	ok, err := store.AcquireLease(ctx, "generation", "a", now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.AcquireLease(ctx, "generation", "b", now.Add(30*time.Second), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "lease should still be held by a")

	ok, err = store.AcquireLease(ctx, "generation", "a", now.Add(30*time.Second), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "owner can extend its lease")

	ok, err = store.AcquireLease(ctx, "generation", "b", now.Add(3*time.Minute), now.Add(4*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be taken over")

	require.NoError(t, store.ReleaseLease(ctx, "generation", "a"))
	ok, err = store.AcquireLease(ctx, "generation", "c", now.Add(3*time.Minute), now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "release by a non-owner is ignored")

	require.NoError(t, store.ReleaseLease(ctx, "generation", "b"))
	ok, err = store.AcquireLease(ctx, "generation", "c", now.Add(3*time.Minute), now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsRetryableError(t *testing.T) {
	t.Parallel()

	assert.True(t, isRetryableError(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isRetryableError(errors.New("pq: could not serialize access due to concurrent update")))
	assert.False(t, isRetryableError(errors.New("syntax error")))
	assert.False(t, isRetryableError(nil))
}
