package generation_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/stable-scheduler/internal/generation"
	"github.com/example/stable-scheduler/internal/lease"
	"github.com/example/stable-scheduler/internal/persistence"
	"github.com/example/stable-scheduler/internal/testfixtures"
)

func TestOrchestrator_SQLStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := testfixtures.NewSQLStore(t, time.UTC)
	clock := testfixtures.NewClock(time.Time{})

	def := testfixtures.NewDefinition(
		testfixtures.WithRule("FREQ=WEEKLY;BYDAY=MO,WE,FR"),
		testfixtures.WithRotation([]string{"anna", "bo"}, 0),
		testfixtures.WithHorseGroup("paddock-b"),
		testfixtures.WithDaysAhead(13),
	)
	horse := testfixtures.NewHorse("Dolly", "paddock-b")
	skip := testfixtures.NewSkipException(def.ID, testfixtures.Date(2024, time.March, 6))
	require.NoError(t, store.SaveDefinition(ctx, def))
	require.NoError(t, store.SaveHorse(ctx, horse))
	require.NoError(t, store.SaveException(ctx, skip))

	repos := generation.Repositories{Definitions: store, Exceptions: store, Instances: store, Horses: store}
	orch := generation.NewOrchestrator(repos, lease.NewStoreLocker(store, "", clock.NowFunc()), generation.Options{
		Location:    time.UTC,
		IDGenerator: testfixtures.NewIDGenerator("sql").NextFunc(),
		Now:         clock.NowFunc(),
	})

	// Mar 4 to Mar 17 holds six Mon/Wed/Fri dates; Mar 6 is skipped.
	stats, err := orch.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Generated)
	assert.Equal(t, 1, stats.Skipped)
	assert.Zero(t, stats.Errors)

	instances, err := store.ListInstances(ctx, persistence.InstanceFilter{DefinitionID: def.ID})
	require.NoError(t, err)
	require.Len(t, instances, 5)

	wantDays := []int{4, 8, 11, 13, 15}
	wantAssignees := []string{"anna", "bo", "anna", "bo", "anna"}
	for i, inst := range instances {
		assert.Equal(t, wantDays[i], inst.ScheduledDate.Day())
		assert.Equal(t, wantAssignees[i], inst.AssignedTo)
		require.Len(t, inst.Checklist, 1)
		assert.Equal(t, "Dolly", inst.Checklist[0].Name)
	}

	again, err := orch.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Generated)
	assert.Equal(t, 6, again.Skipped)

	stored, err := store.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CurrentRotationIndex)
	assert.Equal(t, 1, *stored.CurrentRotationIndex)
	require.NotNil(t, stored.LastGeneratedDate)
	assert.Equal(t, "2024-03-04", stored.LastGeneratedDate.Format(persistence.DateLayout))
}
