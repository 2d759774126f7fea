package generation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/stable-scheduler/internal/generation"
	"github.com/example/stable-scheduler/internal/persistence"
	"github.com/example/stable-scheduler/internal/testfixtures"
)

func TestInstanceCleaner_RemoveForDefinitionKeepsHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := testfixtures.NewGeneratorFactory()
	def := testfixtures.NewDefinition()
	f.Seed(t, []persistence.RecurringActivityDefinition{def}, nil, nil)

	_, err := f.NewOrchestrator(nil).Run(ctx)
	require.NoError(t, err)

	instances := listInstances(t, f.Store, def.ID)
	require.Len(t, instances, 8)
	require.NoError(t, f.Store.UpdateInstanceStatus(ctx, instances[0].ID, persistence.InstanceCompleted))
	require.NoError(t, f.Store.UpdateInstanceStatus(ctx, instances[1].ID, persistence.InstanceInProgress))
	require.NoError(t, f.Store.UpdateInstanceStatus(ctx, instances[2].ID, persistence.InstanceCancelled))

	result, err := f.NewCleaner().RemoveForDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, result.Deleted)
	assert.Equal(t, 2, result.Preserved)
	assert.Equal(t, 1, result.Commits)

	remaining := listInstances(t, f.Store, def.ID)
	require.Len(t, remaining, 2)
	assert.Equal(t, persistence.InstanceCompleted, remaining[0].Status)
	assert.Equal(t, persistence.InstanceInProgress, remaining[1].Status)
}

func TestInstanceCleaner_RemoveForSchedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := testfixtures.NewGeneratorFactory(testfixtures.WithBatchSize(5))
	first := testfixtures.NewDefinition(testfixtures.WithSchedule("winter"))
	second := testfixtures.NewDefinition(testfixtures.WithSchedule("winter"))
	other := testfixtures.NewDefinition(testfixtures.WithSchedule("summer"))
	f.Seed(t, []persistence.RecurringActivityDefinition{first, second, other}, nil, nil)

	_, err := f.NewOrchestrator(nil).Run(ctx)
	require.NoError(t, err)
	second.Status = persistence.DefinitionPaused
	require.NoError(t, f.Store.SaveDefinition(ctx, second))

	result, err := f.NewCleaner().RemoveForSchedule(ctx, "winter")
	require.NoError(t, err)
	assert.Equal(t, 16, result.Deleted)
	assert.Equal(t, 0, result.Preserved)
	assert.Equal(t, 4, result.Commits, "16 deletes in batches of 5")

	assert.Empty(t, listInstances(t, f.Store, first.ID))
	assert.Empty(t, listInstances(t, f.Store, second.ID))
	assert.Len(t, listInstances(t, f.Store, other.ID), 8)
}

func TestInstanceCleaner_CommitFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := testfixtures.NewGeneratorFactory()
	def := testfixtures.NewDefinition()
	f.Seed(t, []persistence.RecurringActivityDefinition{def}, nil, nil)
	_, err := f.NewOrchestrator(nil).Run(ctx)
	require.NoError(t, err)

	boom := errors.New("write quota exceeded")
	f.Store.FailCommits(func(int) error { return boom })

	result, err := f.NewCleaner().RemoveForDefinition(ctx, def.ID)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, result.Deleted)
	assert.Len(t, listInstances(t, f.Store, def.ID), 8)
}

func TestInstanceCleaner_NotConfigured(t *testing.T) {
	t.Parallel()

	var cleaner *generation.InstanceCleaner
	_, err := cleaner.RemoveForDefinition(context.Background(), "def")
	assert.ErrorIs(t, err, generation.ErrNotConfigured)
}
