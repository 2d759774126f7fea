package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Options{})
	assert.ErrorIs(t, err, ErrNoTask)

	_, err = New(func(context.Context) error { return nil }, Options{Spec: "every day"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse spec")
}

func TestNextAfter_UsesLocation(t *testing.T) {
	t.Parallel()

	plus2 := time.FixedZone("UTC+2", 2*60*60)
	s, err := New(func(context.Context) error { return nil }, Options{Location: plus2})
	require.NoError(t, err)

	from := time.Date(2024, time.March, 4, 0, 30, 0, 0, time.UTC) // 02:30 at UTC+2
	next := s.NextAfter(from)
	assert.True(t, next.Equal(time.Date(2024, time.March, 5, 2, 0, 0, 0, plus2)), "got %s", next)

	before := time.Date(2024, time.March, 3, 23, 0, 0, 0, time.UTC) // 01:00 at UTC+2
	assert.True(t, s.NextAfter(before).Equal(time.Date(2024, time.March, 4, 2, 0, 0, 0, plus2)))
}

func TestRunOnce_RetriesWithBackoff(t *testing.T) {
	t.Parallel()

	sleeps := &recordedSleeps{}
	calls := 0
	task := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}
	s, err := New(task, Options{Retries: 3, Backoff: time.Second, Sleep: sleeps.sleep})
	require.NoError(t, err)

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeps.delays)
}

func TestRunOnce_GivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	sleeps := &recordedSleeps{}
	boom := errors.New("store down")
	calls := 0
	s, err := New(func(context.Context) error {
		calls++
		return boom
	}, Options{Retries: 2, Backoff: 8 * time.Minute, Sleep: sleeps.sleep})
	require.NoError(t, err)

	err = s.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{8 * time.Minute, MaxBackoff}, sleeps.delays)
}

func TestRunOnce_AttemptTimeout(t *testing.T) {
	t.Parallel()

	s, err := New(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, Options{Timeout: 10 * time.Millisecond})
	require.NoError(t, err)

	err = s.RunOnce(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunOnce_StopsWhenParentCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	s, err := New(func(context.Context) error {
		calls++
		cancel()
		return errors.New("interrupted")
	}, Options{Retries: 5})
	require.NoError(t, err)

	require.Error(t, s.RunOnce(ctx))
	assert.Equal(t, 1, calls)
}

func TestRunOnce_RecoversPanic(t *testing.T) {
	t.Parallel()

	s, err := New(func(context.Context) error { panic("kaboom") }, Options{})
	require.NoError(t, err)

	err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	s, err := New(func(context.Context) error { return nil }, Options{})
	require.NoError(t, err)

	s.Start(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}
