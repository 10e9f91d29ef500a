package rangesched_test

import (
	"context"
	"testing"
	"time"

	"github.com/dagu-org/rangeload/internal/core"
	"github.com/dagu-org/rangeload/internal/rangesched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func today() time.Time {
	return time.Now().UTC().Truncate(24 * time.Hour)
}

func TestParseSchedule(t *testing.T) {
	t.Parallel()

	sched, err := rangesched.ParseSchedule("0 * * * *")
	require.NoError(t, err)
	from := time.Date(2015, 1, 2, 10, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2015, 1, 2, 11, 0, 0, 0, time.UTC), sched.Next(from))

	_, err = rangesched.ParseSchedule("@every 15m")
	require.NoError(t, err)

	_, err = rangesched.ParseSchedule("not a schedule")
	require.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestLoop_RunsUntilCanceled(t *testing.T) {
	t.Parallel()
	checker := newFakeChecker()
	set := newRunnerSet(checker, nil)
	b := rangesched.NewBackfill(rangesched.New(checker), set.factory, rangesched.BackfillOptions{})

	r := rangesched.Range{Family: family, Table: "events", Start: today().AddDate(0, 0, -3)}
	loop, err := rangesched.NewLoop("@every 10ms", b, r)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Start(ctx) }()

	require.Eventually(t, func() bool { return loop.Passes() >= 2 }, 5*time.Second, 5*time.Millisecond)
	assert.True(t, loop.IsRunning())
	require.Error(t, loop.Start(ctx))

	cancel()
	require.NoError(t, <-done)
	assert.False(t, loop.IsRunning())

	// The first pass loaded the three past days; later passes found nothing.
	assert.Len(t, set.runners, 3)
}

func TestLoop_RunOnce(t *testing.T) {
	t.Parallel()
	checker := newFakeChecker()
	set := newRunnerSet(checker, nil)
	b := rangesched.NewBackfill(rangesched.New(checker), set.factory, rangesched.BackfillOptions{})

	loop, err := rangesched.NewLoop("@hourly", b, rangesched.Range{Family: family, Table: "events", Start: today().AddDate(0, 0, -2)})
	require.NoError(t, err)

	report := loop.RunOnce(context.Background())
	require.NotNil(t, report)
	assert.Len(t, report.Loaded, 2)
	assert.Equal(t, int64(1), loop.Passes())
}
