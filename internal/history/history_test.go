package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/openpdi/internal/core"
)

func newStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestStartFinishGet(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)

	run, err := s.Start(ctx, StartParams{
		Topic:       "uof",
		Constraints: core.Constraints{Columns: []string{"date"}, Scope: []string{"TX"}},
		Trigger:     TriggerExport,
		Destination: "sqlite://out.db",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Len(t, run.ID, 36)

	*clock = clock.Add(3 * time.Second)
	results := []core.SourceResult{
		{URL: "a.csv", Agency: "TX-Austin", Rows: 10},
		{URL: "b.csv", Agency: "TX-Dallas", Err: core.NewFetchError(core.FetchUnreachable, "b.csv", errors.New("timeout"))},
	}
	require.NoError(t, s.Finish(ctx, run.ID, 10, results, nil))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, got.Status)
	assert.EqualValues(t, 10, got.Rows)
	assert.Equal(t, "columns=[date] scope=[TX] strict=false", got.Constraints)
	assert.Equal(t, "sqlite://out.db", got.Destination)
	assert.Equal(t, 3*time.Second, got.Duration())
	require.Len(t, got.Sources, 2)
	assert.EqualValues(t, 10, got.Sources[0].Rows)
	assert.Equal(t, "unreachable", got.Sources[1].Kind)
	assert.Equal(t, 1, got.FailedSources())
}

func TestFinishWithError(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	run, err := s.Start(ctx, StartParams{Topic: "uof", Trigger: TriggerDownload})
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, run.ID, 0, nil, context.Canceled))

	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "context canceled", got.Error)
	assert.Empty(t, got.Sources)
}

func TestUnknownRun(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	_, err := s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Finish(ctx, "nope", 0, nil, nil), ErrNotFound)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)

	var ids []string
	for i, topic := range []string{"uof", "ois", "uof", "uof"} {
		*clock = clock.Add(time.Minute)
		run, err := s.Start(ctx, StartParams{Topic: topic, Trigger: TriggerDownload})
		require.NoError(t, err)
		ids = append(ids, run.ID)
		if i < 2 {
			require.NoError(t, s.Finish(ctx, run.ID, 1, nil, nil))
		}
	}

	all, err := s.List(ctx, ListOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 4, all.TotalCount)
	require.Len(t, all.Runs, 4)
	assert.Equal(t, ids[3], all.Runs[0].ID, "newest first")

	uof, err := s.List(ctx, ListOptions{Topic: "uof", Limit: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 3, uof.TotalCount)
	assert.Len(t, uof.Runs, 2)
	assert.Equal(t, 2, uof.TotalPages)

	page2, err := s.List(ctx, ListOptions{Topic: "uof", Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2.Runs, 1)
	assert.Equal(t, ids[0], page2.Runs[0].ID)
	assert.Equal(t, 2, page2.Page)

	running, err := s.List(ctx, ListOptions{Status: StatusRunning})
	require.NoError(t, err)
	assert.EqualValues(t, 2, running.TotalCount)
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	s, clock := newStore(t)

	old, err := s.Start(ctx, StartParams{Topic: "uof", Trigger: TriggerSchedule})
	require.NoError(t, err)
	require.NoError(t, s.Finish(ctx, old.ID, 0, nil, nil))
	stuck, err := s.Start(ctx, StartParams{Topic: "uof", Trigger: TriggerSchedule})
	require.NoError(t, err)

	*clock = clock.Add(48 * time.Hour)
	fresh, err := s.Start(ctx, StartParams{Topic: "uof", Trigger: TriggerSchedule})
	require.NoError(t, err)

	n, err := s.Purge(ctx, clock.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	for _, id := range []string{stuck.ID, fresh.ID} {
		_, err := s.Get(ctx, id)
		assert.NoError(t, err)
	}
}

func TestOpenFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	run, err := s.Start(ctx, StartParams{Topic: "uof", Trigger: TriggerDownload})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "uof", got.Topic)
}
