package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/openpdi/internal/history"
)

func writeJobs(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schedule.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadJobs(t *testing.T) {
	path := writeJobs(t, `[
		{"name": "nightly", "schedule": "0 3 * * *", "topic": "uof", "scope": ["TX"], "destination": "out.csv"},
		{"name": "hourly", "schedule": "@hourly", "topic": "uof", "destination": "sqlite://uof.db", "replace": true}
	]`)

	jobs, err := LoadJobs(path)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, []string{"TX"}, jobs[0].request().Constraints.Scope)
	assert.True(t, jobs[1].request().Replace)
}

func TestLoadJobs_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "not json",
			body: `{`,
			want: []string{"parse schedule"},
		},
		{
			name: "every problem reported",
			body: `[
				{"name": "", "schedule": "0 3 * * *", "topic": "uof", "destination": "x.csv"},
				{"name": "a", "schedule": "whenever", "topic": "", "destination": ""},
				{"name": "a", "schedule": "@daily", "topic": "uof", "destination": "x.csv"}
			]`,
			want: []string{"name required", `"a": schedule "whenever"`, `"a": topic required`, `"a": destination required`, "duplicate name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadJobs(writeJobs(t, tt.body))
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}

	_, err := LoadJobs(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestScheduler_RunNow(t *testing.T) {
	ctx := context.Background()
	svc, hist, _ := newTestService(t, Options{})
	out := filepath.Join(t.TempDir(), "la.csv")

	sched, err := NewScheduler(svc, []Job{
		{Name: "la", Schedule: "0 3 * * *", Topic: "uof", Scope: []string{"CA"}, Destination: out},
	}, SchedulerConfig{}, nil)
	require.NoError(t, err)

	res, err := sched.RunNow(ctx, "la")
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Rows)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Los Angeles","FEMALE","CA"`)

	run, err := hist.Get(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, history.TriggerSchedule, run.Trigger)

	_, err = sched.RunNow(ctx, "missing")
	assert.Error(t, err)
}

func TestScheduler_Fires(t *testing.T) {
	ctx := context.Background()
	svc, hist, _ := newTestService(t, Options{})
	out := filepath.Join(t.TempDir(), "tick.csv")

	sched, err := NewScheduler(svc, []Job{
		{Name: "tick", Schedule: "@every 1s", Topic: "uof", Destination: out},
	}, SchedulerConfig{HistoryRetention: 24 * time.Hour}, nil)
	require.NoError(t, err)

	sched.Start(ctx)
	jobs := sched.Jobs()
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Next.IsZero())

	require.Eventually(t, func() bool {
		runs, err := hist.List(ctx, history.ListOptions{Status: history.StatusSucceeded})
		return err == nil && runs.TotalCount > 0
	}, 5*time.Second, 50*time.Millisecond)

	<-sched.Stop().Done()
}

func TestNewScheduler_BadSpec(t *testing.T) {
	svc, _, _ := newTestService(t, Options{})
	_, err := NewScheduler(svc, []Job{{Name: "x", Schedule: "nope"}}, SchedulerConfig{}, nil)
	assert.Error(t, err)

	_, err = NewScheduler(svc, nil, SchedulerConfig{HistoryRetention: time.Hour, PurgeSchedule: "bad"}, nil)
	assert.Error(t, err)
}
