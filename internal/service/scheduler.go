package service

// scheduler.go runs exports and history maintenance on cron schedules.
//
// Scheduled exports are read from a JSON file at startup. Each fires through
// the same path as an on-demand export, so it takes a run slot and is
// recorded in the run history. A job still running when its next tick
// arrives is skipped for that tick. A failed job is logged; it never stops
// the scheduler.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/openpdi/internal/core"
	"github.com/JonMunkholm/openpdi/internal/history"
)

// Job is one scheduled export.
type Job struct {
	Name        string   `json:"name"`
	Schedule    string   `json:"schedule"` // Standard 5-field cron spec or @descriptor
	Topic       string   `json:"topic"`
	Columns     []string `json:"columns,omitempty"`
	Scope       []string `json:"scope,omitempty"`
	Strict      bool     `json:"strict,omitempty"`
	Destination string   `json:"destination"`
	Table       string   `json:"table,omitempty"`
	Replace     bool     `json:"replace,omitempty"`
}

func (j Job) request() ExportRequest {
	return ExportRequest{
		Topic: j.Topic,
		Constraints: core.Constraints{
			Columns: j.Columns,
			Scope:   j.Scope,
			Strict:  j.Strict,
		},
		Destination: j.Destination,
		Table:       j.Table,
		Replace:     j.Replace,
	}
}

// LoadJobs reads a JSON array of jobs from path and validates every entry.
func LoadJobs(path string) ([]Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule: %w", err)
	}
	var jobs []Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse schedule %s: %w", path, err)
	}

	var errs []error
	seen := make(map[string]bool)
	for i, j := range jobs {
		switch {
		case j.Name == "":
			errs = append(errs, fmt.Errorf("job %d: name required", i))
		case seen[j.Name]:
			errs = append(errs, fmt.Errorf("job %q: duplicate name", j.Name))
		}
		seen[j.Name] = true
		if j.Topic == "" {
			errs = append(errs, fmt.Errorf("job %q: topic required", j.Name))
		}
		if j.Destination == "" {
			errs = append(errs, fmt.Errorf("job %q: destination required", j.Name))
		}
		if _, err := cron.ParseStandard(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("job %q: schedule %q: %w", j.Name, j.Schedule, err))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return jobs, nil
}

// SchedulerConfig configures background maintenance.
type SchedulerConfig struct {
	HistoryRetention time.Duration // Finished runs older than this are purged; 0 keeps all
	PurgeSchedule    string        // Cron spec for purging (default: @daily)
}

// ScheduledJob is a job together with its next activation.
type ScheduledJob struct {
	Job
	Next time.Time `json:"next"`
}

// Scheduler owns the cron runner.
type Scheduler struct {
	svc    *Service
	cron   *cron.Cron
	jobs   map[string]Job
	ids    map[string]cron.EntryID
	logger *slog.Logger
	ctx    context.Context
}

// NewScheduler registers jobs and the history purge. Nothing runs until
// Start.
func NewScheduler(svc *Service, jobs []Job, cfg SchedulerConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger}
	s := &Scheduler{
		svc: svc,
		cron: cron.New(cron.WithLogger(cl), cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		jobs:   make(map[string]Job, len(jobs)),
		ids:    make(map[string]cron.EntryID, len(jobs)),
		logger: logger,
		ctx:    context.Background(),
	}

	for _, j := range jobs {
		id, err := s.cron.AddFunc(j.Schedule, func() { s.runJob(j) })
		if err != nil {
			return nil, fmt.Errorf("schedule job %q: %w", j.Name, err)
		}
		s.jobs[j.Name] = j
		s.ids[j.Name] = id
	}

	if cfg.HistoryRetention > 0 {
		spec := cfg.PurgeSchedule
		if spec == "" {
			spec = "@daily"
		}
		if _, err := s.cron.AddFunc(spec, func() { s.purge(cfg.HistoryRetention) }); err != nil {
			return nil, fmt.Errorf("schedule history purge: %w", err)
		}
	}
	return s, nil
}

// Start runs the scheduler in the background. Jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop stops scheduling and returns a context that is done when running
// jobs have finished.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("scheduler stopped")
	return ctx
}

// Jobs lists the scheduled exports with their next activation, by name.
func (s *Scheduler) Jobs() []ScheduledJob {
	out := make([]ScheduledJob, 0, len(s.jobs))
	for name, j := range s.jobs {
		out = append(out, ScheduledJob{Job: j, Next: s.cron.Entry(s.ids[name]).Next})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// Has reports whether a job is registered under name.
func (s *Scheduler) Has(name string) bool {
	_, ok := s.jobs[name]
	return ok
}

// RunNow runs the named job immediately and waits for it.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*RunResult, error) {
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("unknown job %q", name)
	}
	return s.svc.export(ctx, j.request(), history.TriggerSchedule)
}

func (s *Scheduler) runJob(j Job) {
	start := time.Now()
	s.logger.Info("scheduled export started", "job", j.Name, "topic", j.Topic)

	res, err := s.svc.export(s.ctx, j.request(), history.TriggerSchedule)
	if err != nil {
		s.logger.Error("scheduled export failed", "job", j.Name, "error", err)
		return
	}
	s.logger.Info("scheduled export completed",
		"job", j.Name,
		"run_id", res.ID,
		"rows", res.Rows,
		"failed_sources", res.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (s *Scheduler) purge(retention time.Duration) {
	n, err := s.svc.PurgeHistory(s.ctx, retention)
	if err != nil {
		s.logger.Error("history purge failed", "error", err)
		return
	}
	s.logger.Info("purged run history", "runs_purged", n)
}

// cronLogger adapts slog to cron's logger.
type cronLogger struct{ l *slog.Logger }

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
