// Package service runs harmonization jobs against the current catalog.
//
// A Service owns the catalog snapshot (swapped atomically when the catalog
// watcher reloads), the transformation registry and the fetch adapter. Every
// run goes through the run limiter, is recorded in the run history, and is
// logged with its run id.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/JonMunkholm/openpdi/internal/catalog"
	"github.com/JonMunkholm/openpdi/internal/core"
	"github.com/JonMunkholm/openpdi/internal/history"
	"github.com/JonMunkholm/openpdi/internal/logging"
	"github.com/JonMunkholm/openpdi/internal/sink"
	"github.com/JonMunkholm/openpdi/internal/telemetry"
)

var tracer = telemetry.Tracer("github.com/JonMunkholm/openpdi/internal/service")

// ErrNoDestination is returned by Export when the request names no
// destination.
var ErrNoDestination = errors.New("export destination required")

// DefaultPreviewRows is the preview size when none is requested.
const DefaultPreviewRows = 20

// MaxPreviewRows caps a preview.
const MaxPreviewRows = 1000

// Options configure a Service. Zero values select defaults.
type Options struct {
	Prefetch      int           // Sources fetched ahead of the merge
	RunTimeout    time.Duration // Upper bound on one run; 0 disables
	MaxConcurrent int           // Concurrent runs
	MaxWait       time.Duration // Wait for a run slot
	BatchSize     int           // Database sink batch size
	ExportDir     string        // Root for csv and jsonl destinations; empty allows any path
	LinkParallel  int           // Concurrent link checks
	HTTPClient    *http.Client  // Used by link checks
}

// Service is the application entry point for topics and runs.
type Service struct {
	catalog atomic.Pointer[catalog.Catalog]
	reg     *core.Registry
	fetcher core.Fetcher
	history *history.Store
	limiter *RunLimiter
	opts    Options
}

// New returns a Service. hist may be nil, in which case runs are not
// recorded.
func New(cat *catalog.Catalog, reg *core.Registry, fetcher core.Fetcher, hist *history.Store, opts Options) *Service {
	if opts.LinkParallel <= 0 {
		opts.LinkParallel = 8
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	s := &Service{
		reg:     reg,
		fetcher: fetcher,
		history: hist,
		limiter: NewRunLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:    opts,
	}
	s.catalog.Store(cat)
	return s
}

// SetCatalog replaces the catalog used by runs that start afterwards.
func (s *Service) SetCatalog(c *catalog.Catalog) {
	s.catalog.Store(c)
	slog.Info("catalog loaded", "topics", c.Len())
}

// Catalog returns the current catalog snapshot.
func (s *Service) Catalog() *catalog.Catalog { return s.catalog.Load() }

// Registry returns the transformation registry.
func (s *Service) Registry() *core.Registry { return s.reg }

// Limiter exposes the run limiter for status reporting and draining.
func (s *Service) Limiter() *RunLimiter { return s.limiter }

// TopicInfo summarizes one topic.
type TopicInfo struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Fields   int    `json:"fields"`
	Sources  int    `json:"sources"`
	Agencies int    `json:"agencies"`
}

// Topics lists every topic in the catalog, sorted by id.
func (s *Service) Topics() []TopicInfo {
	topics := s.Catalog().Topics()
	out := make([]TopicInfo, len(topics))
	for i, t := range topics {
		agencies := make(map[string]bool)
		for _, src := range t.Sources {
			agencies[src.Agency()] = true
		}
		out[i] = TopicInfo{
			ID:       t.ID,
			Title:    t.Title,
			Fields:   len(t.Fields),
			Sources:  len(t.Sources),
			Agencies: len(agencies),
		}
	}
	return out
}

// Topic returns one topic.
func (s *Service) Topic(id string) (*core.Topic, error) {
	return s.Catalog().Topic(id)
}

// Dataset selects the sources of topic that satisfy c.
func (s *Service) Dataset(topic string, c core.Constraints) (*Dataset, error) {
	t, err := s.Topic(topic)
	if err != nil {
		return nil, err
	}
	sel, err := core.Select(t, c, s.reg)
	if err != nil {
		return nil, err
	}
	return &Dataset{
		Title:       t.Title,
		ID:          t.ID,
		Constraints: c,
		Fields:      t.Fields,
		sel:         sel,
		fetcher:     s.fetcher,
		opts:        []core.StreamOption{core.WithPrefetch(s.opts.Prefetch)},
	}, nil
}

// Coverage reports which agencies provide each field of topic.
func (s *Service) Coverage(topic string) ([]catalog.FieldCoverage, error) {
	t, err := s.Topic(topic)
	if err != nil {
		return nil, err
	}
	return catalog.Coverage(t), nil
}

// CheckLinks requests every source address of topic.
func (s *Service) CheckLinks(ctx context.Context, topic string) ([]catalog.LinkStatus, error) {
	t, err := s.Topic(topic)
	if err != nil {
		return nil, err
	}
	return catalog.CheckLinks(ctx, s.opts.HTTPClient, t, s.opts.LinkParallel), nil
}

// RunResult summarizes a finished run.
type RunResult struct {
	ID       string              `json:"id"`
	Topic    string              `json:"topic"`
	Header   core.Header         `json:"header"`
	Rows     int64               `json:"rows"`
	Sources  []core.SourceResult `json:"-"`
	Failed   int                 `json:"failedSources"`
	Duration time.Duration       `json:"duration"`
}

// runSpec describes one run to execute.
type runSpec struct {
	trigger     history.Trigger
	topic       string
	constraints core.Constraints
	destination string
	consume     func(ctx context.Context, s *core.Stream) (int64, error)
}

// run executes spec under the limiter, records it, and logs the outcome.
// Configuration errors surface before a slot is taken.
func (s *Service) run(ctx context.Context, spec runSpec) (*RunResult, error) {
	ds, err := s.Dataset(spec.topic, spec.constraints)
	if err != nil {
		logging.FromContext(ctx).Error("run rejected", "topic", spec.topic, "error", err)
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}

	id := uuid.NewString()
	if s.history != nil {
		rec, err := s.history.Start(ctx, history.StartParams{
			Topic:       spec.topic,
			Constraints: spec.constraints,
			Trigger:     spec.trigger,
			Destination: sink.Redact(spec.destination),
		})
		if err != nil {
			logging.FromContext(ctx).Warn("run history unavailable", "error", err)
		} else {
			id = rec.ID
		}
	}

	ctx, span := tracer.Start(ctx, "run."+string(spec.trigger), trace.WithAttributes(
		attribute.String("run.id", id),
		attribute.String("run.topic", spec.topic),
		attribute.Int("run.sources", ds.Len()),
	))
	defer span.End()

	ctx, logger := logging.WithFields(ctx, "run_id", id, "topic", spec.topic)
	logger.Info("run started",
		"trigger", spec.trigger,
		"sources", ds.Len(),
		"constraints", spec.constraints.String(),
	)

	start := time.Now()
	stream := ds.Download(ctx, core.WithLogger(logger))
	rows, runErr := spec.consume(ctx, stream)
	stream.Close()

	result := &RunResult{
		ID:       id,
		Topic:    spec.topic,
		Header:   stream.Header(),
		Rows:     rows,
		Sources:  stream.Results(),
		Failed:   len(stream.Failures()),
		Duration: time.Since(start),
	}

	if s.history != nil {
		// The run context may be cancelled; the record still needs closing.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := s.history.Finish(finishCtx, id, rows, result.Sources, runErr); err != nil && !errors.Is(err, history.ErrNotFound) {
			logger.Warn("run history update failed", "error", err)
		}
		cancel()
	}

	span.SetAttributes(
		attribute.Int64("run.rows", rows),
		attribute.Int("run.failed_sources", result.Failed),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		logger.Error("run failed", "rows", rows, "error", runErr)
		return result, runErr
	}
	logger.Info("run completed",
		"rows", rows,
		"failed_sources", result.Failed,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, nil
}

// Download streams topic as fully quoted CSV to w.
func (s *Service) Download(ctx context.Context, topic string, c core.Constraints, w io.Writer) (*RunResult, error) {
	return s.run(ctx, runSpec{
		trigger:     history.TriggerDownload,
		topic:       topic,
		constraints: c,
		consume: func(ctx context.Context, stream *core.Stream) (int64, error) {
			return sink.Copy(ctx, sink.NewCSV(w), stream)
		},
	})
}

// ExportRequest describes a run written to a sink destination.
type ExportRequest struct {
	Topic       string           `json:"topic"`
	Constraints core.Constraints `json:"constraints"`
	Destination string           `json:"destination"`
	Table       string           `json:"table,omitempty"`   // Defaults to the topic id
	Replace     bool             `json:"replace,omitempty"` // Drop existing table first
}

// Export writes topic to the destination named by req.
func (s *Service) Export(ctx context.Context, req ExportRequest) (*RunResult, error) {
	return s.export(ctx, req, history.TriggerExport)
}

func (s *Service) export(ctx context.Context, req ExportRequest, trigger history.Trigger) (*RunResult, error) {
	if req.Destination == "" {
		return nil, ErrNoDestination
	}
	table := req.Table
	if table == "" {
		table = req.Topic
	}
	return s.run(ctx, runSpec{
		trigger:     trigger,
		topic:       req.Topic,
		constraints: req.Constraints,
		destination: req.Destination,
		consume: func(ctx context.Context, stream *core.Stream) (int64, error) {
			dst, err := sink.Open(ctx, req.Destination, sink.Options{
				Table:     table,
				BatchSize: s.opts.BatchSize,
				Replace:   req.Replace,
				FileRoot:  s.opts.ExportDir,
			})
			if err != nil {
				return 0, fmt.Errorf("open destination: %w", err)
			}
			defer dst.Close()
			return sink.Copy(ctx, dst, stream)
		},
	})
}

// Preview is the first rows of a dataset.
type Preview struct {
	Header core.Header  `json:"header"`
	Rows   []core.Row   `json:"rows"`
	Run    *RunResult   `json:"run"`
	Failed []SourceFail `json:"failedSources,omitempty"`
}

// SourceFail describes a source skipped during a run.
type SourceFail struct {
	URL   string `json:"url"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// Preview returns at most limit harmonized rows of topic. Only the sources
// needed to fill the preview are fetched.
func (s *Service) Preview(ctx context.Context, topic string, c core.Constraints, limit int) (*Preview, error) {
	if limit <= 0 {
		limit = DefaultPreviewRows
	}
	if limit > MaxPreviewRows {
		limit = MaxPreviewRows
	}

	var rows []core.Row
	res, err := s.run(ctx, runSpec{
		trigger:     history.TriggerPreview,
		topic:       topic,
		constraints: c,
		consume: func(ctx context.Context, stream *core.Stream) (int64, error) {
			for len(rows) < limit && stream.Next() {
				rows = append(rows, stream.Row())
			}
			return int64(len(rows)), stream.Err()
		},
	})
	if err != nil {
		return nil, err
	}

	p := &Preview{Header: res.Header, Rows: rows, Run: res}
	for _, r := range res.Sources {
		if r.Err != nil {
			p.Failed = append(p.Failed, SourceFail{URL: r.URL, Kind: string(r.Err.Kind), Error: r.Err.Error()})
		}
	}
	return p, nil
}

// Runs lists recorded runs.
func (s *Service) Runs(ctx context.Context, opts history.ListOptions) (*history.ListResult, error) {
	if s.history == nil {
		return &history.ListResult{Runs: []history.Run{}, Page: 1, PageSize: opts.Limit, TotalPages: 1}, nil
	}
	return s.history.List(ctx, opts)
}

// Run returns one recorded run.
func (s *Service) Run(ctx context.Context, id string) (*history.Run, error) {
	if s.history == nil {
		return nil, fmt.Errorf("%w: %s", history.ErrNotFound, id)
	}
	return s.history.Get(ctx, id)
}

// PurgeHistory removes finished runs older than retention.
func (s *Service) PurgeHistory(ctx context.Context, retention time.Duration) (int64, error) {
	if s.history == nil {
		return 0, nil
	}
	return s.history.Purge(ctx, time.Now().Add(-retention))
}

// Drain waits for in-flight runs to finish.
func (s *Service) Drain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}
