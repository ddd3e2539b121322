package core

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/JonMunkholm/openpdi/internal/core")

// RowIterator is a finite, single-pass sequence of raw rows. It is not
// restartable. Err reports a failure that ended the sequence early.
type RowIterator interface {
	Next() bool
	Row() RawRow
	Err() error
	Close() error
}

// Fetcher retrieves a source and returns its raw rows with the source's
// leading Start records already skipped. Failures should be reported as
// *SourceFetchError; any other error is treated as an unreachable source.
type Fetcher interface {
	Fetch(ctx context.Context, src SourceDescriptor) (RowIterator, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, src SourceDescriptor) (RowIterator, error)

func (f FetcherFunc) Fetch(ctx context.Context, src SourceDescriptor) (RowIterator, error) {
	return f(ctx, src)
}

// SourceResult is the outcome of one source in a run.
type SourceResult struct {
	URL    string            `json:"url"`
	Agency string            `json:"agency"`
	Rows   int               `json:"rows"`
	Err    *SourceFetchError `json:"-"`
}

// Failed reports whether the source could not be fully read.
func (r SourceResult) Failed() bool { return r.Err != nil }

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithLogger sets the logger used for per-source reporting.
func WithLogger(l *slog.Logger) StreamOption {
	return func(s *Stream) { s.logger = l }
}

// WithPrefetch fetches up to depth sources ahead of the one being
// harmonized. Harmonization itself stays sequential. Zero disables it.
func WithPrefetch(depth int) StreamOption {
	return func(s *Stream) { s.depth = depth }
}

// Stream is the merged, lazily produced output of one run: the header,
// then every accepted source's harmonized rows in selection order. Only one
// source's rows are read at a time. A source that fails is recorded and
// skipped. A Stream is single-pass and must be closed.
//
//	s := core.Merge(ctx, sel, fetcher)
//	defer s.Close()
//	w.Write(s.Header())
//	for s.Next() {
//		w.Write(s.Row())
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	ctx     context.Context
	sel     *Selection
	fetcher Fetcher
	logger  *slog.Logger
	depth   int

	span       trace.Span
	prefetch   *prefetcher
	next       int // Index of the next source to open
	plan       *SourcePlan
	rows       RowIterator
	sourceSpan trace.Span
	result     *SourceResult

	row     Row
	err     error
	done    bool
	results []SourceResult
}

// Merge returns the merged stream of a selection. Sources are fetched
// through f only as the stream is consumed.
func Merge(ctx context.Context, sel *Selection, f Fetcher, opts ...StreamOption) *Stream {
	s := &Stream{
		sel:     sel,
		fetcher: f,
		logger:  slog.Default(),
		results: make([]SourceResult, 0, len(sel.Sources)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.span = tracer.Start(ctx, "core.Merge", trace.WithAttributes(
		attribute.String("topic", sel.Topic),
		attribute.Int("sources", len(sel.Sources)),
		attribute.Int("columns", len(sel.Header)),
	))
	if s.depth > 0 {
		s.prefetch = newPrefetcher(s.ctx, f, sel.Sources, s.depth)
	}
	return s
}

// Header returns the run's output header. It is available before the first
// call to Next and is empty when no source was accepted.
func (s *Stream) Header() Header { return s.sel.Header }

// Next advances to the next canonical row.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	for {
		if err := s.ctx.Err(); err != nil {
			s.fail(err)
			return false
		}
		if s.rows == nil {
			if s.next >= len(s.sel.Sources) {
				s.finish()
				return false
			}
			s.open()
			continue
		}
		if s.rows.Next() {
			s.row = s.plan.Harmonize(s.rows.Row())
			s.result.Rows++
			return true
		}
		s.closeSource(s.rows.Err())
	}
}

// Row returns the current canonical row.
func (s *Stream) Row() Row { return s.row }

// Err returns the error that stopped the stream early, such as context
// cancellation. Per-source failures are not stream errors; see Results.
func (s *Stream) Err() error { return s.err }

// Results returns the outcome of every source opened so far.
func (s *Stream) Results() []SourceResult { return s.results }

// Failures returns the sources that could not be fully read.
func (s *Stream) Failures() []*SourceFetchError {
	var out []*SourceFetchError
	for _, r := range s.results {
		if r.Err != nil {
			out = append(out, r.Err)
		}
	}
	return out
}

// Close stops the stream and releases the current source. It is safe to
// call more than once and before the stream is exhausted.
func (s *Stream) Close() error {
	if s.rows != nil {
		s.closeSource(nil)
	}
	s.finish()
	return nil
}

func (s *Stream) open() {
	i := s.next
	s.next++
	s.plan = s.sel.Sources[i]
	src := s.plan.Source

	s.results = append(s.results, SourceResult{URL: src.URL, Agency: src.Agency()})
	s.result = &s.results[len(s.results)-1]

	var ctx context.Context
	ctx, s.sourceSpan = tracer.Start(s.ctx, "core.Source", trace.WithAttributes(
		attribute.String("url", src.URL),
		attribute.String("type", src.FileType),
	))

	var (
		rows RowIterator
		err  error
	)
	if s.prefetch != nil {
		rows, err = s.prefetch.take(ctx, i)
	} else {
		rows, err = s.fetcher.Fetch(ctx, src)
	}
	if err != nil {
		if s.ctx.Err() != nil {
			s.sourceSpan.End()
			s.results = s.results[:len(s.results)-1]
			return
		}
		s.recordFailure(err)
		s.sourceSpan.End()
		return
	}
	s.rows = rows
}

func (s *Stream) closeSource(err error) {
	if cerr := s.rows.Close(); err == nil && cerr != nil && s.ctx.Err() == nil {
		err = cerr
	}
	s.rows = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		s.recordFailure(err)
	} else {
		s.sourceSpan.SetAttributes(attribute.Int("rows", s.result.Rows))
	}
	s.sourceSpan.End()
}

func (s *Stream) recordFailure(err error) {
	fe := asFetchError(s.plan.Source.URL, err)
	s.result.Err = fe
	s.sourceSpan.RecordError(fe)
	s.sourceSpan.SetStatus(codes.Error, string(fe.Kind))
	s.logger.Warn("source skipped",
		"topic", s.sel.Topic,
		"url", fe.URL,
		"kind", string(fe.Kind),
		"rows", s.result.Rows,
		"error", fe.Err,
	)
}

func (s *Stream) fail(err error) {
	if s.rows != nil {
		_ = s.rows.Close()
		s.rows = nil
		s.sourceSpan.End()
	}
	s.err = err
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
	s.finish()
}

func (s *Stream) finish() {
	if s.done {
		return
	}
	s.done = true
	s.row = nil
	if s.prefetch != nil {
		s.prefetch.close()
	}
	s.span.SetAttributes(attribute.Int("failed_sources", len(s.Failures())))
	s.span.End()
}

// Collect materializes the remaining rows of s and closes it.
func Collect(s *Stream) ([]Row, error) {
	defer s.Close()
	var rows []Row
	for s.Next() {
		rows = append(rows, s.Row())
	}
	return rows, s.Err()
}
