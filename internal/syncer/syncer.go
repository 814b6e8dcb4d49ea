// Package syncer runs sync cycles: fetch from the CMS (fanned out per
// locale), clean the batch, hand it to an optional hook, reconcile it into
// the target index and report the outcome.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/krakend/content-sync/internal/diag"
	"github.com/krakend/content-sync/internal/index"
	"github.com/krakend/content-sync/internal/reconcile"
	"github.com/krakend/content-sync/internal/record"
	"github.com/krakend/content-sync/internal/source"
	"github.com/krakend/content-sync/internal/syncerr"
)

// Query describes what to fetch
type Query struct {
	Predicates []string
	Options    source.Options

	// Locales, when set, fetches once per locale with Options.Lang overridden.
	Locales []string
}

// FetchedHook sees the raw batch before it is indexed. indexName is the
// unprefixed target name.
type FetchedHook func(ctx context.Context, indexName string, batch []record.Candidate) error

// Report summarizes one cycle
type Report struct {
	Index    string
	Fetched  int
	Dropped  int
	Result   reconcile.Result
	Duration time.Duration
}

// Option configures a Syncer
type Option func(*Syncer)

// WithSink sets where errors, anomalies and completions are reported
func WithSink(s diag.Sink) Option {
	return func(sy *Syncer) { sy.sink = s }
}

// Syncer ties a CMS client to an index opener
type Syncer struct {
	source source.Client
	opener index.Opener
	sink   diag.Sink
}

// New creates a Syncer
func New(src source.Client, opener index.Opener, opts ...Option) *Syncer {
	s := &Syncer{source: src, opener: opener, sink: diag.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sync runs one cycle against indexName (the prefix is added by the opener).
// Failures are reported to the sink and returned as typed errors.
func (s *Syncer) Sync(ctx context.Context, q Query, indexName string, fields source.FieldMap, hook FetchedHook) (Report, error) {
	start := time.Now()
	report := Report{Index: s.opener.FullName(indexName)}

	adapter := source.Adapter{Client: s.source, Fields: fields}
	batch, err := fetch(ctx, adapter, q)
	if err != nil {
		return report, s.fail(ctx, "source", err, report.Index)
	}
	report.Fetched = len(batch)

	if hook != nil {
		if err := hook(ctx, indexName, batch); err != nil {
			s.sink.Error(ctx, "hook", err, "index", report.Index)
		}
	}

	clean := s.clean(ctx, report.Index, batch)
	report.Dropped = len(batch) - len(clean)

	if len(clean) > 0 {
		client, err := s.opener.Open(ctx, indexName)
		if err != nil {
			return report, s.fail(ctx, "index", err, report.Index)
		}

		res, err := reconcile.New(client, reconcile.WithSink(s.sink)).Reconcile(ctx, clean)
		if closeErr := client.Close(); closeErr != nil {
			s.sink.Warn(ctx, "index", "failed to close index client", "index", report.Index, "error", closeErr.Error())
		}
		if err != nil {
			return report, s.fail(ctx, "reconcile", err, report.Index)
		}
		report.Result = res
	}

	report.Duration = time.Since(start)
	s.sink.Completed(ctx, diag.Completion{
		Index:   report.Index,
		Fetched: report.Fetched,
		Created: report.Result.Created,
		Updated: report.Result.Updated,
	})
	return report, nil
}

func (s *Syncer) fail(ctx context.Context, component string, err error, indexName string) error {
	if !errors.Is(err, context.Canceled) {
		s.sink.Error(ctx, component, err, "index", indexName, "code", syncerr.Code(err))
	}
	return err
}

// fetch runs one query, or one per locale concurrently. Per-locale results
// land in their own slot and are concatenated in locale order. All locales
// share one ref, resolved before the fan-out.
func fetch(ctx context.Context, adapter source.Adapter, q Query) ([]record.Candidate, error) {
	if len(q.Locales) == 0 {
		batch, err := adapter.Fetch(ctx, q.Predicates, q.Options)
		if batch == nil {
			batch = []record.Candidate{}
		}
		return batch, err
	}

	opts, err := adapter.PinRef(ctx, q.Options)
	if err != nil {
		return nil, err
	}

	slots := make([][]record.Candidate, len(q.Locales))
	g, gctx := errgroup.WithContext(ctx)
	for i, lang := range q.Locales {
		g.Go(func() error {
			docs, err := adapter.Fetch(gctx, q.Predicates, opts.WithLang(lang))
			if err != nil {
				return err
			}
			slots[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	total := 0
	for _, slot := range slots {
		total += len(slot)
	}
	batch := make([]record.Candidate, 0, total)
	for _, slot := range slots {
		batch = append(batch, slot...)
	}
	return batch, nil
}

// clean drops records without a key and repeated keys (first one wins)
func (s *Syncer) clean(ctx context.Context, indexName string, batch []record.Candidate) []record.Candidate {
	out := make([]record.Candidate, 0, len(batch))
	seen := make(map[record.Key]struct{}, len(batch))
	for _, c := range batch {
		if err := c.Validate(); err != nil {
			s.sink.Warn(ctx, "syncer", "dropping record without key", "index", indexName, "error", err.Error())
			continue
		}
		if _, dup := seen[c.Key()]; dup {
			s.sink.Warn(ctx, "syncer", "dropping repeated record", "index", indexName, "key", c.Key().String())
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Job is a named, preconfigured sync
type Job struct {
	Name   string
	Index  string
	Query  Query
	Fields source.FieldMap
	Hook   FetchedHook
}

// Run syncs one job
func (s *Syncer) Run(ctx context.Context, job Job) (Report, error) {
	report, err := s.Sync(ctx, job.Query, job.Index, job.Fields, job.Hook)
	if err != nil {
		return report, fmt.Errorf("job %s: %w", job.Name, err)
	}
	return report, nil
}

// JobResult is the outcome of one job in RunAll
type JobResult struct {
	Job    string
	Report Report
	Err    error
}

// RunAll runs jobs one after another. A failing job does not stop the
// others; only cancellation of ctx does.
func (s *Syncer) RunAll(ctx context.Context, jobs []Job) []JobResult {
	results := make([]JobResult, 0, len(jobs))
	for _, job := range jobs {
		if ctx.Err() != nil {
			results = append(results, JobResult{Job: job.Name, Err: ctx.Err()})
			continue
		}
		report, err := s.Run(ctx, job)
		results = append(results, JobResult{Job: job.Name, Report: report, Err: err})
	}
	return results
}
