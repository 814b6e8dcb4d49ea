// Package reconcile matches fetched content against the search index and
// upserts it while preserving index identities.
//
// A batch goes through four steps:
//
//  1. one lookup per candidate, keyed on (id, locale), sent as a single
//     batched query
//  2. classification into existing records (first hit's object id attached)
//     and new records
//  3. concurrent bulk create of the new partition and bulk update of the
//     existing partition; empty partitions make no call
//  4. merge of the returned identifiers, new ones first
//
// Lookup failures abort the batch. They are never read as "record is new",
// since that would create a duplicate of every record already indexed.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/krakend/content-sync/internal/diag"
	"github.com/krakend/content-sync/internal/index"
	"github.com/krakend/content-sync/internal/record"
	"github.com/krakend/content-sync/internal/syncerr"
)

// ErrDuplicateKey is returned when a batch holds the same (id, locale) twice
var ErrDuplicateKey = errors.New("duplicate record key in batch")

// IndexClient is the part of the index adapter the reconciler uses
type IndexClient interface {
	Name() string
	SearchBatch(ctx context.Context, queries []index.LookupQuery) ([]index.LookupResult, error)
	CreateMany(ctx context.Context, records []record.Candidate) ([]string, error)
	UpdateMany(ctx context.Context, records []record.Indexed) ([]string, error)
}

// Result is the outcome of one reconciled batch
type Result struct {
	// ObjectIDs lists created identifiers first, then updated ones.
	ObjectIDs []string
	Created   int
	Updated   int

	// Records holds every written record with its identity, in ObjectIDs order.
	Records []record.Indexed
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithSink sets where anomalies are reported
func WithSink(s diag.Sink) Option {
	return func(r *Reconciler) { r.sink = s }
}

// Reconciler upserts batches into one index
type Reconciler struct {
	index IndexClient
	sink  diag.Sink
}

// New creates a Reconciler writing to idx
func New(idx IndexClient, opts ...Option) *Reconciler {
	r := &Reconciler{index: idx, sink: diag.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile classifies batch against the index and writes it.
// On error nothing is reported as written, even if one partition succeeded.
func (r *Reconciler) Reconcile(ctx context.Context, batch []record.Candidate) (Result, error) {
	if len(batch) == 0 {
		return Result{}, nil
	}
	if err := checkBatch(batch); err != nil {
		return Result{}, err
	}

	classified, err := r.Classify(ctx, batch)
	if err != nil {
		return Result{}, err
	}

	var fresh []record.Candidate
	var existing []record.Indexed
	for _, c := range classified {
		if c.Exists {
			existing = append(existing, c.Candidate.WithObjectID(c.ObjectID))
		} else {
			fresh = append(fresh, c.Candidate)
		}
	}

	return r.write(ctx, fresh, existing)
}

// Classify resolves which candidates already exist in the index
func (r *Reconciler) Classify(ctx context.Context, batch []record.Candidate) ([]record.Classification, error) {
	queries := make([]index.LookupQuery, len(batch))
	for i, c := range batch {
		queries[i] = index.QueryFor(c)
	}

	results, err := r.index.SearchBatch(ctx, queries)
	if err != nil {
		return nil, &syncerr.LookupError{Index: r.index.Name(), Err: err}
	}
	if len(results) != len(queries) {
		return nil, &syncerr.LookupError{
			Index: r.index.Name(),
			Err:   fmt.Errorf("got %d results for %d queries", len(results), len(queries)),
		}
	}

	out := make([]record.Classification, len(batch))
	for i, res := range results {
		out[i] = record.Classification{Candidate: batch[i]}
		if len(res.Hits) == 0 {
			continue
		}
		if res.Hits[0].ObjectID == "" {
			return nil, &syncerr.LookupError{
				Index: r.index.Name(),
				Err:   fmt.Errorf("hit for %s has no object id", batch[i].Key()),
			}
		}
		if len(res.Hits) > 1 {
			r.sink.Warn(ctx, "reconcile", "several index records share one key, using the first",
				"index", r.index.Name(),
				"key", batch[i].Key().String(),
				"hits", len(res.Hits),
			)
		}
		out[i].Exists = true
		out[i].ObjectID = res.Hits[0].ObjectID
	}
	return out, nil
}

func (r *Reconciler) write(ctx context.Context, fresh []record.Candidate, existing []record.Indexed) (Result, error) {
	var created, updated []string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if len(fresh) == 0 {
			return nil
		}
		ids, err := r.index.CreateMany(gctx, fresh)
		if err != nil {
			return &syncerr.WriteError{Index: r.index.Name(), Op: syncerr.OpCreate, Count: len(fresh), Err: err}
		}
		if len(ids) != len(fresh) {
			return &syncerr.WriteError{
				Index: r.index.Name(), Op: syncerr.OpCreate, Count: len(fresh),
				Err: fmt.Errorf("index returned %d identifiers", len(ids)),
			}
		}
		created = ids
		return nil
	})
	g.Go(func() error {
		if len(existing) == 0 {
			return nil
		}
		ids, err := r.index.UpdateMany(gctx, existing)
		if err != nil {
			return &syncerr.WriteError{Index: r.index.Name(), Op: syncerr.OpUpdate, Count: len(existing), Err: err}
		}
		if len(ids) != len(existing) {
			return &syncerr.WriteError{
				Index: r.index.Name(), Op: syncerr.OpUpdate, Count: len(existing),
				Err: fmt.Errorf("index returned %d identifiers", len(ids)),
			}
		}
		updated = ids
		return nil
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{
		ObjectIDs: make([]string, 0, len(created)+len(updated)),
		Created:   len(created),
		Updated:   len(updated),
		Records:   make([]record.Indexed, 0, len(fresh)+len(existing)),
	}
	res.ObjectIDs = append(res.ObjectIDs, created...)
	res.ObjectIDs = append(res.ObjectIDs, updated...)
	for i, c := range fresh {
		res.Records = append(res.Records, c.WithObjectID(created[i]))
	}
	res.Records = append(res.Records, existing...)
	return res, nil
}

// checkBatch asserts every candidate is keyed and no key appears twice
func checkBatch(batch []record.Candidate) error {
	seen := make(map[record.Key]struct{}, len(batch))
	for _, c := range batch {
		if err := c.Validate(); err != nil {
			return err
		}
		if _, dup := seen[c.Key()]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, c.Key())
		}
		seen[c.Key()] = struct{}{}
	}
	return nil
}
