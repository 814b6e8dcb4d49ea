package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krakend/content-sync/internal/diag"
	"github.com/krakend/content-sync/internal/index"
	"github.com/krakend/content-sync/internal/index/memory"
	"github.com/krakend/content-sync/internal/reconcile"
	"github.com/krakend/content-sync/internal/record"
	"github.com/krakend/content-sync/internal/syncerr"
)

func candidate(id, locale, title string) record.Candidate {
	return record.Candidate{ID: id, Locale: locale, Fields: map[string]any{"title": title}}
}

func TestReconcile_NewRecordIsCreated(t *testing.T) {
	ctx := context.Background()
	mem := memory.New("blog")
	r := reconcile.New(mem)

	res, err := r.Reconcile(ctx, []record.Candidate{candidate("42", "en", "X")})
	require.NoError(t, err)

	calls := mem.Calls()
	assert.Equal(t, 1, calls.SearchBatch)
	assert.Equal(t, 1, calls.CreateMany)
	assert.Equal(t, 1, calls.Created)
	assert.Equal(t, 0, calls.UpdateMany, "update path must short-circuit")

	require.Len(t, res.ObjectIDs, 1)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 0, res.Updated)

	doc, ok := mem.Object(res.ObjectIDs[0])
	require.True(t, ok)
	assert.Equal(t, "X", doc["title"])
	assert.Equal(t, "42", doc["id"])
}

func TestReconcile_ExistingRecordKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	mem := memory.New("blog")
	r := reconcile.New(mem)

	first, err := r.Reconcile(ctx, []record.Candidate{candidate("42", "en", "X")})
	require.NoError(t, err)
	mem.ResetCalls()

	second, err := r.Reconcile(ctx, []record.Candidate{candidate("42", "en", "Y")})
	require.NoError(t, err)

	calls := mem.Calls()
	assert.Equal(t, 0, calls.CreateMany, "create path must short-circuit")
	assert.Equal(t, 1, calls.UpdateMany)
	assert.Equal(t, first.ObjectIDs, second.ObjectIDs)
	assert.Equal(t, 1, mem.Len())

	doc, _ := mem.Object(first.ObjectIDs[0])
	assert.Equal(t, "Y", doc["title"], "payload changes must be written")
	require.Len(t, second.Records, 1)
	assert.Equal(t, first.ObjectIDs[0], second.Records[0].ObjectID)
}

func TestReconcile_Idempotent(t *testing.T) {
	ctx := context.Background()
	mem := memory.New("blog")
	r := reconcile.New(mem)

	batch := []record.Candidate{
		candidate("1", "en", "a"),
		candidate("1", "fr", "a-fr"),
		candidate("2", "en", "b"),
	}

	first, err := r.Reconcile(ctx, batch)
	require.NoError(t, err)
	second, err := r.Reconcile(ctx, batch)
	require.NoError(t, err)
	third, err := r.Reconcile(ctx, batch)
	require.NoError(t, err)

	assert.ElementsMatch(t, first.ObjectIDs, second.ObjectIDs)
	assert.ElementsMatch(t, first.ObjectIDs, third.ObjectIDs)
	assert.Equal(t, 3, second.Updated)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, mem.Len(), "no duplicates after repeated cycles")
}

func TestReconcile_PartitionCorrectness(t *testing.T) {
	ctx := context.Background()
	mem := memory.New("blog")

	const existing, fresh = 4, 3
	var batch []record.Candidate
	for i := 0; i < existing; i++ {
		id := fmt.Sprintf("old-%d", i)
		mem.Put("obj-"+id, map[string]any{"id": id, "locale": "en"})
		batch = append(batch, candidate(id, "en", "t"))
	}
	for i := 0; i < fresh; i++ {
		batch = append(batch, candidate(fmt.Sprintf("new-%d", i), "en", "t"))
	}

	res, err := reconcile.New(mem).Reconcile(ctx, batch)
	require.NoError(t, err)

	calls := mem.Calls()
	assert.Equal(t, 1, calls.SearchBatch, "all lookups go in one round trip")
	assert.Equal(t, existing+fresh, calls.Lookups)
	assert.Equal(t, fresh, calls.Created)
	assert.Equal(t, existing, calls.Updated)
	assert.Len(t, res.ObjectIDs, existing+fresh)

	// created identifiers come first
	for i := 0; i < fresh; i++ {
		assert.NotContains(t, res.ObjectIDs[i], "obj-old-")
	}
	for i := fresh; i < fresh+existing; i++ {
		assert.Contains(t, res.ObjectIDs[i], "obj-old-")
	}
}

func TestReconcile_LocaleIsPartOfKey(t *testing.T) {
	ctx := context.Background()
	mem := memory.New("blog")
	mem.Put("obj-en", map[string]any{"id": "42", "locale": "en"})

	res, err := reconcile.New(mem).Reconcile(ctx, []record.Candidate{candidate("42", "fr", "X")})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Created)
	assert.NotEqual(t, "obj-en", res.ObjectIDs[0])
}

func TestReconcile_FirstHitWinsAndAnomalyIsReported(t *testing.T) {
	ctx := context.Background()
	mem := memory.New("blog")
	mem.Put("obj-a", map[string]any{"id": "42", "locale": "en"})
	mem.Put("obj-b", map[string]any{"id": "42", "locale": "en"})
	var counters diag.Counters

	res, err := reconcile.New(mem, reconcile.WithSink(&counters)).
		Reconcile(ctx, []record.Candidate{candidate("42", "en", "X")})
	require.NoError(t, err)

	assert.Equal(t, []string{"obj-a"}, res.ObjectIDs)
	assert.EqualValues(t, 1, counters.Warnings.Load())
	assert.Equal(t, 2, mem.Len(), "the anomaly is not repaired")
}

func TestReconcile_EmptyBatch(t *testing.T) {
	mem := memory.New("blog")

	res, err := reconcile.New(mem).Reconcile(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, res.ObjectIDs)
	assert.Equal(t, memory.Calls{}, mem.Calls(), "no network call for an empty batch")
}

func TestReconcile_LookupFailureAbortsBatch(t *testing.T) {
	mem := memory.New("blog")
	mem.SearchErr = errors.New("connection reset")

	res, err := reconcile.New(mem).Reconcile(context.Background(), []record.Candidate{candidate("42", "en", "X")})

	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrLookup)
	assert.Empty(t, res.ObjectIDs)
	calls := mem.Calls()
	assert.Equal(t, 0, calls.CreateMany, "lookup failure must not be read as 'record is new'")
	assert.Equal(t, 0, calls.UpdateMany)
}

type shortResults struct{ *memory.Index }

func (s shortResults) SearchBatch(ctx context.Context, q []index.LookupQuery) ([]index.LookupResult, error) {
	res, err := s.Index.SearchBatch(ctx, q)
	if err != nil || len(res) == 0 {
		return res, err
	}
	return res[:len(res)-1], nil
}

func TestReconcile_ResultCountMismatch(t *testing.T) {
	mem := memory.New("blog")
	batch := []record.Candidate{candidate("1", "en", "a"), candidate("2", "en", "b")}

	_, err := reconcile.New(shortResults{mem}).Reconcile(context.Background(), batch)

	var lookupErr *syncerr.LookupError
	require.ErrorAs(t, err, &lookupErr)
	assert.Equal(t, "blog", lookupErr.Index)
	assert.Equal(t, 0, mem.Calls().CreateMany)
}

type shortUpdates struct{ *memory.Index }

func (s shortUpdates) UpdateMany(ctx context.Context, records []record.Indexed) ([]string, error) {
	ids, err := s.Index.UpdateMany(ctx, records)
	if err != nil || len(ids) == 0 {
		return ids, err
	}
	return ids[:len(ids)-1], nil
}

func TestReconcile_UpdateCountMismatch(t *testing.T) {
	mem := memory.New("blog")
	mem.Put("obj-1", map[string]any{"id": "1", "locale": "en"})
	mem.Put("obj-2", map[string]any{"id": "2", "locale": "en"})
	batch := []record.Candidate{candidate("1", "en", "a"), candidate("2", "en", "b")}

	res, err := reconcile.New(shortUpdates{mem}).Reconcile(context.Background(), batch)

	var writeErr *syncerr.WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.ErrorIs(t, err, syncerr.ErrWrite)
	assert.Equal(t, syncerr.OpUpdate, writeErr.Op)
	assert.Equal(t, 2, writeErr.Count)
	assert.Equal(t, "blog", writeErr.Index)
	assert.Empty(t, res.ObjectIDs)
}

func TestReconcile_WriteFailures(t *testing.T) {
	tests := []struct {
		name   string
		inject func(*memory.Index)
		op     string
	}{
		{"create fails", func(m *memory.Index) { m.CreateErr = errors.New("quota") }, syncerr.OpCreate},
		{"update fails", func(m *memory.Index) { m.UpdateErr = errors.New("quota") }, syncerr.OpUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := memory.New("blog")
			mem.Put("obj-1", map[string]any{"id": "1", "locale": "en"})
			tt.inject(mem)

			batch := []record.Candidate{candidate("1", "en", "a"), candidate("2", "en", "b")}
			res, err := reconcile.New(mem).Reconcile(context.Background(), batch)

			var writeErr *syncerr.WriteError
			require.ErrorAs(t, err, &writeErr)
			assert.Equal(t, tt.op, writeErr.Op)
			assert.Equal(t, 1, writeErr.Count)
			assert.Empty(t, res.ObjectIDs, "failed batches report no identifiers")
		})
	}
}

func TestReconcile_RejectsUnkeyedRecords(t *testing.T) {
	mem := memory.New("blog")

	_, err := reconcile.New(mem).Reconcile(context.Background(), []record.Candidate{{ID: "42"}})

	assert.ErrorIs(t, err, record.ErrMissingKey)
	assert.Equal(t, memory.Calls{}, mem.Calls())
}

func TestReconcile_RejectsDuplicateKeys(t *testing.T) {
	mem := memory.New("blog")
	batch := []record.Candidate{candidate("42", "en", "a"), candidate("42", "en", "b")}

	_, err := reconcile.New(mem).Reconcile(context.Background(), batch)

	assert.ErrorIs(t, err, reconcile.ErrDuplicateKey)
	assert.Equal(t, memory.Calls{}, mem.Calls())
}

func TestReconcile_DoesNotMutateInput(t *testing.T) {
	ctx := context.Background()
	mem := memory.New("blog")
	mem.Put("obj-1", map[string]any{"id": "1", "locale": "en"})

	batch := []record.Candidate{candidate("1", "en", "a")}
	_, err := reconcile.New(mem).Reconcile(ctx, batch)
	require.NoError(t, err)

	assert.Equal(t, candidate("1", "en", "a"), batch[0])
}
