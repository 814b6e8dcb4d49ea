// Package bleveindex implements index.Backend on a local bleve index, one
// directory per index name. It backs dry runs, offline development and the
// MCP lookup tools.
package bleveindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/krakend/content-sync/internal/index"
	"github.com/krakend/content-sync/internal/record"
	"github.com/krakend/content-sync/internal/syncerr"
)

const (
	// sourceField keeps the JSON document so hits round-trip nested values
	sourceField = "_source"
	settingsKey = "content-sync/settings"

	maxHitsPerLookup = 10
	maxSearchResults = 20
)

// NewMapping indexes the identity attributes as exact keywords and every
// other attribute with the default analyzer.
func NewMapping() *mapping.IndexMappingImpl {
	keyword := bleve.NewKeywordFieldMapping()

	source := bleve.NewTextFieldMapping()
	source.Index = false
	source.Store = true
	source.IncludeInAll = false
	source.IncludeTermVectors = false

	im := bleve.NewIndexMapping()
	for _, field := range index.SearchableKeys {
		im.DefaultMapping.AddFieldMappingsAt(field, keyword)
	}
	im.DefaultMapping.AddFieldMappingsAt(sourceField, source)
	return im
}

// Backend is one bleve index
type Backend struct {
	name    string
	idx     bleve.Index
	release func() error
}

// NewMemOnly creates a backend that lives only in memory
func NewMemOnly(name string) (*Backend, error) {
	idx, err := bleve.NewMemOnly(NewMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory index: %w", err)
	}
	return &Backend{name: name, idx: idx, release: idx.Close}, nil
}

func (b *Backend) Name() string { return b.name }

// Close releases the backend; the shared index closes with its last user
func (b *Backend) Close() error {
	if b.release == nil {
		return nil
	}
	release := b.release
	b.release = nil
	return release()
}

// DocCount returns the number of records in the index
func (b *Backend) DocCount() (uint64, error) {
	return b.idx.DocCount()
}

func (b *Backend) SearchBatch(ctx context.Context, queries []index.LookupQuery) ([]index.LookupResult, error) {
	out := make([]index.LookupResult, len(queries))
	for i, q := range queries {
		res, err := b.search(ctx, keyQuery(q), maxHitsPerLookup)
		if err != nil {
			return nil, fmt.Errorf("lookup %s@%s failed: %w", q.ID, q.Locale, err)
		}
		out[i] = res
	}
	return out, nil
}

// Search runs a full-text match query over all indexed attributes
func (b *Backend) Search(ctx context.Context, text string, size int) (index.LookupResult, error) {
	if size <= 0 || size > maxSearchResults {
		size = maxSearchResults
	}
	return b.search(ctx, bleve.NewMatchQuery(text), size)
}

func keyQuery(q index.LookupQuery) query.Query {
	id := bleve.NewTermQuery(q.ID)
	id.SetField(record.FieldID)
	locale := bleve.NewTermQuery(q.Locale)
	locale.SetField(record.FieldLocale)
	return bleve.NewConjunctionQuery(id, locale)
}

func (b *Backend) search(ctx context.Context, q query.Query, size int) (index.LookupResult, error) {
	req := bleve.NewSearchRequestOptions(q, size, 0, false)
	req.Fields = []string{sourceField}
	req.SortBy([]string{"-_score", "_id"})

	res, err := b.idx.SearchInContext(ctx, req)
	if err != nil {
		return index.LookupResult{}, err
	}

	out := index.LookupResult{NbHits: int(res.Total)}
	for _, hit := range res.Hits {
		attrs := map[string]any{}
		if raw, ok := hit.Fields[sourceField].(string); ok {
			if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
				return index.LookupResult{}, fmt.Errorf("corrupt document %s: %w", hit.ID, err)
			}
		}
		out.Hits = append(out.Hits, index.Hit{ObjectID: hit.ID, Attributes: attrs})
	}
	return out, nil
}

// CreateMany stores records under freshly generated object ids
func (b *Backend) CreateMany(ctx context.Context, records []record.Candidate) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	ids := make([]string, len(records))
	batch := b.idx.NewBatch()
	for i, r := range records {
		ids[i] = uuid.NewString()
		if err := addToBatch(batch, ids[i], r.Document()); err != nil {
			return nil, err
		}
	}
	if err := b.idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to index batch: %w", err)
	}
	return ids, nil
}

// UpdateMany replaces the documents stored under the records' object ids
func (b *Backend) UpdateMany(ctx context.Context, records []record.Indexed) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	ids := make([]string, len(records))
	batch := b.idx.NewBatch()
	for i, r := range records {
		if r.ObjectID == "" {
			return nil, fmt.Errorf("record %s has no object id", r.Key())
		}
		ids[i] = r.ObjectID
		if err := addToBatch(batch, r.ObjectID, r.Candidate.Document()); err != nil {
			return nil, err
		}
	}
	if err := b.idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to index batch: %w", err)
	}
	return ids, nil
}

func addToBatch(batch *bleve.Batch, id string, doc map[string]any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", id, err)
	}
	doc[sourceField] = string(raw)
	if err := batch.Index(id, doc); err != nil {
		return fmt.Errorf("failed to add %s to batch: %w", id, err)
	}
	return nil
}

// Settings are kept in the index's internal key space
func (b *Backend) Settings(context.Context) (index.Settings, error) {
	var s index.Settings
	raw, err := b.idx.GetInternal([]byte(settingsKey))
	if err != nil {
		return s, fmt.Errorf("failed to read settings: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("failed to decode settings: %w", err)
	}
	return s, nil
}

func (b *Backend) SetSettings(_ context.Context, s index.Settings) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return b.idx.SetInternal([]byte(settingsKey), raw)
}

// Store opens indexes below one data directory. An index opened several
// times in the same process is shared and closed with its last user.
type Store struct {
	dir string

	mu   sync.Mutex
	open map[string]*shared
}

type shared struct {
	idx  bleve.Index
	refs int
}

// NewStore creates a store rooted at dir
func NewStore(dir string) *Store {
	return &Store{dir: dir, open: map[string]*shared{}}
}

// Dir returns the data directory
func (s *Store) Dir() string { return s.dir }

// Open opens (or creates) the named index and takes its lock file
func (s *Store) Open(_ context.Context, name string) (*Backend, error) {
	if name == "" || name != filepath.Base(name) {
		return nil, syncerr.Configuration("index", "invalid index name %q", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if sh, ok := s.open[name]; ok {
		sh.refs++
		return &Backend{name: name, idx: sh.idx, release: s.releaser(name)}, nil
	}

	startTime := time.Now()
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	lockPath := s.lockPath(name)
	if err := acquireLock(lockPath); err != nil {
		return nil, fmt.Errorf("failed to acquire lock for %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, NewMapping())
	}
	if err != nil {
		releaseLock(lockPath)
		return nil, fmt.Errorf("failed to open index %s: %w", path, err)
	}
	log.Printf("✓ Index %s opened in %v", name, time.Since(startTime).Round(time.Millisecond))

	s.open[name] = &shared{idx: idx, refs: 1}
	return &Backend{name: name, idx: idx, release: s.releaser(name)}, nil
}

// Factory adapts Open to index.BackendFactory
func (s *Store) Factory() index.BackendFactory {
	return func(ctx context.Context, name string) (index.Backend, error) {
		return s.Open(ctx, name)
	}
}

// Close closes every index still open, regardless of users
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for name, sh := range s.open {
		errs = append(errs, s.closeShared(name, sh))
	}
	return errors.Join(errs...)
}

func (s *Store) releaser(name string) func() error {
	return func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		sh, ok := s.open[name]
		if !ok {
			return nil
		}
		sh.refs--
		if sh.refs > 0 {
			return nil
		}
		return s.closeShared(name, sh)
	}
}

// closeShared must be called with s.mu held
func (s *Store) closeShared(name string, sh *shared) error {
	delete(s.open, name)
	closeErr := sh.idx.Close()
	if err := releaseLock(s.lockPath(name)); err != nil && closeErr == nil {
		closeErr = err
	}
	return closeErr
}

func (s *Store) lockPath(name string) string {
	return filepath.Join(s.dir, name+".lock")
}
