// Package memory implements an in-process index.Backend.
//
// It backs the "memory" backend used for dry runs, and it is the test double
// shared by the reconciler and orchestrator tests: every call is counted and
// failures can be injected per operation.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/krakend/content-sync/internal/index"
	"github.com/krakend/content-sync/internal/record"
)

// Calls counts backend invocations and the records they carried
type Calls struct {
	SearchBatch   int
	Lookups       int
	CreateMany    int
	Created       int
	UpdateMany    int
	Updated       int
	SetSettings   int
	SettingsReads int
}

// Index is an in-memory index.Backend
type Index struct {
	name string

	mu       sync.Mutex
	objects  map[string]map[string]any
	order    []string
	settings index.Settings
	nextID   int
	calls    Calls

	// Injected failures, checked on every call.
	SearchErr   error
	CreateErr   error
	UpdateErr   error
	SettingsErr error
}

// New returns an empty index
func New(name string) *Index {
	return &Index{
		name:    name,
		objects: make(map[string]map[string]any),
	}
}

func (m *Index) Name() string { return m.name }

func (m *Index) SearchBatch(_ context.Context, queries []index.LookupQuery) ([]index.LookupResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.SearchBatch++
	m.calls.Lookups += len(queries)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}

	results := make([]index.LookupResult, len(queries))
	for i, q := range queries {
		for _, id := range m.order {
			doc := m.objects[id]
			if doc[record.FieldID] == q.ID && doc[record.FieldLocale] == q.Locale {
				results[i].Hits = append(results[i].Hits, index.Hit{ObjectID: id, Attributes: copyDoc(doc)})
			}
		}
		results[i].NbHits = len(results[i].Hits)
	}
	return results, nil
}

func (m *Index) CreateMany(_ context.Context, records []record.Candidate) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.CreateMany++
	if m.CreateErr != nil {
		return nil, m.CreateErr
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		m.nextID++
		id := fmt.Sprintf("%s-%d", m.name, m.nextID)
		doc := r.Document()
		doc[record.FieldObjectID] = id
		m.objects[id] = doc
		m.order = append(m.order, id)
		ids = append(ids, id)
	}
	m.calls.Created += len(records)
	return ids, nil
}

func (m *Index) UpdateMany(_ context.Context, records []record.Indexed) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.UpdateMany++
	if m.UpdateErr != nil {
		return nil, m.UpdateErr
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		if _, ok := m.objects[r.ObjectID]; !ok {
			m.order = append(m.order, r.ObjectID)
		}
		m.objects[r.ObjectID] = r.Document()
		ids = append(ids, r.ObjectID)
	}
	m.calls.Updated += len(records)
	return ids, nil
}

func (m *Index) Settings(context.Context) (index.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.SettingsReads++
	if m.SettingsErr != nil {
		return index.Settings{}, m.SettingsErr
	}
	return index.Settings{
		SearchableAttributes: append([]string(nil), m.settings.SearchableAttributes...),
	}, nil
}

func (m *Index) SetSettings(_ context.Context, s index.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.SetSettings++
	if m.SettingsErr != nil {
		return m.SettingsErr
	}
	m.settings = index.Settings{SearchableAttributes: append([]string(nil), s.SearchableAttributes...)}
	return nil
}

func (m *Index) Close() error { return nil }

// Calls returns a snapshot of the call counters
func (m *Index) Calls() Calls {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ResetCalls zeroes the call counters
func (m *Index) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = Calls{}
}

// Len returns the number of stored objects
func (m *Index) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Object returns a copy of a stored object
func (m *Index) Object(objectID string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.objects[objectID]
	if !ok {
		return nil, false
	}
	return copyDoc(doc), true
}

// Put stores doc under objectID as if it had been indexed earlier
func (m *Index) Put(objectID string, doc map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[objectID]; !ok {
		m.order = append(m.order, objectID)
	}
	m.objects[objectID] = copyDoc(doc)
}

// Registry hands out one Index per name so several cycles share state
type Registry struct {
	mu      sync.Mutex
	indexes map[string]*Index
}

func NewRegistry() *Registry {
	return &Registry{indexes: make(map[string]*Index)}
}

// Get returns the index for name, creating it on first use
func (r *Registry) Get(name string) *Index {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.indexes[name]
	if !ok {
		idx = New(name)
		r.indexes[name] = idx
	}
	return idx
}

// Factory adapts the registry to index.BackendFactory
func (r *Registry) Factory(_ context.Context, name string) (index.Backend, error) {
	return r.Get(name), nil
}

func copyDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
