// Package index wraps a search-index service behind the four capabilities
// the reconciler needs: batched lookup by key, bulk create, bulk update and
// searchable-attribute setup.
package index

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/krakend/content-sync/internal/diag"
	"github.com/krakend/content-sync/internal/record"
	"github.com/krakend/content-sync/internal/syncerr"
)

// SearchableKeys must always be searchable so identity lookups can match
var SearchableKeys = []string{record.FieldID, record.FieldUID, record.FieldLocale}

// LookupQuery asks the index for records matching one natural key
type LookupQuery struct {
	ID     string
	UID    string
	Locale string
}

// QueryFor builds the lookup for a candidate
func QueryFor(c record.Candidate) LookupQuery {
	return LookupQuery{ID: c.ID, UID: c.UID, Locale: c.Locale}
}

// Text renders the query string sent to full-text backends
func (q LookupQuery) Text() string {
	return q.ID + " " + q.Locale
}

// Hit is a single record returned by a lookup
type Hit struct {
	ObjectID   string         `json:"objectID"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LookupResult holds the hits for one LookupQuery
type LookupResult struct {
	Hits   []Hit `json:"hits"`
	NbHits int   `json:"nbHits"`
}

// Settings is the subset of index settings this service manages
type Settings struct {
	SearchableAttributes []string `json:"searchableAttributes,omitempty"`
}

// Backend is a concrete search-index service
type Backend interface {
	// Name returns the full index name (prefix included).
	Name() string

	// SearchBatch runs all lookups in one round trip and returns one result per query, in order.
	SearchBatch(ctx context.Context, queries []LookupQuery) ([]LookupResult, error)

	// CreateMany stores new records and returns the identifiers the index assigned.
	CreateMany(ctx context.Context, records []record.Candidate) ([]string, error)

	// UpdateMany replaces records that already carry an identifier.
	UpdateMany(ctx context.Context, records []record.Indexed) ([]string, error)

	Settings(ctx context.Context) (Settings, error)
	SetSettings(ctx context.Context, s Settings) error

	Close() error
}

// MergeSearchableKeys appends any missing SearchableKeys to existing.
// Existing entries are never removed or reordered.
func MergeSearchableKeys(existing []string) ([]string, bool) {
	merged := append([]string(nil), existing...)
	changed := false
	for _, key := range SearchableKeys {
		if !containsAttribute(merged, key) {
			merged = append(merged, key)
			changed = true
		}
	}
	return merged, changed
}

// containsAttribute matches plain names and modifier forms such as "unordered(id)"
func containsAttribute(attrs []string, name string) bool {
	for _, a := range attrs {
		if a == name || a == "unordered("+name+")" || a == "ordered("+name+")" {
			return true
		}
	}
	return false
}

// EnsureSearchableKeys makes id, uid and locale searchable on the backend.
// It is idempotent: settings are only written when something was missing.
func EnsureSearchableKeys(ctx context.Context, b Backend) error {
	current, err := b.Settings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read settings of %s: %w", b.Name(), err)
	}

	merged, changed := MergeSearchableKeys(current.SearchableAttributes)
	if !changed {
		return nil
	}

	current.SearchableAttributes = merged
	if err := b.SetSettings(ctx, current); err != nil {
		return fmt.Errorf("failed to write settings of %s: %w", b.Name(), err)
	}
	return nil
}

// Option configures a Client
type Option func(*Client)

// WithSink sets where setup failures are reported
func WithSink(s diag.Sink) Option {
	return func(c *Client) { c.sink = s }
}

// WithSerializedSetup makes New wait for the searchable-keys setup
func WithSerializedSetup() Option {
	return func(c *Client) { c.serialized = true }
}

// Client is the index adapter handed to the reconciler
type Client struct {
	Backend

	sink       diag.Sink
	serialized bool

	ready    chan struct{}
	setupErr error
	once     sync.Once
}

// New wraps b and starts the one-time searchable-keys setup.
// Unless WithSerializedSetup is given, setup runs in the background and
// indexing calls do not wait for it.
func New(ctx context.Context, b Backend, opts ...Option) *Client {
	c := &Client{
		Backend: b,
		sink:    diag.Nop(),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.serialized {
		c.setup(ctx)
	} else {
		go c.setup(context.WithoutCancel(ctx))
	}
	return c
}

func (c *Client) setup(ctx context.Context) {
	c.once.Do(func() {
		defer close(c.ready)
		if err := EnsureSearchableKeys(ctx, c.Backend); err != nil {
			c.setupErr = err
			c.sink.Error(ctx, "index", err, "index", c.Name())
		}
	})
}

// Ready is closed once the setup step has finished
func (c *Client) Ready() <-chan struct{} { return c.ready }

// SetupErr returns the setup outcome; only meaningful after Ready is closed
func (c *Client) SetupErr() error {
	select {
	case <-c.ready:
		return c.setupErr
	default:
		return nil
	}
}

// Close waits for the setup step before closing the backend
func (c *Client) Close() error {
	<-c.ready
	return c.Backend.Close()
}

// BackendFactory opens the backend for a full index name
type BackendFactory func(ctx context.Context, name string) (Backend, error)

// Opener builds a fresh Client per target index
type Opener struct {
	Prefix  string
	Factory BackendFactory
	Options []Option
}

// FullName prepends the configured prefix
func (o Opener) FullName(name string) string {
	return o.Prefix + name
}

// Open builds the Client for the (unprefixed) index name. A missing backend
// is a configuration error; backend failures come back as IndexOpenError
// unless the backend already classified them as configuration errors.
func (o Opener) Open(ctx context.Context, name string) (*Client, error) {
	if o.Factory == nil {
		return nil, syncerr.Configuration("index.backend", "no index backend configured")
	}
	full := o.FullName(name)
	b, err := o.Factory(ctx, full)
	if err != nil {
		if errors.Is(err, syncerr.ErrConfiguration) {
			return nil, fmt.Errorf("failed to open index %s: %w", full, err)
		}
		return nil, &syncerr.IndexOpenError{Index: full, Err: err}
	}
	return New(ctx, b, o.Options...), nil
}
