// Package algolia implements index.Backend with the Algolia search client.
package algolia

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/algolia/algoliasearch-client-go/v4/algolia/call"
	"github.com/algolia/algoliasearch-client-go/v4/algolia/search"
	"github.com/algolia/algoliasearch-client-go/v4/algolia/transport"

	"github.com/krakend/content-sync/internal/index"
	"github.com/krakend/content-sync/internal/record"
	"github.com/krakend/content-sync/internal/syncerr"
)

const defaultTimeout = 30 * time.Second

// lookupAttributes restricts lookups so payload text cannot produce matches
var lookupAttributes = []string{record.FieldID, record.FieldUID, record.FieldLocale}

// Config holds the credentials and endpoints
type Config struct {
	ApplicationID string
	APIKey        string

	// Host replaces the default read and write hosts, mainly for tests.
	// It may carry a scheme ("http://127.0.0.1:8080"); https is assumed otherwise.
	Host    string
	Timeout time.Duration
}

// NewClient creates the search API client for cfg
func NewClient(cfg Config) (*search.APIClient, error) {
	if cfg.ApplicationID == "" || cfg.APIKey == "" {
		return nil, syncerr.Configuration("index.apiKey", "algolia application id and api key are required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	conf := search.SearchConfiguration{
		Configuration: transport.Configuration{
			AppID:        cfg.ApplicationID,
			ApiKey:       cfg.APIKey,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
	}
	if cfg.Host != "" {
		scheme, host, err := splitHost(cfg.Host)
		if err != nil {
			return nil, err
		}
		conf.Hosts = []transport.StatefulHost{transport.NewStatefulHost(scheme, host, call.IsReadWrite)}
	}

	client, err := search.NewClientWithConfig(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create algolia client: %w", err)
	}
	return client, nil
}

func splitHost(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "https", raw, nil
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", syncerr.Configuration("index.host", "unsupported algolia host scheme %q", u.Scheme)
	}
	return u.Scheme, u.Host, nil
}

// Backend talks to one Algolia index
type Backend struct {
	name   string
	client *search.APIClient
}

// New creates a backend for the given (already prefixed) index name
func New(cfg Config, name string) (*Backend, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, name)
}

// NewWithClient shares an existing client between indexes
func NewWithClient(client *search.APIClient, name string) (*Backend, error) {
	if name == "" {
		return nil, syncerr.Configuration("index", "index name is required")
	}
	return &Backend{name: name, client: client}, nil
}

// Factory returns an index.BackendFactory whose backends share one client
func Factory(cfg Config) index.BackendFactory {
	client := sync.OnceValues(func() (*search.APIClient, error) { return NewClient(cfg) })
	return func(_ context.Context, name string) (index.Backend, error) {
		c, err := client()
		if err != nil {
			return nil, err
		}
		return NewWithClient(c, name)
	}
}

func (b *Backend) Name() string { return b.name }

func (b *Backend) Close() error { return nil }

// SearchBatch sends all lookups as one multi-query. Hits whose id and
// locale do not equal the key exactly are dropped.
func (b *Backend) SearchBatch(ctx context.Context, queries []index.LookupQuery) ([]index.LookupResult, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	requests := make([]search.SearchQuery, len(queries))
	for i, q := range queries {
		requests[i] = *search.SearchForHitsAsSearchQuery(
			search.NewEmptySearchForHits().
				SetIndexName(b.name).
				SetQuery(q.Text()).
				SetRestrictSearchableAttributes(lookupAttributes))
	}

	resp, err := b.client.Search(
		b.client.NewApiSearchRequest(search.NewEmptySearchMethodParams().SetRequests(requests)),
		search.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("multi-query on %s failed: %w", b.name, err)
	}
	if len(resp.Results) != len(queries) {
		return nil, fmt.Errorf("multi-query returned %d results for %d queries", len(resp.Results), len(queries))
	}

	out := make([]index.LookupResult, len(queries))
	for i, res := range resp.Results {
		if res.SearchResponse == nil {
			return nil, fmt.Errorf("multi-query result %d is not a hits response", i)
		}
		for _, hit := range res.SearchResponse.Hits {
			attrs := hit.AdditionalProperties
			if asString(attrs[record.FieldID]) != queries[i].ID || asString(attrs[record.FieldLocale]) != queries[i].Locale {
				continue
			}
			out[i].Hits = append(out[i].Hits, index.Hit{ObjectID: hit.ObjectID, Attributes: attrs})
		}
		out[i].NbHits = len(out[i].Hits)
	}
	return out, nil
}

// CreateMany adds records and lets the index assign their object ids
func (b *Backend) CreateMany(ctx context.Context, records []record.Candidate) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	requests := make([]search.BatchRequest, len(records))
	for i, r := range records {
		requests[i] = search.BatchRequest{Action: search.ACTION_ADD_OBJECT, Body: r.Document()}
	}
	return b.batch(ctx, requests)
}

// UpdateMany replaces records under their existing object ids
func (b *Backend) UpdateMany(ctx context.Context, records []record.Indexed) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}
	requests := make([]search.BatchRequest, len(records))
	for i, r := range records {
		if r.ObjectID == "" {
			return nil, fmt.Errorf("record %s has no object id", r.Key())
		}
		requests[i] = search.BatchRequest{Action: search.ACTION_UPDATE_OBJECT, Body: r.Document()}
	}
	return b.batch(ctx, requests)
}

func (b *Backend) batch(ctx context.Context, requests []search.BatchRequest) ([]string, error) {
	resp, err := b.client.Batch(
		b.client.NewApiBatchRequest(b.name, search.NewEmptyBatchWriteParams().SetRequests(requests)),
		search.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("batch on %s failed: %w", b.name, err)
	}
	return resp.ObjectIDs, nil
}

// Settings reads the index settings; a missing index has empty settings
func (b *Backend) Settings(ctx context.Context) (index.Settings, error) {
	resp, err := b.client.GetSettings(b.client.NewApiGetSettingsRequest(b.name), search.WithContext(ctx))
	if err != nil {
		if IsNotFound(err) {
			return index.Settings{}, nil
		}
		return index.Settings{}, fmt.Errorf("failed to read settings of %s: %w", b.name, err)
	}
	return index.Settings{SearchableAttributes: resp.SearchableAttributes}, nil
}

func (b *Backend) SetSettings(ctx context.Context, s index.Settings) error {
	settings := search.NewEmptyIndexSettings().SetSearchableAttributes(s.SearchableAttributes)
	if _, err := b.client.SetSettings(b.client.NewApiSetSettingsRequest(b.name, settings), search.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to write settings of %s: %w", b.name, err)
	}
	return nil
}

// IsNotFound reports an API 404, such as reading settings of a missing index
func IsNotFound(err error) bool {
	var apiErr *search.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
