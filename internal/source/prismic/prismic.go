// Package prismic implements source.Client against the Prismic REST API (v2).
package prismic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/krakend/content-sync/internal/source"
)

const (
	apiPath    = "/api/v2"
	searchPath = "/api/v2/documents/search"

	defaultTimeout  = 30 * time.Second
	defaultRPS      = 5
	maxErrorPayload = 512
)

// Config holds the connection settings
type Config struct {
	// Host is the repository endpoint, e.g. https://my-repo.cdn.prismic.io
	Host              string
	AccessToken       string
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Client queries one Prismic repository
type Client struct {
	host    string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a client for cfg.Host
func New(cfg Config) (*Client, error) {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		return nil, fmt.Errorf("prismic host is required")
	}
	host = strings.TrimSuffix(host, apiPath)
	if _, err := url.ParseRequestURI(host); err != nil {
		return nil, fmt.Errorf("invalid prismic host %q: %w", cfg.Host, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRPS
	}

	return &Client{
		host:    host,
		token:   cfg.AccessToken,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

type apiRef struct {
	ID          string `json:"id"`
	Ref         string `json:"ref"`
	Label       string `json:"label"`
	IsMasterRef bool   `json:"isMasterRef"`
}

type apiInfo struct {
	Refs []apiRef `json:"refs"`
}

// MasterRef resolves the ref of the published content
func (c *Client) MasterRef(ctx context.Context) (string, error) {
	params := url.Values{}
	if c.token != "" {
		params.Set("access_token", c.token)
	}

	var info apiInfo
	if err := c.get(ctx, apiPath, params, &info); err != nil {
		return "", fmt.Errorf("failed to read api info: %w", err)
	}
	for _, r := range info.Refs {
		if r.IsMasterRef {
			return r.Ref, nil
		}
	}
	return "", fmt.Errorf("api info has no master ref")
}

type searchResponse struct {
	Results json.RawMessage `json:"results"`
}

// Query runs a document search. predicates are Prismic predicate strings such
// as `[at(document.type,"blog_post")]`.
func (c *Client) Query(ctx context.Context, predicates []string, opts source.Options) ([]source.Document, error) {
	ref := opts.Ref
	if ref == "" {
		var err error
		if ref, err = c.MasterRef(ctx); err != nil {
			return nil, err
		}
	}

	params := url.Values{}
	for k, v := range opts.Params {
		params.Set(k, v)
	}
	params.Set("ref", ref)
	if q := BuildQuery(predicates); q != "" {
		params.Set("q", q)
	}
	if opts.Lang != "" {
		params.Set("lang", opts.Lang)
	}
	if opts.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(opts.PageSize))
	}
	if opts.Orderings != "" {
		params.Set("orderings", opts.Orderings)
	}
	if c.token != "" {
		params.Set("access_token", c.token)
	}

	var resp searchResponse
	if err := c.get(ctx, searchPath, params, &resp); err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return decodeResults(resp.Results)
}

// BuildQuery wraps predicates into the q parameter format: [[p1][p2]]
func BuildQuery(predicates []string) string {
	var sb strings.Builder
	for _, p := range predicates {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "[") {
			p = "[" + p + "]"
		}
		sb.WriteString(p)
	}
	if sb.Len() == 0 {
		return ""
	}
	return "[" + sb.String() + "]"
}

// decodeResults accepts a list of documents or a single document
func decodeResults(raw json.RawMessage) ([]source.Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '{' {
		var doc source.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document: %w", err)
		}
		return []source.Document{doc}, nil
	}
	var docs []source.Document
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode documents: %w", err)
	}
	return docs, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.host + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorPayload))
		return fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
