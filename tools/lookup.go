package tools

import (
	"context"
	"fmt"
	"log"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/krakend/content-sync/internal/index"
)

const (
	defaultSearchResults = 10
	maxSearchResults     = 20
)

// LookupRecordInput defines input for lookup_record tool
type LookupRecordInput struct {
	Index  string `json:"index" jsonschema:"Index name without the configured prefix"`
	ID     string `json:"id" jsonschema:"CMS document id"`
	Locale string `json:"locale" jsonschema:"Document locale, for example en-us"`
}

// LookupRecordOutput defines output for lookup_record tool
type LookupRecordOutput struct {
	Index      string         `json:"index"`
	Found      bool           `json:"found"`
	ObjectID   string         `json:"object_id,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Matches    int            `json:"matches"`
}

// LookupRecord finds the record indexed for an (id, locale) key
func (s *Service) LookupRecord(ctx context.Context, req *mcp.CallToolRequest, input LookupRecordInput) (*mcp.CallToolResult, LookupRecordOutput, error) {
	if input.Index == "" || input.ID == "" || input.Locale == "" {
		return nil, LookupRecordOutput{}, fmt.Errorf("index, id and locale are required")
	}

	backend, err := s.open(ctx, input.Index)
	if err != nil {
		return nil, LookupRecordOutput{}, err
	}
	defer closeBackend(backend)

	results, err := backend.SearchBatch(ctx, []index.LookupQuery{{ID: input.ID, Locale: input.Locale}})
	if err != nil {
		return nil, LookupRecordOutput{}, fmt.Errorf("lookup failed: %w", err)
	}

	output := LookupRecordOutput{Index: backend.Name()}
	if len(results) == 0 || len(results[0].Hits) == 0 {
		return nil, output, nil
	}

	hits := results[0].Hits
	output.Found = true
	output.Matches = len(hits)
	output.ObjectID = hits[0].ObjectID
	output.Attributes = hits[0].Attributes
	return nil, output, nil
}

// SearchRecordsInput defines input for search_records tool
type SearchRecordsInput struct {
	Index      string `json:"index" jsonschema:"Index name without the configured prefix"`
	Query      string `json:"query" jsonschema:"Full-text query"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"Maximum number of results (optional, defaults to 10)"`
}

// SearchRecordsOutput defines output for search_records tool
type SearchRecordsOutput struct {
	Index     string      `json:"index"`
	Query     string      `json:"query"`
	TotalHits int         `json:"total_hits"`
	Results   []index.Hit `json:"results"`
}

// SearchRecords runs a full-text query against a local bleve index
func (s *Service) SearchRecords(ctx context.Context, req *mcp.CallToolRequest, input SearchRecordsInput) (*mcp.CallToolResult, SearchRecordsOutput, error) {
	if s.rt.Bleve == nil {
		return nil, SearchRecordsOutput{}, fmt.Errorf("full-text search needs the bleve backend")
	}
	if input.Index == "" {
		return nil, SearchRecordsOutput{}, fmt.Errorf("index is required")
	}

	maxResults := input.MaxResults
	if maxResults <= 0 || maxResults > maxSearchResults {
		maxResults = defaultSearchResults
	}

	backend, err := s.rt.Bleve.Open(ctx, s.rt.Opener.FullName(input.Index))
	if err != nil {
		return nil, SearchRecordsOutput{}, err
	}
	defer closeBackend(backend)

	res, err := backend.Search(ctx, input.Query, maxResults)
	if err != nil {
		return nil, SearchRecordsOutput{}, fmt.Errorf("search failed: %w", err)
	}

	output := SearchRecordsOutput{
		Index:     backend.Name(),
		Query:     input.Query,
		TotalHits: res.NbHits,
		Results:   res.Hits,
	}
	if output.Results == nil {
		output.Results = []index.Hit{}
	}
	return nil, output, nil
}

// open uses the backend factory directly so lookups never write index settings
func (s *Service) open(ctx context.Context, name string) (index.Backend, error) {
	if s.rt.Opener.Factory == nil {
		return nil, fmt.Errorf("no index backend configured")
	}
	backend, err := s.rt.Opener.Factory(ctx, s.rt.Opener.FullName(name))
	if err != nil {
		return nil, fmt.Errorf("failed to open index %s: %w", s.rt.Opener.FullName(name), err)
	}
	return backend, nil
}

func closeBackend(b index.Backend) {
	if err := b.Close(); err != nil {
		log.Printf("Warning: Error closing index %s: %v", b.Name(), err)
	}
}
