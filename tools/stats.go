package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// SyncStatsInput defines input for sync_stats tool
type SyncStatsInput struct{}

// SyncStatsOutput defines output for sync_stats tool
type SyncStatsOutput struct {
	Cycles   int64 `json:"cycles"`
	Created  int64 `json:"created"`
	Updated  int64 `json:"updated"`
	Errors   int64 `json:"errors"`
	Warnings int64 `json:"warnings"`
}

// SyncStats reports the counters collected since startup
func (s *Service) SyncStats(ctx context.Context, req *mcp.CallToolRequest, input SyncStatsInput) (*mcp.CallToolResult, SyncStatsOutput, error) {
	c := s.rt.Counters
	return nil, SyncStatsOutput{
		Cycles:   c.Cycles.Load(),
		Created:  c.Created.Load(),
		Updated:  c.Updated.Load(),
		Errors:   c.Errors.Load(),
		Warnings: c.Warnings.Load(),
	}, nil
}
