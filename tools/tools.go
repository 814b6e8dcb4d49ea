// Package tools exposes the configured sync jobs and their target indexes as
// MCP tools, so an assistant can trigger syncs and inspect what got indexed.
package tools

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/krakend/content-sync/internal/config"
	"github.com/krakend/content-sync/internal/syncer"
	"github.com/krakend/content-sync/internal/syncerr"
)

// Service holds the runtime the tool handlers operate on
type Service struct {
	rt *config.Runtime

	// running prevents the same job from being started twice concurrently
	running sync.Map // job name -> *sync.Mutex

	mu   sync.RWMutex
	last map[string]JobStatus
}

// JobStatus is the last known outcome of a job run through the tools
type JobStatus struct {
	Job        string    `json:"job"`
	Index      string    `json:"index"`
	FinishedAt time.Time `json:"finished_at"`
	Created    int       `json:"created"`
	Updated    int       `json:"updated"`
	Fetched    int       `json:"fetched"`
	Dropped    int       `json:"dropped"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  string    `json:"error_code,omitempty"`
}

// NewService wraps a built runtime
func NewService(rt *config.Runtime) *Service {
	return &Service{rt: rt, last: make(map[string]JobStatus)}
}

// Register adds every tool to server and returns how many were registered
func Register(server *mcp.Server, s *Service) int {
	toolCount := 0

	// Job tools (2 tools)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "list_sync_jobs",
			Description: "Lists the configured CMS-to-index sync jobs with their target index, locales and the outcome of the last run.",
		},
		s.ListSyncJobs,
	)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "run_sync_job",
			Description: "Runs one configured sync job: fetches its documents from the CMS and upserts them into the search index, keeping the identifiers of records already indexed.",
		},
		s.RunSyncJob,
	)
	toolCount += 2

	// Index inspection tools (2 tools)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "lookup_record",
			Description: "Finds the indexed record for a CMS document id and locale, returning its object id and stored attributes.",
		},
		s.LookupRecord,
	)
	toolCount++
	if s.rt.Bleve != nil {
		mcp.AddTool(server,
			&mcp.Tool{
				Name:        "search_records",
				Description: "Full-text search over the records of a local index.",
			},
			s.SearchRecords,
		)
		toolCount++
	}

	// Stats tool (1 tool)
	mcp.AddTool(server,
		&mcp.Tool{
			Name:        "sync_stats",
			Description: "Returns running totals of sync cycles, created and updated records, errors and warnings since the server started.",
		},
		s.SyncStats,
	)
	toolCount++

	log.Printf("✓ All tools registered: %d tools", toolCount)
	return toolCount
}

func (s *Service) jobLock(name string) *sync.Mutex {
	mu, _ := s.running.LoadOrStore(name, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *Service) record(job syncer.Job, report syncer.Report, err error) JobStatus {
	status := JobStatus{
		Job:        job.Name,
		Index:      report.Index,
		FinishedAt: time.Now(),
		Created:    report.Result.Created,
		Updated:    report.Result.Updated,
		Fetched:    report.Fetched,
		Dropped:    report.Dropped,
		DurationMS: report.Duration.Milliseconds(),
	}
	if err != nil {
		status.Error = err.Error()
		status.ErrorCode = syncerr.Code(err)
	}

	s.mu.Lock()
	s.last[job.Name] = status
	s.mu.Unlock()
	return status
}

func (s *Service) lastStatus(name string) (JobStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.last[name]
	return status, ok
}

func (s *Service) job(name string) (syncer.Job, error) {
	if name == "" {
		return syncer.Job{}, fmt.Errorf("job name is required")
	}
	return s.rt.Job(name)
}
