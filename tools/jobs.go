package tools

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ListSyncJobsInput defines input for list_sync_jobs tool
type ListSyncJobsInput struct{}

// JobInfo describes one configured job
type JobInfo struct {
	Name       string     `json:"name"`
	Index      string     `json:"index"`
	Predicates []string   `json:"predicates,omitempty"`
	Locales    []string   `json:"locales,omitempty"`
	Fields     []string   `json:"fields,omitempty"`
	Archived   bool       `json:"archived"`
	LastRun    *JobStatus `json:"last_run,omitempty"`
}

// ListSyncJobsOutput defines output for list_sync_jobs tool
type ListSyncJobsOutput struct {
	Backend string    `json:"backend"`
	Jobs    []JobInfo `json:"jobs"`
}

// ListSyncJobs lists the configured jobs
func (s *Service) ListSyncJobs(ctx context.Context, req *mcp.CallToolRequest, input ListSyncJobsInput) (*mcp.CallToolResult, ListSyncJobsOutput, error) {
	output := ListSyncJobsOutput{
		Backend: s.rt.Config.Index.Backend,
		Jobs:    make([]JobInfo, 0, len(s.rt.Config.Jobs)),
	}

	for _, job := range s.rt.Jobs() {
		info := JobInfo{
			Name:       job.Name,
			Index:      s.rt.Opener.FullName(job.Index),
			Predicates: job.Query.Predicates,
			Locales:    job.Query.Locales,
			Fields:     job.Fields,
			Archived:   job.Hook != nil,
		}
		if status, ok := s.lastStatus(job.Name); ok {
			info.LastRun = &status
		}
		output.Jobs = append(output.Jobs, info)
	}

	return nil, output, nil
}

// RunSyncJobInput defines input for run_sync_job tool
type RunSyncJobInput struct {
	Job string `json:"job" jsonschema:"Name of the configured job to run"`
}

// RunSyncJobOutput defines output for run_sync_job tool
type RunSyncJobOutput struct {
	Status    JobStatus `json:"status"`
	ObjectIDs []string  `json:"object_ids"`
	Message   string    `json:"message"`
}

// RunSyncJob runs one configured job to completion
func (s *Service) RunSyncJob(ctx context.Context, req *mcp.CallToolRequest, input RunSyncJobInput) (*mcp.CallToolResult, RunSyncJobOutput, error) {
	job, err := s.job(input.Job)
	if err != nil {
		return nil, RunSyncJobOutput{}, err
	}

	mu := s.jobLock(job.Name)
	if !mu.TryLock() {
		return nil, RunSyncJobOutput{}, fmt.Errorf("job %s is already running", job.Name)
	}
	defer mu.Unlock()

	log.Printf("Running sync job %s...", job.Name)
	report, err := s.rt.Syncer.Run(ctx, job)
	status := s.record(job, report, err)
	if err != nil {
		log.Printf("⚠️  Sync job %s failed: %v", job.Name, err)
		return nil, RunSyncJobOutput{Status: status}, err
	}

	output := RunSyncJobOutput{
		Status:    status,
		ObjectIDs: report.Result.ObjectIDs,
		Message: fmt.Sprintf("Synced %d documents into %s (%d created, %d updated) in %v",
			report.Fetched-report.Dropped, report.Index, report.Result.Created, report.Result.Updated,
			report.Duration.Round(time.Millisecond)),
	}
	if output.ObjectIDs == nil {
		output.ObjectIDs = []string{}
	}
	log.Printf("✓ %s", output.Message)
	return nil, output, nil
}
