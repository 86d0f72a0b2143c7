// Package api exposes sync jobs over HTTP: submit a job, poll its report,
// cancel it. This is the calling layer the pipeline's JobReport is surfaced
// back to.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/kalambet/vecsync/internal/checkpoint"
	"github.com/kalambet/vecsync/internal/pipeline"
)

// JobSpec describes a sync job. Exactly one of Text, Files, or S3 selects
// the item source.
type JobSpec struct {
	Text  []TextItem `json:"text,omitempty"`
	Files string     `json:"files,omitempty"`
	S3    *S3Prefix  `json:"s3,omitempty"`

	ModelID      string `json:"modelId,omitempty"`
	VectorBucket string `json:"vectorBucket"`
	IndexName    string `json:"indexName"`

	// ResumeJobID re-runs a previous job, skipping items that already
	// reached a terminal outcome.
	ResumeJobID string `json:"resumeJobId,omitempty"`
}

type TextItem struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type S3Prefix struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`
}

// Validate checks the spec is runnable.
func (s JobSpec) Validate() error {
	sources := 0
	if len(s.Text) > 0 {
		sources++
	}
	if s.Files != "" {
		sources++
	}
	if s.S3 != nil {
		sources++
	}
	if sources != 1 {
		return fmt.Errorf("exactly one of text, files, or s3 is required")
	}
	// Item keys must be unique within a job: the report accounts for every
	// item exactly once, and a duplicate id would silently swallow one.
	ids := make(map[string]bool, len(s.Text))
	for _, t := range s.Text {
		if t.ID == "" {
			return fmt.Errorf("text items require an id")
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate text item id %q", t.ID)
		}
		ids[t.ID] = true
	}
	if s.S3 != nil && s.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required")
	}
	if s.VectorBucket == "" {
		return fmt.Errorf("vectorBucket is required")
	}
	if s.IndexName == "" {
		return fmt.Errorf("indexName is required")
	}
	return nil
}

// Describe summarizes the source for job records.
func (s JobSpec) Describe() string {
	switch {
	case len(s.Text) > 0:
		return fmt.Sprintf("text:%d items", len(s.Text))
	case s.Files != "":
		return "files:" + s.Files
	case s.S3 != nil:
		return fmt.Sprintf("s3://%s/%s", s.S3.Bucket, s.S3.Prefix)
	}
	return ""
}

// PipelineBuilder assembles a pipeline for a job. The jobID is the new job's
// identity for checkpointing; resume data (if any) has already been loaded
// into the spec's source by the builder.
type PipelineBuilder func(ctx context.Context, jobID string, spec JobSpec) (*pipeline.Pipeline, error)

// Job is one tracked job.
type Job struct {
	ID     string           `json:"jobId"`
	Status string           `json:"status"` // running | completed | cancelled
	Report *pipeline.Report `json:"report,omitempty"`

	cancel          context.CancelFunc
	cancelRequested bool
	done            chan struct{}
}

// Manager starts pipelines and tracks their lifecycle.
type Manager struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	build       PipelineBuilder
	checkpoints *checkpoint.Store // optional
	baseCtx     context.Context
	logger      *slog.Logger
}

// NewManager creates a manager. baseCtx bounds every job's lifetime (server
// shutdown cancels all running jobs). checkpoints may be nil.
func NewManager(baseCtx context.Context, build PipelineBuilder, checkpoints *checkpoint.Store) *Manager {
	return &Manager{
		jobs:        make(map[string]*Job),
		build:       build,
		checkpoints: checkpoints,
		baseCtx:     baseCtx,
		logger:      slog.Default(),
	}
}

// Start validates the spec, builds a pipeline, and runs it on its own
// goroutine. Returns the tracked job immediately.
func (m *Manager) Start(spec JobSpec) (*Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	if spec.ResumeJobID != "" {
		id = spec.ResumeJobID
	}

	jobCtx, cancel := context.WithCancel(m.baseCtx)
	p, err := m.build(jobCtx, id, spec)
	if err != nil {
		cancel()
		return nil, err
	}

	job := &Job{
		ID:     id,
		Status: "running",
		cancel: cancel,
		done:   make(chan struct{}),
	}

	m.mu.Lock()
	if existing, ok := m.jobs[id]; ok && existing.Status == "running" {
		m.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("job %s is already running", id)
	}
	m.jobs[id] = job
	m.mu.Unlock()

	if m.checkpoints != nil && spec.ResumeJobID == "" {
		if err := m.checkpoints.CreateJob(id, spec.Describe()); err != nil {
			m.logger.Error("failed to record job", "job_id", id, "error", err)
		}
	}

	go m.run(jobCtx, cancel, job, p)
	return job, nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, job *Job, p *pipeline.Pipeline) {
	defer cancel()
	m.logger.Info("job started", "job_id", job.ID)
	rep := p.Run(ctx)

	m.mu.Lock()
	job.Report = rep
	if job.cancelRequested {
		job.Status = "cancelled"
	} else {
		job.Status = "completed"
	}
	status := job.Status
	m.mu.Unlock()
	close(job.done)

	if m.checkpoints != nil {
		reportJSON, err := json.Marshal(rep)
		if err == nil {
			err = m.checkpoints.FinishJob(job.ID, status, string(reportJSON))
		}
		if err != nil {
			m.logger.Error("failed to record job report", "job_id", job.ID, "error", err)
		}
	}
}

// Get returns a point-in-time copy of a tracked job's visible state.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return Job{ID: job.ID, Status: job.Status, Report: job.Report}, true
}

// Cancel requests cooperative cancellation of a running job. Returns false
// if the job is unknown.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if ok && job.Status == "running" {
		job.cancelRequested = true
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	job.cancel()
	return true
}

// Wait blocks until the job finishes. Used by tests and the one-shot CLI.
func (j *Job) Wait() {
	<-j.done
}
