// Package jobs runs query-and-generate requests in the background.
//
// A Manager accepts a Request, returns a job ID at once and executes the work
// on a bounded worker pool. Callers poll the job until it is terminal:
//
//	Pending -> Running -> Completed
//	                   -> Failed
//	Pending -> Failed (cancelled before it started)
//
// A job that reaches Running always reaches Completed or Failed. Jobs are
// never deleted by the Manager.
package jobs

import (
	"context"
	"time"

	"github.com/Aman-CERP/ragcore/internal/generate"
	"github.com/Aman-CERP/ragcore/internal/search"
)

// Status is a job's position in its state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Request is a query-and-generate submission.
type Request struct {
	Query    string `json:"query"`
	Topic    string `json:"topic,omitempty"`
	Language string `json:"language,omitempty"`

	// TopK and Alpha tune retrieval. Zero TopK and nil Alpha take the
	// Manager's defaults.
	TopK  int      `json:"top_k,omitempty"`
	Alpha *float64 `json:"alpha,omitempty"`
}

// Result is the outcome of a completed job.
type Result struct {
	Retrieval *search.Result   `json:"retrieval"`
	Answer    *generate.Answer `json:"answer"`
}

// Job is one submission and its progress. Result is set iff Completed and
// Error iff Failed.
type Job struct {
	ID      string  `json:"job_id"`
	Status  Status  `json:"status"`
	Request Request `json:"request"`
	Result  *Result `json:"result,omitempty"`

	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	// Cancelled marks a job failed by Cancel before it started.
	Cancelled bool `json:"cancelled,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	if j.Request.Alpha != nil {
		a := *j.Request.Alpha
		c.Request.Alpha = &a
	}
	return &c
}

// Runner performs the downstream work of a job. It may take a long time and
// may fail; the Manager records either outcome on the job.
type Runner func(ctx context.Context, req Request) (*Result, error)

// Store persists jobs. Implementations must be safe for concurrent use and
// must not retain the *Job passed to Put.
type Store interface {
	// Put creates or replaces a job.
	Put(ctx context.Context, job *Job) error

	// Get returns a copy of the job, or a NotFound error.
	Get(ctx context.Context, id string) (*Job, error)

	// List returns all jobs, oldest first.
	List(ctx context.Context) ([]*Job, error)

	Close() error
}
