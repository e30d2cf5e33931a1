package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shortguard/shortguard/internal/logging"
	"github.com/shortguard/shortguard/internal/model"
)

type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobRunning  JobStatus = "running"
	JobDone     JobStatus = "done"
	JobFailed   JobStatus = "failed"
	JobCanceled JobStatus = "canceled"
)

// JobKind names what a job runs.
type JobKind string

const (
	JobClassifyPending  JobKind = "classify_pending"
	JobReclassifySample JobKind = "reclassify_sample"
)

// JobEvent is a point-in-time snapshot emitted on a job's event channel.
type JobEvent struct {
	JobID  string             `json:"job_id"`
	Kind   JobKind            `json:"kind"`
	Status JobStatus          `json:"status"`
	Error  string             `json:"error,omitempty"`
	Report *model.BatchReport `json:"report,omitempty"`
}

// Job tracks one asynchronous batch run. Fields other than Events are
// guarded by the tracker's mutex; read them through snapshots.
type Job struct {
	ID        string             `json:"id"`
	Kind      JobKind            `json:"kind"`
	Status    JobStatus          `json:"status"`
	Error     string             `json:"error,omitempty"`
	Report    *model.BatchReport `json:"report,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`

	// Events receives status transitions. Slow consumers drop events
	// rather than blocking the run.
	Events chan JobEvent `json:"-"`

	cancel context.CancelFunc
}

type jobTracker struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func newJobTracker() *jobTracker {
	return &jobTracker{jobs: make(map[string]*Job)}
}

var ErrJobNotFound = errors.New("job not found")

// StartJob launches a batch run of the given kind in the background and
// returns immediately with its tracking handle.
func (o *Orchestrator) StartJob(ctx context.Context, kind JobKind) (*Job, error) {
	var run func(context.Context) (*model.BatchReport, error)
	switch kind {
	case JobClassifyPending:
		run = o.ClassifyPendingBatch
	case JobReclassifySample:
		run = o.ReclassifySampleBatch
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    JobPending,
		StartedAt: time.Now(),
		Events:    make(chan JobEvent, 16),
		cancel:    cancel,
	}

	o.jobs.mu.Lock()
	o.jobs.jobs[job.ID] = job
	o.jobs.mu.Unlock()

	go func() {
		defer cancel()
		o.setJobStatus(job.ID, JobRunning, nil, "")
		report, err := run(jobCtx)
		switch {
		case jobCtx.Err() == context.Canceled:
			o.setJobStatus(job.ID, JobCanceled, report, "canceled")
		case err != nil:
			o.setJobStatus(job.ID, JobFailed, report, err.Error())
		default:
			o.setJobStatus(job.ID, JobDone, report, "")
		}
	}()

	o.logger.Info("batch job started",
		logging.Field{Key: "job_id", Value: job.ID},
		logging.Field{Key: "kind", Value: string(kind)},
	)
	return job, nil
}

// GetJob returns a snapshot of the job; the Events channel is shared with
// the live job.
func (o *Orchestrator) GetJob(id string) (*Job, error) {
	o.jobs.mu.Lock()
	defer o.jobs.mu.Unlock()
	job, ok := o.jobs.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	snap := *job
	return &snap, nil
}

// Jobs returns snapshots of all tracked jobs, newest first.
func (o *Orchestrator) Jobs() []*Job {
	o.jobs.mu.Lock()
	defer o.jobs.mu.Unlock()
	out := make([]*Job, 0, len(o.jobs.jobs))
	for _, job := range o.jobs.jobs {
		snap := *job
		out = append(out, &snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// CancelJob requests cancellation of a running job. Items already committed
// by the run stay committed.
func (o *Orchestrator) CancelJob(id string) error {
	o.jobs.mu.Lock()
	job, ok := o.jobs.jobs[id]
	if !ok {
		o.jobs.mu.Unlock()
		return ErrJobNotFound
	}
	done := job.Status == JobDone || job.Status == JobFailed || job.Status == JobCanceled
	cancel := job.cancel
	o.jobs.mu.Unlock()

	if done {
		return fmt.Errorf("job %s already finished", id)
	}
	cancel()
	return nil
}

func (o *Orchestrator) setJobStatus(id string, status JobStatus, report *model.BatchReport, errText string) {
	o.jobs.mu.Lock()
	job, ok := o.jobs.jobs[id]
	if !ok {
		o.jobs.mu.Unlock()
		return
	}
	job.Status = status
	job.Report = report
	job.Error = errText
	if status == JobDone || status == JobFailed || status == JobCanceled {
		now := time.Now()
		job.EndedAt = &now
	}
	terminal := job.EndedAt != nil
	event := JobEvent{JobID: id, Kind: job.Kind, Status: status, Error: errText, Report: report}
	events := job.Events
	o.jobs.mu.Unlock()

	select {
	case events <- event:
	default:
		o.logger.Debug("job event dropped, consumer too slow",
			logging.Field{Key: "job_id", Value: id},
		)
	}
	// Closing lets websocket consumers range over Events and stop cleanly.
	if terminal {
		close(events)
	}
}
