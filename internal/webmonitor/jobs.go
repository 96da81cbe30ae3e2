package webmonitor

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dj-oyu/street-safety-monitor/internal/logger"
	"github.com/dj-oyu/street-safety-monitor/internal/metrics"
	"github.com/dj-oyu/street-safety-monitor/internal/pipeline"
	"github.com/dj-oyu/street-safety-monitor/internal/session"
)

// ErrBusy is returned when a job is already running.
var ErrBusy = errors.New("an analysis job is already running")

// JobManager runs at most one analysis job at a time on its own goroutine.
type JobManager struct {
	ctx     context.Context
	runner  *pipeline.Runner
	open    SourceOpener
	store   *session.Store
	metrics *metrics.Metrics
	onDone  func(JobStatus)

	mu      sync.Mutex
	running bool
	current JobStatus
	wg      sync.WaitGroup
}

// NewJobManager creates a manager whose jobs stop when ctx is cancelled.
func NewJobManager(ctx context.Context, runner *pipeline.Runner, open SourceOpener, store *session.Store, m *metrics.Metrics) *JobManager {
	return &JobManager{
		ctx:     ctx,
		runner:  runner,
		open:    open,
		store:   store,
		metrics: m,
		current: JobStatus{State: JobIdle},
	}
}

// Busy reports whether a job is running.
func (j *JobManager) Busy() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Start begins analysing the file at path. The file is removed when the job
// ends. name is the client-side file name used for display.
func (j *JobManager) Start(path, name string) (JobStatus, error) {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return JobStatus{}, ErrBusy
	}
	now := time.Now()
	j.running = true
	j.current = JobStatus{
		ID:        uuid.NewString(),
		File:      name,
		State:     JobRunning,
		StartedAt: &now,
	}
	status := j.current
	j.wg.Add(1)
	j.mu.Unlock()

	j.metrics.JobsStarted.Add(1)
	j.metrics.JobActive.Store(1)
	logger.Info("Jobs", "job %s started for %q", status.ID, name)

	go j.run(status.ID, path)
	return status, nil
}

func (j *JobManager) run(id, path string) {
	defer j.wg.Done()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Jobs", "remove %s: %v", path, err)
		}
	}()

	// a new video must not be differenced against the last one
	j.store.RetainPrevious(nil)

	var sum pipeline.Summary
	src, err := j.open(j.ctx, path)
	if err == nil {
		sum, err = j.runner.Run(j.ctx, src)
		if cerr := src.Close(); cerr != nil {
			logger.Debug("Jobs", "job %s: close source: %v", id, cerr)
		}
	}

	finished := time.Now()
	j.mu.Lock()
	j.current.Frames = sum.Frames
	j.current.Alerts = sum.Alerts
	j.current.FinishedAt = &finished
	if sum.Source.Backend != "" {
		info := sum.Source
		j.current.Source = &info
	}
	if err != nil {
		j.current.State = JobFailed
		j.current.Error = err.Error()
	} else {
		j.current.State = JobCompleted
	}
	j.running = false
	status := j.current
	j.mu.Unlock()

	j.metrics.JobActive.Store(0)
	if err != nil {
		j.metrics.JobsFailed.Add(1)
		logger.Warn("Jobs", "job %s failed after %d frames: %v", id, sum.Frames, err)
	} else {
		j.metrics.JobsCompleted.Add(1)
		logger.Info("Jobs", "job %s completed: %d frames, %d alerts", id, sum.Frames, sum.Alerts)
	}
	if j.onDone != nil {
		j.onDone(status)
	}
}

// Status returns the current or last job.
func (j *JobManager) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.current
}

// Wait blocks until the running job, if any, has ended.
func (j *JobManager) Wait() {
	j.wg.Wait()
}
