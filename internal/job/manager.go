package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/adlibrary-harvester/internal/models"
	"github.com/maltedev/adlibrary-harvester/internal/queue"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrInvalidRequest = errors.New("invalid job request")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// JobRunner is implemented by Runner.
type JobRunner interface {
	RunJob(ctx context.Context, id string, cfg models.JobConfig) (*Report, error)
}

// Job is the externally visible state of a queued or finished job.
type Job struct {
	ID          string             `json:"id"`
	Status      Status             `json:"status"`
	SearchTerm  string             `json:"search_term"`
	Country     string             `json:"country"`
	MaxWorkers  int                `json:"max_workers"`
	CreatedAt   time.Time          `json:"created_at"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Summary     *models.JobSummary `json:"summary,omitempty"`
	Files       []string           `json:"files,omitempty"`
	Error       string             `json:"error,omitempty"`
}

// CreateRequest overrides the server's default job configuration. Zero
// values keep the default.
type CreateRequest struct {
	SearchTerm           string   `json:"search_term"`
	Country              string   `json:"country"`
	MaxWorkers           int      `json:"max_workers"`
	MaxRecordsPerSession int      `json:"max_records_per_session"`
	ScrollAttempts       int      `json:"scroll_attempts"`
	Formats              []string `json:"formats"`
	Priority             int      `json:"priority"`
}

// Manager queues jobs and runs them one at a time in the background.
type Manager struct {
	runner   JobRunner
	queue    *queue.InMemoryQueue
	defaults models.JobConfig
	logger   *slog.Logger

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
}

func NewManager(runner JobRunner, q *queue.InMemoryQueue, defaults models.JobConfig, logger *slog.Logger) *Manager {
	return &Manager{
		runner:   runner,
		queue:    q,
		defaults: defaults,
		logger:   logger.With("component", "job_manager"),
		jobs:     make(map[string]*Job),
	}
}

// CreateJob validates req, records the job as pending and queues it.
func (m *Manager) CreateJob(req CreateRequest) (*Job, error) {
	if req.MaxWorkers < 0 || req.MaxRecordsPerSession < 0 || req.ScrollAttempts < 0 {
		return nil, fmt.Errorf("%w: limits cannot be negative", ErrInvalidRequest)
	}

	cfg := m.configFor(req)
	job := &Job{
		ID:         uuid.New().String(),
		Status:     StatusPending,
		SearchTerm: cfg.SearchTerm(),
		Country:    cfg.CountryFilter(),
		MaxWorkers: cfg.MaxWorkers,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.mu.Unlock()

	if err := m.queue.Push(&queue.Task{ID: job.ID, Config: cfg, Priority: req.Priority, CreatedAt: job.CreatedAt}); err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		for i, id := range m.order {
			if id == job.ID {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "search_term", job.SearchTerm)
	return m.snapshot(job), nil
}

func (m *Manager) GetJob(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return m.snapshotLocked(job), nil
}

// ListJobs returns all jobs, newest first.
func (m *Manager) ListJobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Job, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		out = append(out, m.snapshotLocked(m.jobs[m.order[i]]))
	}
	return out
}

// QueueSize reports how many jobs are waiting.
func (m *Manager) QueueSize() int {
	return m.queue.Size()
}

// StartWorker processes queued jobs until ctx is done or the queue is
// closed and drained.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			m.logger.Info("job worker stopping", "reason", err)
			return
		}
		m.process(ctx, task)
	}
}

func (m *Manager) process(ctx context.Context, task *queue.Task) {
	started := time.Now()
	m.update(task.ID, func(j *Job) {
		j.Status = StatusRunning
		j.StartedAt = &started
	})

	report, err := m.runner.RunJob(ctx, task.ID, task.Config)

	finished := time.Now()
	m.update(task.ID, func(j *Job) {
		j.CompletedAt = &finished
		if report != nil {
			summary := report.Summary
			j.Summary = &summary
			j.Files = report.Files
		}
		if err != nil {
			j.Error = err.Error()
		}
		// A job that produced a summary completed even if a sink failed.
		if report == nil {
			j.Status = StatusFailed
		} else {
			j.Status = StatusCompleted
		}
	})

	if err != nil {
		m.logger.Error("job failed", "id", task.ID, "error", err)
		return
	}
	m.logger.Info("job completed", "id", task.ID, "duration", finished.Sub(started))
}

func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

func (m *Manager) configFor(req CreateRequest) models.JobConfig {
	cfg := m.defaults

	filters := make(map[string]string, len(m.defaults.SearchFilters)+2)
	for k, v := range m.defaults.SearchFilters {
		filters[k] = v
	}
	if req.SearchTerm != "" {
		filters[models.FilterSearchTerm] = req.SearchTerm
	}
	if req.Country != "" {
		filters[models.FilterCountry] = req.Country
	}
	cfg.SearchFilters = filters

	if req.MaxWorkers > 0 {
		cfg.MaxWorkers = req.MaxWorkers
	}
	if req.MaxRecordsPerSession > 0 {
		cfg.MaxRecordsPerSession = req.MaxRecordsPerSession
	}
	if req.ScrollAttempts > 0 {
		cfg.ScrollAttempts = req.ScrollAttempts
	}
	if len(req.Formats) > 0 {
		cfg.Formats = append([]string(nil), req.Formats...)
	} else {
		cfg.Formats = append([]string(nil), m.defaults.Formats...)
	}
	return cfg
}

func (m *Manager) snapshot(job *Job) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked(job)
}

func (m *Manager) snapshotLocked(job *Job) *Job {
	c := *job
	c.Files = append([]string(nil), job.Files...)
	return &c
}
