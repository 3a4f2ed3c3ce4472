// Package jobs tracks asynchronous operations in memory: creation, progress,
// and terminal status, with synchronous notification of subscribers.
package jobs

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teletriage/internal/bus"
)

// Status is a job's lifecycle state. Transitions only move forward:
// pending -> running -> completed | failed. Terminal states are sticky.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Type identifies what kind of operation a job runs.
type Type string

const (
	TypeSync     Type = "sync"
	TypeReport   Type = "report"
	TypeBulkSend Type = "bulk_send"
)

// Job is one asynchronous operation. Fields are read through snapshots; the
// Manager owns the canonical copy.
type Job struct {
	ID              string
	Type            Type
	Status          Status
	ProgressCurrent int
	ProgressTotal   int
	ProgressMessage string
	Result          any
	Error           string
	CreatedAt       time.Time
	CompletedAt     time.Time
}

// Subscriber receives a snapshot of a job on every create/progress/terminal
// notification.
type Subscriber func(Job)

// Manager is the process-wide job registry. Jobs live for the process
// lifetime only; durable bulk-send state is the store's problem.
type Manager struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	order  []string // creation order, for Recent
	subs   []Subscriber
	seq    int
	bus    *bus.Bus
	logger *zap.Logger
}

// NewManager creates an empty job registry publishing job.* events on b.
func NewManager(b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		jobs:   make(map[string]*Job),
		bus:    b,
		logger: logger,
	}
}

// Subscribe registers a callback invoked synchronously on every job change.
// A panicking callback is isolated and never corrupts the registry or stops
// other callbacks.
func (m *Manager) Subscribe(fn Subscriber) {
	m.mu.Lock()
	m.subs = append(m.subs, fn)
	m.mu.Unlock()
}

// Create allocates a new pending job. IDs are unique for the process
// lifetime.
func (m *Manager) Create(t Type) Job {
	m.mu.Lock()
	m.seq++
	job := &Job{
		ID:        fmt.Sprintf("%s_%d_%s", t, m.seq, uuid.NewString()[:8]),
		Type:      t,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	snap := *job
	m.mu.Unlock()

	m.notify(snap, bus.KindJobCreated)
	return snap
}

// Start moves a pending job to running. Ignored for unknown or terminal
// jobs.
func (m *Manager) Start(id string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok || job.Status != StatusPending {
		m.mu.Unlock()
		return
	}
	job.Status = StatusRunning
	snap := *job
	m.mu.Unlock()

	m.notify(snap, bus.KindJobProgress)
}

// UpdateProgress records progress. Purely observational: unknown IDs are a
// silent no-op so progress reporting can never crash the operation it
// reports on.
func (m *Manager) UpdateProgress(id string, current, total int, message string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	job.ProgressCurrent = current
	job.ProgressTotal = total
	job.ProgressMessage = message
	snap := *job
	m.mu.Unlock()

	m.notify(snap, bus.KindJobProgress)
}

// Complete marks a job completed with a result. Terminal states are sticky:
// completing an already-terminal job is ignored.
func (m *Manager) Complete(id string, result any) {
	m.terminal(id, StatusCompleted, result, "")
}

// Fail marks a job failed with an error message.
func (m *Manager) Fail(id string, errMsg string) {
	m.terminal(id, StatusFailed, nil, errMsg)
}

func (m *Manager) terminal(id string, status Status, result any, errMsg string) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	if job.Status == StatusCompleted || job.Status == StatusFailed {
		m.mu.Unlock()
		m.logger.Warn("ignoring transition out of terminal job state",
			zap.String("job", id), zap.String("to", string(status)))
		return
	}
	job.Status = status
	job.Result = result
	job.Error = errMsg
	job.CompletedAt = time.Now()
	snap := *job
	m.mu.Unlock()

	kind := bus.KindJobCompleted
	if status == StatusFailed {
		kind = bus.KindJobFailed
	}
	m.notify(snap, kind)
}

// Get returns a snapshot of a job; ok is false for unknown IDs.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// Active returns snapshots of all pending and running jobs.
func (m *Manager) Active() []Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, id := range m.order {
		job := m.jobs[id]
		if job.Status == StatusPending || job.Status == StatusRunning {
			out = append(out, *job)
		}
	}
	return out
}

// Recent returns up to limit jobs, newest first.
func (m *Manager) Recent(limit int) []Job {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Job, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.jobs[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Manager) notify(snap Job, kind string) {
	m.mu.Lock()
	subs := make([]Subscriber, len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()

	for _, fn := range subs {
		m.invoke(fn, snap)
	}
	if m.bus != nil {
		m.bus.Emit(kind, snap)
	}
}

func (m *Manager) invoke(fn Subscriber, snap Job) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("job subscriber panicked", zap.Any("panic", r))
		}
	}()
	fn(snap)
}
