// Package queue guarantees that every publish attempt is eventually delivered
// or explicitly abandoned, across process restarts. Tasks persist in the
// publish_queue table; a single background dispatcher retries them with
// exponential backoff and jitter. At most one publish call is in flight
// process-wide at any instant.
package queue

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/imattau/nostr-community-conventions/internal/domain"
	"github.com/imattau/nostr-community-conventions/internal/repo"
)

const (
	PollInterval = 5 * time.Second
	MaxAttempts  = 5
	BaseDelay    = 30 * time.Second
	MaxDelay     = time.Hour
	Jitter       = 0.2
)

// Backoff returns the delay before attempt n (1-based):
// min(MaxDelay, BaseDelay*2^(n-1)) scaled by uniform(1-Jitter, 1+Jitter),
// never below one second.
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	base := BaseDelay
	for i := 1; i < n && base < MaxDelay; i++ {
		base *= 2
	}
	if base > MaxDelay {
		base = MaxDelay
	}
	scaled := time.Duration(float64(base) * (1 + (rand.Float64()*2-1)*Jitter))
	if scaled < time.Second {
		scaled = time.Second
	}
	return scaled
}

// RunFunc executes one task attempt against its store and returns the
// delivered event id. It is invoked under the publish lock; any error is
// retained as last_error.
type RunFunc func(ctx context.Context, r repo.Repo, task domain.PublishTask) (string, error)

// Manager owns the registered store set, the background dispatcher and the
// process-wide publish lock. One Manager exists per process.
type Manager struct {
	Run    RunFunc
	Notify func(msg string)
	Logger *slog.Logger
	Now    func() time.Time

	mu      sync.Mutex // guards stores and started, never held during publishes
	stores  map[string]repo.Repo
	started bool

	publishMu sync.Mutex // single-flight publish lock
}

func New(run RunFunc) *Manager {
	return &Manager{
		Run:    run,
		Now:    time.Now,
		stores: make(map[string]repo.Repo),
	}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Manager) notify(msg string) {
	if m.Notify != nil {
		m.Notify(msg)
	}
}

func (m *Manager) log() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.Default()
}

// Register adds a store to the dispatcher's rotation.
func (m *Manager) Register(storePath string, r repo.Repo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stores[storePath] = r
}

// Serialize runs fn under the publish lock, mutually exclusive with the
// background dispatcher and any other synchronous publish.
func (m *Manager) Serialize(fn func() error) error {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()
	return fn()
}

// Enqueue persists a task for a failed publish. Defaults are filled in:
// uuid task id, zero attempts, MaxAttempts ceiling, first retry after
// Backoff(1).
func (m *Manager) Enqueue(ctx context.Context, storePath string, r repo.Repo, t domain.PublishTask) (string, error) {
	now := m.now().Unix()
	if t.TaskID == "" {
		t.TaskID = uuid.New().String()
	}
	if t.CreatedAt == 0 {
		t.CreatedAt = now
	}
	if t.MaxAttempts == 0 {
		t.MaxAttempts = MaxAttempts
	}
	if t.NextAttemptAt == 0 {
		t.NextAttemptAt = now + int64(Backoff(t.Attempts+1)/time.Second)
	}
	t.StorePath = storePath
	m.Register(storePath, r)
	if err := r.InsertTask(ctx, t); err != nil {
		return "", err
	}
	m.notify("Publish queued for retry (task " + t.TaskID + ").")
	return t.TaskID, nil
}

// DispatchOnce attempts the single oldest-due task in one store. It returns
// false, without side effects, when nothing is due. On success the task is
// deleted; on failure it is rescheduled, or deleted with a terminal
// abandonment notice once attempts reach the ceiling.
func (m *Manager) DispatchOnce(ctx context.Context, storePath string) (bool, error) {
	m.mu.Lock()
	r, ok := m.stores[storePath]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	task, err := r.NextDueTask(ctx, m.now().Unix())
	if err == repo.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.publishMu.Lock()
	eventID, runErr := m.Run(ctx, r, task)
	m.publishMu.Unlock()

	if runErr == nil {
		m.notify("Queued publish succeeded (event " + eventID + ").")
		return true, r.DeleteTask(ctx, task.ID)
	}

	attempts := task.Attempts + 1
	if domain.IsValidation(runErr) || attempts >= task.MaxAttempts {
		if err := r.DeleteTask(ctx, task.ID); err != nil {
			return true, err
		}
		m.notify("Queued publish failed permanently after " + strconv.Itoa(attempts) + " attempts: " + runErr.Error())
		return true, nil
	}
	next := m.now().Unix() + int64(Backoff(attempts+1)/time.Second)
	if err := r.RescheduleTask(ctx, task.ID, attempts, next, runErr.Error()); err != nil {
		return true, err
	}
	m.notify("Queued publish failed (attempt " + strconv.Itoa(attempts) + "/" + strconv.Itoa(task.MaxAttempts) + "): " + runErr.Error())
	return true, nil
}

// DispatchCycle services each registered store in turn and stops after the
// first dispatched task: at most one delivery per cycle system-wide.
func (m *Manager) DispatchCycle(ctx context.Context) {
	m.mu.Lock()
	paths := make([]string, 0, len(m.stores))
	for p := range m.stores {
		paths = append(paths, p)
	}
	m.mu.Unlock()
	sort.Strings(paths)
	for _, p := range paths {
		dispatched, err := m.DispatchOnce(ctx, p)
		if err != nil {
			m.log().Error("dispatch failed", "store", p, "error", err)
		}
		if dispatched {
			return
		}
	}
}

// Start launches the background dispatcher once per process. It polls every
// PollInterval until ctx is canceled.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()
	go m.loop(ctx)
}

func (m *Manager) loop(ctx context.Context) {
	m.log().Debug("publish queue worker started", "interval", PollInterval)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.log().Debug("publish queue worker stopped")
			return
		case <-ticker.C:
			m.DispatchCycle(ctx)
		}
	}
}

