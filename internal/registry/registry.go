package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/corvida/tunevault/internal/domain"
)

// Common errors returned by the Registry.
var (
	// ErrTaskNotFound is returned when an operation references a task the
	// registry has never observed.
	ErrTaskNotFound = errors.New("task not found in registry")
)

// Registry is the in-memory record of last-known state per generation
// task. It is the single source of truth for status queries. Records live
// for the lifetime of the process: there is no eviction and no
// persistence, which is acceptable for session-scoped tracking.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*domain.TaskState
	logger *slog.Logger
}

// New creates an empty Registry. Each instance owns its own state, so
// tests can construct one per test for isolation.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		tasks:  make(map[string]*domain.TaskState),
		logger: logger.With("component", "task_registry"),
	}
}

// Get returns a copy of the task's state. Callers never see a record
// mid-update and cannot mutate registry internals through the result.
func (r *Registry) Get(taskID string) (domain.TaskState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state, ok := r.tasks[taskID]
	if !ok {
		return domain.TaskState{}, false
	}
	return state.Clone(), true
}

// Upsert records the latest observation for a task, creating the record on
// first sight. The asset list replaces the previous one wholesale; later
// polls never merge. Returns a copy of the updated state.
func (r *Registry) Upsert(
	taskID string,
	status domain.TaskStatus,
	raw json.RawMessage,
	assets []domain.Asset,
) domain.TaskState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.tasks[taskID]
	if !ok {
		state = &domain.TaskState{TaskID: taskID}
		r.tasks[taskID] = state
		r.logger.Debug("task record created", "task_id", taskID, "status", status)
	}

	state.Status = status
	state.LastRaw = append(json.RawMessage(nil), raw...)
	state.Assets = append([]domain.Asset(nil), assets...)
	state.UpdatedAt = time.Now().UTC()

	return state.Clone()
}

// MarkDownloaded records the files produced by materialization and flips
// the downloaded flag. The flag is set at most once: repeated calls for an
// already-downloaded task are no-ops so the first file set is preserved.
func (r *Registry) MarkDownloaded(taskID string, files []domain.LocalFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	if state.Downloaded {
		r.logger.Debug("task already marked downloaded", "task_id", taskID)
		return nil
	}

	state.Downloaded = true
	state.LocalFiles = append([]domain.LocalFile(nil), files...)
	state.UpdatedAt = time.Now().UTC()

	r.logger.Info("task marked downloaded",
		"task_id", taskID,
		"file_count", len(files))
	return nil
}

// Len returns the number of tracked tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
