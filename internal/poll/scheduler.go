package poll

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/corvida/tunevault/internal/domain"
	"github.com/corvida/tunevault/internal/normalize"
)

// PollerState is the lifecycle state of one task's poller.
type PollerState int

// Poller lifecycle states. A poller is created Idle, moves to Running
// before it becomes visible to the rest of the scheduler, and ends in
// exactly one of Cancelled (external stop or attempt budget exhausted) or
// Completed (terminal upstream status).
const (
	StateIdle PollerState = iota
	StateRunning
	StateCancelled
	StateCompleted
)

func (s PollerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCancelled:
		return "cancelled"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// StatusFetcher queries the upstream API for a task's current record.
type StatusFetcher interface {
	QueryStatus(ctx context.Context, taskID string) (json.RawMessage, error)
}

// TaskStore receives the observations a poller makes. Satisfied by
// *registry.Registry.
type TaskStore interface {
	Upsert(taskID string, status domain.TaskStatus, raw json.RawMessage, assets []domain.Asset) domain.TaskState
	MarkDownloaded(taskID string, files []domain.LocalFile) error
}

// Materializer downloads the assets of a terminal-success task.
type Materializer interface {
	Materialize(ctx context.Context, taskID string, assets []domain.Asset) ([]domain.LocalFile, error)
}

// SchedulerConfig holds configuration for the poll scheduler.
type SchedulerConfig struct {
	// Interval is the fixed cadence between polls for one task. There is
	// no backoff; the attempt budget is the safety valve.
	Interval time.Duration

	// MaxAttempts bounds the total polls (including failed fetches) per
	// task before the poller gives up.
	MaxAttempts int
}

// DefaultSchedulerConfig returns a SchedulerConfig with reasonable defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:    15 * time.Second,
		MaxAttempts: 40,
	}
}

// poller is the handle for one task's polling loop. It exists only while
// polling is active; the scheduler removes it when the loop ends.
type poller struct {
	taskID string
	cancel context.CancelFunc

	mu       sync.Mutex
	state    PollerState
	attempts int
}

// transition moves the poller from one state to another, returning false
// if it was no longer in the expected state. This is what makes stopping
// race-free: whichever side wins the transition owns the shutdown, and a
// loser cannot materialize or tick again.
func (p *poller) transition(from, to PollerState) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return false
	}
	p.state = to
	return true
}

func (p *poller) currentState() PollerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Scheduler runs at most one repeating poller per task. Each tick fetches
// the task's upstream record, normalizes it into the store, and on a
// terminal-success status runs materialization exactly once.
type Scheduler struct {
	fetcher      StatusFetcher
	store        TaskStore
	materializer Materializer
	config       SchedulerConfig
	logger       *slog.Logger

	mu      sync.Mutex
	pollers map[string]*poller
	stopped bool
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler with the given collaborators. Zero or
// negative config values fall back to defaults.
func NewScheduler(
	fetcher StatusFetcher,
	store TaskStore,
	materializer Materializer,
	config SchedulerConfig,
	logger *slog.Logger,
) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}

	return &Scheduler{
		fetcher:      fetcher,
		store:        store,
		materializer: materializer,
		config:       config,
		logger:       logger.With("component", "poll_scheduler"),
		pollers:      make(map[string]*poller),
	}
}

// Start begins polling for a task. Starting a task that already has an
// active poller is a no-op and returns false; this idempotency is what
// prevents duplicate downloads under concurrent client requests.
func (s *Scheduler) Start(taskID string) bool {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		s.logger.Debug("scheduler stopped, start refused", "task_id", taskID)
		return false
	}
	if _, exists := s.pollers[taskID]; exists {
		s.mu.Unlock()
		s.logger.Debug("poller already active, start ignored", "task_id", taskID)
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{taskID: taskID, cancel: cancel, state: StateIdle}
	// The Idle->Running transition happens while still holding the
	// scheduler lock: any poller visible in the map is cancellable by
	// StopAll, never caught mid-construction.
	p.transition(StateIdle, StateRunning)
	s.pollers[taskID] = p
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(ctx, p)

	s.logger.Info("poller started", "task_id", taskID)
	return true
}

// Active reports whether a task currently has a poller.
func (s *Scheduler) Active(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.pollers[taskID]
	return exists
}

// ActiveCount returns the number of currently polling tasks.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pollers)
}

// StopAll cancels every active poller, refuses any further Start, and
// waits for the loops to exit. A poller already past its terminal
// transition is left to finish materialization rather than being cut off
// mid-write. Used during graceful shutdown.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	s.stopped = true
	for _, p := range s.pollers {
		if p.transition(StateRunning, StateCancelled) {
			p.cancel()
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("all pollers stopped")
}

// release removes a finished poller's handle so a later Start may create a
// fresh one.
func (s *Scheduler) release(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pollers, taskID)
}

// run is one task's polling loop.
func (s *Scheduler) run(ctx context.Context, p *poller) {
	defer s.wg.Done()
	defer p.cancel()

	logger := s.logger.With("task_id", p.taskID)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.release(p.taskID)
			logger.Info("poller cancelled", "attempts", p.attempts)
			return
		case <-ticker.C:
			if s.tick(ctx, p, logger) {
				return
			}
		}
	}
}

// tick performs one poll cycle. It returns true when the loop should stop.
func (s *Scheduler) tick(ctx context.Context, p *poller, logger *slog.Logger) bool {
	// A cancellation that raced the ticker must not produce another poll.
	if p.currentState() != StateRunning {
		s.release(p.taskID)
		return true
	}

	p.attempts++

	raw, err := s.fetcher.QueryStatus(ctx, p.taskID)
	if err != nil {
		// Transient fetch failures are never fatal; they burn an attempt
		// and the next tick proceeds.
		logger.Warn("status poll failed, will retry",
			"attempt", p.attempts,
			"max_attempts", s.config.MaxAttempts,
			"error", err)
		return s.checkBudget(p, logger, domain.StatusUnknown)
	}

	status, assets := normalize.Normalize(raw)
	s.store.Upsert(p.taskID, status, raw, assets)

	switch {
	case status.IsTerminalSuccess():
		if !p.transition(StateRunning, StateCompleted) {
			s.release(p.taskID)
			return true
		}
		logger.Info("task reached terminal success",
			"status", status,
			"attempts", p.attempts,
			"asset_count", len(assets))
		// The handle stays registered until materialization finishes, so
		// a concurrent Start cannot launch a second download into the
		// same task directory.
		s.materialize(ctx, p.taskID, assets, logger)
		s.release(p.taskID)
		return true

	case status.IsTerminalError():
		if !p.transition(StateRunning, StateCompleted) {
			s.release(p.taskID)
			return true
		}
		s.release(p.taskID)
		logger.Info("task reached terminal error status, polling stopped",
			"status", status,
			"attempts", p.attempts)
		return true
	}

	return s.checkBudget(p, logger, status)
}

// checkBudget stops the poller when the attempt ceiling is reached. The
// log line is deliberately distinct from a terminal stop so exhaustion can
// be told apart in logs; clients just see the last observed status.
func (s *Scheduler) checkBudget(p *poller, logger *slog.Logger, lastStatus domain.TaskStatus) bool {
	if p.attempts < s.config.MaxAttempts {
		return false
	}
	if p.transition(StateRunning, StateCancelled) {
		logger.Warn("poll attempt budget exhausted, giving up",
			"attempts", p.attempts,
			"last_status", lastStatus)
	}
	s.release(p.taskID)
	return true
}

// materialize downloads the task's assets and records the result. Runs at
// most once per task, guarded by the Running->Completed transition.
func (s *Scheduler) materialize(ctx context.Context, taskID string, assets []domain.Asset, logger *slog.Logger) {
	files, err := s.materializer.Materialize(ctx, taskID, assets)
	if err != nil {
		logger.Error("materialization failed", "error", err)
		return
	}

	if err := s.store.MarkDownloaded(taskID, files); err != nil {
		logger.Error("failed to mark task downloaded", "error", err)
		return
	}

	logger.Info("task assets materialized",
		"file_count", len(files),
		"asset_count", len(assets))
}
