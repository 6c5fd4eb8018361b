package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvida/tunevault/internal/domain"
	"github.com/corvida/tunevault/internal/registry"
)

// scriptedFetcher replays a fixed sequence of responses, repeating the
// last one forever. A nil entry produces a fetch error.
type scriptedFetcher struct {
	mu        sync.Mutex
	responses []json.RawMessage
	calls     int
}

func (f *scriptedFetcher) QueryStatus(ctx context.Context, taskID string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	f.calls++
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	if f.responses[idx] == nil {
		return nil, errors.New("simulated network failure")
	}
	return f.responses[idx], nil
}

func (f *scriptedFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingMaterializer records invocations and fabricates one local file
// per audio asset.
type countingMaterializer struct {
	mu    sync.Mutex
	calls int
}

func (m *countingMaterializer) Materialize(
	ctx context.Context,
	taskID string,
	assets []domain.Asset,
) ([]domain.LocalFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	var files []domain.LocalFile
	for _, a := range assets {
		files = append(files, domain.LocalFile{
			Kind:        a.Kind,
			Path:        fmt.Sprintf("/data/%s/%d.mp3", taskID, a.Ordinal),
			DisplayName: fmt.Sprintf("%d.mp3", a.Ordinal),
		})
	}
	return files, nil
}

func (m *countingMaterializer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pendingPayload() json.RawMessage {
	return json.RawMessage(`{"status":"PENDING"}`)
}

func successPayload() json.RawMessage {
	return json.RawMessage(`{
		"status": "SUCCESS",
		"response": {"sunoData": [
			{"title": "One", "audio_url": "https://cdn.example.com/1.mp3"},
			{"title": "Two", "audio_url": "https://cdn.example.com/2.mp3"}
		]}
	}`)
}

func newTestScheduler(
	fetcher StatusFetcher,
	store TaskStore,
	mat Materializer,
	maxAttempts int,
) *Scheduler {
	return NewScheduler(fetcher, store, mat, SchedulerConfig{
		Interval:    5 * time.Millisecond,
		MaxAttempts: maxAttempts,
	}, discardLogger())
}

func TestScheduler_IdempotentStart(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []json.RawMessage{pendingPayload()}}
	reg := registry.New(discardLogger())
	mat := &countingMaterializer{}
	s := newTestScheduler(fetcher, reg, mat, 1000)
	defer s.StopAll()

	const starters = 20
	var started sync.WaitGroup
	results := make(chan bool, starters)
	for i := 0; i < starters; i++ {
		started.Add(1)
		go func() {
			defer started.Done()
			results <- s.Start("task-1")
		}()
	}
	started.Wait()
	close(results)

	wins := 0
	for ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one concurrent Start should win")
	assert.Equal(t, 1, s.ActiveCount())
	assert.True(t, s.Active("task-1"))
}

func TestScheduler_PendingThenSuccess(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []json.RawMessage{
		pendingPayload(),
		pendingPayload(),
		pendingPayload(),
		successPayload(),
	}}
	reg := registry.New(discardLogger())
	mat := &countingMaterializer{}
	s := newTestScheduler(fetcher, reg, mat, 1000)

	require.True(t, s.Start("task-1"))

	require.Eventually(t, func() bool {
		state, ok := reg.Get("task-1")
		return ok && state.Downloaded
	}, 2*time.Second, 5*time.Millisecond, "task should end up downloaded")

	state, _ := reg.Get("task-1")
	assert.Equal(t, domain.StatusSuccess, state.Status)
	require.Len(t, state.Assets, 2)
	assert.Equal(t, 1, state.Assets[0].Ordinal)
	assert.Equal(t, 2, state.Assets[1].Ordinal)
	require.Len(t, state.LocalFiles, 2)

	assert.Equal(t, 1, mat.callCount(), "materialization must run exactly once")
	require.Eventually(t, func() bool {
		return !s.Active("task-1")
	}, 2*time.Second, 5*time.Millisecond, "poller handle released after materialization")
	assert.GreaterOrEqual(t, fetcher.callCount(), 4)
}

func TestScheduler_TerminalErrorStopsWithoutMaterialization(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []json.RawMessage{
		json.RawMessage(`{"status":"SENSITIVE_WORD_ERROR"}`),
	}}
	reg := registry.New(discardLogger())
	mat := &countingMaterializer{}
	s := newTestScheduler(fetcher, reg, mat, 1000)

	require.True(t, s.Start("task-1"))

	require.Eventually(t, func() bool {
		return !s.Active("task-1")
	}, 2*time.Second, 5*time.Millisecond)

	state, ok := reg.Get("task-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusSensitiveWordError, state.Status)
	assert.False(t, state.Downloaded)
	assert.Empty(t, state.LocalFiles)
	assert.Equal(t, 0, mat.callCount())

	// Polling stopped on the first tick.
	calls := fetcher.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount())
}

func TestScheduler_AttemptBudgetExhaustion(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []json.RawMessage{pendingPayload()}}
	reg := registry.New(discardLogger())
	mat := &countingMaterializer{}
	s := newTestScheduler(fetcher, reg, mat, 3)

	require.True(t, s.Start("task-1"))

	require.Eventually(t, func() bool {
		return !s.Active("task-1")
	}, 2*time.Second, 5*time.Millisecond)

	// Status stays at the last observed, non-terminal value.
	state, ok := reg.Get("task-1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, state.Status)
	assert.False(t, state.Downloaded)
	assert.Equal(t, 0, mat.callCount())
	assert.Equal(t, 3, fetcher.callCount())

	// The ceiling stays respected after release.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 3, fetcher.callCount())
}

func TestScheduler_TransientFetchErrorsDoNotStopPolling(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []json.RawMessage{
		nil, // network failure
		nil, // network failure
		successPayload(),
	}}
	reg := registry.New(discardLogger())
	mat := &countingMaterializer{}
	s := newTestScheduler(fetcher, reg, mat, 1000)

	require.True(t, s.Start("task-1"))

	require.Eventually(t, func() bool {
		state, ok := reg.Get("task-1")
		return ok && state.Downloaded
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, mat.callCount())
	assert.GreaterOrEqual(t, fetcher.callCount(), 3)
}

func TestScheduler_MalformedPayloadKeepsPolling(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []json.RawMessage{
		json.RawMessage(`<html>bad gateway</html>`),
		successPayload(),
	}}
	reg := registry.New(discardLogger())
	mat := &countingMaterializer{}
	s := newTestScheduler(fetcher, reg, mat, 1000)

	require.True(t, s.Start("task-1"))

	require.Eventually(t, func() bool {
		state, ok := reg.Get("task-1")
		return ok && state.Downloaded
	}, 2*time.Second, 5*time.Millisecond)

	// The malformed tick was recorded as UNKNOWN, not treated as fatal.
	assert.Equal(t, 1, mat.callCount())
}

func TestScheduler_ConsecutiveTerminalTicksMaterializeOnce(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []json.RawMessage{successPayload()}}
	reg := registry.New(discardLogger())
	mat := &countingMaterializer{}
	s := newTestScheduler(fetcher, reg, mat, 1000)

	// Drive ticks directly against one poller handle to simulate a
	// terminal status observed twice in a row.
	p := &poller{taskID: "task-1", cancel: func() {}, state: StateRunning}
	logger := discardLogger()

	assert.True(t, s.tick(context.Background(), p, logger))
	assert.True(t, s.tick(context.Background(), p, logger))

	assert.Equal(t, 1, mat.callCount(), "second terminal tick must not materialize again")
	assert.Equal(t, StateCompleted, p.currentState())
}

func TestScheduler_StopAllPreventsFurtherTicks(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []json.RawMessage{pendingPayload()}}
	reg := registry.New(discardLogger())
	mat := &countingMaterializer{}
	s := newTestScheduler(fetcher, reg, mat, 1000)

	require.True(t, s.Start("task-1"))
	require.True(t, s.Start("task-2"))
	require.Eventually(t, func() bool {
		return fetcher.callCount() >= 2
	}, 2*time.Second, time.Millisecond)

	s.StopAll()
	assert.Equal(t, 0, s.ActiveCount())

	// A cancelled ticker must not fire again.
	calls := fetcher.callCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, fetcher.callCount())
	assert.Equal(t, 0, mat.callCount())
}

func TestScheduler_StopAllCancelsConcurrentStarts(t *testing.T) {
	t.Parallel()

	// Whatever way Start and StopAll interleave, StopAll must never be
	// left waiting on a poller it could not cancel.
	for i := 0; i < 25; i++ {
		fetcher := &scriptedFetcher{responses: []json.RawMessage{pendingPayload()}}
		reg := registry.New(discardLogger())
		mat := &countingMaterializer{}
		s := newTestScheduler(fetcher, reg, mat, 1000)

		var starts sync.WaitGroup
		for j := 0; j < 4; j++ {
			j := j
			starts.Add(1)
			go func() {
				defer starts.Done()
				s.Start(fmt.Sprintf("task-%d", j))
			}()
		}

		done := make(chan struct{})
		go func() {
			s.StopAll()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("StopAll blocked on a poller it failed to cancel")
		}
		starts.Wait()

		assert.Equal(t, 0, s.ActiveCount())

		calls := fetcher.callCount()
		time.Sleep(15 * time.Millisecond)
		assert.Equal(t, calls, fetcher.callCount(), "no poll may fire after StopAll returns")
	}
}

// gatedMaterializer blocks inside Materialize until released, letting
// tests observe the scheduler while a download is in flight.
type gatedMaterializer struct {
	countingMaterializer
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (m *gatedMaterializer) Materialize(
	ctx context.Context,
	taskID string,
	assets []domain.Asset,
) ([]domain.LocalFile, error) {
	m.once.Do(func() { close(m.entered) })
	<-m.release
	return m.countingMaterializer.Materialize(ctx, taskID, assets)
}

func TestScheduler_StartDuringMaterializationIsNoOp(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []json.RawMessage{successPayload()}}
	reg := registry.New(discardLogger())
	mat := &gatedMaterializer{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	s := newTestScheduler(fetcher, reg, mat, 1000)

	require.True(t, s.Start("task-1"))

	select {
	case <-mat.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("materialization never started")
	}

	// The handle stays registered while the download runs, so a second
	// poller cannot be created and race a concurrent download into the
	// same task directory.
	assert.False(t, s.Start("task-1"))
	assert.True(t, s.Active("task-1"))

	close(mat.release)

	require.Eventually(t, func() bool {
		return !s.Active("task-1")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, mat.callCount())

	state, ok := reg.Get("task-1")
	require.True(t, ok)
	assert.True(t, state.Downloaded)

	// With the download finished the task may be tracked again.
	assert.True(t, s.Start("task-1"))
	s.StopAll()
}

func TestScheduler_RestartAfterReleaseAllowed(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{responses: []json.RawMessage{
		json.RawMessage(`{"status":"CREATE_TASK_FAILED"}`),
	}}
	reg := registry.New(discardLogger())
	mat := &countingMaterializer{}
	s := newTestScheduler(fetcher, reg, mat, 1000)

	require.True(t, s.Start("task-1"))
	require.Eventually(t, func() bool {
		return !s.Active("task-1")
	}, 2*time.Second, 5*time.Millisecond)

	// Once the handle is released a fresh poller may be created.
	assert.True(t, s.Start("task-1"))
	s.StopAll()
}
