package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"

	"github.com/corvida/tunevault/internal/domain"
	"github.com/corvida/tunevault/internal/events"
	"github.com/corvida/tunevault/internal/normalize"
	"github.com/corvida/tunevault/internal/registry"
)

// Common errors returned by the TaskService.
var (
	// ErrAssetNotAvailable is returned when neither a local file nor a
	// remote URL can satisfy an asset retrieval request.
	ErrAssetNotAvailable = errors.New("no asset available for task")
)

// UpstreamClient is the service's view of the remote generation API.
// Satisfied by *upstream.Client.
type UpstreamClient interface {
	Submit(ctx context.Context, payload any) (string, json.RawMessage, error)
	QueryStatus(ctx context.Context, taskID string) (json.RawMessage, error)
}

// AssetLocator derives the stable local path for an asset. Satisfied by
// *materialize.Materializer.
type AssetLocator interface {
	LocalPathFor(taskID string, asset domain.Asset) string
}

// AssetResolution is the outcome of resolving a download request: either a
// local file to serve or, as a last resort, a remote URL to stream
// through.
type AssetResolution struct {
	LocalPath string
	RemoteURL string
	Filename  string
}

// Remote reports whether the resolution requires streaming the remote URL.
func (r AssetResolution) Remote() bool {
	return r.LocalPath == "" && r.RemoteURL != ""
}

// TaskService implements the client-facing operations: submitting
// generation requests, serving task state cache-first, and resolving
// asset downloads.
type TaskService struct {
	registry *registry.Registry
	client   UpstreamClient
	emitter  events.EventEmitter
	locator  AssetLocator
	logger   *slog.Logger
}

// NewTaskService creates a TaskService, validating that all dependencies
// are provided.
func NewTaskService(
	reg *registry.Registry,
	client UpstreamClient,
	emitter events.EventEmitter,
	locator AssetLocator,
	logger *slog.Logger,
) (*TaskService, error) {
	if reg == nil {
		return nil, errors.New("registry cannot be nil")
	}
	if client == nil {
		return nil, errors.New("upstream client cannot be nil")
	}
	if emitter == nil {
		return nil, errors.New("event emitter cannot be nil")
	}
	if locator == nil {
		return nil, errors.New("asset locator cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	return &TaskService{
		registry: reg,
		client:   client,
		emitter:  emitter,
		locator:  locator,
		logger:   logger.With("component", "task_service"),
	}, nil
}

// SubmitGeneration forwards a generation request upstream, seeds the
// registry from the submission response, and requests polling for the new
// task.
func (s *TaskService) SubmitGeneration(ctx context.Context, payload any) (domain.TaskState, error) {
	taskID, raw, err := s.client.Submit(ctx, payload)
	if err != nil {
		return domain.TaskState{}, fmt.Errorf("failed to submit generation request: %w", err)
	}

	status, assets := normalize.Normalize(raw)
	if status == domain.StatusUnknown {
		// A fresh submission with no status field is simply pending.
		status = domain.StatusPending
	}

	state := s.registry.Upsert(taskID, status, raw, assets)
	s.requestPolling(ctx, taskID)
	return state, nil
}

// GetTaskState returns the task's state, registry-first. On a cache miss
// it performs one synchronous upstream fetch, records the observation,
// lazily requests a poller, and returns the freshly observed state.
func (s *TaskService) GetTaskState(ctx context.Context, taskID string) (domain.TaskState, error) {
	if state, ok := s.registry.Get(taskID); ok {
		return state, nil
	}

	raw, err := s.client.QueryStatus(ctx, taskID)
	if err != nil {
		return domain.TaskState{}, fmt.Errorf("failed to fetch task state: %w", err)
	}

	status, assets := normalize.Normalize(raw)
	state := s.registry.Upsert(taskID, status, raw, assets)

	// The poller takes it from here, including materialization when the
	// fetched status is already terminal success.
	s.requestPolling(ctx, taskID)

	return state, nil
}

// ResolveAsset resolves a download request: the matching local file when
// materialized, else the first available local audio file, else the
// remote URL as a last resort.
func (s *TaskService) ResolveAsset(ctx context.Context, taskID, sourceURL string) (AssetResolution, error) {
	state, err := s.GetTaskState(ctx, taskID)
	if err != nil && sourceURL == "" {
		return AssetResolution{}, err
	}

	if state.Downloaded {
		if sourceURL != "" {
			if res, ok := s.matchLocal(state, sourceURL); ok {
				return res, nil
			}
		}
		for _, f := range state.LocalFiles {
			if f.Kind.IsAudio() {
				return AssetResolution{LocalPath: f.Path, Filename: f.DisplayName}, nil
			}
		}
	}

	if sourceURL != "" {
		return AssetResolution{
			RemoteURL: sourceURL,
			Filename:  remoteFilename(sourceURL),
		}, nil
	}

	return AssetResolution{}, fmt.Errorf("%w: %s", ErrAssetNotAvailable, taskID)
}

// matchLocal finds the local file materialized from the given source URL.
func (s *TaskService) matchLocal(state domain.TaskState, sourceURL string) (AssetResolution, bool) {
	for _, asset := range state.Assets {
		if asset.SourceURL != sourceURL {
			continue
		}
		want := s.locator.LocalPathFor(state.TaskID, asset)
		for _, f := range state.LocalFiles {
			if f.Path == want {
				return AssetResolution{LocalPath: f.Path, Filename: f.DisplayName}, true
			}
		}
	}
	return AssetResolution{}, false
}

// requestPolling emits a poll request event. Emission failures are logged
// rather than surfaced: the client still gets the state it asked for.
func (s *TaskService) requestPolling(ctx context.Context, taskID string) {
	event, err := events.NewEvent(events.EventTypeTaskPoll, events.TaskPollPayload{TaskID: taskID})
	if err != nil {
		s.logger.Error("failed to create poll request event", "task_id", taskID, "error", err)
		return
	}
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.logger.Error("failed to emit poll request event", "task_id", taskID, "error", err)
	}
}

// remoteFilename derives an attachment filename from the URL's last path
// segment, falling back to a generic name.
func remoteFilename(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}
