package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/corvida/tunevault/internal/config"
	"github.com/corvida/tunevault/internal/events"
	"github.com/corvida/tunevault/internal/materialize"
	"github.com/corvida/tunevault/internal/poll"
	"github.com/corvida/tunevault/internal/registry"
	"github.com/corvida/tunevault/internal/service"
	"github.com/corvida/tunevault/internal/upstream"
)

// PollRequestHandler starts a poller when the service layer requests
// tracking for a task. Start is idempotent, so duplicate requests for the
// same task are harmless.
type PollRequestHandler struct {
	scheduler *poll.Scheduler
	logger    *slog.Logger
}

// HandleEvent processes poll request events by starting the task's poller.
func (h *PollRequestHandler) HandleEvent(ctx context.Context, event *events.Event) error {
	if event.Type != events.EventTypeTaskPoll {
		h.logger.Debug("ignoring event with unsupported type",
			"event_type", event.Type, "event_id", event.ID)
		return nil
	}

	var payload events.TaskPollPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		h.logger.Error("failed to unmarshal poll request payload",
			"error", err, "event_id", event.ID)
		return fmt.Errorf("failed to unmarshal poll request payload: %w", err)
	}
	if payload.TaskID == "" {
		h.logger.Error("poll request event without task ID", "event_id", event.ID)
		return fmt.Errorf("poll request event %s has no task ID", event.ID)
	}

	if h.scheduler.Start(payload.TaskID) {
		h.logger.Info("poller started",
			"task_id", payload.TaskID, "event_id", event.ID)
	}
	return nil
}

// application holds the shared application dependencies to simplify
// wiring and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger

	registry     *registry.Registry
	upstream     *upstream.Client
	materializer *materialize.Materializer
	scheduler    *poll.Scheduler
	eventEmitter events.EventEmitter
	taskService  *service.TaskService

	// Shared client for streaming remote assets through the download
	// endpoint.
	assetClient *http.Client
}

// newApplication creates an application instance with all dependencies
// initialized and the poll request handler registered.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	app.registry = registry.New(logger)
	app.upstream = upstream.New(cfg.Upstream, logger)
	app.assetClient = &http.Client{
		Timeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	}
	app.materializer = materialize.New(cfg.Storage.AudioDir, app.assetClient, logger)

	app.scheduler = poll.NewScheduler(
		app.upstream,
		app.registry,
		app.materializer,
		poll.SchedulerConfig{
			Interval:    time.Duration(cfg.Poll.IntervalSeconds) * time.Second,
			MaxAttempts: cfg.Poll.MaxAttempts,
		},
		logger,
	)

	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(&PollRequestHandler{
		scheduler: app.scheduler,
		logger:    logger.With("component", "poll_request_handler"),
	})
	app.eventEmitter = emitter

	var err error
	app.taskService, err = service.NewTaskService(
		app.registry,
		app.upstream,
		app.eventEmitter,
		app.materializer,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task service: %w", err)
	}

	logger.Info("application initialized")
	return app, nil
}

// Run starts the HTTP server and blocks until shutdown.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup handles graceful shutdown of application resources. Active
// pollers are cancelled and waited for so no materialization is cut off
// mid-write.
func (app *application) cleanup() {
	if app.scheduler != nil {
		app.scheduler.StopAll()
	}
	app.logger.Info("application shutdown completed",
		"tracked_tasks", app.registry.Len())
}
