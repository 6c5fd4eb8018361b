package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/corvida/tunevault/internal/api/shared"
	"github.com/corvida/tunevault/internal/domain"
	"github.com/corvida/tunevault/internal/platform/logger"
	"github.com/corvida/tunevault/internal/service"
)

// GenerationService is the handler's view of the task service. Satisfied
// by *service.TaskService.
type GenerationService interface {
	SubmitGeneration(ctx context.Context, payload any) (domain.TaskState, error)
	GetTaskState(ctx context.Context, taskID string) (domain.TaskState, error)
	ResolveAsset(ctx context.Context, taskID, sourceURL string) (service.AssetResolution, error)
}

// GenerateRequest is the request body for submitting a generation task.
// It is forwarded to the generation API as-is after validation.
type GenerateRequest struct {
	Prompt       string `json:"prompt"                validate:"required,max=3000"`
	Style        string `json:"style,omitempty"       validate:"max=200"`
	Title        string `json:"title,omitempty"       validate:"max=80"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model,omitempty"       validate:"max=40"`
	NegativeTags string `json:"negativeTags,omitempty" validate:"max=200"`
}

// AssetResponse describes one asset discovered for a task.
type AssetResponse struct {
	Kind      string `json:"kind"`
	SourceURL string `json:"source_url"`
	Ordinal   int    `json:"ordinal"`
	Title     string `json:"title,omitempty"`
}

// FileResponse describes one locally materialized file.
type FileResponse struct {
	Kind     string `json:"kind"`
	Filename string `json:"filename"`
}

// TaskResponse is the client-facing view of a tracked task.
type TaskResponse struct {
	TaskID     string          `json:"task_id"`
	Status     string          `json:"status"`
	Terminal   bool            `json:"terminal"`
	Downloaded bool            `json:"downloaded"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Assets     []AssetResponse `json:"assets,omitempty"`
	Files      []FileResponse  `json:"files,omitempty"`
}

// TaskHandler handles generation and task tracking HTTP requests.
type TaskHandler struct {
	service GenerationService
	client  *http.Client
	logger  *slog.Logger
}

// NewTaskHandler creates a TaskHandler. The HTTP client is used to stream
// remote assets that have not been materialized yet; nil gets a default.
func NewTaskHandler(svc GenerationService, client *http.Client, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}

	return &TaskHandler{
		service: svc,
		client:  client,
		logger:  logger.With(slog.String("component", "task_handler")),
	}
}

// Generate handles POST /generate requests. It validates the request,
// submits it to the generation API, and returns the freshly tracked task.
func (h *TaskHandler) Generate(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req GenerateRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		log.Debug("invalid generate request body", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		log.Debug("generate request failed validation", slog.String("error", err.Error()))
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation error: prompt is required")
		return
	}

	state, err := h.service.SubmitGeneration(r.Context(), req)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Info("generation task submitted",
		slog.String("task_id", state.TaskID),
		slog.String("status", string(state.Status)))
	shared.RespondWithJSON(w, r, http.StatusAccepted, taskToResponse(state))
}

// GetTask handles GET /tasks/{taskID} requests, serving the tracked state
// cache-first.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}

	state, err := h.service.GetTaskState(r.Context(), taskID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	log.Debug("task state served", slog.String("task_id", taskID))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(state))
}

// DownloadAsset handles GET /tasks/{taskID}/download requests. The
// optional url query parameter selects a specific asset by its source
// URL. Materialized files are served from disk; otherwise the remote URL
// is streamed through.
func (h *TaskHandler) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID := chi.URLParam(r, "taskID")
	if taskID == "" {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Task ID is required")
		return
	}
	sourceURL := r.URL.Query().Get("url")

	res, err := h.service.ResolveAsset(r.Context(), taskID, sourceURL)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	if res.Remote() {
		h.streamRemote(w, r, res, log)
		return
	}

	log.Debug("serving materialized asset",
		slog.String("task_id", taskID),
		slog.String("filename", res.Filename))
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(res.Filename))
	http.ServeFile(w, r, res.LocalPath)
}

// streamRemote proxies an asset that has not been materialized yet
// directly from its remote URL.
func (h *TaskHandler) streamRemote(w http.ResponseWriter, r *http.Request, res service.AssetResolution, log *slog.Logger) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, res.RemoteURL, nil)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			http.StatusBadRequest, "Invalid asset URL", err)
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r,
			http.StatusBadGateway, "Failed to fetch remote asset", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		shared.RespondWithError(w, r, http.StatusBadGateway, "Remote asset unavailable")
		return
	}

	log.Debug("streaming remote asset", slog.String("filename", res.Filename))
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(res.Filename))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, resp.Body); err != nil {
		// Headers are already out, all we can do is log.
		log.Warn("remote asset stream interrupted", slog.String("error", err.Error()))
	}
}

// taskToResponse converts a domain task state to its API representation.
func taskToResponse(state domain.TaskState) TaskResponse {
	resp := TaskResponse{
		TaskID:     state.TaskID,
		Status:     string(state.Status),
		Terminal:   state.Status.IsTerminal(),
		Downloaded: state.Downloaded,
		UpdatedAt:  state.UpdatedAt,
	}
	for _, a := range state.Assets {
		resp.Assets = append(resp.Assets, AssetResponse{
			Kind:      string(a.Kind),
			SourceURL: a.SourceURL,
			Ordinal:   a.Ordinal,
			Title:     a.Title,
		})
	}
	for _, f := range state.LocalFiles {
		resp.Files = append(resp.Files, FileResponse{
			Kind:     string(f.Kind),
			Filename: f.DisplayName,
		})
	}
	return resp
}
