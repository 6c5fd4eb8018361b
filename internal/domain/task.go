package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// TaskStatus is the canonical status of a generation task as reported by
// the upstream API, upper-cased and normalized.
type TaskStatus string

// Statuses reported by the upstream generation API.
const (
	StatusPending             TaskStatus = "PENDING"
	StatusTextSuccess         TaskStatus = "TEXT_SUCCESS"
	StatusFirstSuccess        TaskStatus = "FIRST_SUCCESS"
	StatusSuccess             TaskStatus = "SUCCESS"
	StatusCreateTaskFailed    TaskStatus = "CREATE_TASK_FAILED"
	StatusGenerateAudioFailed TaskStatus = "GENERATE_AUDIO_FAILED"
	StatusCallbackException   TaskStatus = "CALLBACK_EXCEPTION"
	StatusSensitiveWordError  TaskStatus = "SENSITIVE_WORD_ERROR"

	// StatusUnknown is used when a payload carries no recognizable status.
	// It is non-terminal: the poller keeps going.
	StatusUnknown TaskStatus = "UNKNOWN"
)

// Common validation errors for task records.
var (
	ErrEmptyTaskID = errors.New("task ID cannot be empty")
)

// ParseStatus normalizes a raw status string into a TaskStatus.
// Unrecognized but non-empty values are preserved verbatim (upper-cased)
// so that new upstream statuses degrade to non-terminal rather than
// breaking the poll loop. Empty input yields StatusUnknown.
func ParseStatus(raw string) TaskStatus {
	if strings.TrimSpace(raw) == "" {
		return StatusUnknown
	}
	return TaskStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// IsTerminalSuccess reports whether the status means the task finished and
// its assets are ready to download. FIRST_SUCCESS is treated as fully
// downloadable, same as SUCCESS.
func (s TaskStatus) IsTerminalSuccess() bool {
	return s == StatusSuccess || s == StatusFirstSuccess
}

// IsTerminalError reports whether the status means the upstream gave up on
// the task. No assets will ever be produced.
func (s TaskStatus) IsTerminalError() bool {
	switch s {
	case StatusCreateTaskFailed, StatusGenerateAudioFailed,
		StatusCallbackException, StatusSensitiveWordError:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether polling should stop for this status.
func (s TaskStatus) IsTerminal() bool {
	return s.IsTerminalSuccess() || s.IsTerminalError()
}

// AssetKind identifies which of a track's media files an Asset refers to.
type AssetKind string

// Asset kinds produced per generated track.
const (
	AssetAudio       AssetKind = "audio"
	AssetAudioSource AssetKind = "audio_source"
	AssetCover       AssetKind = "cover"
	AssetCoverSource AssetKind = "cover_source"
)

// IsAudio reports whether the kind refers to an audio stream rather than
// cover art.
func (k AssetKind) IsAudio() bool {
	return k == AssetAudio || k == AssetAudioSource
}

// Asset describes one downloadable media file referenced by an upstream
// status payload. Assets are ephemeral: each poll replaces the previous
// list wholesale.
type Asset struct {
	Kind      AssetKind `json:"kind"`
	SourceURL string    `json:"source_url"`
	Ordinal   int       `json:"ordinal"` // 1-based track index
	Title     string    `json:"title"`
}

// LocalFile describes one asset persisted to the storage root by the
// materializer.
type LocalFile struct {
	Kind        AssetKind `json:"kind"`
	Path        string    `json:"path"` // absolute path on disk
	DisplayName string    `json:"display_name"`
}

// TaskState is the registry's record of everything known about one
// generation task. It is the single source of truth for status queries.
type TaskState struct {
	TaskID     string          `json:"task_id"`
	Status     TaskStatus      `json:"status"`
	LastRaw    json.RawMessage `json:"last_raw,omitempty"` // verbatim upstream payload, kept for diagnostics
	UpdatedAt  time.Time       `json:"updated_at"`
	Assets     []Asset         `json:"assets"`
	Downloaded bool            `json:"downloaded"`
	LocalFiles []LocalFile     `json:"local_files"`
}

// Clone returns a deep copy of the state so callers can read it without
// holding the registry lock.
func (t TaskState) Clone() TaskState {
	out := t
	if t.LastRaw != nil {
		out.LastRaw = append(json.RawMessage(nil), t.LastRaw...)
	}
	if t.Assets != nil {
		out.Assets = append([]Asset(nil), t.Assets...)
	}
	if t.LocalFiles != nil {
		out.LocalFiles = append([]LocalFile(nil), t.LocalFiles...)
	}
	return out
}
