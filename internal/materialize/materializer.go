package materialize

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/corvida/tunevault/internal/domain"
)

const (
	dirPermissions = 0o755

	// maxTitleLength caps the sanitized title segment of a filename.
	maxTitleLength = 60

	defaultDownloadTimeout = 60 * time.Second
)

// Materializer downloads the assets of a terminal-success task into a
// per-task subdirectory under the configured storage root. Downloads are
// idempotent: files that already exist non-empty are not fetched again,
// and a failure on one asset never aborts its siblings.
type Materializer struct {
	root   string
	client *http.Client
	logger *slog.Logger
}

// New creates a Materializer rooted at the given storage directory. If
// client is nil a default one with a bounded timeout is used.
func New(root string, client *http.Client, logger *slog.Logger) *Materializer {
	if client == nil {
		client = &http.Client{Timeout: defaultDownloadTimeout}
	}
	return &Materializer{
		root:   root,
		client: client,
		logger: logger.With("component", "materializer"),
	}
}

// Materialize downloads every asset to its stable local path and returns
// the descriptors of the files that are present afterwards. Assets that
// fail to download are logged and omitted; an empty input yields an empty
// result and no directory creation.
func (m *Materializer) Materialize(
	ctx context.Context,
	taskID string,
	assets []domain.Asset,
) ([]domain.LocalFile, error) {
	if len(assets) == 0 {
		return nil, nil
	}

	dir := m.TaskDir(taskID)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, errors.Wrapf(err, "creating task directory %s", dir)
	}

	logger := m.logger.With("task_id", taskID)

	var saved []domain.LocalFile
	for _, asset := range assets {
		dest := m.LocalPathFor(taskID, asset)

		if fileReady(dest) {
			logger.Debug("asset already materialized, skipping download",
				"kind", asset.Kind, "path", dest)
			saved = append(saved, localFile(asset, dest))
			continue
		}

		if err := m.download(ctx, asset.SourceURL, dest); err != nil {
			// Per-asset isolation: log and move on to the next asset.
			logger.Warn("asset download failed, skipping",
				"kind", asset.Kind,
				"url", asset.SourceURL,
				"error", err)
			continue
		}

		logger.Info("asset materialized", "kind", asset.Kind, "path", dest)
		saved = append(saved, localFile(asset, dest))
	}

	return saved, nil
}

// TaskDir returns the storage subdirectory for a task.
func (m *Materializer) TaskDir(taskID string) string {
	return filepath.Join(m.root, taskID)
}

// LocalPathFor derives the stable destination path for an asset without
// touching the filesystem. The name layout is
// {ordinal}_{sanitizedTitle}{kindSuffix}{ext}.
func (m *Materializer) LocalPathFor(taskID string, asset domain.Asset) string {
	name := fmt.Sprintf("%d_%s%s%s",
		asset.Ordinal,
		sanitizeTitle(asset.Title),
		kindSuffix(asset.Kind),
		extFor(asset.Kind, asset.SourceURL))
	return filepath.Join(m.TaskDir(taskID), name)
}

// download fetches one URL to dest, removing any partial file on failure
// so the exists-non-empty idempotency check stays trustworthy.
func (m *Materializer) download(ctx context.Context, sourceURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return errors.Wrap(err, "building download request")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "fetching asset")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected response status %d", resp.StatusCode)
	}

	file, err := os.Create(dest)
	if err != nil {
		return errors.Wrap(err, "creating destination file")
	}

	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(dest)
		return errors.Wrap(err, "writing asset to disk")
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(dest)
		return errors.Wrap(err, "closing destination file")
	}

	return nil
}

// fileReady reports whether dest already holds a non-empty file.
func fileReady(dest string) bool {
	info, err := os.Stat(dest)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

func localFile(asset domain.Asset, dest string) domain.LocalFile {
	return domain.LocalFile{
		Kind:        asset.Kind,
		Path:        dest,
		DisplayName: filepath.Base(dest),
	}
}

// kindSuffix returns the filename suffix distinguishing the asset kinds of
// one track. Primary audio carries no suffix.
func kindSuffix(kind domain.AssetKind) string {
	switch kind {
	case domain.AssetAudioSource:
		return "_source"
	case domain.AssetCover:
		return "_cover"
	case domain.AssetCoverSource:
		return "_cover_source"
	default:
		return ""
	}
}

// extFor infers the file extension from the URL path, defaulting to .mp3
// for audio kinds and .png for covers.
func extFor(kind domain.AssetKind, sourceURL string) string {
	fallback := ".png"
	if kind.IsAudio() {
		fallback = ".mp3"
	}

	u, err := url.Parse(sourceURL)
	if err != nil {
		return fallback
	}
	ext := path.Ext(u.Path)
	// Reject empty or implausibly long "extensions" from odd paths.
	if ext == "" || len(ext) > 6 {
		return fallback
	}
	return ext
}

// sanitizeTitle makes a track title safe for use in a filename: characters
// outside [A-Za-z0-9 _-] become underscores, the result is trimmed and
// length-capped, and an unusable title falls back to "track".
func sanitizeTitle(title string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, title)

	mapped = strings.TrimSpace(mapped)
	if len(mapped) > maxTitleLength {
		mapped = mapped[:maxTitleLength]
		mapped = strings.TrimSpace(mapped)
	}
	if mapped == "" {
		return "track"
	}
	return mapped
}
