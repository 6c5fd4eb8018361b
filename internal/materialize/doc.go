// Package materialize persists the media assets of finished generation
// tasks to local storage, one subdirectory per task. Materialization is
// safe to re-run: existing non-empty files are kept, and each asset
// download is isolated from failures of its siblings.
package materialize
