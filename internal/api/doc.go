// Package api provides the HTTP handlers for the proxy: generation
// submission, task state queries, and asset downloads.
package api
