// Package service contains the application service layer between the HTTP
// handlers and the task tracking core: submission, cache-first state
// queries, and asset download resolution.
package service
