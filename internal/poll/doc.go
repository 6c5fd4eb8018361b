// Package poll manages the repeating per-task status pollers. It enforces
// at most one active poller per task, a fixed polling cadence with a
// bounded attempt budget, and exactly-once materialization when a task
// reaches a terminal success status. Poller lifecycle is modeled as an
// explicit state machine (idle, running, cancelled, completed) so that
// cancellation cannot race an in-flight tick.
package poll
