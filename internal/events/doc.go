// Package events provides a minimal in-process event system decoupling
// the service layer from the poll scheduler: submitting or discovering a
// task emits a poll request event, and a handler wired at startup starts
// the poller.
package events
