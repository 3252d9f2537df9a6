// Package engine runs the task lifecycle of the class and student
// sessions. Each session owns an ordered task registry served by a single
// goroutine, a poller that drives remote jobs to a terminal status, and a
// progress estimator. Batches are planned and dispatched through the
// dispatch package; status changes are fanned out through an EventBroker
// and completed batches are archived to the store.
package engine
