// Package transfer runs VM exports and imports as supervised operations.
//
// A transfer passes a synchronous preflight gate (destination, name conflict,
// free space), then launches a worker that performs the platform call while a
// reconciler polls the worker and, once located, the platform's management
// job. The two signals are merged into one ordered stream of ProgressEvents
// and a single Outcome. A nominal success is post-processed by the finalizer,
// which can still turn it into an integrity failure.
package transfer
