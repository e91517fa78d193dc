package transfer

import (
	"time"

	"github.com/javanstorm/vmxfer/pkg/hypervisor"
)

// Source tags where a progress percent came from.
type Source string

const (
	SourceTracked   Source = "tracked"   // Read from the management job
	SourceHeuristic Source = "heuristic" // Estimated from size or elapsed time
)

// PhasePreflight labels progress emitted before the transfer starts. Later
// events carry the direction as their phase.
const PhasePreflight = "preflight"

// ProgressEvent is one entry of a transfer's progress stream.
type ProgressEvent struct {
	TransferID string    `json:"transfer_id"`
	Percent    int       `json:"percent"`
	Phase      string    `json:"phase"`
	Source     Source    `json:"source"`
	Message    string    `json:"message"`
	Time       time.Time `json:"time"`
}

// Emitter receives progress events in order, from a single goroutine.
type Emitter interface {
	Emit(event ProgressEvent)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event ProgressEvent)

func (f EmitterFunc) Emit(event ProgressEvent) { f(event) }

// discardEmitter drops every event.
type discardEmitter struct{}

func (discardEmitter) Emit(ProgressEvent) {}

// Outcome is the terminal value of a transfer: exactly one of Entity (success)
// or Failure is set.
type Outcome struct {
	TransferID string
	Entity     *hypervisor.Entity
	// Location is the payload folder written by an export or the storage
	// root of an imported VM. Empty on failure.
	Location string
	Failure  *Error
}

// Succeeded reports whether the transfer succeeded.
func (o Outcome) Succeeded() bool {
	return o.Failure == nil
}

// Err returns the failure, or nil on success.
func (o Outcome) Err() *Error {
	return o.Failure
}
