package transfer

import (
	"fmt"
	"time"
)

// State is a transfer's position in its lifecycle. A transfer moves through
// preflight, starting and running exactly once and ends in exactly one of
// StateSucceeded or StateFailed.
type State int

const (
	StatePreflight State = iota
	StateStarting
	StateRunningJobUnknown
	StateRunningJobTracked
	StateRunningHeuristic
	StateTerminating
	StateSucceeded
	StateFailed
)

var stateNames = [...]string{
	StatePreflight:         "Preflight",
	StateStarting:          "Starting",
	StateRunningJobUnknown: "RunningJobUnknown",
	StateRunningJobTracked: "RunningJobTracked",
	StateRunningHeuristic:  "RunningHeuristic",
	StateTerminating:       "Terminating",
	StateSucceeded:         "Succeeded",
	StateFailed:            "Failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// IsTerminal reports whether no further transitions can happen.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ParseState is the inverse of State.String.
func ParseState(label string) (State, error) {
	for i, name := range stateNames {
		if name == label {
			return State(i), nil
		}
	}
	return 0, fmt.Errorf("unknown transfer state %q", label)
}

// Tracking says how progress is currently being measured. Exactly one of
// TrackingUnknown, TrackingTracked or TrackingHeuristic.
type Tracking interface {
	trackingLabel() string
}

// TrackingUnknown: the management job has not been located yet.
type TrackingUnknown struct{}

// TrackingTracked: progress comes from the pinned job.
type TrackingTracked struct {
	JobID string
}

// TrackingHeuristic: discovery gave up; progress is estimated until the end.
type TrackingHeuristic struct{}

func (TrackingUnknown) trackingLabel() string   { return "unknown" }
func (TrackingTracked) trackingLabel() string   { return "tracked" }
func (TrackingHeuristic) trackingLabel() string { return "heuristic" }

// TrackingLabel names a tracking mode for display and storage.
func TrackingLabel(t Tracking) string {
	if t == nil {
		return TrackingUnknown{}.trackingLabel()
	}
	return t.trackingLabel()
}

// Status is a snapshot of a transfer, handed to the Recorder on every state
// transition.
type Status struct {
	ID          string
	Direction   Direction
	Source      string
	Destination string
	Target      string
	State       State
	Tracking    string
	JobID       string
	Percent     int
	StartedAt   time.Time
	FinishedAt  time.Time
	Failure     *Error
}

// Recorder persists transfer snapshots.
type Recorder interface {
	Record(status Status) error
}

// MultiRecorder hands each status to every recorder in order and returns the
// first error.
type MultiRecorder []Recorder

func (m MultiRecorder) Record(status Status) error {
	var first error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(status); err != nil && first == nil {
			first = err
		}
	}
	return first
}
