package hypervisor

import "fmt"

// JobState represents the lifecycle state of a management job.
type JobState int

const (
	JobNew JobState = iota
	JobRunning
	JobSuspended
	JobCompleted  // Finished successfully
	JobTerminated // Stopped on request
	JobKilled     // Stopped forcefully
	JobError      // Finished with an error
)

func (s JobState) String() string {
	switch s {
	case JobNew:
		return "New"
	case JobRunning:
		return "Running"
	case JobSuspended:
		return "Suspended"
	case JobCompleted:
		return "Completed"
	case JobTerminated:
		return "Terminated"
	case JobKilled:
		return "Killed"
	case JobError:
		return "Error"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether the job will not change state again.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobCompleted, JobTerminated, JobKilled, JobError:
		return true
	}
	return false
}

// MarshalText implements encoding.TextMarshaler.
func (s JobState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *JobState) UnmarshalText(text []byte) error {
	parsed, err := ParseJobState(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseJobState parses a state label as produced by String.
func ParseJobState(label string) (JobState, error) {
	for s := JobNew; s <= JobError; s++ {
		if s.String() == label {
			return s, nil
		}
	}
	return JobNew, fmt.Errorf("hypervisor: unknown job state %q", label)
}

// JobStateFromCIM maps a CIM_ConcreteJob JobState code onto a JobState.
// Transitional codes (Starting, Shutting Down, Service) count as running.
func JobStateFromCIM(code int) JobState {
	switch code {
	case 2:
		return JobNew
	case 3, 4, 6, 11:
		return JobRunning
	case 5:
		return JobSuspended
	case 7:
		return JobCompleted
	case 8:
		return JobTerminated
	case 9:
		return JobKilled
	case 10:
		return JobError
	default:
		return JobRunning
	}
}
