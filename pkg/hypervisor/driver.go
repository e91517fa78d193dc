// Package hypervisor provides a unified interface for moving virtual machines
// in and out of a hypervisor host (Hyper-V via PowerShell, or a local
// directory-backed store used for development and tests).
package hypervisor

import (
	"context"
	"time"
)

// Platform is the main interface for hypervisor operations.
// Driver implementations (hyperv, local) satisfy this interface.
type Platform interface {
	Transferer
	JobService
	Registry
	Info() Info
}

// Transferer performs the long-running export and import calls.
// Both block until the platform call returns.
type Transferer interface {
	// Export writes the VM's configuration and disks under spec.Path.
	Export(ctx context.Context, spec ExportSpec) (*Entity, error)

	// Import registers a VM from an export payload.
	Import(ctx context.Context, spec ImportSpec) (*Entity, error)
}

// JobService exposes the platform's management jobs.
type JobService interface {
	// ListJobs returns every management job currently known to the host.
	ListJobs(ctx context.Context) ([]Job, error)

	// GetJob fetches a single job by its stable identifier.
	// Returns ErrJobNotFound once the host has forgotten the job.
	GetJob(ctx context.Context, id string) (*Job, error)

	// CancelJob asks the host to stop a running job.
	CancelJob(ctx context.Context, id string) error
}

// Registry is the host's inventory of registered VMs.
type Registry interface {
	// FindVM returns ErrVMNotFound when no VM has the given name.
	FindVM(ctx context.Context, name string) (*Entity, error)

	// GetVM looks a VM up by its identifier.
	GetVM(ctx context.Context, id string) (*Entity, error)

	RenameVM(ctx context.Context, id, newName string) error

	// MoveStorage relocates every file of the VM under path.
	MoveStorage(ctx context.Context, id, path string) error

	ListDisks(ctx context.Context, id string) ([]Disk, error)
}

// Lister is implemented by drivers that can enumerate every registered VM.
type Lister interface {
	ListVMs(ctx context.Context) ([]Entity, error)
}

// Entity is a VM registered with the host.
type Entity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Path  string `json:"path"` // Storage root of the VM's files
	State string `json:"state,omitempty"`
}

// Disk is a virtual hard disk attached to a VM.
type Disk struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// ExportSpec describes an export call.
type ExportSpec struct {
	// Name of the VM to export.
	Name string

	// Path is the directory the host creates the <Name> payload folder in.
	Path string

	// CaptureLiveState is passed through to the host ("", "CaptureSavedState",
	// "CaptureDataConsistentState", "CaptureCrashConsistentState").
	CaptureLiveState string
}

// ImportMode selects how an import treats the payload files.
type ImportMode string

const (
	// ImportCopy copies the payload to Destination and leaves the payload untouched.
	ImportCopy ImportMode = "copy"
	// ImportRegister registers the VM in place, using the payload files directly.
	ImportRegister ImportMode = "register"
	// ImportRestore moves the payload files into the host's default locations.
	ImportRestore ImportMode = "restore"
)

// ParseImportMode parses a mode name, defaulting to ImportCopy for "".
func ParseImportMode(s string) (ImportMode, error) {
	switch ImportMode(s) {
	case "", ImportCopy:
		return ImportCopy, nil
	case ImportRegister, ImportRestore:
		return ImportMode(s), nil
	default:
		return "", ErrInvalidImportMode
	}
}

// ImportSpec describes an import call.
type ImportSpec struct {
	// ConfigPath is the VM configuration file inside the payload.
	ConfigPath string

	// PayloadPath is the root of the export payload.
	PayloadPath string

	// Destination is where the VM's files should end up (copy mode).
	Destination string

	Mode ImportMode

	// GenerateNewID gives the imported VM a fresh identifier.
	GenerateNewID bool
}

// Info contains driver metadata.
type Info struct {
	Name    string // "hyperv" or "local"
	Version string
	Host    string // Host the driver talks to ("localhost" or the SSH host)
}

// Job is a platform management job tracking a long-running operation.
type Job struct {
	ID               string    `json:"id"`
	Caption          string    `json:"caption"`
	Description      string    `json:"description"`
	ElementName      string    `json:"element_name"`
	State            JobState  `json:"state"`
	PercentComplete  int       `json:"percent_complete"`
	StartTime        time.Time `json:"start_time"`
	ErrorDescription string    `json:"error_description,omitempty"`
}

// File is a regular file on the host, as seen from a transfer's payload or
// destination folder.
type File struct {
	Path string `json:"path"` // Host-native absolute path
	Rel  string `json:"rel"`  // Slash-separated path relative to the listed root
	Size int64  `json:"size"`
}
