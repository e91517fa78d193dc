package transfer

import (
	"path/filepath"
	"strings"

	"github.com/javanstorm/vmxfer/pkg/hypervisor"
)

// Direction is the way a transfer moves a VM.
type Direction string

const (
	DirectionExport Direction = "export" // Live VM to payload files
	DirectionImport Direction = "import" // Payload files to live VM
)

// ParseDirection validates a direction name.
func ParseDirection(s string) (Direction, bool) {
	switch Direction(s) {
	case DirectionExport, DirectionImport:
		return Direction(s), true
	}
	return "", false
}

// Request describes a transfer as asked for by the caller.
type Request struct {
	// ID identifies the transfer in logs and history. Generated when empty.
	ID string

	Direction Direction

	// Source is the VM name for an export and the payload folder for an import.
	Source string

	// Destination is the folder the payload is written into (export) or the
	// folder the imported VM's files should live in (import).
	Destination string

	// TargetName names the resulting entity: the payload folder for an
	// export, the registered VM for an import. Defaults to the source VM's
	// name.
	TargetName string

	// Import options.
	ImportMode    hypervisor.ImportMode
	GenerateNewID bool

	// Export options.
	CaptureLiveState string
}

// sourceName is the entity name known from the request alone: the VM name for
// an export, the payload folder name for an import. Preflight replaces the
// latter with the name in the payload's configuration when it can read one.
func (r *Request) sourceName() string {
	if r.Direction == DirectionImport {
		return filepath.Base(strings.TrimRight(r.Source, `\/`))
	}
	return r.Source
}

// Plan is a request that passed preflight. It is not modified afterwards.
type Plan struct {
	Request Request

	// Destination is the resolved destination directory.
	Destination string

	// TargetName is the conflict-free target name.
	TargetName string

	// ExportRoot is the directory handed to the platform's export call. It
	// differs from Destination when the payload was renamed.
	ExportRoot string

	// PayloadPath is where the export payload is written (export) or read
	// from (import).
	PayloadPath string

	// ConfigPath is the VM configuration inside an import payload.
	ConfigPath string

	// SourceVM is the exported VM (export only).
	SourceVM *hypervisor.Entity

	// JobTarget is the entity name the management job is expected to mention.
	JobTarget string

	Space SpaceRequirement

	// SpaceChecked is false when the destination was network-addressed.
	SpaceChecked bool
}
