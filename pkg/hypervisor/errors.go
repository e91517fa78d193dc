package hypervisor

import "errors"

// Configuration errors
var (
	ErrUnknownBackend    = errors.New("hypervisor: backend must be 'hyperv' or 'local'")
	ErrMissingRoot       = errors.New("hypervisor: local backend requires a root directory")
	ErrMissingSSHUser    = errors.New("hypervisor: ssh user is required when ssh host is set")
	ErrInvalidImportMode = errors.New("hypervisor: import mode must be 'copy', 'register' or 'restore'")
)

// Runtime errors
var (
	ErrVMNotFound       = errors.New("hypervisor: VM not found")
	ErrVMExists         = errors.New("hypervisor: VM already exists")
	ErrJobNotFound      = errors.New("hypervisor: job not found")
	ErrPayloadInvalid   = errors.New("hypervisor: export payload is invalid")
	ErrChecksumMismatch = errors.New("hypervisor: disk checksum mismatch")
)

// Platform errors
var (
	ErrUnsupportedPlatform = errors.New("hypervisor: Hyper-V without an SSH host requires Windows")
)
