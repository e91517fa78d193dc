package hypervisor

import "runtime"

// DefaultBackend returns the backend used when none is configured:
// Hyper-V on Windows, the local store elsewhere.
func DefaultBackend() string {
	if runtime.GOOS == "windows" {
		return BackendHyperV
	}
	return BackendLocal
}

// New creates a platform driver for the configured backend.
func New(opts Options) (Platform, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	switch opts.Backend {
	case BackendHyperV:
		runner, err := newRunner(opts)
		if err != nil {
			return nil, err
		}
		return newHyperVDriver(runner, opts.SSH.Host), nil
	case BackendLocal:
		return NewLocal(opts.Root), nil
	default:
		return nil, ErrUnknownBackend
	}
}
