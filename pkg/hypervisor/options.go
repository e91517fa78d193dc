package hypervisor

import "runtime"

// Backend names accepted by New.
const (
	BackendHyperV = "hyperv"
	BackendLocal  = "local"
)

// Options holds driver configuration parameters.
type Options struct {
	// Backend selects the driver ("hyperv" or "local").
	Backend string

	// Root is the local driver's store directory.
	Root string

	// PowerShell is the PowerShell executable used by the hyperv driver.
	PowerShell string

	// SSH, when Host is set, runs hyperv scripts on a remote host.
	SSH SSHOptions
}

// SSHOptions configures the remote PowerShell runner.
type SSHOptions struct {
	Host string
	Port int
	User string

	// KeyPath is the private key used for authentication.
	KeyPath string

	// KnownHosts is the known_hosts file used to verify the host key.
	// Empty disables verification.
	KnownHosts string
}

// Validate performs basic validation of the options.
func (o *Options) Validate() error {
	switch o.Backend {
	case BackendHyperV:
		if o.PowerShell == "" {
			o.PowerShell = "powershell.exe" // Default to Windows PowerShell
		}
		if o.SSH.Host == "" && runtime.GOOS != "windows" {
			return ErrUnsupportedPlatform // Local Hyper-V only exists on Windows
		}
		if o.SSH.Host != "" {
			if o.SSH.User == "" {
				return ErrMissingSSHUser
			}
			if o.SSH.Port == 0 {
				o.SSH.Port = 22
			}
		}
	case BackendLocal:
		if o.Root == "" {
			return ErrMissingRoot
		}
	default:
		return ErrUnknownBackend
	}
	return nil
}
