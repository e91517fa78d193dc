package config

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"

	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/rs/zerolog"
)

// ValidationError represents a configuration issue.
type ValidationError struct {
	Field   string
	Message string
	Fatal   bool // true = can't proceed, false = will be ignored
}

// Validate checks a configuration for values the engine cannot run with.
// Returns a list of validation errors/warnings.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	fatal := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Fatal: true})
	}
	warn := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.Backend {
	case hypervisor.BackendHyperV:
		if runtime.GOOS != "windows" && cfg.HyperV.SSHHost == "" {
			fatal("hyperv.ssh_host", "Hyper-V is only reachable over SSH from %s", runtime.GOOS)
		}
	case hypervisor.BackendLocal:
		if cfg.Local.Root == "" {
			fatal("local.root", "local backend needs a store directory")
		}
	default:
		fatal("backend", "unknown backend %q (want %s or %s)", cfg.Backend, hypervisor.BackendHyperV, hypervisor.BackendLocal)
	}

	if cfg.HyperV.SSHHost != "" {
		if cfg.HyperV.SSHUser == "" {
			fatal("hyperv.ssh_user", "required when hyperv.ssh_host is set")
		}
		if cfg.HyperV.KnownHosts == "" {
			warn("hyperv.known_hosts", "not set, the host key of %s will not be verified", cfg.HyperV.SSHHost)
		}
	}

	if cfg.PollInterval <= 0 {
		fatal("poll_interval", "must be positive, got %s", cfg.PollInterval)
	}
	if cfg.JobSettleTimeout <= 0 {
		fatal("job_settle_timeout", "must be positive, got %s", cfg.JobSettleTimeout)
	}
	if cfg.Export.DiscoveryWindow < 0 {
		fatal("export.discovery_window", "must not be negative")
	}
	if cfg.Import.DiscoveryWindow < 0 {
		fatal("import.discovery_window", "must not be negative")
	}
	if cfg.Export.Overhead < 1 {
		fatal("export.overhead", "must be at least 1.0, got %v", cfg.Export.Overhead)
	}
	if cfg.Import.Overhead < 1 {
		fatal("import.overhead", "must be at least 1.0, got %v", cfg.Import.Overhead)
	}
	if cfg.Import.ThroughputMBs <= 0 {
		fatal("import.throughput_mb_s", "must be positive, got %d", cfg.Import.ThroughputMBs)
	}

	if cfg.Conflict != ConflictCancel && cfg.Conflict != ConflictRename {
		fatal("conflict", "unknown policy %q (want %s or %s)", cfg.Conflict, ConflictCancel, ConflictRename)
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		fatal("log_level", "unknown level %q", cfg.LogLevel)
	}
	if cfg.HistoryPath == "" {
		warn("history_path", "not set, transfers will not be recorded")
	}

	if cfg.Notify.WebhookURL != "" {
		u, err := url.Parse(cfg.Notify.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			fatal("notify.webhook_url", "not an http(s) URL: %q", cfg.Notify.WebhookURL)
		}
	}

	return errs
}

// HasFatal reports whether any entry stops the run.
func HasFatal(errs []ValidationError) bool {
	for _, e := range errs {
		if e.Fatal {
			return true
		}
	}
	return false
}

// FormatValidationErrors returns human-readable error summary.
func FormatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Configuration problems:\n")
	for _, e := range errors {
		prefix := "Warning"
		if e.Fatal {
			prefix = "Error"
		}
		fmt.Fprintf(&b, "  %s [%s]: %s\n", prefix, e.Field, e.Message)
	}
	return b.String()
}
