package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/javanstorm/vmxfer/internal/transfer"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
)

// isolate points home and config lookups at a temp dir so the developer's own
// config never leaks into a test.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("APPDATA", filepath.Join(home, "AppData"))
	return home
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig should not return nil")
	}
	if cfg.Backend != hypervisor.DefaultBackend() {
		t.Errorf("Backend should be %q, got %q", hypervisor.DefaultBackend(), cfg.Backend)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("PollInterval should be 2s, got %s", cfg.PollInterval)
	}
	if cfg.Export.DiscoveryWindow != 15*time.Second {
		t.Errorf("Export.DiscoveryWindow should be 15s, got %s", cfg.Export.DiscoveryWindow)
	}
	if cfg.Import.DiscoveryWindow != 0 {
		t.Errorf("Import.DiscoveryWindow should be 0, got %s", cfg.Import.DiscoveryWindow)
	}
	if cfg.Export.Overhead != 1.05 || cfg.Import.Overhead != 1.10 {
		t.Errorf("overheads should be 1.05/1.10, got %v/%v", cfg.Export.Overhead, cfg.Import.Overhead)
	}
	if cfg.Import.ThroughputMBs != 100 {
		t.Errorf("Import.ThroughputMBs should be 100, got %d", cfg.Import.ThroughputMBs)
	}
	if cfg.Conflict != ConflictCancel {
		t.Errorf("Conflict should be %q, got %q", ConflictCancel, cfg.Conflict)
	}
	if errs := Validate(cfg); HasFatal(errs) && cfg.Backend == hypervisor.BackendLocal {
		t.Errorf("default config should validate, got:\n%s", FormatValidationErrors(errs))
	}
}

func TestGetPaths(t *testing.T) {
	home := isolate(t)

	paths, err := GetPaths()
	if err != nil {
		t.Fatalf("GetPaths failed: %v", err)
	}
	if paths.DataDir != filepath.Join(home, ".vmxfer") {
		t.Errorf("DataDir = %q, want under %q", paths.DataDir, home)
	}
	if paths.ConfigDir == "" {
		t.Error("ConfigDir should not be empty")
	}
	if paths.ConfigFile != filepath.Join(paths.DataDir, "config.yaml") {
		t.Errorf("ConfigFile = %q", paths.ConfigFile)
	}
	if paths.SSHDir() != filepath.Join(paths.DataDir, "ssh") {
		t.Errorf("SSHDir = %q", paths.SSHDir())
	}

	if err := paths.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{paths.DataDir, paths.ConfigDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("%s not created", dir)
		}
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	home := isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
	if cfg.HistoryPath != filepath.Join(home, ".vmxfer", "history.db") {
		t.Errorf("HistoryPath = %q", cfg.HistoryPath)
	}
	if cfg.Local.Root != filepath.Join(home, ".vmxfer", "local") {
		t.Errorf("Local.Root = %q", cfg.Local.Root)
	}
}

func TestLoadFileAndEnvironment(t *testing.T) {
	home := isolate(t)
	dataDir := filepath.Join(home, ".vmxfer")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		t.Fatal(err)
	}

	yaml := `backend: local
poll_interval: 500ms
conflict: rename
export:
  overhead: 1.2
  discovery_window: 30s
hyperv:
  ssh_host: hv01.lab
  ssh_user: admin
`
	if err := os.WriteFile(filepath.Join(dataDir, "config.yaml"), []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("VMXFER_IMPORT_THROUGHPUT_MB_S", "250")
	t.Setenv("VMXFER_POLL_INTERVAL", "750ms")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.File != filepath.Join(dataDir, "config.yaml") {
		t.Errorf("File = %q", cfg.File)
	}
	if cfg.Backend != hypervisor.BackendLocal {
		t.Errorf("Backend = %q", cfg.Backend)
	}
	if cfg.PollInterval != 750*time.Millisecond {
		t.Errorf("PollInterval = %s, environment should win over the file", cfg.PollInterval)
	}
	if cfg.Export.Overhead != 1.2 || cfg.Export.DiscoveryWindow != 30*time.Second {
		t.Errorf("Export = %+v", cfg.Export)
	}
	if cfg.Import.ThroughputMBs != 250 {
		t.Errorf("Import.ThroughputMBs = %d", cfg.Import.ThroughputMBs)
	}
	if cfg.Import.Overhead != 1.10 {
		t.Errorf("Import.Overhead = %v, want default", cfg.Import.Overhead)
	}
	if cfg.Conflict != ConflictRename {
		t.Errorf("Conflict = %q", cfg.Conflict)
	}

	opts := cfg.PlatformOptions()
	if opts.SSH.Host != "hv01.lab" || opts.SSH.User != "admin" || opts.SSH.Port != 22 {
		t.Errorf("PlatformOptions().SSH = %+v", opts.SSH)
	}

	settings := cfg.TransferSettings()
	if settings.ImportThroughput != 250<<20 {
		t.Errorf("ImportThroughput = %d", settings.ImportThroughput)
	}
	if settings.ExportDiscoveryWindow != 30*time.Second || settings.PollInterval != 750*time.Millisecond {
		t.Errorf("TransferSettings() = %+v", settings)
	}
}

func TestTransferSettingsDiscoveryWindows(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.TransferSettings().ExportDiscoveryWindow; got != 15*time.Second {
		t.Errorf("default ExportDiscoveryWindow = %s, want 15s", got)
	}

	cfg.Export.DiscoveryWindow = 0
	settings := cfg.TransferSettings()
	if settings.ExportDiscoveryWindow != transfer.NoDiscoveryWindow {
		t.Errorf("ExportDiscoveryWindow = %s, want NoDiscoveryWindow", settings.ExportDiscoveryWindow)
	}
	if settings.ImportDiscoveryWindow != 0 {
		t.Errorf("ImportDiscoveryWindow = %s, want 0", settings.ImportDiscoveryWindow)
	}
}

func TestLoadExplicitFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load should fail for a missing explicit file")
	}
}

func TestYAMLLoadsBack(t *testing.T) {
	isolate(t)
	cfg := DefaultConfig()
	cfg.Backend = hypervisor.BackendHyperV
	cfg.PollInterval = 750 * time.Millisecond
	cfg.Import.Overhead = 1.25
	cfg.HyperV.SSHHost = "hv01"

	data, err := cfg.YAML()
	if err != nil {
		t.Fatalf("YAML failed: %v", err)
	}
	if !strings.Contains(string(data), "poll_interval: 750ms") {
		t.Errorf("durations should render as strings:\n%s", data)
	}

	path := filepath.Join(t.TempDir(), "shown.yaml")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	loaded.File = ""
	if *loaded != *cfg {
		t.Errorf("loaded config differs:\n got %+v\nwant %+v", *loaded, *cfg)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Backend = hypervisor.BackendLocal
		cfg.Local.Root = "/tmp/store"
		return cfg
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantField string
		wantFatal bool
	}{
		{"valid", func(c *Config) {}, "", false},
		{"unknown backend", func(c *Config) { c.Backend = "vbox" }, "backend", true},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, "poll_interval", true},
		{"overhead below one", func(c *Config) { c.Import.Overhead = 0.9 }, "import.overhead", true},
		{"negative window", func(c *Config) { c.Export.DiscoveryWindow = -time.Second }, "export.discovery_window", true},
		{"zero throughput", func(c *Config) { c.Import.ThroughputMBs = 0 }, "import.throughput_mb_s", true},
		{"bad conflict policy", func(c *Config) { c.Conflict = "overwrite" }, "conflict", true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level", true},
		{"bad webhook", func(c *Config) { c.Notify.WebhookURL = "ftp://x" }, "notify.webhook_url", true},
		{"ssh host without user", func(c *Config) {
			c.HyperV.SSHHost = "hv01"
			c.HyperV.KnownHosts = "/k"
		}, "hyperv.ssh_user", true},
		{"ssh host without known_hosts", func(c *Config) {
			c.HyperV.SSHHost = "hv01"
			c.HyperV.SSHUser = "admin"
		}, "hyperv.known_hosts", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			errs := Validate(cfg)

			if tt.wantField == "" {
				if len(errs) != 0 {
					t.Fatalf("unexpected problems:\n%s", FormatValidationErrors(errs))
				}
				return
			}
			var found *ValidationError
			for i := range errs {
				if errs[i].Field == tt.wantField {
					found = &errs[i]
				}
			}
			if found == nil {
				t.Fatalf("no problem reported for %s, got:\n%s", tt.wantField, FormatValidationErrors(errs))
			}
			if found.Fatal != tt.wantFatal {
				t.Errorf("Fatal = %v, want %v", found.Fatal, tt.wantFatal)
			}
			if HasFatal(errs) != tt.wantFatal {
				t.Errorf("HasFatal = %v, want %v", HasFatal(errs), tt.wantFatal)
			}
		})
	}
}

func TestFormatValidationErrors(t *testing.T) {
	if got := FormatValidationErrors(nil); got != "" {
		t.Errorf("empty list should format to empty string, got %q", got)
	}
	out := FormatValidationErrors([]ValidationError{
		{Field: "backend", Message: "unknown", Fatal: true},
		{Field: "hyperv.known_hosts", Message: "not set"},
	})
	if !strings.Contains(out, "Error [backend]: unknown") || !strings.Contains(out, "Warning [hyperv.known_hosts]: not set") {
		t.Errorf("unexpected format:\n%s", out)
	}
}
