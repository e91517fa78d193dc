package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/javanstorm/vmxfer/internal/transfer"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

// Conflict policies for non-interactive runs.
const (
	ConflictCancel = "cancel"
	ConflictRename = "rename"
)

// Config holds all vmxfer configuration. It is loaded once and passed by
// pointer to whatever needs it.
type Config struct {
	// Backend selects the platform driver ("hyperv" or "local").
	Backend string `mapstructure:"backend" yaml:"backend"`

	// PollInterval is how often a running transfer is reconciled.
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`

	// JobSettleTimeout bounds how long a pinned job may lag a finished call.
	JobSettleTimeout time.Duration `mapstructure:"job_settle_timeout" yaml:"job_settle_timeout"`

	Export ExportConfig `mapstructure:"export" yaml:"export"`
	Import ImportConfig `mapstructure:"import" yaml:"import"`

	// Conflict is the name-conflict policy: "cancel" or "rename".
	Conflict string `mapstructure:"conflict" yaml:"conflict"`

	// HistoryPath is the transfer history database.
	HistoryPath string `mapstructure:"history_path" yaml:"history_path"`

	// LogLevel is a zerolog level name.
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	Notify NotifyConfig `mapstructure:"notify" yaml:"notify"`
	HyperV HyperVConfig `mapstructure:"hyperv" yaml:"hyperv"`
	Local  LocalConfig  `mapstructure:"local" yaml:"local"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" yaml:"-"`
}

// ExportConfig tunes exports.
type ExportConfig struct {
	// DiscoveryWindow of zero retries job discovery until the export call
	// returns.
	DiscoveryWindow time.Duration `mapstructure:"discovery_window" yaml:"discovery_window"`
	Overhead        float64       `mapstructure:"overhead" yaml:"overhead"`
}

// ImportConfig tunes imports.
type ImportConfig struct {
	// DiscoveryWindow of zero retries job discovery for the whole import.
	DiscoveryWindow time.Duration `mapstructure:"discovery_window" yaml:"discovery_window"`
	Overhead        float64       `mapstructure:"overhead" yaml:"overhead"`
	ThroughputMBs   int           `mapstructure:"throughput_mb_s" yaml:"throughput_mb_s"`
}

// NotifyConfig configures the outcome webhook.
type NotifyConfig struct {
	WebhookURL string `mapstructure:"webhook_url" yaml:"webhook_url"`
}

// HyperVConfig configures the Hyper-V driver.
type HyperVConfig struct {
	PowerShell string `mapstructure:"powershell" yaml:"powershell"`
	SSHHost    string `mapstructure:"ssh_host" yaml:"ssh_host"`
	SSHUser    string `mapstructure:"ssh_user" yaml:"ssh_user"`
	SSHPort    int    `mapstructure:"ssh_port" yaml:"ssh_port"`
	SSHKeyPath string `mapstructure:"ssh_key_path" yaml:"ssh_key_path"`
	KnownHosts string `mapstructure:"known_hosts" yaml:"known_hosts"`
}

// LocalConfig configures the directory-backed driver.
type LocalConfig struct {
	Root string `mapstructure:"root" yaml:"root"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	paths, err := GetPaths()
	if err != nil {
		// Fallback if we can't determine home directory
		paths = &Paths{DataDir: filepath.Join(".", ".vmxfer")}
	}

	return &Config{
		Backend:          hypervisor.DefaultBackend(),
		PollInterval:     transfer.DefaultPollInterval,
		JobSettleTimeout: transfer.DefaultJobSettleTimeout,
		Export: ExportConfig{
			DiscoveryWindow: transfer.DefaultExportDiscoveryWindow,
			Overhead:        transfer.DefaultExportOverhead,
		},
		Import: ImportConfig{
			DiscoveryWindow: transfer.DefaultImportDiscoveryWindow,
			Overhead:        transfer.DefaultImportOverhead,
			ThroughputMBs:   transfer.DefaultImportThroughput >> 20,
		},
		Conflict:    ConflictCancel,
		HistoryPath: filepath.Join(paths.DataDir, "history.db"),
		LogLevel:    "info",
		HyperV: HyperVConfig{
			PowerShell: "powershell.exe",
			SSHPort:    22,
			SSHKeyPath: filepath.Join(paths.SSHDir(), "id_ed25519"),
		},
		Local: LocalConfig{
			Root: filepath.Join(paths.DataDir, "local"),
		},
	}
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("backend", d.Backend)
	v.SetDefault("poll_interval", d.PollInterval)
	v.SetDefault("job_settle_timeout", d.JobSettleTimeout)
	v.SetDefault("export.discovery_window", d.Export.DiscoveryWindow)
	v.SetDefault("export.overhead", d.Export.Overhead)
	v.SetDefault("import.discovery_window", d.Import.DiscoveryWindow)
	v.SetDefault("import.overhead", d.Import.Overhead)
	v.SetDefault("import.throughput_mb_s", d.Import.ThroughputMBs)
	v.SetDefault("conflict", d.Conflict)
	v.SetDefault("history_path", d.HistoryPath)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("notify.webhook_url", d.Notify.WebhookURL)
	v.SetDefault("hyperv.powershell", d.HyperV.PowerShell)
	v.SetDefault("hyperv.ssh_host", d.HyperV.SSHHost)
	v.SetDefault("hyperv.ssh_user", d.HyperV.SSHUser)
	v.SetDefault("hyperv.ssh_port", d.HyperV.SSHPort)
	v.SetDefault("hyperv.ssh_key_path", d.HyperV.SSHKeyPath)
	v.SetDefault("hyperv.known_hosts", d.HyperV.KnownHosts)
	v.SetDefault("local.root", d.Local.Root)
}

// Load reads configuration from defaults, the config file and the
// environment (VMXFER_BACKEND, VMXFER_EXPORT_OVERHEAD, ...). An explicit
// configFile must exist; otherwise config.yaml is looked up in the data and
// config directories and may be absent.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		paths, err := GetPaths()
		if err != nil {
			return nil, fmt.Errorf("determine paths: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(paths.DataDir)
		v.AddConfigPath(paths.ConfigDir)
	}

	v.SetEnvPrefix("VMXFER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

// PlatformOptions converts the driver settings for hypervisor.New.
func (c *Config) PlatformOptions() hypervisor.Options {
	return hypervisor.Options{
		Backend:    c.Backend,
		Root:       c.Local.Root,
		PowerShell: c.HyperV.PowerShell,
		SSH: hypervisor.SSHOptions{
			Host:       c.HyperV.SSHHost,
			Port:       c.HyperV.SSHPort,
			User:       c.HyperV.SSHUser,
			KeyPath:    c.HyperV.SSHKeyPath,
			KnownHosts: c.HyperV.KnownHosts,
		},
	}
}

// TransferSettings converts the engine tuning.
func (c *Config) TransferSettings() transfer.Settings {
	exportWindow := c.Export.DiscoveryWindow
	if exportWindow == 0 {
		exportWindow = transfer.NoDiscoveryWindow
	}
	return transfer.Settings{
		PollInterval:          c.PollInterval,
		ExportDiscoveryWindow: exportWindow,
		ImportDiscoveryWindow: c.Import.DiscoveryWindow,
		JobSettleTimeout:      c.JobSettleTimeout,
		ExportOverhead:        c.Export.Overhead,
		ImportOverhead:        c.Import.Overhead,
		ImportThroughput:      int64(c.Import.ThroughputMBs) << 20,
	}
}

// YAML renders the configuration in the config file format.
func (c *Config) YAML() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
