// Package config provides configuration management for vmxfer.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths holds platform-specific directory paths for vmxfer.
type Paths struct {
	// ConfigDir is the directory for configuration files.
	// macOS: ~/Library/Application Support/vmxfer
	// Windows: %APPDATA%\vmxfer
	// Linux: ~/.config/vmxfer (or XDG_CONFIG_HOME)
	ConfigDir string

	// DataDir holds the history database, SSH keys and the local store.
	// All platforms: ~/.vmxfer
	DataDir string

	// ConfigFile is the path to the main config file.
	ConfigFile string
}

// GetPaths returns platform-aware paths for vmxfer.
func GetPaths() (*Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	p := &Paths{
		DataDir: filepath.Join(home, ".vmxfer"),
	}

	switch runtime.GOOS {
	case "darwin":
		p.ConfigDir = filepath.Join(home, "Library", "Application Support", "vmxfer")
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			p.ConfigDir = filepath.Join(appData, "vmxfer")
		} else {
			p.ConfigDir = filepath.Join(home, "AppData", "Roaming", "vmxfer")
		}
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			p.ConfigDir = filepath.Join(xdgConfig, "vmxfer")
		} else {
			p.ConfigDir = filepath.Join(home, ".config", "vmxfer")
		}
	}

	p.ConfigFile = filepath.Join(p.DataDir, "config.yaml")

	return p, nil
}

// SSHDir is where vmxfer keeps the key used for remote Hyper-V hosts.
func (p *Paths) SSHDir() string {
	return filepath.Join(p.DataDir, "ssh")
}

// EnsureDirectories creates the config and data directories if they don't exist.
func (p *Paths) EnsureDirectories() error {
	if err := os.MkdirAll(p.ConfigDir, 0755); err != nil {
		return err
	}
	if err := os.MkdirAll(p.DataDir, 0755); err != nil {
		return err
	}
	return nil
}
