package transfer

import "time"

// Default tuning values.
const (
	DefaultPollInterval          = 2 * time.Second
	DefaultExportDiscoveryWindow = 15 * time.Second
	DefaultImportDiscoveryWindow = 0
	DefaultJobSettleTimeout      = 30 * time.Second
	DefaultExportOverhead        = 1.05
	DefaultImportOverhead        = 1.10
	DefaultImportThroughput      = 100 << 20 // bytes per second

	// NoDiscoveryWindow keeps job discovery going until the platform call
	// returns.
	NoDiscoveryWindow time.Duration = -1

	// Heuristic percent never reaches completion on its own.
	exportHeuristicCap = 99
	importHeuristicCap = 95
)

// Settings tunes the engine.
type Settings struct {
	PollInterval time.Duration

	// Discovery windows. A zero export window takes the default; a zero
	// import window, like NoDiscoveryWindow, keeps trying until the worker
	// finishes.
	ExportDiscoveryWindow time.Duration
	ImportDiscoveryWindow time.Duration

	// JobSettleTimeout bounds how long a pinned, non-terminal job keeps
	// authority after the worker has finished.
	JobSettleTimeout time.Duration

	ExportOverhead float64
	ImportOverhead float64

	// ImportThroughput is the assumed import rate in bytes per second.
	ImportThroughput int64
}

// DefaultSettings returns the stock tuning.
func DefaultSettings() Settings {
	return Settings{
		PollInterval:          DefaultPollInterval,
		ExportDiscoveryWindow: DefaultExportDiscoveryWindow,
		ImportDiscoveryWindow: DefaultImportDiscoveryWindow,
		JobSettleTimeout:      DefaultJobSettleTimeout,
		ExportOverhead:        DefaultExportOverhead,
		ImportOverhead:        DefaultImportOverhead,
		ImportThroughput:      DefaultImportThroughput,
	}
}

// withDefaults fills zero fields.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.ExportDiscoveryWindow == 0 {
		s.ExportDiscoveryWindow = d.ExportDiscoveryWindow
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.JobSettleTimeout <= 0 {
		s.JobSettleTimeout = d.JobSettleTimeout
	}
	if s.ExportOverhead <= 0 {
		s.ExportOverhead = d.ExportOverhead
	}
	if s.ImportOverhead <= 0 {
		s.ImportOverhead = d.ImportOverhead
	}
	if s.ImportThroughput <= 0 {
		s.ImportThroughput = d.ImportThroughput
	}
	return s
}

func (s Settings) overhead(dir Direction) float64 {
	if dir == DirectionImport {
		return s.ImportOverhead
	}
	return s.ExportOverhead
}

func (s Settings) discoveryWindow(dir Direction) time.Duration {
	if dir == DirectionImport {
		return s.ImportDiscoveryWindow
	}
	return s.ExportDiscoveryWindow
}
