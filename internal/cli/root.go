// Package cli provides the command-line interface for vmxfer.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/javanstorm/vmxfer/internal/config"
	"github.com/javanstorm/vmxfer/internal/logging"
	"github.com/javanstorm/vmxfer/internal/transfer"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// app is the state shared by every command of one invocation. Flags fill it
// in, PersistentPreRunE loads the configuration into it.
type app struct {
	cfgFile string
	backend string
	verbose bool
	timing  bool
	jsonOut bool

	cfg *config.Config
	log zerolog.Logger

	stdout io.Writer
	stderr io.Writer

	// isTerminal reports whether progress bars can be drawn on stderr.
	isTerminal func() bool
}

// NewRootCmd creates the root command with every subcommand attached.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		isTerminal: func() bool {
			return term.IsTerminal(int(os.Stderr.Fd()))
		},
	})
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vmxfer",
		Short: "Export and import virtual machines with tracked progress",
		Long: `vmxfer exports virtual machines to payload folders and imports them back,
on a Hyper-V host (locally or over SSH) or on a local directory-backed store.

Every transfer is checked before it starts (source, destination, name
conflicts, free space), tracked through the host's management job while it
runs, and verified when it ends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip config loading for commands that don't need it
			switch cmd.Name() {
			case "version", "help", "completion":
				return nil
			}
			return a.load()
		},
	}
	rootCmd.SetOut(a.stdout)
	rootCmd.SetErr(a.stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "Configuration file path")
	pf.StringVar(&a.backend, "backend", "", "Platform backend (hyperv, local); overrides config")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output (shows debug messages)")
	pf.BoolVar(&a.timing, "timing", false, "Print a phase timing report after a transfer")
	pf.BoolVar(&a.jsonOut, "json", false, "Write newline-delimited JSON instead of human output")

	rootCmd.AddCommand(
		newExportCmd(a),
		newImportCmd(a),
		newJobsCmd(a),
		newHistoryCmd(a),
		newVMCmd(a),
		newSSHCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return rootCmd
}

// load loads and validates the configuration and builds the logger.
func (a *app) load() error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	if a.backend != "" {
		cfg.Backend = a.backend
	}

	problems := config.Validate(cfg)
	if len(problems) > 0 {
		fmt.Fprint(a.stderr, config.FormatValidationErrors(problems))
	}
	if config.HasFatal(problems) {
		return errors.New("invalid configuration")
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Verbose: a.verbose, Out: a.stderr})
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log
	return nil
}

// platform opens the configured driver. The returned func releases it.
func (a *app) platform() (hypervisor.Platform, func(), error) {
	p, err := hypervisor.New(a.cfg.PlatformOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("open %s platform: %w", a.cfg.Backend, err)
	}
	release := func() {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				a.log.Debug().Err(err).Msg("Failed to close platform")
			}
		}
	}
	return p, release, nil
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// ExitCode maps a command error to a process exit status: 130 for a
// cancelled transfer, 1 for anything else.
func ExitCode(err error) int {
	if kind, ok := transfer.KindOf(err); ok && kind == transfer.KindCancelled {
		return 130
	}
	return 1
}
