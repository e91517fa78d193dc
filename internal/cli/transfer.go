package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/javanstorm/vmxfer/internal/config"
	"github.com/javanstorm/vmxfer/internal/history"
	"github.com/javanstorm/vmxfer/internal/notify"
	"github.com/javanstorm/vmxfer/internal/timing"
	"github.com/javanstorm/vmxfer/internal/transfer"
	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/spf13/cobra"
)

// notifyTimeout bounds webhook delivery, retries included.
const notifyTimeout = 2 * time.Minute

// transferFlags are the per-command options shared by export and import.
type transferFlags struct {
	name       string
	onConflict string
	renameTo   string

	captureLiveState string

	mode   string
	keepID bool
}

func (f *transferFlags) addConflictFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "Name of the result (default: the source name)")
	cmd.Flags().StringVar(&f.onConflict, "on-conflict", "", "What to do when the name is taken: cancel or rename (default from config)")
	cmd.Flags().StringVar(&f.renameTo, "rename-to", "", "Name to use instead when the name is taken")
}

// captureModes maps --capture-live-state values to the host's names.
var captureModes = map[string]string{
	"":      "",
	"saved": "CaptureSavedState",
	"data":  "CaptureDataConsistentState",
	"crash": "CaptureCrashConsistentState",
}

func newExportCmd(a *app) *cobra.Command {
	var f transferFlags
	cmd := &cobra.Command{
		Use:   "export <vm> <destination>",
		Short: "Export a VM to a payload folder",
		Long: `Export a registered VM into <destination>/<name>.

The destination is created if needed. When <destination>/<name> already
exists the transfer is cancelled, or renamed with --on-conflict rename
(<name>-2, <name>-3, ...) or --rename-to.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			capture, ok := captureModes[f.captureLiveState]
			if !ok {
				return fmt.Errorf("unknown --capture-live-state %q (want saved, data or crash)", f.captureLiveState)
			}
			req := &transfer.Request{
				Direction:        transfer.DirectionExport,
				Source:           args[0],
				Destination:      args[1],
				TargetName:       f.name,
				CaptureLiveState: capture,
			}
			return a.runTransfer(cmd.Context(), req, &f)
		},
	}
	f.addConflictFlags(cmd)
	cmd.Flags().StringVar(&f.captureLiveState, "capture-live-state", "", "How to capture a running VM: saved, data or crash")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var f transferFlags
	cmd := &cobra.Command{
		Use:   "import <payload-dir> <destination>",
		Short: "Import a VM from a payload folder",
		Long: `Import a VM from an export payload and place its files under <destination>.

Modes:
  copy      copy the payload into <destination> (default)
  register  register the VM in place, using the payload files directly
  restore   move the payload files into <destination>

The imported VM gets a new identifier unless --keep-id is given.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := hypervisor.ParseImportMode(f.mode)
			if err != nil {
				return fmt.Errorf("--mode %q: %w", f.mode, err)
			}
			req := &transfer.Request{
				Direction:     transfer.DirectionImport,
				Source:        args[0],
				Destination:   args[1],
				TargetName:    f.name,
				ImportMode:    mode,
				GenerateNewID: !f.keepID,
			}
			return a.runTransfer(cmd.Context(), req, &f)
		},
	}
	f.addConflictFlags(cmd)
	cmd.Flags().StringVar(&f.mode, "mode", string(hypervisor.ImportCopy), "Import mode: copy, register or restore")
	cmd.Flags().BoolVar(&f.keepID, "keep-id", false, "Keep the VM identifier from the payload")
	return cmd
}

// conflictResolver turns the conflict flags and the configured policy into a
// resolver. --rename-to wins over the policy.
func conflictResolver(f *transferFlags, policy string) (transfer.ConflictResolver, error) {
	if f.renameTo != "" {
		return transfer.FixedNameResolver{Name: f.renameTo}, nil
	}
	if f.onConflict != "" {
		policy = f.onConflict
	}
	switch policy {
	case config.ConflictCancel:
		return transfer.CancelResolver{}, nil
	case config.ConflictRename:
		return transfer.SuffixResolver{}, nil
	default:
		return nil, fmt.Errorf("unknown conflict policy %q (want %s or %s)", policy, config.ConflictCancel, config.ConflictRename)
	}
}

func (a *app) runTransfer(ctx context.Context, req *transfer.Request, f *transferFlags) error {
	resolver, err := conflictResolver(f, a.cfg.Conflict)
	if err != nil {
		return err
	}

	platform, release, err := a.platform()
	if err != nil {
		return err
	}
	defer release()

	// Paths of a remote Hyper-V host are checked on that host.
	var fs transfer.Filesystem
	if remote, ok := hypervisor.HostFilesystem(platform); ok {
		fs = remote
	}

	timer := timing.New()
	recorders := transfer.MultiRecorder{timer}
	if a.cfg.HistoryPath != "" {
		store, err := history.Open(a.cfg.HistoryPath)
		if err != nil {
			a.log.Warn().Err(err).Msg("Transfer history disabled")
		} else {
			defer store.Close()
			recorders = append(recorders, store)
		}
	}

	engine := transfer.New(transfer.Options{
		Platform:   platform,
		Filesystem: fs,
		Logger:     a.log,
		Settings:   a.cfg.TransferSettings(),
		Resolver:   resolver,
		Recorder:   recorders,
	})

	r := a.newRenderer(req)
	out := engine.Execute(ctx, req, r)
	r.Finish(out)

	if a.cfg.Notify.WebhookURL != "" {
		a.notify(ctx, req, out)
	}
	if a.timing {
		timer.Report(a.stderr)
	}

	if err := out.Err(); err != nil {
		return err
	}
	if !a.jsonOut {
		a.printOutcome(req, out)
	}
	return nil
}

// notify delivers the outcome webhook. It runs even when ctx was cancelled
// so a cancelled transfer is still reported.
func (a *app) notify(ctx context.Context, req *transfer.Request, out transfer.Outcome) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	hook := notify.NewWebhook(a.cfg.Notify.WebhookURL, a.log)
	if err := hook.Notify(nctx, notify.NewPayload(req, out, time.Now())); err != nil {
		a.log.Warn().Err(err).Msg("Failed to deliver outcome webhook")
	}
}

func (a *app) printOutcome(req *transfer.Request, out transfer.Outcome) {
	vm := out.Entity
	if req.Direction == transfer.DirectionExport {
		fmt.Fprintf(a.stdout, "Exported %s to %s\n", vm.Name, out.Location)
	} else {
		fmt.Fprintf(a.stdout, "Imported %s (id %s) into %s\n", vm.Name, vm.ID, out.Location)
	}
	fmt.Fprintf(a.stdout, "Transfer ID: %s\n", out.TransferID)
}
