package cli

import (
	"encoding/json"
	"fmt"

	"github.com/javanstorm/vmxfer/pkg/hypervisor"
	"github.com/spf13/cobra"
)

func newVMCmd(a *app) *cobra.Command {
	vmCmd := &cobra.Command{
		Use:   "vm",
		Short: "Inspect VMs registered on the platform",
	}
	vmCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered VMs with their disks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listVMs(cmd)
		},
	})
	return vmCmd
}

// vmRow is one line of vm list.
type vmRow struct {
	hypervisor.Entity
	Disks     int   `json:"disks"`
	DiskBytes int64 `json:"disk_bytes"`
}

func (a *app) listVMs(cmd *cobra.Command) error {
	platform, release, err := a.platform()
	if err != nil {
		return err
	}
	defer release()

	lister, ok := platform.(hypervisor.Lister)
	if !ok {
		return fmt.Errorf("%s platform cannot list VMs", platform.Info().Name)
	}
	ctx := cmd.Context()
	vms, err := lister.ListVMs(ctx)
	if err != nil {
		return err
	}

	rows := make([]vmRow, 0, len(vms))
	for _, vm := range vms {
		disks, err := platform.ListDisks(ctx, vm.ID)
		if err != nil {
			return fmt.Errorf("list disks of %s: %w", vm.Name, err)
		}
		row := vmRow{Entity: vm, Disks: len(disks)}
		for _, d := range disks {
			row.DiskBytes += d.Size
		}
		rows = append(rows, row)
	}

	if a.jsonOut {
		enc := json.NewEncoder(a.stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.stdout, "No VMs registered.")
		return nil
	}
	fmt.Fprintf(a.stdout, "%-20s %-36s %-10s %5s %10s  %s\n", "NAME", "ID", "STATE", "DISKS", "SIZE", "PATH")
	for _, r := range rows {
		state := r.State
		if state == "" {
			state = "-"
		}
		fmt.Fprintf(a.stdout, "%-20s %-36s %-10s %5d %10s  %s\n", r.Name, r.ID, state, r.Disks, formatBytes(r.DiskBytes), r.Path)
	}
	return nil
}

// formatBytes renders a size with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
