package cli

import (
	"fmt"

	"github.com/javanstorm/vmxfer/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  "Print the version, commit hash, and build date of vmxfer.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "vmxfer %s\n", version.Version)
			fmt.Fprintf(a.stdout, "  Commit:     %s\n", version.Commit)
			fmt.Fprintf(a.stdout, "  Build Date: %s\n", version.BuildDate)
		},
	}
}
