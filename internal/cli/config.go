package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(a *app) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults, the config file, environment
variables (VMXFER_*) and flags have been applied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.jsonOut {
				enc := json.NewEncoder(a.stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(a.cfg)
			}

			data, err := a.cfg.YAML()
			if err != nil {
				return err
			}
			source := a.cfg.File
			if source == "" {
				source = "(none, defaults and environment only)"
			}
			fmt.Fprintf(a.stdout, "# config file: %s\n", source)
			_, err = a.stdout.Write(data)
			return err
		},
	})
	return configCmd
}
