package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petal-labs/vigil/config"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		Long:  "Loads and validates vigil.yaml without contacting any provider.",
		RunE:  runValidate,
	}

	cmd.Flags().String("config", "", "Path to vigil.yaml (default: ./vigil.yaml, then ~/.vigil/config.yaml)")

	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	explicitPath, _ := cmd.Flags().GetString("config")

	path, found, err := config.Discover(explicitPath)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}
	if !found {
		return exitError(exitConfig, "no configuration file found")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return exitError(exitConfig, "%v", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: OK (%d provider(s))\n", path, len(cfg.Providers))
	for _, p := range cfg.Providers {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s\t%s\t%s\n", p.ID, p.Type, p.Model)
	}
	return nil
}
