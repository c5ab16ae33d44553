package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/vigil/checker"
	"github.com/petal-labs/vigil/config"
	"github.com/petal-labs/vigil/core"
	"github.com/petal-labs/vigil/history"
	"github.com/petal-labs/vigil/poller"
)

// NewCheckCmd creates the "check" subcommand.
func NewCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one check tick and print the results",
		Long:  "Checks every configured provider once and exits 1 unless all are operational.",
		RunE:  runCheck,
	}

	cmd.Flags().String("config", "", "Path to vigil.yaml (default: ./vigil.yaml, then ~/.vigil/config.yaml)")

	return cmd
}

func runCheck(cmd *cobra.Command, _ []string) error {
	explicitPath, _ := cmd.Flags().GetString("config")

	cfg, err := loadConfig(explicitPath)
	if err != nil {
		return err
	}

	chk, err := checker.New(checker.Config{
		Settings: func() core.Settings { return cfg.Settings },
	})
	if err != nil {
		return exitError(exitRuntime, "creating checker: %v", err)
	}

	store := history.NewMemStore()
	p, err := poller.New(poller.Config{
		Checker:   chk,
		Providers: func() []core.ProviderConfig { return cfg.Providers },
		Settings:  func() core.Settings { return cfg.Settings },
		History:   store,
	})
	if err != nil {
		return exitError(exitRuntime, "creating poller: %v", err)
	}

	if err := p.RunOnce(cmd.Context()); err != nil {
		return exitError(exitRuntime, "running checks: %v", err)
	}

	results, err := store.Latest(cmd.Context())
	if err != nil {
		return exitError(exitRuntime, "reading results: %v", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tSTATUS\tLATENCY\tMESSAGE")
	unhealthy := 0
	for _, r := range results {
		latency := "-"
		if r.LatencyMs != nil {
			latency = fmt.Sprintf("%d ms", *r.LatencyMs)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Provider, r.Status, latency, r.Message)
		if r.Status != core.StatusOperational {
			unhealthy++
		}
	}
	_ = tw.Flush()

	if unhealthy > 0 {
		return exitError(exitUnhealthy, "%d of %d provider(s) not operational", unhealthy, len(results))
	}
	return nil
}

// loadConfig discovers and loads the configuration, mapping failures to
// config exit codes.
func loadConfig(explicitPath string) (config.Config, error) {
	path, found, err := config.Discover(explicitPath)
	if err != nil {
		return config.Config{}, exitError(exitConfig, "%v", err)
	}
	if !found {
		return config.Config{}, exitError(exitConfig, "no configuration file found")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, exitError(exitConfig, "%v", err)
	}
	return cfg, nil
}
