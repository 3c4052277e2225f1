package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datamancy/toolhost/internal/config"
)

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration without starting the host",
	RunE:  runCheckConfig,
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

func runCheckConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "configuration OK: %d data source(s), listening on %s:%d\n",
		len(cfg.DataSources), cfg.Server.Host, cfg.Server.Port)
	return nil
}
