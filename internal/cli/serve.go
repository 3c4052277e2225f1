package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datamancy/toolhost/internal/config"
	"github.com/datamancy/toolhost/internal/host"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tool invocation host",
	Long: `Load configuration, build connection pools, register the configured
plugins, and serve the call surface until interrupted.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	h, err := host.New(cfg)
	if err != nil {
		return err
	}
	return h.Run()
}
