// Package cli defines the toolhost command tree.
package cli

import (
	"github.com/spf13/cobra"
)

const version = "1.2.0"

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "toolhost",
	Short: "Toolhost - capability-scoped tool invocation host",
	Long: `Toolhost exposes schema-described tools to agent callers over a
single dispatch surface. Every call runs under the caller's shadow
credential, read-only SQL gating, and an append-only audit trail.`,
	Version: version,
}

// Execute runs the command tree. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.toolhost/toolhost.yaml)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}
