// Package main implements scholarctl, which runs research tasks locally
// without Postgres or a queue.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "scholarctl",
	Short: "Run research tasks from the command line",
	Long: `scholarctl runs a research task in process: it ingests local documents,
optionally searches the web, ranks the sources and writes the essay to a file
or stdout. Configuration is read from the environment and .env like the server.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.AddCommand(newResearchCmd())
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the scholarctl version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println(version)
	},
}
