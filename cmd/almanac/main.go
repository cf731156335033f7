// Command almanac runs the multi-chain event indexer described in spec.md,
// grounded on the teacher's cobra-based cmd/warren/main.go: a root command
// with version metadata, subcommands wired in init().
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set via -ldflags at build time; "dev" otherwise.
var Version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "almanac",
	Short:   "Almanac - multi-chain blockchain event indexer",
	Version: Version,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
}
