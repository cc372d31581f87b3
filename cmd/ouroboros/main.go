// Command ouroboros is the CLI front-end for the ring file store: a thin
// wrapper around internal/ring, internal/node and internal/server that
// contains no ring logic of its own, matching the "ordinary client"
// framing the core's design gives its external collaborators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hazardous-sun/ouroboros-fs/internal/oblog"
)

var rootCmd = &cobra.Command{
	Use:   "ouroboros",
	Short: "ouroboros-fs - a self-healing ring-structured file store",
	Long: `ouroboros-fs arranges nodes in a single directional ring reached over a
line-framed TCP protocol. Pushed files are striped across every live node
in one streaming pass, predecessors mirror their successor's chunks, and
a background failure detector respawns and rewires dead nodes.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(setNetworkCmd)
	rootCmd.AddCommand(clientCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	oblog.Init(oblog.Config{
		Level:      oblog.Level(level),
		JSONOutput: jsonOut,
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
