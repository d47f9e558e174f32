package main

import (
	"fmt"
	"os"

	"github.com/cuemby/helmsman/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "helmsmanctl",
	Short: "helmsmanctl manages a Helmsman orchestrator's declared state",
	Long: `helmsmanctl operates against a Helmsman data directory: it applies
group-tree definitions, previews the deployment plan a change would
produce, inspects tracked instances, and runs a Raft cluster node.

It talks directly to the Repository and cluster packages rather than
over a network API (the wire protocol to any client surface is out of
scope; see the core packages for the in-process collaborators this CLI
drives).`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./helmsman-data", "Data directory holding the bbolt repository")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(clusterCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOutput})
}
