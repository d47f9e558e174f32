package main

import (
	"fmt"

	"github.com/cuemby/helmsman/pkg/pathid"
	"github.com/cuemby/helmsman/pkg/storage"
	"github.com/spf13/cobra"
)

var instancesCmd = &cobra.Command{
	Use:   "instances RUN_SPEC_PATH",
	Short: "List persisted instances under a run-spec path",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstances,
}

func runInstances(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	runSpecID := pathid.New(args[0])

	repo, err := storage.NewBoltRepository(dataDir)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	defer repo.Close()

	instances, err := storage.ListInstances(repo, runSpecID)
	if err != nil {
		return fmt.Errorf("listing instances: %w", err)
	}
	if len(instances) == 0 {
		fmt.Println("No instances found")
		return nil
	}

	fmt.Printf("%-40s %-12s %-10s %s\n", "ID", "CONDITION", "HEALTHY", "SINCE")
	for _, inst := range instances {
		healthy := "unknown"
		if inst.State.Healthy != nil {
			if *inst.State.Healthy {
				healthy = "true"
			} else {
				healthy = "false"
			}
		}
		fmt.Printf("%-40s %-12s %-10s %s\n",
			inst.ID, inst.State.Condition, healthy, inst.State.Since.Format("2006-01-02 15:04:05"))
	}
	return nil
}
