package main

import (
	"fmt"

	"github.com/cuemby/helmsman/pkg/deploy"
	"github.com/cuemby/helmsman/pkg/spec"
	"github.com/cuemby/helmsman/pkg/storage"
	"github.com/spf13/cobra"
)

var planCmd = &cobra.Command{
	Use:   "plan -f FILE",
	Short: "Preview the deployment plan a group-tree file would produce",
	Long: `Plan diffs a YAML group tree against the root currently
persisted in the data directory and prints the resulting deployment
plan, without persisting anything.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringP("file", "f", "", "group-tree YAML file to diff (required)")
	_ = planCmd.MarkFlagRequired("file")
}

func runPlan(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	dataDir, _ := cmd.Flags().GetString("data-dir")

	target, err := spec.LoadGroupFile(file)
	if err != nil {
		return err
	}

	repo, err := storage.NewBoltRepository(dataDir)
	if err != nil {
		return fmt.Errorf("opening repository: %w", err)
	}
	defer repo.Close()

	_, plan, err := diffAgainstStoredRoot(repo, target)
	if err != nil {
		return err
	}
	printPlan(plan)
	return nil
}

func printPlan(plan *deploy.Plan) {
	if len(plan.Steps) == 0 {
		fmt.Println("No changes.")
		return
	}
	fmt.Printf("Plan %s (%d step(s)):\n", plan.ID, len(plan.Steps))
	for i, step := range plan.Steps {
		fmt.Printf("\nStep %d:\n", i+1)
		for _, action := range step.Actions {
			switch action.Kind {
			case deploy.ActionScale:
				fmt.Printf("  %-18s %-30s -> %d instances\n", action.Kind, action.RunSpecID, action.ScaleTo)
			case deploy.ActionResolveArtifacts:
				fmt.Printf("  %-18s %d artifact(s)\n", action.Kind, len(action.Artifacts))
			default:
				fmt.Printf("  %-18s %s\n", action.Kind, action.RunSpecID)
			}
		}
	}
}
