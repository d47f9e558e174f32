package main

import (
	"fmt"
	"time"

	"github.com/cuemby/helmsman/pkg/deploy"
	"github.com/cuemby/helmsman/pkg/spec"
	"github.com/cuemby/helmsman/pkg/storage"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply -f FILE",
	Short: "Apply a group-tree YAML file as the new declared root",
	Long: `Apply loads a group tree from a YAML file, diffs it against
whatever root is currently persisted in the data directory, prints the
resulting deployment plan, and then persists the new tree as root.

This does not execute the plan: Helmsman's Executor runs as part of
the long-running core process, wired to a live resource manager, which
is out of this command's scope. Use "helmsmanctl plan" to preview a
change without persisting it.`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "group-tree YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")
}

func runApply(cmd *cobra.Command, args []string) error {
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

	original, plan, err := diffAgainstStoredRoot(repo, target)
	if err != nil {
		return err
	}

	printPlan(plan)

	if err := storage.PutRootGroup(repo, target); err != nil {
		return fmt.Errorf("persisting root: %w", err)
	}
	if original == nil {
		fmt.Println("\n✓ Initial root persisted")
	} else {
		fmt.Println("\n✓ Root updated")
	}
	return nil
}

// diffAgainstStoredRoot plans target against whatever root is
// currently persisted, or against an empty root if none has been
// saved yet.
func diffAgainstStoredRoot(repo storage.Repository, target *spec.Group) (*spec.Group, *deploy.Plan, error) {
	original, ok, err := storage.GetRootGroup(repo)
	if err != nil {
		return nil, nil, fmt.Errorf("loading stored root: %w", err)
	}
	if !ok {
		original = spec.NewGroup(target.Path)
	}

	planner := deploy.NewPlanner()
	p, err := planner.Plan("cli-apply", time.Now(), original, target)
	if err != nil {
		return nil, nil, fmt.Errorf("planning: %w", err)
	}
	if !ok {
		return nil, p, nil
	}
	return original, p, nil
}
