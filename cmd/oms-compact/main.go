package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ontosys/omscore/pkg/log"
	"github.com/ontosys/omscore/pkg/mergeengine"
	"github.com/ontosys/omscore/pkg/store"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "oms-compact",
	Short: "Collapse a branch's commit DAG into a single baseline commit",
	RunE:  runCompact,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().String("data-dir", "./data", "Directory holding the BoltDB store")
	rootCmd.Flags().String("branch", "", "Branch to compact (required)")
	_ = rootCmd.MarkFlagRequired("branch")
}

func runCompact(cmd *cobra.Command, _ []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	log.Init(log.Config{Level: log.Level(level)})

	dataDir, _ := cmd.Flags().GetString("data-dir")
	branchName, _ := cmd.Flags().GetString("branch")

	s, err := store.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	branch, err := s.GetBranch(branchName)
	if err != nil {
		return fmt.Errorf("load branch %s: %w", branchName, err)
	}

	commits, err := s.ListCommitsByBranch(branchName)
	if err != nil {
		return fmt.Errorf("list commits: %w", err)
	}

	landed, collapsed, err := mergeengine.Compact(commits, branch.HeadCommit)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	for _, c := range landed {
		if err := s.UpdateCommit(c); err != nil {
			return fmt.Errorf("persist compacted commit %s: %w", c.ID, err)
		}
	}

	fmt.Printf("compacted branch %s: %d commits absorbed, %d commits remain\n", branchName, collapsed, len(landed))
	return nil
}
