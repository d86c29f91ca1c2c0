package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/chain"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
)

func newChainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Branch promotion chains",
		Long:  "A chain merges a branch through a sequence of targets, e.g. feature -> staging -> main.",
	}

	cmd.AddCommand(newChainCreateCmd())
	cmd.AddCommand(newChainListCmd())
	return cmd
}

func newChainCreateCmd() *cobra.Command {
	var (
		configPath    string
		project       int64
		watchPipeline bool
	)

	cmd := &cobra.Command{
		Use:   "create <branch> <branch>...",
		Short: "Create a chain",
		Long:  "Creates a chain whose steps merge each branch into the next. The daemon opens and merges the steps in order.",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChainCreate(cmd, configPath, chain.CreateOpts{
				ProjectID:                  project,
				Branches:                   args,
				WatchPipelineAfterComplete: watchPipeline,
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().Int64Var(&project, "project", 0, "project id (default: the project linked by sb init)")
	cmd.Flags().BoolVar(&watchPipeline, "watch-pipeline", false, "wait for the pipeline on the final target before finishing")
	return cmd
}

func runChainCreate(cmd *cobra.Command, configPath string, opts chain.CreateOpts) error {
	project, err := resolveProject(opts.ProjectID)
	if err != nil {
		return err
	}
	opts.ProjectID = project

	_, gdb, err := openDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	task, err := chain.Create(gdb, opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created chain #%d: %s (%d steps)\n", task.ID, strings.Join(opts.Branches, " -> "), len(task.Steps))
	return nil
}

func newChainListCmd() *cobra.Command {
	var (
		configPath string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChainList(cmd, configPath, status)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&status, "status", "", "only show chains with this status")
	return cmd
}

func runChainList(cmd *cobra.Command, configPath, status string) error {
	_, gdb, err := openDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	tasks, err := chain.List(gdb, status)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No chains.")
		return nil
	}
	for i := range tasks {
		printChain(cmd, &tasks[i])
	}
	return nil
}

func printChain(cmd *cobra.Command, task *models.ChainTask) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "#%d  %s -> %s  %s\n", task.ID, task.SourceBranch, task.TargetBranch, colorStatus(task.Status))
	for _, s := range task.Steps {
		mr := "-"
		if id, ok := s.MergeRequest().Linked(); ok {
			mr = fmt.Sprintf("watch #%d", id)
		}
		fmt.Fprintf(out, "    %d. %s -> %s  %s  %s\n", s.StepNumber, s.SourceBranch, s.TargetBranch, colorStatus(s.Status), mr)
	}
	if task.FailMessage != nil {
		fmt.Fprintf(out, "    %s\n", truncate(*task.FailMessage, 80))
	}
}
