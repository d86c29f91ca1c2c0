package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/watch"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Register pipelines and merge requests to watch",
	}

	cmd.AddCommand(newWatchMRCmd())
	cmd.AddCommand(newWatchPipelineCmd())
	return cmd
}

// parseIDs reads "[project] <id>". A missing project comes from sb init.
func parseIDs(args []string) (int64, int64, error) {
	var project int64
	if len(args) == 2 {
		p, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("invalid project id %q", args[0])
		}
		project = p
		args = args[1:]
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, 0, fmt.Errorf("invalid id %q", args[0])
	}
	project, err = resolveProject(project)
	if err != nil {
		return 0, 0, err
	}
	return project, id, nil
}

func newWatchMRCmd() *cobra.Command {
	var (
		configPath    string
		autoMerge     bool
		notifyOnEnd   bool
		watchPipeline bool
	)

	cmd := &cobra.Command{
		Use:   "mr [project] <mr>",
		Short: "Watch a merge request",
		Long: "Watches a merge request, optionally merging it once it is mergeable and its pipeline passed.\n" +
			"The project defaults to the one linked by sb init.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, mrID, err := parseIDs(args)
			if err != nil {
				return err
			}
			return runWatchMR(cmd, configPath, watch.CreateMergeRequestOpts{
				RemoteID:                mrID,
				ProjectID:               project,
				AutoMerge:               autoMerge,
				NotifyOnEnd:             notifyOnEnd,
				WatchPipelineAfterMerge: watchPipeline,
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&autoMerge, "auto-merge", false, "merge automatically when mergeable")
	cmd.Flags().BoolVar(&notifyOnEnd, "notify", false, "notify when the merge request is merged or closed")
	cmd.Flags().BoolVar(&watchPipeline, "watch-pipeline", false, "track the pipeline of the merge commit")
	return cmd
}

func runWatchMR(cmd *cobra.Command, configPath string, opts watch.CreateMergeRequestOpts) error {
	cfg, gdb, err := openDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	rc, err := newRemote(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	mr, err := watch.RegisterMergeRequest(cmd.Context(), gdb, rc, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching MR !%d in project %d (%s)\n", mr.RemoteID, mr.ProjectID, colorStatus(mr.Status))
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", mr.WebURL)
	return nil
}

func newWatchPipelineCmd() *cobra.Command {
	var (
		configPath  string
		notifyOnEnd bool
	)

	cmd := &cobra.Command{
		Use:   "pipeline [project] <pipeline>",
		Short: "Watch a pipeline",
		Long: "Watches a pipeline until it finishes. A commit can only have one running pipeline watch.\n" +
			"The project defaults to the one linked by sb init.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			project, pipelineID, err := parseIDs(args)
			if err != nil {
				return err
			}
			return runWatchPipeline(cmd, configPath, project, pipelineID, notifyOnEnd)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&notifyOnEnd, "notify", false, "notify when the pipeline finishes")
	return cmd
}

func runWatchPipeline(cmd *cobra.Command, configPath string, project, pipelineID int64, notifyOnEnd bool) error {
	cfg, gdb, err := openDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	rc, err := newRemote(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	p, err := watch.RegisterPipeline(cmd.Context(), gdb, rc, project, pipelineID, notifyOnEnd)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching pipeline #%d in project %d (%s)\n", p.RemoteID, p.ProjectID, colorStatus(p.Status))
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", p.WebURL)
	return nil
}
