package main

import (
	"errors"
	"fmt"
	"slices"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/remote"
	"github.com/zulandar/signalbox/internal/watch"
)

func newMRCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mr",
		Aliases: []string{"pr"},
		Short:   "Merge request commands",
	}

	cmd.AddCommand(newMRCreateCmd())
	return cmd
}

func newMRCreateCmd() *cobra.Command {
	var (
		configPath    string
		project       int64
		source        string
		target        string
		title         string
		removeSource  bool
		review        bool
		reviewers     []string
		autoMerge     bool
		notifyOnEnd   bool
		watchPipeline bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a merge request and watch it",
		Long: "Opens a merge request and watches it. --review requests review from the reviewers\n" +
			"recorded by sb init; --reviewer adds more.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMRCreate(cmd, configPath, project, review, remote.CreateMergeRequestOpts{
				SourceBranch:       source,
				TargetBranch:       target,
				Title:              title,
				RemoveSourceBranch: removeSource,
				Reviewers:          reviewers,
			}, watch.CreateMergeRequestOpts{
				AutoMerge:               autoMerge,
				NotifyOnEnd:             notifyOnEnd,
				WatchPipelineAfterMerge: watchPipeline,
			})
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().Int64Var(&project, "project", 0, "project id (default: the project linked by sb init)")
	cmd.Flags().StringVar(&source, "source", "", "source branch (required)")
	cmd.Flags().StringVar(&target, "target", "", "target branch (required)")
	cmd.Flags().StringVar(&title, "title", "", "title (default \"Merge <source> into <target>\")")
	cmd.Flags().BoolVar(&removeSource, "remove-source-branch", false, "delete the source branch after merge")
	cmd.Flags().BoolVar(&review, "review", false, "request review from the project's reviewers")
	cmd.Flags().StringSliceVar(&reviewers, "reviewer", nil, "request review from this username (repeatable)")
	cmd.Flags().BoolVar(&autoMerge, "auto-merge", false, "merge automatically when mergeable")
	cmd.Flags().BoolVar(&notifyOnEnd, "notify", false, "notify when the merge request is merged or closed")
	cmd.Flags().BoolVar(&watchPipeline, "watch-pipeline", false, "track the pipeline of the merge commit")
	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("target")
	return cmd
}

func runMRCreate(cmd *cobra.Command, configPath string, project int64, review bool, create remote.CreateMergeRequestOpts, opts watch.CreateMergeRequestOpts) error {
	if create.SourceBranch == create.TargetBranch {
		return fmt.Errorf("source and target branch are both %q", create.SourceBranch)
	}
	project, err := resolveProject(project)
	if err != nil {
		return err
	}
	if review {
		create.Reviewers, err = projectReviewers(create.Reviewers)
		if err != nil {
			return err
		}
	}

	cfg, gdb, err := openDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	rc, err := newRemote(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	rmr, err := rc.CreateMergeRequest(cmd.Context(), project, create)
	switch {
	case err == nil:
	case rmr != nil && errors.Is(err, remote.ErrReviewRequest):
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
	default:
		return fmt.Errorf("create merge request: %w", err)
	}

	opts.RemoteID = rmr.ID
	opts.ProjectID = project
	opts.WebURL = rmr.WebURL
	mr, err := watch.CreateMergeRequest(gdb, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created MR !%d: %s\n", mr.RemoteID, rmr.Title)
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", mr.WebURL)
	return nil
}

// projectReviewers adds the reviewers recorded by sb init to extra.
func projectReviewers(extra []string) ([]string, error) {
	p, err := currentProject()
	if err != nil {
		return nil, err
	}
	reviewers := append([]string(nil), extra...)
	if p != nil {
		for _, r := range p.Reviewers {
			if !slices.Contains(reviewers, r) {
				reviewers = append(reviewers, r)
			}
		}
	}
	if len(reviewers) == 0 {
		return nil, fmt.Errorf("--review needs reviewers: pass --reviewer or run sb init --reviewer")
	}
	return reviewers, nil
}
