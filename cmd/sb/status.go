package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/chain"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/signalman"
	"github.com/zulandar/signalbox/internal/watch"
)

func newStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show everything currently being watched",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runStatus(cmd *cobra.Command, configPath string) error {
	_, gdb, err := openDB(configPath)
	if err != nil {
		return err
	}
	defer db.Close(gdb)
	out := cmd.OutOrStdout()

	summary, err := signalman.Summarize(gdb)
	if err != nil {
		return err
	}
	if summary.Empty() {
		fmt.Fprintln(out, "Nothing in flight.")
		return nil
	}

	mrs, err := watch.OpenMergeRequests(gdb)
	if err != nil {
		return err
	}
	if len(mrs) > 0 {
		fmt.Fprintf(out, "%s (%d)\n", sectionTitle("merge requests"), len(mrs))
		for _, mr := range mrs {
			flags := ""
			if mr.AutoMerge {
				flags += " auto-merge"
			}
			if mr.HasConflicts {
				flags += " conflicts"
			}
			fmt.Fprintf(out, "  %-40s %s%s\n", truncate(mr.Title(""), 40), colorStatus(mr.Status), flags)
		}
	}

	pipelines, err := watch.PendingPipelines(gdb)
	if err != nil {
		return err
	}
	if len(pipelines) > 0 {
		fmt.Fprintf(out, "%s (%d)\n", sectionTitle("pipelines"), len(pipelines))
		for _, p := range pipelines {
			fmt.Fprintf(out, "  #%-10d project %-8d %s\n", p.RemoteID, p.ProjectID, colorStatus(p.Status))
		}
	}

	tasks, err := chain.Active(gdb)
	if err != nil {
		return err
	}
	if len(tasks) > 0 {
		fmt.Fprintf(out, "%s (%d)\n", sectionTitle("chains"), len(tasks))
		for i := range tasks {
			printChain(cmd, &tasks[i])
		}
	}
	return nil
}
