package main

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/remote"
)

// gitOriginURL returns the origin remote of the repository at dir. Replaced in tests.
var gitOriginURL = func(ctx context.Context, dir string) (string, error) {
	out, err := exec.CommandContext(ctx, "git", "-C", dir, "remote", "get-url", "origin").Output()
	if err != nil {
		return "", fmt.Errorf("read origin remote in %s: %w", dir, err)
	}
	return strings.TrimSpace(string(out)), nil
}

func newInitCmd() *cobra.Command {
	var (
		configPath string
		dir        string
		reviewers  []string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Link a repository to its remote project",
		Long: "Looks up the project behind the repository's origin remote and records it in\n" +
			config.ProjectFile + ". Commands run inside the repository then default to that project.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, configPath, dir, reviewers)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&dir, "dir", ".", "repository directory")
	cmd.Flags().StringSliceVar(&reviewers, "reviewer", nil, "default reviewer for mr create --review (repeatable)")
	return cmd
}

func runInit(cmd *cobra.Command, configPath, dir string, reviewers []string) error {
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	origin, err := gitOriginURL(cmd.Context(), dir)
	if err != nil {
		return err
	}
	host, path, err := remote.ParseRepoURL(origin)
	if err != nil {
		return err
	}
	if want := remoteHost(cfg); !strings.EqualFold(host, want) {
		return fmt.Errorf("repository host %s does not match the configured %s host %s", host, cfg.Provider, want)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Looking up %s on %s...\n", path, host)

	rc, err := newRemote(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	p, err := rc.GetProject(cmd.Context(), path)
	if err != nil {
		return err
	}
	if p.Namespace != "" {
		fmt.Fprintf(out, "Group:   %s\n", p.Namespace)
	}
	fmt.Fprintf(out, "Project: %s (%s)\n", p.Name, p.WebURL)

	proj := &config.Project{
		ProjectID: p.ID,
		Path:      p.Path,
		Namespace: p.Namespace,
		WebURL:    p.WebURL,
		Reviewers: reviewers,
	}
	// Re-running init keeps reviewers unless new ones are given.
	if len(reviewers) == 0 {
		if prev, err := config.LoadProject(filepath.Join(dir, config.ProjectFile)); err == nil {
			proj.Reviewers = prev.Reviewers
		}
	}
	if err := config.SaveProject(dir, proj); err != nil {
		return err
	}
	fmt.Fprintf(out, "Initialized project %d in %s\n", p.ID, filepath.Join(dir, config.ProjectFile))
	return nil
}

// remoteHost returns the hostname repositories of the configured provider
// live on.
func remoteHost(cfg *config.Config) string {
	raw := cfg.GitLab.Host
	if cfg.Provider == config.ProviderGitHub {
		raw = cfg.GitHub.BaseURL
		if raw == "" {
			return "github.com"
		}
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Hostname()
}
