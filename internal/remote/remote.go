// Package remote talks to the code hosting service: pipelines and merge
// requests on GitLab, or workflow runs and pull requests on GitHub.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/models"
)

var (
	// ErrNotFound is returned when the remote has no such project, pipeline
	// or merge request.
	ErrNotFound = errors.New("remote: not found")

	// ErrUnsupported is returned for an option the provider cannot honor.
	ErrUnsupported = errors.New("remote: unsupported")

	// ErrReviewRequest is returned alongside a created merge request whose
	// reviewers could not be requested.
	ErrReviewRequest = errors.New("remote: review request failed")
)

// Project is a hosted repository. Path is the full path, e.g.
// "group/sub/project" on GitLab or "owner/repo" on GitHub.
type Project struct {
	ID        int64
	Name      string
	Path      string
	Namespace string
	WebURL    string
}

// Pipeline is a remote pipeline as seen by the engine.
type Pipeline struct {
	ID        int64
	ProjectID int64
	Status    models.PipelineStatus
	WebURL    string
	SHA       string
}

// MergeRequest is a remote merge request as seen by the engine. ID is the
// project-scoped number (IID on GitLab, PR number on GitHub).
type MergeRequest struct {
	ID             int64
	ProjectID      int64
	Title          string
	State          models.MergeRequestState
	HasConflicts   bool
	WebURL         string
	MergeCommitSHA string
	SourceBranch   string
	TargetBranch   string
	HeadPipeline   *Pipeline
}

// CreateMergeRequestOpts describes a merge request to open.
type CreateMergeRequestOpts struct {
	SourceBranch       string
	TargetBranch       string
	Title              string
	RemoveSourceBranch bool
	Reviewers          []string // usernames
}

// Client is the set of hosting operations the engine and CLI rely on.
// Errors are transport or API failures; callers treat them as transient.
type Client interface {
	GetProject(ctx context.Context, path string) (*Project, error)
	GetPipeline(ctx context.Context, projectID, pipelineID int64) (*Pipeline, error)
	// GetPipelineBySHA returns nil and no error when the commit has no pipeline yet.
	GetPipelineBySHA(ctx context.Context, projectID int64, sha string) (*Pipeline, error)
	GetMergeRequest(ctx context.Context, projectID, mrID int64) (*MergeRequest, error)
	MergeMergeRequest(ctx context.Context, projectID, mrID int64) (*MergeRequest, error)
	CreateMergeRequest(ctx context.Context, projectID int64, opts CreateMergeRequestOpts) (*MergeRequest, error)
}

// New builds the client for the configured provider. A missing token is a
// startup error.
func New(ctx context.Context, cfg *config.Config) (Client, error) {
	switch cfg.Provider {
	case config.ProviderGitHub:
		if cfg.GitHub.Token == "" {
			return nil, fmt.Errorf("remote: github.token is required")
		}
		return NewGitHub(ctx, cfg.GitHub.BaseURL, cfg.GitHub.Token)
	case config.ProviderGitLab, "":
		if cfg.GitLab.Token == "" {
			return nil, fmt.Errorf("remote: gitlab.token is required")
		}
		return NewGitLab(cfg.GitLab.Host, cfg.GitLab.Token)
	default:
		return nil, fmt.Errorf("remote: unsupported provider %q", cfg.Provider)
	}
}

// DefaultTitle is the title used when a merge request is created without one.
func DefaultTitle(source, target string) string {
	return fmt.Sprintf("Merge %s into %s", source, target)
}

// ParseRepoURL splits a git remote URL into host and project path. Both
// URL forms (https://host/group/project.git, ssh://git@host/group/project)
// and scp-like addresses (git@host:group/project.git) are accepted.
func ParseRepoURL(raw string) (host, path string, err error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", fmt.Errorf("remote: parse repository url %q: %w", raw, err)
		}
		host, path = u.Hostname(), u.Path
	} else if at := strings.Index(raw, ":"); at > 0 {
		host, path = raw[:at], raw[at+1:]
		if i := strings.LastIndex(host, "@"); i >= 0 {
			host = host[i+1:]
		}
	}
	path = strings.TrimSuffix(strings.Trim(path, "/"), ".git")
	if host == "" || path == "" || !strings.Contains(path, "/") {
		return "", "", fmt.Errorf("remote: %q is not a repository url", raw)
	}
	return host, path, nil
}
