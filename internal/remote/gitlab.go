package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/zulandar/signalbox/internal/models"
)

// GitLab implements Client against the GitLab REST API.
type GitLab struct {
	client *gitlab.Client
}

// NewGitLab creates a client for host (e.g. "gitlab.com" or
// "https://gitlab.example.com").
func NewGitLab(host, token string) (*GitLab, error) {
	c, err := gitlab.NewClient(token, gitlab.WithBaseURL(gitlabBaseURL(host)))
	if err != nil {
		return nil, fmt.Errorf("remote: gitlab client: %w", err)
	}
	return &GitLab{client: c}, nil
}

func gitlabBaseURL(host string) string {
	if host == "" {
		host = "gitlab.com"
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	return strings.TrimSuffix(host, "/") + "/api/v4/"
}

func notFound(resp *gitlab.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

func gitlabPipeline(projectID int64, p *gitlab.Pipeline) *Pipeline {
	if p == nil {
		return nil
	}
	return &Pipeline{
		ID:        int64(p.ID),
		ProjectID: projectID,
		Status:    models.ParsePipelineStatus(p.Status),
		WebURL:    p.WebURL,
		SHA:       p.SHA,
	}
}

func gitlabMergeRequest(projectID int64, mr *gitlab.MergeRequest) *MergeRequest {
	out := &MergeRequest{
		ID:             int64(mr.IID),
		ProjectID:      projectID,
		Title:          mr.Title,
		State:          models.ParseMergeRequestState(mr.State),
		HasConflicts:   mr.HasConflicts,
		WebURL:         mr.WebURL,
		MergeCommitSHA: mr.MergeCommitSHA,
		SourceBranch:   mr.SourceBranch,
		TargetBranch:   mr.TargetBranch,
	}
	if mr.HeadPipeline != nil {
		out.HeadPipeline = gitlabPipeline(projectID, mr.HeadPipeline)
	}
	return out
}

// GetProject looks a project up by its full path.
func (g *GitLab) GetProject(ctx context.Context, path string) (*Project, error) {
	p, resp, err := g.client.Projects.GetProject(path, nil, gitlab.WithContext(ctx))
	if err != nil {
		if notFound(resp) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("remote: get project %s: %w", path, err)
	}
	out := &Project{
		ID:     int64(p.ID),
		Name:   p.Name,
		Path:   p.PathWithNamespace,
		WebURL: p.WebURL,
	}
	if p.Namespace != nil {
		out.Namespace = p.Namespace.FullPath
	}
	return out, nil
}

// userIDs resolves usernames to user ids.
func (g *GitLab) userIDs(ctx context.Context, usernames []string) ([]int, error) {
	ids := make([]int, 0, len(usernames))
	for _, name := range usernames {
		users, _, err := g.client.Users.ListUsers(&gitlab.ListUsersOptions{Username: gitlab.Ptr(name)}, gitlab.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("remote: look up user %s: %w", name, err)
		}
		if len(users) == 0 {
			return nil, fmt.Errorf("%w: user %s", ErrNotFound, name)
		}
		ids = append(ids, users[0].ID)
	}
	return ids, nil
}

// GetPipeline fetches a pipeline by id.
func (g *GitLab) GetPipeline(ctx context.Context, projectID, pipelineID int64) (*Pipeline, error) {
	p, resp, err := g.client.Pipelines.GetPipeline(int(projectID), int(pipelineID), gitlab.WithContext(ctx))
	if err != nil {
		if notFound(resp) {
			return nil, fmt.Errorf("%w: pipeline %d in project %d", ErrNotFound, pipelineID, projectID)
		}
		return nil, fmt.Errorf("remote: get pipeline %d: %w", pipelineID, err)
	}
	return gitlabPipeline(projectID, p), nil
}

// GetPipelineBySHA returns the newest pipeline for sha, or nil when none exists.
func (g *GitLab) GetPipelineBySHA(ctx context.Context, projectID int64, sha string) (*Pipeline, error) {
	opts := &gitlab.ListProjectPipelinesOptions{
		SHA:         gitlab.Ptr(sha),
		OrderBy:     gitlab.Ptr("id"),
		Sort:        gitlab.Ptr("desc"),
		ListOptions: gitlab.ListOptions{PerPage: 1},
	}
	infos, resp, err := g.client.Pipelines.ListProjectPipelines(int(projectID), opts, gitlab.WithContext(ctx))
	if err != nil {
		if notFound(resp) {
			return nil, nil
		}
		return nil, fmt.Errorf("remote: list pipelines for %s: %w", sha, err)
	}
	if len(infos) == 0 {
		return nil, nil
	}
	info := infos[0]
	return &Pipeline{
		ID:        int64(info.ID),
		ProjectID: projectID,
		Status:    models.ParsePipelineStatus(info.Status),
		WebURL:    info.WebURL,
		SHA:       info.SHA,
	}, nil
}

// GetMergeRequest fetches a merge request by IID.
func (g *GitLab) GetMergeRequest(ctx context.Context, projectID, mrID int64) (*MergeRequest, error) {
	mr, resp, err := g.client.MergeRequests.GetMergeRequest(int(projectID), int(mrID), nil, gitlab.WithContext(ctx))
	if err != nil {
		if notFound(resp) {
			return nil, fmt.Errorf("%w: merge request !%d in project %d", ErrNotFound, mrID, projectID)
		}
		return nil, fmt.Errorf("remote: get merge request !%d: %w", mrID, err)
	}
	return gitlabMergeRequest(projectID, mr), nil
}

// MergeMergeRequest accepts a merge request. GitLab rejects unmergeable
// requests with 405, 406 or 409.
func (g *GitLab) MergeMergeRequest(ctx context.Context, projectID, mrID int64) (*MergeRequest, error) {
	mr, resp, err := g.client.MergeRequests.AcceptMergeRequest(int(projectID), int(mrID), &gitlab.AcceptMergeRequestOptions{}, gitlab.WithContext(ctx))
	if err != nil {
		if notFound(resp) {
			return nil, fmt.Errorf("%w: merge request !%d in project %d", ErrNotFound, mrID, projectID)
		}
		return nil, fmt.Errorf("remote: merge !%d: %w", mrID, err)
	}
	return gitlabMergeRequest(projectID, mr), nil
}

// CreateMergeRequest opens a merge request from opts.SourceBranch.
// Reviewers are resolved before anything is created.
func (g *GitLab) CreateMergeRequest(ctx context.Context, projectID int64, opts CreateMergeRequestOpts) (*MergeRequest, error) {
	title := opts.Title
	if title == "" {
		title = DefaultTitle(opts.SourceBranch, opts.TargetBranch)
	}
	create := &gitlab.CreateMergeRequestOptions{
		Title:              gitlab.Ptr(title),
		SourceBranch:       gitlab.Ptr(opts.SourceBranch),
		TargetBranch:       gitlab.Ptr(opts.TargetBranch),
		RemoveSourceBranch: gitlab.Ptr(opts.RemoveSourceBranch),
	}
	if len(opts.Reviewers) > 0 {
		ids, err := g.userIDs(ctx, opts.Reviewers)
		if err != nil {
			return nil, err
		}
		create.ReviewerIDs = &ids
	}
	mr, _, err := g.client.MergeRequests.CreateMergeRequest(int(projectID), create, gitlab.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("remote: create merge request %s -> %s: %w", opts.SourceBranch, opts.TargetBranch, err)
	}
	return gitlabMergeRequest(projectID, mr), nil
}
