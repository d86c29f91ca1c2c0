package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/zulandar/signalbox/internal/models"
)

// GitHub implements Client against the GitHub REST API. Projects are
// addressed by numeric repository id; pipelines are workflow runs and merge
// requests are pull requests.
type GitHub struct {
	client *github.Client

	mu    sync.Mutex
	repos map[int64]repoRef
}

type repoRef struct {
	owner string
	name  string
}

// NewGitHub creates a client. An empty baseURL targets github.com; anything
// else is treated as a GitHub Enterprise server.
func NewGitHub(ctx context.Context, baseURL, token string) (*GitHub, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL != "" {
		ent, err := client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("remote: github enterprise url %q: %w", baseURL, err)
		}
		client = ent
	}
	return &GitHub{client: client, repos: make(map[int64]repoRef)}, nil
}

func ghNotFound(resp *github.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotFound
}

// repo resolves a repository id to owner and name, caching the result.
func (g *GitHub) repo(ctx context.Context, projectID int64) (repoRef, error) {
	g.mu.Lock()
	ref, ok := g.repos[projectID]
	g.mu.Unlock()
	if ok {
		return ref, nil
	}

	r, resp, err := g.client.Repositories.GetByID(ctx, projectID)
	if err != nil {
		if ghNotFound(resp) {
			return repoRef{}, fmt.Errorf("%w: repository %d", ErrNotFound, projectID)
		}
		return repoRef{}, fmt.Errorf("remote: resolve repository %d: %w", projectID, err)
	}
	ref = repoRef{owner: r.GetOwner().GetLogin(), name: r.GetName()}

	g.mu.Lock()
	g.repos[projectID] = ref
	g.mu.Unlock()
	return ref, nil
}

// GetProject looks a repository up by "owner/name".
func (g *GitHub) GetProject(ctx context.Context, path string) (*Project, error) {
	owner, name, ok := strings.Cut(path, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("remote: %q is not an owner/name repository path", path)
	}
	r, resp, err := g.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		if ghNotFound(resp) {
			return nil, fmt.Errorf("%w: repository %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("remote: get repository %s: %w", path, err)
	}

	g.mu.Lock()
	g.repos[r.GetID()] = repoRef{owner: r.GetOwner().GetLogin(), name: r.GetName()}
	g.mu.Unlock()

	return &Project{
		ID:        r.GetID(),
		Name:      r.GetName(),
		Path:      r.GetFullName(),
		Namespace: r.GetOwner().GetLogin(),
		WebURL:    r.GetHTMLURL(),
	}, nil
}

// runStatus maps a workflow run's status and conclusion onto pipeline statuses.
func runStatus(status, conclusion string) models.PipelineStatus {
	switch status {
	case "queued", "requested", "pending":
		return models.PipelinePending
	case "waiting":
		return models.PipelineWaitingForResource
	case "in_progress":
		return models.PipelineRunning
	case "completed":
		switch conclusion {
		case "success", "neutral":
			return models.PipelineSuccess
		case "failure", "timed_out", "startup_failure":
			return models.PipelineFailed
		case "cancelled", "stale":
			return models.PipelineCanceled
		case "skipped":
			return models.PipelineSkipped
		case "action_required":
			return models.PipelineManual
		}
	}
	return models.PipelineUnknown
}

func githubRun(projectID int64, run *github.WorkflowRun) *Pipeline {
	return &Pipeline{
		ID:        run.GetID(),
		ProjectID: projectID,
		Status:    runStatus(run.GetStatus(), run.GetConclusion()),
		WebURL:    run.GetHTMLURL(),
		SHA:       run.GetHeadSHA(),
	}
}

// combineRuns folds every workflow run for one commit into a single
// pipeline: failed if any failed, in progress while any is unfinished,
// success once all succeeded.
func combineRuns(projectID int64, runs []*github.WorkflowRun) *Pipeline {
	if len(runs) == 0 {
		return nil
	}
	var combined *Pipeline
	for _, run := range runs {
		p := githubRun(projectID, run)
		switch {
		case combined == nil:
			combined = p
		case p.Status.IsFailed() && !combined.Status.IsFailed():
			combined = p
		case !p.Status.IsTerminal() && combined.Status.IsSuccess():
			combined = p
		}
	}
	return combined
}

func (g *GitHub) runsForSHA(ctx context.Context, projectID int64, sha string) ([]*github.WorkflowRun, error) {
	ref, err := g.repo(ctx, projectID)
	if err != nil {
		return nil, err
	}
	runs, resp, err := g.client.Actions.ListRepositoryWorkflowRuns(ctx, ref.owner, ref.name, &github.ListWorkflowRunsOptions{
		HeadSHA:     sha,
		ListOptions: github.ListOptions{PerPage: 50},
	})
	if err != nil {
		if ghNotFound(resp) {
			return nil, nil
		}
		return nil, fmt.Errorf("remote: list workflow runs for %s: %w", sha, err)
	}
	return runs.WorkflowRuns, nil
}

// GetPipeline fetches a workflow run by id.
func (g *GitHub) GetPipeline(ctx context.Context, projectID, pipelineID int64) (*Pipeline, error) {
	ref, err := g.repo(ctx, projectID)
	if err != nil {
		return nil, err
	}
	run, resp, err := g.client.Actions.GetWorkflowRunByID(ctx, ref.owner, ref.name, pipelineID)
	if err != nil {
		if ghNotFound(resp) {
			return nil, fmt.Errorf("%w: workflow run %d in %s/%s", ErrNotFound, pipelineID, ref.owner, ref.name)
		}
		return nil, fmt.Errorf("remote: get workflow run %d: %w", pipelineID, err)
	}
	return githubRun(projectID, run), nil
}

// GetPipelineBySHA combines the workflow runs for sha, or returns nil when
// there are none.
func (g *GitHub) GetPipelineBySHA(ctx context.Context, projectID int64, sha string) (*Pipeline, error) {
	runs, err := g.runsForSHA(ctx, projectID, sha)
	if err != nil {
		return nil, err
	}
	return combineRuns(projectID, runs), nil
}

func githubPullRequest(projectID int64, pr *github.PullRequest) *MergeRequest {
	state := models.MergeRequestOpened
	switch {
	case pr.GetMerged():
		state = models.MergeRequestMerged
	case pr.GetState() == "closed":
		state = models.MergeRequestClosed
	case pr.GetState() != "open":
		state = models.MergeRequestUnknown
	}
	out := &MergeRequest{
		ID:           int64(pr.GetNumber()),
		ProjectID:    projectID,
		Title:        pr.GetTitle(),
		State:        state,
		HasConflicts: strings.EqualFold(pr.GetMergeableState(), "dirty"),
		WebURL:       pr.GetHTMLURL(),
		SourceBranch: pr.GetHead().GetRef(),
		TargetBranch: pr.GetBase().GetRef(),
	}
	if pr.GetMerged() {
		out.MergeCommitSHA = pr.GetMergeCommitSHA()
	}
	return out
}

// GetMergeRequest fetches a pull request with its combined head-commit runs.
func (g *GitHub) GetMergeRequest(ctx context.Context, projectID, mrID int64) (*MergeRequest, error) {
	ref, err := g.repo(ctx, projectID)
	if err != nil {
		return nil, err
	}
	pr, resp, err := g.client.PullRequests.Get(ctx, ref.owner, ref.name, int(mrID))
	if err != nil {
		if ghNotFound(resp) {
			return nil, fmt.Errorf("%w: pull request #%d in %s/%s", ErrNotFound, mrID, ref.owner, ref.name)
		}
		return nil, fmt.Errorf("remote: get pull request #%d: %w", mrID, err)
	}
	out := githubPullRequest(projectID, pr)

	if sha := pr.GetHead().GetSHA(); sha != "" {
		runs, err := g.runsForSHA(ctx, projectID, sha)
		if err != nil {
			return nil, err
		}
		out.HeadPipeline = combineRuns(projectID, runs)
	}
	return out, nil
}

// MergeMergeRequest merges a pull request. GitHub answers 405 or 409 when
// the pull request cannot be merged.
func (g *GitHub) MergeMergeRequest(ctx context.Context, projectID, mrID int64) (*MergeRequest, error) {
	ref, err := g.repo(ctx, projectID)
	if err != nil {
		return nil, err
	}
	res, resp, err := g.client.PullRequests.Merge(ctx, ref.owner, ref.name, int(mrID), "", nil)
	if err != nil {
		if ghNotFound(resp) {
			return nil, fmt.Errorf("%w: pull request #%d in %s/%s", ErrNotFound, mrID, ref.owner, ref.name)
		}
		return nil, fmt.Errorf("remote: merge #%d: %w", mrID, err)
	}
	if !res.GetMerged() {
		return nil, fmt.Errorf("remote: merge #%d: %s", mrID, res.GetMessage())
	}
	return &MergeRequest{
		ID:             mrID,
		ProjectID:      projectID,
		State:          models.MergeRequestMerged,
		MergeCommitSHA: res.GetSHA(),
	}, nil
}

// CreateMergeRequest opens a pull request from opts.SourceBranch. GitHub
// deletes head branches per repository ("Automatically delete head
// branches"), so RemoveSourceBranch is rejected. When the reviewer request
// fails the created pull request is returned with an ErrReviewRequest error.
func (g *GitHub) CreateMergeRequest(ctx context.Context, projectID int64, opts CreateMergeRequestOpts) (*MergeRequest, error) {
	if opts.RemoveSourceBranch {
		return nil, fmt.Errorf("%w: github cannot remove the source branch per pull request; enable automatic head branch deletion on the repository", ErrUnsupported)
	}
	ref, err := g.repo(ctx, projectID)
	if err != nil {
		return nil, err
	}
	title := opts.Title
	if title == "" {
		title = DefaultTitle(opts.SourceBranch, opts.TargetBranch)
	}
	pr, _, err := g.client.PullRequests.Create(ctx, ref.owner, ref.name, &github.NewPullRequest{
		Title: github.Ptr(title),
		Head:  github.Ptr(opts.SourceBranch),
		Base:  github.Ptr(opts.TargetBranch),
	})
	if err != nil {
		return nil, fmt.Errorf("remote: create pull request %s -> %s: %w", opts.SourceBranch, opts.TargetBranch, err)
	}
	out := githubPullRequest(projectID, pr)
	if len(opts.Reviewers) > 0 {
		_, _, err := g.client.PullRequests.RequestReviewers(ctx, ref.owner, ref.name, pr.GetNumber(), github.ReviewersRequest{Reviewers: opts.Reviewers})
		if err != nil {
			return out, fmt.Errorf("%w: #%d: %v", ErrReviewRequest, out.ID, err)
		}
	}
	return out, nil
}
