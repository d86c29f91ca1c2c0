package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/signalbox/internal/models"
)

type key struct {
	project int64
	id      int64
}

// MergeCall records one MergeMergeRequest invocation.
type MergeCall struct {
	ProjectID int64
	MRID      int64
}

// CreateCall records one CreateMergeRequest invocation.
type CreateCall struct {
	ProjectID int64
	Opts      CreateMergeRequestOpts
}

// MockClient implements Client in memory for testing. Merging a request
// flips its stored state to merged so later reads observe the merge.
type MockClient struct {
	mu sync.Mutex

	pipelines     map[key]*Pipeline
	pipelinesSHA  map[string]*Pipeline // "project:sha"
	mergeRequests map[key]*MergeRequest
	projects      map[string]*Project

	pipelineErr error
	mrErr       error
	mergeErr    error
	createErr   error
	shaErr      error

	nextIID     int64
	mergeSHA    string
	merges      []MergeCall
	creates     []CreateCall
	pipelineGet int
	mrGet       int
}

// NewMockClient creates an empty MockClient.
func NewMockClient() *MockClient {
	return &MockClient{
		pipelines:     make(map[key]*Pipeline),
		pipelinesSHA:  make(map[string]*Pipeline),
		mergeRequests: make(map[key]*MergeRequest),
		projects:      make(map[string]*Project),
		nextIID:       100,
		mergeSHA:      "0000000000000000000000000000000000000000",
	}
}

func shaKey(project int64, sha string) string { return fmt.Sprintf("%d:%s", project, sha) }

// SetPipeline stores p under (p.ProjectID, p.ID) and under its SHA.
func (m *MockClient) SetPipeline(p Pipeline) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.pipelines[key{p.ProjectID, p.ID}] = &cp
	if p.SHA != "" {
		m.pipelinesSHA[shaKey(p.ProjectID, p.SHA)] = &cp
	}
}

// SetMergeRequest stores mr under (mr.ProjectID, mr.ID).
func (m *MockClient) SetMergeRequest(mr MergeRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := mr
	m.mergeRequests[key{mr.ProjectID, mr.ID}] = &cp
}

// SetProject stores p under its path.
func (m *MockClient) SetProject(p Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := p
	m.projects[p.Path] = &cp
}

// SetMergeSHA sets the commit SHA returned by successful merges.
func (m *MockClient) SetMergeSHA(sha string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeSHA = sha
}

// FailPipelines makes GetPipeline return err. Nil clears it.
func (m *MockClient) FailPipelines(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelineErr = err
}

// FailPipelinesBySHA makes GetPipelineBySHA return err. Nil clears it.
func (m *MockClient) FailPipelinesBySHA(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shaErr = err
}

// FailMergeRequests makes GetMergeRequest return err. Nil clears it.
func (m *MockClient) FailMergeRequests(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mrErr = err
}

// FailMerges makes MergeMergeRequest return err. Nil clears it.
func (m *MockClient) FailMerges(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mergeErr = err
}

// FailCreates makes CreateMergeRequest return err. Nil clears it.
func (m *MockClient) FailCreates(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createErr = err
}

// Merges returns a copy of all merge calls.
func (m *MockClient) Merges() []MergeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MergeCall, len(m.merges))
	copy(out, m.merges)
	return out
}

// Creates returns a copy of all create calls.
func (m *MockClient) Creates() []CreateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CreateCall, len(m.creates))
	copy(out, m.creates)
	return out
}

// PipelineFetches returns how many times GetPipeline was called.
func (m *MockClient) PipelineFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipelineGet
}

// MergeRequestFetches returns how many times GetMergeRequest was called.
func (m *MockClient) MergeRequestFetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mrGet
}

// GetProject returns the stored project or ErrNotFound.
func (m *MockClient) GetProject(ctx context.Context, path string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[path]
	if !ok {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, path)
	}
	cp := *p
	return &cp, nil
}

// GetPipeline returns the stored pipeline or ErrNotFound.
func (m *MockClient) GetPipeline(ctx context.Context, projectID, pipelineID int64) (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pipelineGet++
	if m.pipelineErr != nil {
		return nil, m.pipelineErr
	}
	p, ok := m.pipelines[key{projectID, pipelineID}]
	if !ok {
		return nil, fmt.Errorf("%w: pipeline %d", ErrNotFound, pipelineID)
	}
	cp := *p
	return &cp, nil
}

// GetPipelineBySHA returns the stored pipeline for sha, or nil.
func (m *MockClient) GetPipelineBySHA(ctx context.Context, projectID int64, sha string) (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shaErr != nil {
		return nil, m.shaErr
	}
	p, ok := m.pipelinesSHA[shaKey(projectID, sha)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// GetMergeRequest returns the stored merge request or ErrNotFound.
func (m *MockClient) GetMergeRequest(ctx context.Context, projectID, mrID int64) (*MergeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mrGet++
	if m.mrErr != nil {
		return nil, m.mrErr
	}
	mr, ok := m.mergeRequests[key{projectID, mrID}]
	if !ok {
		return nil, fmt.Errorf("%w: merge request !%d", ErrNotFound, mrID)
	}
	cp := *mr
	if mr.HeadPipeline != nil {
		hp := *mr.HeadPipeline
		cp.HeadPipeline = &hp
	}
	return &cp, nil
}

// MergeMergeRequest records the call and marks the stored request merged.
func (m *MockClient) MergeMergeRequest(ctx context.Context, projectID, mrID int64) (*MergeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.merges = append(m.merges, MergeCall{ProjectID: projectID, MRID: mrID})
	if m.mergeErr != nil {
		return nil, m.mergeErr
	}
	mr, ok := m.mergeRequests[key{projectID, mrID}]
	if !ok {
		return nil, fmt.Errorf("%w: merge request !%d", ErrNotFound, mrID)
	}
	mr.State = models.MergeRequestMerged
	mr.MergeCommitSHA = m.mergeSHA
	cp := *mr
	return &cp, nil
}

// CreateMergeRequest records the call and stores an opened merge request
// with the next free number.
func (m *MockClient) CreateMergeRequest(ctx context.Context, projectID int64, opts CreateMergeRequestOpts) (*MergeRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates = append(m.creates, CreateCall{ProjectID: projectID, Opts: opts})
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextIID++
	title := opts.Title
	if title == "" {
		title = DefaultTitle(opts.SourceBranch, opts.TargetBranch)
	}
	mr := &MergeRequest{
		ID:           m.nextIID,
		ProjectID:    projectID,
		Title:        title,
		State:        models.MergeRequestOpened,
		WebURL:       fmt.Sprintf("https://example.test/%d/merge_requests/%d", projectID, m.nextIID),
		SourceBranch: opts.SourceBranch,
		TargetBranch: opts.TargetBranch,
	}
	m.mergeRequests[key{projectID, mr.ID}] = mr
	cp := *mr
	return &cp, nil
}
