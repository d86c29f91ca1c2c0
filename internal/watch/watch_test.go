package watch

import (
	"errors"
	"testing"

	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB creates an in-memory SQLite database with all signalbox tables.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

// --- pipelines ---

func TestCreatePipeline_Defaults(t *testing.T) {
	gdb := testDB(t)

	p, err := CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 5, ProjectID: 7, WebURL: "https://gl/p/5", SHA: "abc"})
	if err != nil {
		t.Fatalf("CreatePipeline: %v", err)
	}
	if p.ID == 0 {
		t.Error("expected local id to be assigned")
	}
	if p.Status != "created" {
		t.Errorf("Status = %q, want %q", p.Status, "created")
	}
	if p.SHA == nil || *p.SHA != "abc" {
		t.Errorf("SHA = %v, want abc", p.SHA)
	}
}

func TestCreatePipeline_RequiresIDs(t *testing.T) {
	gdb := testDB(t)
	if _, err := CreatePipeline(gdb, CreatePipelineOpts{ProjectID: 7}); err == nil {
		t.Error("expected error for missing pipeline id")
	}
	if _, err := CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 1}); err == nil {
		t.Error("expected error for missing project id")
	}
}

func TestCreatePipeline_DuplicateSHA(t *testing.T) {
	gdb := testDB(t)

	if _, err := CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 1, ProjectID: 7, SHA: "abc", Status: "running"}); err != nil {
		t.Fatalf("first CreatePipeline: %v", err)
	}
	_, err := CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 2, ProjectID: 7, SHA: "abc"})
	if !errors.Is(err, ErrDuplicatePipeline) {
		t.Fatalf("err = %v, want ErrDuplicatePipeline", err)
	}

	// Same SHA in another project is a different commit.
	if _, err := CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 3, ProjectID: 8, SHA: "abc"}); err != nil {
		t.Errorf("other project: %v", err)
	}
}

func TestCreatePipeline_TerminalSHAAllowsRetrack(t *testing.T) {
	gdb := testDB(t)

	if _, err := CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 1, ProjectID: 7, SHA: "abc", Status: "failed"}); err != nil {
		t.Fatalf("first CreatePipeline: %v", err)
	}
	if _, err := CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 2, ProjectID: 7, SHA: "abc"}); err != nil {
		t.Errorf("retrack after terminal: %v", err)
	}
}

func TestPendingPipelines_ExcludesTerminal(t *testing.T) {
	gdb := testDB(t)

	statuses := []string{"running", "success", "failed", "canceled", "skipped", "manual", "bogus"}
	for i, s := range statuses {
		if _, err := CreatePipeline(gdb, CreatePipelineOpts{RemoteID: int64(i + 1), ProjectID: 7, Status: s}); err != nil {
			t.Fatalf("CreatePipeline(%s): %v", s, err)
		}
	}

	ps, err := PendingPipelines(gdb)
	if err != nil {
		t.Fatalf("PendingPipelines: %v", err)
	}
	var got []string
	for _, p := range ps {
		got = append(got, p.Status)
	}
	want := []string{"running", "manual", "bogus"}
	if len(got) != len(want) {
		t.Fatalf("pending = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pending[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestUpdatePipelineStatus(t *testing.T) {
	gdb := testDB(t)
	p, _ := CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 5, ProjectID: 7, Status: "running"})

	if err := UpdatePipelineStatus(gdb, p.ID, models.PipelineFailed); err != nil {
		t.Fatalf("UpdatePipelineStatus: %v", err)
	}
	got, err := GetPipeline(gdb, p.ID)
	if err != nil {
		t.Fatalf("GetPipeline: %v", err)
	}
	if got.Status != "failed" {
		t.Errorf("Status = %q, want failed", got.Status)
	}

	// Unchanged status is still a successful write.
	if err := UpdatePipelineStatus(gdb, p.ID, models.PipelineFailed); err != nil {
		t.Errorf("idempotent update: %v", err)
	}
}

func TestUpdatePipelineStatus_NotFound(t *testing.T) {
	gdb := testDB(t)
	err := UpdatePipelineStatus(gdb, 999, models.PipelineSuccess)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetPipeline_NotFound(t *testing.T) {
	gdb := testDB(t)
	if _, err := GetPipeline(gdb, 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPipelineBySHA(t *testing.T) {
	gdb := testDB(t)

	got, err := PipelineBySHA(gdb, 7, "abc")
	if err != nil {
		t.Fatalf("PipelineBySHA: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}

	p, _ := CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 5, ProjectID: 7, SHA: "abc"})
	got, err = PipelineBySHA(gdb, 7, "abc")
	if err != nil {
		t.Fatalf("PipelineBySHA: %v", err)
	}
	if got == nil || got.ID != p.ID {
		t.Errorf("got %+v, want id %d", got, p.ID)
	}
}

func TestListPipelines_Filter(t *testing.T) {
	gdb := testDB(t)
	CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 1, ProjectID: 7, Status: "running"})
	CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 2, ProjectID: 7, Status: "success"})

	all, err := ListPipelines(gdb, "")
	if err != nil {
		t.Fatalf("ListPipelines: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].RemoteID != 2 {
		t.Errorf("first = %d, want newest (2)", all[0].RemoteID)
	}

	running, _ := ListPipelines(gdb, "running")
	if len(running) != 1 || running[0].RemoteID != 1 {
		t.Errorf("running = %+v, want pipeline 1", running)
	}
}

func TestStorageErrors(t *testing.T) {
	gdb := testDB(t)
	sqlDB, _ := gdb.DB()
	sqlDB.Close()

	if _, err := PendingPipelines(gdb); !errors.Is(err, db.ErrStorage) {
		t.Errorf("PendingPipelines err = %v, want ErrStorage", err)
	}
	if _, err := OpenMergeRequests(gdb); !errors.Is(err, db.ErrStorage) {
		t.Errorf("OpenMergeRequests err = %v, want ErrStorage", err)
	}
	if err := UpdateMergeRequestState(gdb, 1, "opened", false, ""); !errors.Is(err, db.ErrStorage) {
		t.Errorf("UpdateMergeRequestState err = %v, want ErrStorage", err)
	}
}

// --- merge requests ---

func TestCreateMergeRequest(t *testing.T) {
	gdb := testDB(t)

	mr, err := CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 42, ProjectID: 7, WebURL: "https://gl/mr/42", AutoMerge: true, NotifyOnEnd: true})
	if err != nil {
		t.Fatalf("CreateMergeRequest: %v", err)
	}
	if mr.Status != "opened" {
		t.Errorf("Status = %q, want opened", mr.Status)
	}
	if !mr.AutoMerge || !mr.NotifyOnEnd {
		t.Errorf("flags = %+v, want auto merge and notify", mr)
	}

	_, err = CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 42, ProjectID: 7})
	if !errors.Is(err, ErrDuplicateMergeRequest) {
		t.Errorf("err = %v, want ErrDuplicateMergeRequest", err)
	}
}

func TestOpenMergeRequests_FiltersAndOrders(t *testing.T) {
	gdb := testDB(t)
	a, _ := CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 1, ProjectID: 7})
	CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 2, ProjectID: 7, Status: "merged"})
	CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 3, ProjectID: 7, Status: "closed"})
	d, _ := CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 4, ProjectID: 7})

	open, err := OpenMergeRequests(gdb)
	if err != nil {
		t.Fatalf("OpenMergeRequests: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("len = %d, want 2", len(open))
	}
	if open[0].ID != a.ID || open[1].ID != d.ID {
		t.Errorf("ids = [%d %d], want [%d %d]", open[0].ID, open[1].ID, a.ID, d.ID)
	}
	if open[0].Chain != nil {
		t.Errorf("Chain = %+v, want nil for standalone request", open[0].Chain)
	}
}

func TestOpenMergeRequests_ChainContext(t *testing.T) {
	gdb := testDB(t)
	mr, _ := CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 11, ProjectID: 7})

	task := models.ChainTask{ProjectID: 7, Status: "pending", SourceBranch: "feature", TargetBranch: "main"}
	if err := gdb.Create(&task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}
	step := models.ChainStep{TaskID: task.ID, StepNumber: 1, Status: "pending", SourceBranch: "feature", TargetBranch: "staging", WatchMRID: &mr.ID}
	if err := gdb.Create(&step).Error; err != nil {
		t.Fatalf("create step: %v", err)
	}

	open, err := OpenMergeRequests(gdb)
	if err != nil {
		t.Fatalf("OpenMergeRequests: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("len = %d, want 1", len(open))
	}
	ch := open[0].Chain
	if ch == nil {
		t.Fatal("expected chain context")
	}
	if ch.TaskID != task.ID || ch.SourceBranch != "feature" || ch.TargetBranch != "main" {
		t.Errorf("chain = %+v, want task %d feature -> main", ch, task.ID)
	}
	if open[0].RemoteID != 11 {
		t.Errorf("RemoteID = %d, want 11", open[0].RemoteID)
	}
}

func TestOpenMergeRequest_Title(t *testing.T) {
	standalone := OpenMergeRequest{WatchedMergeRequest: models.WatchedMergeRequest{RemoteID: 42}}
	if got := standalone.Title("Add login"); got != "MR !42: Add login" {
		t.Errorf("Title = %q, want %q", got, "MR !42: Add login")
	}
	if got := standalone.Title(""); got != "MR !42" {
		t.Errorf("Title = %q, want %q", got, "MR !42")
	}

	chained := OpenMergeRequest{
		WatchedMergeRequest: models.WatchedMergeRequest{RemoteID: 42},
		Chain:               &ChainContext{TaskID: 3, SourceBranch: "feature", TargetBranch: "main"},
	}
	if got := chained.Title("ignored"); got != "#3: feature -> main" {
		t.Errorf("Title = %q, want %q", got, "#3: feature -> main")
	}
}

func TestUpdateMergeRequestState(t *testing.T) {
	gdb := testDB(t)
	mr, _ := CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 1, ProjectID: 7})

	if err := UpdateMergeRequestState(gdb, mr.ID, "opened", true, ""); err != nil {
		t.Fatalf("UpdateMergeRequestState: %v", err)
	}
	got, _ := GetMergeRequest(gdb, mr.ID)
	if !got.HasConflicts {
		t.Error("HasConflicts = false, want true")
	}

	// false must be written too, not skipped as a zero value.
	if err := UpdateMergeRequestState(gdb, mr.ID, "opened", false, ""); err != nil {
		t.Fatalf("UpdateMergeRequestState: %v", err)
	}
	got, _ = GetMergeRequest(gdb, mr.ID)
	if got.HasConflicts {
		t.Error("HasConflicts = true, want false")
	}

	if err := UpdateMergeRequestState(gdb, mr.ID, "merged", false, "beef"); err != nil {
		t.Fatalf("UpdateMergeRequestState: %v", err)
	}
	got, _ = GetMergeRequest(gdb, mr.ID)
	if got.Status != "merged" || got.MergeCommitSHA == nil || *got.MergeCommitSHA != "beef" {
		t.Errorf("merged row = %q %v, want merged beef", got.Status, got.MergeCommitSHA)
	}

	if err := UpdateMergeRequestState(gdb, 999, "opened", false, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMarkMerged(t *testing.T) {
	gdb := testDB(t)
	mr, _ := CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 1, ProjectID: 7})
	if err := SetMergeRequestFailMessage(gdb, mr.ID, "pipeline must succeed"); err != nil {
		t.Fatalf("SetMergeRequestFailMessage: %v", err)
	}

	if err := MarkMerged(gdb, mr.ID, "cafef00d"); err != nil {
		t.Fatalf("MarkMerged: %v", err)
	}
	got, _ := GetMergeRequest(gdb, mr.ID)
	if got.Status != "merged" {
		t.Errorf("Status = %q, want merged", got.Status)
	}
	if got.MergeCommitSHA == nil || *got.MergeCommitSHA != "cafef00d" {
		t.Errorf("MergeCommitSHA = %v, want cafef00d", got.MergeCommitSHA)
	}
	if got.FailMessage != nil {
		t.Errorf("FailMessage = %q, want cleared", *got.FailMessage)
	}
}

func TestMergedWithoutPipeline(t *testing.T) {
	gdb := testDB(t)

	want, _ := CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 1, ProjectID: 7, WatchPipelineAfterMerge: true})
	MarkMerged(gdb, want.ID, "aaa")

	// Not flagged.
	noFlag, _ := CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 2, ProjectID: 7})
	MarkMerged(gdb, noFlag.ID, "bbb")

	// Flagged but no SHA yet.
	CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 3, ProjectID: 7, WatchPipelineAfterMerge: true})

	// Flagged, merged, already tracked.
	tracked, _ := CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 4, ProjectID: 7, WatchPipelineAfterMerge: true})
	MarkMerged(gdb, tracked.ID, "ccc")
	CreatePipeline(gdb, CreatePipelineOpts{RemoteID: 50, ProjectID: 7, SHA: "ccc"})

	// Same SHA tracked in another project does not count.
	otherProject, _ := CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 5, ProjectID: 8, WatchPipelineAfterMerge: true})
	MarkMerged(gdb, otherProject.ID, "ccc")

	got, err := MergedWithoutPipeline(gdb)
	if err != nil {
		t.Fatalf("MergedWithoutPipeline: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].ID != want.ID || got[1].ID != otherProject.ID {
		t.Errorf("ids = [%d %d], want [%d %d]", got[0].ID, got[1].ID, want.ID, otherProject.ID)
	}
}

func TestListMergeRequests(t *testing.T) {
	gdb := testDB(t)
	CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 1, ProjectID: 7})
	CreateMergeRequest(gdb, CreateMergeRequestOpts{RemoteID: 2, ProjectID: 7, Status: "merged", NotifyOnEnd: true})

	all, err := ListMergeRequests(gdb, "")
	if err != nil {
		t.Fatalf("ListMergeRequests: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	merged, _ := ListMergeRequests(gdb, "merged")
	if len(merged) != 1 || merged[0].RemoteID != 2 {
		t.Errorf("merged = %+v, want !2", merged)
	}
}
