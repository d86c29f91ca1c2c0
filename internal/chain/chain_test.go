package chain

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

func newMR(remoteID int64) models.WatchedMergeRequest {
	return models.WatchedMergeRequest{RemoteID: remoteID, ProjectID: 7, WebURL: "https://gl/mr", Status: "opened", AutoMerge: true}
}

func mustCreate(t *testing.T, gdb *gorm.DB, branches ...string) *models.ChainTask {
	t.Helper()
	task, err := Create(gdb, CreateOpts{ProjectID: 7, Branches: branches})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return task
}

func TestCreate_Steps(t *testing.T) {
	gdb := testDB(t)
	task := mustCreate(t, gdb, "feature", "staging", "main")

	if task.Status != "pending" {
		t.Errorf("Status = %q, want pending", task.Status)
	}
	if task.SourceBranch != "feature" || task.TargetBranch != "main" {
		t.Errorf("branches = %s -> %s, want feature -> main", task.SourceBranch, task.TargetBranch)
	}

	got, err := Get(gdb, task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(got.Steps))
	}
	want := [][2]string{{"feature", "staging"}, {"staging", "main"}}
	for i, s := range got.Steps {
		if s.StepNumber != i+1 {
			t.Errorf("step[%d].StepNumber = %d, want %d", i, s.StepNumber, i+1)
		}
		if s.SourceBranch != want[i][0] || s.TargetBranch != want[i][1] {
			t.Errorf("step %d = %s -> %s, want %s -> %s", s.StepNumber, s.SourceBranch, s.TargetBranch, want[i][0], want[i][1])
		}
		if s.Status != "created" {
			t.Errorf("step %d status = %q, want created", s.StepNumber, s.Status)
		}
		if _, ok := s.MergeRequest().Linked(); ok {
			t.Errorf("step %d already linked", s.StepNumber)
		}
	}
}

func TestCreate_Validation(t *testing.T) {
	gdb := testDB(t)
	tests := []struct {
		name string
		opts CreateOpts
	}{
		{"no project", CreateOpts{Branches: []string{"a", "b"}}},
		{"one branch", CreateOpts{ProjectID: 7, Branches: []string{"a"}}},
		{"empty branch", CreateOpts{ProjectID: 7, Branches: []string{"a", " "}}},
		{"self merge", CreateOpts{ProjectID: 7, Branches: []string{"a", "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Create(gdb, tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	gdb := testDB(t)
	if _, err := Get(gdb, 99); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestActive(t *testing.T) {
	gdb := testDB(t)
	pending := mustCreate(t, gdb, "a", "b")
	waiting := mustCreate(t, gdb, "c", "d")
	done := mustCreate(t, gdb, "e", "f")
	gdb.Model(&models.ChainTask{}).Where("id = ?", waiting.ID).Update("status", "wait_pipeline")
	gdb.Model(&models.ChainTask{}).Where("id = ?", done.ID).Update("status", "success")

	tasks, err := Active(gdb)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("len = %d, want 2", len(tasks))
	}
	if tasks[0].ID != pending.ID || tasks[1].ID != waiting.ID {
		t.Errorf("ids = [%d %d], want [%d %d]", tasks[0].ID, tasks[1].ID, pending.ID, waiting.ID)
	}
	if len(tasks[0].Steps) != 1 {
		t.Errorf("steps not preloaded: %+v", tasks[0])
	}
}

func TestList(t *testing.T) {
	gdb := testDB(t)
	mustCreate(t, gdb, "a", "b")
	second := mustCreate(t, gdb, "c", "d", "e")

	tasks, err := List(gdb, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != second.ID {
		t.Fatalf("List = %+v, want newest first", tasks)
	}
	if len(tasks[0].Steps) != 2 {
		t.Errorf("steps = %d, want 2", len(tasks[0].Steps))
	}

	failed, _ := List(gdb, "failed")
	if len(failed) != 0 {
		t.Errorf("failed = %d, want 0", len(failed))
	}
}

func TestCurrentStep(t *testing.T) {
	task := &models.ChainTask{Steps: []models.ChainStep{
		{StepNumber: 2, Status: "created"},
		{StepNumber: 1, Status: "success"},
		{StepNumber: 3, Status: "created"},
	}}
	cur, ok := CurrentStep(task)
	if !ok || cur.StepNumber != 2 {
		t.Errorf("CurrentStep = %d, %v, want 2, true", cur.StepNumber, ok)
	}
	if IsLast(task, cur) {
		t.Error("step 2 of 3 reported as last")
	}
	next, ok := NextStep(task, cur)
	if !ok || next.StepNumber != 3 {
		t.Errorf("NextStep = %d, %v, want 3, true", next.StepNumber, ok)
	}
	if !IsLast(task, next) {
		t.Error("step 3 of 3 not reported as last")
	}
	if _, ok := NextStep(task, next); ok {
		t.Error("NextStep after last should be false")
	}

	all := &models.ChainTask{Steps: []models.ChainStep{{StepNumber: 1, Status: "success"}}}
	if _, ok := CurrentStep(all); ok {
		t.Error("CurrentStep on finished task should be false")
	}
}

func TestMaterialize(t *testing.T) {
	gdb := testDB(t)
	task := mustCreate(t, gdb, "feature", "main")
	step := task.Steps[0]

	mr, err := Materialize(gdb, step.ID, newMR(11))
	if err != nil {
		t.Fatalf("Materialize: %v", err)
	}
	if mr.ID == 0 {
		t.Fatal("merge request not inserted")
	}

	got, _ := Get(gdb, task.ID)
	s := got.Steps[0]
	if s.Status != "pending" {
		t.Errorf("step status = %q, want pending", s.Status)
	}
	if id, ok := s.MergeRequest().Linked(); !ok || id != mr.ID {
		t.Errorf("step link = %d, %v, want %d", id, ok, mr.ID)
	}

	// A second materialization is rejected and leaves no stray row.
	if _, err := Materialize(gdb, step.ID, newMR(12)); !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	var count int64
	gdb.Model(&models.WatchedMergeRequest{}).Count(&count)
	if count != 1 {
		t.Errorf("merge request rows = %d, want 1", count)
	}
}

func TestAdvance(t *testing.T) {
	gdb := testDB(t)
	task := mustCreate(t, gdb, "feature", "staging", "main")
	first, second := task.Steps[0], task.Steps[1]
	if _, err := Materialize(gdb, first.ID, newMR(11)); err != nil {
		t.Fatalf("Materialize: %v", err)
	}

	mr, err := Advance(gdb, first.ID, second.ID, newMR(12))
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}

	got, _ := Get(gdb, task.ID)
	if got.Steps[0].Status != "success" {
		t.Errorf("step 1 = %q, want success", got.Steps[0].Status)
	}
	if got.Steps[1].Status != "pending" {
		t.Errorf("step 2 = %q, want pending", got.Steps[1].Status)
	}
	if id, ok := got.Steps[1].MergeRequest().Linked(); !ok || id != mr.ID {
		t.Errorf("step 2 link = %d, %v, want %d", id, ok, mr.ID)
	}
	if got.Status != "pending" {
		t.Errorf("task = %q, want pending", got.Status)
	}
}

func TestAdvance_RollsBackOnStaleNext(t *testing.T) {
	gdb := testDB(t)
	task := mustCreate(t, gdb, "feature", "staging", "main")
	first, second := task.Steps[0], task.Steps[1]
	Materialize(gdb, first.ID, newMR(11))
	Materialize(gdb, second.ID, newMR(12))

	if _, err := Advance(gdb, first.ID, second.ID, newMR(13)); !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	got, _ := Get(gdb, task.ID)
	if got.Steps[0].Status != "pending" {
		t.Errorf("step 1 = %q, want pending after rollback", got.Steps[0].Status)
	}
}

func TestFail_Atomic(t *testing.T) {
	gdb := testDB(t)
	task := mustCreate(t, gdb, "a", "b", "c", "d")
	Materialize(gdb, task.Steps[0].ID, newMR(11))
	Advance(gdb, task.Steps[0].ID, task.Steps[1].ID, newMR(12))

	if err := Fail(gdb, task.ID, task.Steps[1].ID, "merge request closed"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	got, _ := Get(gdb, task.ID)
	if got.Status != "failed" {
		t.Errorf("task = %q, want failed", got.Status)
	}
	if got.FailMessage == nil || *got.FailMessage != "merge request closed" {
		t.Errorf("task fail message = %v", got.FailMessage)
	}
	want := []string{"success", "failed", "failed"}
	for i, s := range got.Steps {
		if s.Status != want[i] {
			t.Errorf("step %d = %q, want %q", s.StepNumber, s.Status, want[i])
		}
	}
}

func TestFail_TerminalStepIsStale(t *testing.T) {
	gdb := testDB(t)
	task := mustCreate(t, gdb, "a", "b")
	Materialize(gdb, task.Steps[0].ID, newMR(11))
	if _, err := Complete(gdb, task.ID, task.Steps[0].ID, false); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	err := Fail(gdb, task.ID, task.Steps[0].ID, "late close")
	if !errors.Is(err, ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if errors.Is(err, db.ErrStorage) {
		t.Error("stale transition reported as storage error")
	}
	got, _ := Get(gdb, task.ID)
	if got.Status != "success" || got.Steps[0].Status != "success" {
		t.Errorf("terminal rows regressed: task %q step %q", got.Status, got.Steps[0].Status)
	}
}

func TestComplete(t *testing.T) {
	tests := []struct {
		name string
		wait bool
		want models.ChainStatus
	}{
		{"no pipeline wait", false, models.ChainSuccess},
		{"wait pipeline", true, models.ChainWaitPipeline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gdb := testDB(t)
			task := mustCreate(t, gdb, "feature", "main")
			Materialize(gdb, task.Steps[0].ID, newMR(11))

			status, err := Complete(gdb, task.ID, task.Steps[0].ID, tt.wait)
			if err != nil {
				t.Fatalf("Complete: %v", err)
			}
			if status != tt.want {
				t.Errorf("status = %q, want %q", status, tt.want)
			}
			got, _ := Get(gdb, task.ID)
			if got.Status != string(tt.want) {
				t.Errorf("task = %q, want %q", got.Status, tt.want)
			}
			if got.Steps[0].Status != "success" {
				t.Errorf("step = %q, want success", got.Steps[0].Status)
			}
		})
	}
}

func TestLinkPipelineAndFinish(t *testing.T) {
	gdb := testDB(t)
	task := mustCreate(t, gdb, "feature", "main")
	Materialize(gdb, task.Steps[0].ID, newMR(11))
	Complete(gdb, task.ID, task.Steps[0].ID, true)

	if err := LinkPipeline(gdb, task.ID, 5); err != nil {
		t.Fatalf("LinkPipeline: %v", err)
	}
	got, _ := Get(gdb, task.ID)
	if id, ok := got.Pipeline().Linked(); !ok || id != 5 {
		t.Errorf("pipeline link = %d, %v, want 5", id, ok)
	}

	if err := Finish(gdb, task.ID, models.ChainPending, ""); err == nil {
		t.Error("expected error for non-terminal status")
	}
	if err := Finish(gdb, task.ID, models.ChainFailed, "post-merge pipeline failed"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	got, _ = Get(gdb, task.ID)
	if got.Status != "failed" {
		t.Errorf("task = %q, want failed", got.Status)
	}

	if err := Finish(gdb, task.ID, models.ChainSuccess, ""); !errors.Is(err, ErrStale) {
		t.Errorf("second Finish err = %v, want ErrStale", err)
	}
}
