package signalman

import (
	"context"
	"errors"
	"testing"

	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/remote"
	"github.com/zulandar/signalbox/internal/watch"
)

func seedPipeline(t *testing.T, h *harness, p models.WatchedPipeline) models.WatchedPipeline {
	t.Helper()
	if p.WebURL == "" {
		p.WebURL = "https://gl/p"
	}
	if err := h.gdb.Create(&p).Error; err != nil {
		t.Fatalf("seed pipeline: %v", err)
	}
	return p
}

func TestWatchPipelines_RunningToFailed(t *testing.T) {
	for _, notifyOnEnd := range []bool{true, false} {
		h := newHarness(t)
		seedPipeline(t, h, models.WatchedPipeline{ID: 5, RemoteID: 900, ProjectID: 7, Status: "running", NotifyOnEnd: notifyOnEnd})
		h.remote.SetPipeline(remote.Pipeline{ID: 900, ProjectID: 7, Status: models.PipelineFailed, WebURL: "https://gl/p/900"})

		if err := h.e.WatchPipelines(context.Background(), h.gdb); err != nil {
			t.Fatalf("WatchPipelines: %v", err)
		}

		got, err := watch.GetPipeline(h.gdb, 5)
		if err != nil {
			t.Fatalf("GetPipeline: %v", err)
		}
		if got.Status != "failed" {
			t.Errorf("notify=%v: status = %q, want failed", notifyOnEnd, got.Status)
		}

		want := 0
		if notifyOnEnd {
			want = 1
		}
		if h.rec.Count() != want {
			t.Fatalf("notify=%v: notifications = %d, want %d", notifyOnEnd, h.rec.Count(), want)
		}
		if notifyOnEnd {
			n := h.rec.Sent()[0]
			if n.Title != "Pipeline #900" || n.Body != "Pipeline failed" {
				t.Errorf("notification = %q / %q", n.Title, n.Body)
			}
			if len(n.Actions) != 1 || n.Actions[0].URL != "https://gl/p/900" {
				t.Errorf("actions = %+v", n.Actions)
			}
		}

		// Terminal rows are not polled again.
		h.e.WatchPipelines(context.Background(), h.gdb)
		if h.remote.PipelineFetches() != 1 {
			t.Errorf("fetches = %d, want 1", h.remote.PipelineFetches())
		}
		if h.rec.Count() != want {
			t.Errorf("second pass notifications = %d, want %d", h.rec.Count(), want)
		}
	}
}

func TestWatchPipelines_Success(t *testing.T) {
	h := newHarness(t)
	seedPipeline(t, h, models.WatchedPipeline{RemoteID: 1, ProjectID: 7, Status: "running", NotifyOnEnd: true})
	h.remote.SetPipeline(remote.Pipeline{ID: 1, ProjectID: 7, Status: models.PipelineSuccess})

	h.e.WatchPipelines(context.Background(), h.gdb)

	if got := h.bodies(); len(got) != 1 || got[0] != "Pipeline succeeded" {
		t.Errorf("bodies = %v, want [Pipeline succeeded]", got)
	}
}

func TestWatchPipelines_InProgressIsSilent(t *testing.T) {
	for _, status := range []models.PipelineStatus{models.PipelineRunning, models.PipelineManual, models.PipelineUnknown} {
		h := newHarness(t)
		p := seedPipeline(t, h, models.WatchedPipeline{RemoteID: 1, ProjectID: 7, Status: "pending", NotifyOnEnd: true})
		h.remote.SetPipeline(remote.Pipeline{ID: 1, ProjectID: 7, Status: status})

		h.e.WatchPipelines(context.Background(), h.gdb)

		if h.rec.Count() != 0 {
			t.Errorf("%s: notifications = %d, want 0", status, h.rec.Count())
		}
		got, _ := watch.GetPipeline(h.gdb, p.ID)
		if got.Status != string(status) {
			t.Errorf("%s: stored status = %q", status, got.Status)
		}
		pending, _ := watch.PendingPipelines(h.gdb)
		if len(pending) != 1 {
			t.Errorf("%s: row should still be polled", status)
		}
	}
}

func TestWatchPipelines_FetchFailureSkipsRow(t *testing.T) {
	h := newHarness(t)
	missing := seedPipeline(t, h, models.WatchedPipeline{RemoteID: 1, ProjectID: 7, Status: "running", NotifyOnEnd: true})
	ok := seedPipeline(t, h, models.WatchedPipeline{RemoteID: 2, ProjectID: 7, Status: "running", NotifyOnEnd: true})
	h.remote.SetPipeline(remote.Pipeline{ID: 2, ProjectID: 7, Status: models.PipelineCanceled})

	if err := h.e.WatchPipelines(context.Background(), h.gdb); err != nil {
		t.Fatalf("WatchPipelines: %v", err)
	}

	got, _ := watch.GetPipeline(h.gdb, missing.ID)
	if got.Status != "running" {
		t.Errorf("skipped row status = %q, want running", got.Status)
	}
	got, _ = watch.GetPipeline(h.gdb, ok.ID)
	if got.Status != "canceled" {
		t.Errorf("sibling status = %q, want canceled", got.Status)
	}
	if h.rec.Count() != 1 {
		t.Errorf("notifications = %d, want 1", h.rec.Count())
	}
}

func TestWatchPipelines_WriteFailureSuppressesNotification(t *testing.T) {
	h := newHarness(t)
	seedPipeline(t, h, models.WatchedPipeline{RemoteID: 1, ProjectID: 7, Status: "running", NotifyOnEnd: true})
	h.remote.SetPipeline(remote.Pipeline{ID: 1, ProjectID: 7, Status: models.PipelineFailed})
	failUpdates(t, h.gdb)

	if err := h.e.WatchPipelines(context.Background(), h.gdb); err != nil {
		t.Fatalf("WatchPipelines: %v", err)
	}
	if h.rec.Count() != 0 {
		t.Errorf("notifications = %d, want 0 after failed write", h.rec.Count())
	}
}

func TestWatchPipelines_ReadFailureReturned(t *testing.T) {
	h := newHarness(t)
	sqlDB, _ := h.gdb.DB()
	sqlDB.Close()

	if err := h.e.WatchPipelines(context.Background(), h.gdb); err == nil {
		t.Error("expected storage read error")
	}
}

func TestWatchPipelines_TransientErrorRetriedNextCycle(t *testing.T) {
	h := newHarness(t)
	p := seedPipeline(t, h, models.WatchedPipeline{RemoteID: 1, ProjectID: 7, Status: "running", NotifyOnEnd: true})
	h.remote.SetPipeline(remote.Pipeline{ID: 1, ProjectID: 7, Status: models.PipelineSuccess})
	h.remote.FailPipelines(errors.New("502 bad gateway"))

	h.e.WatchPipelines(context.Background(), h.gdb)
	if h.rec.Count() != 0 {
		t.Fatalf("notifications = %d during outage", h.rec.Count())
	}

	h.remote.FailPipelines(nil)
	h.e.WatchPipelines(context.Background(), h.gdb)
	got, _ := watch.GetPipeline(h.gdb, p.ID)
	if got.Status != "success" || h.rec.Count() != 1 {
		t.Errorf("after recovery: status %q, notifications %d", got.Status, h.rec.Count())
	}
}
