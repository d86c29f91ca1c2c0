package slack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/signalbox/internal/notify"
)

// --- Mock Slack client ---

type mockSlackClient struct {
	mu      sync.Mutex
	posted  []string
	postErr []error // consumed one per call
}

func (m *mockSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.postErr) > 0 {
		err := m.postErr[0]
		m.postErr = m.postErr[1:]
		if err != nil {
			return "", "", err
		}
	}
	m.posted = append(m.posted, channelID)
	return channelID, "1234567890.123456", nil
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "C1"}); err == nil {
		t.Error("expected error without token or client")
	}
	if _, err := New(Opts{BotToken: "xoxb-1"}); err == nil {
		t.Error("expected error without channel")
	}
	if _, err := New(Opts{BotToken: "xoxb-1", ChannelID: "C1"}); err != nil {
		t.Errorf("New: %v", err)
	}
}

func TestNotify_Posts(t *testing.T) {
	mc := &mockSlackClient{}
	n, err := New(Opts{ChannelID: "C123", Client: mc})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Notify(context.Background(), notify.Notification{Title: "MR merged"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(mc.posted) != 1 || mc.posted[0] != "C123" {
		t.Errorf("posted = %v, want [C123]", mc.posted)
	}
}

func TestNotify_RetriesRateLimit(t *testing.T) {
	mc := &mockSlackClient{postErr: []error{&slackapi.RateLimitedError{RetryAfter: time.Millisecond}}}
	n, _ := New(Opts{ChannelID: "C1", Client: mc})
	if err := n.Notify(context.Background(), notify.Notification{Title: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(mc.posted) != 1 {
		t.Errorf("posted = %d, want 1 after retry", len(mc.posted))
	}
}

func TestNotify_OtherErrorNotRetried(t *testing.T) {
	mc := &mockSlackClient{postErr: []error{errors.New("channel_not_found"), nil}}
	n, _ := New(Opts{ChannelID: "C1", Client: mc})
	err := n.Notify(context.Background(), notify.Notification{Title: "x"})
	if err == nil || !strings.Contains(err.Error(), "channel_not_found") {
		t.Errorf("err = %v, want channel_not_found", err)
	}
	if len(mc.posted) != 0 {
		t.Errorf("posted = %d, want 0", len(mc.posted))
	}
}

func TestBuildBlocks(t *testing.T) {
	blocks := buildBlocks(notify.Notification{
		Title:   "Pipeline failed",
		Body:    "job lint",
		Level:   notify.LevelFailure,
		Actions: []notify.Action{{URL: "https://gl/p/5", Label: "Open pipeline"}, {URL: "https://gl/mr/1"}},
	})
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}

	section, ok := blocks[0].(*slackapi.SectionBlock)
	if !ok {
		t.Fatalf("block 0 = %T, want *SectionBlock", blocks[0])
	}
	if want := ":x: *Pipeline failed*\njob lint"; section.Text.Text != want {
		t.Errorf("section text = %q, want %q", section.Text.Text, want)
	}

	actions, ok := blocks[1].(*slackapi.ActionBlock)
	if !ok {
		t.Fatalf("block 1 = %T, want *ActionBlock", blocks[1])
	}
	if len(actions.Elements.ElementSet) != 2 {
		t.Fatalf("buttons = %d, want 2", len(actions.Elements.ElementSet))
	}
	btn := actions.Elements.ElementSet[1].(*slackapi.ButtonBlockElement)
	if btn.URL != "https://gl/mr/1" || btn.Text.Text != "Open" {
		t.Errorf("button = %q %q, want Open https://gl/mr/1", btn.Text.Text, btn.URL)
	}
}

func TestBuildBlocks_NoActions(t *testing.T) {
	blocks := buildBlocks(notify.Notification{Title: "x"})
	if len(blocks) != 1 {
		t.Errorf("blocks = %d, want 1", len(blocks))
	}
}
