package discord

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/signalbox/internal/notify"
)

// --- Mock Discord session ---

type mockSession struct {
	mu      sync.Mutex
	sent    []*discordgo.MessageSend
	sendErr []error // consumed one per call
}

func (m *mockSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sendErr) > 0 {
		err := m.sendErr[0]
		m.sendErr = m.sendErr[1:]
		if err != nil {
			return nil, err
		}
	}
	m.sent = append(m.sent, data)
	return &discordgo.Message{ID: "msg-1", ChannelID: channelID}, nil
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{ChannelID: "1"}); err == nil {
		t.Error("expected error without token or session")
	}
	if _, err := New(Opts{BotToken: "t"}); err == nil {
		t.Error("expected error without channel")
	}
}

func TestNotify_Sends(t *testing.T) {
	ms := &mockSession{}
	n, err := New(Opts{ChannelID: "chan", Session: ms})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Notify(context.Background(), notify.Notification{Title: "Chain complete"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(ms.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(ms.sent))
	}
	if ms.sent[0].Embeds[0].Title != "Chain complete" {
		t.Errorf("title = %q", ms.sent[0].Embeds[0].Title)
	}
}

func TestNotify_RetriesRateLimit(t *testing.T) {
	rl := &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusTooManyRequests}}
	ms := &mockSession{sendErr: []error{rl}}
	n, _ := New(Opts{ChannelID: "chan", Session: ms})
	n.baseBackoff = time.Millisecond

	if err := n.Notify(context.Background(), notify.Notification{Title: "x"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(ms.sent) != 1 {
		t.Errorf("sent = %d, want 1 after retry", len(ms.sent))
	}
}

func TestNotify_Error(t *testing.T) {
	ms := &mockSession{sendErr: []error{errors.New("missing access")}}
	n, _ := New(Opts{ChannelID: "chan", Session: ms})
	if err := n.Notify(context.Background(), notify.Notification{Title: "x"}); err == nil {
		t.Error("expected error")
	}
}

func TestBuildMessageSend(t *testing.T) {
	var actions []notify.Action
	for i := 0; i < 7; i++ {
		actions = append(actions, notify.Action{URL: "https://x/" + string(rune('a'+i))})
	}
	data := buildMessageSend(notify.Notification{Title: "t", Body: "b", Level: notify.LevelSuccess, Actions: actions})

	embed := data.Embeds[0]
	if embed.Color != colorSuccess {
		t.Errorf("color = %#x, want %#x", embed.Color, colorSuccess)
	}
	if embed.URL != "https://x/a" {
		t.Errorf("embed URL = %q, want first action", embed.URL)
	}
	if len(data.Components) != 1 {
		t.Fatalf("components = %d, want 1 row", len(data.Components))
	}
	row := data.Components[0].(discordgo.ActionsRow)
	if len(row.Components) != maxButtons {
		t.Errorf("buttons = %d, want %d", len(row.Components), maxButtons)
	}
	btn := row.Components[0].(discordgo.Button)
	if btn.Style != discordgo.LinkButton || btn.Label != "Open" {
		t.Errorf("button = %+v", btn)
	}
}

func TestBuildMessageSend_NoActions(t *testing.T) {
	data := buildMessageSend(notify.Notification{Title: "t"})
	if len(data.Components) != 0 {
		t.Errorf("components = %d, want 0", len(data.Components))
	}
	if data.Embeds[0].Color != colorInfo {
		t.Errorf("color = %#x, want info", data.Embeds[0].Color)
	}
}
