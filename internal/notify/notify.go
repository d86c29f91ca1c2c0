// Package notify delivers human-facing notifications: desktop popups and
// chat messages, each with optional clickable actions.
package notify

import (
	"context"
	"errors"
)

// Level hints how a sink should style a notification.
type Level string

const (
	LevelInfo    Level = ""
	LevelSuccess Level = "success"
	LevelFailure Level = "failure"
)

// Action is a clickable link attached to a notification.
type Action struct {
	URL   string
	Label string
}

// Notification is one message to a human.
type Notification struct {
	Title   string
	Body    string
	Level   Level
	Actions []Action
	// OnAction is called with the chosen action's URL when the sink supports
	// interaction. It may be called long after Notify returned.
	OnAction func(url string)
}

// Notifier delivers notifications. Implementations should not block on user
// interaction.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier. A failing notifier does
// not stop delivery to the rest; all errors are joined.
type Multi []Notifier

// Notify sends n to every notifier in order.
func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification.
var Discard Notifier = discard{}

type discard struct{}

func (discard) Notify(context.Context, Notification) error { return nil }

// Open returns n with a single action pointing at url.
func Open(n Notification, url, label string) Notification {
	if url == "" {
		return n
	}
	n.Actions = append(n.Actions, Action{URL: url, Label: label})
	return n
}
