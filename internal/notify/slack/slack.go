// Package slack posts notifications to a Slack channel with Block Kit.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/zulandar/signalbox/internal/notify"
)

// maxRetries is the max number of retries for rate-limited API calls.
const maxRetries = 3

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Notifier implements notify.Notifier for Slack.
type Notifier struct {
	client    slackClient
	channelID string
}

// Opts holds parameters for creating a Slack Notifier.
type Opts struct {
	BotToken  string // xoxb-... Slack bot token
	ChannelID string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("slack: channel id is required")
	}
	n := &Notifier{client: opts.Client, channelID: opts.ChannelID}
	if n.client == nil {
		n.client = slackapi.New(opts.BotToken)
	}
	return n, nil
}

// Notify posts n to the configured channel. Actions become link buttons;
// OnAction is not used since Slack opens the link itself.
func (s *Notifier) Notify(ctx context.Context, n notify.Notification) error {
	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(fallbackText(n), false),
		slackapi.MsgOptionBlocks(buildBlocks(n)...),
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := s.client.PostMessageContext(ctx, s.channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func levelEmoji(l notify.Level) string {
	switch l {
	case notify.LevelSuccess:
		return ":white_check_mark: "
	case notify.LevelFailure:
		return ":x: "
	}
	return ""
}

func fallbackText(n notify.Notification) string {
	if n.Body == "" {
		return n.Title
	}
	return n.Title + ": " + n.Body
}

// buildBlocks renders n as a section plus an optional row of link buttons.
func buildBlocks(n notify.Notification) []slackapi.Block {
	text := fmt.Sprintf("%s*%s*", levelEmoji(n.Level), n.Title)
	if n.Body != "" {
		text += "\n" + n.Body
	}
	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil),
	}

	if len(n.Actions) == 0 {
		return blocks
	}
	var buttons []slackapi.BlockElement
	for i, a := range n.Actions {
		label := a.Label
		if label == "" {
			label = "Open"
		}
		btn := slackapi.NewButtonBlockElement(
			fmt.Sprintf("open_%d", i),
			a.URL,
			slackapi.NewTextBlockObject(slackapi.PlainTextType, label, false, false),
		)
		btn.URL = a.URL
		buttons = append(buttons, btn)
	}
	return append(blocks, slackapi.NewActionBlock("actions", buttons...))
}

// retryOnRateLimit calls fn and retries on Slack rate limit errors, honoring
// Retry-After. It respects context cancellation.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
