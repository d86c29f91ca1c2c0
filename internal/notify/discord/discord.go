// Package discord posts notifications to a Discord channel as embeds with
// link buttons.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/signalbox/internal/notify"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial retry backoff.
	baseBackoff = 2 * time.Second
	// maxButtons is Discord's limit of components per action row.
	maxButtons = 5
)

// Embed colors per level.
const (
	colorInfo    = 0x1f6feb
	colorSuccess = 0x36a64f
	colorFailure = 0xd73a49
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier implements notify.Notifier for Discord over the REST API. No
// gateway connection is opened.
type Notifier struct {
	sess        session
	channelID   string
	baseBackoff time.Duration
}

// Opts holds parameters for creating a Discord Notifier.
type Opts struct {
	BotToken  string
	ChannelID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Notifier.
func New(opts Opts) (*Notifier, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ChannelID == "" {
		return nil, fmt.Errorf("discord: channel id is required")
	}
	n := &Notifier{sess: opts.Session, channelID: opts.ChannelID, baseBackoff: baseBackoff}
	if n.sess == nil {
		dg, err := discordgo.New("Bot " + opts.BotToken)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		n.sess = dg
	}
	return n, nil
}

// Notify posts n to the configured channel.
func (d *Notifier) Notify(ctx context.Context, n notify.Notification) error {
	data := buildMessageSend(n)
	err := d.retryOnRateLimit(ctx, func() error {
		_, sendErr := d.sess.ChannelMessageSendComplex(d.channelID, data, discordgo.WithContext(ctx))
		return sendErr
	})
	if err != nil {
		return fmt.Errorf("discord: send message: %w", err)
	}
	return nil
}

func levelColor(l notify.Level) int {
	switch l {
	case notify.LevelSuccess:
		return colorSuccess
	case notify.LevelFailure:
		return colorFailure
	}
	return colorInfo
}

// buildMessageSend renders n as one embed and a row of link buttons.
func buildMessageSend(n notify.Notification) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		Title:       n.Title,
		Description: n.Body,
		Color:       levelColor(n.Level),
	}
	if len(n.Actions) > 0 {
		embed.URL = n.Actions[0].URL
	}
	data := &discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{embed}}

	var buttons []discordgo.MessageComponent
	for i, a := range n.Actions {
		if i == maxButtons {
			break
		}
		label := a.Label
		if label == "" {
			label = "Open"
		}
		buttons = append(buttons, discordgo.Button{
			Label: label,
			Style: discordgo.LinkButton,
			URL:   a.URL,
		})
	}
	if len(buttons) > 0 {
		data.Components = []discordgo.MessageComponent{discordgo.ActionsRow{Components: buttons}}
	}
	return data
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (d *Notifier) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * d.baseBackoff
		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}
