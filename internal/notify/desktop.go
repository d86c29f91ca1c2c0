package notify

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/browser"
)

// DefaultCommand is the desktop notification command template. Placeholders
// are replaced with shell-quoted values; {{.Actions}} expands to one
// --action flag per action, keyed by index.
const DefaultCommand = "notify-send --app-name=signalbox {{.Actions}} {{.Title}} {{.Body}}"

// Runner executes a shell command and returns its standard output.
type Runner func(ctx context.Context, command string) ([]byte, error)

// Desktop shows notifications through a local command such as notify-send.
// The command runs in the background; when it prints the key of a chosen
// action, that action's URL is passed to OnAction, or opened in the browser
// when OnAction is nil. Close dismisses popups still waiting for the user.
type Desktop struct {
	command string
	run     Runner
	open    func(url string) error
	tmux    bool
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// DesktopOpts holds parameters for creating a Desktop notifier.
type DesktopOpts struct {
	Command string // defaults to DefaultCommand
	Logger  *log.Logger
	// For testing: replace command execution and URL opening.
	Runner  Runner
	OpenURL func(url string) error
}

// NewDesktop creates a Desktop notifier.
func NewDesktop(opts DesktopOpts) *Desktop {
	d := &Desktop{
		command: opts.Command,
		run:     opts.Runner,
		open:    opts.OpenURL,
		tmux:    os.Getenv("TMUX") != "",
		logger:  opts.Logger,
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	if d.command == "" {
		d.command = DefaultCommand
	}
	if d.run == nil {
		d.run = shellRunner
	}
	if d.open == nil {
		d.open = browser.OpenURL
	}
	if d.logger == nil {
		d.logger = log.Default()
	}
	return d
}

func shellRunner(ctx context.Context, command string) ([]byte, error) {
	return exec.CommandContext(ctx, "sh", "-c", command).Output()
}

// Notify starts the notification command and returns without waiting for
// the user. Command failures are logged.
func (d *Desktop) Notify(ctx context.Context, n Notification) error {
	cmdStr := templateNotification(d.command, n)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		// The popup outlives the cycle that raised it, but not the notifier.
		out, err := d.run(d.ctx, cmdStr)
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			d.logger.Printf("notify: command failed: %v: %s", err, strings.TrimSpace(string(out)))
			return
		}
		if url, ok := chosenAction(n, out); ok {
			d.dispatch(n, url)
		}
	}()

	if d.tmux {
		if err := exec.Command("tmux", "display-message", n.Title).Run(); err != nil {
			d.logger.Printf("notify: tmux display-message failed: %v", err)
		}
	}
	return nil
}

// Wait blocks until every started command has exited.
func (d *Desktop) Wait() {
	d.wg.Wait()
}

// Close kills commands still running, such as popups nobody has answered,
// and waits for them to exit.
func (d *Desktop) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Desktop) dispatch(n Notification, url string) {
	if n.OnAction != nil {
		n.OnAction(url)
		return
	}
	if err := d.open(url); err != nil {
		d.logger.Printf("notify: open %s: %v", url, err)
	}
}

// chosenAction maps the command's output (an action key) back to a URL.
func chosenAction(n Notification, out []byte) (string, bool) {
	key := strings.TrimSpace(string(out))
	if key == "" {
		return "", false
	}
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 || i >= len(n.Actions) {
		return "", false
	}
	return n.Actions[i].URL, true
}

// shellQuote wraps s in single quotes for sh.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// templateNotification replaces placeholders in the command template.
func templateNotification(command string, n Notification) string {
	var actions []string
	for i, a := range n.Actions {
		label := a.Label
		if label == "" {
			label = "Open"
		}
		actions = append(actions, shellQuote(fmt.Sprintf("--action=%d=%s", i, label)))
	}
	r := strings.NewReplacer(
		"{{.Title}}", shellQuote(n.Title),
		"{{.Body}}", shellQuote(n.Body),
		"{{.Actions}}", strings.Join(actions, " "),
		"{{.Level}}", shellQuote(string(n.Level)),
	)
	return r.Replace(command)
}
