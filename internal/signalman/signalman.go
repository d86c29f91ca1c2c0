// Package signalman reconciles watched pipelines, merge requests and chain
// tasks against the remote, merging and notifying as their states change.
package signalman

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/zulandar/signalbox/internal/notify"
	"github.com/zulandar/signalbox/internal/remote"
)

// Notification bodies.
const (
	msgConflict        = "Conflict detected, manual merge required"
	msgPipelineFailed  = "Pipeline failed"
	msgMRClosed        = "Merge request closed"
	msgMRMerged        = "Merged"
	msgReadyToMerge    = "Ready to merge"
	msgMergeError      = "Merge error"
	msgChainBroken     = "Chain broken: current MR was closed"
	msgChainComplete   = "Chain complete"
	msgChainWaiting    = "Chain merged, waiting for the pipeline on the target branch"
	msgChainPipelineOK = "Chain complete, pipeline passed"
	msgChainPipeFailed = "Chain failed: pipeline on the target branch failed"
)

// Engine holds the collaborators every watcher needs.
type Engine struct {
	remote   remote.Client
	notifier notify.Notifier
	onAction func(url string)
	logger   *log.Logger
	out      io.Writer
	cycle    string
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Remote   remote.Client
	Notifier notify.Notifier
	// OnAction handles a clicked notification action. Nil leaves it to the
	// notifier.
	OnAction func(url string)
	Logger   *log.Logger
	Out      io.Writer
}

// NewEngine creates an Engine. Remote is required; the rest default to
// discarding output.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Remote == nil {
		return nil, fmt.Errorf("signalman: remote client is required")
	}
	e := &Engine{
		remote:   opts.Remote,
		notifier: opts.Notifier,
		onAction: opts.OnAction,
		logger:   opts.Logger,
		out:      opts.Out,
	}
	if e.notifier == nil {
		e.notifier = notify.Discard
	}
	if e.logger == nil {
		e.logger = log.Default()
	}
	if e.out == nil {
		e.out = io.Discard
	}
	return e, nil
}

// notify sends n. Delivery failures are logged and otherwise ignored.
func (e *Engine) notify(ctx context.Context, n notify.Notification) {
	if n.OnAction == nil {
		n.OnAction = e.onAction
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Printf("signalman: notify %q: %v", n.Title, err)
	}
}

// progress writes a human progress line tagged with the current cycle.
func (e *Engine) progress(format string, args ...interface{}) {
	if e.cycle != "" {
		format = "[" + e.cycle + "] " + format
	}
	fmt.Fprintf(e.out, format+"\n", args...)
}
