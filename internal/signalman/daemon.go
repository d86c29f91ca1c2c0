package signalman

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/notify"
	"github.com/zulandar/signalbox/internal/remote"
	"gorm.io/gorm"
)

// DefaultInterval is the pause between reconciliation cycles.
const DefaultInterval = 10 * time.Second

// DaemonOpts holds everything the daemon loop needs. Nothing is read from
// global state.
type DaemonOpts struct {
	Connect  db.Connector
	Remote   remote.Client
	Notifier notify.Notifier
	OnAction func(url string)
	Interval time.Duration
	// DigestSchedule is a 5-field cron expression; empty disables the digest.
	DigestSchedule string
	Logger         *log.Logger
	Out            io.Writer
}

type phase struct {
	name string
	run  func(context.Context, *gorm.DB) error
}

// RunDaemon prepares the schema and then reconciles every Interval until ctx
// is cancelled. Each cycle runs the merge detector, the pipeline watcher,
// the merge request watcher and the chain orchestrator in that order, each
// on a freshly opened database handle. A failing phase is logged and the
// cycle moves on.
func RunDaemon(ctx context.Context, opts DaemonOpts) error {
	if opts.Connect == nil {
		return fmt.Errorf("signalman: database connector is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}

	e, err := NewEngine(EngineOpts{
		Remote:   opts.Remote,
		Notifier: opts.Notifier,
		OnAction: opts.OnAction,
		Logger:   opts.Logger,
		Out:      opts.Out,
	})
	if err != nil {
		return err
	}

	gdb, err := opts.Connect()
	if err != nil {
		return fmt.Errorf("signalman: open database: %w", err)
	}
	migrateErr := db.AutoMigrate(gdb)
	if err := db.Close(gdb); err != nil {
		opts.Logger.Printf("signalman: %v", err)
	}
	if migrateErr != nil {
		return fmt.Errorf("signalman: %w", migrateErr)
	}

	if opts.DigestSchedule != "" {
		if err := ValidateSchedule(opts.DigestSchedule); err != nil {
			return err
		}
		go e.RunDigest(ctx, opts.Connect, opts.DigestSchedule)
	}

	fmt.Fprintf(opts.Out, "Signalman starting (poll every %s)...\n", opts.Interval)
	defer fmt.Fprintf(opts.Out, "Signalman stopped.\n")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		e.RunCycle(ctx, opts.Connect)

		sleepWithContext(ctx, opts.Interval)
	}
}

// RunCycle runs one full reconciliation pass.
func (e *Engine) RunCycle(ctx context.Context, connect db.Connector) {
	e.cycle = uuid.NewString()[:8]
	defer func() { e.cycle = "" }()

	phases := []phase{
		{"merge detector", e.DetectMergedPipelines},
		{"pipelines", e.WatchPipelines},
		{"merge requests", e.WatchMergeRequests},
		{"chains", e.WatchChains},
	}
	for _, ph := range phases {
		if ctx.Err() != nil {
			return
		}
		if err := withDB(ctx, connect, ph.run); err != nil {
			e.logger.Printf("signalman %s error: %v", ph.name, err)
		}
	}
}

// withDB opens a handle for the duration of fn.
func withDB(ctx context.Context, connect db.Connector, fn func(context.Context, *gorm.DB) error) error {
	gdb, err := connect()
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(gdb); err != nil {
			log.Printf("signalman: %v", err)
		}
	}()
	return fn(ctx, gdb)
}

// sleepWithContext sleeps for d or until ctx is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
