package signalman

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/signalbox/internal/chain"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/notify"
	"github.com/zulandar/signalbox/internal/watch"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule reports whether expr is a usable 5-field cron expression.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("signalman: digest schedule %q: %w", expr, err)
	}
	return nil
}

// nextCronDuration parses a 5-field cron expression and returns the duration
// until the next fire time after now. Returns 0 on parse error.
func nextCronDuration(expr string, now time.Time) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	d := sched.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Summary counts what is currently in flight.
type Summary struct {
	OpenMergeRequests int
	PendingPipelines  int
	ActiveChains      int
}

// Empty reports whether nothing is in flight.
func (s Summary) Empty() bool {
	return s.OpenMergeRequests == 0 && s.PendingPipelines == 0 && s.ActiveChains == 0
}

// Summarize counts open merge requests, unfinished pipelines and active
// chain tasks.
func Summarize(gdb *gorm.DB) (Summary, error) {
	var s Summary
	mrs, err := watch.OpenMergeRequests(gdb)
	if err != nil {
		return s, err
	}
	ps, err := watch.PendingPipelines(gdb)
	if err != nil {
		return s, err
	}
	tasks, err := chain.Active(gdb)
	if err != nil {
		return s, err
	}
	s.OpenMergeRequests = len(mrs)
	s.PendingPipelines = len(ps)
	s.ActiveChains = len(tasks)
	return s, nil
}

// BuildDigest returns the digest notification, or nil when nothing is in
// flight.
func BuildDigest(gdb *gorm.DB) (*notify.Notification, error) {
	s, err := Summarize(gdb)
	if err != nil {
		return nil, fmt.Errorf("signalman: digest: %w", err)
	}
	if s.Empty() {
		return nil, nil
	}
	var lines []string
	if s.OpenMergeRequests > 0 {
		lines = append(lines, fmt.Sprintf("%d open merge request(s)", s.OpenMergeRequests))
	}
	if s.PendingPipelines > 0 {
		lines = append(lines, fmt.Sprintf("%d pipeline(s) in progress", s.PendingPipelines))
	}
	if s.ActiveChains > 0 {
		lines = append(lines, fmt.Sprintf("%d active chain(s)", s.ActiveChains))
	}
	return &notify.Notification{
		Title: "Signalbox digest",
		Body:  strings.Join(lines, "\n"),
	}, nil
}

// RunDigest sends the digest at every fire time of schedule until ctx is
// cancelled.
func (e *Engine) RunDigest(ctx context.Context, connect db.Connector, schedule string) {
	for {
		wait := nextCronDuration(schedule, time.Now())
		if wait == 0 {
			e.logger.Printf("signalman: digest schedule %q is invalid, digest disabled", schedule)
			return
		}
		sleepWithContext(ctx, wait)
		if ctx.Err() != nil {
			return
		}

		var n *notify.Notification
		err := withDB(ctx, connect, func(_ context.Context, gdb *gorm.DB) error {
			var buildErr error
			n, buildErr = BuildDigest(gdb)
			return buildErr
		})
		if err != nil {
			e.logger.Printf("signalman digest error: %v", err)
			continue
		}
		if n != nil {
			e.notify(ctx, *n)
		}
	}
}
