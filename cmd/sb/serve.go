package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/dashboard"
	"github.com/zulandar/signalbox/internal/db"
	"github.com/zulandar/signalbox/internal/notify"
	"github.com/zulandar/signalbox/internal/notify/discord"
	"github.com/zulandar/signalbox/internal/notify/slack"
	"github.com/zulandar/signalbox/internal/signalman"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the watcher daemon",
		Long: "Polls every watched pipeline and merge request, drives chains, sends notifications\n" +
			"and serves the status API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, err := config.LoadOrCreate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logFile, err := os.OpenFile(cfg.ResolvePath(cfg.LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := log.New(io.MultiWriter(logFile, cmd.ErrOrStderr()), "", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	rc, err := newRemote(ctx, cfg)
	if err != nil {
		return err
	}

	notifier, desktop, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	if desktop != nil {
		defer desktop.Close()
	}

	var wg sync.WaitGroup
	if cfg.ServerEnabled() {
		apiDB, err := db.Open(cfg)
		if err != nil {
			return err
		}
		defer db.Close(apiDB)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := dashboard.Start(ctx, dashboard.StartOpts{
				DB:     apiDB,
				Remote: rc,
				Port:   cfg.Server.Port,
				Out:    cmd.OutOrStdout(),
			})
			if err != nil {
				logger.Printf("serve: status API: %v", err)
			}
		}()
	}

	err = signalman.RunDaemon(ctx, signalman.DaemonOpts{
		Connect:        db.NewConnector(cfg),
		Remote:         rc,
		Notifier:       notifier,
		Interval:       time.Duration(cfg.PollIntervalSec) * time.Second,
		DigestSchedule: cfg.Digest.Schedule,
		Logger:         logger,
		Out:            cmd.OutOrStdout(),
	})
	cancel()
	wg.Wait()
	return err
}

// buildNotifier fans out to every configured sink. The desktop sink is also
// returned so callers can dismiss pending popups on shutdown.
func buildNotifier(cfg *config.Config, logger *log.Logger) (notify.Notifier, *notify.Desktop, error) {
	var sinks notify.Multi
	var desktop *notify.Desktop

	if cfg.Notify.Desktop.Enabled {
		desktop = notify.NewDesktop(notify.DesktopOpts{
			Command: cfg.Notify.Desktop.Command,
			Logger:  logger,
		})
		sinks = append(sinks, desktop)
	}
	if cfg.Notify.Slack.BotToken != "" {
		s, err := slack.New(slack.Opts{
			BotToken:  cfg.Notify.Slack.BotToken,
			ChannelID: cfg.Notify.Slack.ChannelID,
		})
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Notify.Discord.BotToken != "" {
		d, err := discord.New(discord.Opts{
			BotToken:  cfg.Notify.Discord.BotToken,
			ChannelID: cfg.Notify.Discord.ChannelID,
		})
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, d)
	}

	if len(sinks) == 0 {
		logger.Printf("serve: no notification sinks configured")
		return notify.Discard, nil, nil
	}
	return sinks, desktop, nil
}
