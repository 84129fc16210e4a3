package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/ttrss-to-maildir/cmd"
	"github.com/dhcgn/ttrss-to-maildir/config"
	"github.com/dhcgn/ttrss-to-maildir/filter"
	"github.com/dhcgn/ttrss-to-maildir/imap"
	"github.com/dhcgn/ttrss-to-maildir/mailbox"
	"github.com/dhcgn/ttrss-to-maildir/mbox"
	"github.com/dhcgn/ttrss-to-maildir/pipeline"
	"github.com/dhcgn/ttrss-to-maildir/progress"
	"github.com/dhcgn/ttrss-to-maildir/runner"
	"github.com/dhcgn/ttrss-to-maildir/stats"
)

const (
	exitFailure        = 1
	exitPartialFailure = 2
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ttrss-to-maildir",
		Short:         "Sync Tiny Tiny RSS articles into a local mailbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting ttrss-to-maildir", "api", cfg.APIURL, "target", cfg.Target, "dryRun", cfg.DryRun, "interval", cfg.Interval)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, logger)
		},
	}

	config.RegisterFlags(rootCmd)
	rootCmd.AddCommand(cmd.NewFeedsCommand(setupLogger))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, runner.ErrPartialFailure) {
			os.Exit(exitPartialFailure)
		}
		os.Exit(exitFailure)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	r := runner.New(runner.Options{Interval: cfg.Interval}, logger)
	stats.NewReporter(r, logger)
	progress.NewProgressReporter(r, progress.New(cfg.LogLevel), logger)

	client, err := cmd.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("ttrss.New: %w", err)
	}

	renderer, err := mailbox.NewRenderer(cfg.APIURL)
	if err != nil {
		return fmt.Errorf("mailbox.NewRenderer: %w", err)
	}

	sink, closeSink, err := newSink(cfg, renderer, r, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	f, err := filter.New(filter.Options{
		IncludeTitle:   cfg.IncludeTitle,
		IncludeContent: cfg.IncludeContent,
		ExcludeTitle:   cfg.ExcludeTitle,
		ExcludeContent: cfg.ExcludeContent,
	})
	if err != nil {
		return fmt.Errorf("filter.New: %w", err)
	}

	p, err := pipeline.New(client, sink, pipeline.Options{
		ReloginAttempts: cfg.ReloginAttempts,
		Filter:          f,
		Events:          r,
	}, logger)
	if err != nil {
		return fmt.Errorf("pipeline.New: %w", err)
	}

	return r.Start(ctx, p)
}

func newSink(cfg config.Config, renderer *mailbox.Renderer, events stats.Emitter, logger *slog.Logger) (pipeline.Sink, func(), error) {
	noop := func() {}

	switch cfg.Target {
	case config.TargetMbox:
		w, err := mbox.Open(mbox.Options{Path: cfg.MboxPath, DryRun: cfg.DryRun, Events: events}, renderer, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("mbox.Open: %w", err)
		}
		return w, noop, nil
	case config.TargetIMAP:
		u, err := imap.NewUploader(imap.Options{
			Host:               cfg.IMAPHost,
			Port:               cfg.IMAPPort,
			Username:           cfg.IMAPUser,
			Password:           cfg.IMAPPass,
			UseTLS:             cfg.IMAPUseTLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			TargetFolder:       cfg.IMAPFolder,
			DryRun:             cfg.DryRun,
			Events:             events,
		}, renderer, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("imap.NewUploader: %w", err)
		}
		return u, u.Close, nil
	default:
		m, err := mailbox.OpenMaildir(cfg.Maildir, renderer, mailbox.Options{DryRun: cfg.DryRun, Events: events}, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("mailbox.OpenMaildir: %w", err)
		}
		return m, noop, nil
	}
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("ttrss-to-maildir-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
