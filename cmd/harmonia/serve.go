package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harmonia-ai/harmonia/internal/broadcast"
	"github.com/harmonia-ai/harmonia/internal/scheduler"
)

var serveQuiet bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator",
	Long: `Start the task orchestrator: consume the command queue, execute tasks
through their agents, and stream lifecycle events to stdout as JSON lines.

When the configuration names a schedule file, its recurring commands run on
their intervals and the file is hot-reloaded on change.

Stop with Ctrl-C; queued work finishes before shutdown completes.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVarP(&serveQuiet, "quiet", "q", false, "Do not stream events to stdout")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if !serveQuiet {
		a.broadcaster.Register("server", broadcast.NewWriterSink(os.Stdout))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if recovered, err := a.service.Recover(); err != nil {
		return err
	} else if recovered > 0 {
		a.logger.Info("re-admitted queued tasks", "count", recovered)
	}

	a.service.Start(ctx)
	a.logger.Info("orchestrator started",
		"agents", a.registry.List(),
		"db", cfg.DatabasePath(),
		"provider", cfg.Provider.Name,
	)

	if cfg.Scheduler.File != "" {
		runner := scheduler.NewRunner(cfg.Scheduler.File, a.service, a.logger)
		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer runner.Stop()
		a.logger.Info("scheduler started", "file", cfg.Scheduler.File, "jobs", runner.JobCount())
	}

	<-ctx.Done()
	a.logger.Info("shutting down, draining queue")
	return nil
}
