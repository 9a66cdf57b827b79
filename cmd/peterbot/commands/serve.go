package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/peterbot/ai"
	"github.com/teranos/peterbot/ai/provider"
	"github.com/teranos/peterbot/ai/tracker"
	"github.com/teranos/peterbot/blocklist"
	"github.com/teranos/peterbot/delivery"
	"github.com/teranos/peterbot/errors"
	"github.com/teranos/peterbot/logger"
	"github.com/teranos/peterbot/metrics"
	"github.com/teranos/peterbot/persona"
	"github.com/teranos/peterbot/pulse/async"
	"github.com/teranos/peterbot/pulse/schedule"
	"github.com/teranos/peterbot/sandbox"
	"github.com/teranos/peterbot/server"
	"github.com/teranos/peterbot/sym"
)

// backgroundTaskBuffer bounds fire-and-forget work queued by HTTP handlers
const backgroundTaskBuffer = 64

// ServeCmd runs the job worker, the scheduler and the HTTP surface
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: sym.Pulse + " Run the job worker, scheduler and HTTP API",
	Long: sym.Pulse + ` serve - run peterbot in the foreground.

Starts:
- the job worker (AI invocation, delivery with retry)
- the schedule ticker (cron schedules become jobs)
- the HTTP API with the inline chat path, /ws/jobs, /health and /metrics

Press Ctrl+C once for a graceful shutdown, twice to force exit.`,
	RunE: runServe,
}

var servePort int

func init() {
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	database, dbPath, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.Logger
	loc, err := cfg.Pulse.Location()
	if err != nil {
		return errors.Wrapf(err, "unknown pulse.timezone %q", cfg.Pulse.Timezone)
	}

	collector := metrics.NewCollector()
	queue := async.NewQueue(database)
	queue.SetRecorder(collector)

	chain, err := provider.NewChainFromConfig(cfg, database, log.Named("ai"))
	if err != nil {
		return err
	}
	if chain.Len() == 0 {
		return errors.WithHint(errors.New("no AI provider configured"),
			"set ANTHROPIC_API_KEY or OPENROUTER_API_KEY, in the environment or in .env")
	}

	// NewTelegram and NewHTTPExecutor return nil when unconfigured; keep the
	// interfaces nil rather than wrapping a nil pointer
	var transport delivery.Gateway
	if tg := delivery.NewTelegram(delivery.TelegramConfig{
		BotToken:          cfg.Telegram.BotToken,
		BaseURL:           cfg.Telegram.BaseURL,
		MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
		Burst:             cfg.Telegram.Burst,
	}, log); tg != nil {
		transport = tg
	} else {
		pterm.Warning.Println("No telegram.bot_token: job results are stored but not delivered")
	}

	rules := blocklist.Load(cfg.Blocklist.Path, log.Named("blocklist"))
	var codeTool ai.Tool
	if executor := sandbox.NewHTTPExecutor(sandbox.HTTPConfig{
		BaseURL:         cfg.Sandbox.BaseURL,
		APIKey:          cfg.Sandbox.APIKey,
		Timeout:         time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second,
		AllowPrivateIPs: cfg.Sandbox.AllowPrivateIPs,
	}); executor != nil {
		codeTool = sandbox.NewCodeTool(executor, rules, log.Named("sandbox"))
	}

	personaSrc := &persona.Files{
		Dir: cfg.Persona.Dir,
		OnError: func(path string, err error) {
			log.Warnw("Persona file unreadable", "path", path, logger.FieldError, err)
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	worker := async.NewWorker(ctx, async.WorkerConfig{
		PollInterval: cfg.Pulse.WorkerPollInterval(),
		MaxRetries:   cfg.Pulse.MaxRetries,
		RetryBackoff: cfg.Pulse.RetryBackoff(),
		MessageLimit: cfg.Pulse.MessageLimit,
		MaxSteps:     cfg.AI.MaxSteps,
	}, async.WorkerDeps{
		Store:    queue,
		AI:       chain,
		Delivery: transport,
		CodeTool: codeTool,
		Persona:  personaSrc,
		Metrics:  collector,
		Logger:   log,
	})

	scheduleStore := schedule.NewStore(database)
	scheduleStore.SetLocation(loc)
	ticker := schedule.NewTicker(ctx, schedule.TickerConfig{
		Interval:           cfg.Pulse.SchedulerPollInterval(),
		ConversationTarget: cfg.Pulse.ConversationTarget,
		Location:           loc,
	}, schedule.TickerDeps{
		Store:   scheduleStore,
		Jobs:    queue,
		Metrics: collector,
		Logger:  log,
	})

	dispatcher := async.NewDispatcher(async.DispatcherConfig{
		Timeout:  cfg.Pulse.InlineTimeout(),
		MaxSteps: cfg.AI.MaxSteps,
	}, chain, queue, codeTool, personaSrc, collector, log)

	tasks, err := async.NewTaskQueue(backgroundTaskBuffer, func(name string, err error) {
		log.Warnw("Background task failed", "task", name, logger.FieldError, err)
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MessageLimit:   cfg.Pulse.MessageLimit,
	}, server.Deps{
		Jobs:       queue,
		Schedules:  scheduleStore,
		Dispatcher: dispatcher,
		Tasks:      tasks,
		Delivery:   transport,
		Metrics:    collector.Handler(),
		Ticker:     ticker,
		Usage:      tracker.NewUsageTracker(database),
		Logger:     log.Named("http"),
	})
	if err != nil {
		return err
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	printStartupBanner(verbosity, dbPath, srv.Addr(), chain.Names(), transport != nil, codeTool != nil)

	if watcher, err := rules.Watch(); err != nil {
		log.Warnw("Blocklist hot reload disabled", logger.FieldError, err)
	} else {
		defer watcher.Stop()
	}

	tasks.Start(ctx)
	worker.Start()
	ticker.Start()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errChan:
		ticker.Stop()
		worker.Stop()
		tasks.Stop()
		return errors.Wrap(err, "server failed")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")
	}

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- shutdown(srv, ticker, worker, tasks)
	}()

	select {
	case err := <-shutdownDone:
		if err != nil {
			return errors.Wrap(err, "shutdown error")
		}
		pterm.Success.Println("peterbot stopped cleanly")
		return nil
	case <-sigChan:
		pterm.Warning.Println("Force shutdown - exiting immediately")
		os.Exit(1)
		return nil
	}
}

// shutdown stops intake first (HTTP, scheduler), then the worker, then drains
// background tasks. A job the worker was running is cancelled, not finished;
// it is failed as interrupted on the next start.
func shutdown(srv *server.Server, ticker *schedule.Ticker, worker *async.Worker, tasks *async.TaskQueue) error {
	ctx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
	defer cancel()

	err := srv.Shutdown(ctx)
	ticker.Stop()
	worker.Stop()
	tasks.Stop()
	return err
}
