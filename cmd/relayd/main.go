// relayd controller - schedules platform sessions across the worker fleet
// and runs the message-forwarding pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaymesh/relayd/pkg/api"
	"github.com/relaymesh/relayd/pkg/config"
	"github.com/relaymesh/relayd/pkg/events"
	"github.com/relaymesh/relayd/pkg/forward"
	"github.com/relaymesh/relayd/pkg/model"
	"github.com/relaymesh/relayd/pkg/notify"
	"github.com/relaymesh/relayd/pkg/quota"
	"github.com/relaymesh/relayd/pkg/ruleengine"
	"github.com/relaymesh/relayd/pkg/scheduler"
	"github.com/relaymesh/relayd/pkg/stats"
	"github.com/relaymesh/relayd/pkg/store"
	"github.com/relaymesh/relayd/pkg/syncer"
	"github.com/relaymesh/relayd/pkg/version"
	"github.com/relaymesh/relayd/pkg/worker"
	"github.com/relaymesh/relayd/pkg/workerregistry"
)

func main() {
	envPath := flag.String("env", ".env", "path to .env file (optional)")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)
	log.Info("starting relayd", "version", version.Full())

	cfg, err := config.Load(*envPath)
	if err != nil {
		log.Error("loading configuration failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		log.Error("opening store failed", "error", err)
		os.Exit(1)
	}
	log.Info("store ready", "database", cfg.Database.Database)

	quotaMgr := quota.New(st, cfg.TierLimits, log)
	if cfg.RedisAddr != "" {
		shared, err := quota.NewRedisBuckets(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.TierLimits)
		if err != nil {
			log.Error("connecting shared rate-limit store failed", "error", err)
			os.Exit(1)
		}
		quotaMgr.UseSharedBuckets(shared)
		log.Info("rate-limit buckets shared via redis", "addr", cfg.RedisAddr)
	}

	// Startup reconciliation: recompute plan counters from live rows before
	// the admin surface accepts traffic.
	if err := quotaMgr.Reconcile(ctx); err != nil {
		log.Error("quota reconciliation failed", "error", err)
		os.Exit(1)
	}

	connManager := events.NewConnectionManager(log)
	publisher := events.NewPublisher(connManager, log)
	notifier := notify.NewService(notify.ServiceConfig{
		Token:        cfg.SlackToken,
		Channel:      cfg.SlackChannel,
		DashboardURL: cfg.DashboardURL,
	})
	if notifier == nil {
		log.Info("slack notifications disabled")
	}

	// The registry's offline callback closes over the scheduler, which is
	// built right after; the callback only fires once the liveness scan
	// starts running.
	var sched *scheduler.Scheduler
	registry := workerregistry.New(st, cfg.LivenessWindow, func(ctx context.Context, w model.Worker) {
		if err := sched.MigrateWorker(ctx, w.ID); err != nil {
			log.Error("migrating sessions off worker failed", "worker_id", w.WorkerID, "error", err)
		}
		if _, err := sched.DrainQueue(ctx); err != nil {
			log.Error("draining queue after worker transition failed", "error", err)
		}
	}, log)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.QueueMaxAge = cfg.QueueMaxAge
	schedCfg.ScalingCooldown = cfg.ScalingCooldown
	sched = scheduler.New(st, registry, quotaMgr, schedCfg, publisher, notifier, log)

	pool := worker.NewPool(log)
	policies := ruleengine.NewCache(st, log)

	engineCfg := forward.DefaultConfig()
	engineCfg.RetryMax = cfg.DefaultRetryMax
	engine := forward.New(st, policies, pool, engineCfg, publisher, log)
	if notifier != nil {
		engine.SetApprovalNotifier(notifier)
	}

	dispatcher := syncer.New(st, pool, syncer.DefaultConfig(), log)
	dispatcher.SetApprovedDispatcher(engine)
	engine.SetSyncer(dispatcher)

	server := api.NewServer(cfg, st, quotaMgr, registry, sched)
	server.SetEngine(engine)
	server.SetPolicyCache(policies)
	server.SetStatsService(stats.New(st))
	server.SetConnectionManager(connManager)
	server.SetNotifier(notifier)
	server.SetWorkerPool(pool)
	if err := server.ValidateWiring(); err != nil {
		log.Error("server wiring incomplete", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})
	g.Go(func() error {
		dispatcher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := server.Start(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		engine.Shutdown()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("controller exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("controller stopped")
}
