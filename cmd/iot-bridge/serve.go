package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Linhhh07/Iot/internal/device"
	"github.com/Linhhh07/Iot/internal/httpapi"
	"github.com/Linhhh07/Iot/internal/ingest"
	"github.com/Linhhh07/Iot/internal/mqtt"
	"github.com/Linhhh07/Iot/internal/observability"
	"github.com/Linhhh07/Iot/internal/realtime"
	"github.com/Linhhh07/Iot/internal/reconcile"
	"github.com/Linhhh07/Iot/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MQTT ingest pipeline and the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	shutdownObs, promHandler, tracer, err := observability.SetupObservability(serviceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer shutdownObs()

	repo, closeDB, err := openRepo()
	if err != nil {
		return err
	}
	defer closeDB()

	// Left as a nil interface when redis is off.
	var cache reconcile.StateCache
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		pong, err := rdb.Ping(ctx).Result()
		if err != nil {
			return fmt.Errorf("redis ping %s: %w", addr, err)
		}
		slog.Info("connected to redis", "addr", addr, "pong", pong)
		cache = store.NewStateCache(rdb)
	}

	mq, err := mqtt.Connect(cfg.MQTTOptions())
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	topics := device.NewTopics(cfg.MQTT.TopicRoot)
	hub := realtime.NewHub(cfg.HubOptions())
	reconciler := reconcile.NewReconciler(repo, cache, hub)
	resyncer := reconcile.NewResyncer(repo, mq, topics, cfg.QueryTimeout)
	commander := reconcile.NewCommander(repo, cache, mq, topics, cfg.QueryTimeout)

	// Queued messages are drained on shutdown, so processing outlives ctx.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	disp := ingest.NewDispatcher(cfg.Ingest.Workers, cfg.Ingest.QueueSize)
	ing := &ingest.Ingestor{
		Sensors:      repo,
		States:       reconciler,
		Resync:       resyncer,
		Notifier:     hub,
		Topics:       topics,
		AllowRetains: cfg.Ingest.Retained,
		Tracer:       tracer,
		// One query plus a publish per device.
		ResyncTimeout: cfg.QueryTimeout + time.Minute,
	}
	deliver := ing.Handler(workCtx, disp)
	for _, topic := range topics.Subscriptions() {
		if err := mq.Subscribe(topic, func(m mqtt.Message) { deliver(m) }); err != nil {
			mq.Close()
			disp.Close()
			return fmt.Errorf("mqtt subscribe: %w", err)
		}
	}

	var sched *reconcile.Scheduler
	if spec := strings.TrimSpace(cfg.ResyncSchedule); spec != "" {
		sched, err = reconcile.NewScheduler(resyncer, spec, cfg.QueryTimeout+time.Minute)
		if err != nil {
			mq.Close()
			disp.Close()
			return err
		}
		sched.Start()
		slog.Info("scheduled resync enabled", "schedule", spec)
	}

	api := httpapi.New(httpapi.Options{
		Queries:     repo,
		Commander:   commander,
		Realtime:    hub,
		Metrics:     promHandler,
		Middleware:  []func(http.Handler) http.Handler{observability.MetricsAndTracingMiddleware(tracer, serviceName)},
		StaticDir:   cfg.StaticDir,
		Location:    loc,
		CORSOrigins: cfg.CORSOrigins,
	})
	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: api.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("iot-bridge listening", "addr", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	if sched != nil {
		sched.Stop()
	}
	mq.Close()
	disp.Close()
	ing.Wait()
	slog.Info("iot-bridge stopped")
	return err
}
