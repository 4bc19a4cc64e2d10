package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Rito-w/drone/pkg/config"
	"github.com/Rito-w/drone/pkg/httpserver"
	"github.com/Rito-w/drone/pkg/logger"
	"github.com/Rito-w/drone/pkg/notifications"
	"github.com/Rito-w/drone/pkg/notifications/metrics"
	"github.com/Rito-w/drone/pkg/queue"
)

func main() {
	var app appConfig
	config.MustLoad(&app)

	log := logger.New(
		logger.WithEnvironment(app.Env, app.Name),
		logger.WithContextExtractors(logger.NotificationExtractor()),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, app, log); err != nil {
		log.Error("notifier stopped", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, app appConfig, log *slog.Logger) error {
	var (
		notifyCfg notifications.Config
		queueCfg  queue.Config
		httpCfg   httpserver.Config
	)
	if err := config.Load(&notifyCfg); err != nil {
		return err
	}
	if err := config.Load(&queueCfg); err != nil {
		return err
	}
	if err := config.Load(&httpCfg); err != nil {
		return err
	}

	deps, err := connect(ctx, app, queueCfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	observer, err := metrics.New(registry)
	if err != nil {
		return err
	}

	senders, err := buildSenders(ctx, log)
	if err != nil {
		return err
	}
	counter, err := buildCounter(deps, notifyCfg)
	if err != nil {
		return err
	}

	enqueuer, err := queue.NewEnqueuer(deps.tasks, queue.WithDefaultQueue(notifications.QueueSend))
	if err != nil {
		return err
	}
	retry, err := notifications.NewRetryScheduler(deps.store, enqueuer, deps.deadLetters,
		notifications.WithRetryLogger(log),
		notifications.WithRetryObserver(observer),
		notifications.WithRetryBatchSize(notifyCfg.RetryBatchSize),
		notifications.WithStallTimeout(notifyCfg.StallTimeout),
	)
	if err != nil {
		return err
	}
	dispatcher, err := notifications.NewDispatcher(deps.store, enqueuer, senders, retry,
		notifications.WithDispatcherLogger(log),
		notifications.WithDispatcherObserver(observer),
		notifications.WithUnreadCounter(counter),
		notifications.WithSendTimeout(notifyCfg.SendTimeout),
	)
	if err != nil {
		return err
	}
	service, err := notifications.NewService(dispatcher, notifications.WithServiceLogger(log))
	if err != nil {
		return err
	}
	consumers, err := notifications.NewConsumers(service, notifyCfg, log)
	if err != nil {
		return err
	}

	worker, err := queue.NewWorker(deps.tasks,
		queue.WithWorkerConfig(queueCfg),
		queue.WithQueues(notifications.QueueSend, notifications.QueueRetry, notifications.QueueDLQ, queue.DefaultQueueName),
		queue.WithWorkerLogger(log),
	)
	if err != nil {
		return err
	}
	consumers.Register(worker)

	scheduler, err := queue.NewScheduler(deps.tasks,
		queue.WithCheckInterval(queueCfg.SchedulerInterval),
		queue.WithSchedulerLogger(log),
	)
	if err != nil {
		return err
	}
	if err := consumers.Schedule(scheduler); err != nil {
		return err
	}

	router := httpserver.NewOpsRouter(httpserver.OpsRoutes{
		Checks:  deps.checks,
		Metrics: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Logger:  log,
	})
	srv := httpserver.New(httpCfg, router, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(ctx))
	g.Go(scheduler.Run(ctx))
	g.Go(func() error { return srv.Run(ctx) })

	log.Info("notifier started",
		slog.String("store", app.Store),
		slog.String("queue_storage", queueCfg.Storage))

	return g.Wait()
}
