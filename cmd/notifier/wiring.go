package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Rito-w/drone/migrations"
	"github.com/Rito-w/drone/pkg/config"
	"github.com/Rito-w/drone/pkg/email"
	"github.com/Rito-w/drone/pkg/httpserver"
	"github.com/Rito-w/drone/pkg/logger"
	"github.com/Rito-w/drone/pkg/mongo"
	"github.com/Rito-w/drone/pkg/notifications"
	"github.com/Rito-w/drone/pkg/notifications/channels"
	"github.com/Rito-w/drone/pkg/notifications/kafkasink"
	"github.com/Rito-w/drone/pkg/notifications/mongostore"
	"github.com/Rito-w/drone/pkg/notifications/pgstore"
	"github.com/Rito-w/drone/pkg/notifications/rediscounter"
	"github.com/Rito-w/drone/pkg/pg"
	"github.com/Rito-w/drone/pkg/queue"
	"github.com/Rito-w/drone/pkg/redis"
)

// taskStorage is what the enqueuer, worker and scheduler share.
type taskStorage interface {
	queue.EnqueuerRepository
	queue.WorkerRepository
	queue.SchedulerRepository
}

type dependencies struct {
	store       notifications.Store
	tasks       taskStorage
	deadLetters notifications.MultiSink
	redis       *goredis.Client
	checks      map[string]httpserver.Check
	closers     []func()
}

// close releases connections in reverse order of acquisition.
func (d *dependencies) close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

func connect(ctx context.Context, app appConfig, queueCfg queue.Config, log *slog.Logger) (*dependencies, error) {
	deps := &dependencies{checks: make(map[string]httpserver.Check)}
	if err := deps.open(ctx, app, queueCfg, log); err != nil {
		deps.close()
		return nil, err
	}
	return deps, nil
}

func (deps *dependencies) open(ctx context.Context, app appConfig, queueCfg queue.Config, log *slog.Logger) error {
	if needsPostgres(app, queueCfg.Storage) {
		if err := connectPostgres(ctx, app, queueCfg, deps, log); err != nil {
			return err
		}
	}

	switch app.Store {
	case storeMongo:
		if err := connectMongo(ctx, deps); err != nil {
			return err
		}
	case storeMemory:
		deps.store = notifications.NewMemoryStore()
		deps.deadLetters = append(deps.deadLetters, notifications.NewMemoryDeadLetterSink())
	}

	if deps.tasks == nil {
		mem := queue.NewMemoryStorage()
		deps.tasks = mem
		deps.closers = append(deps.closers, func() { _ = mem.Close() })
	}

	if err := connectRedis(ctx, deps); err != nil {
		return err
	}
	if err := connectKafka(deps, log); err != nil {
		return err
	}
	return nil
}

func connectPostgres(ctx context.Context, app appConfig, queueCfg queue.Config, deps *dependencies, log *slog.Logger) error {
	var cfg pg.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	deps.closers = append(deps.closers, pool.Close)
	deps.checks["postgres"] = pg.Healthcheck(pool)

	if err := pg.Migrate(ctx, pool, migrations.FS, cfg, log); err != nil {
		return err
	}

	if queueCfg.Storage == storePostgres {
		tasks, err := queue.NewPostgresStorage(pool)
		if err != nil {
			return err
		}
		deps.tasks = tasks
	}

	if app.Store == storePostgres {
		store, err := pgstore.New(pool)
		if err != nil {
			return err
		}
		sink, err := pgstore.NewDeadLetterSink(pool)
		if err != nil {
			return err
		}
		deps.store = store
		deps.deadLetters = append(deps.deadLetters, sink)
	}
	return nil
}

func connectMongo(ctx context.Context, deps *dependencies) error {
	var cfg mongo.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	client, err := mongo.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	deps.closers = append(deps.closers, func() { _ = client.Disconnect(context.Background()) })
	deps.checks["mongo"] = mongo.Healthcheck(client)

	db := client.Database(cfg.Database)
	store, err := mongostore.New(db)
	if err != nil {
		return err
	}
	if err := store.EnsureIndexes(ctx); err != nil {
		return err
	}
	sink, err := mongostore.NewDeadLetterSink(db)
	if err != nil {
		return err
	}
	deps.store = store
	deps.deadLetters = append(deps.deadLetters, sink)
	return nil
}

func connectRedis(ctx context.Context, deps *dependencies) error {
	var cfg redis.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	if !cfg.Enabled() {
		return nil
	}
	client, err := redis.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	deps.redis = client
	deps.closers = append(deps.closers, func() { _ = client.Close() })
	deps.checks["redis"] = redis.Healthcheck(client)
	return nil
}

// connectKafka adds the Kafka dead-letter topic when brokers are configured.
// A missing topic is created; failing to create it is only logged since the
// brokers may auto-create on first publish.
func connectKafka(deps *dependencies, log *slog.Logger) error {
	var cfg kafkasink.Config
	if err := config.Load(&cfg); err != nil {
		return err
	}
	if !cfg.Enabled() {
		return nil
	}
	if err := kafkasink.EnsureTopic(cfg); err != nil {
		log.Warn("kafka dead-letter topic not ensured",
			slog.String("topic", cfg.Topic),
			logger.Error(err))
	}
	sink, err := kafkasink.New(cfg)
	if err != nil {
		return err
	}
	deps.closers = append(deps.closers, func() { _ = sink.Close() })
	deps.deadLetters = append(deps.deadLetters, sink)
	return nil
}

// buildCounter prefers Redis so every worker sees the same counts.
func buildCounter(deps *dependencies, cfg notifications.Config) (notifications.UnreadCounter, error) {
	if deps.store == nil {
		return nil, errors.New("no notification store configured")
	}
	if deps.redis != nil {
		return rediscounter.New(deps.redis, deps.store.CountUnread, rediscounter.WithTTL(cfg.UnreadTTL))
	}
	return notifications.NewMemoryCounter(deps.store.CountUnread, notifications.WithCounterTTL(cfg.UnreadTTL)), nil
}

// buildSenders starts from in-app, email and logging stubs, then replaces
// stubs with real providers whose credentials are present.
func buildSenders(ctx context.Context, log *slog.Logger) (*notifications.Senders, error) {
	var (
		emailCfg  email.Config
		twilioCfg channels.TwilioConfig
		fcmCfg    channels.FCMConfig
		wechatCfg channels.WeChatConfig
	)
	if err := config.Load(&emailCfg); err != nil {
		return nil, err
	}
	if err := config.Load(&twilioCfg); err != nil {
		return nil, err
	}
	if err := config.Load(&fcmCfg); err != nil {
		return nil, err
	}
	if err := config.Load(&wechatCfg); err != nil {
		return nil, err
	}

	mailer := email.NewDevSender(emailCfg.DevOutputDir)
	if emailCfg.PostmarkEnabled() {
		m, err := email.NewPostmarkClient(emailCfg)
		if err != nil {
			return nil, fmt.Errorf("postmark: %w", err)
		}
		mailer = m
	}
	senders := notifications.DefaultSenders(notifications.NewInAppSender(0), mailer, log)

	if twilioCfg.Enabled() {
		client, err := channels.NewTwilioClient(twilioCfg)
		if err != nil {
			return nil, err
		}
		senders.
			Register(notifications.ChannelSMS, channels.NewTwilioSMS(client.Api, twilioCfg.FromNumber)).
			Register(notifications.ChannelVoice, channels.NewTwilioVoice(client.Api, twilioCfg.FromNumber, twilioCfg.VoiceName))
	}
	if fcmCfg.Enabled() {
		client, err := channels.NewFCMClient(ctx, fcmCfg)
		if err != nil {
			return nil, err
		}
		senders.Register(notifications.ChannelPush, channels.NewFCMPush(client))
	}
	if wechatCfg.Enabled() {
		senders.Register(notifications.ChannelWechat, channels.NewWeChatRobot(wechatCfg))
	}
	return senders, nil
}
