// Package app wires the database, configuration, logger and notification
// transport into a ready engine. The CLI and the HTTP server both start here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"refurbline/internal/config"
	"refurbline/internal/db"
	"refurbline/internal/engine"
	"refurbline/internal/logging"
	"refurbline/internal/migrate"
	"refurbline/internal/notify"
)

type Options struct {
	Workspace  string
	ConfigPath string
	// LogLevel and LogFormat override the config file when set.
	LogLevel  string
	LogFormat string
	Logger    *zap.Logger
}

type App struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Log    *zap.Logger

	redis *redis.Client
	mqtt  mqtt.Client
	queue *notify.Channel
}

// Open migrates the workspace database, seeds racks and parts from config and
// connects the configured notification transport.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		level, format := cfg.Log.Level, cfg.Log.Format
		if opts.LogLevel != "" {
			level = opts.LogLevel
		}
		if opts.LogFormat != "" {
			format = opts.LogFormat
		}
		if log, err = logging.New(level, format, "refurbline"); err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{DB: conn, Config: cfg, Log: log}
	eng := engine.New(conn, cfg)
	eng.Log = log
	publisher, err := a.publisher()
	if err != nil {
		a.Close()
		return nil, err
	}
	eng.Notify = publisher
	a.Engine = eng

	if err := eng.Seed(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("seed: %w", err)
	}
	log.Debug("workspace ready",
		zap.String("workspace", opts.Workspace),
		zap.String("transport", cfg.Notifications.Transport))
	return a, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.Load(opts.Workspace)
}

func (a *App) publisher() (notify.Publisher, error) {
	n := a.Config.Notifications
	switch n.Transport {
	case config.TransportRedis:
		a.redis = redis.NewClient(&redis.Options{Addr: n.Redis.Addr, Password: n.Redis.Password, DB: n.Redis.DB})
		return notify.RedisStream{Client: a.redis, Stream: n.Redis.Stream, MaxLen: 10000}, nil
	case config.TransportMQTT:
		client, err := notify.DialMQTT(n.MQTT.Broker, n.MQTT.ClientID)
		if err != nil {
			return nil, err
		}
		a.mqtt = client
		return notify.MQTTPublisher{Client: client, TopicPrefix: n.MQTT.TopicPrefix, QoS: n.MQTT.QoS}, nil
	}
	if n.WebhookURL != "" {
		a.queue = notify.NewChannel(256)
		return a.queue, nil
	}
	return notify.LogPublisher{Log: a.Log}, nil
}

// Sender is where consumed notifications end up: the webhook when one is
// configured, the log otherwise.
func (a *App) Sender() notify.Sender {
	if url := a.Config.Notifications.WebhookURL; url != "" {
		return notify.NewWebhookSender(url, 5*time.Second)
	}
	return notify.LogSender{Log: a.Log}
}

// ErrNoStream is returned by Worker when notifications do not go through Redis.
var ErrNoStream = errors.New("notifications transport is not redis")

// Worker returns the Redis stream consumer for this workspace.
func (a *App) Worker() (notify.Worker, error) {
	if a.redis == nil {
		return notify.Worker{}, ErrNoStream
	}
	r := a.Config.Notifications.Redis
	return notify.Worker{
		Client:   a.redis,
		Stream:   r.Stream,
		Group:    r.Group,
		Consumer: r.Consumer,
		Sender:   a.Sender(),
		Log:      a.Log,
	}, nil
}

// RunInProcessDelivery drains the in-memory queue until ctx ends. It returns
// immediately when another transport carries the events.
func (a *App) RunInProcessDelivery(ctx context.Context) {
	if a.queue == nil {
		return
	}
	notify.Pump(ctx, a.queue, a.Sender(), a.Log)
}

// Flush delivers whatever is sitting in the in-process queue. Short-lived
// CLI commands call it before exiting so webhooks are not lost.
func (a *App) Flush(ctx context.Context) {
	if a.queue == nil {
		return
	}
	sender := a.Sender()
	for _, evt := range a.queue.Drain() {
		if err := sender.Send(ctx, evt); err != nil {
			a.Log.Warn("notification delivery failed", zap.String("type", evt.Type), zap.Error(err))
		}
	}
}

func (a *App) Close() error {
	if a.mqtt != nil {
		a.mqtt.Disconnect(250)
	}
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	_ = a.Log.Sync()
	return errors.Join(errs...)
}
