package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/contact-validation/internal/alert"
	"github.com/cuongbtq/contact-validation/internal/config"
	"github.com/cuongbtq/contact-validation/internal/crm"
	"github.com/cuongbtq/contact-validation/internal/metrics"
	"github.com/cuongbtq/contact-validation/internal/usage"
	"github.com/cuongbtq/contact-validation/internal/verifier"
	"github.com/cuongbtq/contact-validation/internal/worker"
	"github.com/cuongbtq/contact-validation/internal/worker/domain"
	"github.com/cuongbtq/contact-validation/internal/worker/storage"
	"github.com/cuongbtq/contact-validation/shared/logger"
	"github.com/cuongbtq/contact-validation/shared/postgresql"
	"github.com/cuongbtq/contact-validation/shared/rabbitmq"
	"github.com/redis/go-redis/v9"
)

// processor holds every long-lived dependency of the processor commands
type processor struct {
	cfg    *config.Config
	logger *logger.Logger

	db     *postgresql.Client
	rabbit *rabbitmq.Client
	redis  *redis.Client

	store       *storage.Storage
	usage       *usage.RedisCounter
	metricsSink *metrics.RedisSink
	coordinator *worker.Coordinator
	maintenance *worker.Maintenance
}

// newProcessor connects the backing services and assembles the processor.
// RabbitMQ and Redis are only dialed when enabled in the config.
func newProcessor(ctx context.Context, cfg *config.Config) (*processor, error) {
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	p := &processor{cfg: cfg, logger: appLogger}

	p.db, err = initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		appLogger.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := p.db.Migrate(ctx, storage.SchemaStatements...); err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	if cfg.RabbitMQ.Enabled {
		p.rabbit, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		appLogger.Info("RabbitMQ connection established")
	}

	if cfg.Redis.Enabled {
		p.redis, err = initRedis(ctx, &cfg.Redis)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		p.usage = usage.NewRedisCounter(p.redis, cfg.Redis.UsagePrefix)
		p.metricsSink = metrics.NewRedisSink(p.redis, cfg.Redis.MetricsPrefix)
		appLogger.Info("Redis connection established", slog.String("addr", cfg.Redis.Addr))
	}

	p.store = storage.NewStorage(p.db.GetDB(), appLogger.Component("queue-store"))
	p.coordinator = p.buildCoordinator()
	p.maintenance = p.buildMaintenance()

	return p, nil
}

func (p *processor) buildCoordinator() *worker.Coordinator {
	cfg := p.cfg.Processor

	pipelineCfg := &worker.PipelineConfig{
		Logger: p.logger.Logger,
		Store:  p.store,
		CRM: crm.NewClient(&crm.Config{
			BaseURL:  p.cfg.CRM.BaseURL,
			APIToken: p.cfg.CRM.APIToken,
			Timeout:  p.cfg.CRM.Timeout,
		}, p.logger.Logger),
		Validators: verifier.NewClient(&verifier.Config{
			BaseURL: p.cfg.Verifier.BaseURL,
			APIKey:  p.cfg.Verifier.APIKey,
			Timeout: p.cfg.Verifier.Timeout,
		}).Validators(),
		Backoff: domain.Backoff{Base: cfg.BaseRetryDelay, Max: cfg.MaxRetryDelay},
	}
	if p.usage != nil {
		pipelineCfg.Usage = p.usage
	}

	coordinatorCfg := &worker.CoordinatorConfig{
		Logger: p.logger.Logger,
		Store:  p.store,
		Executor: worker.NewExecutor(&worker.ExecutorConfig{
			Logger:             p.logger.Logger,
			Concurrency:        cfg.Concurrency,
			MaxRuntime:         cfg.MaxRuntime,
			SafetyMargin:       cfg.SafetyMargin,
			ItemTimeoutCeiling: cfg.ItemTimeoutCeiling,
		}),
		Process:   worker.NewPipeline(pipelineCfg).Process,
		BatchSize: cfg.BatchSize,
	}
	if p.metricsSink != nil {
		coordinatorCfg.Sink = p.metricsSink
	}

	return worker.NewCoordinator(coordinatorCfg)
}

func (p *processor) buildMaintenance() *worker.Maintenance {
	sinks := alert.Fanout{alert.NewLogSink(p.logger.Component("alerts"))}
	if p.rabbit != nil && p.cfg.Alerts.PublishToRabbitMQ {
		sinks = append(sinks, alert.NewRabbitSink(p.rabbit, p.cfg.Alerts.RoutingPrefix))
	}

	cfg := p.cfg.Maintenance
	return worker.NewMaintenance(&worker.MaintenanceConfig{
		Logger:              p.logger.Logger,
		Store:               p.store,
		Alerts:              sinks,
		StalledThreshold:    cfg.StalledThreshold,
		CompletedRetention:  cfg.CompletedRetention,
		BacklogThreshold:    cfg.BacklogAlertThreshold,
		StallAlertThreshold: cfg.StallAlertThreshold,
	})
}

// consumer returns the AMQP ingress consumer, or nil when it is not configured
func (p *processor) consumer() *worker.Consumer {
	if p.rabbit == nil || !p.cfg.RabbitMQ.Consumer.Enabled {
		return nil
	}
	return worker.NewConsumer(&worker.ConsumerConfig{
		Logger:      p.logger.Logger,
		Source:      p.rabbit,
		Store:       p.store,
		ConsumerTag: p.cfg.RabbitMQ.Consumer.Tag,
		MaxAttempts: p.cfg.Processor.MaxAttempts,
	})
}

// Close releases every connection that was opened
func (p *processor) Close() error {
	var errs []error
	if p.rabbit != nil {
		errs = append(errs, p.rabbit.Close())
	}
	if p.redis != nil {
		errs = append(errs, p.redis.Close())
	}
	if p.db != nil {
		errs = append(errs, p.db.Close())
	}
	if p.logger != nil {
		errs = append(errs, p.logger.Close())
	}
	return errors.Join(errs...)
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   cfg.TimeFormat,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// initRedis connects to Redis and verifies the connection
func initRedis(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
