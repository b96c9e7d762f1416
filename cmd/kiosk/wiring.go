package main

import (
	"context"
	"fmt"
	"log/slog"

	"cleanpoints/internal/camera"
	"cleanpoints/internal/camera/filesource"
	"cleanpoints/internal/platform/config"
	"cleanpoints/internal/platform/redis"
	"cleanpoints/internal/session"
	"cleanpoints/pkg/platform/audit"
	"cleanpoints/pkg/platform/audit/publisher"
	"cleanpoints/pkg/platform/audit/store/kafka"
	auditmemory "cleanpoints/pkg/platform/audit/store/memory"
	"cleanpoints/pkg/platform/audit/store/postgres"
	"cleanpoints/pkg/platform/circuit"
)

const auditMemoryLimit = 10_000

// buildDevice returns the frame-directory camera, or nil when no directory
// is configured so every acquire reports device_unsupported.
func buildDevice(cfg config.Config, log *slog.Logger) camera.Device {
	if cfg.CameraDir == "" {
		log.Warn("no camera configured, scanning is unavailable")
		return nil
	}
	return filesource.New(cfg.CameraDir, cfg.CameraFrameGap)
}

// buildSessionStore picks Redis when a URL is configured and memory
// otherwise.
func buildSessionStore(ctx context.Context, cfg config.Config, log *slog.Logger) (session.Store, func(), error) {
	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}
	if client == nil {
		log.Info("session store: memory")
		return session.NewInMemoryStore(), func() {}, nil
	}
	log.Info("session store: redis", "prefix", cfg.Redis.KeyPrefix)
	store := session.NewRedisStore(client.Client, session.WithKeyPrefix(cfg.Redis.KeyPrefix))
	return store, func() {
		if err := client.Close(); err != nil {
			log.Warn("closing redis failed", "error", err)
		}
	}, nil
}

// buildAudit returns an async publisher over the configured sinks. Kafka
// alone falls back to memory while the brokers are down. With a database the
// Postgres outbox is written first and a relay forwards it to Kafka, so
// nothing is lost to an outage.
func buildAudit(ctx context.Context, cfg config.Config, log *slog.Logger) (*publisher.Publisher, func(), error) {
	memory := auditmemory.NewInMemoryStore(auditMemoryLimit)
	var store audit.Store = memory
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var ks *kafka.Store
	if len(cfg.Audit.KafkaBrokers) > 0 {
		opts := []kafka.Option{
			kafka.WithBreaker(circuit.New("audit-kafka", circuit.WithFailureThreshold(3))),
			kafka.WithLogger(log),
		}
		if cfg.Audit.DatabaseURL == "" {
			opts = append(opts, kafka.WithFallback(memory))
		}
		var err error
		ks, err = kafka.Dial(ctx, cfg.Audit.KafkaBrokers, cfg.Audit.KafkaTopic, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("connect audit kafka: %w", err)
		}
		log.Info("audit sink: kafka", "brokers", cfg.Audit.KafkaBrokers, "topic", cfg.Audit.KafkaTopic)
		store = ks
		closers = append(closers, ks.Close)
	}

	if cfg.Audit.DatabaseURL != "" {
		outbox, err := postgres.Open(ctx, cfg.Audit.DatabaseURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect audit database: %w", err)
		}
		closers = append(closers, func() {
			if err := outbox.Close(); err != nil {
				log.Warn("closing audit database failed", "error", err)
			}
		})
		if ks != nil {
			relay := postgres.NewRelay(outbox, ks,
				postgres.WithRelayInterval(cfg.Audit.RelayInterval),
				postgres.WithRelayLogger(log),
			)
			relayCtx, stop := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_ = relay.Run(relayCtx)
			}()
			closers = append(closers, func() {
				stop()
				<-done
			})
			log.Info("audit outbox: relaying to kafka", "interval", cfg.Audit.RelayInterval)
		} else {
			log.Warn("audit outbox without kafka, events stay in the database")
		}
		store = outbox
	}
	if len(closers) == 0 {
		log.Info("audit sink: memory")
	}

	pub := publisher.NewPublisher(store,
		publisher.WithAsyncBuffer(cfg.Audit.Buffer),
		publisher.WithLogger(log),
	)
	return pub, func() {
		pub.Close()
		closeAll()
	}, nil
}
