package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/medlink/internal/config"
	"github.com/ariefcatur/medlink/internal/events"
	kafkax "github.com/ariefcatur/medlink/internal/kafka"
	"github.com/ariefcatur/medlink/internal/logx"
	"github.com/ariefcatur/medlink/internal/notify"
	"github.com/ariefcatur/medlink/internal/postgres"
	"github.com/ariefcatur/medlink/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logx.New(cfg.Env, cfg.LogLevel, cfg.ServiceName+"-notifier")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &notify.Service{
		Store: &notify.PGStore{DB: db},
		Dedup: redisx.NewDedup(rdb, "notifier"),
		Log:   log,
	}

	topics := []string{events.TopicStatusChanged, events.TopicPaymentReceived}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, topics, cfg.NotifierWorkers, log)

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info().
			Str("group", cfg.NotifierGroup).
			Strs("topics", topics).
			Int("workers", cfg.NotifierWorkers).
			Msg("notifier consumer started")
		if err := cons.Start(ctx, svc.HandleMessage); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down consumer")
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("consumer did not stop in time")
	}
}
