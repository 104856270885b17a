package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/logging"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logging.MustNew(cfg.ServiceName+"-notifier", cfg.Env, cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis
	rdb := redisx.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rdb.Close()

	h := &notify.Handler{
		Notifier: notify.LogNotifier{Log: log},
		Dedup:    redisx.NewDedup(rdb, redisx.TTLDedup),
		Log:      log,
	}

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroup, orders.AllTopics, cfg.NotifierWorkers, log)
	log.Info("notifier_started",
		zap.String("group", cfg.KafkaGroup),
		zap.Strings("topics", orders.AllTopics),
		zap.Int("workers", cfg.NotifierWorkers),
	)
	if err := cons.Start(ctx, h.Handle); err != nil {
		log.Error("consumer_exit", zap.Error(err))
	}
	log.Info("notifier_stopped")
}
