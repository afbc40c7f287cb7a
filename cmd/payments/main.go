package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
	"github.com/ariefcatur/go-stock-reserve.git/internal/config"
	kafkax "github.com/ariefcatur/go-stock-reserve.git/internal/kafka"
	"github.com/ariefcatur/go-stock-reserve.git/internal/logx"
	"github.com/ariefcatur/go-stock-reserve.git/internal/orders"
	"github.com/ariefcatur/go-stock-reserve.git/internal/payments"
	"github.com/ariefcatur/go-stock-reserve.git/internal/postgres"
	"github.com/ariefcatur/go-stock-reserve.git/internal/pricing"
	"github.com/ariefcatur/go-stock-reserve.git/internal/redisx"
	"github.com/ariefcatur/go-stock-reserve.git/internal/reservation"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logx.New(cfg.AppEnv, cfg.LogLevel, cfg.ServiceName+"-payments")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Producer utk event order.closed (cancel via invalid payment dsb. tidak
	// terjadi di worker ini, tapi manager butuh producer yang sama)
	pClosed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderClosed, 1024, log)
	pClosed.Start(ctx)

	manager := &reservation.Manager{
		Store:          &reservation.Repo{DB: db},
		Catalog:        &catalog.Repo{DB: db},
		Tiers:          &pricing.Repo{DB: db},
		Redis:          rdb,
		ProducerClosed: pClosed,
		Log:            log,
		ServiceName:    cfg.ServiceName + "-payments",
		ReservationTTL: cfg.ReservationTTL,
	}

	svc := &payments.Service{
		Manager:     manager,
		Redis:       rdb,
		Log:         log,
		ServiceName: cfg.ServiceName + "-payments",
	}

	group := getenv("PAYMENTS_GROUP", "payments-svc")
	workers := mustAtoi(os.Getenv("PAYMENTS_WORKERS"), "8")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicPaymentConfirmed, workers, log)

	go func() {
		log.Info().Str("group", group).Str("topic", orders.TopicPaymentConfirmed).
			Int("workers", workers).Msg("payments consumer started")
		if err := cons.Start(ctx, svc.HandlePaymentConfirmed); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
	pClosed.WaitClosed()
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
