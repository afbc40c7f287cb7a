package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
	"github.com/ariefcatur/go-stock-reserve.git/internal/config"
	"github.com/ariefcatur/go-stock-reserve.git/internal/httpx"
	kafkax "github.com/ariefcatur/go-stock-reserve.git/internal/kafka"
	"github.com/ariefcatur/go-stock-reserve.git/internal/logx"
	"github.com/ariefcatur/go-stock-reserve.git/internal/orders"
	"github.com/ariefcatur/go-stock-reserve.git/internal/postgres"
	"github.com/ariefcatur/go-stock-reserve.git/internal/pricing"
	"github.com/ariefcatur/go-stock-reserve.git/internal/redisx"
	"github.com/ariefcatur/go-stock-reserve.git/internal/reservation"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logx.New(cfg.AppEnv, cfg.LogLevel, cfg.ServiceName+"-api")
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

	// Kafka producers per topic lifecycle
	pCreated := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024, log)
	pCreated.Start(ctx)
	pShipped := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderShipped, 1024, log)
	pShipped.Start(ctx)
	pClosed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderClosed, 1024, log)
	pClosed.Start(ctx)

	catalogRepo := &catalog.Repo{DB: db}
	pricingRepo := &pricing.Repo{DB: db}
	manager := &reservation.Manager{
		Store:           &reservation.Repo{DB: db},
		Catalog:         catalogRepo,
		Tiers:           pricingRepo,
		Redis:           rdb,
		ProducerCreated: pCreated,
		ProducerShipped: pShipped,
		ProducerClosed:  pClosed,
		Log:             log,
		ServiceName:     cfg.ServiceName + "-api",
		ReservationTTL:  cfg.ReservationTTL,
		SweepBatch:      cfg.SweepBatchSize,
	}

	router := httpx.NewRouter()
	(&httpx.CheckoutHandler{Manager: manager, Redis: rdb, Log: log}).Register(router)
	(&httpx.FulfillmentHandler{Manager: manager, Log: log}).Register(router)
	(&httpx.CatalogHandler{Catalog: catalogRepo, Pricing: pricingRepo}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	// graceful shutdown
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pCreated.Close() // tutup inbox -> flush & close writer
	pShipped.Close()
	pClosed.Close()
	pCreated.WaitClosed()
	pShipped.WaitClosed()
	pClosed.WaitClosed()
}
