package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
	"github.com/ariefcatur/go-stock-reserve.git/internal/config"
	kafkax "github.com/ariefcatur/go-stock-reserve.git/internal/kafka"
	"github.com/ariefcatur/go-stock-reserve.git/internal/logx"
	"github.com/ariefcatur/go-stock-reserve.git/internal/orders"
	"github.com/ariefcatur/go-stock-reserve.git/internal/postgres"
	"github.com/ariefcatur/go-stock-reserve.git/internal/pricing"
	"github.com/ariefcatur/go-stock-reserve.git/internal/redisx"
	"github.com/ariefcatur/go-stock-reserve.git/internal/reservation"
)

// Sweeper: job periodik pelepas reservasi kedaluwarsa. Idempotent dan aman
// jalan lebih dari satu instance, guard status per-order yang mutusin menang.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logx.New(cfg.AppEnv, cfg.LogLevel, cfg.ServiceName+"-sweeper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pClosed := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderClosed, 1024, log)
	pClosed.Start(ctx)

	manager := &reservation.Manager{
		Store:          &reservation.Repo{DB: db},
		Catalog:        &catalog.Repo{DB: db},
		Tiers:          &pricing.Repo{DB: db},
		Redis:          rdb,
		ProducerClosed: pClosed,
		Log:            log,
		ServiceName:    cfg.ServiceName + "-sweeper",
		ReservationTTL: cfg.ReservationTTL,
		SweepBatch:     cfg.SweepBatchSize,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				runCtx, runCancel := context.WithTimeout(gctx, cfg.SweepInterval)
				n, err := manager.ReleaseExpired(runCtx, time.Now().UTC())
				runCancel()
				if err != nil {
					// sweep berikutnya nyoba lagi; jangan matikan proses
					log.Error().Err(err).Msg("sweep failed")
					continue
				}
				log.Debug().Int("released", n).Msg("sweep done")
			}
		}
	})

	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	_ = g.Wait()
	log.Info().Msg("sweeper stopped")
	pClosed.WaitClosed()
}
