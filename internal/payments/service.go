package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/ariefcatur/go-stock-reserve.git/internal/kafka"
	"github.com/ariefcatur/go-stock-reserve.git/internal/orders"
	"github.com/ariefcatur/go-stock-reserve.git/internal/redisx"
	"github.com/ariefcatur/go-stock-reserve.git/internal/reservation"
)

// Service konsumsi event payment.confirmed dari gateway pembayaran dan
// majuin order awaiting_confirmation -> processing. Reservasi stok tidak
// disentuh di sini; itu kerjaan reservation.Manager waktu ship/cancel.
type Service struct {
	Manager     *reservation.Manager
	Redis       *redis.Client
	Log         zerolog.Logger
	ServiceName string
}

// HandlePaymentConfirmed dipasang sebagai handler consumer.
func (s *Service) HandlePaymentConfirmed(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}
	if env.EventType != orders.EventPaymentConfirmed {
		return nil // ignore
	}

	// dedup via Redis (pakai event_id)
	dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
	if exists, _ := redisx.Exists(ctx, s.Redis, dkey); exists {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.PaymentConfirmedPayload](env.Payload)
	if err != nil {
		return err
	}

	err = s.Manager.ConfirmPayment(ctx, p.OrderID)
	switch {
	case err == nil:
		s.Log.Info().Str("order_id", p.OrderID).Str("payment_ref", p.PaymentRef).Msg("payment confirmed")
	case errors.Is(err, orders.ErrInvalidTransition):
		// event ulang / order sudah lanjut, aman di-skip, tetap commit offset
		s.Log.Warn().Str("order_id", p.OrderID).Err(err).Msg("payment event ignored")
	case errors.Is(err, orders.ErrNotFound):
		s.Log.Warn().Str("order_id", p.OrderID).Msg("payment for unknown order ignored")
	default:
		return err // jangan commit offset, biar di-retry
	}

	_ = s.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	return nil
}
