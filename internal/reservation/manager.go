package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
	kafkax "github.com/ariefcatur/go-stock-reserve.git/internal/kafka"
	"github.com/ariefcatur/go-stock-reserve.git/internal/orders"
	"github.com/ariefcatur/go-stock-reserve.git/internal/pricing"
	"github.com/ariefcatur/go-stock-reserve.git/internal/redisx"
)

// retry terbatas buat konflik guard status (lost update), bukan buat transisi ilegal.
const maxConflictRetries = 3

type Line struct {
	Unit catalog.UnitRef `json:"unit"`
	Qty  int             `json:"qty"`
}

type CheckoutInput struct {
	ExternalID      string
	UserID          *string
	CustomerName    string
	CustomerPhone   string
	CustomerAddress string
	Lines           []Line
	TraceID         string
}

// Manager adalah satu-satunya jalur mutasi stok: reservasi saat checkout,
// release saat expire/cancel, finalisasi saat shipping, restock admin.
type Manager struct {
	Store   Store
	Catalog Catalog
	Tiers   TierSource

	Redis           *redis.Client    // optional: idempotency + status cache
	ProducerCreated *kafkax.Producer // optional: order.created
	ProducerShipped *kafkax.Producer // optional: order.shipped
	ProducerClosed  *kafkax.Producer // optional: order.closed

	Log            zerolog.Logger
	ServiceName    string
	ReservationTTL time.Duration
	SweepBatch     int // 0 = default 100

	Now func() time.Time // nil = time.Now
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now().UTC()
}

// Checkout bikin order unpaid + reservasi stok semua line sekaligus.
// Idempotent via external id: request ulang balikin order yang sudah ada.
func (m *Manager) Checkout(ctx context.Context, in CheckoutInput) (*orders.Order, error) {
	if in.ExternalID == "" || len(in.Lines) == 0 {
		return nil, catalog.ErrInvalidQuantity
	}
	for _, l := range in.Lines {
		if l.Qty <= 0 {
			return nil, catalog.ErrInvalidQuantity
		}
	}

	// short-circuit idempotency; DB tetap sumber kebenaran
	if existing, err := m.Store.FindByExternalID(ctx, in.ExternalID); err == nil {
		return existing, nil
	} else if !errors.Is(err, orders.ErrNotFound) {
		return nil, err
	}

	tiers, err := m.Tiers.ActiveTiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load price tiers: %w", err)
	}

	now := m.now()
	expiresAt := now.Add(m.ReservationTTL)
	o := &orders.Order{
		ID:                   uuid.NewString(),
		ExternalID:           in.ExternalID,
		UserID:               in.UserID,
		CustomerName:         in.CustomerName,
		CustomerPhone:        in.CustomerPhone,
		CustomerAddress:      in.CustomerAddress,
		Status:               orders.StatusUnpaid,
		ReservationExpiresAt: &expiresAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	items := make([]orders.OrderItem, 0, len(in.Lines))
	subtotal := decimal.Zero
	for _, l := range in.Lines {
		unit, err := m.Catalog.SellableUnit(ctx, l.Unit)
		if err != nil {
			return nil, err
		}
		unitPrice, _ := pricing.PriceFor(tiers, l.Qty, unit.RetailPrice)
		lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(l.Qty)))
		items = append(items, orders.OrderItem{
			OrderID:    o.ID,
			Unit:       l.Unit,
			Backing:    unit.Backing,
			BackingQty: unit.UnitsPerQty * l.Qty,
			UnitPrice:  unitPrice,
			Qty:        l.Qty,
			TotalPrice: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}
	o.Subtotal = subtotal
	o.Total = subtotal

	if err := m.Store.CreateOrderWithReservation(ctx, o, items); err != nil {
		return nil, err
	}

	m.cacheStatus(ctx, o.ID, o.Status)
	if m.Redis != nil {
		idemKey := fmt.Sprintf(redisx.KeyIdemCheckout, in.ExternalID)
		_ = m.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}

	lines := make([]orders.LineRef, 0, len(items))
	for _, it := range items {
		lines = append(lines, orders.LineRef{UnitKind: string(it.Unit.Kind), UnitID: it.Unit.ID, Qty: it.Qty})
	}
	m.publish(m.ProducerCreated, orders.EventOrderCreated, o.ID, in.TraceID, orders.OrderCreatedPayload{
		OrderID:    o.ID,
		ExternalID: o.ExternalID,
		Items:      lines,
		Total:      o.Total.String(),
		ExpiresAt:  expiresAt,
	})

	m.Log.Info().Str("order_id", o.ID).Str("external_id", o.ExternalID).
		Int("lines", len(items)).Str("total", o.Total.String()).Msg("order reserved")
	return o, nil
}

// SubmitPaymentProof: pembeli upload bukti bayar -> unpaid ke awaiting_confirmation.
// Reservasi tidak berubah.
func (m *Manager) SubmitPaymentProof(ctx context.Context, orderID string) error {
	return m.transition(ctx, orderID, orders.StatusAwaitingConfirmation)
}

// ConfirmPayment: admin/gateway konfirmasi -> awaiting_confirmation ke processing.
// Stok masih reserved, belum dipotong.
func (m *Manager) ConfirmPayment(ctx context.Context, orderID string) error {
	return m.transition(ctx, orderID, orders.StatusProcessing)
}

// Ship memfinalkan reservasi: on-hand dan reserved turun bersama, item
// allocated=true, movement 'sale' dicatat.
func (m *Manager) Ship(ctx context.Context, orderID, trackingRef string) error {
	err := m.withConflictRetry(ctx, func() error {
		o, err := m.Store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !orders.CanTransition(o.Status, orders.StatusShipped) {
			return &orders.InvalidTransitionError{OrderID: orderID, From: o.Status, To: orders.StatusShipped}
		}
		return m.Store.ShipOrder(ctx, orderID, trackingRef)
	})
	if err != nil {
		return err
	}
	m.cacheStatus(ctx, orderID, orders.StatusShipped)
	m.publish(m.ProducerShipped, orders.EventOrderShipped, orderID, "", orders.OrderShippedPayload{
		OrderID:     orderID,
		TrackingRef: trackingRef,
	})
	m.Log.Info().Str("order_id", orderID).Str("tracking_ref", trackingRef).Msg("order shipped, stock finalized")
	return nil
}

// MarkDelivered: shipped ke completed, tanpa efek stok.
func (m *Manager) MarkDelivered(ctx context.Context, orderID string) error {
	if err := m.transition(ctx, orderID, orders.StatusCompleted); err != nil {
		return err
	}
	m.publish(m.ProducerClosed, orders.EventOrderCompleted, orderID, "", orders.OrderClosedPayload{
		OrderID: orderID, Status: string(orders.StatusCompleted),
	})
	return nil
}

// Cancel membatalkan order pre-shipment dan melepas reservasinya.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	err := m.withConflictRetry(ctx, func() error {
		o, err := m.Store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !orders.CanTransition(o.Status, orders.StatusCancelled) {
			return &orders.InvalidTransitionError{OrderID: orderID, From: o.Status, To: orders.StatusCancelled}
		}
		return m.Store.ReleaseOrder(ctx, orderID, o.Status, orders.StatusCancelled, orders.MovementRelease)
	})
	if err != nil {
		return err
	}
	m.cacheStatus(ctx, orderID, orders.StatusCancelled)
	m.publish(m.ProducerClosed, orders.EventOrderCancelled, orderID, "", orders.OrderClosedPayload{
		OrderID: orderID, Status: string(orders.StatusCancelled), Reason: "manual_cancel",
	})
	m.Log.Info().Str("order_id", orderID).Msg("order cancelled, reservation released")
	return nil
}

// ReleaseExpired: sweep batch order yang deadline reservasinya lewat.
// Idempotent (order yang sudah pindah status dilewati) dan aman jalan
// bersamaan dengan dirinya sendiri: guard status per-order yang menang cuma satu.
// Gagal satu order di-log lalu lanjut (bukan all-or-nothing).
func (m *Manager) ReleaseExpired(ctx context.Context, now time.Time) (int, error) {
	batch := m.SweepBatch
	if batch <= 0 {
		batch = 100
	}
	ids, err := m.Store.ExpiredOrders(ctx, now, batch)
	if err != nil {
		return 0, fmt.Errorf("scan expired orders: %w", err)
	}

	released := 0
	for _, id := range ids {
		o, err := m.Store.GetOrder(ctx, id)
		if err != nil {
			m.Log.Error().Err(err).Str("order_id", id).Msg("sweep: load order failed, skip")
			continue
		}
		if !o.Status.Expirable() {
			continue // sudah ditangani sweep/aksi lain
		}
		err = m.Store.ReleaseOrder(ctx, id, o.Status, orders.StatusExpired, orders.MovementExpire)
		if errors.Is(err, orders.ErrConflict) {
			continue // kalah race dari sweep lain / transisi manual
		}
		if err != nil {
			m.Log.Error().Err(err).Str("order_id", id).Msg("sweep: release failed, skip")
			continue
		}
		released++
		m.cacheStatus(ctx, id, orders.StatusExpired)
		m.publish(m.ProducerClosed, orders.EventOrderExpired, id, "", orders.OrderClosedPayload{
			OrderID: id, Status: string(orders.StatusExpired), Reason: "reservation_expired",
		})
	}
	if released > 0 {
		m.Log.Info().Int("released", released).Msg("expired reservations released")
	}
	return released, nil
}

// Restock: jalur admin nambah stok, selalu lewat primitive atomik store.
func (m *Manager) Restock(ctx context.Context, src catalog.SourceRef, qty int, note string) error {
	if qty <= 0 {
		return catalog.ErrInvalidQuantity
	}
	if err := m.Store.Restock(ctx, src, qty, note); err != nil {
		return err
	}
	m.Log.Info().Str("source", src.String()).Int("qty", qty).Msg("restocked")
	return nil
}

// transition: transisi status murni (tanpa efek stok) dengan validasi tabel
// transisi + guard WHERE status=from, retry terbatas saat konflik.
func (m *Manager) transition(ctx context.Context, orderID string, to orders.Status) error {
	err := m.withConflictRetry(ctx, func() error {
		o, err := m.Store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !orders.CanTransition(o.Status, to) {
			return &orders.InvalidTransitionError{OrderID: orderID, From: o.Status, To: to}
		}
		return m.Store.TransitionStatus(ctx, orderID, o.Status, to)
	})
	if err != nil {
		return err
	}
	m.cacheStatus(ctx, orderID, to)
	return nil
}

func (m *Manager) withConflictRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err = fn(); !errors.Is(err, orders.ErrConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return err
}

func (m *Manager) cacheStatus(ctx context.Context, orderID string, s orders.Status) {
	if m.Redis == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = m.Redis.Set(ctx, key, fmt.Sprintf(`{"status":%q}`, s), redisx.TTLStatusCache).Err()
}

func (m *Manager) publish(p *kafkax.Producer, eventType, orderID, traceID string, payload any) {
	if p == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    m.now(),
		Producer:      m.ServiceName,
		TraceID:       traceID,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
