package reservation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
	"github.com/ariefcatur/go-stock-reserve.git/internal/orders"
	"github.com/ariefcatur/go-stock-reserve.git/internal/pricing"
)

// memStore: Store + Catalog + TierSource in-memory untuk test manager.
// Pakai primitive Stock yang sama dengan repo SQL, mutex sebagai pengganti row lock.
type memStore struct {
	mu     sync.Mutex
	stocks map[catalog.SourceRef]*catalog.Stock
	units  map[catalog.UnitRef]catalog.SellableUnit
	tiers  []pricing.Tier
	orders map[string]*orders.Order
	items  map[string][]orders.OrderItem
	byExt  map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		stocks: map[catalog.SourceRef]*catalog.Stock{},
		units:  map[catalog.UnitRef]catalog.SellableUnit{},
		orders: map[string]*orders.Order{},
		items:  map[string][]orders.OrderItem{},
		byExt:  map[string]string{},
	}
}

func (m *memStore) CreateOrderWithReservation(_ context.Context, o *orders.Order, items []orders.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// reservasi di salinan dulu, commit kalau semua line cukup
	staged := map[catalog.SourceRef]catalog.Stock{}
	for _, d := range aggregateDemand(items) {
		st, ok := m.stocks[d.src]
		if !ok {
			return catalog.ErrNotFound
		}
		cp := *st
		if err := cp.Reserve(d.qty); err != nil {
			if errors.Is(err, catalog.ErrInsufficientStock) {
				return &catalog.InsufficientStockError{Unit: d.src, Requested: d.qty, Available: cp.Available()}
			}
			return err
		}
		staged[d.src] = cp
	}
	for src, st := range staged {
		*m.stocks[src] = st
	}

	cp := *o
	m.orders[o.ID] = &cp
	m.items[o.ID] = append([]orders.OrderItem(nil), items...)
	m.byExt[o.ExternalID] = o.ID
	return nil
}

func (m *memStore) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) FindByExternalID(_ context.Context, externalID string) (*orders.Order, error) {
	m.mu.Lock()
	id, ok := m.byExt[externalID]
	m.mu.Unlock()
	if !ok {
		return nil, orders.ErrNotFound
	}
	return m.GetOrder(context.Background(), id)
}

func (m *memStore) TransitionStatus(_ context.Context, id string, from, to orders.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	if o.Status != from {
		return orders.ErrConflict
	}
	o.Status = to
	return nil
}

func (m *memStore) ReleaseOrder(_ context.Context, id string, from, to orders.Status, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	if o.Status != from {
		return orders.ErrConflict
	}
	for _, d := range aggregateDemand(m.items[id]) {
		if err := m.stocks[d.src].Release(d.qty); err != nil {
			return err
		}
	}
	o.Status = to
	o.ReservationExpiresAt = nil
	return nil
}

func (m *memStore) ShipOrder(_ context.Context, id string, trackingRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return orders.ErrNotFound
	}
	if o.Status != orders.StatusProcessing {
		return orders.ErrConflict
	}
	for _, d := range aggregateDemand(m.items[id]) {
		if err := m.stocks[d.src].Deduct(d.qty); err != nil {
			return err
		}
	}
	o.Status = orders.StatusShipped
	o.TrackingRef = trackingRef
	o.ReservationExpiresAt = nil
	for i := range m.items[id] {
		m.items[id][i].Allocated = true
	}
	return nil
}

func (m *memStore) ExpiredOrders(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, o := range m.orders {
		if len(ids) >= limit {
			break
		}
		if o.Status.Expirable() && o.ReservationExpiresAt != nil && !o.ReservationExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memStore) Restock(_ context.Context, src catalog.SourceRef, qty int, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stocks[src]
	if !ok {
		return catalog.ErrNotFound
	}
	return st.Restock(qty)
}

func (m *memStore) SellableUnit(_ context.Context, ref catalog.UnitRef) (*catalog.SellableUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.units[ref]
	if !ok {
		return nil, catalog.ErrUnitNotSellable
	}
	cp := u
	return &cp, nil
}

func (m *memStore) ActiveTiers(_ context.Context) ([]pricing.Tier, error) {
	return m.tiers, nil
}

func (m *memStore) stock(src catalog.SourceRef) catalog.Stock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.stocks[src]
}

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestManager(st *memStore) *Manager {
	return &Manager{
		Store:          st,
		Catalog:        st,
		Tiers:          st,
		Log:            zerolog.Nop(),
		ServiceName:    "test",
		ReservationTTL: time.Hour,
		Now:            func() time.Time { return testNow },
	}
}

func seedProduct(st *memStore, id int64, onHand int, price int64) catalog.SourceRef {
	src := catalog.SourceRef{Kind: catalog.SourceProduct, ID: id}
	st.stocks[src] = &catalog.Stock{OnHand: onHand}
	st.units[catalog.UnitRef{Kind: catalog.UnitProduct, ID: id}] = catalog.SellableUnit{
		Ref:         catalog.UnitRef{Kind: catalog.UnitProduct, ID: id},
		SKU:         "SKU-P",
		RetailPrice: decimal.NewFromInt(price),
		Backing:     src,
		UnitsPerQty: 1,
	}
	return src
}

func checkout(t *testing.T, mgr *Manager, extID string, lines ...Line) *orders.Order {
	t.Helper()
	o, err := mgr.Checkout(context.Background(), CheckoutInput{
		ExternalID:   extID,
		CustomerName: "Budi",
		Lines:        lines,
	})
	require.NoError(t, err)
	return o
}

func TestCheckoutReservesStock(t *testing.T) {
	st := newMemStore()
	src := seedProduct(st, 1, 10, 250000)
	mgr := newTestManager(st)

	o := checkout(t, mgr, "ext-1", Line{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 3})

	assert.Equal(t, orders.StatusUnpaid, o.Status)
	require.NotNil(t, o.ReservationExpiresAt)
	assert.Equal(t, testNow.Add(time.Hour), *o.ReservationExpiresAt)
	assert.Equal(t, "750000", o.Total.String())

	s := st.stock(src)
	assert.Equal(t, 10, s.OnHand) // reservasi tidak motong on-hand
	assert.Equal(t, 3, s.Reserved)
	assert.Equal(t, 7, s.Available())
}

func TestCheckoutUsesTierPrice(t *testing.T) {
	st := newMemStore()
	seedProduct(st, 1, 100, 250000)
	max2 := 2
	st.tiers = []pricing.Tier{
		{ID: 1, MinQty: 1, MaxQty: &max2, TotalPriceForMinQty: decimal.NewFromInt(250000)},
		{ID: 2, MinQty: 3, TotalPriceForMinQty: decimal.NewFromInt(650000)},
	}
	mgr := newTestManager(st)

	o := checkout(t, mgr, "ext-tier", Line{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 3})

	// 650000/3 dibulatkan ke 216667, dikali qty
	assert.Equal(t, "650001", o.Total.String())
}

func TestCheckoutInsufficientStockAllOrNothing(t *testing.T) {
	st := newMemStore()
	srcA := seedProduct(st, 1, 10, 100000)
	srcB := seedProduct(st, 2, 2, 50000)
	mgr := newTestManager(st)

	_, err := mgr.Checkout(context.Background(), CheckoutInput{
		ExternalID: "ext-short",
		Lines: []Line{
			{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 4},
			{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 2}, Qty: 5},
		},
	})

	var ins *catalog.InsufficientStockError
	require.ErrorAs(t, err, &ins)
	assert.Equal(t, srcB, ins.Unit)
	assert.Equal(t, 5, ins.Requested)
	assert.Equal(t, 2, ins.Available)
	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)

	// line pertama tidak boleh ikut ke-reserve
	assert.Equal(t, 0, st.stock(srcA).Reserved)
	assert.Equal(t, 0, st.stock(srcB).Reserved)
	_, err = st.FindByExternalID(context.Background(), "ext-short")
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestCheckoutIdempotentByExternalID(t *testing.T) {
	st := newMemStore()
	src := seedProduct(st, 1, 10, 100000)
	mgr := newTestManager(st)

	line := Line{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 2}
	first := checkout(t, mgr, "ext-dup", line)
	second := checkout(t, mgr, "ext-dup", line)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, st.stock(src).Reserved) // reservasi cuma sekali
}

func TestCheckoutRejectsBadInput(t *testing.T) {
	mgr := newTestManager(newMemStore())

	_, err := mgr.Checkout(context.Background(), CheckoutInput{ExternalID: "", Lines: []Line{{Qty: 1}}})
	assert.ErrorIs(t, err, catalog.ErrInvalidQuantity)

	_, err = mgr.Checkout(context.Background(), CheckoutInput{
		ExternalID: "x",
		Lines:      []Line{{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 0}},
	})
	assert.ErrorIs(t, err, catalog.ErrInvalidQuantity)
}

func TestCancelReleasesReservation(t *testing.T) {
	st := newMemStore()
	src := seedProduct(st, 1, 10, 100000)
	mgr := newTestManager(st)

	o := checkout(t, mgr, "ext-cancel", Line{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 4})
	require.NoError(t, mgr.Cancel(context.Background(), o.ID))

	// round-trip: ledger balik ke keadaan awal
	s := st.stock(src)
	assert.Equal(t, 10, s.OnHand)
	assert.Equal(t, 0, s.Reserved)

	got, err := st.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	assert.Nil(t, got.ReservationExpiresAt)
}

func TestShipFinalizesStock(t *testing.T) {
	st := newMemStore()
	src := seedProduct(st, 1, 10, 100000)
	mgr := newTestManager(st)
	ctx := context.Background()

	o := checkout(t, mgr, "ext-ship", Line{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 3})
	require.NoError(t, mgr.SubmitPaymentProof(ctx, o.ID))
	require.NoError(t, mgr.ConfirmPayment(ctx, o.ID))

	// konfirmasi belum menyentuh ledger
	assert.Equal(t, 3, st.stock(src).Reserved)
	assert.Equal(t, 10, st.stock(src).OnHand)

	require.NoError(t, mgr.Ship(ctx, o.ID, "JNE-123"))

	s := st.stock(src)
	assert.Equal(t, 7, s.OnHand) // on-hand turun permanen
	assert.Equal(t, 0, s.Reserved)

	got, err := st.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusShipped, got.Status)
	assert.Equal(t, "JNE-123", got.TrackingRef)
	for _, it := range st.items[o.ID] {
		assert.True(t, it.Allocated)
	}

	require.NoError(t, mgr.MarkDelivered(ctx, o.ID))
	got, err = st.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, got.Status)
}

func TestShipCancelledOrderInvalidTransition(t *testing.T) {
	st := newMemStore()
	seedProduct(st, 1, 10, 100000)
	mgr := newTestManager(st)
	ctx := context.Background()

	o := checkout(t, mgr, "ext-inv", Line{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 1})
	require.NoError(t, mgr.Cancel(ctx, o.ID))

	err := mgr.Ship(ctx, o.ID, "JNE-999")
	var inv *orders.InvalidTransitionError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, orders.StatusCancelled, inv.From)
	assert.Equal(t, orders.StatusShipped, inv.To)
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestPackFromVariantReservesBackingQty(t *testing.T) {
	st := newMemStore()
	src := catalog.SourceRef{Kind: catalog.SourceVariant, ID: 7}
	st.stocks[src] = &catalog.Stock{OnHand: 10}
	packRef := catalog.UnitRef{Kind: catalog.UnitPack, ID: 3}
	st.units[packRef] = catalog.SellableUnit{
		Ref:         packRef,
		SKU:         "SKU-PAK",
		RetailPrice: decimal.NewFromInt(270000),
		Backing:     src,
		UnitsPerQty: 3, // 1 pack = 3 unit varian
	}
	mgr := newTestManager(st)

	o := checkout(t, mgr, "ext-pack", Line{Unit: packRef, Qty: 2})

	s := st.stock(src)
	assert.Equal(t, 6, s.Reserved) // 2 pack x 3
	assert.Equal(t, 10, s.OnHand)

	require.Len(t, st.items[o.ID], 1)
	assert.Equal(t, 6, st.items[o.ID][0].BackingQty)
	assert.Equal(t, src, st.items[o.ID][0].Backing)
}

func TestSharedBackingAggregatedAcrossLines(t *testing.T) {
	st := newMemStore()
	src := seedProduct(st, 1, 5, 100000)
	packRef := catalog.UnitRef{Kind: catalog.UnitPack, ID: 9}
	st.units[packRef] = catalog.SellableUnit{
		Ref:         packRef,
		RetailPrice: decimal.NewFromInt(180000),
		Backing:     src,
		UnitsPerQty: 2,
	}
	mgr := newTestManager(st)

	// 2 satuan + 1 pack isi 2 = butuh 4, stok 5: cukup persis sekali cek
	checkout(t, mgr, "ext-mix",
		Line{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 2},
		Line{Unit: packRef, Qty: 1},
	)
	assert.Equal(t, 4, st.stock(src).Reserved)

	// sisa available 1, pack berikut butuh 2: ketahan
	_, err := mgr.Checkout(context.Background(), CheckoutInput{
		ExternalID: "ext-mix-2",
		Lines:      []Line{{Unit: packRef, Qty: 1}},
	})
	assert.ErrorIs(t, err, catalog.ErrInsufficientStock)
}

func TestConcurrentCheckoutLastUnit(t *testing.T) {
	st := newMemStore()
	src := seedProduct(st, 1, 1, 100000)
	mgr := newTestManager(st)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, ext := range []string{"race-a", "race-b"} {
		wg.Add(1)
		go func(ext string) {
			defer wg.Done()
			_, err := mgr.Checkout(context.Background(), CheckoutInput{
				ExternalID: ext,
				Lines:      []Line{{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 1}},
			})
			errs <- err
		}(ext)
	}
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, catalog.ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, 1, st.stock(src).Reserved)
}

func TestReleaseExpiredSweep(t *testing.T) {
	st := newMemStore()
	src := seedProduct(st, 1, 10, 100000)
	mgr := newTestManager(st)
	ctx := context.Background()

	expired := checkout(t, mgr, "ext-exp", Line{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 2})
	fresh := checkout(t, mgr, "ext-fresh", Line{Unit: catalog.UnitRef{Kind: catalog.UnitProduct, ID: 1}, Qty: 3})

	// maju melewati TTL order pertama saja
	sweepAt := testNow.Add(30 * time.Minute)
	past := testNow.Add(-time.Minute)
	st.mu.Lock()
	st.orders[expired.ID].ReservationExpiresAt = &past
	st.mu.Unlock()

	released, err := mgr.ReleaseExpired(ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	got, err := st.GetOrder(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusExpired, got.Status)

	got, err = st.GetOrder(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusUnpaid, got.Status)

	// cuma reservasi order fresh yang tersisa
	assert.Equal(t, 3, st.stock(src).Reserved)

	// sweep kedua idempotent
	released, err = mgr.ReleaseExpired(ctx, sweepAt)
	require.NoError(t, err)
	assert.Equal(t, 0, released)
	assert.Equal(t, 3, st.stock(src).Reserved)
}

func TestRestock(t *testing.T) {
	st := newMemStore()
	src := seedProduct(st, 1, 2, 100000)
	mgr := newTestManager(st)
	ctx := context.Background()

	require.NoError(t, mgr.Restock(ctx, src, 8, "pengiriman supplier"))
	assert.Equal(t, 10, st.stock(src).OnHand)

	assert.ErrorIs(t, mgr.Restock(ctx, src, 0, ""), catalog.ErrInvalidQuantity)
	assert.ErrorIs(t, mgr.Restock(ctx, src, -3, ""), catalog.ErrInvalidQuantity)
}

func TestAggregateDemandOrdering(t *testing.T) {
	items := []orders.OrderItem{
		{Backing: catalog.SourceRef{Kind: catalog.SourceVariant, ID: 2}, BackingQty: 1},
		{Backing: catalog.SourceRef{Kind: catalog.SourceProduct, ID: 9}, BackingQty: 4},
		{Backing: catalog.SourceRef{Kind: catalog.SourceProduct, ID: 9}, BackingQty: 2},
		{Backing: catalog.SourceRef{Kind: catalog.SourceProduct, ID: 3}, BackingQty: 5},
	}
	got := aggregateDemand(items)
	require.Len(t, got, 3)

	// urut (kind, id) naik, qty backing yang share source digabung
	assert.Equal(t, catalog.SourceRef{Kind: catalog.SourceProduct, ID: 3}, got[0].src)
	assert.Equal(t, 5, got[0].qty)
	assert.Equal(t, catalog.SourceRef{Kind: catalog.SourceProduct, ID: 9}, got[1].src)
	assert.Equal(t, 6, got[1].qty)
	assert.Equal(t, catalog.SourceRef{Kind: catalog.SourceVariant, ID: 2}, got[2].src)
	assert.Equal(t, 1, got[2].qty)
}
