package reservation

import (
	"context"
	"time"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
	"github.com/ariefcatur/go-stock-reserve.git/internal/orders"
	"github.com/ariefcatur/go-stock-reserve.git/internal/pricing"
)

// Store adalah batas transaksi reservasi. Semua mutasi stok lewat sini;
// implementasi harus menjaga critical section "cek available + ubah reserved"
// per backing unit (row lock, urut konsisten utk order multi-line).
type Store interface {
	// CreateOrderWithReservation simpan order+items dan reservasi stok semua line
	// all-or-nothing. Gagal satu line = rollback semua, balikin
	// *catalog.InsufficientStockError untuk line yang kurang.
	CreateOrderWithReservation(ctx context.Context, o *orders.Order, items []orders.OrderItem) error

	GetOrder(ctx context.Context, id string) (*orders.Order, error)
	FindByExternalID(ctx context.Context, externalID string) (*orders.Order, error)

	// TransitionStatus: UPDATE bersyarat WHERE status = from.
	// Affected rows 0 = orders.ErrConflict (kalah race, bukan transisi ilegal).
	TransitionStatus(ctx context.Context, id string, from, to orders.Status) error

	// ReleaseOrder balikkan reservasi semua line + pindah status (cancel/expire)
	// dalam satu transaksi. Guard WHERE status = from seperti TransitionStatus.
	ReleaseOrder(ctx context.Context, id string, from, to orders.Status, reason string) error

	// ShipOrder finalkan reservasi jadi pengurangan permanen: stok on-hand dan
	// reserved turun bareng, item ditandai allocated, movement 'sale' dicatat.
	ShipOrder(ctx context.Context, id string, trackingRef string) error

	// ExpiredOrders: kandidat sweep, status expirable dengan deadline lewat.
	ExpiredOrders(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Restock nambah on-hand lewat primitive atomik (bukan tulis field langsung).
	Restock(ctx context.Context, src catalog.SourceRef, qty int, note string) error
}

// Catalog resolve unit reference jadi unit siap jual (harga efektif + backing).
type Catalog interface {
	SellableUnit(ctx context.Context, ref catalog.UnitRef) (*catalog.SellableUnit, error)
}

// TierSource nyediain price tier global yang aktif.
type TierSource interface {
	ActiveTiers(ctx context.Context) ([]pricing.Tier, error)
}
