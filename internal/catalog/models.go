package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// UnitKind membedakan unit yang bisa dijual: produk (tanpa varian), varian, atau pack.
type UnitKind string

const (
	UnitProduct UnitKind = "product"
	UnitVariant UnitKind = "variant"
	UnitPack    UnitKind = "pack"
)

// SourceKind: entitas yang benar-benar pegang stok. Pack tidak pernah pegang stok sendiri.
type SourceKind string

const (
	SourceProduct SourceKind = "product"
	SourceVariant SourceKind = "variant"
)

// UnitRef menunjuk satu sellable unit di order item.
type UnitRef struct {
	Kind UnitKind
	ID   int64
}

func (r UnitRef) String() string { return fmt.Sprintf("%s:%d", r.Kind, r.ID) }

// SourceRef menunjuk backing store stok (produk atau varian, bukan pack).
type SourceRef struct {
	Kind SourceKind
	ID   int64
}

func (r SourceRef) String() string { return fmt.Sprintf("%s:%d", r.Kind, r.ID) }

var (
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrLedgerUnderflow   = errors.New("stock ledger underflow")
	ErrUnitNotSellable   = errors.New("unit not sellable")
	ErrNotFound          = errors.New("not found")
	ErrPackSource        = errors.New("pack must reference exactly one of product or variant")
)

// InsufficientStockError menyebut unit yang gagal direservasi.
type InsufficientStockError struct {
	Unit      SourceRef
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock on %s: requested %d, available %d", e.Unit, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Stock adalah ledger per backing store: on-hand dan reserved.
// Invariant: 0 <= Reserved <= OnHand.
type Stock struct {
	OnHand   int
	Reserved int
}

// Available = stok yang boleh dijual sekarang.
func (s Stock) Available() int {
	if a := s.OnHand - s.Reserved; a > 0 {
		return a
	}
	return 0
}

// Reserve menambah Reserved; gagal kalau melebihi available (check-then-act
// harus dijalankan di bawah lock baris oleh pemanggil).
func (s *Stock) Reserve(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > s.Available() {
		return ErrInsufficientStock
	}
	s.Reserved += qty
	return nil
}

// Release membalikkan reservasi (expire/cancel).
func (s *Stock) Release(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > s.Reserved {
		return ErrLedgerUnderflow
	}
	s.Reserved -= qty
	return nil
}

// Deduct memfinalkan reservasi jadi pengurangan permanen (shipping):
// OnHand dan Reserved turun bersamaan.
func (s *Stock) Deduct(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if qty > s.Reserved || qty > s.OnHand {
		return ErrLedgerUnderflow
	}
	s.OnHand -= qty
	s.Reserved -= qty
	return nil
}

// Restock menambah on-hand (aksi admin, lewat primitive ini, bukan tulis field langsung).
func (s *Stock) Restock(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	s.OnHand += qty
	return nil
}

type Product struct {
	ID          int64
	SKU         string
	Name        string
	RetailPrice decimal.Decimal
	Stock       Stock
	Status      Status
	HasVariants bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

type Variant struct {
	ID          int64
	ProductID   int64
	SKU         string
	RetailPrice decimal.NullDecimal // kosong = ikut harga produk
	Stock       Stock
	Status      Status
	DeletedAt   *time.Time
}

type Pack struct {
	ID        int64
	Source    SourceRef
	Label     string
	PackSize  int
	PackPrice decimal.NullDecimal // kosong = harga retail parent
	Status    Status
	DeletedAt *time.Time
}

// NewPackSource resolve relasi "pack milik produk XOR varian" sekali di konstruksi,
// bukan branching nullable di tiap call site.
func NewPackSource(productID, variantID *int64) (SourceRef, error) {
	switch {
	case productID != nil && variantID == nil:
		return SourceRef{Kind: SourceProduct, ID: *productID}, nil
	case productID == nil && variantID != nil:
		return SourceRef{Kind: SourceVariant, ID: *variantID}, nil
	default:
		return SourceRef{}, ErrPackSource
	}
}

// SellableUnit adalah hasil resolve satu UnitRef: harga efektif + backing stok +
// berapa unit backing yang dikonsumsi per 1 qty pesanan.
type SellableUnit struct {
	Ref         UnitRef
	SKU         string
	Name        string
	RetailPrice decimal.Decimal
	Backing     SourceRef
	UnitsPerQty int // 1 untuk produk/varian; lihat PackDemand untuk pack
}
