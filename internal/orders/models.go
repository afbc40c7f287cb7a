package orders

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
)

type Order struct {
	ID                   string
	ExternalID           string
	UserID               *string // nil = guest / manual order
	CustomerName         string
	CustomerPhone        string
	CustomerAddress      string
	Status               Status
	ReservationExpiresAt *time.Time
	Subtotal             decimal.Decimal
	Total                decimal.Decimal
	TrackingRef          string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type OrderItem struct {
	ID         int64
	OrderID    string
	Unit       catalog.UnitRef
	Backing    catalog.SourceRef // resolve sekali waktu order dibuat
	BackingQty int               // unit backing yang direservasi utk line ini
	UnitPrice  decimal.Decimal
	Qty        int
	TotalPrice decimal.Decimal
	Allocated  bool
}

// Alasan movement di ledger append-only.
const (
	MovementReserve = "reserve"
	MovementRelease = "release"
	MovementExpire  = "expire"
	MovementSale    = "sale"
	MovementRestock = "restock"
	MovementAdjust  = "adjust"
)

// StockMovement: jejak audit perubahan ledger. Insert-only, tidak pernah di-update.
// Reserve: (0, +q). Release/expire: (0, -q). Sale: (-q, -q). Restock: (+q, 0).
type StockMovement struct {
	ID             int64
	Source         catalog.SourceRef
	ChangeOnHand   int // signed
	ChangeReserved int // signed
	Reason         string
	OrderID        *string
	Note           string
	CreatedAt      time.Time
}
