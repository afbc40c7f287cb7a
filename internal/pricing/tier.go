package pricing

import (
	"github.com/shopspring/decimal"
)

// Tier adalah bracket kuantitas global dengan harga total untuk MinQty.
// Per-unit price diturunkan dari total, supaya tier bisa langsung
// mengekspresikan diskon grosir.
type Tier struct {
	ID                  int64
	Label               string
	MinQty              int
	MaxQty              *int // nil = tanpa batas atas
	TotalPriceForMinQty decimal.Decimal
}

// Matches: MinQty <= qty dan (MaxQty nil atau qty <= MaxQty).
func (t Tier) Matches(qty int) bool {
	if qty < t.MinQty {
		return false
	}
	return t.MaxQty == nil || qty <= *t.MaxQty
}

// UnitPrice = total / MinQty, dibulatkan half-up ke satuan mata uang.
func (t Tier) UnitPrice() decimal.Decimal {
	if t.MinQty < 1 {
		return t.TotalPriceForMinQty
	}
	return t.TotalPriceForMinQty.DivRound(decimal.NewFromInt(int64(t.MinQty)), 0)
}

// Resolve milih tier yang berlaku untuk qty. Kalau konfigurasi overlap,
// menang yang MinQty paling tinggi (bracket paling spesifik yang terpenuhi).
func Resolve(tiers []Tier, qty int) (Tier, bool) {
	var best Tier
	found := false
	for _, t := range tiers {
		if !t.Matches(qty) {
			continue
		}
		if !found || t.MinQty > best.MinQty {
			best = t
			found = true
		}
	}
	return best, found
}

// PriceFor: unit price untuk qty; fallback ke harga retail unit kalau tidak
// ada tier yang cocok. Fungsi murni, tidak menyentuh stok.
func PriceFor(tiers []Tier, qty int, retail decimal.Decimal) (decimal.Decimal, *Tier) {
	t, ok := Resolve(tiers, qty)
	if !ok {
		return retail, nil
	}
	return t.UnitPrice(), &t
}
