package httpx

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
	"github.com/ariefcatur/go-stock-reserve.git/internal/pricing"
)

// CatalogHandler: pembacaan katalog + preview harga untuk display cart/checkout.
type CatalogHandler struct {
	Catalog *catalog.Repo
	Pricing *pricing.Repo
}

func (h *CatalogHandler) Register(r *chi.Mux) {
	r.Get("/products", h.listProducts)
	r.Get("/units/{kind}/{id}/availability", h.availability)
	r.Get("/units/{kind}/{id}/quote", h.quote)
}

type ProductResp struct {
	ID          int64  `json:"id"`
	SKU         string `json:"sku"`
	Name        string `json:"name"`
	RetailPrice string `json:"retail_price"`
	Available   int    `json:"available"`
	Status      string `json:"status"`
	HasVariants bool   `json:"has_variants"`
}

func (h *CatalogHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Catalog.ListProducts(ctx)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	out := make([]ProductResp, 0, len(ps))
	for _, p := range ps {
		available := p.Stock.Available()
		if p.HasVariants {
			variants, err := h.Catalog.ProductVariants(ctx, p.ID)
			if err != nil {
				writeDomainErr(w, err)
				return
			}
			available = catalog.ProductAvailable(p, variants)
		}
		out = append(out, ProductResp{
			ID:          p.ID,
			SKU:         p.SKU,
			Name:        p.Name,
			RetailPrice: p.RetailPrice.String(),
			Available:   available,
			Status:      string(p.Status),
			HasVariants: p.HasVariants,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *CatalogHandler) availability(w http.ResponseWriter, r *http.Request) {
	ref, err := parseUnitRef(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errResp(err.Error()))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	n, err := h.Catalog.Available(ctx, ref)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unit": ref.String(), "available": n})
}

type QuoteResp struct {
	Unit      string  `json:"unit"`
	Qty       int     `json:"qty"`
	UnitPrice string  `json:"unit_price"`
	Total     string  `json:"total"`
	TierLabel *string `json:"tier_label,omitempty"`
}

// quote: harga per-unit utk qty tertentu. Tier global kalau ada yang cocok,
// fallback harga retail unit. Murni display, tidak menyentuh stok.
func (h *CatalogHandler) quote(w http.ResponseWriter, r *http.Request) {
	ref, err := parseUnitRef(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errResp(err.Error()))
		return
	}
	qty, err := strconv.Atoi(r.URL.Query().Get("qty"))
	if err != nil || qty <= 0 {
		writeJSON(w, http.StatusBadRequest, errResp("qty must be a positive integer"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	unit, err := h.Catalog.SellableUnit(ctx, ref)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	tiers, err := h.Pricing.ActiveTiers(ctx)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	unitPrice, tier := pricing.PriceFor(tiers, qty, unit.RetailPrice)
	resp := QuoteResp{
		Unit:      ref.String(),
		Qty:       qty,
		UnitPrice: unitPrice.String(),
		Total:     unitPrice.Mul(decimal.NewFromInt(int64(qty))).String(),
	}
	if tier != nil {
		resp.TierLabel = &tier.Label
	}
	writeJSON(w, http.StatusOK, resp)
}
