package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
	"github.com/ariefcatur/go-stock-reserve.git/internal/reservation"
)

// FulfillmentHandler: aksi back-office atas order (konfirmasi, kirim, selesai,
// batal) + restock. Semua efek stok jalan lewat reservation.Manager.
type FulfillmentHandler struct {
	Manager *reservation.Manager
	Log     zerolog.Logger
}

func (h *FulfillmentHandler) Register(r *chi.Mux) {
	r.Post("/orders/{id}/payment-proof", h.paymentProof)
	r.Post("/orders/{id}/confirm", h.confirm)
	r.Post("/orders/{id}/ship", h.ship)
	r.Post("/orders/{id}/deliver", h.deliver)
	r.Post("/orders/{id}/cancel", h.cancel)
	r.Post("/admin/restock", h.restock)
}

func (h *FulfillmentHandler) paymentProof(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Manager.SubmitPaymentProof)
}

func (h *FulfillmentHandler) confirm(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Manager.ConfirmPayment)
}

func (h *FulfillmentHandler) deliver(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Manager.MarkDelivered)
}

func (h *FulfillmentHandler) cancel(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, h.Manager.Cancel)
}

func (h *FulfillmentHandler) action(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, errResp("missing id"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := fn(ctx, orderID); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID})
}

type ShipReq struct {
	TrackingRef string `json:"tracking_ref"`
}

func (h *FulfillmentHandler) ship(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, errResp("missing id"))
		return
	}
	var req ShipReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("invalid json"))
		return
	}
	if req.TrackingRef == "" {
		writeJSON(w, http.StatusBadRequest, errResp("missing tracking_ref"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Manager.Ship(ctx, orderID, req.TrackingRef); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID, "tracking_ref": req.TrackingRef})
}

type RestockReq struct {
	SourceKind string `json:"source_kind"` // product | variant
	SourceID   int64  `json:"source_id"`
	Qty        int    `json:"qty"`
	Note       string `json:"note,omitempty"`
}

func (h *FulfillmentHandler) restock(w http.ResponseWriter, r *http.Request) {
	var req RestockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("invalid json"))
		return
	}
	kind := catalog.SourceKind(req.SourceKind)
	if kind != catalog.SourceProduct && kind != catalog.SourceVariant {
		writeJSON(w, http.StatusBadRequest, errResp("source_kind must be product or variant"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	src := catalog.SourceRef{Kind: kind, ID: req.SourceID}
	if err := h.Manager.Restock(ctx, src, req.Qty, req.Note); err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": src.String(), "qty": req.Qty})
}
