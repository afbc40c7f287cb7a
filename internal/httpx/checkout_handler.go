package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-stock-reserve.git/internal/catalog"
	"github.com/ariefcatur/go-stock-reserve.git/internal/orders"
	"github.com/ariefcatur/go-stock-reserve.git/internal/redisx"
	"github.com/ariefcatur/go-stock-reserve.git/internal/reservation"
)

type CheckoutReq struct {
	ExternalID      string            `json:"external_id"`
	UserID          *string           `json:"user_id,omitempty"`
	CustomerName    string            `json:"customer_name"`
	CustomerPhone   string            `json:"customer_phone"`
	CustomerAddress string            `json:"customer_address"`
	Items           []CheckoutLineReq `json:"items"`
}

type CheckoutLineReq struct {
	UnitKind string `json:"unit_kind"` // product | variant | pack
	UnitID   int64  `json:"unit_id"`
	Qty      int    `json:"qty"`
}

type CheckoutResp struct {
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	Total      string    `json:"total"`
	ExpiresAt  time.Time `json:"reservation_expires_at"`
	Idempotent bool      `json:"idempotent"`
}

type CheckoutHandler struct {
	Manager *reservation.Manager
	Redis   *redis.Client
	Log     zerolog.Logger
}

func (h *CheckoutHandler) Register(r *chi.Mux) {
	r.Post("/checkout", h.checkout)
	r.Get("/orders/{id}", h.getOrder)
}

func (h *CheckoutHandler) checkout(w http.ResponseWriter, r *http.Request) {
	var req CheckoutReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errResp("invalid json"))
		return
	}
	if req.ExternalID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, errResp("missing fields"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis; DB tetap sumber kebenaran di Checkout()
	idempotent := false
	if ok, _ := redisx.Exists(ctx, h.Redis, fmt.Sprintf(redisx.KeyIdemCheckout, req.ExternalID)); ok {
		idempotent = true
	}

	lines := make([]reservation.Line, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, reservation.Line{
			Unit: catalog.UnitRef{Kind: catalog.UnitKind(it.UnitKind), ID: it.UnitID},
			Qty:  it.Qty,
		})
	}

	o, err := h.Manager.Checkout(ctx, reservation.CheckoutInput{
		ExternalID:      req.ExternalID,
		UserID:          req.UserID,
		CustomerName:    req.CustomerName,
		CustomerPhone:   req.CustomerPhone,
		CustomerAddress: req.CustomerAddress,
		Lines:           lines,
		TraceID:         r.Header.Get("X-Request-Id"),
	})
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	resp := CheckoutResp{
		OrderID:    o.ID,
		Status:     string(o.Status),
		Total:      o.Total.String(),
		Idempotent: idempotent,
	}
	if o.ReservationExpiresAt != nil {
		resp.ExpiresAt = *o.ReservationExpiresAt
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *CheckoutHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, errResp("missing id"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
		writeJSON(w, http.StatusOK, json.RawMessage(s))
		return
	}

	// 2) fallback DB
	o, err := h.Manager.Store.GetOrder(ctx, orderID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	body := map[string]any{"status": o.Status}
	b, _ := json.Marshal(body)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	writeJSON(w, http.StatusOK, json.RawMessage(b))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func errResp(msg string) map[string]string { return map[string]string{"error": msg} }

// writeDomainErr memetakan taksonomi error domain ke status HTTP.
func writeDomainErr(w http.ResponseWriter, err error) {
	var insufficient *catalog.InsufficientStockError
	var invalid *orders.InvalidTransitionError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":     "not enough stock",
			"unit":      insufficient.Unit.String(),
			"requested": insufficient.Requested,
			"available": insufficient.Available,
		})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": "operation rejected",
			"from":  invalid.From,
			"to":    invalid.To,
		})
	case errors.Is(err, orders.ErrConflict):
		writeJSON(w, http.StatusServiceUnavailable, errResp("busy, retry later"))
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errResp("not found"))
	case errors.Is(err, catalog.ErrInvalidQuantity), errors.Is(err, catalog.ErrUnitNotSellable):
		writeJSON(w, http.StatusBadRequest, errResp(err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, errResp(err.Error()))
	}
}

func parseUnitRef(r *http.Request) (catalog.UnitRef, error) {
	kind := catalog.UnitKind(chi.URLParam(r, "kind"))
	switch kind {
	case catalog.UnitProduct, catalog.UnitVariant, catalog.UnitPack:
	default:
		return catalog.UnitRef{}, fmt.Errorf("unknown unit kind %q", kind)
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return catalog.UnitRef{}, err
	}
	return catalog.UnitRef{Kind: kind, ID: id}, nil
}
