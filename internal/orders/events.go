package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated     = "OrderCreated"
	EventOrderShipped     = "OrderShipped"
	EventOrderCompleted   = "OrderCompleted"
	EventOrderCancelled   = "OrderCancelled"
	EventOrderExpired     = "OrderExpired"
	EventPaymentConfirmed = "PaymentConfirmed" // diterbitkan gateway pembayaran, kita konsumsi
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "stock-reserve-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type LineRef struct {
	UnitKind string `json:"unit_kind"` // product | variant | pack
	UnitID   int64  `json:"unit_id"`
	Qty      int    `json:"qty"`
}

type OrderCreatedPayload struct {
	OrderID    string    `json:"order_id"`
	ExternalID string    `json:"external_id"`
	Items      []LineRef `json:"items"`
	Total      string    `json:"total"` // decimal string
	ExpiresAt  time.Time `json:"reservation_expires_at"`
}

type OrderShippedPayload struct {
	OrderID     string `json:"order_id"`
	TrackingRef string `json:"tracking_ref"`
}

type OrderClosedPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // completed | cancelled | expired
	Reason  string `json:"reason,omitempty"`
}

type PaymentConfirmedPayload struct {
	OrderID    string `json:"order_id"`
	PaymentRef string `json:"payment_ref"`
	Amount     string `json:"amount"` // decimal string
}
