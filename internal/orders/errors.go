package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("order not found")

	// ErrConflict: lost update pada guard status (affected rows = 0).
	// Di-retry terbatas oleh manager sebelum naik ke caller.
	ErrConflict = errors.New("order modified concurrently")
)

// InvalidTransitionError: transisi dari status terminal / tidak kompatibel.
// Ditolak, tidak di-retry.
type InvalidTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: invalid transition %s -> %s", e.OrderID, e.From, e.To)
}

var ErrInvalidTransition = errors.New("invalid status transition")

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }
