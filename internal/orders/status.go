package orders

type Status string

const (
	StatusUnpaid               Status = "unpaid"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusProcessing           Status = "processing"
	StatusShipped              Status = "shipped"
	StatusCompleted            Status = "completed"
	StatusCancelled            Status = "cancelled"
	StatusExpired              Status = "expired"
)

var validNext = map[Status]map[Status]bool{
	StatusUnpaid:               {StatusAwaitingConfirmation: true, StatusCancelled: true, StatusExpired: true},
	StatusAwaitingConfirmation: {StatusProcessing: true, StatusCancelled: true, StatusExpired: true},
	StatusProcessing:           {StatusShipped: true, StatusCancelled: true},
	StatusShipped:              {StatusCompleted: true},
	StatusCompleted:            {},
	StatusCancelled:            {},
	StatusExpired:              {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return len(validNext[s]) == 0
}

// Expirable: status yang masih boleh kena sweep reservasi kedaluwarsa.
func (s Status) Expirable() bool {
	return s == StatusUnpaid || s == StatusAwaitingConfirmation
}

// HoldsReservation: reservasi stok masih aktif (belum dilepas atau difinalkan).
func (s Status) HoldsReservation() bool {
	switch s {
	case StatusUnpaid, StatusAwaitingConfirmation, StatusProcessing:
		return true
	}
	return false
}
