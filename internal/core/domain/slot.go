package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SlotStatus of a bookable time slot.
type SlotStatus string

const (
	SlotAvailable   SlotStatus = "available"
	SlotBooked      SlotStatus = "booked"
	SlotUnavailable SlotStatus = "unavailable"
)

// Slot is a concrete bookable interval in a counselor's calendar. The pair
// (CounselorID, StartTime) is unique.
type Slot struct {
	ID          string
	CounselorID string
	StartTime   time.Time
	EndTime     time.Time
	Status      SlotStatus
	Price       decimal.Decimal
	CreatedAt   time.Time
}
