package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingStatus transitions monotonically:
// confirmed -> dispute_window_open -> completed. Disputes and cancellations
// leave the happy path and are never re-entered by background jobs.
type BookingStatus string

const (
	BookingConfirmed         BookingStatus = "confirmed"
	BookingDisputeWindowOpen BookingStatus = "dispute_window_open"
	BookingCompleted         BookingStatus = "completed"
	BookingCancelled         BookingStatus = "cancelled"
	BookingDisputed          BookingStatus = "disputed"
)

// PayoutStatus of a booking's counselor payout.
type PayoutStatus string

const (
	PayoutNone     PayoutStatus = "none"
	PayoutPending  PayoutStatus = "pending"
	PayoutReleased PayoutStatus = "released"
)

// Booking is a paid session between a client and a counselor.
type Booking struct {
	ID                  string
	CounselorID         string
	ClientID            string
	Status              BookingStatus
	RoomID              string
	Amount              decimal.Decimal
	Disputed            bool
	DisputeWindowOpenAt time.Time
	AutoCompleteAt      time.Time
	CompletedAt         *time.Time
	PayoutStatus        PayoutStatus
	PayoutAmount        decimal.Decimal
	PayoutReleasedAt    *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// BookingCompletion pairs a booking with the payout computed for it.
type BookingCompletion struct {
	BookingID    string
	PayoutAmount decimal.Decimal
}
