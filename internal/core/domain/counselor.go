package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Counselor offers bookable sessions.
type Counselor struct {
	ID          string
	DisplayName string
	Blocked     bool
}

// RecurringAvailability is one weekly availability window. StartTime and
// EndTime are wall-clock "HH:MM" strings in the platform timezone.
type RecurringAvailability struct {
	CounselorID string
	Weekday     time.Weekday
	Enabled     bool
	StartTime   string
	EndTime     string
	BasePrice   decimal.Decimal
}
