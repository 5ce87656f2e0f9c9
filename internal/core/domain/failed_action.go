package domain

import "time"

// FailedActionType classifies a recorded unit failure for remediation.
type FailedActionType string

const (
	FailedActionRoomDeletion      FailedActionType = "room_deletion"
	FailedActionBookingCompletion FailedActionType = "booking_completion"
	FailedActionSlotCreation      FailedActionType = "slot_creation"
	FailedActionSlotDeletion      FailedActionType = "slot_deletion"
	FailedActionCoverageGap       FailedActionType = "coverage_gap"
	FailedActionPayoutRelease     FailedActionType = "payout_release"
)

// FailedAction is the durable record of a unit that failed inside an
// otherwise-successful job run, kept for manual or scripted remediation.
type FailedAction struct {
	ID         string
	Type       FailedActionType
	SubjectID  string
	Error      string
	ErrorStack string
	RetryCount int
	Resolved   bool
	ResolvedAt *time.Time
	ResolvedBy string
	Metadata   map[string]string
	CreatedAt  time.Time
}
