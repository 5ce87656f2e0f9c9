// Package domain holds the core models shared across storage, scheduling and
// job bodies.
package domain

import "time"

// JobName identifies a job. The set is closed: every job the service runs is
// declared here and wired into a runner definition at startup.
type JobName string

const (
	JobPendingActions   JobName = "pending_actions"
	JobSlotLifecycle    JobName = "slot_lifecycle"
	JobPaymentReconcile JobName = "payment_reconcile"
)

// LockKey returns the distributed-lock key for this job.
func (n JobName) LockKey() string {
	return "jobs:lock:" + string(n)
}

// RunStatus of a finished job run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusRunning RunStatus = "running"
)

// JobRun is the durable execution record, one row per job name.
type JobRun struct {
	JobName             JobName
	LastRun             time.Time
	LastStatus          RunStatus
	ExecutionCount      int64
	ConsecutiveFailures int
	LastDuration        time.Duration
	LastProcessed       int
	LastSucceeded       int
	LastFailed          int
	LastError           string
	NodeID              string
	UpdatedAt           time.Time
}
