package models

import "time"

const (
	// StatusQueued indicates the item has been created and is waiting to be processed.
	StatusQueued Status = "queued"
	// StatusRunning indicates the item is being processed.
	StatusRunning Status = "running"
	// StatusFailed indicates the item has failed during processing.
	StatusFailed Status = "failed"
	// StatusSucceeded indicates the item has successfully finished being processed.
	StatusSucceeded Status = "succeeded"
	// StatusSkipped indicates the item was never processed because an upstream
	// dependency failed.
	StatusSkipped Status = "skipped"
	// StatusCanceled indicates the item was canceled before it finished processing.
	StatusCanceled Status = "canceled"
	// StatusUnknown indicates the item is in an unknown state.
	StatusUnknown Status = "unknown"
)

var statuses = map[string]Status{
	string(StatusQueued):    StatusQueued,
	string(StatusRunning):   StatusRunning,
	string(StatusFailed):    StatusFailed,
	string(StatusSucceeded): StatusSucceeded,
	string(StatusSkipped):   StatusSkipped,
	string(StatusCanceled):  StatusCanceled,
	string(StatusUnknown):   StatusUnknown,
}

type Status string

func (s Status) Valid() bool {
	_, ok := statuses[string(s)]
	return ok
}

// HasFinished returns true if the item has finished in a successful,
// failed, skipped or canceled state.
func (s Status) HasFinished() bool {
	return s == StatusFailed || s == StatusSucceeded || s == StatusSkipped || s == StatusCanceled
}

func (s Status) String() string {
	return string(s)
}

// Timings records the times at which an item transitioned between statuses.
type Timings struct {
	QueuedAt   *time.Time `json:"queued_at"`
	RunningAt  *time.Time `json:"running_at"`
	FinishedAt *time.Time `json:"finished_at"`
	CanceledAt *time.Time `json:"canceled_at"`
}

// Duration returns the elapsed time between the item starting to run and
// finishing, or zero if the item never ran or has not finished.
func (m *Timings) Duration() time.Duration {
	if m.RunningAt == nil || m.FinishedAt == nil {
		return 0
	}
	return m.FinishedAt.Sub(*m.RunningAt)
}
