package domain

import "time"

type Status string

const (
	StatusDone    Status = "DONE"
	StatusSkipped Status = "SKIPPED"
	StatusAborted Status = "ABORTED"
)

const (
	ReasonOpened                  = "opened"
	ReasonAlreadyInTarget         = "already_in_target"
	ReasonClosedRemainingInTarget = "closed_remaining_in_target"
	ReasonDuplicate               = "duplicate"
	ReasonLocked                  = "locked"
	ReasonPositionUnreadable      = "position_unreadable"
	ReasonCloseFailed             = "close_failed"
	ReasonCloseUnverified         = "close_unverified"
	ReasonPriceUnavailable        = "price_unavailable"
	ReasonSizingFailed            = "sizing_failed"
	ReasonOpenFailed              = "open_failed"
	ReasonDeadlineExceeded        = "deadline_exceeded"
	ReasonInvalidSignal           = "invalid_signal"
)

// Outcome is the result of one reconciliation as reported to the caller.
type Outcome struct {
	Status Status         `json:"status"`
	Reason string         `json:"reason"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Attempt records a single Reconcile call. It is only ever written to the
// journal, never read back by the engine.
type Attempt struct {
	ID         string    `json:"id"`
	Exchange   string    `json:"exchange"`
	Instrument string    `json:"instrument"`
	Target     Direction `json:"target"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    Outcome   `json:"outcome"`
}

// LockEntry is the holder of an instrument lock.
type LockEntry struct {
	Instrument string    `json:"instrument"`
	Token      string    `json:"token"`
	AcquiredAt time.Time `json:"acquired_at"`
}
