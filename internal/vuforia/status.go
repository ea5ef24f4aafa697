package vuforia

import "time"

type Status string

const (
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
)

// DeriveStatus computes a target's status from its timestamps. Status is
// never stored: every read recomputes it, so there is no background
// transition task and no stale state to invalidate.
func DeriveStatus(now, processingStartedAt time.Time, processingDuration time.Duration, qualityPassed bool) Status {
	if now.Sub(processingStartedAt) < processingDuration {
		return StatusProcessing
	}
	if qualityPassed {
		return StatusSuccess
	}
	return StatusFailed
}
