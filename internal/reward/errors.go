package reward

import "errors"

// ErrSessionActive is returned by OnLogin when the player already has a
// live session (idempotent login).
var ErrSessionActive = errors.New("reward session already active")

// Skip reasons. Gating skips are silent (IneligibleError in the original's
// taxonomy); they only feed the skip counters. Issuance and persistence
// failures are logged where they happen and never escape the fire boundary.
const (
	skipInFlight  = "in_flight"
	skipInactive  = "inactive"
	skipPaused    = "paused"
	skipAFK       = "afk"
	skipWeekday   = "weekday"
	skipLevel     = "level"
	skipEvent     = "event"
	skipIssuance  = "issuance_error"
	skipVariables = "variable_error"
)
