package reward

import (
	"sync"
	"time"
)

type afkEntry struct {
	pos          Position
	lastActivity time.Time
	forced       bool
}

// AFKTracker keeps one positional/activity sample per player. The polling
// sweep feeds it position samples; player-action callbacks feed it
// activity. A player is AFK when force-flagged or idle past the timeout.
type AFKTracker struct {
	mu      sync.RWMutex
	m       map[int64]*afkEntry
	timeout time.Duration
	nowFn   func() time.Time
}

func NewAFKTracker(timeout time.Duration) *AFKTracker {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &AFKTracker{
		m:       make(map[int64]*afkEntry),
		timeout: timeout,
		nowFn:   time.Now,
	}
}

// Activity records a deliberate player action (move, chat, attack).
// Resets the idle clock unconditionally.
func (t *AFKTracker) Activity(playerID int64, pos Position) {
	now := t.nowFn()
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(playerID)
	e.pos = pos
	e.lastActivity = now
}

// Sample records a polled position. Only a position change counts as
// activity; standing still lets the idle clock run.
func (t *AFKTracker) Sample(playerID int64, pos Position) {
	now := t.nowFn()
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(playerID)
	if e.pos != pos {
		e.pos = pos
		e.lastActivity = now
	}
}

// ForceAFK sets or clears the explicit AFK flag (e.g. /afk command).
func (t *AFKTracker) ForceAFK(playerID int64, afk bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entry(playerID)
	e.forced = afk
	if !afk {
		e.lastActivity = t.nowFn()
	}
}

// IsAFK reports the derived AFK state. Unknown players are not AFK — the
// first sweep after login seeds their entry.
func (t *AFKTracker) IsAFK(playerID int64) bool {
	now := t.nowFn()
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.m[playerID]
	if !ok {
		return false
	}
	return e.forced || now.Sub(e.lastActivity) > t.timeout
}

// Remove drops a player's sample on logout.
func (t *AFKTracker) Remove(playerID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, playerID)
}

// entry returns the player's record, creating it seeded as active.
// Caller must hold t.mu.
func (t *AFKTracker) entry(playerID int64) *afkEntry {
	e, ok := t.m[playerID]
	if !ok {
		e = &afkEntry{lastActivity: t.nowFn()}
		t.m[playerID] = e
	}
	return e
}
