package reward

import (
	"math"
	"sync"
)

// ProgressiveEntry is one persisted (player, item) multiplier row.
type ProgressiveEntry struct {
	PlayerID   int64
	ItemID     int32
	Multiplier float64
}

type progressiveKey struct {
	playerID int64
	itemID   int32
}

// ProgressiveTracker holds the per (player, item) payout multiplier.
// Grows by a fixed step on each successful payout of a progressive rule,
// hard-capped; reset only by explicit removal, never automatically.
// Owned by the scheduler, mutated only from successful fires.
type ProgressiveTracker struct {
	mu   sync.RWMutex
	m    map[progressiveKey]float64
	step float64
	max  float64
}

func NewProgressiveTracker(step, max float64) *ProgressiveTracker {
	if step <= 0 {
		step = 0.1
	}
	if max < 1.0 {
		max = 5.0
	}
	return &ProgressiveTracker{
		m:    make(map[progressiveKey]float64),
		step: step,
		max:  max,
	}
}

// Multiplier returns the current multiplier for (player, item), 1.0 when
// no payout has advanced it yet.
func (t *ProgressiveTracker) Multiplier(playerID int64, itemID int32) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if v, ok := t.m[progressiveKey{playerID, itemID}]; ok {
		return v
	}
	return 1.0
}

// Advance grows the multiplier by one step, capped. Called only after a
// successful payout. Returns the new value.
func (t *ProgressiveTracker) Advance(playerID int64, itemID int32) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := progressiveKey{playerID, itemID}
	v, ok := t.m[k]
	if !ok {
		v = 1.0
	}
	// Round to one step's precision so repeated float adds don't drift.
	v = math.Round((v+t.step)*100) / 100
	if v > t.max {
		v = t.max
	}
	t.m[k] = v
	return v
}

// Remove drops all multiplier state for a player (explicit reset).
func (t *ProgressiveTracker) Remove(playerID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.m {
		if k.playerID == playerID {
			delete(t.m, k)
		}
	}
}

// Snapshot copies the full state for persistence by the maintenance sweep.
func (t *ProgressiveTracker) Snapshot() []ProgressiveEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]ProgressiveEntry, 0, len(t.m))
	for k, v := range t.m {
		out = append(out, ProgressiveEntry{PlayerID: k.playerID, ItemID: k.itemID, Multiplier: v})
	}
	return out
}

// Seed loads persisted state, clamping into [1.0, max]. Used at startup so
// multipliers survive restarts.
func (t *ProgressiveTracker) Seed(entries []ProgressiveEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		v := e.Multiplier
		if v < 1.0 {
			v = 1.0
		}
		if v > t.max {
			v = t.max
		}
		t.m[progressiveKey{e.PlayerID, e.ItemID}] = v
	}
}
