package reward

import (
	"sync/atomic"
	"time"
)

// EventManager holds the currently-configured calendar events. The active
// set is derived from the clock on every query, never from a timer; the
// configured slice is swapped whole on reload so concurrently-firing
// timers always see a consistent snapshot.
type EventManager struct {
	events atomic.Pointer[[]CalendarEvent]
}

func NewEventManager() *EventManager {
	m := &EventManager{}
	empty := []CalendarEvent{}
	m.events.Store(&empty)
	return m
}

// Replace swaps in a new event set atomically.
func (m *EventManager) Replace(events []CalendarEvent) {
	snapshot := make([]CalendarEvent, len(events))
	copy(snapshot, events)
	m.events.Store(&snapshot)
}

// Multiplier returns the effective event multiplier at now: the max over
// active events (not the product), 1.0 when none are active. The second
// return is the name of the event that supplied the multiplier.
func (m *EventManager) Multiplier(now time.Time) (float64, string) {
	best := 1.0
	name := ""
	for _, e := range *m.events.Load() {
		if e.Active(now) && e.Multiplier > best {
			best = e.Multiplier
			name = e.Name
		}
	}
	return best, name
}

// ActiveBonusRules returns the bonus rules of all events active at now.
func (m *EventManager) ActiveBonusRules(now time.Time) []RewardRule {
	var rules []RewardRule
	for _, e := range *m.events.Load() {
		if e.Active(now) && e.BonusRule != nil {
			rules = append(rules, *e.BonusRule)
		}
	}
	return rules
}

// EventActive reports whether a named event is active at now. Used for the
// per-rule required-event gate.
func (m *EventManager) EventActive(name string, now time.Time) bool {
	for _, e := range *m.events.Load() {
		if e.Name == name && e.Active(now) {
			return true
		}
	}
	return false
}

// Count returns the number of configured (not necessarily active) events.
func (m *EventManager) Count() int {
	return len(*m.events.Load())
}
