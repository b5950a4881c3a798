package reward

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// EventGroupName is the synthetic group that calendar event bonus rules
// run under.
const EventGroupName = "EVENT"

// WeekdaySet is a bitmask of allowed weekdays. Zero means every day.
type WeekdaySet uint8

// ParseWeekdays builds a WeekdaySet from day names ("monday", "tue", …).
// Unknown names are reported so malformed config can be dropped.
func ParseWeekdays(names []string) (WeekdaySet, error) {
	var s WeekdaySet
	for _, n := range names {
		d, ok := weekdayNames[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", n)
		}
		s |= 1 << uint(d)
	}
	return s, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Contains reports whether d is allowed. The empty set allows every day.
func (s WeekdaySet) Contains(d time.Weekday) bool {
	return s == 0 || s&(1<<uint(d)) != 0
}

// RewardRule is one schedulable reward definition. Immutable once loaded;
// timers hold the rule by value so a config reload never mutates a live
// schedule.
type RewardRule struct {
	ItemID           int32
	Count            int64
	Interval         time.Duration
	PersistRemaining bool
	OnceOnly         bool
	Progressive      bool
	RequiredEvent    string // "" = no event requirement
	Weekdays         WeekdaySet
	MinLevel         int
	MaxLevel         int // 0 = unbounded
}

// Validate checks the load-time invariants. Item existence is checked here
// once, not at fire time.
func (r *RewardRule) Validate(items ItemCatalog) error {
	if r.Interval <= 0 {
		return fmt.Errorf("item %d: interval must be positive, got %s", r.ItemID, r.Interval)
	}
	if r.Count <= 0 {
		return fmt.Errorf("item %d: count must be positive, got %d", r.ItemID, r.Count)
	}
	if items != nil && !items.Exists(r.ItemID) {
		return fmt.Errorf("item %d: not in item catalog", r.ItemID)
	}
	if r.MaxLevel != 0 && r.MinLevel > r.MaxLevel {
		return fmt.Errorf("item %d: min_level %d above max_level %d", r.ItemID, r.MinLevel, r.MaxLevel)
	}
	return nil
}

// levelAllowed checks the [MinLevel, MaxLevel] gate; zero bounds are open.
func (r *RewardRule) levelAllowed(level int) bool {
	if r.MinLevel > 0 && level < r.MinLevel {
		return false
	}
	if r.MaxLevel > 0 && level > r.MaxLevel {
		return false
	}
	return true
}

// RewardGroup is a prioritized, access-gated bundle of rules.
type RewardGroup struct {
	Name         string
	Priority     int
	Enabled      bool
	AccessLevels []string // empty = unrestricted
	Rules        []RewardRule
}

// allowsAccess checks the group's access-level gate.
func (g *RewardGroup) allowsAccess(level string) bool {
	if len(g.AccessLevels) == 0 {
		return true
	}
	for _, a := range g.AccessLevels {
		if a == level {
			return true
		}
	}
	return false
}

// CalendarEvent is a time-boxed global multiplier with an optional bonus
// rule. Active while Start <= now < End.
type CalendarEvent struct {
	Name       string
	Start      time.Time
	End        time.Time
	Multiplier float64
	BonusRule  *RewardRule
}

// Active reports whether now falls inside the event window.
func (e *CalendarEvent) Active(now time.Time) bool {
	return !now.Before(e.Start) && now.Before(e.End)
}

// Validate checks the event's load-time invariants.
func (e *CalendarEvent) Validate(items ItemCatalog) error {
	if !e.End.After(e.Start) {
		return fmt.Errorf("event %q: window end %s not after start %s", e.Name, e.End, e.Start)
	}
	if e.Multiplier < 1.0 {
		return fmt.Errorf("event %q: multiplier %.2f below 1.0", e.Name, e.Multiplier)
	}
	if e.BonusRule != nil {
		if err := e.BonusRule.Validate(items); err != nil {
			return fmt.Errorf("event %q bonus rule: %w", e.Name, err)
		}
	}
	return nil
}

// groupList is the scheduler's immutable group snapshot, swapped whole on
// reload. Groups are kept sorted by priority descending.
type groupList struct {
	groups []RewardGroup
}

func newGroupList(groups []RewardGroup) *groupList {
	sorted := make([]RewardGroup, len(groups))
	copy(sorted, groups)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &groupList{groups: sorted}
}

// Variable keys follow the original's naming so existing player state
// carries over: reward_given_<group>_<itemId> / reward_time_<group>_<itemId>.

func givenKey(group string, itemID int32) string {
	return fmt.Sprintf("reward_given_%s_%d", group, itemID)
}

func remainingKey(group string, itemID int32) string {
	return fmt.Sprintf("reward_time_%s_%d", group, itemID)
}
