package data

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/l1jgo/rewards/internal/reward"
)

// FileStore is the YAML-backed reward configuration source, for deploys
// that keep reward tables in the data directory instead of Postgres.
// Files are re-read on every load so an edit plus the reload tick is a
// hot reload. Implements reward.ConfigStore.
type FileStore struct {
	groupsPath string
	eventsPath string
}

func NewFileStore(groupsPath, eventsPath string) *FileStore {
	return &FileStore{groupsPath: groupsPath, eventsPath: eventsPath}
}

type ruleEntry struct {
	ItemID           int32    `yaml:"item_id"`
	Count            int64    `yaml:"count"`
	IntervalSeconds  int64    `yaml:"interval_seconds"`
	PersistRemaining bool     `yaml:"persist_remaining"`
	OnceOnly         bool     `yaml:"once_only"`
	Progressive      bool     `yaml:"progressive"`
	RequiredEvent    string   `yaml:"required_event"`
	Weekdays         []string `yaml:"weekdays"`
	MinLevel         int      `yaml:"min_level"`
	MaxLevel         int      `yaml:"max_level"`
}

type groupEntry struct {
	Name         string      `yaml:"name"`
	Priority     int         `yaml:"priority"`
	Enabled      bool        `yaml:"enabled"`
	AccessLevels []string    `yaml:"access_levels"`
	Rules        []ruleEntry `yaml:"rules"`
}

type groupListFile struct {
	Groups []groupEntry `yaml:"groups"`
}

type eventEntry struct {
	Name       string     `yaml:"name"`
	Start      time.Time  `yaml:"start"`
	End        time.Time  `yaml:"end"`
	Multiplier float64    `yaml:"multiplier"`
	Bonus      *ruleEntry `yaml:"bonus"`
}

type eventListFile struct {
	Events []eventEntry `yaml:"events"`
}

func (e *ruleEntry) toRule() reward.RewardRule {
	r := reward.RewardRule{
		ItemID:           e.ItemID,
		Count:            e.Count,
		Interval:         time.Duration(e.IntervalSeconds) * time.Second,
		PersistRemaining: e.PersistRemaining,
		OnceOnly:         e.OnceOnly,
		Progressive:      e.Progressive,
		RequiredEvent:    e.RequiredEvent,
		MinLevel:         e.MinLevel,
		MaxLevel:         e.MaxLevel,
	}
	// Unknown weekday names degrade to the empty set, which allows all days.
	r.Weekdays, _ = reward.ParseWeekdays(e.Weekdays)
	return r
}

func (s *FileStore) LoadRewardGroups(_ context.Context) ([]reward.RewardGroup, error) {
	raw, err := os.ReadFile(s.groupsPath)
	if err != nil {
		return nil, fmt.Errorf("read reward groups: %w", err)
	}
	var f groupListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse reward groups: %w", err)
	}
	groups := make([]reward.RewardGroup, 0, len(f.Groups))
	for _, ge := range f.Groups {
		g := reward.RewardGroup{
			Name:         ge.Name,
			Priority:     ge.Priority,
			Enabled:      ge.Enabled,
			AccessLevels: ge.AccessLevels,
		}
		for i := range ge.Rules {
			g.Rules = append(g.Rules, ge.Rules[i].toRule())
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (s *FileStore) LoadCalendarEvents(_ context.Context) ([]reward.CalendarEvent, error) {
	raw, err := os.ReadFile(s.eventsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // events file is optional
		}
		return nil, fmt.Errorf("read calendar events: %w", err)
	}
	var f eventListFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse calendar events: %w", err)
	}
	events := make([]reward.CalendarEvent, 0, len(f.Events))
	for _, ee := range f.Events {
		e := reward.CalendarEvent{
			Name:       ee.Name,
			Start:      ee.Start,
			End:        ee.End,
			Multiplier: ee.Multiplier,
		}
		if ee.Bonus != nil {
			r := ee.Bonus.toRule()
			e.BonusRule = &r
		}
		events = append(events, e)
	}
	return events, nil
}
