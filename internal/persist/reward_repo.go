package persist

import (
	"context"
	"time"

	"github.com/l1jgo/rewards/internal/reward"
)

// RewardRepo loads reward configuration and persists progressive state.
// Implements reward.ConfigStore and reward.ProgressiveStore.
type RewardRepo struct {
	db *DB
}

func NewRewardRepo(db *DB) *RewardRepo {
	return &RewardRepo{db: db}
}

func (r *RewardRepo) LoadRewardGroups(ctx context.Context) ([]reward.RewardGroup, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT name, priority, enabled, access_levels FROM reward_groups`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := make(map[string]*reward.RewardGroup)
	var order []string
	for rows.Next() {
		g := reward.RewardGroup{}
		if err := rows.Scan(&g.Name, &g.Priority, &g.Enabled, &g.AccessLevels); err != nil {
			return nil, err
		}
		byName[g.Name] = &g
		order = append(order, g.Name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ruleRows, err := r.db.Pool.Query(ctx,
		`SELECT group_name, item_id, item_count, interval_seconds,
		        persist_remaining, once_only, progressive, required_event,
		        weekdays, min_level, max_level
		 FROM reward_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer ruleRows.Close()

	for ruleRows.Next() {
		var (
			groupName string
			rule      reward.RewardRule
			interval  int64
			weekdays  []string
		)
		if err := ruleRows.Scan(&groupName, &rule.ItemID, &rule.Count, &interval,
			&rule.PersistRemaining, &rule.OnceOnly, &rule.Progressive, &rule.RequiredEvent,
			&weekdays, &rule.MinLevel, &rule.MaxLevel); err != nil {
			return nil, err
		}
		rule.Interval = time.Duration(interval) * time.Second
		// Unknown weekday names degrade to the empty set, which allows all days.
		rule.Weekdays, _ = reward.ParseWeekdays(weekdays)
		if g, ok := byName[groupName]; ok {
			g.Rules = append(g.Rules, rule)
		}
	}
	if err := ruleRows.Err(); err != nil {
		return nil, err
	}

	groups := make([]reward.RewardGroup, 0, len(order))
	for _, name := range order {
		groups = append(groups, *byName[name])
	}
	return groups, nil
}

func (r *RewardRepo) LoadCalendarEvents(ctx context.Context) ([]reward.CalendarEvent, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT name, starts_at, ends_at, multiplier,
		        bonus_item_id, bonus_item_count, bonus_interval_seconds
		 FROM calendar_events`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []reward.CalendarEvent
	for rows.Next() {
		var (
			e             reward.CalendarEvent
			bonusItem     *int32
			bonusCount    *int64
			bonusInterval *int64
		)
		if err := rows.Scan(&e.Name, &e.Start, &e.End, &e.Multiplier,
			&bonusItem, &bonusCount, &bonusInterval); err != nil {
			return nil, err
		}
		if bonusItem != nil && bonusCount != nil && bonusInterval != nil {
			e.BonusRule = &reward.RewardRule{
				ItemID:   *bonusItem,
				Count:    *bonusCount,
				Interval: time.Duration(*bonusInterval) * time.Second,
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *RewardRepo) SaveProgressive(ctx context.Context, entries []reward.ProgressiveEntry) error {
	for _, e := range entries {
		if _, err := r.db.Pool.Exec(ctx,
			`INSERT INTO progressive_state (player_id, item_id, multiplier, updated_at)
			 VALUES ($1, $2, $3, NOW())
			 ON CONFLICT (player_id, item_id) DO UPDATE SET multiplier = $3, updated_at = NOW()`,
			e.PlayerID, e.ItemID, e.Multiplier,
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *RewardRepo) LoadProgressive(ctx context.Context) ([]reward.ProgressiveEntry, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT player_id, item_id, multiplier FROM progressive_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []reward.ProgressiveEntry
	for rows.Next() {
		var e reward.ProgressiveEntry
		if err := rows.Scan(&e.PlayerID, &e.ItemID, &e.Multiplier); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
