package persist

import (
	"context"
	"time"

	"github.com/l1jgo/rewards/internal/reward"
)

// StatsRepo records payout and session-time rows. Implements
// reward.StatsSink.
type StatsRepo struct {
	db *DB
}

func NewStatsRepo(db *DB) *StatsRepo {
	return &StatsRepo{db: db}
}

func (r *StatsRepo) RecordPayout(ctx context.Context, rec reward.PayoutRecord) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO reward_payouts (player_id, group_name, item_id, item_count, multiplier, event_name, issued_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.PlayerID, rec.Group, rec.ItemID, rec.Count, rec.Multiplier, rec.EventName, rec.IssuedAt,
	)
	return err
}

func (r *StatsRepo) RecordSessionTime(ctx context.Context, playerID int64, online time.Duration) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO session_times (player_id, online_seconds) VALUES ($1, $2)`,
		playerID, int64(online.Seconds()),
	)
	return err
}
