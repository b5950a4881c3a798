package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/l1jgo/rewards/internal/reward"
)

// PlayerRepo adapts the shared game database to the engine's host-facing
// ports: reward.PlayerDirectory, reward.Inventory and reward.Notifier.
// The game server owns the characters table and keeps the online flag
// current; rewardd only reads it. Credits go straight into the inventory
// table and notices into a queue the game server drains.
//
// The directory ports are synchronous by contract, so lookups run under a
// short internal timeout and fail closed (offline, level 0) on error.
type PlayerRepo struct {
	db  *DB
	log *zap.Logger
}

func NewPlayerRepo(db *DB, log *zap.Logger) *PlayerRepo {
	return &PlayerRepo{db: db, log: log}
}

const lookupTimeout = 3 * time.Second

func (r *PlayerRepo) IsOnline(playerID int64) bool {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	var online bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT online FROM reward_players WHERE id = $1`, playerID,
	).Scan(&online)
	if errors.Is(err, pgx.ErrNoRows) {
		return false
	}
	if err != nil {
		r.log.Warn("查詢玩家在線狀態失敗", zap.Int64("player", playerID), zap.Error(err))
		return false
	}
	return online
}

func (r *PlayerRepo) Level(playerID int64) int {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	var level int
	err := r.db.Pool.QueryRow(ctx,
		`SELECT level FROM reward_players WHERE id = $1`, playerID,
	).Scan(&level)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.log.Warn("查詢玩家等級失敗", zap.Int64("player", playerID), zap.Error(err))
		}
		return 0
	}
	return level
}

func (r *PlayerRepo) AccessLevel(playerID int64) string {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	var access string
	err := r.db.Pool.QueryRow(ctx,
		`SELECT access_level FROM reward_players WHERE id = $1`, playerID,
	).Scan(&access)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.log.Warn("查詢玩家權限失敗", zap.Int64("player", playerID), zap.Error(err))
		}
		return ""
	}
	return access
}

func (r *PlayerRepo) Position(playerID int64) (reward.Position, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	var pos reward.Position
	err := r.db.Pool.QueryRow(ctx,
		`SELECT x, y, map_id FROM reward_players WHERE id = $1`, playerID,
	).Scan(&pos.X, &pos.Y, &pos.Z)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			r.log.Warn("查詢玩家位置失敗", zap.Int64("player", playerID), zap.Error(err))
		}
		return reward.Position{}, false
	}
	return pos, true
}

// ListOnline returns the ids of all players currently flagged online.
// The daemon's login watcher diffs successive snapshots to drive
// session creation and teardown.
func (r *PlayerRepo) ListOnline(ctx context.Context) ([]int64, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT id FROM reward_players WHERE online`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Credit adds items to the player's reward inventory row. Stacks on
// (player, item); the game server moves stacks into the real bag.
func (r *PlayerRepo) Credit(ctx context.Context, playerID int64, itemID int32, count int64, source string) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO reward_inventory (player_id, item_id, item_count, source, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (player_id, item_id)
		 DO UPDATE SET item_count = reward_inventory.item_count + $3, source = $4, updated_at = NOW()`,
		playerID, itemID, count, source,
	)
	return err
}

// Send queues an in-game notice. Delivery failures are logged and dropped;
// a notice is not worth failing a payout over.
func (r *PlayerRepo) Send(playerID int64, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	if _, err := r.db.Pool.Exec(ctx,
		`INSERT INTO reward_notices (player_id, message) VALUES ($1, $2)`,
		playerID, text,
	); err != nil {
		r.log.Warn("寫入獎勵通知失敗", zap.Int64("player", playerID), zap.Error(err))
	}
}
