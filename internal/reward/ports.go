package reward

import (
	"context"
	"time"
)

// The engine never touches the host server directly; everything it needs
// from the game world comes through these narrow collaborator interfaces.

// Position is a world coordinate sample used for anti-AFK detection.
type Position struct {
	X, Y int32
	Z    int16 // map id on L1J-family builds
}

// PlayerDirectory answers questions about connected players.
type PlayerDirectory interface {
	IsOnline(playerID int64) bool
	Level(playerID int64) int
	AccessLevel(playerID int64) string
	Position(playerID int64) (Position, bool)
}

// Inventory credits items into a player's bag. Capacity is checked by the
// collaborator; a full bag comes back as an ordinary error.
type Inventory interface {
	Credit(ctx context.Context, playerID int64, itemID int32, count int64, source string) error
}

// Notifier delivers an in-game text message to one player.
type Notifier interface {
	Send(playerID int64, text string)
}

// VariableStore is the per-player key/value store used for once-only flags
// and persisted remaining time.
type VariableStore interface {
	GetLong(ctx context.Context, playerID int64, key string, def int64) (int64, error)
	GetBool(ctx context.Context, playerID int64, key string, def bool) (bool, error)
	SetLong(ctx context.Context, playerID int64, key string, val int64) error
	SetBool(ctx context.Context, playerID int64, key string, val bool) error
}

// ConfigStore loads reward group and calendar event definitions from the
// backing store on every ReloadConfiguration pass.
type ConfigStore interface {
	LoadRewardGroups(ctx context.Context) ([]RewardGroup, error)
	LoadCalendarEvents(ctx context.Context) ([]CalendarEvent, error)
}

// PayoutRecord is one successful issuance, as handed to the StatsSink.
type PayoutRecord struct {
	PlayerID   int64
	Group      string
	ItemID     int32
	Count      int64
	Multiplier float64
	EventName  string
	IssuedAt   time.Time
}

// StatsSink records payouts and session online time. Failures are logged
// by the caller and never roll back an already-issued item.
type StatsSink interface {
	RecordPayout(ctx context.Context, rec PayoutRecord) error
	RecordSessionTime(ctx context.Context, playerID int64, online time.Duration) error
}

// ItemCatalog resolves item ids to display names. data.ItemTable satisfies
// this; the multi-classname host probing of older builds is deployment
// wiring and stays outside the engine.
type ItemCatalog interface {
	Exists(itemID int32) bool
	Name(itemID int32) string
}

// ProgressiveStore persists progressive multiplier state across restarts.
type ProgressiveStore interface {
	SaveProgressive(ctx context.Context, entries []ProgressiveEntry) error
	LoadProgressive(ctx context.Context) ([]ProgressiveEntry, error)
}

// PayoutHook lets a scripting layer adjust the final quantity and the
// notification text. Both methods must tolerate concurrent calls.
type PayoutHook interface {
	AdjustPayout(ctx PayoutContext) int64
	FormatMessage(ctx PayoutContext) string
}

// PayoutContext is the pre-packed data handed to a PayoutHook.
type PayoutContext struct {
	PlayerID    int64
	Group       string
	ItemID      int32
	ItemName    string
	BaseCount   int64
	FinalCount  int64
	Multiplier  float64
	EventName   string
	Progressive bool
}
