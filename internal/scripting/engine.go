package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/l1jgo/rewards/internal/reward"
)

// Engine wraps a single gopher-lua VM hosting the payout hook scripts.
// Reward timers fire from many goroutines, so unlike a game-loop engine
// every call takes the VM mutex.
type Engine struct {
	mu  sync.Mutex
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all .lua scripts from the
// given directory. A missing directory is not an error; the hooks simply
// stay undefined and the engine falls back to defaults.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	if err := e.loadDir(scriptsDir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load reward scripts: %w", err)
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// payoutTable packs a PayoutContext into a Lua table. Caller holds e.mu.
func (e *Engine) payoutTable(pc reward.PayoutContext) *lua.LTable {
	t := e.vm.NewTable()
	t.RawSetString("player_id", lua.LNumber(pc.PlayerID))
	t.RawSetString("group", lua.LString(pc.Group))
	t.RawSetString("item_id", lua.LNumber(pc.ItemID))
	t.RawSetString("item_name", lua.LString(pc.ItemName))
	t.RawSetString("base_count", lua.LNumber(pc.BaseCount))
	t.RawSetString("final_count", lua.LNumber(pc.FinalCount))
	t.RawSetString("multiplier", lua.LNumber(pc.Multiplier))
	t.RawSetString("event_name", lua.LString(pc.EventName))
	if pc.Progressive {
		t.RawSetString("progressive", lua.LTrue)
	} else {
		t.RawSetString("progressive", lua.LFalse)
	}
	return t
}

// AdjustPayout calls Lua adjust_payout(ctx). Returns the adjusted count,
// or 0 when the hook is absent, errors, or returns a non-positive value —
// callers treat 0 as "keep the computed count".
func (e *Engine) AdjustPayout(pc reward.PayoutContext) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal("adjust_payout")
	if fn == lua.LNil {
		return 0
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, e.payoutTable(pc)); err != nil {
		e.log.Error("lua adjust_payout error", zap.Error(err),
			zap.Int64("player", pc.PlayerID), zap.Int32("item", pc.ItemID))
		return 0
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	n := int64(lua.LVAsNumber(result))
	if n <= 0 {
		return 0
	}
	return n
}

// FormatMessage calls Lua format_reward_message(ctx). An empty return
// means "use the built-in message".
func (e *Engine) FormatMessage(pc reward.PayoutContext) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn := e.vm.GetGlobal("format_reward_message")
	if fn == lua.LNil {
		return ""
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, e.payoutTable(pc)); err != nil {
		e.log.Error("lua format_reward_message error", zap.Error(err),
			zap.Int64("player", pc.PlayerID), zap.Int32("item", pc.ItemID))
		return ""
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	if result == lua.LNil {
		return ""
	}
	return lua.LVAsString(result)
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.vm.Close()
}
