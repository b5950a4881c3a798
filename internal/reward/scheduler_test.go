package reward

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func baseGroups() []RewardGroup {
	return []RewardGroup{
		{
			Name: "online_base", Priority: 10, Enabled: true,
			Rules: []RewardRule{
				{ItemID: 40308, Count: 1000, Interval: time.Hour, PersistRemaining: true, Progressive: true},
			},
		},
	}
}

func TestOnLoginCreatesTimers(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	if err := env.sched.ReloadConfiguration(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	env.dir.setOnline(1, 30)
	if err := env.sched.OnLogin(context.Background(), 1); err != nil {
		t.Fatalf("OnLogin: %v", err)
	}
	defer env.sched.OnLogout(1)

	v, ok := env.sched.sessions.Load(int64(1))
	if !ok {
		t.Fatal("session not registered")
	}
	sess := v.(*PlayerSession)
	sess.mu.Lock()
	n := len(sess.timers)
	sess.mu.Unlock()
	if n != 1 {
		t.Fatalf("timers = %d, want 1", n)
	}
}

func TestOnLoginDuplicateReturnsErrSessionActive(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	_ = env.sched.ReloadConfiguration(context.Background())

	env.dir.setOnline(1, 30)
	if err := env.sched.OnLogin(context.Background(), 1); err != nil {
		t.Fatalf("first OnLogin: %v", err)
	}
	defer env.sched.OnLogout(1)

	if err := env.sched.OnLogin(context.Background(), 1); !errors.Is(err, ErrSessionActive) {
		t.Fatalf("duplicate OnLogin = %v, want ErrSessionActive", err)
	}
}

func TestOnLoginReplacesStaleSession(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	_ = env.sched.ReloadConfiguration(context.Background())

	env.dir.setOnline(1, 30)
	_ = env.sched.OnLogin(context.Background(), 1)
	v, _ := env.sched.sessions.Load(int64(1))
	stale := v.(*PlayerSession)

	// Connection drop the host never reported: the session was torn down
	// but never removed from the map.
	stale.done.Store(true)

	if err := env.sched.OnLogin(context.Background(), 1); err != nil {
		t.Fatalf("relog OnLogin = %v, want success over stale session", err)
	}
	defer env.sched.OnLogout(1)

	v2, _ := env.sched.sessions.Load(int64(1))
	if v2.(*PlayerSession) == stale {
		t.Fatal("stale session was not replaced")
	}
}

func TestOnLogoutMissingSessionIsNoop(t *testing.T) {
	env := newTestEnv()
	env.sched.OnLogout(42) // must not panic
}

func TestOnLogoutRecordsSessionTime(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	_ = env.sched.ReloadConfiguration(context.Background())

	env.dir.setOnline(1, 30)
	_ = env.sched.OnLogin(context.Background(), 1)

	env.now = env.now.Add(90 * time.Minute)
	env.sched.OnLogout(1)

	env.stats.mu.Lock()
	defer env.stats.mu.Unlock()
	if got := env.stats.sessions[1]; got != 90*time.Minute {
		t.Fatalf("session time = %v, want 90m", got)
	}
}

func TestReloadDropsInvalidRulesKeepsValid(t *testing.T) {
	env := newTestEnv()
	env.store.groups = []RewardGroup{
		{
			Name: "mixed", Priority: 1, Enabled: true,
			Rules: []RewardRule{
				{ItemID: 40308, Count: 100, Interval: time.Hour},
				{ItemID: 40308, Count: 100, Interval: 0},     // invalid
				{ItemID: 0, Count: 100, Interval: time.Hour}, // unknown item
			},
		},
	}
	if err := env.sched.ReloadConfiguration(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	gl := env.sched.groups.Load()
	if len(gl.groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(gl.groups))
	}
	if len(gl.groups[0].Rules) != 1 {
		t.Fatalf("rules = %d, want only the valid one", len(gl.groups[0].Rules))
	}
}

func TestReloadFailureKeepsOldSnapshot(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	if err := env.sched.ReloadConfiguration(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	env.store.mu.Lock()
	env.store.err = fmt.Errorf("db down")
	env.store.mu.Unlock()

	if err := env.sched.ReloadConfiguration(context.Background()); err == nil {
		t.Fatal("reload with store error should report it")
	}
	gl := env.sched.groups.Load()
	if len(gl.groups) != 1 || gl.groups[0].Name != "online_base" {
		t.Fatal("failed reload must keep the previous snapshot")
	}
}

func TestReloadDoesNotTouchLiveSessions(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	_ = env.sched.ReloadConfiguration(context.Background())

	env.dir.setOnline(1, 30)
	_ = env.sched.OnLogin(context.Background(), 1)
	defer env.sched.OnLogout(1)
	v, _ := env.sched.sessions.Load(int64(1))
	sess := v.(*PlayerSession)

	env.store.mu.Lock()
	env.store.groups = nil
	env.store.mu.Unlock()
	_ = env.sched.ReloadConfiguration(context.Background())

	sess.mu.Lock()
	n := len(sess.timers)
	sess.mu.Unlock()
	if n != 1 {
		t.Fatalf("live session timers = %d after reload, want untouched 1", n)
	}
}

func TestMaintenanceSweepEvictsOffline(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	_ = env.sched.ReloadConfiguration(context.Background())

	env.dir.setOnline(1, 30)
	env.dir.setOnline(2, 30)
	_ = env.sched.OnLogin(context.Background(), 1)
	_ = env.sched.OnLogin(context.Background(), 2)

	env.dir.setOffline(2)
	env.sched.MaintenanceSweep(context.Background())

	if _, ok := env.sched.sessions.Load(int64(2)); ok {
		t.Fatal("offline player's session should be evicted")
	}
	if _, ok := env.sched.sessions.Load(int64(1)); !ok {
		t.Fatal("online player's session should survive the sweep")
	}
	env.sched.OnLogout(1)
}

func TestAccessGatedGroupSkipped(t *testing.T) {
	env := newTestEnv()
	env.store.groups = []RewardGroup{
		{
			Name: "gm_supplies", Priority: 1, Enabled: true, AccessLevels: []string{"gm"},
			Rules: []RewardRule{{ItemID: 40024, Count: 20, Interval: 15 * time.Minute}},
		},
	}
	_ = env.sched.ReloadConfiguration(context.Background())

	env.dir.setOnline(1, 30) // normal player, access level ""
	_ = env.sched.OnLogin(context.Background(), 1)
	defer env.sched.OnLogout(1)

	v, _ := env.sched.sessions.Load(int64(1))
	sess := v.(*PlayerSession)
	sess.mu.Lock()
	n := len(sess.timers)
	sess.mu.Unlock()
	if n != 0 {
		t.Fatalf("timers = %d, want 0 for access-gated group", n)
	}
}

func TestDisabledGroupSkipped(t *testing.T) {
	env := newTestEnv()
	groups := baseGroups()
	groups[0].Enabled = false
	env.store.groups = groups
	_ = env.sched.ReloadConfiguration(context.Background())

	env.dir.setOnline(1, 30)
	_ = env.sched.OnLogin(context.Background(), 1)
	defer env.sched.OnLogout(1)

	v, _ := env.sched.sessions.Load(int64(1))
	sess := v.(*PlayerSession)
	sess.mu.Lock()
	n := len(sess.timers)
	sess.mu.Unlock()
	if n != 0 {
		t.Fatalf("timers = %d, want 0 for disabled group", n)
	}
}

func TestOnceOnlyGivenSkipsTimerAtLogin(t *testing.T) {
	env := newTestEnv()
	env.store.groups = []RewardGroup{
		{
			Name: "newbie", Priority: 1, Enabled: true,
			Rules: []RewardRule{{ItemID: 44070, Count: 1, Interval: 10 * time.Minute, OnceOnly: true}},
		},
	}
	_ = env.sched.ReloadConfiguration(context.Background())
	_ = env.vars.SetBool(context.Background(), 1, givenKey("newbie", 44070), true)

	env.dir.setOnline(1, 10)
	_ = env.sched.OnLogin(context.Background(), 1)
	defer env.sched.OnLogout(1)

	v, _ := env.sched.sessions.Load(int64(1))
	sess := v.(*PlayerSession)
	sess.mu.Lock()
	n := len(sess.timers)
	sess.mu.Unlock()
	if n != 0 {
		t.Fatalf("timers = %d, want 0 when once-only already given", n)
	}
}

func TestEventBonusRuleAttachedUnderEventGroup(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	env.store.events = []CalendarEvent{
		{
			Name: "fiesta", Start: env.now.Add(-time.Hour), End: env.now.Add(time.Hour), Multiplier: 2.0,
			BonusRule: &RewardRule{ItemID: 40030, Count: 2, Interval: 30 * time.Minute},
		},
	}
	_ = env.sched.ReloadConfiguration(context.Background())

	env.dir.setOnline(1, 30)
	_ = env.sched.OnLogin(context.Background(), 1)
	defer env.sched.OnLogout(1)

	v, _ := env.sched.sessions.Load(int64(1))
	sess := v.(*PlayerSession)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if len(sess.timers) != 2 {
		t.Fatalf("timers = %d, want base rule + event bonus", len(sess.timers))
	}
	found := false
	for _, tm := range sess.timers {
		if tm.group == EventGroupName {
			found = true
		}
	}
	if !found {
		t.Fatal("bonus timer should run under the EVENT group")
	}
}

func TestShutdownIdempotentAndTearsDown(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	if err := env.sched.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	env.dir.setOnline(1, 30)
	_ = env.sched.OnLogin(context.Background(), 1)

	env.sched.Shutdown(context.Background())
	if _, ok := env.sched.sessions.Load(int64(1)); ok {
		t.Fatal("shutdown should tear down all sessions")
	}
	if err := env.sched.OnLogin(context.Background(), 1); err == nil {
		t.Fatal("OnLogin after shutdown should fail")
	}
	// Second shutdown must not panic or block.
	env.sched.Shutdown(context.Background())
}

func TestSessionCount(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	_ = env.sched.ReloadConfiguration(context.Background())

	env.dir.setOnline(1, 30)
	env.dir.setOnline(2, 30)
	_ = env.sched.OnLogin(context.Background(), 1)
	_ = env.sched.OnLogin(context.Background(), 2)
	if got := env.sched.SessionCount(); got != 2 {
		t.Fatalf("SessionCount = %d, want 2", got)
	}
	env.sched.OnLogout(1)
	env.sched.OnLogout(2)
	if got := env.sched.SessionCount(); got != 0 {
		t.Fatalf("SessionCount after logout = %d, want 0", got)
	}
}

func TestPersistedRemainingShortensInitialDelay(t *testing.T) {
	env := newTestEnv()
	env.store.groups = baseGroups()
	_ = env.sched.ReloadConfiguration(context.Background())

	// 2 minutes remained at last logout.
	_ = env.vars.SetLong(context.Background(), 1, remainingKey("online_base", 40308), 120)

	env.dir.setOnline(1, 30)
	_ = env.sched.OnLogin(context.Background(), 1)
	defer env.sched.OnLogout(1)

	v, _ := env.sched.sessions.Load(int64(1))
	sess := v.(*PlayerSession)
	sess.mu.Lock()
	tm := sess.timers[0]
	sess.mu.Unlock()

	// The anchor encodes the shortened delay: an immediate logout persists
	// the same 120 seconds, not a fresh hour.
	tm.handleLogout(env.now)
	secs, _ := env.vars.long(1, remainingKey("online_base", 40308))
	if secs != 120 {
		t.Fatalf("remaining after immediate logout = %d, want 120", secs)
	}
}
