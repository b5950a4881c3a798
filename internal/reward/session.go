package reward

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// PlayerSession is the per-login umbrella over a player's reward timers.
// Created on login, torn down exactly once on logout, sweep eviction, or
// shutdown. Timers are registered under mu; after that the slice is
// read-only until teardown.
type PlayerSession struct {
	playerID int64
	loginAt  time.Time
	sched    *Scheduler

	paused          atomic.Bool
	done            atomic.Bool
	rewardsReceived atomic.Int64

	mu     sync.Mutex
	timers []*RewardTimer
}

func newPlayerSession(sched *Scheduler, playerID int64, now time.Time) *PlayerSession {
	return &PlayerSession{
		playerID: playerID,
		loginAt:  now,
		sched:    sched,
	}
}

// Active reports whether the session is still live: not torn down and the
// player still connected. Used by OnLogin to spot stale sessions left by a
// connection drop the host never reported.
func (s *PlayerSession) Active() bool {
	return !s.done.Load() && s.sched.dir.IsOnline(s.playerID)
}

// start creates and launches one timer per eligible rule in the snapshot,
// plus the bonus rules of currently-active events under the EVENT group.
func (s *PlayerSession) start(ctx context.Context, snapshot *groupList, now time.Time) {
	access := s.sched.dir.AccessLevel(s.playerID)
	level := s.sched.dir.Level(s.playerID)
	for _, g := range snapshot.groups {
		if !g.Enabled || !g.allowsAccess(access) {
			continue
		}
		for _, r := range g.Rules {
			s.addTimer(ctx, g.Name, r, level, now)
		}
	}
	for _, r := range s.sched.events.ActiveBonusRules(now) {
		s.addTimer(ctx, EventGroupName, r, level, now)
	}
}

// addTimer attaches one rule. Only conditions that can never recover
// within the session skip timer creation (once-only already given, level
// above the cap); everything transient — AFK, weekday, under-leveled, a
// not-yet-started event — is left to the fire-time checks.
func (s *PlayerSession) addTimer(ctx context.Context, group string, rule RewardRule, level int, now time.Time) {
	if rule.MaxLevel > 0 && level > rule.MaxLevel {
		return
	}
	if rule.OnceOnly {
		given, err := s.sched.vars.GetBool(ctx, s.playerID, givenKey(group, rule.ItemID), false)
		if err != nil {
			s.sched.log.Warn("讀取一次性獎勵旗標失敗",
				zap.Int64("player", s.playerID), zap.String("group", group), zap.Error(err))
		} else if given {
			return
		}
	}

	initial := rule.Interval
	if rule.PersistRemaining && !rule.OnceOnly {
		secs, err := s.sched.vars.GetLong(ctx, s.playerID, remainingKey(group, rule.ItemID), 0)
		if err != nil {
			s.sched.log.Warn("讀取剩餘時間失敗",
				zap.Int64("player", s.playerID), zap.String("group", group), zap.Error(err))
		} else if secs > 0 {
			if d := time.Duration(secs) * time.Second; d < initial {
				initial = d
			}
		}
	}

	t := newRewardTimer(s, group, rule, now, initial)
	s.mu.Lock()
	if s.done.Load() {
		s.mu.Unlock()
		return
	}
	s.timers = append(s.timers, t)
	s.mu.Unlock()
	go t.run(initial)
}

// Pause suspends issuance without destroying schedules. Timers keep
// ticking; their fires skip while paused.
func (s *PlayerSession) Pause() {
	s.paused.Store(true)
}

// Resume lifts a pause.
func (s *PlayerSession) Resume() {
	s.paused.Store(false)
}

// Teardown stops every timer, persisting remaining time for the rules that
// carry it, and records the session's online time. Idempotent; first
// caller wins.
func (s *PlayerSession) Teardown(now time.Time) {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	for _, t := range timers {
		t.handleLogout(now)
	}

	online := now.Sub(s.loginAt)
	ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
	if err := s.sched.stats.RecordSessionTime(ctx, s.playerID, online); err != nil {
		s.sched.log.Warn("寫入上線時間失敗", zap.Int64("player", s.playerID), zap.Error(err))
	}
	cancel()

	s.sched.log.Info("玩家離線",
		zap.Int64("player", s.playerID),
		zap.Duration("online", online),
		zap.Int64("rewards", s.rewardsReceived.Load()),
		zap.Int("timers", len(timers)))
}
