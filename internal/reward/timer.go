package reward

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// fireOutcome tells the timer loop what to do after a fire attempt.
type fireOutcome int

const (
	fireStop fireOutcome = iota // leave the loop, no reschedule
	fireSkip                    // stay scheduled, this cycle produced nothing
	firePaid                    // stay scheduled, payout issued
)

// collaboratorTimeout bounds every external call made from a fire. The
// collaborators are assumed fast and synchronous; the timeout is only a
// backstop so a wedged store cannot pin the inFlight guard forever.
const collaboratorTimeout = 5 * time.Second

// RewardTimer is one recurring schedule bound to exactly one
// (player, rule) pair. Fires are fixed-rate; an overlapping tick is
// dropped by the inFlight guard, never queued. Owned by one
// PlayerSession, never shared, never outlives it.
type RewardTimer struct {
	rule  RewardRule
	group string
	owner *PlayerSession
	sched *Scheduler

	// lastFire anchors the schedule: remaining = interval - (now - lastFire).
	// Seeded at construction so an immediate logout persists the initial
	// delay, not a full interval.
	lastFire  atomic.Int64 // unix nanos
	cancelled atomic.Bool
	inFlight  atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
}

func newRewardTimer(owner *PlayerSession, group string, rule RewardRule, now time.Time, initial time.Duration) *RewardTimer {
	t := &RewardTimer{
		rule:   rule,
		group:  group,
		owner:  owner,
		sched:  owner.sched,
		stopCh: make(chan struct{}),
	}
	t.lastFire.Store(now.Add(initial - rule.Interval).UnixNano())
	return t
}

// run is the timer goroutine: one initial delay, then fixed-rate ticks.
func (t *RewardTimer) run(initial time.Duration) {
	tm := time.NewTimer(initial)
	defer tm.Stop()
	select {
	case <-tm.C:
	case <-t.stopCh:
		return
	}
	if t.fire(t.sched.now()) == fireStop {
		return
	}
	tk := time.NewTicker(t.rule.Interval)
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			if t.fire(t.sched.now()) == fireStop {
				return
			}
		case <-t.stopCh:
			return
		}
	}
}

// Cancel stops the timer. Safe to call concurrently with an in-flight
// fire: the cancelled flag is checked at the top of the fire body, and a
// fire already past that point completes normally.
func (t *RewardTimer) Cancel() {
	t.cancelled.Store(true)
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// fire runs one cycle. Nothing may escape it: errors are absorbed and
// logged, and a panic in a collaborator is confined to this one cycle so
// sibling timers and the session keep running.
func (t *RewardTimer) fire(now time.Time) (out fireOutcome) {
	if t.sched.shuttingDown() {
		return fireStop
	}
	if !t.inFlight.CompareAndSwap(false, true) {
		// Previous fire still executing — drop this tick, never queue it.
		t.sched.countSkip(skipInFlight)
		return fireSkip
	}
	defer t.inFlight.Store(false)
	defer func() {
		if r := recover(); r != nil {
			t.sched.log.Error("獎勵發放循環發生panic",
				zap.Int64("player", t.owner.playerID),
				zap.String("group", t.group),
				zap.Int32("item", t.rule.ItemID),
				zap.Any("panic", r))
			out = fireSkip
		}
	}()
	return t.fireChecked(now)
}

// fireChecked is the gating checklist: first failing check wins, no
// side effects before the payout step.
func (t *RewardTimer) fireChecked(now time.Time) fireOutcome {
	if t.cancelled.Load() {
		return fireStop
	}
	pid := t.owner.playerID

	if t.owner.done.Load() || !t.sched.dir.IsOnline(pid) {
		t.sched.countSkip(skipInactive)
		return fireSkip
	}
	if t.owner.paused.Load() {
		t.sched.countSkip(skipPaused)
		return fireSkip
	}
	if t.sched.afk.IsAFK(pid) {
		t.sched.countSkip(skipAFK)
		return fireSkip
	}
	if t.rule.OnceOnly {
		ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
		given, err := t.sched.vars.GetBool(ctx, pid, givenKey(t.group, t.rule.ItemID), false)
		cancel()
		if err != nil {
			t.sched.log.Warn("讀取一次性獎勵旗標失敗",
				zap.Int64("player", pid), zap.String("group", t.group), zap.Error(err))
			t.sched.countSkip(skipVariables)
			return fireSkip
		}
		if given {
			t.Cancel()
			return fireStop
		}
	}
	if !t.rule.Weekdays.Contains(now.Weekday()) {
		t.sched.countSkip(skipWeekday)
		return fireSkip
	}
	if !t.rule.levelAllowed(t.sched.dir.Level(pid)) {
		// Level can change mid-session, so the login-time check is not enough.
		t.sched.countSkip(skipLevel)
		return fireSkip
	}
	if t.rule.RequiredEvent != "" && !t.sched.events.EventActive(t.rule.RequiredEvent, now) {
		t.sched.countSkip(skipEvent)
		return fireSkip
	}
	return t.payout(now)
}

// payout composes the multipliers, credits the item, and does the
// post-issuance bookkeeping. Persistence failures after the credit are
// logged and absorbed — payout is not transactional with persistence.
func (t *RewardTimer) payout(now time.Time) fireOutcome {
	sched := t.sched
	pid := t.owner.playerID

	progMult := sched.prog.Multiplier(pid, t.rule.ItemID)
	evMult, evName := sched.events.Multiplier(now)
	mult := progMult * evMult
	qty := int64(math.Round(float64(t.rule.Count) * mult))
	if qty < 1 {
		qty = 1
	}

	pc := PayoutContext{
		PlayerID:    pid,
		Group:       t.group,
		ItemID:      t.rule.ItemID,
		ItemName:    sched.items.Name(t.rule.ItemID),
		BaseCount:   t.rule.Count,
		FinalCount:  qty,
		Multiplier:  mult,
		EventName:   evName,
		Progressive: t.rule.Progressive,
	}
	if sched.hook != nil {
		if adj := sched.hook.AdjustPayout(pc); adj > 0 {
			qty = adj
			pc.FinalCount = qty
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
	defer cancel()

	if err := sched.inv.Credit(ctx, pid, t.rule.ItemID, qty, "online_reward:"+t.group); err != nil {
		sched.log.Warn("發放獎勵道具失敗",
			zap.Int64("player", pid),
			zap.String("group", t.group),
			zap.Int32("item", t.rule.ItemID),
			zap.Int64("count", qty),
			zap.Error(err))
		sched.notify.Send(pid, "背包已滿，線上獎勵將於下次發放時重試。")
		sched.countSkip(skipIssuance)
		return fireSkip
	}

	t.lastFire.Store(now.UnixNano())
	if t.rule.Progressive {
		sched.prog.Advance(pid, t.rule.ItemID)
	}
	t.owner.rewardsReceived.Add(1)
	sched.countPayout(t.group)

	msg := ""
	if sched.hook != nil {
		msg = sched.hook.FormatMessage(pc)
	}
	if msg == "" {
		msg = fmt.Sprintf("線上獎勵:獲得 %s x%d", pc.ItemName, qty)
		if evName != "" {
			msg += fmt.Sprintf("(%s 活動加成 %.1f 倍)", evName, evMult)
		}
	}
	sched.notify.Send(pid, msg)

	if err := sched.stats.RecordPayout(ctx, PayoutRecord{
		PlayerID:   pid,
		Group:      t.group,
		ItemID:     t.rule.ItemID,
		Count:      qty,
		Multiplier: mult,
		EventName:  evName,
		IssuedAt:   now,
	}); err != nil {
		sched.log.Warn("寫入獎勵統計失敗", zap.Int64("player", pid), zap.Error(err))
	}
	if t.rule.PersistRemaining {
		// Full reset: next logout persists from this fire.
		if err := sched.vars.SetLong(ctx, pid, remainingKey(t.group, t.rule.ItemID), 0); err != nil {
			sched.log.Warn("重置剩餘時間失敗", zap.Int64("player", pid), zap.Error(err))
		}
	}
	if t.rule.OnceOnly {
		if err := sched.vars.SetBool(ctx, pid, givenKey(t.group, t.rule.ItemID), true); err != nil {
			sched.log.Warn("寫入一次性獎勵旗標失敗", zap.Int64("player", pid), zap.Error(err))
		}
		t.Cancel()
		return fireStop
	}
	return firePaid
}

// handleLogout persists remaining time for persist-remaining rules and
// cancels the timer unconditionally.
func (t *RewardTimer) handleLogout(now time.Time) {
	if t.rule.PersistRemaining && !t.rule.OnceOnly {
		remaining := t.rule.Interval - now.Sub(time.Unix(0, t.lastFire.Load()))
		if remaining < 0 {
			remaining = 0
		}
		ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
		if err := t.sched.vars.SetLong(ctx, t.owner.playerID,
			remainingKey(t.group, t.rule.ItemID), int64(remaining.Seconds())); err != nil {
			t.sched.log.Warn("保存剩餘時間失敗",
				zap.Int64("player", t.owner.playerID),
				zap.String("group", t.group),
				zap.Int32("item", t.rule.ItemID),
				zap.Error(err))
		}
		cancel()
	}
	t.Cancel()
}
