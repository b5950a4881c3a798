package reward

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Deps bundles the scheduler's collaborators. Progressive persistence,
// the payout hook, and metrics are optional; everything else is required.
type Deps struct {
	Log       *zap.Logger
	Players   PlayerDirectory
	Inventory Inventory
	Notifier  Notifier
	Variables VariableStore
	Store     ConfigStore
	Stats     StatsSink
	Items     ItemCatalog

	ProgStore ProgressiveStore // nil = progressive state not persisted
	Hook      PayoutHook       // nil = no scripted adjustment
	Metrics   Counters         // nil = counters discarded
}

// Counters is the slice of the metrics surface the engine feeds. Kept as
// an interface so the engine package does not import prometheus.
type Counters interface {
	Payout(group string)
	Skip(reason string)
	SetSessions(n int)
}

// Options carries the tunables the scheduler reads from config.
type Options struct {
	SweepInterval   time.Duration
	ReloadInterval  time.Duration
	AFKPollInterval time.Duration
	AFKTimeout      time.Duration
	ProgressiveStep float64
	ProgressiveMax  float64
}

// Scheduler is the engine root: it owns the config snapshot, the event
// manager, the progressive and AFK trackers, and the live session map.
// All public methods are safe for concurrent use.
type Scheduler struct {
	log    *zap.Logger
	dir    PlayerDirectory
	inv    Inventory
	notify Notifier
	vars   VariableStore
	store  ConfigStore
	stats  StatsSink
	items  ItemCatalog

	progStore ProgressiveStore
	hook      PayoutHook
	metrics   Counters

	opts   Options
	groups atomic.Pointer[groupList]
	events *EventManager
	prog   *ProgressiveTracker
	afk    *AFKTracker

	sessions sync.Map // playerID int64 -> *PlayerSession

	shutdown atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	nowFn func() time.Time
}

func NewScheduler(deps Deps, opts Options) *Scheduler {
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Minute
	}
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = 5 * time.Minute
	}
	if opts.AFKPollInterval <= 0 {
		opts.AFKPollInterval = time.Minute
	}
	s := &Scheduler{
		log:       deps.Log,
		dir:       deps.Players,
		inv:       deps.Inventory,
		notify:    deps.Notifier,
		vars:      deps.Variables,
		store:     deps.Store,
		stats:     deps.Stats,
		items:     deps.Items,
		progStore: deps.ProgStore,
		hook:      deps.Hook,
		metrics:   deps.Metrics,
		opts:      opts,
		events:    NewEventManager(),
		prog:      NewProgressiveTracker(opts.ProgressiveStep, opts.ProgressiveMax),
		afk:       NewAFKTracker(opts.AFKTimeout),
		stopCh:    make(chan struct{}),
		nowFn:     time.Now,
	}
	s.groups.Store(newGroupList(nil))
	return s
}

func (s *Scheduler) now() time.Time     { return s.nowFn() }
func (s *Scheduler) shuttingDown() bool { return s.shutdown.Load() }

func (s *Scheduler) countSkip(reason string) {
	if s.metrics != nil {
		s.metrics.Skip(reason)
	}
}

func (s *Scheduler) countPayout(group string) {
	if s.metrics != nil {
		s.metrics.Payout(group)
	}
}

// Start loads the initial configuration, warms the progressive tracker
// from persistence, and launches the background loops. Returns an error
// only when the very first configuration load fails — after that, reload
// failures keep the previous snapshot.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.progStore != nil {
		entries, err := s.progStore.LoadProgressive(ctx)
		if err != nil {
			s.log.Warn("載入累進倍率失敗", zap.Error(err))
		} else {
			s.prog.Seed(entries)
			s.log.Info("累進倍率載入完成", zap.Int("entries", len(entries)))
		}
	}
	if err := s.ReloadConfiguration(ctx); err != nil {
		return fmt.Errorf("initial configuration load: %w", err)
	}
	s.wg.Add(3)
	go s.sweepLoop()
	go s.reloadLoop()
	go s.afkLoop()
	s.log.Info("線上獎勵排程器啟動",
		zap.Duration("sweep", s.opts.SweepInterval),
		zap.Duration("reload", s.opts.ReloadInterval))
	return nil
}

// OnLogin creates the player's reward session. Duplicate logins for a
// still-active session return ErrSessionActive; a stale session (player
// no longer online but never torn down) is replaced.
func (s *Scheduler) OnLogin(ctx context.Context, playerID int64) error {
	if s.shutdown.Load() {
		return fmt.Errorf("scheduler shut down")
	}
	now := s.now()
	if v, ok := s.sessions.Load(playerID); ok {
		old := v.(*PlayerSession)
		if old.Active() {
			return ErrSessionActive
		}
		old.Teardown(now)
		s.sessions.Delete(playerID)
	}

	sess := newPlayerSession(s, playerID, now)
	if _, loaded := s.sessions.LoadOrStore(playerID, sess); loaded {
		// Lost a racing login; that one owns the session.
		return ErrSessionActive
	}
	sess.start(ctx, s.groups.Load(), now)
	if pos, ok := s.dir.Position(playerID); ok {
		s.afk.Activity(playerID, pos)
	}
	s.log.Info("玩家上線, 獎勵排程建立",
		zap.Int64("player", playerID),
		zap.Int("timers", len(sess.timers)))
	return nil
}

// OnLogout tears down the player's session. A missing session is not an
// error — the sweep may have evicted it first.
func (s *Scheduler) OnLogout(playerID int64) {
	v, ok := s.sessions.LoadAndDelete(playerID)
	if !ok {
		return
	}
	v.(*PlayerSession).Teardown(s.now())
	s.afk.Remove(playerID)
}

// ResetProgressive clears a player's accumulated multipliers. Never done
// automatically; multipliers survive logout and restart.
func (s *Scheduler) ResetProgressive(playerID int64) {
	s.prog.Remove(playerID)
}

// Activity is the host's player-action callback. It feeds the AFK tracker
// and resumes a paused session.
func (s *Scheduler) Activity(playerID int64, pos Position) {
	s.afk.Activity(playerID, pos)
	if v, ok := s.sessions.Load(playerID); ok {
		v.(*PlayerSession).Resume()
	}
}

// SetAFK is the explicit /afk toggle.
func (s *Scheduler) SetAFK(playerID int64, afk bool) {
	s.afk.ForceAFK(playerID, afk)
}

// PauseSession suspends a player's issuance without destroying timers.
func (s *Scheduler) PauseSession(playerID int64) {
	if v, ok := s.sessions.Load(playerID); ok {
		v.(*PlayerSession).Pause()
	}
}

// ResumeSession lifts a pause.
func (s *Scheduler) ResumeSession(playerID int64) {
	if v, ok := s.sessions.Load(playerID); ok {
		v.(*PlayerSession).Resume()
	}
}

// SessionCount returns the number of live sessions.
func (s *Scheduler) SessionCount() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool { n++; return true })
	return n
}

// MaintenanceSweep evicts sessions whose players are gone, persists the
// progressive snapshot, and logs aggregates. Runs on the sweep ticker and
// is exported so an admin command can force one.
func (s *Scheduler) MaintenanceSweep(ctx context.Context) {
	now := s.now()
	live, evicted := 0, 0
	var rewards int64
	s.sessions.Range(func(k, v any) bool {
		sess := v.(*PlayerSession)
		if !s.dir.IsOnline(sess.playerID) {
			sess.Teardown(now)
			s.sessions.Delete(k)
			s.afk.Remove(sess.playerID)
			evicted++
			return true
		}
		live++
		rewards += sess.rewardsReceived.Load()
		return true
	})
	if s.progStore != nil {
		if err := s.progStore.SaveProgressive(ctx, s.prog.Snapshot()); err != nil {
			s.log.Warn("保存累進倍率失敗", zap.Error(err))
		}
	}
	if s.metrics != nil {
		s.metrics.SetSessions(live)
	}
	s.log.Info("獎勵排程巡檢完成",
		zap.Int("live", live),
		zap.Int("evicted", evicted),
		zap.Int64("rewardsIssued", rewards))
}

// ReloadConfiguration loads groups and events from the store, validates
// them, and swaps both snapshots atomically. Invalid rules and events are
// dropped with a warning; a load error keeps the previous snapshot.
// Existing sessions keep their old timers — only new logins see the new
// configuration.
func (s *Scheduler) ReloadConfiguration(ctx context.Context) error {
	groups, err := s.store.LoadRewardGroups(ctx)
	if err != nil {
		s.log.Error("載入獎勵群組失敗, 沿用舊設定", zap.Error(err))
		return fmt.Errorf("load reward groups: %w", err)
	}
	events, err := s.store.LoadCalendarEvents(ctx)
	if err != nil {
		s.log.Error("載入活動設定失敗, 沿用舊設定", zap.Error(err))
		return fmt.Errorf("load calendar events: %w", err)
	}

	valid := make([]RewardGroup, 0, len(groups))
	ruleCount := 0
	for _, g := range groups {
		rules := make([]RewardRule, 0, len(g.Rules))
		for _, r := range g.Rules {
			if err := r.Validate(s.items); err != nil {
				s.log.Warn("獎勵規則設定錯誤, 已略過",
					zap.String("group", g.Name), zap.Error(err))
				continue
			}
			rules = append(rules, r)
		}
		g.Rules = rules
		ruleCount += len(rules)
		valid = append(valid, g)
	}
	validEvents := make([]CalendarEvent, 0, len(events))
	for _, e := range events {
		if err := e.Validate(s.items); err != nil {
			s.log.Warn("活動設定錯誤, 已略過", zap.String("event", e.Name), zap.Error(err))
			continue
		}
		validEvents = append(validEvents, e)
	}

	s.groups.Store(newGroupList(valid))
	s.events.Replace(validEvents)
	s.log.Info("獎勵設定載入完成",
		zap.Int("groups", len(valid)),
		zap.Int("rules", ruleCount),
		zap.Int("events", len(validEvents)))
	return nil
}

// Shutdown stops the loops and tears down every session, persisting
// remaining times. Idempotent.
func (s *Scheduler) Shutdown(ctx context.Context) {
	if !s.shutdown.CompareAndSwap(false, true) {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	now := s.now()
	count := 0
	s.sessions.Range(func(k, v any) bool {
		v.(*PlayerSession).Teardown(now)
		s.sessions.Delete(k)
		count++
		return true
	})
	if s.progStore != nil {
		if err := s.progStore.SaveProgressive(ctx, s.prog.Snapshot()); err != nil {
			s.log.Warn("保存累進倍率失敗", zap.Error(err))
		}
	}
	s.log.Info("線上獎勵排程器關閉", zap.Int("sessions", count))
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()
	tk := time.NewTicker(s.opts.SweepInterval)
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
			s.MaintenanceSweep(ctx)
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) reloadLoop() {
	defer s.wg.Done()
	tk := time.NewTicker(s.opts.ReloadInterval)
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			ctx, cancel := context.WithTimeout(context.Background(), collaboratorTimeout)
			_ = s.ReloadConfiguration(ctx) // already logged; old snapshot stays
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// afkLoop samples every live player's position on the poll interval.
func (s *Scheduler) afkLoop() {
	defer s.wg.Done()
	tk := time.NewTicker(s.opts.AFKPollInterval)
	defer tk.Stop()
	for {
		select {
		case <-tk.C:
			s.sessions.Range(func(_, v any) bool {
				sess := v.(*PlayerSession)
				if pos, ok := s.dir.Position(sess.playerID); ok {
					s.afk.Sample(sess.playerID, pos)
				}
				return true
			})
		case <-s.stopCh:
			return
		}
	}
}
