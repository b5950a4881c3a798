package reward

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type memVars struct {
	mu      sync.Mutex
	m       map[string]int64
	failGet bool
	failSet bool
}

func newMemVars() *memVars {
	return &memVars{m: make(map[string]int64)}
}

func (v *memVars) key(playerID int64, key string) string {
	return fmt.Sprintf("%d/%s", playerID, key)
}

func (v *memVars) GetLong(_ context.Context, playerID int64, key string, def int64) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failGet {
		return def, fmt.Errorf("variable store down")
	}
	if val, ok := v.m[v.key(playerID, key)]; ok {
		return val, nil
	}
	return def, nil
}

func (v *memVars) GetBool(ctx context.Context, playerID int64, key string, def bool) (bool, error) {
	d := int64(0)
	if def {
		d = 1
	}
	val, err := v.GetLong(ctx, playerID, key, d)
	if err != nil {
		return def, err
	}
	return val != 0, nil
}

func (v *memVars) SetLong(_ context.Context, playerID int64, key string, val int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failSet {
		return fmt.Errorf("variable store down")
	}
	v.m[v.key(playerID, key)] = val
	return nil
}

func (v *memVars) SetBool(ctx context.Context, playerID int64, key string, val bool) error {
	n := int64(0)
	if val {
		n = 1
	}
	return v.SetLong(ctx, playerID, key, n)
}

func (v *memVars) long(playerID int64, key string) (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.m[v.key(playerID, key)]
	return val, ok
}

type fakeDir struct {
	mu     sync.Mutex
	online map[int64]bool
	levels map[int64]int
	access map[int64]string
	pos    map[int64]Position
}

func newFakeDir() *fakeDir {
	return &fakeDir{
		online: make(map[int64]bool),
		levels: make(map[int64]int),
		access: make(map[int64]string),
		pos:    make(map[int64]Position),
	}
}

func (d *fakeDir) IsOnline(playerID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.online[playerID]
}

func (d *fakeDir) Level(playerID int64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[playerID]
}

func (d *fakeDir) AccessLevel(playerID int64) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.access[playerID]
}

func (d *fakeDir) Position(playerID int64) (Position, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pos[playerID]
	return p, ok
}

func (d *fakeDir) setOnline(playerID int64, level int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online[playerID] = true
	d.levels[playerID] = level
}

func (d *fakeDir) setOffline(playerID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.online[playerID] = false
}

type creditCall struct {
	playerID int64
	itemID   int32
	count    int64
	source   string
}

type fakeInv struct {
	mu      sync.Mutex
	credits []creditCall
	fail    error
}

func (i *fakeInv) Credit(_ context.Context, playerID int64, itemID int32, count int64, source string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.fail != nil {
		return i.fail
	}
	i.credits = append(i.credits, creditCall{playerID, itemID, count, source})
	return nil
}

func (i *fakeInv) all() []creditCall {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]creditCall, len(i.credits))
	copy(out, i.credits)
	return out
}

type fakeNotify struct {
	mu   sync.Mutex
	msgs []string
}

func (n *fakeNotify) Send(_ int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
}

func (n *fakeNotify) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type fakeStore struct {
	mu     sync.Mutex
	groups []RewardGroup
	events []CalendarEvent
	err    error
}

func (s *fakeStore) LoadRewardGroups(_ context.Context) ([]RewardGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups, s.err
}

func (s *fakeStore) LoadCalendarEvents(_ context.Context) ([]CalendarEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events, s.err
}

type fakeStats struct {
	mu       sync.Mutex
	payouts  []PayoutRecord
	sessions map[int64]time.Duration
}

func newFakeStats() *fakeStats {
	return &fakeStats{sessions: make(map[int64]time.Duration)}
}

func (s *fakeStats) RecordPayout(_ context.Context, rec PayoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payouts = append(s.payouts, rec)
	return nil
}

func (s *fakeStats) RecordSessionTime(_ context.Context, playerID int64, online time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[playerID] = online
	return nil
}

type fakeItems struct{}

func (fakeItems) Exists(itemID int32) bool { return itemID != 0 }
func (fakeItems) Name(itemID int32) string { return fmt.Sprintf("item-%d", itemID) }

// testEnv bundles the scheduler with its fakes.
type testEnv struct {
	sched  *Scheduler
	dir    *fakeDir
	inv    *fakeInv
	notify *fakeNotify
	store  *fakeStore
	vars   *memVars
	stats  *fakeStats
	now    time.Time
}

func newTestEnv() *testEnv {
	env := &testEnv{
		dir:    newFakeDir(),
		inv:    &fakeInv{},
		notify: &fakeNotify{},
		store:  &fakeStore{},
		vars:   newMemVars(),
		stats:  newFakeStats(),
		now:    time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC), // a Monday
	}
	env.sched = NewScheduler(Deps{
		Log:       zap.NewNop(),
		Players:   env.dir,
		Inventory: env.inv,
		Notifier:  env.notify,
		Variables: env.vars,
		Store:     env.store,
		Stats:     env.stats,
		Items:     fakeItems{},
	}, Options{})
	env.sched.nowFn = func() time.Time { return env.now }
	return env
}

// session creates a live session for the player without launching the
// scheduler's background loops.
func (env *testEnv) session(playerID int64, level int) *PlayerSession {
	env.dir.setOnline(playerID, level)
	sess := newPlayerSession(env.sched, playerID, env.now)
	env.sched.sessions.Store(playerID, sess)
	return sess
}

// timer builds a timer on a session without starting its goroutine so
// tests drive fire directly.
func (env *testEnv) timer(sess *PlayerSession, group string, rule RewardRule) *RewardTimer {
	t := newRewardTimer(sess, group, rule, env.now, rule.Interval)
	sess.mu.Lock()
	sess.timers = append(sess.timers, t)
	sess.mu.Unlock()
	return t
}
