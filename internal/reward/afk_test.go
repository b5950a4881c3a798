package reward

import (
	"testing"
	"time"
)

func newTestAFK(timeout time.Duration) (*AFKTracker, *time.Time) {
	now := time.Date(2026, 9, 7, 12, 0, 0, 0, time.UTC)
	tr := NewAFKTracker(timeout)
	tr.nowFn = func() time.Time { return now }
	return tr, &now
}

func TestAFKUnknownPlayerNotAFK(t *testing.T) {
	tr, _ := newTestAFK(10 * time.Minute)
	if tr.IsAFK(1) {
		t.Fatal("unknown player should not be AFK")
	}
}

func TestAFKIdlePastTimeout(t *testing.T) {
	tr, now := newTestAFK(10 * time.Minute)
	tr.Sample(1, Position{X: 100, Y: 100})

	*now = now.Add(5 * time.Minute)
	if tr.IsAFK(1) {
		t.Fatal("5 minutes idle should not be AFK")
	}

	*now = now.Add(6 * time.Minute)
	if !tr.IsAFK(1) {
		t.Fatal("11 minutes idle should be AFK")
	}
}

func TestAFKSampleResetOnlyOnPositionChange(t *testing.T) {
	tr, now := newTestAFK(10 * time.Minute)
	tr.Sample(1, Position{X: 100, Y: 100})

	// Same position repeatedly: idle clock keeps running.
	for i := 0; i < 11; i++ {
		*now = now.Add(time.Minute)
		tr.Sample(1, Position{X: 100, Y: 100})
	}
	if !tr.IsAFK(1) {
		t.Fatal("stationary player should be AFK after timeout")
	}

	// A moved position counts as activity.
	tr.Sample(1, Position{X: 101, Y: 100})
	if tr.IsAFK(1) {
		t.Fatal("moved player should not be AFK")
	}
}

func TestAFKActivityResetsUnconditionally(t *testing.T) {
	tr, now := newTestAFK(10 * time.Minute)
	tr.Sample(1, Position{X: 100, Y: 100})
	*now = now.Add(11 * time.Minute)
	if !tr.IsAFK(1) {
		t.Fatal("should be AFK before activity")
	}
	// Same position, but a deliberate action resets the clock.
	tr.Activity(1, Position{X: 100, Y: 100})
	if tr.IsAFK(1) {
		t.Fatal("activity should clear AFK even without moving")
	}
}

func TestAFKForced(t *testing.T) {
	tr, _ := newTestAFK(10 * time.Minute)
	tr.Sample(1, Position{X: 100, Y: 100})
	tr.ForceAFK(1, true)
	if !tr.IsAFK(1) {
		t.Fatal("forced flag should mark AFK immediately")
	}
	tr.ForceAFK(1, false)
	if tr.IsAFK(1) {
		t.Fatal("clearing forced flag should mark active")
	}
}

func TestAFKRemove(t *testing.T) {
	tr, now := newTestAFK(10 * time.Minute)
	tr.Sample(1, Position{X: 100, Y: 100})
	*now = now.Add(time.Hour)
	tr.Remove(1)
	if tr.IsAFK(1) {
		t.Fatal("removed player should read as not AFK")
	}
}
