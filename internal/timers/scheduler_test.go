package timers

import (
	"log/slog"
	"testing"
	"time"
)

func testScheduler() (*Scheduler, *FakeClock) {
	clock := NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewScheduler(clock, slog.Default()), clock
}

func TestRideExpirationFiresAtDeadline(t *testing.T) {
	s, clock := testScheduler()
	fired := 0
	s.ScheduleRideExpiration(1, 10*time.Minute, func() { fired++ })

	clock.Advance(9 * time.Minute)
	if fired != 0 {
		t.Fatalf("fired early")
	}
	clock.Advance(time.Minute)
	if fired != 1 {
		t.Fatalf("expected 1 fire, got %d", fired)
	}
	if wait, _, _, _ := s.PendingCounts(); wait != 0 {
		t.Fatalf("fired timer still tracked: %d", wait)
	}
}

func TestRideExpirationOverdueFiresImmediately(t *testing.T) {
	s, _ := testScheduler()
	fired := 0
	s.ScheduleRideExpiration(1, -time.Minute, func() { fired++ })
	if fired != 1 {
		t.Fatalf("overdue timer did not fire, got %d", fired)
	}
}

func TestCancelledExpirationNeverFires(t *testing.T) {
	s, clock := testScheduler()
	fired := 0
	s.ScheduleRideExpiration(1, 10*time.Minute, func() { fired++ })
	s.CancelRideExpiration(1)
	clock.Advance(time.Hour)
	if fired != 0 {
		t.Fatalf("cancelled timer fired")
	}
}

func TestReschedulingReplacesOldTimer(t *testing.T) {
	s, clock := testScheduler()
	firstFired, secondFired := 0, 0
	s.ScheduleRideExpiration(1, 5*time.Minute, func() { firstFired++ })
	s.ScheduleRideExpiration(1, 20*time.Minute, func() { secondFired++ })

	clock.Advance(10 * time.Minute)
	if firstFired != 0 {
		t.Fatalf("replaced timer fired")
	}
	clock.Advance(10 * time.Minute)
	if secondFired != 1 {
		t.Fatalf("replacement did not fire, got %d", secondFired)
	}
}

func TestKeepaliveRecursUntilTickStops(t *testing.T) {
	s, clock := testScheduler()
	ticks := 0
	s.ScheduleKeepalive(1, 6*time.Minute, func() bool {
		ticks++
		return ticks < 3
	})

	clock.Advance(60 * time.Minute)
	if ticks != 3 {
		t.Fatalf("expected 3 ticks, got %d", ticks)
	}
	if _, keepalive, _, _ := s.PendingCounts(); keepalive != 0 {
		t.Fatalf("self-cancelled keepalive still tracked: %d", keepalive)
	}
}

func TestKeepaliveCancelStopsRecurrence(t *testing.T) {
	s, clock := testScheduler()
	ticks := 0
	s.ScheduleKeepalive(1, 6*time.Minute, func() bool { ticks++; return true })

	clock.Advance(7 * time.Minute)
	s.CancelKeepalive(1)
	clock.Advance(time.Hour)
	if ticks != 1 {
		t.Fatalf("expected 1 tick before cancel, got %d", ticks)
	}
}

func TestConversationTimerKeyedBySender(t *testing.T) {
	s, clock := testScheduler()
	var fired []string
	s.ScheduleConversation("a@s.whatsapp.net", 150*time.Second, func() { fired = append(fired, "a") })
	s.ScheduleConversation("b@s.whatsapp.net", 300*time.Second, func() { fired = append(fired, "b") })
	s.CancelConversation("b@s.whatsapp.net")

	clock.Advance(10 * time.Minute)
	if len(fired) != 1 || fired[0] != "a" {
		t.Fatalf("expected only a to fire, got %v", fired)
	}
}
