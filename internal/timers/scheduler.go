package timers

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler owns every in-flight timer handle, keyed by ride id or passenger
// identifier. Cancelling removes the handle from its map so a later restore
// pass never double-schedules; firing does the same before running the
// callback.
type Scheduler struct {
	mu     sync.Mutex
	clock  Clock
	logger *slog.Logger

	waitTimers      map[int64]Timer  // ride id -> wait-time expiration
	keepaliveTimers map[int64]Timer  // ride id -> recurring keepalive
	ratingTimers    map[int64]Timer  // ride id -> delayed rating prompt
	convTimers      map[string]Timer // user jid -> inactivity warning/timeout
}

func NewScheduler(clock Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		clock:           clock,
		logger:          logger,
		waitTimers:      make(map[int64]Timer),
		keepaliveTimers: make(map[int64]Timer),
		ratingTimers:    make(map[int64]Timer),
		convTimers:      make(map[string]Timer),
	}
}

// Now exposes the injected clock.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// ScheduleRideExpiration arms the wait-time timer for a pending ride,
// replacing any previous one. A non-positive delay fires immediately.
func (s *Scheduler) ScheduleRideExpiration(rideID int64, delay time.Duration, fn func()) {
	if delay <= 0 {
		s.CancelRideExpiration(rideID)
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.waitTimers[rideID]; ok {
		old.Stop()
	}
	s.waitTimers[rideID] = s.clock.AfterFunc(delay, func() {
		s.drop(&s.waitTimers, rideID)
		fn()
	})
}

func (s *Scheduler) CancelRideExpiration(rideID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.waitTimers[rideID]; ok {
		t.Stop()
		delete(s.waitTimers, rideID)
	}
}

// ScheduleKeepalive arms a recurring tick for a pending ride. The tick
// callback reports whether to keep going; returning false self-cancels.
func (s *Scheduler) ScheduleKeepalive(rideID int64, interval time.Duration, tick func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.keepaliveTimers[rideID]; ok {
		old.Stop()
	}
	s.armKeepaliveLocked(rideID, interval, tick)
}

// armKeepaliveLocked assumes s.mu is held.
func (s *Scheduler) armKeepaliveLocked(rideID int64, interval time.Duration, tick func() bool) {
	s.keepaliveTimers[rideID] = s.clock.AfterFunc(interval, func() {
		s.drop(&s.keepaliveTimers, rideID)
		if !tick() {
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		// only re-arm if nothing cancelled the keepalive while ticking
		if _, exists := s.keepaliveTimers[rideID]; !exists {
			s.armKeepaliveLocked(rideID, interval, tick)
		}
	})
}

func (s *Scheduler) CancelKeepalive(rideID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.keepaliveTimers[rideID]; ok {
		t.Stop()
		delete(s.keepaliveTimers, rideID)
	}
}

// ScheduleRatingPrompt arms the delayed rating prompt for a completed ride.
func (s *Scheduler) ScheduleRatingPrompt(rideID int64, delay time.Duration, fn func()) {
	if delay <= 0 {
		s.CancelRatingPrompt(rideID)
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.ratingTimers[rideID]; ok {
		old.Stop()
	}
	s.ratingTimers[rideID] = s.clock.AfterFunc(delay, func() {
		s.drop(&s.ratingTimers, rideID)
		fn()
	})
}

func (s *Scheduler) CancelRatingPrompt(rideID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.ratingTimers[rideID]; ok {
		t.Stop()
		delete(s.ratingTimers, rideID)
	}
}

// ScheduleConversation arms the inactivity timer for a passenger session,
// replacing any previous one.
func (s *Scheduler) ScheduleConversation(userJID string, delay time.Duration, fn func()) {
	if delay <= 0 {
		s.CancelConversation(userJID)
		fn()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.convTimers[userJID]; ok {
		old.Stop()
	}
	s.convTimers[userJID] = s.clock.AfterFunc(delay, func() {
		s.dropConv(userJID)
		fn()
	})
}

func (s *Scheduler) CancelConversation(userJID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.convTimers[userJID]; ok {
		t.Stop()
		delete(s.convTimers, userJID)
	}
}

func (s *Scheduler) drop(m *map[int64]Timer, id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(*m, id)
}

func (s *Scheduler) dropConv(jid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convTimers, jid)
}

// PendingCounts reports how many timers of each kind are armed. Used by
// tests and the restore pass log line.
func (s *Scheduler) PendingCounts() (wait, keepalive, rating, conv int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waitTimers), len(s.keepaliveTimers), len(s.ratingTimers), len(s.convTimers)
}
