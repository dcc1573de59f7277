package ride

import (
	"context"
	"fmt"
	"time"

	"github.com/example/moto-dispatch/internal/i18n"
	"github.com/example/moto-dispatch/internal/models"
)

// ResumePendingRide re-arms the wait-time and keepalive timers for a ride
// that was pending when the process stopped. A ride whose wait time was
// never confirmed has not been broadcast yet; its session row drives what
// happens to it, so no ride timers are armed.
func (m *Manager) ResumePendingRide(ctx context.Context, r models.Ride) error {
	if r.WaitTimeMinutes == 0 {
		return nil
	}
	user, err := m.store.GetUserByID(ctx, r.UserID)
	if err != nil {
		return fmt.Errorf("pending ride %d passenger: %w", r.ID, err)
	}
	ride := r
	m.armPendingTimers(&ride, user)
	return nil
}

// ResumeRatingPrompt re-arms the delayed rating prompt for a completed ride
// that never got one. An overdue prompt fires immediately, once.
func (m *Manager) ResumeRatingPrompt(ctx context.Context, r models.Ride) error {
	if r.CompletedAt == nil {
		return nil
	}
	due := r.CompletedAt.Add(m.timing.RatingPromptDelay)
	m.scheduleRatingPrompt(r.ID, due.Sub(m.scheduler.Now()))
	return nil
}

func (m *Manager) scheduleRatingPrompt(rideID int64, delay time.Duration) {
	m.scheduler.ScheduleRatingPrompt(rideID, delay, func() {
		m.sendRatingPrompts(rideID)
	})
}

// sendRatingPrompts asks both parties of a completed ride to rate each
// other and stamps the sent flags plus the 24h answer deadline, making the
// prompt idempotent across restarts.
func (m *Manager) sendRatingPrompts(rideID int64) {
	ctx := context.Background()
	ride, err := m.store.GetRide(ctx, rideID)
	if err != nil {
		m.logger.Error("rating prompt ride lookup failed", "ride_id", rideID, "error", err)
		return
	}
	if ride.Status != models.RideCompleted {
		return
	}
	a, err := m.store.GetAssignmentByRideID(ctx, rideID)
	if err != nil {
		m.logger.Error("rating prompt assignment lookup failed", "ride_id", rideID, "error", err)
		return
	}

	if !ride.PassengerRatingRequestSent {
		if user, err := m.store.GetUserByID(ctx, ride.UserID); err == nil {
			m.send(ctx, user.ChatAddress(), i18n.RatingPrompt(ride.Language, rideID))
			ride.PassengerRatingRequestSent = true
		} else {
			m.logger.Error("rating prompt passenger lookup failed", "ride_id", rideID, "error", err)
		}
	}
	if !ride.DriverRatingRequestSent {
		if driver, err := m.store.GetDriverByID(ctx, a.DriverID); err == nil {
			m.send(ctx, driver.ChatAddress(), i18n.RatingPrompt(ride.Language, rideID))
			ride.DriverRatingRequestSent = true
		} else {
			m.logger.Error("rating prompt driver lookup failed", "ride_id", rideID, "error", err)
		}
	}

	now := m.scheduler.Now()
	deadline := now.Add(m.timing.RatingDeadline)
	ride.RatingRequestSentAt = &now
	ride.RatingDeadlineAt = &deadline
	if err := m.store.UpdateRide(ctx, ride); err != nil {
		m.logger.Error("rating prompt stamp failed", "ride_id", rideID, "error", err)
	}
}
