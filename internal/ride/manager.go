// Package ride owns the ride lifecycle: broadcast to eligible drivers,
// first-writer-wins acceptance, cancellation by either side, wait-time
// expiration, retry, and the delayed rating prompts.
package ride

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/moto-dispatch/internal/events"
	"github.com/example/moto-dispatch/internal/i18n"
	"github.com/example/moto-dispatch/internal/identity"
	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/observability"
	"github.com/example/moto-dispatch/internal/storage"
	"github.com/example/moto-dispatch/internal/timers"
	"github.com/example/moto-dispatch/internal/transport"
)

// Sessions is the slice of the conversation layer the lifecycle needs:
// moving a passenger into a decision sub-state, or closing their session.
// Sessions are keyed by the identifier the passenger messaged from, which
// may differ from the user record's preferred address, so closing one goes
// through the ride id rather than the user record.
type Sessions interface {
	BeginRetryDecision(ctx context.Context, user *models.User, ride *models.Ride) error
	BeginDriverCancelDecision(ctx context.Context, user *models.User, ride *models.Ride) error
	EndSessionForRide(ctx context.Context, rideID int64, fallbackJID, reason string)
}

// Timing collects the constants the lifecycle derives timer delays from.
type Timing struct {
	KeepaliveInterval time.Duration
	RatingPromptDelay time.Duration
	RatingDeadline    time.Duration
}

// Manager drives ride state transitions. All mutations go through the store;
// timers are re-derivable from the persisted timestamps.
type Manager struct {
	store     storage.Store
	messenger transport.Messenger
	scheduler *timers.Scheduler
	publisher events.Publisher
	logger    *slog.Logger
	timing    Timing

	testDriverJID  string
	cpfMaxAttempts int

	sessions Sessions
}

func NewManager(store storage.Store, messenger transport.Messenger, scheduler *timers.Scheduler,
	publisher events.Publisher, timing Timing, testDriverJID string, cpfMaxAttempts int,
	logger *slog.Logger) *Manager {
	return &Manager{
		store:          store,
		messenger:      messenger,
		scheduler:      scheduler,
		publisher:      publisher,
		logger:         logger,
		timing:         timing,
		testDriverJID:  testDriverJID,
		cpfMaxAttempts: cpfMaxAttempts,
		sessions:       nil,
	}
}

// SetSessions wires the conversation layer in after construction; the two
// managers reference each other.
func (m *Manager) SetSessions(s Sessions) { m.sessions = s }

// send is the best-effort outbound path: failures are logged, never returned.
func (m *Manager) send(ctx context.Context, to, text string) {
	observability.MessagesOutbound.Inc()
	if err := m.messenger.SendText(ctx, to, text); err != nil {
		observability.SendFailures.Inc()
		m.logger.Error("send failed", "to", to, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, ev models.RideEvent) {
	if err := m.publisher.Publish(ctx, ev); err != nil {
		m.logger.Warn("event publish failed", "type", ev.Type, "ride_id", ev.RideID, "error", err)
	}
}

// Broadcast sends the request to every active driver eligible for the
// ride's vehicle type and arms the wait-time and keepalive timers. In test
// mode the pool narrows to the designated test driver.
func (m *Manager) Broadcast(ctx context.Context, ride *models.Ride, user *models.User) error {
	drivers, err := m.store.ListActiveDrivers(ctx, ride.VehicleType)
	if err != nil {
		return fmt.Errorf("list drivers: %w", err)
	}
	if ride.TestMode && m.testDriverJID != "" {
		var narrowed []models.Driver
		for _, d := range drivers {
			if d.JID == m.testDriverJID || d.LID == m.testDriverJID {
				narrowed = append(narrowed, d)
			}
		}
		drivers = narrowed
	}

	text := i18n.DriverBroadcast(ride, user.Name)
	for _, d := range drivers {
		m.send(ctx, d.ChatAddress(), text)
		if ride.LocationPin != nil {
			if err := m.messenger.SendLocation(ctx, d.ChatAddress(), *ride.LocationPin); err != nil {
				m.logger.Error("send location failed", "to", d.ChatAddress(), "error", err)
			}
		}
	}
	observability.BroadcastsTotal.Inc()
	m.logger.Info("ride broadcast", "ride_id", ride.ID, "vehicle_type", ride.VehicleType,
		"drivers", len(drivers), "test_mode", ride.TestMode)

	m.armPendingTimers(ride, user)
	m.publish(ctx, models.RideEvent{Type: "broadcast", RideID: ride.ID, VehicleType: ride.VehicleType, At: m.scheduler.Now()})
	return nil
}

// armPendingTimers schedules the wait-time expiration at the ride's
// persisted deadline plus the recurring keepalive.
func (m *Manager) armPendingTimers(ride *models.Ride, user *models.User) {
	rideID := ride.ID
	userAddr := user.ChatAddress()
	lang := ride.Language

	m.scheduler.ScheduleRideExpiration(rideID, ride.WaitDeadline().Sub(m.scheduler.Now()), func() {
		m.expire(rideID)
	})
	m.scheduler.ScheduleKeepalive(rideID, m.timing.KeepaliveInterval, func() bool {
		return m.keepaliveTick(rideID, userAddr, lang)
	})
}

// keepaliveTick re-verifies the ride from the store before every notice and
// self-cancels once the ride has left pending.
func (m *Manager) keepaliveTick(rideID int64, userAddr string, lang models.Language) bool {
	ctx := context.Background()
	ride, err := m.store.GetRide(ctx, rideID)
	if err != nil {
		m.logger.Error("keepalive ride lookup failed", "ride_id", rideID, "error", err)
		return false
	}
	if ride.Status != models.RidePending {
		return false
	}
	m.send(ctx, userAddr, i18n.For(lang).Keepalive)
	return true
}

// Accept is the driver acceptance protocol. First writer wins: the store's
// conditional update decides the race, and losers get the already-accepted
// reply with no state mutated.
func (m *Manager) Accept(ctx context.Context, driver *models.Driver, rideID int64) error {
	ride, err := m.store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		m.send(ctx, driver.ChatAddress(), i18n.For(models.LangPortuguese).RideNotFound)
		return nil
	}
	if err != nil {
		return err
	}

	switch ride.Status {
	case models.RidePending:
		// fall through to the conditional accept
	case models.RideCompleted:
		m.send(ctx, driver.ChatAddress(), i18n.For(ride.Language).RideAlreadyTaken)
		return nil
	default:
		m.send(ctx, driver.ChatAddress(), i18n.For(ride.Language).RideNotPending)
		return nil
	}
	if !driver.EligibleFor(ride.VehicleType) && !identity.IsSameDriver(m.testDriverJID, driver) {
		m.send(ctx, driver.ChatAddress(), i18n.For(ride.Language).RideNotPending)
		return nil
	}

	now := m.scheduler.Now()
	_, err = m.store.AcceptRide(ctx, rideID, driver.ID, now)
	if errors.Is(err, storage.ErrRideTaken) {
		observability.AcceptConflicts.Inc()
		m.send(ctx, driver.ChatAddress(), i18n.For(ride.Language).RideAlreadyTaken)
		return nil
	}
	if err != nil {
		return fmt.Errorf("accept ride %d: %w", rideID, err)
	}

	// the transition out of pending makes these timers moot
	m.scheduler.CancelRideExpiration(rideID)
	m.scheduler.CancelKeepalive(rideID)
	observability.RidesAccepted.Inc()

	user, err := m.store.GetUserByID(ctx, ride.UserID)
	if err != nil {
		m.logger.Error("accepted ride has no passenger", "ride_id", rideID, "error", err)
		return nil
	}

	m.send(ctx, user.ChatAddress(),
		i18n.DriverAccepted(ride.Language, driver, i18n.Reputation(ride.Language, driver.Reputation)))
	m.send(ctx, driver.ChatAddress(),
		i18n.PassengerDetails(ride, user.Name, user.Phone, i18n.Reputation(ride.Language, user.Reputation)))

	m.sessions.EndSessionForRide(ctx, rideID, user.ChatAddress(), "driver_accepted")
	m.scheduleRatingPrompt(rideID, m.timing.RatingPromptDelay)
	m.publish(ctx, models.RideEvent{Type: "accepted", RideID: rideID, VehicleType: ride.VehicleType,
		DriverID: driver.ID, At: now})
	m.logger.Info("ride accepted", "ride_id", rideID, "driver_id", driver.ID)
	return nil
}

// CancelByUser marks a non-terminal ride cancelled and tells the assigned
// driver, if any.
func (m *Manager) CancelByUser(ctx context.Context, user *models.User, rideID int64) error {
	ride, err := m.store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		m.send(ctx, user.ChatAddress(), i18n.For(models.LangPortuguese).RideNotFound)
		return nil
	}
	if err != nil {
		return err
	}
	msgs := i18n.For(ride.Language)
	if ride.UserID != user.ID {
		m.send(ctx, user.ChatAddress(), msgs.RideNotYours)
		return nil
	}
	if ride.Status == models.RideCancelled || ride.Status == models.RideExpired {
		m.send(ctx, user.ChatAddress(), msgs.RideNotPending)
		return nil
	}

	now := m.scheduler.Now()
	by := models.CancelledByUser
	ride.Status = models.RideCancelled
	ride.CancelledAt = &now
	ride.CancelledBy = &by
	if err := m.store.UpdateRide(ctx, ride); err != nil {
		return fmt.Errorf("cancel ride %d: %w", rideID, err)
	}
	m.clearAllTimers(rideID)
	observability.RidesCancelled.WithLabelValues(string(by)).Inc()

	if a, err := m.store.GetAssignmentByRideID(ctx, rideID); err == nil {
		if d, err := m.store.GetDriverByID(ctx, a.DriverID); err == nil {
			m.send(ctx, d.ChatAddress(), fmt.Sprintf("Corrida #%d cancelada pelo passageiro.", rideID))
		}
	}

	m.send(ctx, user.ChatAddress(), msgs.RideCancelledUser)
	m.sessions.EndSessionForRide(ctx, rideID, user.ChatAddress(), "user_cancelled")
	m.publish(ctx, models.RideEvent{Type: "cancelled", RideID: rideID, VehicleType: ride.VehicleType, At: now})
	return nil
}

// CancelByDriver deletes the assignment, reverts the ride to pending, and
// asks the passenger whether to re-broadcast or give up. The ride is
// recycled, never deleted.
func (m *Manager) CancelByDriver(ctx context.Context, driver *models.Driver, rideID int64) error {
	ride, err := m.store.GetRide(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) {
		m.send(ctx, driver.ChatAddress(), i18n.For(models.LangPortuguese).RideNotFound)
		return nil
	}
	if err != nil {
		return err
	}
	msgs := i18n.For(ride.Language)

	a, err := m.store.GetAssignmentByRideID(ctx, rideID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && a.DriverID != driver.ID) {
		m.send(ctx, driver.ChatAddress(), msgs.RideNotYours)
		return nil
	}
	if err != nil {
		return err
	}

	if err := m.store.DeleteAssignmentByRideID(ctx, rideID); err != nil {
		return fmt.Errorf("delete assignment for ride %d: %w", rideID, err)
	}
	ride.Status = models.RidePending
	ride.CompletedAt = nil
	if err := m.store.UpdateRide(ctx, ride); err != nil {
		return fmt.Errorf("revert ride %d: %w", rideID, err)
	}
	m.scheduler.CancelRatingPrompt(rideID)
	observability.RidesCancelled.WithLabelValues(string(models.CancelledByDriver)).Inc()

	user, err := m.store.GetUserByID(ctx, ride.UserID)
	if err != nil {
		m.logger.Error("reverted ride has no passenger", "ride_id", rideID, "error", err)
		return nil
	}
	if err := m.sessions.BeginDriverCancelDecision(ctx, user, ride); err != nil {
		m.logger.Error("driver-cancel decision prompt failed", "ride_id", rideID, "error", err)
	}
	m.publish(ctx, models.RideEvent{Type: "cancelled", RideID: rideID, VehicleType: ride.VehicleType,
		DriverID: driver.ID, At: m.scheduler.Now()})
	m.logger.Info("ride reverted to pending", "ride_id", rideID, "driver_id", driver.ID)
	return nil
}

// CancelOutright is the passenger declining a retry or a re-broadcast.
func (m *Manager) CancelOutright(ctx context.Context, user *models.User, ride *models.Ride) error {
	now := m.scheduler.Now()
	by := models.CancelledByUser
	ride.Status = models.RideCancelled
	ride.CancelledAt = &now
	ride.CancelledBy = &by
	if err := m.store.UpdateRide(ctx, ride); err != nil {
		return fmt.Errorf("cancel ride %d: %w", ride.ID, err)
	}
	m.clearAllTimers(ride.ID)
	observability.RidesCancelled.WithLabelValues(string(by)).Inc()
	m.send(ctx, user.ChatAddress(), i18n.For(ride.Language).RideCancelledUser)
	m.publish(ctx, models.RideEvent{Type: "cancelled", RideID: ride.ID, VehicleType: ride.VehicleType, At: now})
	return nil
}

// Rebroadcast re-runs the driver broadcast for the same ride id with a
// fresh wait window; optionally bumping the retry counter and wait time.
func (m *Manager) Rebroadcast(ctx context.Context, user *models.User, ride *models.Ride, newWaitMinutes int, countRetry bool) error {
	ride.Status = models.RidePending
	ride.CreatedAt = m.scheduler.Now() // wait deadline derives from here
	ride.ExpiredAt = nil
	if newWaitMinutes > 0 {
		ride.WaitTimeMinutes = newWaitMinutes
	}
	if countRetry {
		ride.RetryAttempts++
	}
	if err := m.store.UpdateRide(ctx, ride); err != nil {
		return fmt.Errorf("rebroadcast ride %d: %w", ride.ID, err)
	}
	m.send(ctx, user.ChatAddress(), i18n.For(ride.Language).Searching)
	if countRetry {
		m.publish(ctx, models.RideEvent{Type: "retried", RideID: ride.ID, VehicleType: ride.VehicleType, At: ride.CreatedAt})
	}
	return m.Broadcast(ctx, ride, user)
}

// expire is the wait-time timer callback. It re-reads the ride and only
// acts if it is still pending, so a timer that lost a cancellation race is
// a no-op.
func (m *Manager) expire(rideID int64) {
	ctx := context.Background()
	ride, err := m.store.GetRide(ctx, rideID)
	if err != nil {
		m.logger.Error("expire ride lookup failed", "ride_id", rideID, "error", err)
		return
	}
	if ride.Status != models.RidePending {
		return
	}
	now := m.scheduler.Now()
	ride.Status = models.RideExpired
	ride.ExpiredAt = &now
	if err := m.store.UpdateRide(ctx, ride); err != nil {
		m.logger.Error("expire ride update failed", "ride_id", rideID, "error", err)
		return
	}
	m.scheduler.CancelKeepalive(rideID)
	observability.RidesExpired.Inc()
	m.publish(ctx, models.RideEvent{Type: "expired", RideID: rideID, VehicleType: ride.VehicleType, At: now})

	user, err := m.store.GetUserByID(ctx, ride.UserID)
	if err != nil {
		m.logger.Error("expired ride has no passenger", "ride_id", rideID, "error", err)
		return
	}
	if err := m.sessions.BeginRetryDecision(ctx, user, ride); err != nil {
		m.logger.Error("retry decision prompt failed", "ride_id", rideID, "error", err)
	}
	m.logger.Info("ride expired", "ride_id", rideID, "retry_attempts", ride.RetryAttempts)
}

// History sends the sender's last five rides.
func (m *Manager) History(ctx context.Context, user *models.User, lang models.Language) error {
	rides, err := m.store.ListRecentRidesByUser(ctx, user.ID, 5)
	if err != nil {
		return err
	}
	msgs := i18n.For(lang)
	if len(rides) == 0 {
		m.send(ctx, user.ChatAddress(), msgs.HistoryEmpty)
		return nil
	}
	text := msgs.HistoryHeader
	for _, r := range rides {
		text += "\n" + i18n.HistoryLine(lang, &r)
	}
	m.send(ctx, user.ChatAddress(), text)
	return nil
}

func (m *Manager) clearAllTimers(rideID int64) {
	m.scheduler.CancelRideExpiration(rideID)
	m.scheduler.CancelKeepalive(rideID)
	m.scheduler.CancelRatingPrompt(rideID)
}
