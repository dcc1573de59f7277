package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/moto-dispatch/internal/i18n"
	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/observability"
	"github.com/example/moto-dispatch/internal/storage"
)

// armInactivity schedules the warning for a session that has not been
// warned yet, or the final timeout for one that has. Timer deadlines are
// always computed from the persisted LastActivityAt, never from wall-clock
// offsets held only in memory.
func (m *Manager) armInactivity(cs *models.ConversationState) {
	jid := cs.UserJID
	if cs.WarningSent {
		due := cs.LastActivityAt.Add(m.timing.InactivityTimeout)
		m.scheduler.ScheduleConversation(jid, due.Sub(m.scheduler.Now()), func() {
			m.timeoutSession(jid)
		})
		return
	}
	due := cs.LastActivityAt.Add(m.timing.InactivityWarning)
	m.scheduler.ScheduleConversation(jid, due.Sub(m.scheduler.Now()), func() {
		m.warnSession(jid)
	})
}

// warnSession fires the "still there?" notice and chains the final timeout.
func (m *Manager) warnSession(jid string) {
	ctx := context.Background()
	cs, err := m.store.GetConversation(ctx, jid)
	if err != nil {
		m.logger.Error("inactivity warning lookup failed", "user_jid", jid, "error", err)
		return
	}
	if !cs.IsActive || cs.State == models.StateAwaitingDriverAcceptance {
		return
	}
	cs.WarningSent = true
	if err := m.store.UpsertConversation(ctx, cs); err != nil {
		m.logger.Error("inactivity warning persist failed", "user_jid", jid, "error", err)
		return
	}
	m.send(ctx, jid, i18n.For(cs.Language).InactivityWarning)
	m.armInactivity(cs)
}

// timeoutSession closes an idle session and cancels its half-built ride.
func (m *Manager) timeoutSession(jid string) {
	ctx := context.Background()
	cs, err := m.store.GetConversation(ctx, jid)
	if err != nil {
		m.logger.Error("inactivity timeout lookup failed", "user_jid", jid, "error", err)
		return
	}
	if !cs.IsActive || cs.State == models.StateAwaitingDriverAcceptance {
		return
	}
	if err := m.abandon(ctx, cs, "inactivity_timeout", i18n.For(cs.Language).InactivityTimeout); err != nil {
		m.logger.Error("inactivity timeout close failed", "user_jid", jid, "error", err)
	}
	m.logger.Info("session timed out", "user_jid", jid, "state", cs.State)
}

// EndSession marks the sender's session inactive and drops its timer. Safe
// to call for senders with no session.
func (m *Manager) EndSession(ctx context.Context, userJID, reason string) {
	m.scheduler.CancelConversation(userJID)
	cs, err := m.store.GetConversation(ctx, userJID)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		m.logger.Error("end session lookup failed", "user_jid", userJID, "error", err)
		return
	}
	if !cs.IsActive {
		return
	}
	cs.IsActive = false
	cs.CompletionReason = reason
	if err := m.store.UpsertConversation(ctx, cs); err != nil {
		m.logger.Error("end session persist failed", "user_jid", userJID, "error", err)
		return
	}
	observability.ActiveConversations.Dec()
	m.logger.Info("session ended", "user_jid", userJID, "reason", reason)
}

// EndSessionForRide closes the session that carries the given ride,
// whichever sender identifier it was opened under. The fallback covers a
// passenger whose session no longer references the ride.
func (m *Manager) EndSessionForRide(ctx context.Context, rideID int64, fallbackJID, reason string) {
	cs, err := m.store.FindActiveConversationByRideID(ctx, rideID)
	if err == nil {
		m.EndSession(ctx, cs.UserJID, reason)
		return
	}
	if !errors.Is(err, storage.ErrNotFound) {
		m.logger.Error("session lookup by ride failed", "ride_id", rideID, "error", err)
	}
	m.EndSession(ctx, fallbackJID, reason)
}

// BeginRetryDecision moves the passenger into the retry menu after their
// wait time ran out with no acceptance.
func (m *Manager) BeginRetryDecision(ctx context.Context, user *models.User, r *models.Ride) error {
	return m.beginDecision(ctx, user, r, models.StateAwaitingRetryDecision, i18n.For(r.Language).RideExpired)
}

// BeginDriverCancelDecision moves the passenger into the re-broadcast menu
// after the accepting driver backed out.
func (m *Manager) BeginDriverCancelDecision(ctx context.Context, user *models.User, r *models.Ride) error {
	return m.beginDecision(ctx, user, r, models.StateAwaitingDriverCancelChoice, i18n.For(r.Language).DriverCancelled)
}

func (m *Manager) beginDecision(ctx context.Context, user *models.User, r *models.Ride, state, prompt string) error {
	rideID := r.ID
	// the session waiting on this ride keeps its key, the identifier the
	// passenger messaged from
	cs, err := m.store.FindActiveConversationByRideID(ctx, rideID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err != nil {
		jid := user.ChatAddress()
		cs, err = m.store.GetConversation(ctx, jid)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if err != nil || !cs.IsActive {
			cs = &models.ConversationState{UserJID: jid, IsActive: true}
			observability.ActiveConversations.Inc()
		}
	}
	cs.State = state
	cs.Language = r.Language
	cs.VehicleType = r.VehicleType
	cs.Name = user.Name
	cs.Phone = user.Phone
	cs.RideID = &rideID
	cs.TestMode = r.TestMode
	cs.WarningSent = false
	cs.LastActivityAt = m.scheduler.Now()
	if err := m.store.UpsertConversation(ctx, cs); err != nil {
		return fmt.Errorf("open decision session for %s: %w", cs.UserJID, err)
	}
	m.armInactivity(cs)
	m.send(ctx, cs.UserJID, prompt)
	return nil
}

// ResumeConversation re-arms the inactivity chain for one persisted session
// after a restart. Sessions waiting on a driver carry no timer, and the CPF
// branch has none either; overdue warnings or timeouts fire immediately
// through the scheduler's catch-up behavior.
func (m *Manager) ResumeConversation(ctx context.Context, cs models.ConversationState) error {
	observability.ActiveConversations.Inc()
	if cs.State == models.StateAwaitingDriverAcceptance || cs.State == models.StateAwaitingCPFConfirmation {
		return nil
	}
	session := cs
	m.armInactivity(&session)
	return nil
}
