// Package conversation runs the passenger-facing request flow: one durable
// session per passenger, advanced one inbound message at a time. Every
// transition is persisted before the next prompt goes out, so a restart
// resumes mid-flow sessions exactly where they stopped.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/moto-dispatch/internal/i18n"
	"github.com/example/moto-dispatch/internal/identity"
	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/observability"
	"github.com/example/moto-dispatch/internal/ride"
	"github.com/example/moto-dispatch/internal/storage"
	"github.com/example/moto-dispatch/internal/timers"
	"github.com/example/moto-dispatch/internal/transport"
)

var phoneRe = regexp.MustCompile(`^\+[0-9]{8,15}$`)

// Timing collects the inactivity constants and the wait-time floor.
type Timing struct {
	InactivityWarning time.Duration
	InactivityTimeout time.Duration
	MinWaitMinutes    int
}

// Manager is the passenger session state machine.
type Manager struct {
	store     storage.Store
	messenger transport.Messenger
	scheduler *timers.Scheduler
	rides     *ride.Manager
	logger    *slog.Logger
	timing    Timing
}

func NewManager(store storage.Store, messenger transport.Messenger, scheduler *timers.Scheduler,
	rides *ride.Manager, timing Timing, logger *slog.Logger) *Manager {
	return &Manager{
		store:     store,
		messenger: messenger,
		scheduler: scheduler,
		rides:     rides,
		timing:    timing,
		logger:    logger,
	}
}

func (m *Manager) send(ctx context.Context, to, text string) {
	observability.MessagesOutbound.Inc()
	if err := m.messenger.SendText(ctx, to, text); err != nil {
		observability.SendFailures.Inc()
		m.logger.Error("send failed", "to", to, "error", err)
	}
}

// Start opens a fresh session for a request trigger word. Any previous
// session for the sender is replaced. The passenger record is created on
// the spot when the sender is unknown.
func (m *Manager) Start(ctx context.Context, sender string, user *models.User, testMode bool) error {
	if user == nil {
		fields := identity.PrepareIdentifierFields(sender)
		user = &models.User{
			ID:        uuid.NewString(),
			JID:       fields.JID,
			LID:       fields.LID,
			CreatedAt: m.scheduler.Now(),
		}
		if user.JID == "" && user.LID == "" {
			user.JID = sender
		}
		if err := m.store.CreateUser(ctx, user); err != nil {
			return fmt.Errorf("create passenger for %s: %w", sender, err)
		}
		m.logger.Info("passenger registered", "user_id", user.ID, "sender", sender)
	}

	cs := &models.ConversationState{
		UserJID:        sender,
		State:          models.StateAwaitingLanguage,
		TestMode:       testMode,
		LastActivityAt: m.scheduler.Now(),
		IsActive:       true,
	}
	prev, prevErr := m.store.GetConversation(ctx, sender)
	if err := m.store.UpsertConversation(ctx, cs); err != nil {
		return fmt.Errorf("open session for %s: %w", sender, err)
	}
	if prevErr != nil || !prev.IsActive {
		observability.ActiveConversations.Inc()
	}
	m.armInactivity(cs)
	m.send(ctx, sender, i18n.ChooseLanguage)
	return nil
}

// Continue advances an active session by one inbound message. The CPF
// branch belongs to the ride lifecycle and is delegated there.
func (m *Manager) Continue(ctx context.Context, cs *models.ConversationState, msg transport.Inbound) error {
	if cs.State == models.StateAwaitingCPFConfirmation {
		return m.rides.HandleCPFReply(ctx, cs, msg.Text)
	}

	cs.LastActivityAt = m.scheduler.Now()
	cs.WarningSent = false

	var err error
	switch cs.State {
	case models.StateAwaitingLanguage:
		err = m.onLanguage(ctx, cs, msg.Text)
	case models.StateAwaitingVehicleType:
		err = m.onVehicleType(ctx, cs, msg.Text)
	case models.StateAwaitingName:
		err = m.onName(ctx, cs, msg.Text)
	case models.StateAwaitingPhone:
		err = m.onPhone(ctx, cs, msg.Text)
	case models.StateAwaitingLocationText:
		err = m.onLocationText(ctx, cs, msg.Text)
	case models.StateAwaitingLocationPin:
		err = m.onLocationPin(ctx, cs, msg)
	case models.StateAwaitingDestination:
		err = m.onDestination(ctx, cs, msg.Text)
	case models.StateAwaitingIdentifier:
		err = m.onIdentifier(ctx, cs, msg.Text)
	case models.StateAwaitingWaitTime:
		err = m.onWaitTime(ctx, cs, msg.Text)
	case models.StateAwaitingConfirmation:
		err = m.onConfirmation(ctx, cs, msg.Text)
	case models.StateAwaitingDriverAcceptance:
		// nothing to collect; lifecycle commands are routed before this
		return nil
	case models.StateAwaitingRetryDecision:
		err = m.onRetryDecision(ctx, cs, msg.Text)
	case models.StateAwaitingRetryWaitTime:
		err = m.onRetryWaitTime(ctx, cs, msg.Text)
	case models.StateAwaitingDriverCancelChoice:
		err = m.onDriverCancelChoice(ctx, cs, msg.Text)
	default:
		m.logger.Warn("session in unknown state", "user_jid", cs.UserJID, "state", cs.State)
		return nil
	}
	if err != nil {
		return err
	}
	if !cs.IsActive {
		return nil
	}
	if err := m.store.UpsertConversation(ctx, cs); err != nil {
		return fmt.Errorf("persist session %s: %w", cs.UserJID, err)
	}
	if cs.State == models.StateAwaitingDriverAcceptance {
		m.scheduler.CancelConversation(cs.UserJID)
	} else {
		m.armInactivity(cs)
	}
	return nil
}

func (m *Manager) onLanguage(ctx context.Context, cs *models.ConversationState, text string) error {
	switch strings.TrimSpace(text) {
	case "1":
		cs.Language = models.LangPortuguese
	case "2":
		cs.Language = models.LangEnglish
	default:
		m.send(ctx, cs.UserJID, i18n.For(models.LangPortuguese).InvalidChoice)
		return nil
	}
	cs.State = models.StateAwaitingVehicleType
	m.send(ctx, cs.UserJID, i18n.For(cs.Language).ChooseVehicle)
	return nil
}

// onVehicleType also creates the ride row. From here on partial request
// data has a durable home even if the flow never finishes.
func (m *Manager) onVehicleType(ctx context.Context, cs *models.ConversationState, text string) error {
	msgs := i18n.For(cs.Language)
	switch strings.TrimSpace(text) {
	case "1":
		cs.VehicleType = models.VehicleMotoTaxi
	case "2":
		cs.VehicleType = models.VehicleTaxi
	default:
		m.send(ctx, cs.UserJID, msgs.InvalidChoice)
		return nil
	}

	user, err := m.sessionUser(ctx, cs)
	if err != nil {
		return err
	}
	r := &models.Ride{
		Status:      models.RidePending,
		VehicleType: cs.VehicleType,
		Language:    cs.Language,
		UserID:      user.ID,
		TestMode:    cs.TestMode,
		CreatedAt:   m.scheduler.Now(),
	}
	if err := m.store.CreateRide(ctx, r); err != nil {
		return fmt.Errorf("create ride for %s: %w", cs.UserJID, err)
	}
	observability.RidesCreated.Inc()
	cs.RideID = &r.ID

	// returning passengers skip straight to the location questions
	if user.Name != "" && user.Phone != "" {
		cs.Name = user.Name
		cs.Phone = user.Phone
		cs.State = models.StateAwaitingLocationText
		m.send(ctx, cs.UserJID, msgs.AskLocationText)
		return nil
	}
	cs.State = models.StateAwaitingName
	m.send(ctx, cs.UserJID, msgs.AskName)
	return nil
}

func (m *Manager) onName(ctx context.Context, cs *models.ConversationState, text string) error {
	name := strings.TrimSpace(text)
	if name == "" {
		m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskName)
		return nil
	}
	cs.Name = name
	cs.State = models.StateAwaitingPhone
	m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskPhone)
	return nil
}

func (m *Manager) onPhone(ctx context.Context, cs *models.ConversationState, text string) error {
	phone := strings.TrimSpace(text)
	if !phoneRe.MatchString(phone) {
		m.send(ctx, cs.UserJID, i18n.For(cs.Language).InvalidPhone)
		return nil
	}
	cs.Phone = phone
	cs.State = models.StateAwaitingLocationText
	m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskLocationText)
	return nil
}

func (m *Manager) onLocationText(ctx context.Context, cs *models.ConversationState, text string) error {
	loc := strings.TrimSpace(text)
	if loc == "" {
		m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskLocationText)
		return nil
	}
	cs.LocationText = loc
	cs.State = models.StateAwaitingLocationPin
	m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskLocationPin)
	return nil
}

// onLocationPin accepts either a GPS attachment or an explicit skip.
func (m *Manager) onLocationPin(ctx context.Context, cs *models.ConversationState, msg transport.Inbound) error {
	if msg.LocationPin != nil {
		pin := *msg.LocationPin
		cs.LocationPin = &pin
	} else if !strings.EqualFold(strings.TrimSpace(msg.Text), "ok") {
		m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskLocationPin)
		return nil
	}
	cs.State = models.StateAwaitingDestination
	m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskDestination)
	return nil
}

func (m *Manager) onDestination(ctx context.Context, cs *models.ConversationState, text string) error {
	dest := strings.TrimSpace(text)
	if dest == "" {
		m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskDestination)
		return nil
	}
	cs.Destination = dest
	cs.State = models.StateAwaitingIdentifier
	m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskIdentifier)
	return nil
}

func (m *Manager) onIdentifier(ctx context.Context, cs *models.ConversationState, text string) error {
	id := strings.TrimSpace(text)
	if id == "" {
		m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskIdentifier)
		return nil
	}
	cs.IdentifierText = id
	cs.State = models.StateAwaitingWaitTime
	m.send(ctx, cs.UserJID, i18n.For(cs.Language).AskWaitTime)
	return nil
}

func (m *Manager) onWaitTime(ctx context.Context, cs *models.ConversationState, text string) error {
	minutes, ok := m.parseWaitTime(text)
	if !ok {
		m.send(ctx, cs.UserJID, i18n.For(cs.Language).InvalidWaitTime)
		return nil
	}
	cs.WaitTimeMinutes = minutes
	cs.State = models.StateAwaitingConfirmation

	preview := m.rideFromSession(cs)
	m.send(ctx, cs.UserJID, i18n.Confirmation(cs.Language, preview, cs.Name))
	return nil
}

// onConfirmation is the point of no return: the collected fields are
// written to the passenger and ride rows and the broadcast goes out.
func (m *Manager) onConfirmation(ctx context.Context, cs *models.ConversationState, text string) error {
	msgs := i18n.For(cs.Language)
	reply := strings.TrimSpace(text)
	switch {
	case strings.EqualFold(reply, msgs.ConfirmWord):
		// fall through to confirm
	case strings.EqualFold(reply, msgs.CancelWord):
		return m.abandon(ctx, cs, "user_cancelled", msgs.RequestCancelled)
	default:
		m.send(ctx, cs.UserJID, i18n.Confirmation(cs.Language, m.rideFromSession(cs), cs.Name))
		return nil
	}

	user, err := m.sessionUser(ctx, cs)
	if err != nil {
		return err
	}
	user.Name = cs.Name
	user.Phone = cs.Phone
	if err := m.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("update passenger %s: %w", user.ID, err)
	}

	if cs.RideID == nil {
		return fmt.Errorf("session %s confirmed without a ride", cs.UserJID)
	}
	r, err := m.store.GetRide(ctx, *cs.RideID)
	if err != nil {
		return fmt.Errorf("load ride %d: %w", *cs.RideID, err)
	}
	r.LocationText = cs.LocationText
	r.LocationPin = cs.LocationPin
	r.Destination = cs.Destination
	r.IdentifierText = cs.IdentifierText
	r.WaitTimeMinutes = cs.WaitTimeMinutes
	r.CreatedAt = m.scheduler.Now() // the wait window opens at broadcast
	if err := m.store.UpdateRide(ctx, r); err != nil {
		return fmt.Errorf("finalize ride %d: %w", r.ID, err)
	}

	cs.State = models.StateAwaitingDriverAcceptance
	m.send(ctx, cs.UserJID, msgs.Searching)
	return m.rides.Broadcast(ctx, r, user)
}

func (m *Manager) onRetryDecision(ctx context.Context, cs *models.ConversationState, text string) error {
	msgs := i18n.For(cs.Language)
	switch strings.TrimSpace(text) {
	case "1":
		cs.State = models.StateAwaitingRetryWaitTime
		m.send(ctx, cs.UserJID, msgs.RetryWaitTime)
		return nil
	case "2":
		return m.declineRide(ctx, cs)
	}
	m.send(ctx, cs.UserJID, msgs.InvalidChoice)
	return nil
}

func (m *Manager) onRetryWaitTime(ctx context.Context, cs *models.ConversationState, text string) error {
	minutes, ok := m.parseWaitTime(text)
	if !ok {
		m.send(ctx, cs.UserJID, i18n.For(cs.Language).InvalidWaitTime)
		return nil
	}
	user, r, err := m.sessionRide(ctx, cs)
	if err != nil {
		return err
	}
	cs.WaitTimeMinutes = minutes
	cs.State = models.StateAwaitingDriverAcceptance
	return m.rides.Rebroadcast(ctx, user, r, minutes, true)
}

func (m *Manager) onDriverCancelChoice(ctx context.Context, cs *models.ConversationState, text string) error {
	msgs := i18n.For(cs.Language)
	switch strings.TrimSpace(text) {
	case "1":
		user, r, err := m.sessionRide(ctx, cs)
		if err != nil {
			return err
		}
		cs.State = models.StateAwaitingDriverAcceptance
		return m.rides.Rebroadcast(ctx, user, r, 0, false)
	case "2":
		return m.declineRide(ctx, cs)
	}
	m.send(ctx, cs.UserJID, msgs.InvalidChoice)
	return nil
}

// declineRide closes the session and cancels its ride after the passenger
// turned down a retry or re-broadcast offer.
func (m *Manager) declineRide(ctx context.Context, cs *models.ConversationState) error {
	user, r, err := m.sessionRide(ctx, cs)
	if err != nil {
		return err
	}
	if err := m.rides.CancelOutright(ctx, user, r); err != nil {
		return err
	}
	m.EndSession(ctx, cs.UserJID, "user_declined")
	cs.IsActive = false
	return nil
}

// abandon ends a session mid-flow and cancels its half-built ride, if any.
func (m *Manager) abandon(ctx context.Context, cs *models.ConversationState, reason, farewell string) error {
	if cs.RideID != nil {
		if r, err := m.store.GetRide(ctx, *cs.RideID); err == nil && r.Status == models.RidePending {
			now := m.scheduler.Now()
			by := models.CancelledByUser
			r.Status = models.RideCancelled
			r.CancelledAt = &now
			r.CancelledBy = &by
			if err := m.store.UpdateRide(ctx, r); err != nil {
				m.logger.Error("cancel abandoned ride failed", "ride_id", r.ID, "error", err)
			} else {
				observability.RidesCancelled.WithLabelValues(string(by)).Inc()
			}
		}
	}
	if farewell != "" {
		m.send(ctx, cs.UserJID, farewell)
	}
	m.EndSession(ctx, cs.UserJID, reason)
	cs.IsActive = false
	return nil
}

func (m *Manager) parseWaitTime(text string) (int, bool) {
	minutes, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || minutes < m.timing.MinWaitMinutes {
		return 0, false
	}
	return minutes, true
}

// rideFromSession builds a preview ride from collected session fields for
// the confirmation summary.
func (m *Manager) rideFromSession(cs *models.ConversationState) *models.Ride {
	r := &models.Ride{
		VehicleType:     cs.VehicleType,
		Language:        cs.Language,
		LocationText:    cs.LocationText,
		LocationPin:     cs.LocationPin,
		Destination:     cs.Destination,
		IdentifierText:  cs.IdentifierText,
		WaitTimeMinutes: cs.WaitTimeMinutes,
	}
	if cs.RideID != nil {
		r.ID = *cs.RideID
	}
	return r
}

func (m *Manager) sessionUser(ctx context.Context, cs *models.ConversationState) (*models.User, error) {
	resolver := identity.NewResolver(m.store)
	user, err := resolver.ResolveUser(ctx, cs.UserJID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("session %s has no passenger record", cs.UserJID)
	}
	return user, nil
}

func (m *Manager) sessionRide(ctx context.Context, cs *models.ConversationState) (*models.User, *models.Ride, error) {
	user, err := m.sessionUser(ctx, cs)
	if err != nil {
		return nil, nil, err
	}
	if cs.RideID == nil {
		return nil, nil, fmt.Errorf("session %s has no ride", cs.UserJID)
	}
	r, err := m.store.GetRide(ctx, *cs.RideID)
	if err != nil {
		return nil, nil, err
	}
	return user, r, nil
}
