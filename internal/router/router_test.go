package router

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/moto-dispatch/internal/conversation"
	"github.com/example/moto-dispatch/internal/events"
	"github.com/example/moto-dispatch/internal/identity"
	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/rating"
	"github.com/example/moto-dispatch/internal/ride"
	"github.com/example/moto-dispatch/internal/storage"
	"github.com/example/moto-dispatch/internal/timers"
	"github.com/example/moto-dispatch/internal/transport"
)

type sentMsg struct {
	To   string
	Text string
}

type fakeMessenger struct {
	texts []sentMsg
}

func (f *fakeMessenger) SendText(ctx context.Context, to, text string) error {
	f.texts = append(f.texts, sentMsg{To: to, Text: text})
	return nil
}

func (f *fakeMessenger) SendLocation(ctx context.Context, to string, pin models.Coord) error {
	return nil
}

func (f *fakeMessenger) last(to string) string {
	for i := len(f.texts) - 1; i >= 0; i-- {
		if f.texts[i].To == to {
			return f.texts[i].Text
		}
	}
	return ""
}

type fixture struct {
	store  *storage.MemoryStore
	msgr   *fakeMessenger
	clock  *timers.FakeClock
	router *Router

	user   *models.User
	driver *models.Driver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: storage.NewMemoryStore(),
		msgr:  &fakeMessenger{},
		clock: timers.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	scheduler := timers.NewScheduler(f.clock, slog.Default())
	rides := ride.NewManager(f.store, f.msgr, scheduler, events.NopPublisher{},
		ride.Timing{
			KeepaliveInterval: 6 * time.Minute,
			RatingPromptDelay: 2 * time.Hour,
			RatingDeadline:    24 * time.Hour,
		}, "", 3, slog.Default())
	convs := conversation.NewManager(f.store, f.msgr, scheduler, rides,
		conversation.Timing{
			InactivityWarning: 150 * time.Second,
			InactivityTimeout: 5 * time.Minute,
			MinWaitMinutes:    5,
		}, slog.Default())
	rides.SetSessions(convs)
	ratings := rating.NewEngine(f.store, scheduler.Now, slog.Default())
	resolver := identity.NewResolver(f.store)
	f.router = New(f.store, resolver, convs, rides, ratings, f.msgr, slog.Default())

	f.user = &models.User{ID: "u1", JID: "user@s.whatsapp.net", Name: "Ana", Phone: "+5511999990000"}
	f.driver = &models.Driver{ID: "d1", JID: "driver@s.whatsapp.net", Name: "Beto",
		Phone: "+5511888880000", CPF: "12345678901", IsActive: true, IsMotoTaxiDriver: true}
	require.NoError(t, f.store.CreateUser(ctx, f.user))
	require.NoError(t, f.store.CreateDriver(ctx, f.driver))
	return f
}

func (f *fixture) inbound(sender, text string) {
	f.router.HandleInbound(context.Background(), transport.Inbound{Sender: sender, Text: text})
}

func (f *fixture) pendingRide(t *testing.T) *models.Ride {
	t.Helper()
	r := &models.Ride{
		Status: models.RidePending, VehicleType: models.VehicleMotoTaxi,
		Language: models.LangPortuguese, UserID: f.user.ID,
		LocationText: "Praça", Destination: "Centro", IdentifierText: "azul",
		WaitTimeMinutes: 10, CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreateRide(context.Background(), r))
	return r
}

func TestTriggerWordOpensSession(t *testing.T) {
	f := newFixture(t)
	for _, trigger := range []string{"taxi", "MOTOTAXI", "Moto"} {
		f.inbound(f.user.JID, trigger)
		cs, err := f.store.GetConversation(context.Background(), f.user.JID)
		require.NoError(t, err)
		require.True(t, cs.IsActive)
		require.Equal(t, models.StateAwaitingLanguage, cs.State)
		require.False(t, cs.TestMode)
	}
}

func TestTestTriggerSetsTestMode(t *testing.T) {
	f := newFixture(t)
	f.inbound(f.user.JID, "teste")
	cs, err := f.store.GetConversation(context.Background(), f.user.JID)
	require.NoError(t, err)
	require.True(t, cs.TestMode)
}

func TestTriggerContainingTestWordStartsTestFlow(t *testing.T) {
	f := newFixture(t)
	for _, text := range []string{"taxi test", "mototaxi teste", "teste corrida"} {
		f.inbound(f.user.JID, text)
		cs := mustConv(t, f)
		require.True(t, cs.IsActive, "message %q", text)
		require.Equal(t, models.StateAwaitingLanguage, cs.State, "message %q", text)
		require.True(t, cs.TestMode, "message %q", text)
	}

	// a trigger word inside a longer message opens a normal flow
	f.inbound(f.user.JID, "quero um taxi agora")
	require.False(t, mustConv(t, f).TestMode)
}

func TestTriggerRestartsExistingSession(t *testing.T) {
	f := newFixture(t)
	f.inbound(f.user.JID, "taxi")
	f.inbound(f.user.JID, "1")
	require.Equal(t, models.StateAwaitingVehicleType, mustConv(t, f).State)

	// a fresh trigger always restarts, it is not session input
	f.inbound(f.user.JID, "taxi")
	require.Equal(t, models.StateAwaitingLanguage, mustConv(t, f).State)
}

func TestAcceptCommandVariants(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range []string{"aceitar %d", "ACEITAR %d", "aceitar corrida %d"} {
		r := f.pendingRide(t)
		f.inbound(f.driver.JID, fmt.Sprintf(cmd, r.ID))
		got, err := f.store.GetRide(context.Background(), r.ID)
		require.NoError(t, err)
		require.Equal(t, models.RideCompleted, got.Status, "command %q", cmd)
	}
}

func TestBareNumberAcceptsWhenSessionless(t *testing.T) {
	f := newFixture(t)
	r := f.pendingRide(t)
	f.inbound(f.driver.JID, fmt.Sprintf("%d", r.ID))
	got, err := f.store.GetRide(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RideCompleted, got.Status)
}

func TestBareNumberInsideSessionIsMenuInput(t *testing.T) {
	f := newFixture(t)
	f.pendingRide(t) // ride id 1 exists
	f.inbound(f.user.JID, "taxi")
	f.inbound(f.user.JID, "1") // language choice, not an acceptance

	require.Equal(t, models.StateAwaitingVehicleType, mustConv(t, f).State)
	got, err := f.store.GetRide(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, models.RidePending, got.Status)
}

func TestUnknownSenderAcceptingOpensCPFFlow(t *testing.T) {
	f := newFixture(t)
	r := f.pendingRide(t)
	stranger := "5511444440000@s.whatsapp.net"

	f.inbound(stranger, fmt.Sprintf("aceitar %d", r.ID))
	cs, err := f.store.GetConversation(context.Background(), stranger)
	require.NoError(t, err)
	require.Equal(t, models.StateAwaitingCPFConfirmation, cs.State)
	require.Contains(t, f.msgr.last(stranger), "CPF")

	// wrong CPF twice, then the right one relinks and accepts
	f.inbound(stranger, "00000000000")
	require.Contains(t, f.msgr.last(stranger), "não encontrado")
	f.inbound(stranger, "not-even-digits")
	require.Contains(t, f.msgr.last(stranger), "CPF inválido")
	f.inbound(stranger, "12345678901")

	got, err := f.store.GetRide(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RideCompleted, got.Status)
	d, err := f.store.GetDriverByID(context.Background(), f.driver.ID)
	require.NoError(t, err)
	require.Equal(t, stranger, d.JID)
}

func TestCPFAttemptsExhaust(t *testing.T) {
	f := newFixture(t)
	r := f.pendingRide(t)
	stranger := "5511444440000@s.whatsapp.net"
	f.inbound(stranger, fmt.Sprintf("aceitar %d", r.ID))

	for i := 0; i < 3; i++ {
		f.inbound(stranger, "00000000000")
	}
	require.Contains(t, f.msgr.last(stranger), "central")
	cs, err := f.store.GetConversation(context.Background(), stranger)
	require.NoError(t, err)
	require.False(t, cs.IsActive)
	got, err := f.store.GetRide(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RidePending, got.Status)
}

func TestCancelCommandFromUser(t *testing.T) {
	f := newFixture(t)
	r := f.pendingRide(t)
	f.inbound(f.user.JID, fmt.Sprintf("cancelar %d", r.ID))
	got, err := f.store.GetRide(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RideCancelled, got.Status)
}

func TestCancelCommandBeatsSessionInput(t *testing.T) {
	f := newFixture(t)
	r := f.pendingRide(t)
	f.inbound(f.user.JID, "taxi") // active session

	f.inbound(f.user.JID, fmt.Sprintf("cancelar corrida %d", r.ID))
	got, err := f.store.GetRide(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RideCancelled, got.Status)
}

func TestDualRolePassengerCancelsOwnRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// the sender is registered as a driver under the same identifier
	require.NoError(t, f.store.CreateDriver(ctx, &models.Driver{
		ID: "d2", JID: f.user.JID, Name: "Ana", IsActive: true, IsMotoTaxiDriver: true,
	}))
	r := f.pendingRide(t)

	f.inbound(f.user.JID, fmt.Sprintf("cancelar %d", r.ID))
	got, err := f.store.GetRide(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RideCancelled, got.Status)
}

func TestDualRoleSenderStillCancelsAsDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.CreateDriver(ctx, &models.Driver{
		ID: "d2", JID: f.user.JID, Name: "Ana", IsActive: true, IsMotoTaxiDriver: true,
	}))
	other := &models.User{ID: "u2", JID: "other@s.whatsapp.net", Name: "Bia", Phone: "+5511777770000"}
	require.NoError(t, f.store.CreateUser(ctx, other))
	r := &models.Ride{
		Status: models.RidePending, VehicleType: models.VehicleMotoTaxi,
		Language: models.LangPortuguese, UserID: other.ID,
		LocationText: "Praça", Destination: "Centro", IdentifierText: "azul",
		WaitTimeMinutes: 10, CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreateRide(ctx, r))
	_, err := f.store.AcceptRide(ctx, r.ID, "d2", f.clock.Now())
	require.NoError(t, err)

	// someone else's ride: the dual-role sender is acting as its driver
	f.inbound(f.user.JID, fmt.Sprintf("cancelar %d", r.ID))
	got, err := f.store.GetRide(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, models.RidePending, got.Status)
	_, err = f.store.GetAssignmentByRideID(ctx, r.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRateCommand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.pendingRide(t)
	_, err := f.store.AcceptRide(ctx, r.ID, f.driver.ID, f.clock.Now())
	require.NoError(t, err)
	got, err := f.store.GetRide(ctx, r.ID)
	require.NoError(t, err)
	sentAt := f.clock.Now()
	deadline := sentAt.Add(24 * time.Hour)
	got.PassengerRatingRequestSent = true
	got.DriverRatingRequestSent = true
	got.RatingRequestSentAt = &sentAt
	got.RatingDeadlineAt = &deadline
	require.NoError(t, f.store.UpdateRide(ctx, got))

	f.inbound(f.user.JID, "avaliar 5")
	require.Contains(t, f.msgr.last(f.user.JID), "Obrigado")

	d, err := f.store.GetDriverByID(ctx, f.driver.ID)
	require.NoError(t, err)
	require.NotNil(t, d.Reputation)
	require.Equal(t, 5.0, *d.Reputation)

	// nothing left to rate
	f.inbound(f.user.JID, "avaliar 4")
	require.Contains(t, f.msgr.last(f.user.JID), "Nenhuma corrida")
}

func TestRateCommandRejectsBadScore(t *testing.T) {
	f := newFixture(t)
	f.inbound(f.user.JID, "rate 9")
	require.Contains(t, f.msgr.last(f.user.JID), "inválida")
}

func TestHistoryCommand(t *testing.T) {
	f := newFixture(t)
	f.pendingRide(t)
	f.inbound(f.user.JID, "minhas corridas")
	require.Contains(t, f.msgr.last(f.user.JID), "últimas corridas")

	f.inbound("nobody@s.whatsapp.net", "my rides")
	require.Contains(t, f.msgr.last("nobody@s.whatsapp.net"), "não tem corridas")
}

func TestUnroutableMessageIsIgnored(t *testing.T) {
	f := newFixture(t)
	before := len(f.msgr.texts)
	f.inbound(f.user.JID, "hello there")
	require.Equal(t, before, len(f.msgr.texts))
}

func mustConv(t *testing.T, f *fixture) *models.ConversationState {
	t.Helper()
	cs, err := f.store.GetConversation(context.Background(), f.user.JID)
	require.NoError(t, err)
	return cs
}
