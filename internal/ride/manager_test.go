package ride

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/moto-dispatch/internal/events"
	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/storage"
	"github.com/example/moto-dispatch/internal/timers"
)

type sentMsg struct {
	To   string
	Text string
}

type fakeMessenger struct {
	texts []sentMsg
	pins  []string
}

func (f *fakeMessenger) SendText(ctx context.Context, to, text string) error {
	f.texts = append(f.texts, sentMsg{To: to, Text: text})
	return nil
}

func (f *fakeMessenger) SendLocation(ctx context.Context, to string, pin models.Coord) error {
	f.pins = append(f.pins, to)
	return nil
}

func (f *fakeMessenger) textsTo(to string) []string {
	var out []string
	for _, m := range f.texts {
		if m.To == to {
			out = append(out, m.Text)
		}
	}
	return out
}

type fakeSessions struct {
	retryDecisions  []int64
	cancelDecisions []int64
	ended           []string
}

func (f *fakeSessions) BeginRetryDecision(ctx context.Context, u *models.User, r *models.Ride) error {
	f.retryDecisions = append(f.retryDecisions, r.ID)
	return nil
}

func (f *fakeSessions) BeginDriverCancelDecision(ctx context.Context, u *models.User, r *models.Ride) error {
	f.cancelDecisions = append(f.cancelDecisions, r.ID)
	return nil
}

func (f *fakeSessions) EndSessionForRide(ctx context.Context, rideID int64, fallbackJID, reason string) {
	f.ended = append(f.ended, fallbackJID)
}

type fixture struct {
	store     *storage.MemoryStore
	msgr      *fakeMessenger
	clock     *timers.FakeClock
	scheduler *timers.Scheduler
	sessions  *fakeSessions
	mgr       *Manager

	user    *models.User
	driverA *models.Driver
	driverB *models.Driver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		store: storage.NewMemoryStore(),
		msgr:  &fakeMessenger{},
		clock: timers.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
	f.scheduler = timers.NewScheduler(f.clock, slog.Default())
	f.sessions = &fakeSessions{}
	f.mgr = NewManager(f.store, f.msgr, f.scheduler, events.NopPublisher{},
		Timing{
			KeepaliveInterval: 6 * time.Minute,
			RatingPromptDelay: 2 * time.Hour,
			RatingDeadline:    24 * time.Hour,
		}, "test@s.whatsapp.net", 3, slog.Default())
	f.mgr.SetSessions(f.sessions)

	f.user = &models.User{ID: "u1", JID: "user@s.whatsapp.net", Name: "Ana", Phone: "+5511999990000"}
	f.driverA = &models.Driver{ID: "da", JID: "driver-a@s.whatsapp.net", Name: "Beto",
		Phone: "+5511888880000", IsActive: true, IsMotoTaxiDriver: true}
	f.driverB = &models.Driver{ID: "db", JID: "driver-b@s.whatsapp.net", Name: "Caio",
		Phone: "+5511777770000", IsActive: true, IsMotoTaxiDriver: true, IsTaxiDriver: true}
	require.NoError(t, f.store.CreateUser(ctx, f.user))
	require.NoError(t, f.store.CreateDriver(ctx, f.driverA))
	require.NoError(t, f.store.CreateDriver(ctx, f.driverB))
	return f
}

func (f *fixture) newBroadcastRide(t *testing.T, waitMinutes int) *models.Ride {
	t.Helper()
	ctx := context.Background()
	r := &models.Ride{
		Status: models.RidePending, VehicleType: models.VehicleMotoTaxi,
		Language: models.LangPortuguese, UserID: f.user.ID,
		LocationText: "Praça Central", Destination: "Rodoviária",
		IdentifierText: "camiseta azul", WaitTimeMinutes: waitMinutes,
		CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreateRide(ctx, r))
	require.NoError(t, f.mgr.Broadcast(ctx, r, f.user))
	return r
}

func TestBroadcastReachesEligibleDrivers(t *testing.T) {
	f := newFixture(t)
	r := f.newBroadcastRide(t, 10)

	require.Len(t, f.msgr.textsTo(f.driverA.JID), 1)
	require.Len(t, f.msgr.textsTo(f.driverB.JID), 1)
	require.Contains(t, f.msgr.texts[0].Text, "aceitar")

	wait, keepalive, _, _ := f.scheduler.PendingCounts()
	require.Equal(t, 1, wait)
	require.Equal(t, 1, keepalive)
	require.Equal(t, models.RidePending, mustRide(t, f, r.ID).Status)
}

func TestBroadcastForwardsLocationPin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := &models.Ride{
		Status: models.RidePending, VehicleType: models.VehicleMotoTaxi,
		Language: models.LangPortuguese, UserID: f.user.ID,
		LocationPin: &models.Coord{Lat: -23.55, Lng: -46.63},
		WaitTimeMinutes: 10, CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreateRide(ctx, r))
	require.NoError(t, f.mgr.Broadcast(ctx, r, f.user))
	require.Len(t, f.msgr.pins, 2)
}

func TestTestModeNarrowsBroadcastPool(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tester := &models.Driver{ID: "dt", JID: "test@s.whatsapp.net", Name: "Tester",
		IsActive: true, IsMotoTaxiDriver: true}
	require.NoError(t, f.store.CreateDriver(ctx, tester))

	r := &models.Ride{
		Status: models.RidePending, VehicleType: models.VehicleMotoTaxi,
		Language: models.LangPortuguese, UserID: f.user.ID, TestMode: true,
		WaitTimeMinutes: 10, CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreateRide(ctx, r))
	require.NoError(t, f.mgr.Broadcast(ctx, r, f.user))

	require.Empty(t, f.msgr.textsTo(f.driverA.JID))
	require.Empty(t, f.msgr.textsTo(f.driverB.JID))
	require.Len(t, f.msgr.textsTo(tester.JID), 1)
}

func TestFirstDriverWinsAcceptance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newBroadcastRide(t, 10)

	require.NoError(t, f.mgr.Accept(ctx, f.driverA, r.ID))
	require.NoError(t, f.mgr.Accept(ctx, f.driverB, r.ID))

	got := mustRide(t, f, r.ID)
	require.Equal(t, models.RideCompleted, got.Status)
	a, err := f.store.GetAssignmentByRideID(ctx, r.ID)
	require.NoError(t, err)
	require.Equal(t, f.driverA.ID, a.DriverID)

	// passenger got the winner's contact card, loser got turned away
	userMsgs := f.msgr.textsTo(f.user.JID)
	require.NotEmpty(t, userMsgs)
	require.Contains(t, userMsgs[len(userMsgs)-1], f.driverA.Name)
	loserMsgs := f.msgr.textsTo(f.driverB.JID)
	require.Contains(t, loserMsgs[len(loserMsgs)-1], "outro motorista")

	// acceptance stops the wait and keepalive timers and ends the session
	wait, keepalive, rating, _ := f.scheduler.PendingCounts()
	require.Zero(t, wait)
	require.Zero(t, keepalive)
	require.Equal(t, 1, rating)
	require.Equal(t, []string{f.user.JID}, f.sessions.ended)
}

func TestAcceptUnknownRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mgr.Accept(ctx, f.driverA, 404))
	msgs := f.msgr.textsTo(f.driverA.JID)
	require.Len(t, msgs, 1)
	require.Contains(t, msgs[0], "não encontrada")
}

func TestIneligibleDriverCannotAccept(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	taxiOnly := &models.Driver{ID: "dx", JID: "taxi-only@s.whatsapp.net",
		IsActive: true, IsTaxiDriver: true}
	require.NoError(t, f.store.CreateDriver(ctx, taxiOnly))
	r := f.newBroadcastRide(t, 10)

	require.NoError(t, f.mgr.Accept(ctx, taxiOnly, r.ID))
	require.Equal(t, models.RidePending, mustRide(t, f, r.ID).Status)
}

func TestKeepaliveNotifiesWhileWaiting(t *testing.T) {
	f := newFixture(t)
	f.newBroadcastRide(t, 20)

	before := len(f.msgr.textsTo(f.user.JID))
	f.clock.Advance(6 * time.Minute)
	f.clock.Advance(6 * time.Minute)
	after := f.msgr.textsTo(f.user.JID)
	require.Equal(t, before+2, len(after))
	require.Contains(t, after[len(after)-1], "procurando")
}

func TestExpirationOpensRetryDecision(t *testing.T) {
	f := newFixture(t)
	r := f.newBroadcastRide(t, 10)

	f.clock.Advance(10 * time.Minute)

	got := mustRide(t, f, r.ID)
	require.Equal(t, models.RideExpired, got.Status)
	require.NotNil(t, got.ExpiredAt)
	require.Equal(t, []int64{r.ID}, f.sessions.retryDecisions)

	wait, keepalive, _, _ := f.scheduler.PendingCounts()
	require.Zero(t, wait)
	require.Zero(t, keepalive)
}

func TestRebroadcastReusesRideWithFreshWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newBroadcastRide(t, 10)
	f.clock.Advance(10 * time.Minute)

	expired := mustRide(t, f, r.ID)
	require.NoError(t, f.mgr.Rebroadcast(ctx, f.user, expired, 15, true))

	got := mustRide(t, f, r.ID)
	require.Equal(t, models.RidePending, got.Status)
	require.Equal(t, 15, got.WaitTimeMinutes)
	require.Equal(t, 1, got.RetryAttempts)
	require.Nil(t, got.ExpiredAt)
	require.Equal(t, f.clock.Now(), got.CreatedAt)

	// the new wait window runs from the re-broadcast, not the original
	f.clock.Advance(14 * time.Minute)
	require.Equal(t, models.RidePending, mustRide(t, f, r.ID).Status)
	f.clock.Advance(time.Minute)
	require.Equal(t, models.RideExpired, mustRide(t, f, r.ID).Status)
}

func TestDriverCancelRevertsToPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newBroadcastRide(t, 10)
	require.NoError(t, f.mgr.Accept(ctx, f.driverA, r.ID))

	require.NoError(t, f.mgr.CancelByDriver(ctx, f.driverA, r.ID))

	got := mustRide(t, f, r.ID)
	require.Equal(t, models.RidePending, got.Status)
	require.Nil(t, got.CompletedAt)
	_, err := f.store.GetAssignmentByRideID(ctx, r.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.Equal(t, []int64{r.ID}, f.sessions.cancelDecisions)

	// the armed rating prompt must not fire for a reverted ride
	_, _, rating, _ := f.scheduler.PendingCounts()
	require.Zero(t, rating)
}

func TestDriverCannotCancelSomeoneElsesRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newBroadcastRide(t, 10)
	require.NoError(t, f.mgr.Accept(ctx, f.driverA, r.ID))

	require.NoError(t, f.mgr.CancelByDriver(ctx, f.driverB, r.ID))
	require.Equal(t, models.RideCompleted, mustRide(t, f, r.ID).Status)
}

func TestUserCancelNotifiesAssignedDriver(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newBroadcastRide(t, 10)
	require.NoError(t, f.mgr.Accept(ctx, f.driverA, r.ID))

	require.NoError(t, f.mgr.CancelByUser(ctx, f.user, r.ID))

	got := mustRide(t, f, r.ID)
	require.Equal(t, models.RideCancelled, got.Status)
	require.Equal(t, models.CancelledByUser, *got.CancelledBy)
	driverMsgs := f.msgr.textsTo(f.driverA.JID)
	require.Contains(t, driverMsgs[len(driverMsgs)-1], "cancelada pelo passageiro")
}

func TestUserCannotCancelForeignRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newBroadcastRide(t, 10)

	stranger := &models.User{ID: "u2", JID: "other@s.whatsapp.net"}
	require.NoError(t, f.store.CreateUser(ctx, stranger))
	require.NoError(t, f.mgr.CancelByUser(ctx, stranger, r.ID))
	require.Equal(t, models.RidePending, mustRide(t, f, r.ID).Status)
}

func TestRatingPromptsGoOutAfterDelay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newBroadcastRide(t, 10)
	require.NoError(t, f.mgr.Accept(ctx, f.driverA, r.ID))

	userBefore := len(f.msgr.textsTo(f.user.JID))
	f.clock.Advance(2 * time.Hour)

	userMsgs := f.msgr.textsTo(f.user.JID)
	require.Equal(t, userBefore+1, len(userMsgs))
	require.Contains(t, userMsgs[len(userMsgs)-1], "avaliar")
	driverMsgs := f.msgr.textsTo(f.driverA.JID)
	require.Contains(t, driverMsgs[len(driverMsgs)-1], "avaliar")

	got := mustRide(t, f, r.ID)
	require.True(t, got.PassengerRatingRequestSent)
	require.True(t, got.DriverRatingRequestSent)
	require.NotNil(t, got.RatingRequestSentAt)
	require.NotNil(t, got.RatingDeadlineAt)
	require.Equal(t, got.RatingRequestSentAt.Add(24*time.Hour), *got.RatingDeadlineAt)
}

func TestResumePendingRideRearmsExpiration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newBroadcastRide(t, 10)

	// simulate a restart by dropping every timer
	f.scheduler.CancelRideExpiration(r.ID)
	f.scheduler.CancelKeepalive(r.ID)

	require.NoError(t, f.mgr.ResumePendingRide(ctx, *mustRide(t, f, r.ID)))
	f.clock.Advance(10 * time.Minute)
	require.Equal(t, models.RideExpired, mustRide(t, f, r.ID).Status)
}

func TestResumePendingRideSkipsUnconfirmedRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	// a ride created mid-conversation has no wait time yet
	r := &models.Ride{
		Status: models.RidePending, VehicleType: models.VehicleMotoTaxi,
		Language: models.LangPortuguese, UserID: f.user.ID, CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.CreateRide(ctx, r))

	require.NoError(t, f.mgr.ResumePendingRide(ctx, *r))
	wait, _, _, _ := f.scheduler.PendingCounts()
	require.Zero(t, wait)
	f.clock.Advance(time.Hour)
	require.Equal(t, models.RidePending, mustRide(t, f, r.ID).Status)
}

func TestResumeRatingPromptOverdueFiresOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.newBroadcastRide(t, 10)
	require.NoError(t, f.mgr.Accept(ctx, f.driverA, r.ID))
	f.scheduler.CancelRatingPrompt(r.ID)

	// three hours pass while the process is down
	f.clock.Advance(3 * time.Hour)
	before := len(f.msgr.textsTo(f.user.JID))
	require.NoError(t, f.mgr.ResumeRatingPrompt(ctx, *mustRide(t, f, r.ID)))
	require.Equal(t, before+1, len(f.msgr.textsTo(f.user.JID)))

	// a second restore finds the flags stamped and sends nothing
	rides, err := f.store.ListRidesAwaitingRatingPrompt(ctx)
	require.NoError(t, err)
	require.Empty(t, rides)
}

func TestHistoryListsLastFiveRides(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		r := &models.Ride{
			Status: models.RideCancelled, VehicleType: models.VehicleMotoTaxi,
			Language: models.LangPortuguese, UserID: f.user.ID,
			LocationText: "A", Destination: "B", CreatedAt: f.clock.Now(),
		}
		require.NoError(t, f.store.CreateRide(ctx, r))
		f.clock.Advance(time.Minute)
	}

	require.NoError(t, f.mgr.History(ctx, f.user, models.LangPortuguese))
	msgs := f.msgr.textsTo(f.user.JID)
	require.Len(t, msgs, 1)
	require.Equal(t, 5, strings.Count(msgs[0], "#"))
}

func mustRide(t *testing.T, f *fixture, id int64) *models.Ride {
	t.Helper()
	r, err := f.store.GetRide(context.Background(), id)
	require.NoError(t, err)
	return r
}
