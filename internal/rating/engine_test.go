package rating

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/storage"
)

func TestMean(t *testing.T) {
	require.Nil(t, Mean(nil))
	require.Equal(t, 4.0, *Mean([]int{4}))
	require.Equal(t, 4.5, *Mean([]int{4, 5}))
	// 4+4+5 = 13/3 = 4.333... rounds to one decimal
	require.Equal(t, 4.3, *Mean([]int{4, 4, 5}))
	require.Equal(t, 3.7, *Mean([]int{3, 4, 4}))
}

func ratedFixture(t *testing.T, now time.Time) (storage.Store, *models.User, *models.Driver, int64) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	user := &models.User{ID: "u1", JID: "111@s.whatsapp.net", Name: "Ana"}
	driver := &models.Driver{ID: "d1", JID: "222@s.whatsapp.net", Name: "Beto",
		IsActive: true, IsMotoTaxiDriver: true}
	require.NoError(t, store.CreateUser(ctx, user))
	require.NoError(t, store.CreateDriver(ctx, driver))

	ride := &models.Ride{
		Status: models.RidePending, VehicleType: models.VehicleMotoTaxi,
		Language: models.LangPortuguese, UserID: user.ID, CreatedAt: now.Add(-time.Hour),
	}
	require.NoError(t, store.CreateRide(ctx, ride))
	_, err := store.AcceptRide(ctx, ride.ID, driver.ID, now.Add(-30*time.Minute))
	require.NoError(t, err)

	// the rating prompt already went out, window still open
	r, err := store.GetRide(ctx, ride.ID)
	require.NoError(t, err)
	sentAt := now.Add(-10 * time.Minute)
	deadline := sentAt.Add(24 * time.Hour)
	r.PassengerRatingRequestSent = true
	r.DriverRatingRequestSent = true
	r.RatingRequestSentAt = &sentAt
	r.RatingDeadlineAt = &deadline
	require.NoError(t, store.UpdateRide(ctx, r))

	return store, user, driver, ride.ID
}

func TestSubmitFromUserUpdatesDriverReputation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, user, driver, rideID := ratedFixture(t, now)

	e := NewEngine(store, func() time.Time { return now }, slog.Default())
	require.NoError(t, e.SubmitFromUser(ctx, user, 5))

	rt, err := store.GetRating(ctx, rideID, models.RaterPassenger)
	require.NoError(t, err)
	require.Equal(t, driver.ID, rt.RateeDriverID)
	require.Equal(t, 5, rt.Score)

	d, err := store.GetDriverByID(ctx, driver.ID)
	require.NoError(t, err)
	require.NotNil(t, d.Reputation)
	require.Equal(t, 5.0, *d.Reputation)

	// the same rater cannot score the same ride twice
	require.ErrorIs(t, e.SubmitFromUser(ctx, user, 1), ErrNothingToRate)
}

func TestSubmitFromDriverUpdatesUserReputation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, user, driver, _ := ratedFixture(t, now)

	e := NewEngine(store, func() time.Time { return now }, slog.Default())
	require.NoError(t, e.SubmitFromDriver(ctx, driver, 4))

	u, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, u.Reputation)
	require.Equal(t, 4.0, *u.Reputation)
}

func TestSubmitRejectsOutOfRangeScore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, user, _, _ := ratedFixture(t, now)

	e := NewEngine(store, func() time.Time { return now }, slog.Default())
	require.Error(t, e.SubmitFromUser(ctx, user, 0))
	require.Error(t, e.SubmitFromUser(ctx, user, 6))
}

func TestSubmitAfterDeadlineFindsNothing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, user, _, _ := ratedFixture(t, now)

	late := now.Add(25 * time.Hour)
	e := NewEngine(store, func() time.Time { return late }, slog.Default())
	require.ErrorIs(t, e.SubmitFromUser(ctx, user, 5), ErrNothingToRate)
}
