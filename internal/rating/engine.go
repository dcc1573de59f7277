// Package rating records the post-ride scores both parties exchange and
// maintains each person's rolling reputation.
package rating

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/storage"
)

// ErrNothingToRate is returned when the rater has no prompted, unanswered
// ride inside its rating window.
var ErrNothingToRate = errors.New("rating: no ride awaiting a rating")

// Engine applies ratings. Scores are immutable once recorded; reputation is
// the plain mean of all received scores, rounded to one decimal.
type Engine struct {
	store  storage.Store
	now    func() time.Time
	logger *slog.Logger
}

func NewEngine(store storage.Store, now func() time.Time, logger *slog.Logger) *Engine {
	return &Engine{store: store, now: now, logger: logger}
}

// SubmitFromUser records the passenger's score for the driver of their most
// recently prompted ratable ride.
func (e *Engine) SubmitFromUser(ctx context.Context, user *models.User, score int) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("rating: score %d out of range", score)
	}
	rides, err := e.store.ListRatableRidesForUser(ctx, user.ID, e.now())
	if err != nil {
		return err
	}
	ride, err := e.firstUnrated(ctx, rides, models.RaterPassenger)
	if err != nil {
		return err
	}
	a, err := e.store.GetAssignmentByRideID(ctx, ride.ID)
	if err != nil {
		return fmt.Errorf("rating ride %d assignment: %w", ride.ID, err)
	}
	rt := &models.Rating{
		RideID:        ride.ID,
		RaterType:     models.RaterPassenger,
		RaterUserID:   user.ID,
		RateeDriverID: a.DriverID,
		Score:         score,
		CreatedAt:     e.now(),
	}
	if err := e.store.CreateRating(ctx, rt); err != nil {
		return err
	}
	if err := e.refreshDriverReputation(ctx, a.DriverID); err != nil {
		return err
	}
	e.logger.Info("rating recorded", "ride_id", ride.ID, "rater", "passenger", "score", score)
	return nil
}

// SubmitFromDriver records the driver's score for the passenger of their
// most recently prompted ratable ride.
func (e *Engine) SubmitFromDriver(ctx context.Context, driver *models.Driver, score int) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("rating: score %d out of range", score)
	}
	rides, err := e.store.ListRatableRidesForDriver(ctx, driver.ID, e.now())
	if err != nil {
		return err
	}
	ride, err := e.firstUnrated(ctx, rides, models.RaterDriver)
	if err != nil {
		return err
	}
	rt := &models.Rating{
		RideID:        ride.ID,
		RaterType:     models.RaterDriver,
		RaterDriverID: driver.ID,
		RateeUserID:   ride.UserID,
		Score:         score,
		CreatedAt:     e.now(),
	}
	if err := e.store.CreateRating(ctx, rt); err != nil {
		return err
	}
	if err := e.refreshUserReputation(ctx, ride.UserID); err != nil {
		return err
	}
	e.logger.Info("rating recorded", "ride_id", ride.ID, "rater", "driver", "score", score)
	return nil
}

// firstUnrated walks the candidate rides, newest prompt first, and returns
// the first one this rater has not scored yet.
func (e *Engine) firstUnrated(ctx context.Context, rides []models.Ride, rater models.RaterType) (*models.Ride, error) {
	for i := range rides {
		_, err := e.store.GetRating(ctx, rides[i].ID, rater)
		if errors.Is(err, storage.ErrNotFound) {
			return &rides[i], nil
		}
		if err != nil {
			return nil, err
		}
	}
	return nil, ErrNothingToRate
}

func (e *Engine) refreshDriverReputation(ctx context.Context, driverID string) error {
	scores, err := e.store.ListDriverScores(ctx, driverID)
	if err != nil {
		return err
	}
	rep := Mean(scores)
	if rep == nil {
		return nil
	}
	d, err := e.store.GetDriverByID(ctx, driverID)
	if err != nil {
		return err
	}
	d.Reputation = rep
	return e.store.UpdateDriver(ctx, d)
}

func (e *Engine) refreshUserReputation(ctx context.Context, userID string) error {
	scores, err := e.store.ListUserScores(ctx, userID)
	if err != nil {
		return err
	}
	rep := Mean(scores)
	if rep == nil {
		return nil
	}
	u, err := e.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	u.Reputation = rep
	return e.store.UpdateUser(ctx, u)
}

// Mean returns the average score rounded to one decimal, or nil for an
// empty list.
func Mean(scores []int) *float64 {
	if len(scores) == 0 {
		return nil
	}
	sum := 0
	for _, s := range scores {
		sum += s
	}
	m := math.Round(float64(sum)/float64(len(scores))*10) / 10
	return &m
}
