package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/moto-dispatch/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrRideTaken is returned by AcceptRide when the ride is no longer
	// pending or already carries an assignment.
	ErrRideTaken = errors.New("storage: ride already taken")
)

// UserStore persists passengers.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByJID(ctx context.Context, jid string) (*models.User, error)
	FindUserByLID(ctx context.Context, lid string) (*models.User, error)
	UpdateUser(ctx context.Context, u *models.User) error
}

// DriverStore persists drivers.
type DriverStore interface {
	CreateDriver(ctx context.Context, d *models.Driver) error
	GetDriverByID(ctx context.Context, id string) (*models.Driver, error)
	FindDriverByJID(ctx context.Context, jid string) (*models.Driver, error)
	FindDriverByLID(ctx context.Context, lid string) (*models.Driver, error)
	FindDriverByCPF(ctx context.Context, cpf string) (*models.Driver, error)
	UpdateDriver(ctx context.Context, d *models.Driver) error
	ListActiveDrivers(ctx context.Context, vt models.VehicleType) ([]models.Driver, error)
}

// RideStore persists rides and their assignments.
type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id int64) (*models.Ride, error)
	UpdateRide(ctx context.Context, r *models.Ride) error

	// AcceptRide transitions the ride to completed and creates its
	// assignment as one atomic operation. The update is conditional on
	// status still being pending; losing the race yields ErrRideTaken.
	AcceptRide(ctx context.Context, rideID int64, driverID string, at time.Time) (*models.RideAssignment, error)

	GetAssignmentByRideID(ctx context.Context, rideID int64) (*models.RideAssignment, error)
	DeleteAssignmentByRideID(ctx context.Context, rideID int64) error

	ListPendingRides(ctx context.Context) ([]models.Ride, error)
	ListRidesAwaitingRatingPrompt(ctx context.Context) ([]models.Ride, error)
	ListRecentRidesByUser(ctx context.Context, userID string, limit int) ([]models.Ride, error)
	ListRatableRidesForUser(ctx context.Context, userID string, now time.Time) ([]models.Ride, error)
	ListRatableRidesForDriver(ctx context.Context, driverID string, now time.Time) ([]models.Ride, error)
}

// RatingStore persists ratings.
type RatingStore interface {
	CreateRating(ctx context.Context, rt *models.Rating) error
	GetRating(ctx context.Context, rideID int64, rater models.RaterType) (*models.Rating, error)
	ListDriverScores(ctx context.Context, driverID string) ([]int, error)
	ListUserScores(ctx context.Context, userID string) ([]int, error)
}

// ConversationStore persists conversation sessions.
type ConversationStore interface {
	UpsertConversation(ctx context.Context, cs *models.ConversationState) error
	GetConversation(ctx context.Context, userJID string) (*models.ConversationState, error)

	// FindActiveConversationByRideID locates the session waiting on a ride
	// without knowing which sender identifier it was opened under.
	FindActiveConversationByRideID(ctx context.Context, rideID int64) (*models.ConversationState, error)

	ListActiveConversations(ctx context.Context) ([]models.ConversationState, error)
}

// Store is the system of record for all six entities. In-memory session and
// timer maps are caches that must always be derivable from it.
type Store interface {
	UserStore
	DriverStore
	RideStore
	RatingStore
	ConversationStore
}
