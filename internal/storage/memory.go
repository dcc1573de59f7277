package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/moto-dispatch/internal/models"
)

// MemoryStore implements Store with plain maps. It backs unit tests and
// mirrors the transactional semantics of the Postgres implementation,
// including the conditional AcceptRide.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]*models.User
	drivers       map[string]*models.Driver
	rides         map[int64]*models.Ride
	assignments   map[int64]*models.RideAssignment // keyed by ride id
	ratings       []*models.Rating
	conversations map[string]*models.ConversationState
	nextRideID    int64
	nextRowID     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*models.User),
		drivers:       make(map[string]*models.Driver),
		rides:         make(map[int64]*models.Ride),
		assignments:   make(map[int64]*models.RideAssignment),
		conversations: make(map[string]*models.ConversationState),
	}
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindUserByJID(ctx context.Context, jid string) (*models.User, error) {
	return m.findUser(func(u *models.User) bool { return u.JID == jid && jid != "" })
}

func (m *MemoryStore) FindUserByLID(ctx context.Context, lid string) (*models.User, error) {
	return m.findUser(func(u *models.User) bool { return u.LID == lid && lid != "" })
}

func (m *MemoryStore) findUser(match func(*models.User) bool) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateUser(ctx context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	// empty fields never blank out known values, matching the SQL COALESCE
	if u.JID != "" {
		cur.JID = u.JID
	}
	if u.LID != "" {
		cur.LID = u.LID
	}
	if u.Name != "" {
		cur.Name = u.Name
	}
	if u.Phone != "" {
		cur.Phone = u.Phone
	}
	cur.Reputation = u.Reputation
	return nil
}

func (m *MemoryStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.drivers[d.ID] = &cp
	return nil
}

func (m *MemoryStore) GetDriverByID(ctx context.Context, id string) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.drivers[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindDriverByJID(ctx context.Context, jid string) (*models.Driver, error) {
	return m.findDriver(func(d *models.Driver) bool { return d.JID == jid && jid != "" })
}

func (m *MemoryStore) FindDriverByLID(ctx context.Context, lid string) (*models.Driver, error) {
	return m.findDriver(func(d *models.Driver) bool { return d.LID == lid && lid != "" })
}

func (m *MemoryStore) FindDriverByCPF(ctx context.Context, cpf string) (*models.Driver, error) {
	return m.findDriver(func(d *models.Driver) bool { return d.CPF == cpf && cpf != "" })
}

func (m *MemoryStore) findDriver(match func(*models.Driver) bool) (*models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.drivers {
		if match(d) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateDriver(ctx context.Context, d *models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.drivers[d.ID]
	if !ok {
		return ErrNotFound
	}
	if d.JID != "" {
		cur.JID = d.JID
	}
	if d.LID != "" {
		cur.LID = d.LID
	}
	if d.Name != "" {
		cur.Name = d.Name
	}
	if d.Phone != "" {
		cur.Phone = d.Phone
	}
	if d.CPF != "" {
		cur.CPF = d.CPF
	}
	cur.Reputation = d.Reputation
	cur.IsActive = d.IsActive
	cur.IsTaxiDriver = d.IsTaxiDriver
	cur.IsMotoTaxiDriver = d.IsMotoTaxiDriver
	return nil
}

func (m *MemoryStore) ListActiveDrivers(ctx context.Context, vt models.VehicleType) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Driver
	for _, d := range m.drivers {
		if d.EligibleFor(vt) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) CreateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRideID++
	r.ID = m.nextRideID
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRide(ctx context.Context, id int64) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.rides[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.rides[r.ID] = &cp
	return nil
}

func (m *MemoryStore) AcceptRide(ctx context.Context, rideID int64, driverID string, at time.Time) (*models.RideAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Status != models.RidePending {
		return nil, ErrRideTaken
	}
	if _, exists := m.assignments[rideID]; exists {
		return nil, ErrRideTaken
	}
	r.Status = models.RideCompleted
	completed := at
	r.CompletedAt = &completed
	m.nextRowID++
	a := &models.RideAssignment{ID: m.nextRowID, RideID: rideID, DriverID: driverID, AcceptedAt: at}
	m.assignments[rideID] = a
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetAssignmentByRideID(ctx context.Context, rideID int64) (*models.RideAssignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.assignments[rideID]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) DeleteAssignmentByRideID(ctx context.Context, rideID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.assignments, rideID)
	return nil
}

func (m *MemoryStore) ListPendingRides(ctx context.Context) ([]models.Ride, error) {
	return m.filterRides(func(r *models.Ride) bool { return r.Status == models.RidePending }), nil
}

func (m *MemoryStore) ListRidesAwaitingRatingPrompt(ctx context.Context) ([]models.Ride, error) {
	return m.filterRides(func(r *models.Ride) bool {
		return r.Status == models.RideCompleted &&
			(!r.PassengerRatingRequestSent || !r.DriverRatingRequestSent)
	}), nil
}

func (m *MemoryStore) ListRecentRidesByUser(ctx context.Context, userID string, limit int) ([]models.Ride, error) {
	out := m.filterRides(func(r *models.Ride) bool { return r.UserID == userID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListRatableRidesForUser(ctx context.Context, userID string, now time.Time) ([]models.Ride, error) {
	out := m.filterRides(func(r *models.Ride) bool {
		return r.UserID == userID && m.ratable(r, models.RaterPassenger, now)
	})
	sortRatable(out)
	return out, nil
}

func (m *MemoryStore) ListRatableRidesForDriver(ctx context.Context, driverID string, now time.Time) ([]models.Ride, error) {
	out := m.filterRides(func(r *models.Ride) bool {
		a, ok := m.assignments[r.ID]
		return ok && a.DriverID == driverID && m.ratable(r, models.RaterDriver, now)
	})
	sortRatable(out)
	return out, nil
}

// ratable assumes m.mu is held.
func (m *MemoryStore) ratable(r *models.Ride, rater models.RaterType, now time.Time) bool {
	if r.Status != models.RideCompleted || r.RatingDeadlineAt == nil || !r.RatingDeadlineAt.After(now) {
		return false
	}
	for _, rt := range m.ratings {
		if rt.RideID == r.ID && rt.RaterType == rater {
			return false
		}
	}
	return true
}

func sortRatable(rides []models.Ride) {
	sort.Slice(rides, func(i, j int) bool {
		a, b := rides[i].RatingRequestSentAt, rides[j].RatingRequestSentAt
		switch {
		case a != nil && b != nil && !a.Equal(*b):
			return a.After(*b)
		case a != nil && b == nil:
			return true
		case a == nil && b != nil:
			return false
		}
		ca, cb := rides[i].CompletedAt, rides[j].CompletedAt
		if ca != nil && cb != nil {
			return ca.After(*cb)
		}
		return rides[i].ID > rides[j].ID
	})
}

func (m *MemoryStore) filterRides(match func(*models.Ride) bool) []models.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Ride
	for _, r := range m.rides {
		if match(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) CreateRating(ctx context.Context, rt *models.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRowID++
	rt.ID = m.nextRowID
	cp := *rt
	m.ratings = append(m.ratings, &cp)
	return nil
}

func (m *MemoryStore) GetRating(ctx context.Context, rideID int64, rater models.RaterType) (*models.Rating, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rt := range m.ratings {
		if rt.RideID == rideID && rt.RaterType == rater {
			cp := *rt
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListDriverScores(ctx context.Context, driverID string) ([]int, error) {
	return m.scores(func(rt *models.Rating) bool { return rt.RateeDriverID == driverID }), nil
}

func (m *MemoryStore) ListUserScores(ctx context.Context, userID string) ([]int, error) {
	return m.scores(func(rt *models.Rating) bool { return rt.RateeUserID == userID }), nil
}

func (m *MemoryStore) scores(match func(*models.Rating) bool) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []int
	for _, rt := range m.ratings {
		if match(rt) {
			out = append(out, rt.Score)
		}
	}
	return out
}

func (m *MemoryStore) UpsertConversation(ctx context.Context, cs *models.ConversationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *cs
	m.conversations[cs.UserJID] = &cp
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, userJID string) (*models.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cs, ok := m.conversations[userJID]; ok {
		cp := *cs
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) FindActiveConversationByRideID(ctx context.Context, rideID int64) (*models.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cs := range m.conversations {
		if cs.IsActive && cs.RideID != nil && *cs.RideID == rideID {
			cp := *cs
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListActiveConversations(ctx context.Context) ([]models.ConversationState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ConversationState
	for _, cs := range m.conversations {
		if cs.IsActive {
			out = append(out, *cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserJID < out[j].UserJID })
	return out, nil
}
