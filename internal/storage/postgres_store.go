package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/moto-dispatch/internal/models"
)

// PostgresStore implements Store on top of database/sql + lib/pq.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying handle for migrations.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

// --- users ---

const userCols = `id, jid, lid, name, phone, reputation, created_at`

func (p *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users(`+userCols+`) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, nullStr(u.JID), nullStr(u.LID), nullStr(u.Name), nullStr(u.Phone), u.Reputation, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE id=$1`, id))
}

func (p *PostgresStore) FindUserByJID(ctx context.Context, jid string) (*models.User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE jid=$1`, jid))
}

func (p *PostgresStore) FindUserByLID(ctx context.Context, lid string) (*models.User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE lid=$1`, lid))
}

func (p *PostgresStore) UpdateUser(ctx context.Context, u *models.User) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE users SET jid=COALESCE($2, jid), lid=COALESCE($3, lid), name=COALESCE($4, name),
		 phone=COALESCE($5, phone), reputation=$6 WHERE id=$1`,
		u.ID, nullStr(u.JID), nullStr(u.LID), nullStr(u.Name), nullStr(u.Phone), u.Reputation)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (p *PostgresStore) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var jid, lid, name, phone sql.NullString
	var rep sql.NullFloat64
	err := row.Scan(&u.ID, &jid, &lid, &name, &phone, &rep, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.JID, u.LID, u.Name, u.Phone = jid.String, lid.String, name.String, phone.String
	if rep.Valid {
		v := rep.Float64
		u.Reputation = &v
	}
	return &u, nil
}

// --- drivers ---

const driverCols = `id, jid, lid, name, phone, cpf, reputation, is_active, is_taxi_driver, is_moto_taxi_driver, created_at`

func (p *PostgresStore) CreateDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO drivers(`+driverCols+`) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		d.ID, nullStr(d.JID), nullStr(d.LID), nullStr(d.Name), nullStr(d.Phone), nullStr(d.CPF),
		d.Reputation, d.IsActive, d.IsTaxiDriver, d.IsMotoTaxiDriver, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert driver: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetDriverByID(ctx context.Context, id string) (*models.Driver, error) {
	return p.scanDriver(p.db.QueryRowContext(ctx,
		`SELECT `+driverCols+` FROM drivers WHERE id=$1`, id))
}

func (p *PostgresStore) FindDriverByJID(ctx context.Context, jid string) (*models.Driver, error) {
	return p.scanDriver(p.db.QueryRowContext(ctx,
		`SELECT `+driverCols+` FROM drivers WHERE jid=$1`, jid))
}

func (p *PostgresStore) FindDriverByLID(ctx context.Context, lid string) (*models.Driver, error) {
	return p.scanDriver(p.db.QueryRowContext(ctx,
		`SELECT `+driverCols+` FROM drivers WHERE lid=$1`, lid))
}

func (p *PostgresStore) FindDriverByCPF(ctx context.Context, cpf string) (*models.Driver, error) {
	return p.scanDriver(p.db.QueryRowContext(ctx,
		`SELECT `+driverCols+` FROM drivers WHERE cpf=$1`, cpf))
}

func (p *PostgresStore) UpdateDriver(ctx context.Context, d *models.Driver) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE drivers SET jid=COALESCE($2, jid), lid=COALESCE($3, lid), name=COALESCE($4, name),
		 phone=COALESCE($5, phone), cpf=COALESCE($6, cpf), reputation=$7,
		 is_active=$8, is_taxi_driver=$9, is_moto_taxi_driver=$10 WHERE id=$1`,
		d.ID, nullStr(d.JID), nullStr(d.LID), nullStr(d.Name), nullStr(d.Phone), nullStr(d.CPF),
		d.Reputation, d.IsActive, d.IsTaxiDriver, d.IsMotoTaxiDriver)
	if err != nil {
		return fmt.Errorf("update driver: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListActiveDrivers(ctx context.Context, vt models.VehicleType) ([]models.Driver, error) {
	flag := "is_moto_taxi_driver"
	if vt == models.VehicleTaxi {
		flag = "is_taxi_driver"
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+driverCols+` FROM drivers WHERE is_active AND `+flag)
	if err != nil {
		return nil, fmt.Errorf("list active drivers: %w", err)
	}
	defer rows.Close()
	var out []models.Driver
	for rows.Next() {
		d, err := p.scanDriverRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanDriverFrom(s rowScanner) (*models.Driver, error) {
	var d models.Driver
	var jid, lid, name, phone, cpf sql.NullString
	var rep sql.NullFloat64
	err := s.Scan(&d.ID, &jid, &lid, &name, &phone, &cpf, &rep,
		&d.IsActive, &d.IsTaxiDriver, &d.IsMotoTaxiDriver, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan driver: %w", err)
	}
	d.JID, d.LID, d.Name, d.Phone, d.CPF = jid.String, lid.String, name.String, phone.String, cpf.String
	if rep.Valid {
		v := rep.Float64
		d.Reputation = &v
	}
	return &d, nil
}

func (p *PostgresStore) scanDriver(row *sql.Row) (*models.Driver, error)     { return scanDriverFrom(row) }
func (p *PostgresStore) scanDriverRows(rows *sql.Rows) (*models.Driver, error) { return scanDriverFrom(rows) }

// --- rides ---

const rideCols = `id, status, vehicle_type, language, user_id, location_text, location_lat, location_lng,
 destination, identifier_text, wait_time_minutes, retry_attempts, test_mode, created_at,
 completed_at, expired_at, cancelled_at, cancelled_by,
 passenger_rating_request_sent, driver_rating_request_sent, rating_request_sent_at, rating_deadline_at`

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	var lat, lng *float64
	if r.LocationPin != nil {
		lat, lng = &r.LocationPin.Lat, &r.LocationPin.Lng
	}
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO rides(status, vehicle_type, language, user_id, location_text, location_lat, location_lng,
		 destination, identifier_text, wait_time_minutes, retry_attempts, test_mode, created_at,
		 passenger_rating_request_sent, driver_rating_request_sent)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,false,false) RETURNING id`,
		r.Status, r.VehicleType, r.Language, r.UserID, nullStr(r.LocationText), lat, lng,
		nullStr(r.Destination), nullStr(r.IdentifierText), r.WaitTimeMinutes, r.RetryAttempts,
		r.TestMode, r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert ride: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetRide(ctx context.Context, id int64) (*models.Ride, error) {
	return scanRideFrom(p.db.QueryRowContext(ctx, `SELECT `+rideCols+` FROM rides WHERE id=$1`, id))
}

func (p *PostgresStore) UpdateRide(ctx context.Context, r *models.Ride) error {
	var lat, lng *float64
	if r.LocationPin != nil {
		lat, lng = &r.LocationPin.Lat, &r.LocationPin.Lng
	}
	_, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status=$2, language=$3, location_text=$4, location_lat=$5, location_lng=$6,
		 destination=$7, identifier_text=$8, wait_time_minutes=$9, retry_attempts=$10, test_mode=$11,
		 created_at=$12, completed_at=$13, expired_at=$14, cancelled_at=$15, cancelled_by=$16,
		 passenger_rating_request_sent=$17, driver_rating_request_sent=$18,
		 rating_request_sent_at=$19, rating_deadline_at=$20
		 WHERE id=$1`,
		r.ID, r.Status, r.Language, nullStr(r.LocationText), lat, lng,
		nullStr(r.Destination), nullStr(r.IdentifierText), r.WaitTimeMinutes, r.RetryAttempts, r.TestMode,
		r.CreatedAt, r.CompletedAt, r.ExpiredAt, r.CancelledAt, r.CancelledBy,
		r.PassengerRatingRequestSent, r.DriverRatingRequestSent,
		r.RatingRequestSentAt, r.RatingDeadlineAt)
	if err != nil {
		return fmt.Errorf("update ride: %w", err)
	}
	return nil
}

// AcceptRide is the single storage-layer operation that resolves the
// two-drivers-one-ride race: the status flip is conditional on the ride
// still being pending, and the assignment insert happens in the same
// transaction. Zero rows affected means another driver got there first.
func (p *PostgresStore) AcceptRide(ctx context.Context, rideID int64, driverID string, at time.Time) (*models.RideAssignment, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin accept tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE rides SET status=$2, completed_at=$3 WHERE id=$1 AND status=$4`,
		rideID, models.RideCompleted, at, models.RidePending)
	if err != nil {
		return nil, fmt.Errorf("conditional ride update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return nil, ErrRideTaken
	}

	a := &models.RideAssignment{RideID: rideID, DriverID: driverID, AcceptedAt: at}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO ride_assignments(ride_id, driver_id, accepted_at) VALUES($1,$2,$3) RETURNING id`,
		a.RideID, a.DriverID, a.AcceptedAt).Scan(&a.ID)
	if err != nil {
		// unique(ride_id) violated: assignment already exists
		return nil, ErrRideTaken
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit accept tx: %w", err)
	}
	return a, nil
}

func (p *PostgresStore) GetAssignmentByRideID(ctx context.Context, rideID int64) (*models.RideAssignment, error) {
	var a models.RideAssignment
	err := p.db.QueryRowContext(ctx,
		`SELECT id, ride_id, driver_id, accepted_at FROM ride_assignments WHERE ride_id=$1`, rideID).
		Scan(&a.ID, &a.RideID, &a.DriverID, &a.AcceptedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan assignment: %w", err)
	}
	return &a, nil
}

func (p *PostgresStore) DeleteAssignmentByRideID(ctx context.Context, rideID int64) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM ride_assignments WHERE ride_id=$1`, rideID)
	if err != nil {
		return fmt.Errorf("delete assignment: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListPendingRides(ctx context.Context) ([]models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideCols+` FROM rides WHERE status=$1`, models.RidePending)
}

func (p *PostgresStore) ListRidesAwaitingRatingPrompt(ctx context.Context) ([]models.Ride, error) {
	return p.queryRides(ctx,
		`SELECT `+rideCols+` FROM rides
		 WHERE status=$1 AND (NOT passenger_rating_request_sent OR NOT driver_rating_request_sent)`,
		models.RideCompleted)
}

func (p *PostgresStore) ListRecentRidesByUser(ctx context.Context, userID string, limit int) ([]models.Ride, error) {
	return p.queryRides(ctx,
		`SELECT `+rideCols+` FROM rides WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
}

func (p *PostgresStore) ListRatableRidesForUser(ctx context.Context, userID string, now time.Time) ([]models.Ride, error) {
	return p.queryRides(ctx,
		`SELECT `+rideCols+` FROM rides r
		 WHERE r.user_id=$1 AND r.status=$2 AND r.rating_deadline_at > $3
		   AND NOT EXISTS (SELECT 1 FROM ratings t WHERE t.ride_id=r.id AND t.rater_type=$4)
		 ORDER BY r.rating_request_sent_at DESC NULLS LAST, r.completed_at DESC`,
		userID, models.RideCompleted, now, models.RaterPassenger)
}

func (p *PostgresStore) ListRatableRidesForDriver(ctx context.Context, driverID string, now time.Time) ([]models.Ride, error) {
	return p.queryRides(ctx,
		`SELECT `+rideCols+` FROM rides r
		 JOIN ride_assignments a ON a.ride_id = r.id
		 WHERE a.driver_id=$1 AND r.status=$2 AND r.rating_deadline_at > $3
		   AND NOT EXISTS (SELECT 1 FROM ratings t WHERE t.ride_id=r.id AND t.rater_type=$4)
		 ORDER BY r.rating_request_sent_at DESC NULLS LAST, r.completed_at DESC`,
		driverID, models.RideCompleted, now, models.RaterDriver)
}

func (p *PostgresStore) queryRides(ctx context.Context, query string, args ...any) ([]models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rides: %w", err)
	}
	defer rows.Close()
	var out []models.Ride
	for rows.Next() {
		r, err := scanRideFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func scanRideFrom(s rowScanner) (*models.Ride, error) {
	var r models.Ride
	var locText, dest, ident sql.NullString
	var lat, lng sql.NullFloat64
	var cancelledBy sql.NullString
	var completedAt, expiredAt, cancelledAt, ratingSentAt, ratingDeadline sql.NullTime
	err := s.Scan(&r.ID, &r.Status, &r.VehicleType, &r.Language, &r.UserID, &locText, &lat, &lng,
		&dest, &ident, &r.WaitTimeMinutes, &r.RetryAttempts, &r.TestMode, &r.CreatedAt,
		&completedAt, &expiredAt, &cancelledAt, &cancelledBy,
		&r.PassengerRatingRequestSent, &r.DriverRatingRequestSent, &ratingSentAt, &ratingDeadline)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan ride: %w", err)
	}
	r.LocationText, r.Destination, r.IdentifierText = locText.String, dest.String, ident.String
	if lat.Valid && lng.Valid {
		r.LocationPin = &models.Coord{Lat: lat.Float64, Lng: lng.Float64}
	}
	if cancelledBy.Valid {
		cb := models.CancelledBy(cancelledBy.String)
		r.CancelledBy = &cb
	}
	r.CompletedAt = timePtr(completedAt)
	r.ExpiredAt = timePtr(expiredAt)
	r.CancelledAt = timePtr(cancelledAt)
	r.RatingRequestSentAt = timePtr(ratingSentAt)
	r.RatingDeadlineAt = timePtr(ratingDeadline)
	return &r, nil
}

// --- ratings ---

func (p *PostgresStore) CreateRating(ctx context.Context, rt *models.Rating) error {
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO ratings(ride_id, rater_type, rater_user_id, rater_driver_id, ratee_user_id, ratee_driver_id, score, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		rt.RideID, rt.RaterType, nullStr(rt.RaterUserID), nullStr(rt.RaterDriverID),
		nullStr(rt.RateeUserID), nullStr(rt.RateeDriverID), rt.Score, rt.CreatedAt).Scan(&rt.ID)
	if err != nil {
		return fmt.Errorf("insert rating: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetRating(ctx context.Context, rideID int64, rater models.RaterType) (*models.Rating, error) {
	var rt models.Rating
	var ruid, rdid, euid, edid sql.NullString
	err := p.db.QueryRowContext(ctx,
		`SELECT id, ride_id, rater_type, rater_user_id, rater_driver_id, ratee_user_id, ratee_driver_id, score, created_at
		 FROM ratings WHERE ride_id=$1 AND rater_type=$2`, rideID, rater).
		Scan(&rt.ID, &rt.RideID, &rt.RaterType, &ruid, &rdid, &euid, &edid, &rt.Score, &rt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan rating: %w", err)
	}
	rt.RaterUserID, rt.RaterDriverID = ruid.String, rdid.String
	rt.RateeUserID, rt.RateeDriverID = euid.String, edid.String
	return &rt, nil
}

func (p *PostgresStore) ListDriverScores(ctx context.Context, driverID string) ([]int, error) {
	return p.queryScores(ctx, `SELECT score FROM ratings WHERE ratee_driver_id=$1`, driverID)
}

func (p *PostgresStore) ListUserScores(ctx context.Context, userID string) ([]int, error) {
	return p.queryScores(ctx, `SELECT score FROM ratings WHERE ratee_user_id=$1`, userID)
}

func (p *PostgresStore) queryScores(ctx context.Context, query, id string) ([]int, error) {
	rows, err := p.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var s int
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- conversations ---

const convCols = `user_jid, state, language, vehicle_type, name, phone, location_text, location_lat, location_lng,
 destination, identifier_text, wait_time_minutes, ride_id, test_mode, warning_sent, cpf_attempts,
 last_activity_at, is_active, completion_reason`

func (p *PostgresStore) UpsertConversation(ctx context.Context, cs *models.ConversationState) error {
	var lat, lng *float64
	if cs.LocationPin != nil {
		lat, lng = &cs.LocationPin.Lat, &cs.LocationPin.Lng
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO conversations(`+convCols+`)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		 ON CONFLICT (user_jid) DO UPDATE SET
		   state=EXCLUDED.state, language=EXCLUDED.language, vehicle_type=EXCLUDED.vehicle_type,
		   name=EXCLUDED.name, phone=EXCLUDED.phone, location_text=EXCLUDED.location_text,
		   location_lat=EXCLUDED.location_lat, location_lng=EXCLUDED.location_lng,
		   destination=EXCLUDED.destination, identifier_text=EXCLUDED.identifier_text,
		   wait_time_minutes=EXCLUDED.wait_time_minutes, ride_id=EXCLUDED.ride_id,
		   test_mode=EXCLUDED.test_mode, warning_sent=EXCLUDED.warning_sent,
		   cpf_attempts=EXCLUDED.cpf_attempts, last_activity_at=EXCLUDED.last_activity_at,
		   is_active=EXCLUDED.is_active, completion_reason=EXCLUDED.completion_reason`,
		cs.UserJID, cs.State, nullStr(string(cs.Language)), nullStr(string(cs.VehicleType)),
		nullStr(cs.Name), nullStr(cs.Phone), nullStr(cs.LocationText), lat, lng,
		nullStr(cs.Destination), nullStr(cs.IdentifierText), cs.WaitTimeMinutes, cs.RideID,
		cs.TestMode, cs.WarningSent, cs.CPFAttempts, cs.LastActivityAt, cs.IsActive,
		nullStr(cs.CompletionReason))
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetConversation(ctx context.Context, userJID string) (*models.ConversationState, error) {
	return scanConversationFrom(p.db.QueryRowContext(ctx,
		`SELECT `+convCols+` FROM conversations WHERE user_jid=$1`, userJID))
}

func (p *PostgresStore) FindActiveConversationByRideID(ctx context.Context, rideID int64) (*models.ConversationState, error) {
	return scanConversationFrom(p.db.QueryRowContext(ctx,
		`SELECT `+convCols+` FROM conversations WHERE is_active AND ride_id=$1 LIMIT 1`, rideID))
}

func (p *PostgresStore) ListActiveConversations(ctx context.Context) ([]models.ConversationState, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+convCols+` FROM conversations WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("list active conversations: %w", err)
	}
	defer rows.Close()
	var out []models.ConversationState
	for rows.Next() {
		cs, err := scanConversationFrom(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cs)
	}
	return out, rows.Err()
}

func scanConversationFrom(s rowScanner) (*models.ConversationState, error) {
	var cs models.ConversationState
	var lang, vt, name, phone, locText, dest, ident, reason sql.NullString
	var lat, lng sql.NullFloat64
	var rideID sql.NullInt64
	err := s.Scan(&cs.UserJID, &cs.State, &lang, &vt, &name, &phone, &locText, &lat, &lng,
		&dest, &ident, &cs.WaitTimeMinutes, &rideID, &cs.TestMode, &cs.WarningSent,
		&cs.CPFAttempts, &cs.LastActivityAt, &cs.IsActive, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}
	cs.Language = models.Language(lang.String)
	cs.VehicleType = models.VehicleType(vt.String)
	cs.Name, cs.Phone, cs.LocationText = name.String, phone.String, locText.String
	cs.Destination, cs.IdentifierText, cs.CompletionReason = dest.String, ident.String, reason.String
	if lat.Valid && lng.Valid {
		cs.LocationPin = &models.Coord{Lat: lat.Float64, Lng: lng.Float64}
	}
	if rideID.Valid {
		v := rideID.Int64
		cs.RideID = &v
	}
	return &cs, nil
}

// --- helpers ---

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
