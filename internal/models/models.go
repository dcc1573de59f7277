package models

import "time"

// VehicleType selects which driver pool a ride is broadcast to.
type VehicleType string

const (
	VehicleTaxi     VehicleType = "taxi"
	VehicleMotoTaxi VehicleType = "mototaxi"
)

// RideStatus is the lifecycle state of a ride.
type RideStatus string

const (
	RidePending   RideStatus = "pending"
	RideCompleted RideStatus = "completed"
	RideExpired   RideStatus = "expired"
	RideCancelled RideStatus = "cancelled"
)

// CancelledBy records which side cancelled a ride.
type CancelledBy string

const (
	CancelledByUser   CancelledBy = "user"
	CancelledByDriver CancelledBy = "driver"
)

// Language is the conversation language chosen by the passenger.
type Language string

const (
	LangPortuguese Language = "pt"
	LangEnglish    Language = "en"
)

// Coord is a GPS pin attached to a chat message.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// User is a passenger. JID and LID are the two transport identifier
// namespaces; a user is always reachable by at least one of them.
type User struct {
	ID         string    `json:"id"`
	JID        string    `json:"jid,omitempty"`
	LID        string    `json:"lid,omitempty"`
	Name       string    `json:"name,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Reputation *float64  `json:"reputation,omitempty"` // nil until first rating received
	CreatedAt  time.Time `json:"created_at"`
}

// Driver is a registered driver. CPF is the 11-digit national id used as a
// fallback lookup key when neither transport identifier matches.
type Driver struct {
	ID               string    `json:"id"`
	JID              string    `json:"jid,omitempty"`
	LID              string    `json:"lid,omitempty"`
	Name             string    `json:"name,omitempty"`
	Phone            string    `json:"phone,omitempty"`
	CPF              string    `json:"cpf,omitempty"`
	Reputation       *float64  `json:"reputation,omitempty"` // nil until first rating received
	IsActive         bool      `json:"is_active"`
	IsTaxiDriver     bool      `json:"is_taxi_driver"`
	IsMotoTaxiDriver bool      `json:"is_moto_taxi_driver"`
	CreatedAt        time.Time `json:"created_at"`
}

// ChatAddress returns the identifier outbound messages should be sent to.
// JID delivery is more reliable, so it wins when both are known.
func (d *Driver) ChatAddress() string {
	if d.JID != "" {
		return d.JID
	}
	return d.LID
}

// ChatAddress returns the identifier outbound messages should be sent to.
func (u *User) ChatAddress() string {
	if u.JID != "" {
		return u.JID
	}
	return u.LID
}

// EligibleFor reports whether the driver can take rides of the given type.
func (d *Driver) EligibleFor(vt VehicleType) bool {
	if !d.IsActive {
		return false
	}
	switch vt {
	case VehicleTaxi:
		return d.IsTaxiDriver
	case VehicleMotoTaxi:
		return d.IsMotoTaxiDriver
	}
	return false
}

// Ride is one passenger transport request and its lifecycle record. It is
// created as soon as the vehicle type is known and filled in field by field
// while the conversation progresses, so a crash mid-flow keeps partial data.
type Ride struct {
	ID              int64       `json:"id"`
	Status          RideStatus  `json:"status"`
	VehicleType     VehicleType `json:"vehicle_type"`
	Language        Language    `json:"language"`
	UserID          string      `json:"user_id"`
	LocationText    string      `json:"location_text,omitempty"`
	LocationPin     *Coord      `json:"location_pin,omitempty"`
	Destination     string      `json:"destination,omitempty"`
	IdentifierText  string      `json:"identifier_text,omitempty"` // how the driver spots the passenger
	WaitTimeMinutes int         `json:"wait_time_minutes"`
	RetryAttempts   int         `json:"retry_attempts"`
	TestMode        bool        `json:"test_mode"`

	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	ExpiredAt   *time.Time   `json:"expired_at,omitempty"`
	CancelledAt *time.Time   `json:"cancelled_at,omitempty"`
	CancelledBy *CancelledBy `json:"cancelled_by,omitempty"`

	PassengerRatingRequestSent bool       `json:"passenger_rating_request_sent"`
	DriverRatingRequestSent    bool       `json:"driver_rating_request_sent"`
	RatingRequestSentAt        *time.Time `json:"rating_request_sent_at,omitempty"`
	RatingDeadlineAt           *time.Time `json:"rating_deadline_at,omitempty"`
}

// WaitDeadline is the absolute instant a pending ride expires.
func (r *Ride) WaitDeadline() time.Time {
	return r.CreatedAt.Add(time.Duration(r.WaitTimeMinutes) * time.Minute)
}

// RideAssignment binds exactly one accepting driver to one ride. RideID is
// unique: at most one assignment per ride at any point in time.
type RideAssignment struct {
	ID         int64     `json:"id"`
	RideID     int64     `json:"ride_id"`
	DriverID   string    `json:"driver_id"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// RaterType identifies the direction of a rating.
type RaterType string

const (
	RaterPassenger RaterType = "passenger"
	RaterDriver    RaterType = "driver"
)

// Rating is one 1-5 star score exchanged after a completed ride.
// Immutable once created; at most one per (ride, rater type).
type Rating struct {
	ID            int64     `json:"id"`
	RideID        int64     `json:"ride_id"`
	RaterType     RaterType `json:"rater_type"`
	RaterUserID   string    `json:"rater_user_id,omitempty"`
	RaterDriverID string    `json:"rater_driver_id,omitempty"`
	RateeUserID   string    `json:"ratee_user_id,omitempty"`
	RateeDriverID string    `json:"ratee_driver_id,omitempty"`
	Score         int       `json:"score"`
	CreatedAt     time.Time `json:"created_at"`
}

// Conversation states. The main line runs top to bottom; retry and
// driver-cancel branches are entered from ride lifecycle transitions, and
// the CPF branch belongs to unrecognized drivers re-linking their account.
const (
	StateAwaitingLanguage            = "AWAITING_LANGUAGE"
	StateAwaitingVehicleType         = "AWAITING_VEHICLE_TYPE"
	StateAwaitingName                = "AWAITING_NAME"
	StateAwaitingPhone               = "AWAITING_PHONE"
	StateAwaitingLocationText        = "AWAITING_LOCATION_TEXT"
	StateAwaitingLocationPin         = "AWAITING_LOCATION_PIN"
	StateAwaitingDestination         = "AWAITING_DESTINATION"
	StateAwaitingIdentifier          = "AWAITING_IDENTIFIER"
	StateAwaitingWaitTime            = "AWAITING_WAIT_TIME"
	StateAwaitingConfirmation        = "AWAITING_CONFIRMATION"
	StateAwaitingDriverAcceptance    = "AWAITING_DRIVER_ACCEPTANCE"
	StateAwaitingRetryDecision       = "AWAITING_RETRY_DECISION"
	StateAwaitingRetryWaitTime       = "AWAITING_RETRY_WAIT_TIME"
	StateAwaitingDriverCancelChoice  = "AWAITING_DRIVER_CANCEL_DECISION"
	StateAwaitingCPFConfirmation     = "AWAITING_CPF_CONFIRMATION"
)

// ConversationState is the durable mirror of an in-memory passenger session.
// Rows are marked inactive rather than deleted when a flow ends.
type ConversationState struct {
	UserJID          string      `json:"user_jid"`
	State            string      `json:"state"`
	Language         Language    `json:"language,omitempty"`
	VehicleType      VehicleType `json:"vehicle_type,omitempty"`
	Name             string      `json:"name,omitempty"`
	Phone            string      `json:"phone,omitempty"`
	LocationText     string      `json:"location_text,omitempty"`
	LocationPin      *Coord      `json:"location_pin,omitempty"`
	Destination      string      `json:"destination,omitempty"`
	IdentifierText   string      `json:"identifier_text,omitempty"`
	WaitTimeMinutes  int         `json:"wait_time_minutes,omitempty"`
	RideID           *int64      `json:"ride_id,omitempty"`
	TestMode         bool        `json:"test_mode"`
	WarningSent      bool        `json:"warning_sent"`
	CPFAttempts      int         `json:"cpf_attempts"`
	LastActivityAt   time.Time   `json:"last_activity_at"`
	IsActive         bool        `json:"is_active"`
	CompletionReason string      `json:"completion_reason,omitempty"`
}

// RideEvent is the payload published to the ride-events stream on every
// lifecycle transition. Best effort; consumers keep ops counters from it.
type RideEvent struct {
	Type        string      `json:"type"` // broadcast, accepted, cancelled, expired, retried
	RideID      int64       `json:"ride_id"`
	VehicleType VehicleType `json:"vehicle_type"`
	DriverID    string      `json:"driver_id,omitempty"`
	At          time.Time   `json:"at"`
}
