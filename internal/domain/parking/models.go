package parking

import (
	"time"

	"github.com/google/uuid"
)

// SensorReading is one sample from a spot's three ultrasonic sensors.
// Distances are centimeters; realistic hardware range is 0-400.
type SensorReading struct {
	LeftDistanceCm   float64 `json:"left_distance"`
	CenterDistanceCm float64 `json:"center_distance"`
	RightDistanceCm  float64 `json:"right_distance"`
	Timestamp        int64   `json:"timestamp,omitempty"` // epoch milliseconds
}

type OccupancyStatus string

const (
	StatusOccupied OccupancyStatus = "occupied"
	StatusEmpty    OccupancyStatus = "empty"
	// Produced only by the legacy single-sample revision; the current
	// processor derives entry/exit from stable transitions instead.
	StatusEntering OccupancyStatus = "entering"
	StatusExiting  OccupancyStatus = "exiting"
)

type Alignment string

const (
	AlignmentCentered    Alignment = "centered"
	AlignmentLeftBiased  Alignment = "left_biased"
	AlignmentRightBiased Alignment = "right_biased"
	AlignmentSevere      Alignment = "severely_misaligned"
)

// ParkingStatus is the simplified 3-valued status that drives booking
// state changes and stability comparison.
type ParkingStatus string

const (
	ParkingMisparked ParkingStatus = "misparked"
	ParkingParked    ParkingStatus = "parked"
	ParkingEmpty     ParkingStatus = "empty"
)

type Transition string

const (
	TransitionEntry Transition = "entry"
	TransitionExit  Transition = "exit"
	TransitionNone  Transition = "none"
)

type EventType string

const (
	EventSensorUpdate EventType = "sensor_update"
	EventEntry        EventType = "entry"
	EventExit         EventType = "exit"
	EventMisparked    EventType = "misparked"
)

type Metrics struct {
	CenterOffsetCm    float64 `json:"center_offset_cm"`
	AngleDeviationDeg float64 `json:"angle_deviation_deg"`
	SpaceUtilization  float64 `json:"space_utilization"`
}

// Analysis is the classifier output for a single reading.
type Analysis struct {
	Status       OccupancyStatus `json:"status"`
	Alignment    Alignment       `json:"alignment"`
	IsMisparked  bool            `json:"is_misparked"`
	QualityScore float64         `json:"quality_score"`
	Warnings     []string        `json:"warnings"`
	Metrics      Metrics         `json:"metrics"`
}

// SensorData is the payload embedded in every persisted parking event.
type SensorData struct {
	RawDistances  SensorReading `json:"raw_distances"`
	Analysis      Analysis      `json:"analysis"`
	Stable        bool          `json:"stable"`
	Transition    Transition    `json:"transition"`
	ParkingStatus ParkingStatus `json:"parking_status"`
	Timestamp     int64         `json:"timestamp"`
}

// Event is one append-only parking event row, produced for every
// processed reading regardless of side effects.
type Event struct {
	ID         uuid.UUID
	LotID      uuid.UUID
	BookingID  *uuid.UUID
	SpotNumber string
	EventType  EventType
	SensorData SensorData
	DetectedAt time.Time
}

type BookingStatus string

const (
	BookingUpcoming  BookingStatus = "upcoming"
	BookingActive    BookingStatus = "active"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

type BookingParkingStatus string

const (
	BookingParkingNormal    BookingParkingStatus = "normal"
	BookingParkingMisparked BookingParkingStatus = "misparked"
)

// ActiveBooking is the slice of booking state the processor needs.
type ActiveBooking struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	Status        BookingStatus
	ParkingStatus BookingParkingStatus
}

// LotInfo identifies the lot a reading belongs to, plus what
// notifications need to address it by.
type LotInfo struct {
	ID      uuid.UUID
	OwnerID uuid.UUID
	Name    string
}

// Notification is a push payload requested by the processor. Delivery
// is best effort and owned by the caller.
type Notification struct {
	UserID uuid.UUID      `json:"user_id"`
	Title  string         `json:"title"`
	Body   string         `json:"body"`
	Data   map[string]any `json:"data,omitempty"`
}
