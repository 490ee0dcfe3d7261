package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"parking-sensor-service/internal/domain/parking"
)

type ParkingRepository struct {
	db *gorm.DB
}

func NewParkingRepository(db *gorm.DB) *ParkingRepository {
	return &ParkingRepository{db: db}
}

func (ParkingLot) TableName() string {
	return "parking_lots"
}

func (Booking) TableName() string {
	return "bookings"
}

func (SensorConfig) TableName() string {
	return "sensor_configs"
}

func (ParkingEvent) TableName() string {
	return "parking_events"
}

func (Penalty) TableName() string {
	return "penalties"
}

func (PushSubscription) TableName() string {
	return "push_subscriptions"
}

type ParkingLot struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	UserID         uuid.UUID `gorm:"type:uuid;not null"`
	Name           string    `gorm:"not null"`
	Address        *string
	TotalSpots     int
	AvailableSpots int
	Photos         datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt      time.Time
}

type Booking struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	LotID         uuid.UUID `gorm:"type:uuid;not null"`
	UserID        uuid.UUID `gorm:"type:uuid;not null"`
	SpotNumber    string    `gorm:"not null"`
	Status        string    `gorm:"not null;default:upcoming"`
	ParkingStatus string    `gorm:"not null;default:normal"`
	StartDate     time.Time `gorm:"not null"`
	EndDate       time.Time `gorm:"not null"`
	CreatedAt     time.Time
}

type SensorConfig struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	LotID         uuid.UUID `gorm:"type:uuid;not null"`
	SpotNumber    string    `gorm:"not null"`
	SensorID      string    `gorm:"not null;uniqueIndex"`
	APIKey        string    `gorm:"not null"`
	Status        string    `gorm:"not null;default:active"`
	LastHeartbeat *time.Time
	CreatedAt     time.Time

	Lot ParkingLot `gorm:"foreignKey:LotID"`
}

type ParkingEvent struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	LotID          uuid.UUID  `gorm:"type:uuid;not null"`
	BookingID      *uuid.UUID `gorm:"type:uuid"`
	SpotNumber     string     `gorm:"not null"`
	EventType      string     `gorm:"not null"`
	LeftDistance   float64    `gorm:"not null"`
	CenterDistance float64    `gorm:"not null"`
	RightDistance  float64    `gorm:"not null"`
	SensorData     datatypes.JSON `gorm:"type:jsonb;not null"`
	DetectedAt     time.Time  `gorm:"not null"`
}

type Penalty struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	BookingID   uuid.UUID `gorm:"type:uuid;not null"`
	LotID       uuid.UUID `gorm:"type:uuid;not null"`
	UserID      uuid.UUID `gorm:"type:uuid;not null"`
	PenaltyType string    `gorm:"not null"`
	Amount      float64   `gorm:"not null"`
	Reason      *string
	Status      string `gorm:"not null;default:pending"`
	CreatedAt   time.Time
}

type PushSubscription struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	UserID    uuid.UUID `gorm:"type:uuid;not null"`
	Endpoint  string    `gorm:"not null"`
	P256dh    string    `gorm:"not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time
}

// FindActiveSensor resolves webhook credentials to the sensor record
// and its lot. Returns gorm.ErrRecordNotFound on a miss.
func (r *ParkingRepository) FindActiveSensor(ctx context.Context, sensorID, apiKey string) (*SensorConfig, error) {
	var sensor SensorConfig
	err := r.db.WithContext(ctx).
		Preload("Lot").
		Where("sensor_id = ? AND api_key = ? AND status = ?", sensorID, apiKey, "active").
		First(&sensor).Error
	if err != nil {
		return nil, err
	}
	return &sensor, nil
}

func (r *ParkingRepository) TouchHeartbeat(ctx context.Context, sensorID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&SensorConfig{}).
		Where("id = ?", sensorID).
		Update("last_heartbeat", time.Now()).Error
}

// LastReadings returns up to limit raw readings for a spot, newest
// first, extracted from the event log's distance columns.
func (r *ParkingRepository) LastReadings(ctx context.Context, lotID uuid.UUID, spotNumber string, limit int) ([]parking.SensorReading, error) {
	var rows []ParkingEvent
	err := r.db.WithContext(ctx).
		Where("lot_id = ? AND spot_number = ?", lotID, spotNumber).
		Order("detected_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	readings := make([]parking.SensorReading, 0, len(rows))
	for _, row := range rows {
		readings = append(readings, parking.SensorReading{
			LeftDistanceCm:   row.LeftDistance,
			CenterDistanceCm: row.CenterDistance,
			RightDistanceCm:  row.RightDistance,
			Timestamp:        row.DetectedAt.UnixMilli(),
		})
	}
	return readings, nil
}

// FindActiveBooking returns the booking with status 'active' whose
// window contains now, or nil when there is none.
func (r *ParkingRepository) FindActiveBooking(ctx context.Context, lotID uuid.UUID, spotNumber string, now time.Time) (*Booking, error) {
	var booking Booking
	err := r.db.WithContext(ctx).
		Where("lot_id = ? AND spot_number = ? AND status = ? AND start_date <= ? AND end_date >= ?",
			lotID, spotNumber, "active", now, now).
		First(&booking).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *ParkingRepository) CreateEvent(ctx context.Context, event *parking.Event) error {
	payload, err := json.Marshal(event.SensorData)
	if err != nil {
		return fmt.Errorf("marshal sensor data: %w", err)
	}

	row := ParkingEvent{
		ID:             uuid.New(),
		LotID:          event.LotID,
		BookingID:      event.BookingID,
		SpotNumber:     event.SpotNumber,
		EventType:      string(event.EventType),
		LeftDistance:   event.SensorData.RawDistances.LeftDistanceCm,
		CenterDistance: event.SensorData.RawDistances.CenterDistanceCm,
		RightDistance:  event.SensorData.RawDistances.RightDistanceCm,
		SensorData:     datatypes.JSON(payload),
		DetectedAt:     event.DetectedAt,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create parking event: %w", err)
	}

	event.ID = row.ID
	return nil
}

func (r *ParkingRepository) LatestEvent(ctx context.Context, spotNumber string) (*ParkingEvent, error) {
	var row ParkingEvent
	err := r.db.WithContext(ctx).
		Where("spot_number = ?", spotNumber).
		Order("detected_at DESC").
		First(&row).Error
	if err != nil {
		return nil, err
	}
	return &row, nil
}

type EventFilter struct {
	LotID      *uuid.UUID
	SpotNumber *string
	EventType  *string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

func (r *ParkingRepository) FindEvents(ctx context.Context, filter EventFilter) ([]ParkingEvent, error) {
	query := r.db.WithContext(ctx).Model(&ParkingEvent{})

	if filter.LotID != nil {
		query = query.Where("lot_id = ?", *filter.LotID)
	}
	if filter.SpotNumber != nil {
		query = query.Where("spot_number = ?", *filter.SpotNumber)
	}
	if filter.EventType != nil {
		query = query.Where("event_type = ?", *filter.EventType)
	}
	if filter.From != nil {
		query = query.Where("detected_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("detected_at <= ?", *filter.To)
	}

	query = query.Order("detected_at DESC")

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var events []ParkingEvent
	err := query.Find(&events).Error
	return events, err
}

func (r *ParkingRepository) UpdateBookingStatus(ctx context.Context, bookingID uuid.UUID, status parking.BookingStatus) error {
	return r.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id = ?", bookingID).
		Update("status", string(status)).Error
}

func (r *ParkingRepository) UpdateBookingParkingStatus(ctx context.Context, bookingID uuid.UUID, status parking.BookingParkingStatus) error {
	return r.db.WithContext(ctx).
		Model(&Booking{}).
		Where("id = ?", bookingID).
		Update("parking_status", string(status)).Error
}

func (r *ParkingRepository) HasPendingMisparkPenalty(ctx context.Context, bookingID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Penalty{}).
		Where("booking_id = ? AND penalty_type = ? AND status = ?", bookingID, "misparking", "pending").
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateMisparkPenalty inserts a pending misparking penalty. The
// partial unique index makes the insert a no-op when one already
// exists; created reports whether a row was actually written.
func (r *ParkingRepository) CreateMisparkPenalty(ctx context.Context, req parking.PenaltyRequest) (created bool, id uuid.UUID, err error) {
	reason := req.Reason
	row := Penalty{
		ID:          uuid.New(),
		BookingID:   req.BookingID,
		LotID:       req.LotID,
		UserID:      req.UserID,
		PenaltyType: "misparking",
		Amount:      req.Amount,
		Reason:      &reason,
		Status:      "pending",
		CreatedAt:   time.Now(),
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if result.Error != nil {
		return false, uuid.Nil, fmt.Errorf("failed to create penalty: %w", result.Error)
	}
	return result.RowsAffected > 0, row.ID, nil
}

func (r *ParkingRepository) FindPenalties(ctx context.Context, bookingID uuid.UUID) ([]Penalty, error) {
	var penalties []Penalty
	err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at DESC").
		Find(&penalties).Error
	return penalties, err
}

func (r *ParkingRepository) IncrementAvailableSpots(ctx context.Context, lotID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&ParkingLot{}).
		Where("id = ?", lotID).
		Update("available_spots", gorm.Expr("available_spots + 1")).Error
}

func (r *ParkingRepository) GetLot(ctx context.Context, lotID uuid.UUID) (*ParkingLot, error) {
	var lot ParkingLot
	err := r.db.WithContext(ctx).
		Where("id = ?", lotID).
		First(&lot).Error
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

func (r *ParkingRepository) GetLotOwnedBy(ctx context.Context, lotID, userID uuid.UUID) (*ParkingLot, error) {
	var lot ParkingLot
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", lotID, userID).
		First(&lot).Error
	if err != nil {
		return nil, err
	}
	return &lot, nil
}

func (r *ParkingRepository) ListSensors(ctx context.Context, lotID uuid.UUID) ([]SensorConfig, error) {
	var sensors []SensorConfig
	err := r.db.WithContext(ctx).
		Where("lot_id = ?", lotID).
		Order("spot_number").
		Find(&sensors).Error
	return sensors, err
}

func (r *ParkingRepository) CreateSensor(ctx context.Context, sensor *SensorConfig) error {
	sensor.ID = uuid.New()
	sensor.CreatedAt = time.Now()
	if err := r.db.WithContext(ctx).Create(sensor).Error; err != nil {
		return fmt.Errorf("failed to create sensor config: %w", err)
	}
	return nil
}

func (r *ParkingRepository) SubscriptionsForUser(ctx context.Context, userID uuid.UUID) ([]PushSubscription, error) {
	var subs []PushSubscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&subs).Error
	return subs, err
}

func (r *ParkingRepository) UpsertSubscription(ctx context.Context, sub *PushSubscription) error {
	sub.ID = uuid.New()
	sub.CreatedAt = time.Now()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).
		Create(sub).Error
}

// AppendLotPhoto adds an uploaded photo URL to the lot's photo list.
func (r *ParkingRepository) AppendLotPhoto(ctx context.Context, lotID uuid.UUID, url string) error {
	var lot ParkingLot
	if err := r.db.WithContext(ctx).Where("id = ?", lotID).First(&lot).Error; err != nil {
		return err
	}

	var photos []string
	if len(lot.Photos) > 0 {
		if err := json.Unmarshal(lot.Photos, &photos); err != nil {
			return fmt.Errorf("unmarshal lot photos: %w", err)
		}
	}
	photos = append(photos, url)

	raw, err := json.Marshal(photos)
	if err != nil {
		return fmt.Errorf("marshal lot photos: %w", err)
	}
	return r.db.WithContext(ctx).
		Model(&ParkingLot{}).
		Where("id = ?", lotID).
		Update("photos", datatypes.JSON(raw)).Error
}
