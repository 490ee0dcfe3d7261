package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"parking-sensor-service/internal/bus"
	"parking-sensor-service/internal/config"
	"parking-sensor-service/internal/domain/parking"
	"parking-sensor-service/internal/notify"
	"parking-sensor-service/internal/repository"
	"parking-sensor-service/internal/state"
	"parking-sensor-service/internal/utils"
	"parking-sensor-service/internal/ws"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Store is the slice of the repository the webhook pipeline uses.
type Store interface {
	FindActiveSensor(ctx context.Context, sensorID, apiKey string) (*repository.SensorConfig, error)
	TouchHeartbeat(ctx context.Context, sensorID uuid.UUID) error
	LastReadings(ctx context.Context, lotID uuid.UUID, spotNumber string, limit int) ([]parking.SensorReading, error)
	FindActiveBooking(ctx context.Context, lotID uuid.UUID, spotNumber string, now time.Time) (*repository.Booking, error)
	CreateEvent(ctx context.Context, event *parking.Event) error
	UpdateBookingStatus(ctx context.Context, bookingID uuid.UUID, status parking.BookingStatus) error
	UpdateBookingParkingStatus(ctx context.Context, bookingID uuid.UUID, status parking.BookingParkingStatus) error
	HasPendingMisparkPenalty(ctx context.Context, bookingID uuid.UUID) (bool, error)
	CreateMisparkPenalty(ctx context.Context, req parking.PenaltyRequest) (bool, uuid.UUID, error)
	IncrementAvailableSpots(ctx context.Context, lotID uuid.UUID) error
}

type Broadcaster interface {
	BroadcastEvent(event parking.Event)
}

type EventPublisher interface {
	Publish(ctx context.Context, event parking.Event) error
}

type SensorService struct {
	store     Store
	repo      *repository.ParkingRepository
	processor parking.Processor
	notifier  notify.Notifier
	hub       Broadcaster
	publisher EventPublisher
	log       zerolog.Logger
}

func NewSensorService(
	repo *repository.ParkingRepository,
	cfg config.SensorConfig,
	notifier notify.Notifier,
	hub *ws.Hub,
	publisher *bus.Publisher,
	log zerolog.Logger,
) *SensorService {
	classifier := parking.NewClassifier(cfg.Thresholds, cfg.Scoring)
	s := &SensorService{
		store:     repo,
		repo:      repo,
		processor: parking.NewProcessor(classifier, cfg.PenaltyAmount),
		notifier:  notifier,
		log:       log,
	}
	if hub != nil {
		s.hub = hub
	}
	if publisher != nil {
		s.publisher = publisher
	}
	return s
}

// WebhookPayload is the canonical, already-normalized reading the HTTP
// boundary hands over.
type WebhookPayload struct {
	SensorID   string
	APIKey     string
	SpotNumber string
	Reading    parking.SensorReading
}

type WebhookResult struct {
	EventID    uuid.UUID             `json:"event_id"`
	EventType  parking.EventType     `json:"event_type"`
	Analysis   parking.Analysis      `json:"analysis"`
	Status     parking.ParkingStatus `json:"parking_status"`
	Stable     bool                  `json:"stable"`
	Transition parking.Transition    `json:"transition"`
	Message    string                `json:"message"`
}

// ProcessReading runs the full webhook pipeline for one reading:
// credentials, history, booking context, classification, event
// persistence, and side effects. Only validation, credential and
// event-write failures surface to the caller; everything downstream is
// logged and swallowed so the sensor still gets its classification.
func (s *SensorService) ProcessReading(ctx context.Context, payload WebhookPayload) (*WebhookResult, error) {
	if payload.SensorID == "" {
		return nil, fmt.Errorf("%w: sensor_id is required", ErrInvalidInput)
	}
	if payload.APIKey == "" {
		return nil, fmt.Errorf("%w: api_key is required", ErrInvalidInput)
	}
	if payload.SpotNumber == "" {
		return nil, fmt.Errorf("%w: spot_number is required", ErrInvalidInput)
	}

	sensorID := utils.NormalizeSensorID(payload.SensorID)

	sensor, err := s.store.FindActiveSensor(ctx, sensorID, payload.APIKey)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("sensor_id", sensorID).
			Msg("invalid sensor credentials")
		return nil, fmt.Errorf("%w: invalid sensor credentials", ErrUnauthorized)
	}

	if err := s.store.TouchHeartbeat(ctx, sensor.ID); err != nil {
		s.log.Warn().
			Err(err).
			Str("sensor_id", sensorID).
			Msg("failed to update sensor heartbeat")
	}

	now := time.Now()

	history, err := s.store.LastReadings(ctx, sensor.LotID, payload.SpotNumber, 2)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("spot_number", payload.SpotNumber).
			Msg("failed to load reading history, transition detection suppressed")
		history = nil
	}

	bookingRow, err := s.store.FindActiveBooking(ctx, sensor.LotID, payload.SpotNumber, now)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("spot_number", payload.SpotNumber).
			Msg("failed to look up active booking")
		bookingRow = nil
	}

	var booking *parking.ActiveBooking
	hasPendingPenalty := false
	if bookingRow != nil {
		booking = &parking.ActiveBooking{
			ID:            bookingRow.ID,
			UserID:        bookingRow.UserID,
			Status:        parking.BookingStatus(bookingRow.Status),
			ParkingStatus: parking.BookingParkingStatus(bookingRow.ParkingStatus),
		}
		hasPendingPenalty, err = s.store.HasPendingMisparkPenalty(ctx, bookingRow.ID)
		if err != nil {
			s.log.Warn().
				Err(err).
				Str("booking_id", bookingRow.ID.String()).
				Msg("failed to check pending penalties")
			hasPendingPenalty = false
		}
	}

	result := s.processor.Process(parking.ProcessInput{
		LotID:      sensor.LotID,
		SpotNumber: payload.SpotNumber,
		Reading:    payload.Reading,
		History:    history,
		Booking:    booking,
		Lot: parking.LotInfo{
			ID:      sensor.Lot.ID,
			OwnerID: sensor.Lot.UserID,
			Name:    sensor.Lot.Name,
		},
		HasPendingPenalty: hasPendingPenalty,
		Now:               now,
	})

	if err := s.store.CreateEvent(ctx, &result.Event); err != nil {
		s.log.Error().
			Err(err).
			Str("sensor_id", sensorID).
			Str("spot_number", payload.SpotNumber).
			Msg("failed to create parking event")
		return nil, fmt.Errorf("failed to create parking event: %w", err)
	}

	s.log.Info().
		Str("event_id", result.Event.ID.String()).
		Str("event_type", string(result.Event.EventType)).
		Str("spot_number", payload.SpotNumber).
		Str("parking_status", string(result.Status)).
		Bool("stable", result.Stable).
		Str("transition", string(result.Transition)).
		Msg("parking event recorded")

	s.applySideEffects(ctx, result.SideEffects, booking)

	if s.hub != nil {
		s.hub.BroadcastEvent(result.Event)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, result.Event); err != nil {
			s.log.Warn().
				Err(err).
				Str("event_id", result.Event.ID.String()).
				Msg("failed to publish event to bus")
		}
	}

	message := "Parking data recorded successfully"
	if len(result.Analysis.Warnings) > 0 {
		message = strings.Join(result.Analysis.Warnings, ". ")
	}

	return &WebhookResult{
		EventID:    result.Event.ID,
		EventType:  result.Event.EventType,
		Analysis:   result.Analysis,
		Status:     result.Status,
		Stable:     result.Stable,
		Transition: result.Transition,
		Message:    message,
	}, nil
}

// applySideEffects executes the processor's decisions in order. Every
// failure here is downstream of the persisted event and is logged
// rather than surfaced.
func (s *SensorService) applySideEffects(ctx context.Context, effects []parking.SideEffect, booking *parking.ActiveBooking) {
	for _, effect := range effects {
		switch effect.Type {
		case parking.EffectSetParkingStatus:
			if err := s.store.UpdateBookingParkingStatus(ctx, effect.BookingID, effect.ParkingStatus); err != nil {
				s.log.Error().
					Err(err).
					Str("booking_id", effect.BookingID.String()).
					Msg("failed to update booking parking status")
			}

		case parking.EffectIssuePenalty:
			s.issuePenalty(ctx, effect.Penalty)

		case parking.EffectNotify:
			notify.Fanout(ctx, s.notifier, s.log, []parking.Notification{*effect.Notification})

		case parking.EffectActivateBooking:
			s.transitionBooking(ctx, booking, effect.BookingID, state.EventActivate)

		case parking.EffectCompleteBooking:
			s.transitionBooking(ctx, booking, effect.BookingID, state.EventComplete)

		case parking.EffectReleaseSpot:
			if err := s.store.IncrementAvailableSpots(ctx, effect.LotID); err != nil {
				s.log.Error().
					Err(err).
					Str("lot_id", effect.LotID.String()).
					Msg("failed to increment available spots")
			}
		}
	}
}

func (s *SensorService) issuePenalty(ctx context.Context, req *parking.PenaltyRequest) {
	created, penaltyID, err := s.store.CreateMisparkPenalty(ctx, *req)
	if err != nil {
		s.log.Error().
			Err(err).
			Str("booking_id", req.BookingID.String()).
			Msg("failed to create misparking penalty")
		return
	}
	if !created {
		// Lost the race against a concurrent webhook; the other
		// request owns the notifications.
		s.log.Debug().
			Str("booking_id", req.BookingID.String()).
			Msg("pending misparking penalty already exists")
		return
	}

	s.log.Info().
		Str("penalty_id", penaltyID.String()).
		Str("booking_id", req.BookingID.String()).
		Float64("amount", req.Amount).
		Msg("misparking penalty issued")

	notifications := make([]parking.Notification, len(req.Notifications))
	for i, n := range req.Notifications {
		if n.Data == nil {
			n.Data = map[string]any{}
		}
		n.Data["penalty_id"] = penaltyID.String()
		notifications[i] = n
	}
	notify.Fanout(ctx, s.notifier, s.log, notifications)
}

func (s *SensorService) transitionBooking(ctx context.Context, booking *parking.ActiveBooking, bookingID uuid.UUID, event string) {
	current := parking.BookingActive
	if booking != nil {
		current = booking.Status
	}

	machine := state.NewBookingMachine(current)
	next, err := machine.Fire(ctx, event)
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("booking_id", bookingID.String()).
			Str("event", event).
			Msg("booking transition rejected")
		return
	}

	if err := s.store.UpdateBookingStatus(ctx, bookingID, next); err != nil {
		s.log.Error().
			Err(err).
			Str("booking_id", bookingID.String()).
			Str("status", string(next)).
			Msg("failed to update booking status")
		return
	}

	s.log.Info().
		Str("booking_id", bookingID.String()).
		Str("status", string(next)).
		Msg("booking status updated")
}
