package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"parking-sensor-service/internal/model"
	"parking-sensor-service/internal/repository"
	"parking-sensor-service/internal/storage"
	"parking-sensor-service/internal/utils"
)

// ManagementService backs the authenticated endpoints: sensor
// provisioning, event history, penalties, push subscriptions, and lot
// photo uploads.
type ManagementService struct {
	repo    *repository.ParkingRepository
	storage *storage.R2Client
	log     zerolog.Logger
}

func NewManagementService(repo *repository.ParkingRepository, r2 *storage.R2Client, log zerolog.Logger) *ManagementService {
	return &ManagementService{repo: repo, storage: r2, log: log}
}

type SensorInfo struct {
	ID            uuid.UUID  `json:"id"`
	LotID         uuid.UUID  `json:"lot_id"`
	SpotNumber    string     `json:"spot_number"`
	SensorID      string     `json:"sensor_id"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// ProvisionedSensor is returned once, on creation; it is the only
// place the API key is ever exposed.
type ProvisionedSensor struct {
	SensorInfo
	APIKey string `json:"api_key"`
}

// ownedLot enforces that principal owns the lot. Admins skip the
// ownership check.
func (s *ManagementService) ownedLot(ctx context.Context, principal model.Principal, lotID uuid.UUID) (*repository.ParkingLot, error) {
	if principal.IsAdmin() {
		lot, err := s.repo.GetLot(ctx, lotID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: parking lot not found", ErrNotFound)
			}
			return nil, err
		}
		return lot, nil
	}

	lot, err := s.repo.GetLotOwnedBy(ctx, lotID, principal.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: parking lot not found", ErrNotFound)
		}
		return nil, err
	}
	return lot, nil
}

func (s *ManagementService) ListSensors(ctx context.Context, principal model.Principal, lotID uuid.UUID) ([]SensorInfo, error) {
	if _, err := s.ownedLot(ctx, principal, lotID); err != nil {
		return nil, err
	}

	sensors, err := s.repo.ListSensors(ctx, lotID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sensors: %w", err)
	}

	infos := make([]SensorInfo, 0, len(sensors))
	for _, sensor := range sensors {
		infos = append(infos, SensorInfo{
			ID:            sensor.ID,
			LotID:         sensor.LotID,
			SpotNumber:    sensor.SpotNumber,
			SensorID:      sensor.SensorID,
			Status:        sensor.Status,
			LastHeartbeat: sensor.LastHeartbeat,
			CreatedAt:     sensor.CreatedAt,
		})
	}
	return infos, nil
}

// CreateSensor provisions a sensor for one spot. The sensor id is
// derived from the lot and spot so installers can read it off the
// device label; the api key is random.
func (s *ManagementService) CreateSensor(ctx context.Context, principal model.Principal, lotID uuid.UUID, spotNumber string) (*ProvisionedSensor, error) {
	spotNumber = strings.TrimSpace(spotNumber)
	if spotNumber == "" {
		return nil, fmt.Errorf("%w: spot_number is required", ErrInvalidInput)
	}

	if _, err := s.ownedLot(ctx, principal, lotID); err != nil {
		return nil, err
	}

	apiKey, err := randomKey(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	sensor := repository.SensorConfig{
		LotID:      lotID,
		SpotNumber: spotNumber,
		SensorID:   utils.NormalizeSensorID(fmt.Sprintf("ESP32_%s_%s", lotID.String()[:8], spotNumber)),
		APIKey:     apiKey,
		Status:     "active",
	}
	if err := s.repo.CreateSensor(ctx, &sensor); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("sensor_id", sensor.SensorID).
		Str("lot_id", lotID.String()).
		Str("spot_number", spotNumber).
		Msg("sensor provisioned")

	return &ProvisionedSensor{
		SensorInfo: SensorInfo{
			ID:         sensor.ID,
			LotID:      sensor.LotID,
			SpotNumber: sensor.SpotNumber,
			SensorID:   sensor.SensorID,
			Status:     sensor.Status,
			CreatedAt:  sensor.CreatedAt,
		},
		APIKey: apiKey,
	}, nil
}

func (s *ManagementService) FindEvents(ctx context.Context, principal model.Principal, filter repository.EventFilter) ([]repository.ParkingEvent, error) {
	if filter.LotID == nil {
		return nil, fmt.Errorf("%w: lot_id is required", ErrInvalidInput)
	}
	if _, err := s.ownedLot(ctx, principal, *filter.LotID); err != nil {
		return nil, err
	}

	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	events, err := s.repo.FindEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return events, nil
}

func (s *ManagementService) LatestSpotEvent(ctx context.Context, spotNumber string) (*repository.ParkingEvent, error) {
	if spotNumber == "" {
		return nil, fmt.Errorf("%w: spot number is required", ErrInvalidInput)
	}
	event, err := s.repo.LatestEvent(ctx, spotNumber)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no events for spot %s", ErrNotFound, spotNumber)
		}
		return nil, err
	}
	return event, nil
}

func (s *ManagementService) FindPenalties(ctx context.Context, principal model.Principal, bookingID uuid.UUID) ([]repository.Penalty, error) {
	penalties, err := s.repo.FindPenalties(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to query penalties: %w", err)
	}

	// Renters only see their own penalties.
	if !principal.IsAdmin() && !principal.IsLotOwner() {
		filtered := penalties[:0]
		for _, p := range penalties {
			if p.UserID == principal.UserID {
				filtered = append(filtered, p)
			}
		}
		penalties = filtered
	}
	return penalties, nil
}

type SubscriptionInput struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s *ManagementService) SubscribePush(ctx context.Context, principal model.Principal, input SubscriptionInput) error {
	if input.Endpoint == "" || input.Keys.P256dh == "" || input.Keys.Auth == "" {
		return fmt.Errorf("%w: endpoint, keys.p256dh and keys.auth are required", ErrInvalidInput)
	}

	sub := repository.PushSubscription{
		UserID:   principal.UserID,
		Endpoint: input.Endpoint,
		P256dh:   input.Keys.P256dh,
		Auth:     input.Keys.Auth,
	}
	if err := s.repo.UpsertSubscription(ctx, &sub); err != nil {
		return fmt.Errorf("failed to save push subscription: %w", err)
	}

	s.log.Info().
		Str("user_id", principal.UserID.String()).
		Msg("push subscription saved")
	return nil
}

// UploadLotPhoto stores the photo in object storage and appends its
// URL to the lot record.
func (s *ManagementService) UploadLotPhoto(ctx context.Context, principal model.Principal, lotID uuid.UUID, filename string, body io.Reader, size int64, contentType string) (string, error) {
	if s.storage == nil {
		return "", storage.ErrNotConfigured
	}
	if _, err := s.ownedLot(ctx, principal, lotID); err != nil {
		return "", err
	}

	url, err := s.storage.UploadLotPhoto(ctx, lotID, filename, body, size, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload lot photo: %w", err)
	}

	if err := s.repo.AppendLotPhoto(ctx, lotID, url); err != nil {
		return "", fmt.Errorf("failed to attach photo to lot: %w", err)
	}

	s.log.Info().
		Str("lot_id", lotID.String()).
		Str("url", url).
		Msg("lot photo uploaded")
	return url, nil
}

func randomKey(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
