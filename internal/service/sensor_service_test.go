package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"parking-sensor-service/internal/domain/parking"
	"parking-sensor-service/internal/repository"
)

type fakeStore struct {
	sensor    *repository.SensorConfig
	sensorErr error
	history   []parking.SensorReading
	booking   *repository.Booking
	pending   bool

	createEventErr error
	penaltyLost    bool

	events           []parking.Event
	statusUpdates    map[uuid.UUID]parking.BookingStatus
	parkingUpdates   map[uuid.UUID]parking.BookingParkingStatus
	penalties        []parking.PenaltyRequest
	spotsReleased    []uuid.UUID
	heartbeatTouched bool
}

func (f *fakeStore) FindActiveSensor(_ context.Context, sensorID, apiKey string) (*repository.SensorConfig, error) {
	if f.sensorErr != nil {
		return nil, f.sensorErr
	}
	if f.sensor == nil || f.sensor.SensorID != sensorID || f.sensor.APIKey != apiKey {
		return nil, gorm.ErrRecordNotFound
	}
	return f.sensor, nil
}

func (f *fakeStore) TouchHeartbeat(context.Context, uuid.UUID) error {
	f.heartbeatTouched = true
	return nil
}

func (f *fakeStore) LastReadings(context.Context, uuid.UUID, string, int) ([]parking.SensorReading, error) {
	return f.history, nil
}

func (f *fakeStore) FindActiveBooking(context.Context, uuid.UUID, string, time.Time) (*repository.Booking, error) {
	return f.booking, nil
}

func (f *fakeStore) CreateEvent(_ context.Context, event *parking.Event) error {
	if f.createEventErr != nil {
		return f.createEventErr
	}
	event.ID = uuid.New()
	f.events = append(f.events, *event)
	return nil
}

func (f *fakeStore) UpdateBookingStatus(_ context.Context, id uuid.UUID, status parking.BookingStatus) error {
	if f.statusUpdates == nil {
		f.statusUpdates = map[uuid.UUID]parking.BookingStatus{}
	}
	f.statusUpdates[id] = status
	return nil
}

func (f *fakeStore) UpdateBookingParkingStatus(_ context.Context, id uuid.UUID, status parking.BookingParkingStatus) error {
	if f.parkingUpdates == nil {
		f.parkingUpdates = map[uuid.UUID]parking.BookingParkingStatus{}
	}
	f.parkingUpdates[id] = status
	return nil
}

func (f *fakeStore) HasPendingMisparkPenalty(context.Context, uuid.UUID) (bool, error) {
	return f.pending, nil
}

func (f *fakeStore) CreateMisparkPenalty(_ context.Context, req parking.PenaltyRequest) (bool, uuid.UUID, error) {
	if f.penaltyLost {
		return false, uuid.Nil, nil
	}
	f.penalties = append(f.penalties, req)
	return true, uuid.New(), nil
}

func (f *fakeStore) IncrementAvailableSpots(_ context.Context, lotID uuid.UUID) error {
	f.spotsReleased = append(f.spotsReleased, lotID)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []parking.Notification
}

func (f *fakeNotifier) Send(_ context.Context, n parking.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func newTestService(store *fakeStore, notifier *fakeNotifier) *SensorService {
	classifier := parking.NewClassifier(parking.DefaultThresholds(), parking.ScoringBinary)
	return &SensorService{
		store:     store,
		processor: parking.NewProcessor(classifier, 50),
		notifier:  notifier,
		log:       zerolog.Nop(),
	}
}

func testSensor() *repository.SensorConfig {
	lotID := uuid.New()
	return &repository.SensorConfig{
		ID:       uuid.New(),
		LotID:    lotID,
		SensorID: "ESP32_LOT1_A1",
		APIKey:   "secret",
		Status:   "active",
		Lot: repository.ParkingLot{
			ID:     lotID,
			UserID: uuid.New(),
			Name:   "Central Lot",
		},
	}
}

func reading(l, c, r float64) parking.SensorReading {
	return parking.SensorReading{LeftDistanceCm: l, CenterDistanceCm: c, RightDistanceCm: r}
}

func TestProcessReadingValidation(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeNotifier{})

	cases := []WebhookPayload{
		{APIKey: "k", SpotNumber: "A1"},
		{SensorID: "s", SpotNumber: "A1"},
		{SensorID: "s", APIKey: "k"},
	}
	for _, payload := range cases {
		if _, err := svc.ProcessReading(context.Background(), payload); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("payload %+v: got %v, want ErrInvalidInput", payload, err)
		}
	}
}

func TestProcessReadingBadCredentials(t *testing.T) {
	store := &fakeStore{sensor: testSensor()}
	svc := newTestService(store, &fakeNotifier{})

	_, err := svc.ProcessReading(context.Background(), WebhookPayload{
		SensorID:   "ESP32_LOT1_A1",
		APIKey:     "wrong",
		SpotNumber: "A1",
		Reading:    reading(50, 50, 50),
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
	if len(store.events) != 0 {
		t.Fatalf("event recorded despite bad credentials")
	}
}

func TestProcessReadingNormalizesSensorID(t *testing.T) {
	store := &fakeStore{sensor: testSensor()}
	svc := newTestService(store, &fakeNotifier{})

	result, err := svc.ProcessReading(context.Background(), WebhookPayload{
		SensorID:   "  esp32_lot1_a1 ",
		APIKey:     "secret",
		SpotNumber: "A1",
		Reading:    reading(50, 50, 50),
	})
	if err != nil {
		t.Fatalf("ProcessReading: %v", err)
	}
	if result.EventType != parking.EventSensorUpdate {
		t.Fatalf("event type = %s, want sensor_update", result.EventType)
	}
	if !store.heartbeatTouched {
		t.Fatalf("heartbeat not touched")
	}
	if len(store.events) != 1 {
		t.Fatalf("events recorded = %d, want 1", len(store.events))
	}
}

func TestProcessReadingEventWriteFailureIsFatal(t *testing.T) {
	store := &fakeStore{
		sensor:         testSensor(),
		createEventErr: errors.New("connection reset"),
	}
	svc := newTestService(store, &fakeNotifier{})

	_, err := svc.ProcessReading(context.Background(), WebhookPayload{
		SensorID:   "ESP32_LOT1_A1",
		APIKey:     "secret",
		SpotNumber: "A1",
		Reading:    reading(50, 50, 50),
	})
	if err == nil || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrUnauthorized) {
		t.Fatalf("got %v, want plain event write error", err)
	}
}

func TestProcessReadingMisparkIssuesPenalty(t *testing.T) {
	sensor := testSensor()
	booking := &repository.Booking{
		ID:            uuid.New(),
		LotID:         sensor.LotID,
		UserID:        uuid.New(),
		SpotNumber:    "A1",
		Status:        "active",
		ParkingStatus: "normal",
	}
	store := &fakeStore{sensor: sensor, booking: booking}
	notifier := &fakeNotifier{}
	svc := newTestService(store, notifier)

	result, err := svc.ProcessReading(context.Background(), WebhookPayload{
		SensorID:   "ESP32_LOT1_A1",
		APIKey:     "secret",
		SpotNumber: "A1",
		Reading:    reading(20, 50, 120), // severe misalignment
	})
	if err != nil {
		t.Fatalf("ProcessReading: %v", err)
	}
	if result.Status != parking.ParkingMisparked {
		t.Fatalf("status = %s, want misparked", result.Status)
	}

	if got := store.parkingUpdates[booking.ID]; got != parking.BookingParkingMisparked {
		t.Fatalf("booking parking status = %s, want misparked", got)
	}
	if len(store.penalties) != 1 {
		t.Fatalf("penalties = %d, want 1", len(store.penalties))
	}
	if store.penalties[0].Amount != 50 {
		t.Fatalf("penalty amount = %v, want 50", store.penalties[0].Amount)
	}

	// Renter and owner both notified, each carrying the penalty id.
	if len(notifier.sent) != 2 {
		t.Fatalf("notifications = %d, want 2", len(notifier.sent))
	}
	for _, n := range notifier.sent {
		if n.Data["penalty_id"] == nil || n.Data["penalty_id"] == "" {
			t.Fatalf("notification %q missing penalty_id", n.Title)
		}
	}
}

func TestProcessReadingPenaltyRaceLostSkipsNotifications(t *testing.T) {
	sensor := testSensor()
	store := &fakeStore{
		sensor: sensor,
		booking: &repository.Booking{
			ID:         uuid.New(),
			LotID:      sensor.LotID,
			UserID:     uuid.New(),
			SpotNumber: "A1",
			Status:     "active",
		},
		penaltyLost: true,
	}
	notifier := &fakeNotifier{}
	svc := newTestService(store, notifier)

	_, err := svc.ProcessReading(context.Background(), WebhookPayload{
		SensorID:   "ESP32_LOT1_A1",
		APIKey:     "secret",
		SpotNumber: "A1",
		Reading:    reading(20, 50, 120),
	})
	if err != nil {
		t.Fatalf("ProcessReading: %v", err)
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("notifications = %d, want 0 after losing penalty race", len(notifier.sent))
	}
}

func TestProcessReadingPendingPenaltySuppressesNewOne(t *testing.T) {
	sensor := testSensor()
	store := &fakeStore{
		sensor: sensor,
		booking: &repository.Booking{
			ID:         uuid.New(),
			LotID:      sensor.LotID,
			UserID:     uuid.New(),
			SpotNumber: "A1",
			Status:     "active",
		},
		pending: true,
	}
	svc := newTestService(store, &fakeNotifier{})

	_, err := svc.ProcessReading(context.Background(), WebhookPayload{
		SensorID:   "ESP32_LOT1_A1",
		APIKey:     "secret",
		SpotNumber: "A1",
		Reading:    reading(20, 50, 120),
	})
	if err != nil {
		t.Fatalf("ProcessReading: %v", err)
	}
	if len(store.penalties) != 0 {
		t.Fatalf("penalties = %d, want 0 while one is pending", len(store.penalties))
	}
}

func TestProcessReadingExitCompletesBooking(t *testing.T) {
	sensor := testSensor()
	booking := &repository.Booking{
		ID:         uuid.New(),
		LotID:      sensor.LotID,
		UserID:     uuid.New(),
		SpotNumber: "A1",
		Status:     "active",
	}
	occupied := reading(50, 50, 50)
	store := &fakeStore{
		sensor:  sensor,
		booking: booking,
		history: []parking.SensorReading{occupied, occupied},
	}
	notifier := &fakeNotifier{}
	svc := newTestService(store, notifier)

	result, err := svc.ProcessReading(context.Background(), WebhookPayload{
		SensorID:   "ESP32_LOT1_A1",
		APIKey:     "secret",
		SpotNumber: "A1",
		Reading:    reading(300, 305, 302),
	})
	if err != nil {
		t.Fatalf("ProcessReading: %v", err)
	}
	if result.EventType != parking.EventExit {
		t.Fatalf("event type = %s, want exit", result.EventType)
	}
	if got := store.statusUpdates[booking.ID]; got != parking.BookingCompleted {
		t.Fatalf("booking status = %s, want completed", got)
	}
	if len(store.spotsReleased) != 1 || store.spotsReleased[0] != sensor.LotID {
		t.Fatalf("available spots not released for lot")
	}
	if len(notifier.sent) != 2 {
		t.Fatalf("notifications = %d, want 2 on exit", len(notifier.sent))
	}
}

func TestProcessReadingRejectsInvalidBookingTransition(t *testing.T) {
	sensor := testSensor()
	booking := &repository.Booking{
		ID:         uuid.New(),
		LotID:      sensor.LotID,
		UserID:     uuid.New(),
		SpotNumber: "A1",
		Status:     "completed",
	}
	occupied := reading(50, 50, 50)
	store := &fakeStore{
		sensor:  sensor,
		booking: booking,
		history: []parking.SensorReading{occupied, occupied},
	}
	svc := newTestService(store, &fakeNotifier{})

	_, err := svc.ProcessReading(context.Background(), WebhookPayload{
		SensorID:   "ESP32_LOT1_A1",
		APIKey:     "secret",
		SpotNumber: "A1",
		Reading:    reading(300, 305, 302),
	})
	if err != nil {
		t.Fatalf("ProcessReading: %v", err)
	}
	if _, ok := store.statusUpdates[booking.ID]; ok {
		t.Fatalf("completed booking must not transition again")
	}
}
