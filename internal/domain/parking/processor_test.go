package parking

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestProcessor() Processor {
	return NewProcessor(NewClassifier(DefaultThresholds(), ScoringBinary), 50)
}

var (
	occupiedReading  = SensorReading{LeftDistanceCm: 30, CenterDistanceCm: 40, RightDistanceCm: 32}
	emptyReading     = SensorReading{LeftDistanceCm: 250, CenterDistanceCm: 260, RightDistanceCm: 255}
	misparkedReading = SensorReading{LeftDistanceCm: 10, CenterDistanceCm: 40, RightDistanceCm: 60}
)

func testInput(reading SensorReading, history []SensorReading, booking *ActiveBooking) ProcessInput {
	return ProcessInput{
		LotID:      uuid.New(),
		SpotNumber: "A12",
		Reading:    reading,
		History:    history,
		Booking:    booking,
		Lot:        LotInfo{ID: uuid.New(), OwnerID: uuid.New(), Name: "Central Garage"},
		Now:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func effectTypes(effects []SideEffect) []SideEffectType {
	types := make([]SideEffectType, 0, len(effects))
	for _, e := range effects {
		types = append(types, e.Type)
	}
	return types
}

func TestProcessSimplifiedStatus(t *testing.T) {
	tests := []struct {
		name    string
		reading SensorReading
		want    ParkingStatus
	}{
		{"occupied centered", occupiedReading, ParkingParked},
		{"misparked", misparkedReading, ParkingMisparked},
		{"empty", emptyReading, ParkingEmpty},
		{"misaligned but empty center", SensorReading{LeftDistanceCm: 10, CenterDistanceCm: 150, RightDistanceCm: 60}, ParkingEmpty},
	}

	p := newTestProcessor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Process(testInput(tt.reading, nil, nil))
			if got.Status != tt.want {
				t.Errorf("status = %q, want %q", got.Status, tt.want)
			}
		})
	}
}

func TestProcessStabilityGate(t *testing.T) {
	p := newTestProcessor()

	tests := []struct {
		name       string
		history    []SensorReading
		wantStable bool
	}{
		{"no history", nil, false},
		{"single prior reading", []SensorReading{emptyReading}, false},
		{"two identical priors", []SensorReading{emptyReading, emptyReading}, true},
		{
			"two differing priors",
			[]SensorReading{emptyReading, {LeftDistanceCm: 250, CenterDistanceCm: 260, RightDistanceCm: 256}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Process(testInput(occupiedReading, tt.history, nil))
			if got.Stable != tt.wantStable {
				t.Errorf("stable = %v, want %v", got.Stable, tt.wantStable)
			}
			if !tt.wantStable && got.Transition != TransitionNone {
				t.Errorf("transition = %q, want none without stability", got.Transition)
			}
		})
	}
}

func TestProcessTransitions(t *testing.T) {
	p := newTestProcessor()

	tests := []struct {
		name           string
		history        []SensorReading
		reading        SensorReading
		wantTransition Transition
		wantEventType  EventType
	}{
		{
			name:           "entry on stable empty to occupied",
			history:        []SensorReading{emptyReading, emptyReading},
			reading:        occupiedReading,
			wantTransition: TransitionEntry,
			wantEventType:  EventEntry,
		},
		{
			name:           "exit on stable occupied to empty",
			history:        []SensorReading{occupiedReading, occupiedReading},
			reading:        emptyReading,
			wantTransition: TransitionExit,
			wantEventType:  EventExit,
		},
		{
			name:           "no transition when status unchanged",
			history:        []SensorReading{occupiedReading, occupiedReading},
			reading:        occupiedReading,
			wantTransition: TransitionNone,
			wantEventType:  EventSensorUpdate,
		},
		{
			name:           "misparked to parked is not a transition",
			history:        []SensorReading{misparkedReading, misparkedReading},
			reading:        occupiedReading,
			wantTransition: TransitionNone,
			wantEventType:  EventSensorUpdate,
		},
		{
			name:           "entry takes precedence over misparked",
			history:        []SensorReading{emptyReading, emptyReading},
			reading:        misparkedReading,
			wantTransition: TransitionEntry,
			wantEventType:  EventEntry,
		},
		{
			name:           "misparked event without stability",
			history:        []SensorReading{emptyReading},
			reading:        misparkedReading,
			wantTransition: TransitionNone,
			wantEventType:  EventMisparked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Process(testInput(tt.reading, tt.history, nil))
			if got.Transition != tt.wantTransition {
				t.Errorf("transition = %q, want %q", got.Transition, tt.wantTransition)
			}
			if got.Event.EventType != tt.wantEventType {
				t.Errorf("event type = %q, want %q", got.Event.EventType, tt.wantEventType)
			}
		})
	}
}

func TestProcessEventAlwaysProduced(t *testing.T) {
	p := newTestProcessor()
	in := testInput(misparkedReading, nil, nil)
	got := p.Process(in)

	if got.Event.LotID != in.LotID {
		t.Errorf("event lot = %v, want %v", got.Event.LotID, in.LotID)
	}
	if got.Event.SpotNumber != "A12" {
		t.Errorf("event spot = %q, want A12", got.Event.SpotNumber)
	}
	if got.Event.BookingID != nil {
		t.Error("event booking id set without active booking")
	}
	if got.Event.SensorData.RawDistances != misparkedReading {
		t.Errorf("raw distances = %+v, want original reading", got.Event.SensorData.RawDistances)
	}
	if got.Event.SensorData.ParkingStatus != ParkingMisparked {
		t.Errorf("embedded status = %q, want misparked", got.Event.SensorData.ParkingStatus)
	}
	if got.Event.SensorData.Timestamp != in.Now.UnixMilli() {
		t.Errorf("timestamp = %d, want processing time %d", got.Event.SensorData.Timestamp, in.Now.UnixMilli())
	}
	if len(got.SideEffects) != 0 {
		t.Errorf("side effects without booking = %v, want none", effectTypes(got.SideEffects))
	}
}

func TestProcessReadingTimestampPreserved(t *testing.T) {
	p := newTestProcessor()
	reading := occupiedReading
	reading.Timestamp = 1700000000000
	got := p.Process(testInput(reading, nil, nil))
	if got.Event.SensorData.Timestamp != 1700000000000 {
		t.Errorf("timestamp = %d, want reading timestamp", got.Event.SensorData.Timestamp)
	}
}

func TestProcessMisparkedSideEffects(t *testing.T) {
	p := newTestProcessor()
	booking := &ActiveBooking{ID: uuid.New(), UserID: uuid.New(), Status: BookingActive, ParkingStatus: BookingParkingNormal}
	in := testInput(misparkedReading, nil, booking)

	got := p.Process(in)

	if len(got.SideEffects) != 2 {
		t.Fatalf("side effects = %v, want status update and penalty", effectTypes(got.SideEffects))
	}
	if got.SideEffects[0].Type != EffectSetParkingStatus || got.SideEffects[0].ParkingStatus != BookingParkingMisparked {
		t.Errorf("first effect = %+v, want set parking status misparked", got.SideEffects[0])
	}

	penalty := got.SideEffects[1]
	if penalty.Type != EffectIssuePenalty {
		t.Fatalf("second effect = %q, want issue penalty", penalty.Type)
	}
	if penalty.Penalty.Amount != 50 {
		t.Errorf("penalty amount = %v, want 50", penalty.Penalty.Amount)
	}
	if penalty.Penalty.BookingID != booking.ID || penalty.Penalty.UserID != booking.UserID {
		t.Error("penalty not addressed to the active booking")
	}
	if len(penalty.Penalty.Notifications) != 2 {
		t.Fatalf("penalty notifications = %d, want renter and owner", len(penalty.Penalty.Notifications))
	}
	if penalty.Penalty.Notifications[0].UserID != booking.UserID {
		t.Error("first penalty notification not addressed to renter")
	}
	if penalty.Penalty.Notifications[1].UserID != in.Lot.OwnerID {
		t.Error("second penalty notification not addressed to lot owner")
	}
}

func TestProcessPenaltyIdempotence(t *testing.T) {
	// A pending penalty already on file suppresses a second issue, but
	// the parking-status update still happens.
	p := newTestProcessor()
	booking := &ActiveBooking{ID: uuid.New(), UserID: uuid.New(), Status: BookingActive, ParkingStatus: BookingParkingMisparked}
	in := testInput(misparkedReading, nil, booking)
	in.HasPendingPenalty = true

	got := p.Process(in)

	for _, e := range got.SideEffects {
		if e.Type == EffectIssuePenalty {
			t.Fatal("penalty issued despite pending penalty on file")
		}
	}
	if len(got.SideEffects) != 1 || got.SideEffects[0].Type != EffectSetParkingStatus {
		t.Errorf("side effects = %v, want only set parking status", effectTypes(got.SideEffects))
	}
}

func TestProcessCorrectionSideEffects(t *testing.T) {
	p := newTestProcessor()
	booking := &ActiveBooking{ID: uuid.New(), UserID: uuid.New(), Status: BookingActive, ParkingStatus: BookingParkingMisparked}

	got := p.Process(testInput(occupiedReading, nil, booking))

	want := []SideEffectType{EffectSetParkingStatus, EffectNotify}
	if types := effectTypes(got.SideEffects); len(types) != 2 || types[0] != want[0] || types[1] != want[1] {
		t.Fatalf("side effects = %v, want %v", types, want)
	}
	if got.SideEffects[0].ParkingStatus != BookingParkingNormal {
		t.Errorf("parking status = %q, want normal", got.SideEffects[0].ParkingStatus)
	}
	if got.SideEffects[1].Notification.UserID != booking.UserID {
		t.Error("correction notification not addressed to renter")
	}
}

func TestProcessEntrySideEffects(t *testing.T) {
	p := newTestProcessor()
	history := []SensorReading{emptyReading, emptyReading}

	t.Run("upcoming booking promoted", func(t *testing.T) {
		booking := &ActiveBooking{ID: uuid.New(), UserID: uuid.New(), Status: BookingUpcoming, ParkingStatus: BookingParkingNormal}
		in := testInput(occupiedReading, history, booking)
		got := p.Process(in)

		want := []SideEffectType{EffectActivateBooking, EffectNotify}
		if types := effectTypes(got.SideEffects); len(types) != 2 || types[0] != want[0] || types[1] != want[1] {
			t.Fatalf("side effects = %v, want %v", types, want)
		}
		if got.SideEffects[0].BookingID != booking.ID {
			t.Error("activate effect not addressed to booking")
		}
		if got.SideEffects[1].Notification.UserID != in.Lot.OwnerID {
			t.Error("entry notification not addressed to lot owner")
		}
	})

	t.Run("active booking not promoted", func(t *testing.T) {
		booking := &ActiveBooking{ID: uuid.New(), UserID: uuid.New(), Status: BookingActive, ParkingStatus: BookingParkingNormal}
		got := p.Process(testInput(occupiedReading, history, booking))

		if types := effectTypes(got.SideEffects); len(types) != 1 || types[0] != EffectNotify {
			t.Fatalf("side effects = %v, want owner notification only", types)
		}
	})
}

func TestProcessExitSideEffects(t *testing.T) {
	p := newTestProcessor()
	booking := &ActiveBooking{ID: uuid.New(), UserID: uuid.New(), Status: BookingActive, ParkingStatus: BookingParkingNormal}
	in := testInput(emptyReading, []SensorReading{occupiedReading, occupiedReading}, booking)

	got := p.Process(in)

	want := []SideEffectType{EffectCompleteBooking, EffectReleaseSpot, EffectNotify, EffectNotify}
	types := effectTypes(got.SideEffects)
	if len(types) != len(want) {
		t.Fatalf("side effects = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("side effects = %v, want %v", types, want)
		}
	}
	if got.SideEffects[1].LotID != in.Lot.ID {
		t.Error("release spot not addressed to lot")
	}
	if got.SideEffects[2].Notification.UserID != booking.UserID {
		t.Error("first exit notification not addressed to renter")
	}
	if got.SideEffects[3].Notification.UserID != in.Lot.OwnerID {
		t.Error("second exit notification not addressed to lot owner")
	}
}

func TestProcessEntryWithMisparkStillPenalizes(t *testing.T) {
	// Entry wins the event type, but a misparked arrival still flags
	// the booking and issues the penalty.
	p := newTestProcessor()
	booking := &ActiveBooking{ID: uuid.New(), UserID: uuid.New(), Status: BookingUpcoming, ParkingStatus: BookingParkingNormal}
	got := p.Process(testInput(misparkedReading, []SensorReading{emptyReading, emptyReading}, booking))

	if got.Event.EventType != EventEntry {
		t.Fatalf("event type = %q, want entry", got.Event.EventType)
	}
	want := []SideEffectType{EffectSetParkingStatus, EffectIssuePenalty, EffectActivateBooking, EffectNotify}
	types := effectTypes(got.SideEffects)
	if len(types) != len(want) {
		t.Fatalf("side effects = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("side effects = %v, want %v", types, want)
		}
	}
}
