package parking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SideEffectType tags one requested side effect. The processor only
// decides; persistence and delivery belong to the caller.
type SideEffectType string

const (
	EffectSetParkingStatus SideEffectType = "set_parking_status"
	EffectIssuePenalty     SideEffectType = "issue_penalty"
	EffectNotify           SideEffectType = "notify"
	EffectActivateBooking  SideEffectType = "activate_booking"
	EffectCompleteBooking  SideEffectType = "complete_booking"
	EffectReleaseSpot      SideEffectType = "release_spot"
)

// PenaltyRequest describes a misparking penalty to insert, plus the
// notifications that should go out only if the insert actually creates
// a row (duplicate suppression is mandatory).
type PenaltyRequest struct {
	BookingID     uuid.UUID
	LotID         uuid.UUID
	UserID        uuid.UUID
	Amount        float64
	Reason        string
	Notifications []Notification
}

type SideEffect struct {
	Type SideEffectType

	BookingID     uuid.UUID
	ParkingStatus BookingParkingStatus // EffectSetParkingStatus
	LotID         uuid.UUID            // EffectReleaseSpot
	Penalty       *PenaltyRequest      // EffectIssuePenalty
	Notification  *Notification        // EffectNotify
}

// ProcessInput bundles one reading with the externally fetched context
// the processor needs: the last two persisted readings for the spot
// (newest first), the active booking if any, and whether that booking
// already holds a pending misparking penalty.
type ProcessInput struct {
	LotID             uuid.UUID
	SpotNumber        string
	Reading           SensorReading
	History           []SensorReading
	Booking           *ActiveBooking
	Lot               LotInfo
	HasPendingPenalty bool
	Now               time.Time
}

type ProcessResult struct {
	Event       Event
	Analysis    Analysis
	Status      ParkingStatus
	Stable      bool
	Transition  Transition
	SideEffects []SideEffect
}

// Processor derives the event and side-effect decisions for one
// reading. It performs no I/O; safe for concurrent use.
type Processor struct {
	classifier    Classifier
	penaltyAmount float64
}

func NewProcessor(classifier Classifier, penaltyAmount float64) Processor {
	return Processor{classifier: classifier, penaltyAmount: penaltyAmount}
}

func (p Processor) Process(in ProcessInput) ProcessResult {
	analysis := p.classifier.Classify(in.Reading)
	status := Simplify(analysis)

	stable, lastStable := p.stability(in.History)

	transition := TransitionNone
	if stable {
		switch {
		case lastStable == ParkingEmpty && status != ParkingEmpty:
			transition = TransitionEntry
		case lastStable != ParkingEmpty && status == ParkingEmpty:
			transition = TransitionExit
		}
	}

	eventType := EventSensorUpdate
	switch {
	case transition == TransitionEntry:
		eventType = EventEntry
	case transition == TransitionExit:
		eventType = EventExit
	case status == ParkingMisparked:
		eventType = EventMisparked
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	ts := in.Reading.Timestamp
	if ts == 0 {
		ts = now.UnixMilli()
	}

	event := Event{
		LotID:      in.LotID,
		SpotNumber: in.SpotNumber,
		EventType:  eventType,
		DetectedAt: now,
		SensorData: SensorData{
			RawDistances:  in.Reading,
			Analysis:      analysis,
			Stable:        stable,
			Transition:    transition,
			ParkingStatus: status,
			Timestamp:     ts,
		},
	}
	if in.Booking != nil {
		id := in.Booking.ID
		event.BookingID = &id
	}

	return ProcessResult{
		Event:       event,
		Analysis:    analysis,
		Status:      status,
		Stable:      stable,
		Transition:  transition,
		SideEffects: p.decide(in, analysis, status, eventType),
	}
}

// Simplify reduces a full analysis to the 3-valued status that drives
// booking state and stability comparison.
func Simplify(a Analysis) ParkingStatus {
	switch {
	case a.IsMisparked && a.Status == StatusOccupied:
		return ParkingMisparked
	case a.Status == StatusOccupied:
		return ParkingParked
	default:
		return ParkingEmpty
	}
}

// stability requires exactly two prior readings that agree bit-for-bit
// across all three distances. Anything less suppresses transition
// detection so a single noisy sample cannot flap entry/exit.
func (p Processor) stability(history []SensorReading) (bool, ParkingStatus) {
	if len(history) != 2 {
		return false, ""
	}
	a, b := history[0], history[1]
	if a.LeftDistanceCm != b.LeftDistanceCm ||
		a.CenterDistanceCm != b.CenterDistanceCm ||
		a.RightDistanceCm != b.RightDistanceCm {
		return false, ""
	}
	return true, Simplify(p.classifier.Classify(a))
}

func (p Processor) decide(in ProcessInput, analysis Analysis, status ParkingStatus, eventType EventType) []SideEffect {
	if in.Booking == nil {
		return nil
	}
	booking := *in.Booking
	lot := in.Lot
	var effects []SideEffect

	if status == ParkingMisparked {
		effects = append(effects, SideEffect{
			Type:          EffectSetParkingStatus,
			BookingID:     booking.ID,
			ParkingStatus: BookingParkingMisparked,
		})
		if !in.HasPendingPenalty {
			effects = append(effects, SideEffect{
				Type: EffectIssuePenalty,
				Penalty: &PenaltyRequest{
					BookingID: booking.ID,
					LotID:     lot.ID,
					UserID:    booking.UserID,
					Amount:    p.penaltyAmount,
					Reason:    penaltyReason(analysis),
					Notifications: []Notification{
						{
							UserID: booking.UserID,
							Title:  "Misparking Detected!",
							Body: fmt.Sprintf("Quality score: %.0f/100. Please reposition your vehicle. Penalty: $%.0f",
								analysis.QualityScore, p.penaltyAmount),
							Data: map[string]any{"type": "misparking", "booking_id": booking.ID.String()},
						},
						{
							UserID: lot.OwnerID,
							Title:  "Misparking Alert",
							Body: fmt.Sprintf("Vehicle misparked at %s, Spot %s. Quality: %.0f/100",
								lot.Name, in.SpotNumber, analysis.QualityScore),
							Data: map[string]any{"type": "misparking_owner", "booking_id": booking.ID.String(), "lot_id": lot.ID.String()},
						},
					},
				},
			})
		}
	} else if booking.ParkingStatus == BookingParkingMisparked {
		effects = append(effects, SideEffect{
			Type:          EffectSetParkingStatus,
			BookingID:     booking.ID,
			ParkingStatus: BookingParkingNormal,
		})
		effects = append(effects, SideEffect{
			Type: EffectNotify,
			Notification: &Notification{
				UserID: booking.UserID,
				Title:  "Parking Corrected",
				Body: fmt.Sprintf("Thank you for repositioning your vehicle. Quality score: %.0f/100",
					analysis.QualityScore),
				Data: map[string]any{"type": "parking_corrected", "booking_id": booking.ID.String()},
			},
		})
	}

	switch eventType {
	case EventEntry:
		if booking.Status == BookingUpcoming {
			effects = append(effects, SideEffect{Type: EffectActivateBooking, BookingID: booking.ID})
		}
		effects = append(effects, SideEffect{
			Type: EffectNotify,
			Notification: &Notification{
				UserID: lot.OwnerID,
				Title:  "Vehicle Entry",
				Body:   fmt.Sprintf("Vehicle entered %s, Spot %s", lot.Name, in.SpotNumber),
				Data:   map[string]any{"type": "entry", "booking_id": booking.ID.String(), "lot_id": lot.ID.String()},
			},
		})
	case EventExit:
		effects = append(effects, SideEffect{Type: EffectCompleteBooking, BookingID: booking.ID})
		effects = append(effects, SideEffect{Type: EffectReleaseSpot, LotID: lot.ID})
		effects = append(effects, SideEffect{
			Type: EffectNotify,
			Notification: &Notification{
				UserID: booking.UserID,
				Title:  "Parking Session Completed",
				Body:   fmt.Sprintf("Thank you for using %s", lot.Name),
				Data:   map[string]any{"type": "exit", "booking_id": booking.ID.String()},
			},
		})
		effects = append(effects, SideEffect{
			Type: EffectNotify,
			Notification: &Notification{
				UserID: lot.OwnerID,
				Title:  "Vehicle Exit",
				Body:   fmt.Sprintf("Vehicle exited %s, Spot %s", lot.Name, in.SpotNumber),
				Data:   map[string]any{"type": "exit_owner", "booking_id": booking.ID.String(), "lot_id": lot.ID.String()},
			},
		})
	}

	return effects
}

func penaltyReason(a Analysis) string {
	reason := fmt.Sprintf("Parking quality score: %.0f/100", a.QualityScore)
	for _, w := range a.Warnings {
		reason += ". " + w
	}
	return reason
}
