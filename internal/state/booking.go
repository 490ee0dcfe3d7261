package state

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"parking-sensor-service/internal/domain/parking"
)

const (
	EventActivate = "activate"
	EventComplete = "complete"
	EventCancel   = "cancel"
)

// BookingMachine guards booking lifecycle updates so a stray sensor
// event cannot, say, complete an already cancelled booking.
type BookingMachine struct {
	fsm *fsm.FSM
}

func NewBookingMachine(current parking.BookingStatus) *BookingMachine {
	return &BookingMachine{
		fsm: fsm.NewFSM(
			string(current),
			fsm.Events{
				{Name: EventActivate, Src: []string{string(parking.BookingUpcoming)}, Dst: string(parking.BookingActive)},
				{Name: EventComplete, Src: []string{string(parking.BookingActive)}, Dst: string(parking.BookingCompleted)},
				{Name: EventCancel, Src: []string{string(parking.BookingUpcoming), string(parking.BookingActive)}, Dst: string(parking.BookingCancelled)},
			},
			fsm.Callbacks{},
		),
	}
}

// Fire attempts the transition and returns the resulting status.
func (m *BookingMachine) Fire(ctx context.Context, event string) (parking.BookingStatus, error) {
	if err := m.fsm.Event(ctx, event); err != nil {
		return parking.BookingStatus(m.fsm.Current()), fmt.Errorf("booking transition %s from %s: %w", event, m.fsm.Current(), err)
	}
	return parking.BookingStatus(m.fsm.Current()), nil
}

func (m *BookingMachine) Can(event string) bool {
	return m.fsm.Can(event)
}

func (m *BookingMachine) Current() parking.BookingStatus {
	return parking.BookingStatus(m.fsm.Current())
}
