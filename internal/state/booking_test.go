package state

import (
	"context"
	"testing"

	"parking-sensor-service/internal/domain/parking"
)

func TestBookingMachineTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    parking.BookingStatus
		event   string
		want    parking.BookingStatus
		wantErr bool
	}{
		{"activate upcoming", parking.BookingUpcoming, EventActivate, parking.BookingActive, false},
		{"complete active", parking.BookingActive, EventComplete, parking.BookingCompleted, false},
		{"cancel upcoming", parking.BookingUpcoming, EventCancel, parking.BookingCancelled, false},
		{"cancel active", parking.BookingActive, EventCancel, parking.BookingCancelled, false},
		{"activate active rejected", parking.BookingActive, EventActivate, parking.BookingActive, true},
		{"complete upcoming rejected", parking.BookingUpcoming, EventComplete, parking.BookingUpcoming, true},
		{"complete completed rejected", parking.BookingCompleted, EventComplete, parking.BookingCompleted, true},
		{"activate cancelled rejected", parking.BookingCancelled, EventActivate, parking.BookingCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewBookingMachine(tt.from)
			got, err := m.Fire(context.Background(), tt.event)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Fire() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("status = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBookingMachineCan(t *testing.T) {
	m := NewBookingMachine(parking.BookingUpcoming)
	if !m.Can(EventActivate) {
		t.Error("upcoming booking should allow activate")
	}
	if m.Can(EventComplete) {
		t.Error("upcoming booking should not allow complete")
	}
}
