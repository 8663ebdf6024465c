package model

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	all := []ReservationStatus{ReservationActive, ReservationFulfilled, ReservationCancelled, ReservationExpired}

	for _, from := range all {
		for _, to := range all {
			want := from == ReservationActive && to != ReservationActive
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestReservationPending(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	r := Reservation{Status: ReservationActive, ExpiresAt: now.Add(time.Hour)}
	if !r.Pending(now) {
		t.Error("expected active unexpired reservation to be pending")
	}

	r.ExpiresAt = now
	if r.Pending(now) {
		t.Error("reservation expiring now should not be pending")
	}

	r = Reservation{Status: ReservationFulfilled, ExpiresAt: now.Add(time.Hour)}
	if r.Pending(now) {
		t.Error("fulfilled reservation should not be pending")
	}
}

func TestParseCondition(t *testing.T) {
	got, err := ParseCondition("")
	if err != nil || got != ConditionGood {
		t.Errorf("ParseCondition(\"\") = %q, %v", got, err)
	}
	got, err = ParseCondition("lost")
	if err != nil || got != ConditionLost {
		t.Errorf("ParseCondition(lost) = %q, %v", got, err)
	}
	if _, err := ParseCondition("soggy"); err == nil {
		t.Error("expected error for unknown condition")
	}
}
