package model

import "time"

// Reservation is a user's standing claim on the next free copy of a book.
type Reservation struct {
	ID            int64             `json:"id" db:"id"`
	BookID        int64             `json:"book_id" db:"book_id"`
	RequesterID   int64             `json:"requester_id" db:"requester_id"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at" db:"expires_at"`
	Status        ReservationStatus `json:"status" db:"status"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty" db:"resolved_at"`
	QueuePosition int               `json:"queue_position,omitempty" db:"queue_position"`
	BookTitle     string            `json:"book_title,omitempty" db:"book_title"`
	RequesterName string            `json:"requester_name,omitempty" db:"requester_name"`
}

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

var reservationTransitions = map[ReservationStatus][]ReservationStatus{
	ReservationActive: {ReservationFulfilled, ReservationCancelled, ReservationExpired},
}

// CanTransition reports whether a reservation may move from one status to
// another. Every status other than active is terminal.
func CanTransition(from, to ReservationStatus) bool {
	for _, s := range reservationTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Pending reports whether the reservation still waits for a copy at now.
func (r *Reservation) Pending(now time.Time) bool {
	return r.Status == ReservationActive && r.ExpiresAt.After(now)
}

// ReservationFilter narrows reservation listings. Zero values mean no filter.
type ReservationFilter struct {
	BookID      int64
	RequesterID int64
	Status      ReservationStatus
	// PendingAt keeps only active reservations that have not expired at
	// that instant.
	PendingAt time.Time
	// ExpiredBy keeps only active reservations whose expiry is at or
	// before that instant.
	ExpiredBy time.Time
	// AsOf leaves reservations that have lapsed by that instant out of
	// queue positions. Zero counts every active reservation.
	AsOf   time.Time
	Limit  int
	Offset int
}
