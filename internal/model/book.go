package model

import (
	"fmt"
	"strings"
	"time"
)

// Book is a catalog entry. Copies are tracked as counters, not per-copy
// records: TotalCopies - AvailableCopies is the number of open loans.
type Book struct {
	ID              int64      `json:"id" db:"id"`
	Title           string     `json:"title" db:"title"`
	Author          string     `json:"author" db:"author"`
	ISBN            string     `json:"isbn,omitempty" db:"isbn"`
	Description     string     `json:"description,omitempty" db:"description"`
	TotalCopies     int        `json:"total_copies" db:"total_copies"`
	AvailableCopies int        `json:"available_copies" db:"available_copies"`
	Status          string     `json:"status" db:"status"`
	CoverMime       string     `json:"cover_mime,omitempty" db:"cover_mime"`
	Version         int64      `json:"version" db:"version"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Book record statuses. Withdrawn books stay in the catalog but cannot be
// borrowed or reserved.
const (
	BookStatusActive    = "active"
	BookStatusWithdrawn = "withdrawn"
)

// Withdrawn reports whether the book was administratively withdrawn.
func (b *Book) Withdrawn() bool {
	return b.Status == BookStatusWithdrawn
}

// OnLoan returns the number of copies currently borrowed.
func (b *Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// Availability is the derived circulation state of a book.
type Availability string

const (
	Available       Availability = "AVAILABLE"
	FullyBorrowed   Availability = "FULLY_BORROWED"
	ReservedPending Availability = "RESERVED_PENDING"
	Unavailable     Availability = "UNAVAILABLE"
)

// DeriveAvailability computes the availability of a book from its counters
// and the length of its active reservation queue. Free copies are earmarked
// for queued reservations first, so the book is only AVAILABLE to anyone
// when there are more free copies than waiting reservations.
func DeriveAvailability(b *Book, queueLength int) Availability {
	switch {
	case b.Withdrawn():
		return Unavailable
	case queueLength > 0 && b.AvailableCopies <= queueLength:
		return ReservedPending
	case b.AvailableCopies > 0:
		return Available
	default:
		return FullyBorrowed
	}
}

// BookStatus is the read model returned by status queries.
type BookStatus struct {
	Book         *Book        `json:"book"`
	Availability Availability `json:"availability"`
	QueueLength  int          `json:"queue_length"`
	ActiveLoans  int          `json:"active_loans"`
}

// NormalizeISBN strips hyphens and spaces.
func NormalizeISBN(isbn string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, isbn)
}

// ValidateISBN accepts an empty ISBN or one with 10 or 13 digits after
// normalization. ISBN-10 may end in X.
func ValidateISBN(isbn string) error {
	isbn = NormalizeISBN(isbn)
	if isbn == "" {
		return nil
	}
	if len(isbn) != 10 && len(isbn) != 13 {
		return fmt.Errorf("%w: isbn must have 10 or 13 digits", ErrInvalidArgument)
	}
	for i, r := range isbn {
		if r >= '0' && r <= '9' {
			continue
		}
		if len(isbn) == 10 && i == 9 && (r == 'X' || r == 'x') {
			continue
		}
		return fmt.Errorf("%w: isbn contains invalid character %q", ErrInvalidArgument, r)
	}
	return nil
}

// ValidateBook checks the fields a librarian supplies when creating or
// editing a book.
func ValidateBook(title, author, isbn string, copies int) error {
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: title required", ErrInvalidArgument)
	}
	if strings.TrimSpace(author) == "" {
		return fmt.Errorf("%w: author required", ErrInvalidArgument)
	}
	if copies <= 0 {
		return fmt.Errorf("%w: copy count must be positive", ErrInvalidArgument)
	}
	return ValidateISBN(isbn)
}

// BookFilter narrows book listings. Zero values mean no filter.
type BookFilter struct {
	Query         string
	Author        string
	Status        string
	AvailableOnly bool
	Limit         int
	Offset        int
}
