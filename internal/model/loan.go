package model

import (
	"fmt"
	"time"
)

// Loan is one copy of a book borrowed by one user. Loans are never deleted;
// a returned loan stays as history.
type Loan struct {
	ID           int64      `json:"id" db:"id"`
	BookID       int64      `json:"book_id" db:"book_id"`
	BorrowerID   int64      `json:"borrower_id" db:"borrower_id"`
	CheckedOutBy int64      `json:"checked_out_by" db:"checked_out_by"`
	CheckedOutAt time.Time  `json:"checked_out_at" db:"checked_out_at"`
	DueAt        time.Time  `json:"due_at" db:"due_at"`
	ReturnedAt   *time.Time `json:"returned_at,omitempty" db:"returned_at"`
	Condition    Condition  `json:"condition,omitempty" db:"return_condition"`
	BookTitle    string     `json:"book_title,omitempty" db:"book_title"`
	BorrowerName string     `json:"borrower_name,omitempty" db:"borrower_name"`
}

// Open reports whether the loan has not been returned.
func (l *Loan) Open() bool {
	return l.ReturnedAt == nil
}

// Overdue reports whether the loan is open past its due date.
func (l *Loan) Overdue(now time.Time) bool {
	return l.Open() && l.DueAt.Before(now)
}

// Condition is the state of a copy when it comes back.
type Condition string

const (
	ConditionGood    Condition = "good"
	ConditionDamaged Condition = "damaged"
	ConditionLost    Condition = "lost"
)

// ParseCondition maps user input to a Condition. Empty input means good.
func ParseCondition(s string) (Condition, error) {
	switch Condition(s) {
	case "":
		return ConditionGood, nil
	case ConditionGood, ConditionDamaged, ConditionLost:
		return Condition(s), nil
	default:
		return "", fmt.Errorf("%w: unknown condition %q", ErrInvalidArgument, s)
	}
}

// LoanFilter narrows loan listings. Zero values mean no filter.
type LoanFilter struct {
	BookID     int64
	BorrowerID int64
	OpenOnly   bool
	// DueBefore selects loans whose due date is strictly before it.
	DueBefore time.Time
	Limit     int
	Offset    int
}
