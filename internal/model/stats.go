package model

// Stats is the librarian dashboard summary.
type Stats struct {
	TotalBooks         int          `json:"total_books"`
	TotalCopies        int          `json:"total_copies"`
	AvailableCopies    int          `json:"available_copies"`
	ActiveLoans        int          `json:"active_loans"`
	OverdueLoans       int          `json:"overdue_loans"`
	ActiveReservations int          `json:"active_reservations"`
	CheckoutsThisMonth int          `json:"checkouts_this_month"`
	ReturnsThisMonth   int          `json:"returns_this_month"`
	TotalUsers         int          `json:"total_users"`
	MostPopularBook    *RankedEntry `json:"most_popular_book,omitempty"`
	MostActiveUser     *RankedEntry `json:"most_active_user,omitempty"`
}

// RankedEntry is a top entry in a dashboard ranking.
type RankedEntry struct {
	ID    int64  `json:"id" db:"id"`
	Name  string `json:"name" db:"name"`
	Count int    `json:"count" db:"total"`
}
