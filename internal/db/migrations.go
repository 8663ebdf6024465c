package db

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

// migrations is a list of SQL statements applied in order after schema creation.
// Each migration must be idempotent and valid on both SQLite and Postgres.
// Append new migrations at the end.
var migrations = []string{
	// Migration 1: queue and overdue lookups.
	`CREATE INDEX IF NOT EXISTS idx_reservations_queue
	     ON reservations(book_id, created_at, id) WHERE status = 'active'`,
	`CREATE INDEX IF NOT EXISTS idx_loans_due
	     ON loans(due_at) WHERE returned_at IS NULL`,
	// Migration 2: per-user listings.
	`CREATE INDEX IF NOT EXISTS idx_loans_borrower ON loans(borrower_id, checked_out_at)`,
	`CREATE INDEX IF NOT EXISTS idx_reservations_requester ON reservations(requester_id, created_at)`,
}

func migrate(db *sqlx.DB) error {
	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("running migration %d: %w", i+1, err)
		}
	}
	return nil
}
