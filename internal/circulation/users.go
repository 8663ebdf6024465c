package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/knjiznica/internal/model"
)

// DeactivateUser soft-deletes an account and cancels its active
// reservations. Accounts with open loans are refused with Conflict, and
// admins cannot deactivate themselves.
func (m *Manager) DeactivateUser(ctx context.Context, caller model.Identity, userID int64) (cancelled []model.Reservation, err error) {
	defer m.observe(ctx, "deactivate_user", time.Now(), &err)

	if !model.RoleAtLeast(caller.Role, model.RoleAdmin) {
		return nil, fmt.Errorf("%w: only admins may delete accounts", model.ErrUnauthorized)
	}
	if userID <= 0 {
		return nil, fmt.Errorf("%w: invalid user id %d", model.ErrInvalidArgument, userID)
	}
	if userID == caller.UserID {
		return nil, fmt.Errorf("%w: cannot delete yourself", model.ErrInvalidArgument)
	}

	now := m.clock.Now()
	err = m.repo.WithTx(ctx, func(ctx context.Context) error {
		if err := m.repo.LockUser(ctx, userID); err != nil {
			return err
		}

		open, err := m.repo.CountOpenLoans(ctx, userID)
		if err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: user %d has %d open loans", model.ErrConflict, userID, open)
		}

		active, err := m.repo.ListReservations(ctx, model.ReservationFilter{
			RequesterID: userID,
			Status:      model.ReservationActive,
		})
		if err != nil {
			return err
		}
		for _, r := range active {
			if err := m.repo.SetReservationStatus(ctx, r.ID, model.ReservationCancelled, now); err != nil {
				return err
			}
			r.Status = model.ReservationCancelled
			r.ResolvedAt = &now
			r.QueuePosition = 0
			cancelled = append(cancelled, r)
		}

		return m.repo.SoftDeleteUser(ctx, userID, now)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("user deactivated", "user_id", userID, "actor_id", caller.UserID,
		"reservations_cancelled", len(cancelled))
	return cancelled, nil
}
