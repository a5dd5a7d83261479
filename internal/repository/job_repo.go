package repository

import (
	"context"
	"fmt"
	"time"
)

// ListUnusedReservationIDs returns active reservations nobody checked in
// to whose entry time is before entryBefore.
func (r *queries) ListUnusedReservationIDs(ctx context.Context, entryBefore time.Time) ([]int64, error) {
	query := `SELECT id FROM reservations
		WHERE status = 'active' AND checked_in_at IS NULL AND entry_time < $1
		ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query, entryBefore)
	if err != nil {
		return nil, fmt.Errorf("error querying unused reservations: %w", err)
	}
	return scanIDs[int64](rows)
}

// ListOverdueReservationIDs returns active reservations whose exit time
// is before exitBefore.
func (r *queries) ListOverdueReservationIDs(ctx context.Context, exitBefore time.Time) ([]int64, error) {
	query := `SELECT id FROM reservations WHERE status = 'active' AND exit_time < $1 ORDER BY id`
	rows, err := r.q.QueryContext(ctx, query, exitBefore)
	if err != nil {
		return nil, fmt.Errorf("error querying overdue reservations: %w", err)
	}
	return scanIDs[int64](rows)
}

func (r *queries) ListExpiredTicketIDs(ctx context.Context, validUntilBefore time.Time) ([]string, error) {
	query := `SELECT id::text FROM tickets WHERE status = 'valid' AND valid_until < $1 ORDER BY valid_until`
	rows, err := r.q.QueryContext(ctx, query, validUntilBefore)
	if err != nil {
		return nil, fmt.Errorf("error querying expired tickets: %w", err)
	}
	return scanIDs[string](rows)
}
