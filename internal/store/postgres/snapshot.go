package postgres

import (
	"context"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"

	"github.com/jackc/pgx/v5"
)

// Snapshot builds a queue view outside any mutation, for read-only callers
// such as displays.
func (s *Store) Snapshot(ctx context.Context, serviceID int64) (models.QueueSnapshot, error) {
	var snapshot models.QueueSnapshot
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var err error
		snapshot, err = snapshotLocked(ctx, tx, serviceID)
		return err
	})
	if err != nil {
		return models.QueueSnapshot{}, err
	}
	return snapshot, nil
}

// snapshotLocked computes the canonical queue view inside the caller's
// transaction: waiting aggregates waiting+recycled, serving counts called,
// and the ticket list follows the one queue ordering used everywhere.
func snapshotLocked(ctx context.Context, tx pgx.Tx, serviceID int64) (models.QueueSnapshot, error) {
	snapshot := models.QueueSnapshot{ServiceID: serviceID}

	row := tx.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('waiting', 'recycled')),
			COUNT(*) FILTER (WHERE status = 'called')
		FROM tickets
		WHERE service_id = $1
	`, serviceID)
	if err := row.Scan(&snapshot.Waiting, &snapshot.Serving); err != nil {
		return models.QueueSnapshot{}, err
	}

	rows, err := tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE service_id = $1 AND status IN ('waiting', 'recycled')
		ORDER BY priority DESC, created_at ASC
	`, serviceID)
	if err != nil {
		return models.QueueSnapshot{}, err
	}
	defer rows.Close()

	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return models.QueueSnapshot{}, err
		}
		snapshot.Tickets = append(snapshot.Tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return models.QueueSnapshot{}, err
	}
	return snapshot, nil
}

func countInQueue(ctx context.Context, tx pgx.Tx, serviceID int64) (int, error) {
	var count int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM tickets
		WHERE service_id = $1 AND status IN ('waiting', 'recycled')
	`, serviceID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
