package postgres

import (
	"context"
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"
	"github.com/microaistudio/flowmatic-2r-full/internal/store"

	"github.com/jackc/pgx/v5"
)

// ResetSystem clears the whole queue in one transaction: counters back to
// available, every ticket row deleted, the ticket identity sequence
// restarted, and every service's numbering zeroed.
func (s *Store) ResetSystem(ctx context.Context) (store.ResetResult, error) {
	var result store.ResetResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE counters
			SET status = $1, current_ticket_id = NULL
			WHERE status = $2
		`, models.CounterAvailable, models.CounterServing)
		if err != nil {
			return err
		}
		result.CountersReset = int(tag.RowsAffected())

		tag, err = tx.Exec(ctx, `DELETE FROM tickets`)
		if err != nil {
			return err
		}
		result.TicketsDeleted = int(tag.RowsAffected())

		if _, err = tx.Exec(ctx, `ALTER SEQUENCE tickets_id_seq RESTART WITH 1`); err != nil {
			return err
		}

		tag, err = tx.Exec(ctx, `UPDATE services SET current_number = 0`)
		if err != nil {
			return err
		}
		result.ServicesReset = int(tag.RowsAffected())

		rows, err := tx.Query(ctx, `SELECT id FROM services WHERE is_active = TRUE ORDER BY id ASC`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var serviceID int64
			if err := rows.Scan(&serviceID); err != nil {
				return err
			}
			result.Queues = append(result.Queues, models.QueueSnapshot{ServiceID: serviceID})
		}
		return rows.Err()
	})
	if err != nil {
		return store.ResetResult{}, err
	}
	return result, nil
}

// PresetQueue inserts synthetic waiting tickets numbered from
// input.StartNumber. Numbers already taken are skipped rather than failed,
// and the service's current_number is advanced to at least the highest
// number issued.
func (s *Store) PresetQueue(ctx context.Context, input store.PresetInput) (store.PresetResult, error) {
	var result store.PresetResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		svc, err := lockService(ctx, tx, input.ServiceID)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		highest := svc.CurrentNumber
		for i := 0; i < input.Count; i++ {
			seq := input.StartNumber + i
			if seq > svc.RangeEnd {
				break
			}
			ticketNumber := formatTicketNumber(svc.Prefix, seq)
			// Spread created_at so the canonical ordering stays stable.
			createdAt := now.Add(time.Duration(i) * time.Millisecond)

			tag, err := tx.Exec(ctx, `
				INSERT INTO tickets (ticket_number, service_id, priority, status, created_at)
				VALUES ($1, $2, 0, $3, $4)
				ON CONFLICT (service_id, ticket_number) DO NOTHING
			`, ticketNumber, input.ServiceID, models.StatusWaiting, createdAt)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				result.Skipped++
				continue
			}
			result.Created++
			if seq > highest {
				highest = seq
			}
		}

		if highest > svc.CurrentNumber {
			if _, err = tx.Exec(ctx, `
				UPDATE services SET current_number = $1 WHERE id = $2
			`, highest, input.ServiceID); err != nil {
				return err
			}
		}

		result.Queue, err = snapshotLocked(ctx, tx, input.ServiceID)
		return err
	})
	if err != nil {
		return store.PresetResult{}, err
	}
	return result, nil
}
