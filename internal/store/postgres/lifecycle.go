package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"
	"github.com/microaistudio/flowmatic-2r-full/internal/store"

	"github.com/jackc/pgx/v5"
)

func (s *Store) CallNext(ctx context.Context, input store.CallNextInput) (store.ActionResult, error) {
	calledAt := input.CalledAt
	if calledAt.IsZero() {
		calledAt = time.Now().UTC()
	}

	var result store.ActionResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		counter, err := lockCounter(ctx, tx, input.CounterID)
		if err != nil {
			return err
		}
		if err := ensureAgentExists(ctx, tx, input.AgentID); err != nil {
			return err
		}

		var ticket models.Ticket
		if input.TicketID > 0 {
			ticket, err = claimTicketByID(ctx, tx, input, calledAt)
		} else {
			var serviceID int64
			serviceID, err = resolveService(ctx, tx, input, counter)
			if err != nil {
				return err
			}
			ticket, err = claimNextTicket(ctx, tx, serviceID, input, calledAt)
		}
		if err != nil {
			return err
		}

		if _, err = tx.Exec(ctx, `
			UPDATE counters
			SET status = $1, current_ticket_id = $2, current_agent_id = $3
			WHERE id = $4
		`, models.CounterServing, ticket.ID, input.AgentID, input.CounterID); err != nil {
			return err
		}

		result.Ticket = ticket
		result.Queue, err = snapshotLocked(ctx, tx, ticket.ServiceID)
		return err
	})
	if err != nil {
		return store.ActionResult{}, err
	}
	return result, nil
}

func (s *Store) Complete(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	now := occurredAt(input)

	var result store.ActionResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		ticket, err := lockTicket(ctx, tx, input.TicketID)
		if err != nil {
			return err
		}
		if ticket.Status == models.StatusCompleted {
			return store.ErrAlreadyCompleted
		}
		if !store.ValidTransition("complete", ticket.Status) {
			return store.ErrInvalidState
		}
		if !assignedTo(ticket, input.CounterID, input.AgentID) {
			return store.ErrCounterMismatch
		}

		// Whole seconds, floored; only computed when the source timestamp
		// exists so the values can never go negative.
		var actualWait, serviceDuration any
		if ticket.ServedAt != nil {
			actualWait = int(ticket.ServedAt.Sub(ticket.CreatedAt) / time.Second)
			serviceDuration = int(now.Sub(*ticket.ServedAt) / time.Second)
		}

		row := tx.QueryRow(ctx, `
			UPDATE tickets
			SET status = $1,
				completed_at = $2,
				actual_wait = $3,
				service_duration = $4,
				notes = COALESCE($5, notes)
			WHERE id = $6
			RETURNING `+ticketColumns+`
		`, models.StatusCompleted, now, actualWait, serviceDuration,
			nullIfEmpty(input.Notes), input.TicketID)
		if result.Ticket, err = scanTicket(row); err != nil {
			return err
		}

		if err = releaseCounter(ctx, tx, input.CounterID); err != nil {
			return err
		}

		result.Queue, err = snapshotLocked(ctx, tx, result.Ticket.ServiceID)
		return err
	})
	if err != nil {
		return store.ActionResult{}, err
	}
	return result, nil
}

func (s *Store) Recall(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	now := occurredAt(input)

	var result store.ActionResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		ticket, err := lockTicket(ctx, tx, input.TicketID)
		if err != nil {
			return err
		}
		if !store.ValidTransition("recall", ticket.Status) {
			return store.ErrInvalidState
		}
		if !assignedTo(ticket, input.CounterID, input.AgentID) {
			return store.ErrCounterMismatch
		}

		row := tx.QueryRow(ctx, `
			UPDATE tickets
			SET recall_count = recall_count + 1, called_at = $1
			WHERE id = $2
			RETURNING `+ticketColumns+`
		`, now, input.TicketID)
		if result.Ticket, err = scanTicket(row); err != nil {
			return err
		}

		result.Queue, err = snapshotLocked(ctx, tx, result.Ticket.ServiceID)
		return err
	})
	if err != nil {
		return store.ActionResult{}, err
	}
	return result, nil
}

func (s *Store) NoShow(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	now := occurredAt(input)

	var result store.ActionResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		ticket, err := lockTicket(ctx, tx, input.TicketID)
		if err != nil {
			return err
		}
		if !store.ValidTransition("no_show", ticket.Status) {
			return store.ErrInvalidState
		}
		if !assignedTo(ticket, input.CounterID, input.AgentID) {
			return store.ErrCounterMismatch
		}

		row := tx.QueryRow(ctx, `
			UPDATE tickets
			SET status = $1, completed_at = $2
			WHERE id = $3
			RETURNING `+ticketColumns+`
		`, models.StatusNoShow, now, input.TicketID)
		if result.Ticket, err = scanTicket(row); err != nil {
			return err
		}

		if err = releaseCounter(ctx, tx, input.CounterID); err != nil {
			return err
		}

		result.Queue, err = snapshotLocked(ctx, tx, result.Ticket.ServiceID)
		return err
	})
	if err != nil {
		return store.ActionResult{}, err
	}
	return result, nil
}

func (s *Store) Recycle(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	var result store.ActionResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		ticket, err := lockTicket(ctx, tx, input.TicketID)
		if err != nil {
			return err
		}
		if !store.ValidTransition("recycle", ticket.Status) {
			return store.ErrNotServing
		}
		if !assignedTo(ticket, input.CounterID, input.AgentID) {
			return store.ErrCounterMismatch
		}

		row := tx.QueryRow(ctx, `
			UPDATE tickets
			SET status = $1,
				counter_id = NULL,
				agent_id = NULL,
				called_at = NULL,
				served_at = NULL
			WHERE id = $2
			RETURNING `+ticketColumns+`
		`, models.StatusRecycled, input.TicketID)
		if result.Ticket, err = scanTicket(row); err != nil {
			return err
		}

		if err = releaseCounter(ctx, tx, input.CounterID); err != nil {
			return err
		}

		result.Queue, err = snapshotLocked(ctx, tx, result.Ticket.ServiceID)
		return err
	})
	if err != nil {
		return store.ActionResult{}, err
	}
	return result, nil
}

func (s *Store) Transfer(ctx context.Context, input store.TransferInput) (store.TransferResult, error) {
	now := input.OccurredAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var result store.TransferResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		ticket, err := lockTicket(ctx, tx, input.TicketID)
		if err != nil {
			return err
		}
		if !store.ValidTransition("transfer", ticket.Status) {
			return store.ErrInvalidState
		}
		if !assignedTo(ticket, input.CounterID, input.AgentID) {
			return store.ErrCounterMismatch
		}
		if input.TargetServiceID == ticket.ServiceID {
			return store.ErrSameService
		}

		target, err := lockService(ctx, tx, input.TargetServiceID)
		if err != nil {
			if errors.Is(err, store.ErrServiceNotFound) {
				return store.ErrInvalidTarget
			}
			return err
		}
		if !target.IsActive {
			return store.ErrInvalidTarget
		}

		// original_service_id tracks the first-ever service across chained
		// transfers.
		originalServiceID := ticket.ServiceID
		if ticket.OriginalServiceID != nil {
			originalServiceID = *ticket.OriginalServiceID
		}

		waiting, err := countInQueue(ctx, tx, target.ID)
		if err != nil {
			return err
		}
		estimatedWait := waiting * target.EstimatedServiceTime

		row := tx.QueryRow(ctx, `
			INSERT INTO tickets (
				ticket_number, service_id, priority, status, created_at, estimated_wait,
				recall_count, original_service_id, transferred_at,
				notes, customer_name, customer_phone, customer_email
			) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, $11, $12)
			RETURNING `+ticketColumns+`
		`, ticket.TicketNumber, target.ID, ticket.Priority, models.StatusWaiting, now,
			estimatedWait, originalServiceID, now, nullIfEmpty(ticket.Notes),
			nullIfEmpty(ticket.CustomerName), nullIfEmpty(ticket.CustomerPhone),
			nullIfEmpty(ticket.CustomerEmail))
		if result.Ticket, err = scanTicket(row); err != nil {
			return err
		}

		if _, err = tx.Exec(ctx, `DELETE FROM tickets WHERE id = $1`, ticket.ID); err != nil {
			return err
		}

		if err = releaseCounter(ctx, tx, input.CounterID); err != nil {
			return err
		}

		if result.From, err = snapshotLocked(ctx, tx, ticket.ServiceID); err != nil {
			return err
		}
		result.To, err = snapshotLocked(ctx, tx, target.ID)
		return err
	})
	if err != nil {
		return store.TransferResult{}, err
	}
	return result, nil
}

// claimTicketByID claims one specific ticket for the calling counter. The
// ticket must still be in the waiting pool and the agent must be allowed to
// serve its queue.
func claimTicketByID(ctx context.Context, tx pgx.Tx, input store.CallNextInput, calledAt time.Time) (models.Ticket, error) {
	ticket, err := lockTicket(ctx, tx, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !store.ValidTransition("call_next", ticket.Status) {
		return models.Ticket{}, store.ErrTicketNotFound
	}

	allowed, err := agentAllowsService(ctx, tx, input.AgentID, ticket.ServiceID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !allowed {
		return models.Ticket{}, store.ErrNotAuthorized
	}

	row := tx.QueryRow(ctx, `
		UPDATE tickets
		SET status = $1,
			called_at = $2,
			served_at = $2,
			counter_id = $3,
			agent_id = $4,
			recall_count = recall_count + 1
		WHERE id = $5
		RETURNING `+ticketColumns+`
	`, models.StatusCalled, calledAt, input.CounterID, input.AgentID, ticket.ID)
	return scanTicket(row)
}

// claimNextTicket takes the head of a service's queue: priority DESC,
// created_at ASC, skipping rows another call-next already locked.
func claimNextTicket(ctx context.Context, tx pgx.Tx, serviceID int64, input store.CallNextInput, calledAt time.Time) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `
		WITH next_ticket AS (
			SELECT id
			FROM tickets
			WHERE service_id = $1 AND status IN ('waiting', 'recycled')
			ORDER BY priority DESC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE tickets
		SET status = $2,
			called_at = $3,
			served_at = $3,
			counter_id = $4,
			agent_id = $5,
			recall_count = recall_count + 1
		FROM next_ticket
		WHERE tickets.id = next_ticket.id
		RETURNING `+ticketColumns+`
	`, serviceID, models.StatusCalled, calledAt, input.CounterID, input.AgentID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrNoTicket
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

// resolveService picks the queue to pull from when no specific ticket was
// requested: explicit service, then the agent's assignments in priority
// order, then the counter's default service, then the first active service
// with anything waiting.
func resolveService(ctx context.Context, tx pgx.Tx, input store.CallNextInput, counter models.Counter) (int64, error) {
	if input.ServiceID > 0 {
		if err := ensureActiveService(ctx, tx, input.ServiceID); err != nil {
			return 0, err
		}
		allowed, err := agentAllowsService(ctx, tx, input.AgentID, input.ServiceID)
		if err != nil {
			return 0, err
		}
		if !allowed {
			return 0, store.ErrNotAuthorized
		}
		return input.ServiceID, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT a.service_id
		FROM agent_services a
		JOIN services s ON s.id = a.service_id
		WHERE a.agent_id = $1 AND s.is_active = TRUE
		ORDER BY a.priority ASC, a.service_id ASC
	`, input.AgentID)
	if err != nil {
		return 0, err
	}
	var assigned []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		assigned = append(assigned, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, serviceID := range assigned {
		queued, err := countInQueue(ctx, tx, serviceID)
		if err != nil {
			return 0, err
		}
		if queued > 0 {
			return serviceID, nil
		}
	}
	if len(assigned) > 0 {
		// Assignments exist but all queues are empty.
		return assigned[0], nil
	}

	if counter.DefaultServiceID != nil {
		return *counter.DefaultServiceID, nil
	}

	var serviceID int64
	row := tx.QueryRow(ctx, `
		SELECT id FROM services WHERE is_active = TRUE ORDER BY id ASC LIMIT 1
	`)
	if err := row.Scan(&serviceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, store.ErrServiceNotFound
		}
		return 0, err
	}
	return serviceID, nil
}

func lockTicket(ctx context.Context, tx pgx.Tx, ticketID int64) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1
		FOR UPDATE
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func lockCounter(ctx context.Context, tx pgx.Tx, counterID int64) (models.Counter, error) {
	var counter models.Counter
	var defaultServiceID, agentID, ticketID sql.NullInt64
	row := tx.QueryRow(ctx, `
		SELECT id, number, name, status, default_service_id, current_agent_id, current_ticket_id
		FROM counters
		WHERE id = $1
		FOR UPDATE
	`, counterID)
	if err := row.Scan(&counter.ID, &counter.Number, &counter.Name, &counter.Status,
		&defaultServiceID, &agentID, &ticketID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Counter{}, store.ErrCounterNotFound
		}
		return models.Counter{}, err
	}
	counter.DefaultServiceID = nullInt64Ptr(defaultServiceID)
	counter.CurrentAgentID = nullInt64Ptr(agentID)
	counter.CurrentTicketID = nullInt64Ptr(ticketID)
	return counter, nil
}

func releaseCounter(ctx context.Context, tx pgx.Tx, counterID int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE counters
		SET status = $1, current_ticket_id = NULL
		WHERE id = $2
	`, models.CounterAvailable, counterID)
	return err
}

func ensureAgentExists(ctx context.Context, tx pgx.Tx, agentID int64) error {
	var id int64
	row := tx.QueryRow(ctx, `
		SELECT id FROM agents WHERE id = $1 AND is_active = TRUE
	`, agentID)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrAgentNotFound
		}
		return err
	}
	return nil
}

func ensureActiveService(ctx context.Context, tx pgx.Tx, serviceID int64) error {
	var id int64
	row := tx.QueryRow(ctx, `
		SELECT id FROM services WHERE id = $1 AND is_active = TRUE
	`, serviceID)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrServiceNotFound
		}
		return err
	}
	return nil
}

// agentAllowsService mirrors counter/service mapping semantics: an agent
// with no assignments at all is unrestricted.
func agentAllowsService(ctx context.Context, tx pgx.Tx, agentID, serviceID int64) (bool, error) {
	var count int
	row := tx.QueryRow(ctx, `
		SELECT COUNT(1) FROM agent_services WHERE agent_id = $1
	`, agentID)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	if count == 0 {
		return true, nil
	}
	row = tx.QueryRow(ctx, `
		SELECT COUNT(1) FROM agent_services WHERE agent_id = $1 AND service_id = $2
	`, agentID, serviceID)
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func assignedTo(ticket models.Ticket, counterID, agentID int64) bool {
	if ticket.CounterID == nil || ticket.AgentID == nil {
		return false
	}
	return *ticket.CounterID == counterID && *ticket.AgentID == agentID
}

func occurredAt(input store.ActionInput) time.Time {
	if input.OccurredAt.IsZero() {
		return time.Now().UTC()
	}
	return input.OccurredAt
}
