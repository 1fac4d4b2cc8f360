package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"
	"github.com/microaistudio/flowmatic-2r-full/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketNumberPad = 3

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// inTx runs fn inside one transaction. Writes never reach the database from
// anywhere else; a failed fn rolls everything back.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	err = tx.Commit(ctx)
	return err
}

const ticketColumns = `id, ticket_number, service_id, priority, status, created_at,
	called_at, served_at, completed_at, estimated_wait, actual_wait, service_duration,
	counter_id, agent_id, recall_count, original_service_id, transferred_at,
	notes, customer_name, customer_phone, customer_email`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var calledAt, servedAt, completedAt, transferredAt sql.NullTime
	var estimatedWait, actualWait, serviceDuration sql.NullInt32
	var counterID, agentID, originalServiceID sql.NullInt64
	var notes, name, phone, email sql.NullString

	err := row.Scan(&ticket.ID, &ticket.TicketNumber, &ticket.ServiceID, &ticket.Priority,
		&ticket.Status, &ticket.CreatedAt, &calledAt, &servedAt, &completedAt,
		&estimatedWait, &actualWait, &serviceDuration, &counterID, &agentID,
		&ticket.RecallCount, &originalServiceID, &transferredAt,
		&notes, &name, &phone, &email)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket.CalledAt = nullTimePtr(calledAt)
	ticket.ServedAt = nullTimePtr(servedAt)
	ticket.CompletedAt = nullTimePtr(completedAt)
	ticket.TransferredAt = nullTimePtr(transferredAt)
	ticket.EstimatedWait = nullIntPtr(estimatedWait)
	ticket.ActualWait = nullIntPtr(actualWait)
	ticket.ServiceDuration = nullIntPtr(serviceDuration)
	ticket.CounterID = nullInt64Ptr(counterID)
	ticket.AgentID = nullInt64Ptr(agentID)
	ticket.OriginalServiceID = nullInt64Ptr(originalServiceID)
	ticket.Notes = nullString(notes)
	ticket.CustomerName = nullString(name)
	ticket.CustomerPhone = nullString(phone)
	ticket.CustomerEmail = nullString(email)
	return ticket, nil
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (store.ActionResult, error) {
	var result store.ActionResult
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		svc, err := lockService(ctx, tx, input.ServiceID)
		if err != nil {
			return err
		}
		if !svc.IsActive {
			return store.ErrServiceNotFound
		}

		next := svc.CurrentNumber + 1
		if next < svc.RangeStart {
			next = svc.RangeStart
		}
		if next > svc.RangeEnd {
			return store.ErrRangeExhausted
		}
		ticketNumber := formatTicketNumber(svc.Prefix, next)

		createdAt := input.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}

		waiting, err := countInQueue(ctx, tx, input.ServiceID)
		if err != nil {
			return err
		}
		estimatedWait := waiting * svc.EstimatedServiceTime

		row := tx.QueryRow(ctx, `
			INSERT INTO tickets (
				ticket_number, service_id, priority, status, created_at, estimated_wait,
				notes, customer_name, customer_phone, customer_email
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+ticketColumns+`
		`, ticketNumber, input.ServiceID, input.Priority, models.StatusWaiting, createdAt,
			estimatedWait, nullIfEmpty(input.Notes), nullIfEmpty(input.CustomerName),
			nullIfEmpty(input.CustomerPhone), nullIfEmpty(input.CustomerEmail))
		if result.Ticket, err = scanTicket(row); err != nil {
			return err
		}

		if _, err = tx.Exec(ctx, `
			UPDATE services SET current_number = $1 WHERE id = $2
		`, next, input.ServiceID); err != nil {
			return err
		}

		result.Queue, err = snapshotLocked(ctx, tx, input.ServiceID)
		return err
	})
	if err != nil {
		return store.ActionResult{}, err
	}
	return result, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE id = $1
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

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, prefix, range_start, range_end, current_number, estimated_service_time, is_active
		FROM services
		WHERE is_active = TRUE
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Prefix, &svc.RangeStart, &svc.RangeEnd,
			&svc.CurrentNumber, &svc.EstimatedServiceTime, &svc.IsActive); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) ListCounters(ctx context.Context) ([]models.Counter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, number, name, status, default_service_id, current_agent_id, current_ticket_id
		FROM counters
		ORDER BY number ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []models.Counter
	for rows.Next() {
		var counter models.Counter
		var defaultServiceID, agentID, ticketID sql.NullInt64
		if err := rows.Scan(&counter.ID, &counter.Number, &counter.Name, &counter.Status,
			&defaultServiceID, &agentID, &ticketID); err != nil {
			return nil, err
		}
		counter.DefaultServiceID = nullInt64Ptr(defaultServiceID)
		counter.CurrentAgentID = nullInt64Ptr(agentID)
		counter.CurrentTicketID = nullInt64Ptr(ticketID)
		counters = append(counters, counter)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counters, nil
}

func (s *Store) AppendEvent(ctx context.Context, event models.Event) error {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO events (event_type, entity_type, entity_id, data, actor_id, counter_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.EventType, event.EntityType, event.EntityID, event.Data,
		event.ActorID, event.CounterID, createdAt)
	return err
}

func (s *Store) ListEvents(ctx context.Context, entityType string, limit int) ([]models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, event_type, entity_type, entity_id, data, actor_id, counter_id, created_at
		FROM events
	`
	args := []any{}
	if entityType != "" {
		query += " WHERE entity_type = $1 ORDER BY id DESC LIMIT $2"
		args = append(args, entityType, limit)
	} else {
		query += " ORDER BY id DESC LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var event models.Event
		var entityID, actorID, counterID sql.NullInt64
		if err := rows.Scan(&event.ID, &event.EventType, &event.EntityType, &entityID,
			&event.Data, &actorID, &counterID, &event.CreatedAt); err != nil {
			return nil, err
		}
		if entityID.Valid {
			event.EntityID = entityID.Int64
		}
		event.ActorID = nullInt64Ptr(actorID)
		event.CounterID = nullInt64Ptr(counterID)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var value string
	row := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func lockService(ctx context.Context, tx pgx.Tx, serviceID int64) (models.Service, error) {
	var svc models.Service
	row := tx.QueryRow(ctx, `
		SELECT id, name, prefix, range_start, range_end, current_number, estimated_service_time, is_active
		FROM services
		WHERE id = $1
		FOR UPDATE
	`, serviceID)
	if err := row.Scan(&svc.ID, &svc.Name, &svc.Prefix, &svc.RangeStart, &svc.RangeEnd,
		&svc.CurrentNumber, &svc.EstimatedServiceTime, &svc.IsActive); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return svc, nil
}

func formatTicketNumber(prefix string, seq int) string {
	return fmt.Sprintf("%s%0*d", prefix, ticketNumberPad, seq)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullInt64Ptr(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	v := value.Int64
	return &v
}

func nullIntPtr(value sql.NullInt32) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int32)
	return &v
}

func nullString(value sql.NullString) string {
	if !value.Valid {
		return ""
	}
	return value.String
}
