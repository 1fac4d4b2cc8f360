package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"
	"github.com/microaistudio/flowmatic-2r-full/internal/store"
)

// Broadcaster publishes lifecycle outcomes to realtime subscribers. A
// serviceID of 0 addresses every subscriber.
type Broadcaster interface {
	Publish(eventType string, serviceID int64, payload any)
}

// Store is the part of the transactional store the engine drives.
type Store interface {
	CreateTicket(ctx context.Context, input store.CreateTicketInput) (store.ActionResult, error)
	CallNext(ctx context.Context, input store.CallNextInput) (store.ActionResult, error)
	Complete(ctx context.Context, input store.ActionInput) (store.ActionResult, error)
	Recall(ctx context.Context, input store.ActionInput) (store.ActionResult, error)
	NoShow(ctx context.Context, input store.ActionInput) (store.ActionResult, error)
	Recycle(ctx context.Context, input store.ActionInput) (store.ActionResult, error)
	Transfer(ctx context.Context, input store.TransferInput) (store.TransferResult, error)
	Snapshot(ctx context.Context, serviceID int64) (models.QueueSnapshot, error)
	AppendEvent(ctx context.Context, event models.Event) error
}

const sideEffectTimeout = 5 * time.Second

// Engine drives every ticket state transition. The store call is the atomic
// part; the audit event and the broadcast run after commit and are
// best-effort, their failure is logged and never surfaced.
type Engine struct {
	store       Store
	broadcaster Broadcaster
}

func NewEngine(st Store, broadcaster Broadcaster) *Engine {
	return &Engine{store: st, broadcaster: broadcaster}
}

func (e *Engine) CreateTicket(ctx context.Context, input store.CreateTicketInput) (store.ActionResult, error) {
	result, err := e.store.CreateTicket(ctx, input)
	if err != nil {
		return store.ActionResult{}, err
	}
	e.recordTicketEvent(models.EventTicketCreated, result.Ticket, nil, nil)
	e.broadcaster.Publish("ticket-created", result.Ticket.ServiceID, result.Ticket)
	e.publishQueue(result.Queue)
	return result, nil
}

func (e *Engine) CallNext(ctx context.Context, input store.CallNextInput) (store.ActionResult, error) {
	result, err := e.store.CallNext(ctx, input)
	if err != nil {
		return store.ActionResult{}, err
	}
	e.recordTicketEvent(models.EventTicketCalled, result.Ticket, &input.AgentID, &input.CounterID)
	e.broadcaster.Publish("ticket-called", result.Ticket.ServiceID, result.Ticket)
	e.publishQueue(result.Queue)
	return result, nil
}

func (e *Engine) Complete(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	result, err := e.store.Complete(ctx, input)
	if err != nil {
		return store.ActionResult{}, err
	}
	e.recordTicketEvent(models.EventTicketCompleted, result.Ticket, &input.AgentID, &input.CounterID)
	e.broadcaster.Publish("ticket-completed", result.Ticket.ServiceID, result.Ticket)
	e.publishQueue(result.Queue)
	return result, nil
}

func (e *Engine) Recall(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	result, err := e.store.Recall(ctx, input)
	if err != nil {
		return store.ActionResult{}, err
	}
	e.recordTicketEvent(models.EventTicketRecalled, result.Ticket, &input.AgentID, &input.CounterID)
	// A recall re-announces the call on the displays.
	e.broadcaster.Publish("ticket-called", result.Ticket.ServiceID, result.Ticket)
	return result, nil
}

func (e *Engine) NoShow(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	result, err := e.store.NoShow(ctx, input)
	if err != nil {
		return store.ActionResult{}, err
	}
	e.recordTicketEvent(models.EventTicketNoShow, result.Ticket, &input.AgentID, &input.CounterID)
	e.publishQueue(result.Queue)
	return result, nil
}

func (e *Engine) Recycle(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	result, err := e.store.Recycle(ctx, input)
	if err != nil {
		return store.ActionResult{}, err
	}
	// The requested position is advisory; it is recorded for displays but
	// never alters the physical ordering.
	data := ticketEventData(result.Ticket)
	if input.Position > 0 {
		data["position"] = input.Position
	}
	e.recordEvent(models.EventTicketRecycled, models.EntityTicket, result.Ticket.ID, data,
		&input.AgentID, &input.CounterID)
	e.broadcaster.Publish("ticket-recycled", result.Ticket.ServiceID, result.Ticket)
	e.publishQueue(result.Queue)
	return result, nil
}

func (e *Engine) Transfer(ctx context.Context, input store.TransferInput) (store.TransferResult, error) {
	result, err := e.store.Transfer(ctx, input)
	if err != nil {
		return store.TransferResult{}, err
	}
	data := ticketEventData(result.Ticket)
	data["from_service_id"] = result.From.ServiceID
	data["to_service_id"] = result.To.ServiceID
	e.recordEvent(models.EventTicketTransferred, models.EntityTicket, result.Ticket.ID, data,
		&input.AgentID, &input.CounterID)
	e.broadcaster.Publish("ticket-transferred", result.Ticket.ServiceID, result.Ticket)
	e.publishQueue(result.From)
	e.publishQueue(result.To)
	return result, nil
}

func (e *Engine) Snapshot(ctx context.Context, serviceID int64) (models.QueueSnapshot, error) {
	return e.store.Snapshot(ctx, serviceID)
}

func (e *Engine) publishQueue(snapshot models.QueueSnapshot) {
	e.broadcaster.Publish("queue-updated", snapshot.ServiceID, snapshot)
}

func (e *Engine) recordTicketEvent(eventType string, ticket models.Ticket, actorID, counterID *int64) {
	e.recordEvent(eventType, models.EntityTicket, ticket.ID, ticketEventData(ticket), actorID, counterID)
}

// recordEvent appends to the audit log with a context detached from the
// request; the owning transaction has already committed.
func (e *Engine) recordEvent(eventType, entityType string, entityID int64, data map[string]any, actorID, counterID *int64) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("event marshal error type=%s: %v", eventType, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()
	if err := e.store.AppendEvent(ctx, models.Event{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Data:       payload,
		ActorID:    actorID,
		CounterID:  counterID,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("event append error type=%s entity=%d: %v", eventType, entityID, err)
	}
}

func ticketEventData(ticket models.Ticket) map[string]any {
	data := map[string]any{
		"ticket_id":     ticket.ID,
		"ticket_number": ticket.TicketNumber,
		"service_id":    ticket.ServiceID,
		"status":        ticket.Status,
	}
	if ticket.CounterID != nil {
		data["counter_id"] = *ticket.CounterID
	}
	if ticket.AgentID != nil {
		data["agent_id"] = *ticket.AgentID
	}
	return data
}
