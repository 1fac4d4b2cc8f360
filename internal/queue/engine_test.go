package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"
	"github.com/microaistudio/flowmatic-2r-full/internal/store"
)

type fakeStore struct {
	callFn     func(ctx context.Context, input store.CallNextInput) (store.ActionResult, error)
	recycleFn  func(ctx context.Context, input store.ActionInput) (store.ActionResult, error)
	transferFn func(ctx context.Context, input store.TransferInput) (store.TransferResult, error)

	events    []models.Event
	appendErr error
}

func (f *fakeStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (store.ActionResult, error) {
	ticket := models.Ticket{
		ID:           1,
		TicketNumber: "A001",
		ServiceID:    input.ServiceID,
		Status:       models.StatusWaiting,
		CreatedAt:    input.CreatedAt,
	}
	return store.ActionResult{Ticket: ticket, Queue: models.QueueSnapshot{ServiceID: input.ServiceID, Waiting: 1}}, nil
}

func (f *fakeStore) CallNext(ctx context.Context, input store.CallNextInput) (store.ActionResult, error) {
	if f.callFn == nil {
		return store.ActionResult{}, store.ErrNoTicket
	}
	return f.callFn(ctx, input)
}

func (f *fakeStore) Complete(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	return store.ActionResult{}, store.ErrTicketNotFound
}

func (f *fakeStore) Recall(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	return store.ActionResult{}, store.ErrTicketNotFound
}

func (f *fakeStore) NoShow(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	return store.ActionResult{}, store.ErrTicketNotFound
}

func (f *fakeStore) Recycle(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
	if f.recycleFn == nil {
		return store.ActionResult{}, store.ErrTicketNotFound
	}
	return f.recycleFn(ctx, input)
}

func (f *fakeStore) Transfer(ctx context.Context, input store.TransferInput) (store.TransferResult, error) {
	if f.transferFn == nil {
		return store.TransferResult{}, store.ErrTicketNotFound
	}
	return f.transferFn(ctx, input)
}

func (f *fakeStore) Snapshot(ctx context.Context, serviceID int64) (models.QueueSnapshot, error) {
	return models.QueueSnapshot{ServiceID: serviceID}, nil
}

func (f *fakeStore) AppendEvent(ctx context.Context, event models.Event) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, event)
	return nil
}

type published struct {
	eventType string
	serviceID int64
	payload   any
}

type fakeBroadcaster struct {
	messages []published
}

func (f *fakeBroadcaster) Publish(eventType string, serviceID int64, payload any) {
	f.messages = append(f.messages, published{eventType: eventType, serviceID: serviceID, payload: payload})
}

func (f *fakeBroadcaster) types() []string {
	types := make([]string, 0, len(f.messages))
	for _, m := range f.messages {
		types = append(types, m.eventType)
	}
	return types
}

func sameTypes(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func calledResult() store.ActionResult {
	calledAt := time.Now().UTC()
	counterID := int64(3)
	agentID := int64(5)
	return store.ActionResult{
		Ticket: models.Ticket{
			ID:           7,
			TicketNumber: "A002",
			ServiceID:    1,
			Status:       models.StatusCalled,
			CalledAt:     &calledAt,
			CounterID:    &counterID,
			AgentID:      &agentID,
		},
		Queue: models.QueueSnapshot{ServiceID: 1, Waiting: 3, Serving: 1},
	}
}

func TestCallNextRecordsEventAndBroadcasts(t *testing.T) {
	st := &fakeStore{
		callFn: func(ctx context.Context, input store.CallNextInput) (store.ActionResult, error) {
			return calledResult(), nil
		},
	}
	bc := &fakeBroadcaster{}
	engine := NewEngine(st, bc)

	result, err := engine.CallNext(context.Background(), store.CallNextInput{CounterID: 3, AgentID: 5})
	if err != nil {
		t.Fatalf("CallNext: %v", err)
	}
	if result.Ticket.TicketNumber != "A002" {
		t.Fatalf("unexpected ticket: %+v", result.Ticket)
	}

	if len(st.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(st.events))
	}
	event := st.events[0]
	if event.EventType != models.EventTicketCalled || event.EntityType != models.EntityTicket || event.EntityID != 7 {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.ActorID == nil || *event.ActorID != 5 || event.CounterID == nil || *event.CounterID != 3 {
		t.Fatalf("expected actor/counter on event, got %+v", event)
	}

	if !sameTypes(bc.types(), []string{"ticket-called", "queue-updated"}) {
		t.Fatalf("unexpected broadcasts: %v", bc.types())
	}
	if bc.messages[1].serviceID != 1 {
		t.Fatalf("queue-updated targeted service %d", bc.messages[1].serviceID)
	}
}

func TestCallNextErrorSuppressesSideEffects(t *testing.T) {
	st := &fakeStore{
		callFn: func(ctx context.Context, input store.CallNextInput) (store.ActionResult, error) {
			return store.ActionResult{}, store.ErrNoTicket
		},
	}
	bc := &fakeBroadcaster{}
	engine := NewEngine(st, bc)

	_, err := engine.CallNext(context.Background(), store.CallNextInput{CounterID: 3, AgentID: 5})
	if !errors.Is(err, store.ErrNoTicket) {
		t.Fatalf("expected ErrNoTicket, got %v", err)
	}
	if len(st.events) != 0 || len(bc.messages) != 0 {
		t.Fatalf("expected no side effects, got %d events, %d broadcasts", len(st.events), len(bc.messages))
	}
}

func TestAppendFailureDoesNotFailOperation(t *testing.T) {
	st := &fakeStore{
		callFn: func(ctx context.Context, input store.CallNextInput) (store.ActionResult, error) {
			return calledResult(), nil
		},
		appendErr: errors.New("event table gone"),
	}
	bc := &fakeBroadcaster{}
	engine := NewEngine(st, bc)

	_, err := engine.CallNext(context.Background(), store.CallNextInput{CounterID: 3, AgentID: 5})
	if err != nil {
		t.Fatalf("append failure must not surface, got %v", err)
	}
	if !sameTypes(bc.types(), []string{"ticket-called", "queue-updated"}) {
		t.Fatalf("broadcast should still run, got %v", bc.types())
	}
}

func TestRecycleRecordsAdvisoryPosition(t *testing.T) {
	st := &fakeStore{
		recycleFn: func(ctx context.Context, input store.ActionInput) (store.ActionResult, error) {
			return store.ActionResult{
				Ticket: models.Ticket{ID: 7, TicketNumber: "A002", ServiceID: 1, Status: models.StatusRecycled},
				Queue:  models.QueueSnapshot{ServiceID: 1, Waiting: 4},
			}, nil
		},
	}
	bc := &fakeBroadcaster{}
	engine := NewEngine(st, bc)

	_, err := engine.Recycle(context.Background(), store.ActionInput{TicketID: 7, CounterID: 3, AgentID: 5, Position: 2})
	if err != nil {
		t.Fatalf("Recycle: %v", err)
	}
	if len(st.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(st.events))
	}

	var data map[string]any
	if err := json.Unmarshal(st.events[0].Data, &data); err != nil {
		t.Fatalf("unmarshal event data: %v", err)
	}
	if data["position"] != float64(2) {
		t.Fatalf("expected advisory position in event data, got %+v", data)
	}
	if !sameTypes(bc.types(), []string{"ticket-recycled", "queue-updated"}) {
		t.Fatalf("unexpected broadcasts: %v", bc.types())
	}
}

func TestRecallReannouncesWithoutQueueUpdate(t *testing.T) {
	st := &fakeStore{}
	bc := &fakeBroadcaster{}
	engine := NewEngine(st, bc)

	_, err := engine.Recall(context.Background(), store.ActionInput{TicketID: 7, CounterID: 3, AgentID: 5})
	if !errors.Is(err, store.ErrTicketNotFound) {
		t.Fatalf("expected ErrTicketNotFound, got %v", err)
	}
	if len(bc.messages) != 0 {
		t.Fatalf("expected no broadcasts on error, got %v", bc.types())
	}
}

func TestTransferBroadcastsBothQueues(t *testing.T) {
	st := &fakeStore{
		transferFn: func(ctx context.Context, input store.TransferInput) (store.TransferResult, error) {
			transferredAt := time.Now().UTC()
			original := int64(1)
			return store.TransferResult{
				Ticket: models.Ticket{
					ID:                9,
					TicketNumber:      "A002",
					ServiceID:         2,
					Status:            models.StatusWaiting,
					OriginalServiceID: &original,
					TransferredAt:     &transferredAt,
				},
				From: models.QueueSnapshot{ServiceID: 1, Waiting: 2},
				To:   models.QueueSnapshot{ServiceID: 2, Waiting: 5},
			}, nil
		},
	}
	bc := &fakeBroadcaster{}
	engine := NewEngine(st, bc)

	_, err := engine.Transfer(context.Background(), store.TransferInput{TicketID: 7, TargetServiceID: 2, CounterID: 3, AgentID: 5})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	if !sameTypes(bc.types(), []string{"ticket-transferred", "queue-updated", "queue-updated"}) {
		t.Fatalf("unexpected broadcasts: %v", bc.types())
	}
	if bc.messages[1].serviceID != 1 || bc.messages[2].serviceID != 2 {
		t.Fatalf("queue updates should cover both services, got %v", bc.messages)
	}

	var data map[string]any
	if err := json.Unmarshal(st.events[0].Data, &data); err != nil {
		t.Fatalf("unmarshal event data: %v", err)
	}
	if data["from_service_id"] != float64(1) || data["to_service_id"] != float64(2) {
		t.Fatalf("expected from/to service in event data, got %+v", data)
	}
}
