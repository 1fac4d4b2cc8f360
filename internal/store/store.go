package store

import (
	"context"
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"
)

type CreateTicketInput struct {
	ServiceID     int64
	Priority      int
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	Notes         string
	CreatedAt     time.Time
}

type CallNextInput struct {
	CounterID int64
	AgentID   int64
	ServiceID int64 // optional: requested service
	TicketID  int64 // optional: requested ticket, takes precedence
	CalledAt  time.Time
}

type ActionInput struct {
	TicketID   int64
	CounterID  int64
	AgentID    int64
	Notes      string
	Position   int // recycle only; advisory, recorded in the audit trail
	OccurredAt time.Time
}

type TransferInput struct {
	TicketID        int64
	TargetServiceID int64
	CounterID       int64
	AgentID         int64
	OccurredAt      time.Time
}

type PresetInput struct {
	ServiceID   int64
	StartNumber int
	Count       int
}

// ActionResult bundles a lifecycle outcome with the queue snapshot built in
// the same transaction.
type ActionResult struct {
	Ticket models.Ticket
	Queue  models.QueueSnapshot
}

type TransferResult struct {
	Ticket models.Ticket
	From   models.QueueSnapshot
	To     models.QueueSnapshot
}

type ResetResult struct {
	TicketsDeleted int
	CountersReset  int
	ServicesReset  int
	// Empty snapshots per active service, for post-commit broadcast.
	Queues []models.QueueSnapshot
}

type PresetResult struct {
	Created int
	Skipped int
	Queue   models.QueueSnapshot
}

// QueueStore is the single mutation path for tickets and counters. Every
// method that writes runs as one transaction: guard, writes, snapshot,
// commit. Audit events and broadcasts are the caller's concern and happen
// only after commit.
type QueueStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (ActionResult, error)
	CallNext(ctx context.Context, input CallNextInput) (ActionResult, error)
	Complete(ctx context.Context, input ActionInput) (ActionResult, error)
	Recall(ctx context.Context, input ActionInput) (ActionResult, error)
	NoShow(ctx context.Context, input ActionInput) (ActionResult, error)
	Recycle(ctx context.Context, input ActionInput) (ActionResult, error)
	Transfer(ctx context.Context, input TransferInput) (TransferResult, error)

	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	Snapshot(ctx context.Context, serviceID int64) (models.QueueSnapshot, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	ListCounters(ctx context.Context) ([]models.Counter, error)

	ResetSystem(ctx context.Context) (ResetResult, error)
	PresetQueue(ctx context.Context, input PresetInput) (PresetResult, error)

	AppendEvent(ctx context.Context, event models.Event) error
	ListEvents(ctx context.Context, entityType string, limit int) ([]models.Event, error)
	GetSetting(ctx context.Context, key string) (string, bool, error)
}
