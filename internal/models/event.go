package models

import (
	"encoding/json"
	"time"
)

// Event is one append-only audit record. The core never updates or deletes
// rows in the events table.
type Event struct {
	ID         int64           `json:"id"`
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Data       json.RawMessage `json:"data,omitempty"`
	ActorID    *int64          `json:"actor_id,omitempty"`
	CounterID  *int64          `json:"counter_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	EventTicketCreated     = "TICKET_CREATED"
	EventTicketCalled      = "TICKET_CALLED"
	EventTicketCompleted   = "TICKET_COMPLETED"
	EventTicketRecalled    = "TICKET_RECALLED"
	EventTicketNoShow      = "TICKET_NO_SHOW"
	EventTicketRecycled    = "TICKET_RECYCLED"
	EventTicketTransferred = "TICKET_TRANSFERRED"
	EventSystemReset       = "SYSTEM_RESET"
	EventQueuePreset       = "QUEUE_PRESET"
)

const (
	EntityTicket = "ticket"
	EntitySystem = "system"
)
