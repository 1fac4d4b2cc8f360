package httpapi

import (
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"
)

// The wire views duplicate multi-word fields under snake_case and camelCase
// names. Downstream consumers grew up on both spellings; the duplication
// lives only here, never in the internal representation.

type ticketView struct {
	ID int64 `json:"id"`

	TicketNumber      string `json:"ticket_number"`
	TicketNumberAlias string `json:"ticketNumber"`

	ServiceID      int64 `json:"service_id"`
	ServiceIDAlias int64 `json:"serviceId"`

	Priority int    `json:"priority"`
	Status   string `json:"status"`
	Recycled bool   `json:"recycled"`

	CreatedAt      time.Time `json:"created_at"`
	CreatedAtAlias time.Time `json:"createdAt"`

	CalledAt      *time.Time `json:"called_at,omitempty"`
	CalledAtAlias *time.Time `json:"calledAt,omitempty"`

	ServedAt      *time.Time `json:"served_at,omitempty"`
	ServedAtAlias *time.Time `json:"servedAt,omitempty"`

	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	CompletedAtAlias *time.Time `json:"completedAt,omitempty"`

	EstimatedWait      *int `json:"estimated_wait,omitempty"`
	EstimatedWaitAlias *int `json:"estimatedWait,omitempty"`

	ActualWait      *int `json:"actual_wait,omitempty"`
	ActualWaitAlias *int `json:"actualWait,omitempty"`

	ServiceDuration      *int `json:"service_duration,omitempty"`
	ServiceDurationAlias *int `json:"serviceDuration,omitempty"`

	CounterID      *int64 `json:"counter_id,omitempty"`
	CounterIDAlias *int64 `json:"counterId,omitempty"`

	AgentID      *int64 `json:"agent_id,omitempty"`
	AgentIDAlias *int64 `json:"agentId,omitempty"`

	RecallCount      int `json:"recall_count"`
	RecallCountAlias int `json:"recallCount"`

	OriginalServiceID      *int64 `json:"original_service_id,omitempty"`
	OriginalServiceIDAlias *int64 `json:"originalServiceId,omitempty"`

	TransferredAt      *time.Time `json:"transferred_at,omitempty"`
	TransferredAtAlias *time.Time `json:"transferredAt,omitempty"`

	Notes string `json:"notes,omitempty"`

	CustomerName      string `json:"customer_name,omitempty"`
	CustomerNameAlias string `json:"customerName,omitempty"`

	CustomerPhone      string `json:"customer_phone,omitempty"`
	CustomerPhoneAlias string `json:"customerPhone,omitempty"`

	CustomerEmail      string `json:"customer_email,omitempty"`
	CustomerEmailAlias string `json:"customerEmail,omitempty"`
}

type queueView struct {
	ServiceID      int64        `json:"service_id"`
	ServiceIDAlias int64        `json:"serviceId"`
	Waiting        int          `json:"waiting"`
	Serving        int          `json:"serving"`
	Tickets        []ticketView `json:"tickets"`
}

func viewTicket(ticket models.Ticket) ticketView {
	return ticketView{
		ID:                     ticket.ID,
		TicketNumber:           ticket.TicketNumber,
		TicketNumberAlias:      ticket.TicketNumber,
		ServiceID:              ticket.ServiceID,
		ServiceIDAlias:         ticket.ServiceID,
		Priority:               ticket.Priority,
		Status:                 ticket.Status,
		Recycled:               ticket.Status == models.StatusRecycled,
		CreatedAt:              ticket.CreatedAt,
		CreatedAtAlias:         ticket.CreatedAt,
		CalledAt:               ticket.CalledAt,
		CalledAtAlias:          ticket.CalledAt,
		ServedAt:               ticket.ServedAt,
		ServedAtAlias:          ticket.ServedAt,
		CompletedAt:            ticket.CompletedAt,
		CompletedAtAlias:       ticket.CompletedAt,
		EstimatedWait:          ticket.EstimatedWait,
		EstimatedWaitAlias:     ticket.EstimatedWait,
		ActualWait:             ticket.ActualWait,
		ActualWaitAlias:        ticket.ActualWait,
		ServiceDuration:        ticket.ServiceDuration,
		ServiceDurationAlias:   ticket.ServiceDuration,
		CounterID:              ticket.CounterID,
		CounterIDAlias:         ticket.CounterID,
		AgentID:                ticket.AgentID,
		AgentIDAlias:           ticket.AgentID,
		RecallCount:            ticket.RecallCount,
		RecallCountAlias:       ticket.RecallCount,
		OriginalServiceID:      ticket.OriginalServiceID,
		OriginalServiceIDAlias: ticket.OriginalServiceID,
		TransferredAt:          ticket.TransferredAt,
		TransferredAtAlias:     ticket.TransferredAt,
		Notes:                  ticket.Notes,
		CustomerName:           ticket.CustomerName,
		CustomerNameAlias:      ticket.CustomerName,
		CustomerPhone:          ticket.CustomerPhone,
		CustomerPhoneAlias:     ticket.CustomerPhone,
		CustomerEmail:          ticket.CustomerEmail,
		CustomerEmailAlias:     ticket.CustomerEmail,
	}
}

func viewQueue(snapshot models.QueueSnapshot) queueView {
	view := queueView{
		ServiceID:      snapshot.ServiceID,
		ServiceIDAlias: snapshot.ServiceID,
		Waiting:        snapshot.Waiting,
		Serving:        snapshot.Serving,
		Tickets:        []ticketView{},
	}
	for _, ticket := range snapshot.Tickets {
		view.Tickets = append(view.Tickets, viewTicket(ticket))
	}
	return view
}
