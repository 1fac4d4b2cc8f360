package models

import "time"

type Ticket struct {
	ID                int64      `json:"id"`
	TicketNumber      string     `json:"ticket_number"`
	ServiceID         int64      `json:"service_id"`
	Priority          int        `json:"priority"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	CalledAt          *time.Time `json:"called_at,omitempty"`
	ServedAt          *time.Time `json:"served_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	EstimatedWait     *int       `json:"estimated_wait,omitempty"`
	ActualWait        *int       `json:"actual_wait,omitempty"`
	ServiceDuration   *int       `json:"service_duration,omitempty"`
	CounterID         *int64     `json:"counter_id,omitempty"`
	AgentID           *int64     `json:"agent_id,omitempty"`
	RecallCount       int        `json:"recall_count"`
	OriginalServiceID *int64     `json:"original_service_id,omitempty"`
	TransferredAt     *time.Time `json:"transferred_at,omitempty"`
	Notes             string     `json:"notes,omitempty"`
	CustomerName      string     `json:"customer_name,omitempty"`
	CustomerPhone     string     `json:"customer_phone,omitempty"`
	CustomerEmail     string     `json:"customer_email,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusRecycled  = "recycled"
	StatusCalled    = "called"
	StatusCompleted = "completed"
	StatusNoShow    = "no_show"
)

// QueueSnapshot is the point-in-time view of one service's queue. It is
// always built inside the same transaction as the mutation that produced it.
type QueueSnapshot struct {
	ServiceID int64    `json:"service_id"`
	Waiting   int      `json:"waiting"`
	Serving   int      `json:"serving"`
	Tickets   []Ticket `json:"tickets"`
}
