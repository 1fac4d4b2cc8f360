package models

type Counter struct {
	ID               int64  `json:"id"`
	Number           int    `json:"number"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	DefaultServiceID *int64 `json:"default_service_id,omitempty"`
	CurrentAgentID   *int64 `json:"current_agent_id,omitempty"`
	CurrentTicketID  *int64 `json:"current_ticket_id,omitempty"`
}

const (
	CounterOffline   = "offline"
	CounterAvailable = "available"
	CounterServing   = "serving"
	CounterBreak     = "break"
)
