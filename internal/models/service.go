package models

type Service struct {
	ID                   int64  `json:"id"`
	Name                 string `json:"name"`
	Prefix               string `json:"prefix"`
	RangeStart           int    `json:"range_start"`
	RangeEnd             int    `json:"range_end"`
	CurrentNumber        int    `json:"current_number"`
	EstimatedServiceTime int    `json:"estimated_service_time"`
	IsActive             bool   `json:"is_active"`
}

type Agent struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// AgentService links an agent to a service it may serve; lower priority
// values are tried first when resolving which queue to pull from.
type AgentService struct {
	AgentID   int64 `json:"agent_id"`
	ServiceID int64 `json:"service_id"`
	Priority  int   `json:"priority"`
}
