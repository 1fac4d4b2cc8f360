package store

import "errors"

var (
	ErrServiceNotFound  = errors.New("service not found")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrCounterNotFound  = errors.New("counter not found")
	ErrAgentNotFound    = errors.New("agent not found")
	ErrNoTicket         = errors.New("no tickets waiting")
	ErrNotAuthorized    = errors.New("agent not authorized for service")
	ErrInvalidState     = errors.New("ticket not in expected state")
	ErrCounterMismatch  = errors.New("ticket assigned to different counter or agent")
	ErrAlreadyCompleted = errors.New("ticket already completed")
	ErrNotServing       = errors.New("ticket not currently served")
	ErrSameService      = errors.New("target service matches current service")
	ErrInvalidTarget    = errors.New("target service invalid or inactive")
	ErrRangeExhausted   = errors.New("ticket number range exhausted")
)
