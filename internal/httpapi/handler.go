package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"
	"github.com/microaistudio/flowmatic-2r-full/internal/reset"
	"github.com/microaistudio/flowmatic-2r-full/internal/store"
)

// Lifecycle is the engine surface the handlers drive.
type Lifecycle interface {
	CreateTicket(ctx context.Context, input store.CreateTicketInput) (store.ActionResult, error)
	CallNext(ctx context.Context, input store.CallNextInput) (store.ActionResult, error)
	Complete(ctx context.Context, input store.ActionInput) (store.ActionResult, error)
	Recall(ctx context.Context, input store.ActionInput) (store.ActionResult, error)
	NoShow(ctx context.Context, input store.ActionInput) (store.ActionResult, error)
	Recycle(ctx context.Context, input store.ActionInput) (store.ActionResult, error)
	Transfer(ctx context.Context, input store.TransferInput) (store.TransferResult, error)
	Snapshot(ctx context.Context, serviceID int64) (models.QueueSnapshot, error)
}

// Admin is the reset/preset surface.
type Admin interface {
	ResetSystem(ctx context.Context) (reset.Outcome, error)
	PresetQueue(ctx context.Context, input store.PresetInput) (store.PresetResult, error)
}

// Directory serves the read-only support endpoints.
type Directory interface {
	ListServices(ctx context.Context) ([]models.Service, error)
	ListCounters(ctx context.Context) ([]models.Counter, error)
	ListEvents(ctx context.Context, entityType string, limit int) ([]models.Event, error)
}

type Handler struct {
	lifecycle Lifecycle
	admin     Admin
	directory Directory
}

func NewHandler(lifecycle Lifecycle, admin Admin, directory Directory) *Handler {
	return &Handler{lifecycle: lifecycle, admin: admin, directory: directory}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/tickets", h.handleCreateTicket)
	mux.HandleFunc("/api/queue/snapshot", h.handleSnapshot)
	mux.HandleFunc("/api/terminal/call-next", h.handleCallNext)
	mux.HandleFunc("/api/terminal/complete", h.handleComplete)
	mux.HandleFunc("/api/terminal/recall", h.handleRecall)
	mux.HandleFunc("/api/terminal/no-show", h.handleNoShow)
	mux.HandleFunc("/api/terminal/recycle", h.handleRecycle)
	mux.HandleFunc("/api/terminal/transfer", h.handleTransfer)
	mux.HandleFunc("/api/admin/reset", h.handleReset)
	mux.HandleFunc("/api/admin/preset", h.handlePreset)
	mux.HandleFunc("/api/services", h.handleServices)
	mux.HandleFunc("/api/counters", h.handleCounters)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type createTicketRequest struct {
	ServiceID     int64  `json:"serviceId"`
	Priority      int    `json:"priority"`
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	CustomerEmail string `json:"customerEmail"`
	Notes         string `json:"notes"`
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.ServiceID <= 0 {
		writeError(w, http.StatusBadRequest, "serviceId must be a positive integer")
		return
	}
	if req.Priority < 0 || req.Priority > 2 {
		writeError(w, http.StatusBadRequest, "priority must be between 0 and 2")
		return
	}

	result, err := h.lifecycle.CreateTicket(r.Context(), store.CreateTicketInput{
		ServiceID:     req.ServiceID,
		Priority:      req.Priority,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		CustomerEmail: strings.TrimSpace(req.CustomerEmail),
		Notes:         strings.TrimSpace(req.Notes),
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"ticket":      viewTicket(result.Ticket),
		"queueUpdate": viewQueue(result.Queue),
	})
}

type callNextRequest struct {
	CounterID int64 `json:"counterId"`
	AgentID   int64 `json:"agentId"`
	ServiceID int64 `json:"serviceId"`
	TicketID  int64 `json:"ticketId"`
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req callNextRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.CounterID <= 0 || req.AgentID <= 0 {
		writeError(w, http.StatusBadRequest, "counterId and agentId are required")
		return
	}

	result, err := h.lifecycle.CallNext(r.Context(), store.CallNextInput{
		CounterID: req.CounterID,
		AgentID:   req.AgentID,
		ServiceID: req.ServiceID,
		TicketID:  req.TicketID,
		CalledAt:  time.Now().UTC(),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":      viewTicket(result.Ticket),
		"queueUpdate": viewQueue(result.Queue),
	})
}

type actionRequest struct {
	TicketID  int64  `json:"ticketId"`
	CounterID int64  `json:"counterId"`
	AgentID   int64  `json:"agentId"`
	Notes     string `json:"notes"`
	Position  int    `json:"position"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.lifecycle.Complete)
}

func (h *Handler) handleRecall(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.lifecycle.Recall)
}

func (h *Handler) handleNoShow(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.lifecycle.NoShow)
}

func (h *Handler) handleRecycle(w http.ResponseWriter, r *http.Request) {
	h.handleAction(w, r, h.lifecycle.Recycle)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request, action func(context.Context, store.ActionInput) (store.ActionResult, error)) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req actionRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.TicketID <= 0 || req.CounterID <= 0 || req.AgentID <= 0 {
		writeError(w, http.StatusBadRequest, "ticketId, counterId, and agentId are required")
		return
	}

	result, err := action(r.Context(), store.ActionInput{
		TicketID:   req.TicketID,
		CounterID:  req.CounterID,
		AgentID:    req.AgentID,
		Notes:      strings.TrimSpace(req.Notes),
		Position:   req.Position,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":      viewTicket(result.Ticket),
		"queueUpdate": viewQueue(result.Queue),
	})
}

type transferRequest struct {
	TicketID        int64 `json:"ticketId"`
	TargetServiceID int64 `json:"targetServiceId"`
	CounterID       int64 `json:"counterId"`
	AgentID         int64 `json:"agentId"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req transferRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if req.TicketID <= 0 || req.CounterID <= 0 || req.AgentID <= 0 {
		writeError(w, http.StatusBadRequest, "ticketId, counterId, and agentId are required")
		return
	}
	if req.TargetServiceID <= 0 {
		writeError(w, http.StatusBadRequest, "targetServiceId must be a positive integer")
		return
	}

	result, err := h.lifecycle.Transfer(r.Context(), store.TransferInput{
		TicketID:        req.TicketID,
		TargetServiceID: req.TargetServiceID,
		CounterID:       req.CounterID,
		AgentID:         req.AgentID,
		OccurredAt:      time.Now().UTC(),
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"ticket":  viewTicket(result.Ticket),
		"queueUpdate": map[string]any{
			"fromService": viewQueue(result.From),
			"toService":   viewQueue(result.To),
		},
	})
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	serviceID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("service_id")), 10, 64)
	if err != nil || serviceID <= 0 {
		writeError(w, http.StatusBadRequest, "service_id must be a positive integer")
		return
	}

	snapshot, err := h.lifecycle.Snapshot(r.Context(), serviceID)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewQueue(snapshot))
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	outcome, err := h.admin.ResetSystem(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type presetRequest struct {
	ServiceID   int64 `json:"serviceId"`
	StartNumber int   `json:"startNumber"`
	Count       int   `json:"count"`
}

func (h *Handler) handlePreset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req presetRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.admin.PresetQueue(r.Context(), store.PresetInput{
		ServiceID:   req.ServiceID,
		StartNumber: req.StartNumber,
		Count:       req.Count,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"created":     result.Created,
		"skipped":     result.Skipped,
		"queueUpdate": viewQueue(result.Queue),
	})
}

func (h *Handler) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	services, err := h.directory.ListServices(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, services)
}

func (h *Handler) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	counters, err := h.directory.ListCounters(r.Context())
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counters)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	entityType := strings.TrimSpace(r.URL.Query().Get("entity_type"))
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.directory.ListEvents(r.Context(), entityType, limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, message := mapError(err)
	writeError(w, status, message)
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrNoTicket):
		return http.StatusNotFound, "no tickets waiting"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket not found"
	case errors.Is(err, store.ErrServiceNotFound):
		return http.StatusNotFound, "service not found"
	case errors.Is(err, store.ErrCounterNotFound):
		return http.StatusNotFound, "counter not found"
	case errors.Is(err, store.ErrAgentNotFound):
		return http.StatusNotFound, "agent not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusNotFound, "ticket not found or not in called state"
	case errors.Is(err, store.ErrCounterMismatch):
		return http.StatusNotFound, "ticket not assigned to this counter and agent"
	case errors.Is(err, store.ErrNotAuthorized):
		return http.StatusForbidden, "agent not authorized for this service"
	case errors.Is(err, store.ErrAlreadyCompleted):
		return http.StatusBadRequest, "ticket already completed"
	case errors.Is(err, store.ErrNotServing):
		return http.StatusBadRequest, "ticket not currently served at this counter"
	case errors.Is(err, store.ErrSameService):
		return http.StatusBadRequest, "target service matches current service"
	case errors.Is(err, store.ErrInvalidTarget):
		return http.StatusBadRequest, "target service invalid or inactive"
	case errors.Is(err, reset.ErrInvalidPreset):
		return http.StatusBadRequest, "serviceId, startNumber, and count must be positive; count at most 500"
	case errors.Is(err, store.ErrRangeExhausted):
		return http.StatusConflict, "ticket number range exhausted"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
