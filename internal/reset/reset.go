package reset

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/microaistudio/flowmatic-2r-full/internal/models"
	"github.com/microaistudio/flowmatic-2r-full/internal/queue"
	"github.com/microaistudio/flowmatic-2r-full/internal/store"
)

// AlertSettingKey names the settings row whose value, when present, is
// broadcast as a system-wide alert after a reset.
const AlertSettingKey = "reset.alert_message"

// PresetMax caps how many synthetic tickets one preset call may insert.
const PresetMax = 500

var ErrInvalidPreset = errors.New("preset parameters out of range")

// Store is the slice of the transactional store the resetter needs.
type Store interface {
	ResetSystem(ctx context.Context) (store.ResetResult, error)
	PresetQueue(ctx context.Context, input store.PresetInput) (store.PresetResult, error)
	AppendEvent(ctx context.Context, event models.Event) error
	GetSetting(ctx context.Context, key string) (string, bool, error)
}

// Resetter owns the bulk queue operations. The in-flight flag is
// process-local state; it only has to stop two administrative resets from
// overlapping, not survive a restart.
type Resetter struct {
	store       Store
	broadcaster queue.Broadcaster
	inFlight    atomic.Bool
}

func NewResetter(st Store, broadcaster queue.Broadcaster) *Resetter {
	return &Resetter{store: st, broadcaster: broadcaster}
}

type Outcome struct {
	Skipped        bool                   `json:"skipped"`
	TicketsDeleted int                    `json:"tickets_deleted"`
	CountersReset  int                    `json:"counters_reset"`
	ServicesReset  int                    `json:"services_reset"`
	Queues         []models.QueueSnapshot `json:"-"`
}

// ResetSystem runs the reset transaction unless one is already in flight; a
// concurrent call is rejected immediately as skipped, never queued.
func (r *Resetter) ResetSystem(ctx context.Context) (Outcome, error) {
	if !r.inFlight.CompareAndSwap(false, true) {
		return Outcome{Skipped: true}, nil
	}
	defer r.inFlight.Store(false)

	result, err := r.store.ResetSystem(ctx)
	if err != nil {
		return Outcome{}, err
	}

	outcome := Outcome{
		TicketsDeleted: result.TicketsDeleted,
		CountersReset:  result.CountersReset,
		ServicesReset:  result.ServicesReset,
		Queues:         result.Queues,
	}

	r.appendEvent(models.EventSystemReset, map[string]any{
		"tickets_deleted": result.TicketsDeleted,
		"counters_reset":  result.CountersReset,
		"services_reset":  result.ServicesReset,
	})

	for _, snapshot := range result.Queues {
		r.broadcaster.Publish("queue-updated", snapshot.ServiceID, snapshot)
	}
	r.broadcastAlert(ctx)

	return outcome, nil
}

// PresetQueue validates its bounds before any transaction is opened.
func (r *Resetter) PresetQueue(ctx context.Context, input store.PresetInput) (store.PresetResult, error) {
	if input.ServiceID <= 0 || input.StartNumber <= 0 || input.Count <= 0 || input.Count > PresetMax {
		return store.PresetResult{}, ErrInvalidPreset
	}

	result, err := r.store.PresetQueue(ctx, input)
	if err != nil {
		return store.PresetResult{}, err
	}

	r.appendEvent(models.EventQueuePreset, map[string]any{
		"service_id":   input.ServiceID,
		"start_number": input.StartNumber,
		"requested":    input.Count,
		"created":      result.Created,
		"skipped":      result.Skipped,
	})
	r.broadcaster.Publish("queue-updated", result.Queue.ServiceID, result.Queue)

	return result, nil
}

func (r *Resetter) appendEvent(eventType string, data map[string]any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Printf("reset event marshal error type=%s: %v", eventType, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.AppendEvent(ctx, models.Event{
		EventType:  eventType,
		EntityType: models.EntitySystem,
		Data:       payload,
		CreatedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("reset event append error type=%s: %v", eventType, err)
	}
}

func (r *Resetter) broadcastAlert(ctx context.Context) {
	message, found, err := r.store.GetSetting(ctx, AlertSettingKey)
	if err != nil {
		log.Printf("reset alert lookup error: %v", err)
		return
	}
	if !found || message == "" {
		return
	}
	r.broadcaster.Publish("system-alert", 0, map[string]string{"message": message})
}
