package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Client is one realtime subscriber (kiosk display, terminal UI, monitor).
// ServiceID 0 subscribes to every service.
type Client struct {
	ID        string
	Send      chan []byte
	ServiceID int64
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

type Envelope struct {
	EventID   string    `json:"event_id"`
	Type      string    `json:"type"`
	ServiceID int64     `json:"service_id,omitempty"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

type SubscribeMessage struct {
	Action    string `json:"action"`
	ServiceID int64  `json:"service_id"`
}

func New() *Hub {
	return &Hub{clients: make(map[string]*Client)}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.Send)
}

func (h *Hub) UpdateSubscription(client *Client, serviceID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	client.ServiceID = serviceID
}

// Publish fans an event out to matching subscribers. Sends never block: a
// client with a full buffer drops the message.
func (h *Hub) Publish(eventType string, serviceID int64, payload any) {
	data, err := json.Marshal(Envelope{
		EventID:   uuid.NewString(),
		Type:      eventType,
		ServiceID: serviceID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("broadcast marshal error type=%s: %v", eventType, err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if serviceID != 0 && client.ServiceID != 0 && client.ServiceID != serviceID {
			continue
		}
		select {
		case client.Send <- data:
		default:
			log.Printf("drop message for client %s", client.ID)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func ParseSubscribe(data []byte) (SubscribeMessage, bool) {
	var msg SubscribeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SubscribeMessage{}, false
	}
	if msg.Action != "subscribe" && msg.Action != "unsubscribe" {
		return SubscribeMessage{}, false
	}
	return msg, true
}
