package httpapi

import (
	"net/http"

	"github.com/microaistudio/flowmatic-2r-full/internal/hub"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
)

// RealtimeHandler serves the subscriber endpoint. Clients send
// {"action":"subscribe","service_id":N} to scope what they receive;
// service_id 0 (or unsubscribe) means everything.
func RealtimeHandler(h *hub.Hub) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, 0)
				continue
			}
			h.UpdateSubscription(client, parsed.ServiceID)
		}
	})
}
