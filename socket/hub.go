package socket

import (
	"context"
	"errors"
	"sync"

	"sharedoc/internal/notify"
	"sharedoc/pkg/logger"
)

const broadcastBuffer = 256

var (
	// ErrHubBusy is returned by Publish when the broadcast queue is full.
	ErrHubBusy = errors.New("socket: hub broadcast queue is full")
	// ErrHubClosed is returned by Publish after Run has returned.
	ErrHubClosed = errors.New("socket: hub is closed")
)

type RoomMessage struct {
	Channel string
	Payload []byte
}

// Hub fans room events out to the websocket clients subscribed to that
// room. It implements notify.Bus.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan RoomMessage
	Register   chan *Client
	Unregister chan *Client

	mu   sync.RWMutex
	done chan struct{}
}

var _ notify.Bus = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan RoomMessage, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Publish queues ev for the clients of ev.Channel without blocking.
func (h *Hub) Publish(_ context.Context, ev notify.Event) error {
	select {
	case <-h.done:
		return ErrHubClosed
	default:
	}

	payload, err := ev.Marshal()
	if err != nil {
		return err
	}

	select {
	case h.Broadcast <- RoomMessage{Channel: ev.Channel, Payload: payload}:
		return nil
	default:
		return ErrHubBusy
	}
}

// ClientCount returns the number of clients subscribed to channel.
func (h *Hub) ClientCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.Rooms[channel])
}

// Run owns the room table until ctx is cancelled, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for channel, clients := range h.Rooms {
				for client := range clients {
					close(client.Send)
				}
				delete(h.Rooms, channel)
			}
			h.mu.Unlock()
			logger.Sugar.Info("Websocket hub stopped")
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.Channel] == nil {
				h.Rooms[client.Channel] = make(map[*Client]bool)
			}
			h.Rooms[client.Channel][client] = true
			h.mu.Unlock()
			logger.Sugar.Debugw("Client subscribed", "channel", client.Channel, "session_id", client.SessionID)

		case client := <-h.Unregister:
			h.remove(client)

		case msg := <-h.Broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.Rooms[msg.Channel]))
			for client := range h.Rooms[msg.Channel] {
				clients = append(clients, client)
			}
			h.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.Send <- msg.Payload:
				default:
					// The client is lagging; drop it rather than block the hub.
					logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", client.SessionID)
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.Rooms[client.Channel][client]; !ok {
		return
	}
	delete(h.Rooms[client.Channel], client)
	close(client.Send)
	if len(h.Rooms[client.Channel]) == 0 {
		delete(h.Rooms, client.Channel)
		logger.Sugar.Debugf("Closed empty room: %s", client.Channel)
	}
}
