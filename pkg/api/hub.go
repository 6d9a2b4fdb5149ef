package api

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// Hub maintains the set of active clients and relays notifications to the
// participants of a conversation.
type Hub struct {
	// Registered clients, keyed by user id.
	clients map[string][]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Inbound notifications for the participants of a conversation.
	send chan OutgoingEvent

	// Closed once Run has returned.
	done chan struct{}

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		send:       make(chan OutgoingEvent),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[string][]*Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			return
		case client := <-h.register:
			h.clients[client.id] = append(h.clients[client.id], client)
		case client := <-h.unregister:
			if h.remove(client) {
				close(client.send)
			}
		case outgoingEvent := <-h.send:
			h.deliver(outgoingEvent)
		}
	}
}

// Register adds client to the hub. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client and closes its send channel. The client must not
// write to its send channel afterwards.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Notify relays event to every open socket of the event's participants,
// except the socket that caused it.
func (h *Hub) Notify(ctx context.Context, event OutgoingEvent) {
	select {
	case h.send <- event:
	case <-ctx.Done():
	case <-h.done:
	}
}

func (h *Hub) deliver(outgoingEvent OutgoingEvent) {
	currentClient := outgoingEvent.Client
	outgoingEvent.Client = nil

	message, err := json.Marshal(outgoingEvent)
	if err != nil {
		h.logger.Error("could not process outgoing event", zap.Error(err))
		return
	}

	for _, uid := range outgoingEvent.Participants {
		for _, client := range h.clients[uid] {
			if client == currentClient {
				continue
			}
			select {
			case client.send <- message:
			default:
				// The socket is not keeping up; it will catch up from its
				// live subscriptions.
				h.logger.Warn("dropping notification for slow client", zap.String("userId", uid))
			}
		}
	}
}

func (h *Hub) remove(client *Client) bool {
	clients := h.clients[client.id]
	for i := range clients {
		if clients[i] != client {
			continue
		}
		last := len(clients) - 1
		clients[i] = clients[last]
		clients[last] = nil
		clients = clients[:last]
		if len(clients) == 0 {
			delete(h.clients, client.id)
		} else {
			h.clients[client.id] = clients
		}
		return true
	}
	return false
}
