package websocket

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"github.com/AlibekovAA/class-schedule/internal/common/logger"
	"github.com/AlibekovAA/class-schedule/internal/observability/metrics"
	"github.com/AlibekovAA/class-schedule/internal/schedule/domain"
)

const broadcastQueueSize = 256

// Hub fans schedule events out to every connected feed client. A client whose
// send buffer is full is disconnected rather than allowed to stall the rest.
type Hub struct {
	clients     map[*Client]struct{}
	register    chan *Client
	unregister  chan *Client
	broadcast   chan []byte
	done        chan struct{}
	clientCount atomic.Int64
	log         *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastQueueSize),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues event for delivery without blocking the caller.
func (h *Hub) Publish(event domain.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Errorf("websocket failed to marshal schedule event: %v", err)
		return
	}

	select {
	case h.broadcast <- payload:
	default:
		metrics.ScheduleFeedDroppedEvents.Inc()
		h.log.Warnf("websocket broadcast queue full, dropping %s event", event.Type)
	}
}

func (h *Hub) Count() int {
	return int(h.clientCount.Load())
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			total := h.clientCount.Add(1)
			metrics.ScheduleFeedConnectionsActive.Inc()
			h.log.WithFields(client.ctx, logger.Fields{
				"user_id": client.userID,
				"total":   total,
				"action":  "ws_register",
			}).Info("websocket client registered")

		case client := <-h.unregister:
			h.remove(client, "closed")

		case payload := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					metrics.ScheduleFeedDroppedEvents.Inc()
					h.remove(client, "slow_consumer")
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client, reason string) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.clientCount.Add(-1)
	metrics.ScheduleFeedConnectionsActive.Dec()
	metrics.ScheduleFeedDisconnections.WithLabelValues(reason).Inc()
	h.log.WithFields(client.ctx, logger.Fields{
		"user_id": client.userID,
		"reason":  reason,
		"action":  "ws_unregister",
	}).Info("websocket client unregistered")
}

func (h *Hub) shutdown(ctx context.Context) {
	n := len(h.clients)
	for client := range h.clients {
		h.remove(client, "shutdown")
	}
	h.log.WithFields(ctx, logger.Fields{
		"clients": n,
		"action":  "ws_hub_shutdown",
	}).Info("websocket hub shutdown completed")
}
