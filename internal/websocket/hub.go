package websocket

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/prappser/prappser_media/internal/thumbnail"
)

// StatusSource answers the current job for an asset so new subscribers get a
// snapshot before the first update arrives.
type StatusSource interface {
	Status(ctx context.Context, assetID string) (*thumbnail.Job, error)
}

// Hub fans thumbnail job updates out to the clients subscribed to each asset.
// It implements thumbnail.Notifier.
type Hub struct {
	clients    map[*Client]bool
	byAsset    map[string][]*Client // assetId -> subscribers
	register   chan *Client
	unregister chan *Client
	broadcast  chan *thumbnail.Job
	done       chan struct{}
	status     StatusSource
	mu         sync.RWMutex
}

func NewHub(status StatusSource) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byAsset:    make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *thumbnail.Job, 256),
		done:       make(chan struct{}),
		status:     status,
	}
}

// Run processes registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case job := <-h.broadcast:
			h.broadcastToAsset(job)

		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client registered")
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	delete(h.clients, client)
	client.close()

	for _, assetID := range client.Subscriptions() {
		h.removeFromAssetSubscribers(client, assetID)
	}

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client unregistered")
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]bool)
	h.byAsset = make(map[string][]*Client)
}

func (h *Hub) removeFromAssetSubscribers(client *Client, assetID string) {
	assetClients := h.byAsset[assetID]
	for i, c := range assetClients {
		if c == client {
			h.byAsset[assetID] = append(assetClients[:i], assetClients[i+1:]...)
			break
		}
	}
	if len(h.byAsset[assetID]) == 0 {
		delete(h.byAsset, assetID)
	}
}

func (h *Hub) Subscribe(client *Client, assetID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.byAsset[assetID] {
		if c == client {
			return
		}
	}

	h.byAsset[assetID] = append(h.byAsset[assetID], client)

	log.Debug().
		Str("assetId", assetID).
		Int("subscribers", len(h.byAsset[assetID])).
		Msg("[WS] Asset subscription added")
}

func (h *Hub) Unsubscribe(client *Client, assetID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromAssetSubscribers(client, assetID)

	log.Debug().
		Str("assetId", assetID).
		Int("subscribers", len(h.byAsset[assetID])).
		Msg("[WS] Asset subscription removed")
}

func (h *Hub) broadcastToAsset(job *thumbnail.Job) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.byAsset[job.AssetID]
	if len(clients) == 0 {
		return
	}

	msg := &JobMessage{Type: MessageTypeJob, Job: job}
	for _, client := range clients {
		client.trySend(msg)
	}

	log.Debug().
		Str("assetId", job.AssetID).
		Str("status", string(job.Status)).
		Int("recipients", len(clients)).
		Msg("[WS] Job update broadcast")
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.close()
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// JobUpdated queues job for delivery. It never blocks the caller; updates are
// dropped when the hub falls behind.
func (h *Hub) JobUpdated(job *thumbnail.Job) {
	select {
	case h.broadcast <- job:
	default:
		log.Warn().
			Str("assetId", job.AssetID).
			Str("status", string(job.Status)).
			Msg("[WS] Broadcast buffer full, dropping job update")
	}
}

func (h *Hub) GetStats() (totalClients, totalSubscriptions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totalClients = len(h.clients)
	for _, clients := range h.byAsset {
		totalSubscriptions += len(clients)
	}
	return
}
