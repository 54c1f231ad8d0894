package websocket

import (
	"sync"

	"github.com/logvista/ingest/internal/upload"
	"github.com/rs/zerolog/log"
)

const broadcastBufferSize = 256

// Hub fans job updates out to the clients subscribed to each job.
type Hub struct {
	clients    map[*Client]bool
	byJob      map[string][]*Client // jobId -> subscribers
	register   chan *Client
	unregister chan *Client
	broadcast  chan *upload.Job
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
}

var _ upload.Notifier = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		byJob:      make(map[string][]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *upload.Job, broadcastBufferSize),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case job := <-h.broadcast:
			h.broadcastJob(job)

		case <-h.done:
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
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
	close(client.send)

	for _, jobID := range client.GetSubscriptions() {
		h.removeFromJobSubscribers(client, jobID)
	}

	log.Info().
		Str("clientId", client.id).
		Int("totalClients", len(h.clients)).
		Msg("[WS] Client unregistered")
}

func (h *Hub) removeFromJobSubscribers(client *Client, jobID string) {
	jobClients := h.byJob[jobID]
	for i, c := range jobClients {
		if c == client {
			h.byJob[jobID] = append(jobClients[:i], jobClients[i+1:]...)
			break
		}
	}
	if len(h.byJob[jobID]) == 0 {
		delete(h.byJob, jobID)
	}
}

func (h *Hub) Subscribe(client *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.byJob[jobID] {
		if c == client {
			return
		}
	}

	h.byJob[jobID] = append(h.byJob[jobID], client)

	log.Debug().
		Str("jobId", jobID).
		Int("subscribers", len(h.byJob[jobID])).
		Msg("[WS] Job subscription added")
}

func (h *Hub) Unsubscribe(client *Client, jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromJobSubscribers(client, jobID)

	log.Debug().
		Str("jobId", jobID).
		Int("subscribers", len(h.byJob[jobID])).
		Msg("[WS] Job subscription removed")
}

func (h *Hub) broadcastJob(job *upload.Job) {
	h.mu.RLock()
	clients := make([]*Client, len(h.byJob[job.ID]))
	copy(clients, h.byJob[job.ID])
	h.mu.RUnlock()

	if len(clients) == 0 {
		return
	}

	msg := newJobMessage(job)
	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			log.Warn().
				Str("clientId", client.id).
				Str("jobId", job.ID).
				Msg("[WS] Client send buffer full, dropping message")
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// JobUpdated queues a job snapshot for its subscribers. It never blocks; when
// the queue is full the update is dropped and pollers still see the job.
func (h *Hub) JobUpdated(job *upload.Job) {
	select {
	case h.broadcast <- job:
	default:
		log.Warn().
			Str("jobId", job.ID).
			Str("status", string(job.Status)).
			Msg("[WS] Broadcast queue full, dropping job update")
	}
}

func (h *Hub) GetStats() (totalClients, totalSubscriptions int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	totalClients = len(h.clients)
	for _, clients := range h.byJob {
		totalSubscriptions += len(clients)
	}
	return
}
