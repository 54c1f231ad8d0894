package websocket

import (
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/logvista/ingest/internal/upload"
	"github.com/rs/zerolog/log"
)

const (
	writeTimeout   = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 24 * 1024 * 1024 // base64 chunk plus envelope
	sendBufferSize = 256
)

type Client struct {
	id            string
	hub           *Hub
	handler       *Handler
	conn          *websocket.Conn
	send          chan interface{}
	subscriptions map[string]bool // jobId -> subscribed
	mu            sync.RWMutex

	delivered map[string]*upload.Job // owned by WritePump
}

func NewClient(hub *Hub, handler *Handler, conn *websocket.Conn) *Client {
	return &Client{
		id:            uuid.New().String(),
		hub:           hub,
		handler:       handler,
		conn:          conn,
		send:          make(chan interface{}, sendBufferSize),
		subscriptions: make(map[string]bool),
		delivered:     make(map[string]*upload.Job),
	}
}

func (c *Client) Subscribe(jobID string) {
	c.mu.Lock()
	c.subscriptions[jobID] = true
	c.mu.Unlock()

	c.hub.Subscribe(c, jobID)
}

func (c *Client) Unsubscribe(jobID string) {
	c.mu.Lock()
	delete(c.subscriptions, jobID)
	c.mu.Unlock()

	c.hub.Unsubscribe(c, jobID)
}

func (c *Client) IsSubscribed(jobID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[jobID]
}

func (c *Client) GetSubscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := make([]string, 0, len(c.subscriptions))
	for jobID := range c.subscriptions {
		subs = append(subs, jobID)
	}
	return subs
}

// reply queues a message for this client without blocking the read loop.
func (c *Client) reply(msg interface{}) {
	select {
	case c.send <- msg:
	default:
		log.Warn().Str("clientId", c.id).Msg("[WS] Client send buffer full, dropping reply")
	}
}

func (c *Client) replyError(uploadID, errMsg string) {
	c.reply(&OutgoingMessage{Type: MessageTypeError, UploadID: uploadID, Error: errMsg})
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg IncomingMessage
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().Str("clientId", c.id).Err(err).Msg("[WS] Read error")
			} else {
				log.Debug().Str("clientId", c.id).Msg("[WS] Client disconnected")
			}
			return
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *IncomingMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if msg.JobID != "" {
			c.handler.subscribe(c, msg.JobID)
		}

	case MessageTypeUnsubscribe:
		if msg.JobID != "" {
			c.Unsubscribe(msg.JobID)
		}

	case MessageTypeUploadInit:
		c.handler.initUpload(c)

	case MessageTypeUploadChunk:
		c.handler.saveChunk(c, msg)

	case MessageTypeUploadComplete:
		c.handler.completeUpload(c, msg)

	case MessageTypePing:
		c.reply(&OutgoingMessage{Type: MessageTypePong})

	default:
		log.Debug().
			Str("type", string(msg.Type)).
			Msg("[WS] Unknown message type")
		c.replyError("", "unknown message type: "+string(msg.Type))
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if c.outdated(message) {
				continue
			}

			if err := c.conn.WriteJSON(message); err != nil {
				log.Debug().Str("clientId", c.id).Err(err).Msg("[WS] Write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Str("clientId", c.id).Err(err).Msg("[WS] Ping error")
				return
			}
		}
	}
}

// outdated reports whether message is a job snapshot older than one already
// written for the same job. Hub broadcasts and subscribe snapshots reach send
// from different goroutines, so they can arrive out of order.
func (c *Client) outdated(message interface{}) bool {
	msg, ok := message.(*JobMessage)
	if !ok || msg.Job == nil {
		return false
	}

	job := msg.Job
	if last, seen := c.delivered[job.ID]; seen {
		if last.IsTerminal() || statusRank(job.Status) < statusRank(last.Status) {
			return true
		}
		if statusRank(job.Status) == statusRank(last.Status) &&
			(job.Progress < last.Progress || job.StageProgress < last.StageProgress) {
			return true
		}
	}

	c.delivered[job.ID] = job
	return false
}

func statusRank(status upload.Status) int {
	switch status {
	case upload.StatusProcessing:
		return 0
	case upload.StatusAssembling:
		return 1
	case upload.StatusDecompressing:
		return 2
	default:
		return 3
	}
}
