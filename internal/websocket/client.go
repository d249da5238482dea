package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prappser/prappser_media/internal/assetkey"
	"github.com/prappser/prappser_media/internal/thumbnail"
)

const (
	writeTimeout   = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 4 * 1024
	sendBufferSize = 64
	maxSubscribed  = 256
)

type Client struct {
	id            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan any
	subscriptions map[string]bool // assetId -> subscribed
	closed        bool
	mu            sync.RWMutex
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:            uuid.New().String(),
		hub:           hub,
		conn:          conn,
		send:          make(chan any, sendBufferSize),
		subscriptions: make(map[string]bool),
	}
}

func (c *Client) Subscribe(assetID string) error {
	c.mu.Lock()
	if len(c.subscriptions) >= maxSubscribed && !c.subscriptions[assetID] {
		c.mu.Unlock()
		return errors.New("too many subscriptions")
	}
	c.subscriptions[assetID] = true
	c.mu.Unlock()

	c.hub.Subscribe(c, assetID)

	log.Debug().
		Str("clientId", c.id).
		Str("assetId", assetID).
		Msg("[WS] Client subscribed to asset")
	return nil
}

func (c *Client) Unsubscribe(assetID string) {
	c.mu.Lock()
	delete(c.subscriptions, assetID)
	c.mu.Unlock()

	c.hub.Unsubscribe(c, assetID)

	log.Debug().
		Str("clientId", c.id).
		Str("assetId", assetID).
		Msg("[WS] Client unsubscribed from asset")
}

func (c *Client) IsSubscribed(assetID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions[assetID]
}

func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	subs := make([]string, 0, len(c.subscriptions))
	for assetID := range c.subscriptions {
		subs = append(subs, assetID)
	}
	return subs
}

// trySend queues msg unless the client is gone or its buffer is full.
func (c *Client) trySend(msg any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		log.Warn().
			Str("clientId", c.id).
			Msg("[WS] Client send buffer full, dropping message")
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
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
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Debug().
					Str("clientId", c.id).
					Err(err).
					Msg("[WS] Read error")
			} else {
				log.Debug().
					Str("clientId", c.id).
					Msg("[WS] Client disconnected")
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.trySend(&OutgoingMessage{Type: MessageTypeError, Error: "invalid message"})
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *IncomingMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if !assetkey.ValidID(msg.AssetID) {
			c.trySend(&OutgoingMessage{Type: MessageTypeError, AssetID: msg.AssetID, Error: "invalid asset id"})
			return
		}
		if err := c.Subscribe(msg.AssetID); err != nil {
			c.trySend(&OutgoingMessage{Type: MessageTypeError, AssetID: msg.AssetID, Error: err.Error()})
			return
		}
		c.trySend(&OutgoingMessage{Type: MessageTypeSubscribed, AssetID: msg.AssetID})
		c.sendSnapshot(msg.AssetID)

	case MessageTypeUnsubscribe:
		if msg.AssetID != "" {
			c.Unsubscribe(msg.AssetID)
		}

	case MessageTypePing:
		c.trySend(&OutgoingMessage{Type: MessageTypePong})

	default:
		log.Debug().
			Str("type", string(msg.Type)).
			Msg("[WS] Unknown message type")
	}
}

func (c *Client) sendSnapshot(assetID string) {
	if c.hub.status == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	job, err := c.hub.status.Status(ctx, assetID)
	if errors.Is(err, thumbnail.ErrJobNotFound) {
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("assetId", assetID).Msg("[WS] Failed to load job snapshot")
		return
	}
	c.trySend(&JobMessage{Type: MessageTypeJob, Job: job})
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

			data, err := json.Marshal(message)
			if err != nil {
				log.Error().Err(err).Msg("[WS] Failed to encode message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().
					Str("clientId", c.id).
					Err(err).
					Msg("[WS] Write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Str("clientId", c.id).
					Err(err).
					Msg("[WS] Ping error")
				return
			}
		}
	}
}
