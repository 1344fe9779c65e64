package control

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxcall/av"
)

const (
	clientSendBuffer = 32
	broadcastBuffer  = 64
	writeTimeout     = 5 * time.Second
)

// client is one websocket subscriber.
type client struct {
	id   string
	conn *websocket.Conn
	send chan av.Event
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan av.Event, clientSendBuffer),
	}
}

// writePump sends queued events until the hub closes the queue or a write
// fails.
func (c *client) writePump() {
	defer c.conn.Close()
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(ev); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "client.writePump",
				"client_id": c.id,
				"error":     err.Error(),
			}).Debug("Event write failed")
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
}

// Hub fans manager events out to websocket clients. A client whose queue
// is full is dropped rather than slowing the others down.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan av.Event
	register   chan *client
	unregister chan *client
	quit       chan struct{}
	stopOnce   sync.Once
	count      atomic.Int32
}

// NewHub creates a hub. Call Run to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan av.Event, broadcastBuffer),
		register:   make(chan *client),
		unregister: make(chan *client),
		quit:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			h.count.Store(int32(len(h.clients)))
			logrus.WithFields(logrus.Fields{
				"function":  "Hub.Run",
				"client_id": c.id,
			}).Info("Event client registered")

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				logrus.WithFields(logrus.Fields{
					"function":  "Hub.Run",
					"client_id": c.id,
				}).Info("Event client unregistered")
			}

		case ev := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- ev:
				default:
					logrus.WithFields(logrus.Fields{
						"function":  "Hub.Run",
						"client_id": c.id,
					}).Warn("Event client too slow, dropping")
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int32(len(h.clients)))
}

// Broadcast queues an event for every client. It never blocks; events are
// dropped when the hub is backed up.
func (h *Hub) Broadcast(ev av.Event) {
	select {
	case h.broadcast <- ev:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Hub.Broadcast",
			"type":     string(ev.Type),
		}).Warn("Broadcast channel full, dropping event")
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// join registers c; it fails once the hub has stopped.
func (h *Hub) join(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

func (h *Hub) leave(c *client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Stop closes every client and ends Run.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
