// Package websocket pushes order changes to tracking pages. Each client
// watches exactly one order.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/jogardn/fromentine-orders/internal/tracking"
	"github.com/jogardn/fromentine-orders/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendBuffer = 16
)

// ErrHubBusy means the broadcast queue is full; the change should be
// delivered again later.
var ErrHubBusy = errors.New("tracking hub busy")

var upgrader = websocket.Upgrader{
	// Tracking pages are served from the storefront origin, which differs
	// from the tracker's.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const MessageTypeOrderUpdate = "order_update"

type Message struct {
	Type      string              `json:"type"`
	Order     *models.Order       `json:"order"`
	Tracking  tracking.Projection `json:"tracking"`
	Timestamp string              `json:"timestamp"`
}

type Client struct {
	conn    *websocket.Conn
	send    chan Message
	orderID string
	hub     *Hub
	logger  *logrus.Logger
}

type Hub struct {
	watchers   map[string]map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mutex      sync.RWMutex
	logger     *logrus.Logger

	onConnect    func()
	onDisconnect func()
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		watchers:     make(map[string]map[*Client]bool),
		broadcast:    make(chan Message, 256),
		register:     make(chan *Client),
		unregister:   make(chan *Client),
		done:         make(chan struct{}),
		logger:       logger,
		onConnect:    func() {},
		onDisconnect: func() {},
	}
}

// SetConnectionHooks installs callbacks for client connect and disconnect.
// Call before Run.
func (h *Hub) SetConnectionHooks(onConnect, onDisconnect func()) {
	h.onConnect = onConnect
	h.onDisconnect = onDisconnect
}

// Run owns the watcher registry until ctx is cancelled, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mutex.Lock()
			for orderID, clients := range h.watchers {
				for client := range clients {
					close(client.send)
					h.onDisconnect()
				}
				delete(h.watchers, orderID)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			clients, ok := h.watchers[client.orderID]
			if !ok {
				clients = make(map[*Client]bool)
				h.watchers[client.orderID] = clients
			}
			clients[client] = true
			h.onConnect()
			h.mutex.Unlock()
			h.logger.WithFields(logrus.Fields{
				"order_id":      client.orderID,
				"watcher_count": len(clients),
			}).Info("Client connected")

		case client := <-h.unregister:
			h.mutex.Lock()
			h.remove(client)
			h.mutex.Unlock()
			h.logger.WithField("order_id", client.orderID).Info("Client disconnected")

		case message := <-h.broadcast:
			h.mutex.Lock()
			for client := range h.watchers[message.Order.ID] {
				select {
				case client.send <- message:
				default:
					h.logger.WithField("order_id", client.orderID).Warn("Client too slow, dropping connection")
					h.remove(client)
				}
			}
			h.mutex.Unlock()
		}
	}
}

// remove must be called with the mutex held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.watchers[client.orderID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.send)
	h.onDisconnect()
	if len(clients) == 0 {
		delete(h.watchers, client.orderID)
	}
}

// PublishOrder queues the order's current state for its watchers.
func (h *Hub) PublishOrder(order *models.Order) error {
	message := Message{
		Type:      MessageTypeOrderUpdate,
		Order:     order,
		Tracking:  tracking.Project(order.Status),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	select {
	case h.broadcast <- message:
		return nil
	default:
		h.logger.WithField("order_id", order.ID).Warn("Broadcast channel full")
		return ErrHubBusy
	}
}

// HandleChange relays order rows from the change feed. Product changes are
// not tracked.
func (h *Hub) HandleChange(_ context.Context, event models.ChangeEvent) error {
	if event.Table != models.TableOrders || event.Order == nil {
		return nil
	}
	return h.PublishOrder(event.Order)
}

func (h *Hub) IsRetryable(err error) bool {
	return errors.Is(err, ErrHubBusy)
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	if orderID == "" {
		http.Error(w, "order id required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &Client{
		conn:    conn,
		send:    make(chan Message, sendBuffer),
		orderID: orderID,
		hub:     h,
		logger:  h.logger,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump only drains control frames; clients never send data.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket error")
			}
			break
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(message)
			if err != nil {
				c.logger.WithError(err).Error("Failed to marshal WebSocket message")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) WatcherCount(orderID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.watchers[orderID])
}

func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	n := 0
	for _, clients := range h.watchers {
		n += len(clients)
	}
	return n
}
