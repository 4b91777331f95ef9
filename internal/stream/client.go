package stream

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// Client is one connected observer. Only the hub writes to send and only
// the hub closes it.
type Client struct {
	id    uint64
	hub   *Hub
	conn  *websocket.Conn
	send  chan Message
	pongs chan struct{}
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:    hub.nextID.Add(1),
		hub:   hub,
		conn:  conn,
		send:  make(chan Message, sendBufferSize),
		pongs: make(chan struct{}, 1),
	}
}

func (c *Client) ID() uint64 { return c.id }

// readPump handles application pings and notices disconnects. Observers
// send nothing else.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == MessageTypePing {
			select {
			case c.pongs <- struct{}{}:
			default:
			}
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case m, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(m); err != nil {
				return
			}

		case <-c.pongs:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.write(Message{Type: MessageTypePong}); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(m Message) error {
	b, err := json.Marshal(m)
	if err != nil {
		c.hub.log.Error().Err(err).Str("type", m.Type).Msg("encode stream message")
		return nil
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

// NewUpgrader accepts connections whose Origin is listed in origins, or
// any origin when origins holds "*". Requests without an Origin header
// come from non-browser observers and are accepted.
func NewUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			for _, allowed := range origins {
				if allowed == "*" || allowed == origin {
					return true
				}
			}
			return false
		},
	}
}

// ServeWS upgrades the request and registers the observer with h.
func ServeWS(h *Hub, upgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := NewClient(h, conn)
	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}
	c.start()
}
