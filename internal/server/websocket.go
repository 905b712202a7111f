package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"edge_grid/internal/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins (CORS handled by the router wrapper)
		return true
	},
}

// Client is one WebSocket session. It satisfies hub.Session.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, buffer int) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// ID returns the session identifier.
func (c *Client) ID() string { return c.id }

// Enqueue queues msg for the write pump without blocking.
func (c *Client) Enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which then closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// handleWebSocket handles WebSocket upgrade and client lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	client := newClient(conn, s.opts.SendBuffer)
	if err := s.grid.Connect(client); err != nil {
		s.logger.Error("session registration failed", slog.String("session", client.id), slog.Any("error", err))
		conn.Close()
		return
	}

	go s.writePump(client)
	s.readPump(client)
}

// readPump applies inbound messages one at a time, in arrival order.
func (s *Server) readPump(c *Client) {
	defer func() {
		s.grid.Disconnect(c.id)
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(s.opts.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read error", slog.String("session", c.id), slog.Any("error", err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		s.dispatch(c.id, message)
	}
}

// dispatch routes one inbound message to the grid.
func (s *Server) dispatch(sessionID string, message []byte) {
	var msg domain.ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Warn("invalid websocket message", slog.String("session", sessionID), slog.Any("error", err))
		return
	}

	switch msg.Type {
	case domain.ClientColumnOrder:
		s.grid.SetColumnOrder(msg.UserID, msg.Order)
	case domain.ClientSymbolOrder:
		s.grid.SetSymbolOrder(msg.UserID, msg.Order)
	case domain.ClientMasterState:
		maker, taker, err := parseMasterState(msg.MasterMaker, msg.MasterTaker)
		if err != nil {
			s.logger.Warn("rejected master state", slog.String("session", sessionID), slog.Any("error", err))
			return
		}
		s.grid.SetMasterState(maker, taker)
	case "":
		if err := s.grid.UpdateCell(msg.Symbol, msg.CellID, domain.CellValue(msg.Value), msg.UserID); err != nil {
			s.logger.Debug("cell update ignored",
				slog.String("session", sessionID),
				slog.String("symbol", msg.Symbol),
				slog.String("cell_id", msg.CellID),
				slog.Any("error", err))
		}
	default:
		s.logger.Warn("unknown websocket message type", slog.String("session", sessionID), slog.String("type", msg.Type))
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (s *Server) writePump(c *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Warn("websocket write failed", slog.String("session", c.id), slog.Any("error", err))
				s.grid.Disconnect(c.id)
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.grid.Disconnect(c.id)
				return
			}
		}
	}
}
