package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Vir-8/callrelay/pkg/logger"
)

const (
	// Time allowed to write a message to an observer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from an observer
	pongWait = 60 * time.Second

	// Send pings to observers with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Size of each observer's outbound message buffer
	sendBufferSize = 64
)

// Server fans out messages to all connected observer websockets. It is shared
// across all relay sessions: any session's events reach every observer.
type Server struct {
	upgrader websocket.Upgrader
	clients  map[*client]struct{}
	mu       sync.RWMutex
	closed   bool
	logger   *logger.Logger
}

// NewServer creates a new observer broadcast server
func NewServer(allowedOrigins []string, logger *logger.Logger) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		clients: make(map[*client]struct{}),
		logger:  logger.Named("ws-server"),
	}
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowedOrigins) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, allowed := range allowedOrigins {
			if allowed == "*" || allowed == origin {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket upgrades an HTTP request to a websocket and registers it as
// an observer until it disconnects
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade observer connection", logger.Error(err))
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.mu.Unlock()

	s.logger.Info("Observer connected",
		logger.String("remote_addr", r.RemoteAddr),
		logger.Int("observer_count", count))

	go c.writePump(s)
	go c.readPump(s)
}

// Broadcast serializes the message once and sends it to every connected
// observer. An observer that cannot accept the message (closed or too slow)
// is dropped; remaining observers are unaffected.
func (s *Server) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		s.logger.Error("Failed to marshal broadcast message", logger.Error(err))
		return
	}

	s.mu.RLock()
	targets := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		targets = append(targets, c)
	}
	s.mu.RUnlock()

	for _, c := range targets {
		select {
		case c.send <- data:
		default:
			// Observer is not draining its buffer; treat as disconnected
			s.remove(c)
		}
	}
}

// ClientCount returns the number of connected observers
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Shutdown closes all observer connections
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	s.logger.Info("Observer server shut down", logger.Int("closed_connections", len(clients)))
}

// remove unregisters an observer and closes its connection. Safe to call
// multiple times for the same client and concurrently with Broadcast.
func (s *Server) remove(c *client) {
	s.mu.Lock()
	_, exists := s.clients[c]
	if exists {
		delete(s.clients, c)
	}
	count := len(s.clients)
	s.mu.Unlock()

	if exists {
		c.close()
		s.logger.Info("Observer disconnected", logger.Int("observer_count", count))
	}
}

// client is a single connected observer
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// close signals the pumps to exit. The send channel is never closed so that a
// broadcast racing with removal can never panic; it is simply abandoned.
func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards inbound frames; observers are receive-only. Its real job
// is to notice the peer going away.
func (c *client) readPump(s *Server) {
	defer s.remove(c)

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump delivers broadcast messages and keepalive pings to one observer
func (c *client) writePump(s *Server) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.remove(c)
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
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
