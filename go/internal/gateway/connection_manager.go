package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/triviaroom/go/internal/metrics"
	"github.com/mcdev12/triviaroom/go/internal/statestore"
	"github.com/rs/zerolog/log"
)

// ConnectionManager serves the shared state store to websocket clients. Each
// connection gets its own store session, so closing the socket (cleanly or
// not) fires that client's disconnect hooks.
type ConnectionManager struct {
	backend statestore.Backend

	connections map[string]*Connection
	mu          sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	config  ConnectionConfig
	metrics metrics.Collector
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	Send    chan []byte
	Store   statestore.Store
	Manager *ConnectionManager

	ConnectedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	subs     map[uint64]func()
	stopOnce sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		// Room creation carries the whole question list.
		MaxMessageSize:  4 << 20,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendBuffer:      256,
		CheckOrigin: func(r *http.Request) bool {
			// Browser clients are served from other origins; CORS policy is
			// enforced on the HTTP API.
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(backend statestore.Backend, config ConnectionConfig, m metrics.Collector) *ConnectionManager {
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 256
	}
	return &ConnectionManager{
		backend:     backend,
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:  config,
		metrics: m,
	}
}

// HandleWebSocket upgrades the request and starts serving store requests.
func (cm *ConnectionManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if err := cm.UpgradeConnection(w, r); err != nil {
		// The upgrader has already replied with an HTTP error.
		log.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade rejected")
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	connection := &Connection{
		ID:          id,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Store:       cm.backend.NewSession(id),
		Manager:     cm,
		ConnectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
		subs:        make(map[uint64]func()),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	cm.connections[conn.ID] = conn
	total := len(cm.connections)
	cm.mu.Unlock()

	cm.metrics.ConnectionOpened()
	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", total).
		Msg("connection registered")
}

// unregisterConnection removes a connection and ends its store session.
// Safe to call from both pumps.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	conn.stopOnce.Do(func() {
		cm.mu.Lock()
		delete(cm.connections, conn.ID)
		cm.mu.Unlock()

		conn.mu.Lock()
		conn.closed = true
		subs := conn.subs
		conn.subs = make(map[uint64]func())
		close(conn.Send)
		conn.mu.Unlock()

		for _, unsubscribe := range subs {
			unsubscribe()
		}
		conn.cancel()
		if err := conn.Store.Close(); err != nil {
			log.Error().Err(err).Str("connection_id", conn.ID).Msg("failed to close store session")
		}
		cm.metrics.ConnectionClosed()

		log.Info().
			Str("connection_id", conn.ID).
			Dur("connected_for", time.Since(conn.ConnectedAt)).
			Msg("connection unregistered")
	})
}

// ConnectionCount returns the number of open connections.
func (cm *ConnectionManager) ConnectionCount() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

// CloseAll closes every connection, firing their disconnect hooks.
func (cm *ConnectionManager) CloseAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		c.Conn.Close()
		cm.unregisterConnection(c)
	}
}

// enqueue queues msg for the write pump. A client that cannot keep up is
// disconnected rather than allowed to miss snapshots.
func (c *Connection) enqueue(msg statestore.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal message")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- data:
	default:
		log.Warn().
			Str("connection_id", c.ID).
			Msg("connection send buffer full, closing connection")
		go c.Conn.Close()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading requests from the WebSocket connection. Requests
// are served in arrival order so a client's writes apply in the order it
// issued them.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage decodes one request and replies to it.
func (c *Connection) handleClientMessage(message []byte) {
	var req statestore.Request
	if err := json.Unmarshal(message, &req); err != nil {
		c.enqueue(statestore.Message{
			Type:  statestore.MessageReply,
			Error: fmt.Sprintf("malformed request: %v", err),
			Code:  statestore.CodeBadRequest,
		})
		return
	}

	reply, err := c.dispatch(req)
	c.Manager.metrics.RecordStoreOp(string(req.Op), err == nil)
	reply.Type = statestore.MessageReply
	reply.ID = req.ID
	if err != nil {
		reply.Error = err.Error()
		if reply.Code == "" {
			reply.Code = statestore.CodeFor(err)
		}
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("op", string(req.Op)).
			Str("path", req.Path).
			Msg("store request failed")
	}
	c.enqueue(reply)
}

func (c *Connection) dispatch(req statestore.Request) (statestore.Message, error) {
	ctx := c.ctx
	switch req.Op {
	case statestore.OpGet:
		snap, err := c.Store.Get(ctx, req.Path)
		if err != nil {
			return statestore.Message{}, err
		}
		raw, err := statestore.EncodeValue(snap.Value)
		if err != nil {
			return statestore.Message{}, err
		}
		return statestore.Message{Path: snap.Path, Exists: snap.Exists, Value: raw}, nil

	case statestore.OpSet:
		value, err := statestore.DecodeValue(req.Value)
		if err != nil {
			return statestore.Message{}, err
		}
		return statestore.Message{}, c.Store.Set(ctx, req.Path, value)

	case statestore.OpUpdate:
		updates := make(map[string]any, len(req.Updates))
		for path, raw := range req.Updates {
			value, err := statestore.DecodeValue(raw)
			if err != nil {
				return statestore.Message{}, err
			}
			updates[path] = value
		}
		return statestore.Message{}, c.Store.Update(ctx, updates)

	case statestore.OpRemove:
		return statestore.Message{}, c.Store.Remove(ctx, req.Path)

	case statestore.OpPush:
		key, err := c.Store.Push(ctx, req.Path)
		return statestore.Message{Key: key}, err

	case statestore.OpCompareSet:
		expect, err := statestore.DecodeValue(req.Expect)
		if err != nil {
			return statestore.Message{}, err
		}
		next, err := statestore.DecodeValue(req.Value)
		if err != nil {
			return statestore.Message{}, err
		}
		return statestore.Message{}, statestore.CompareAndSet(ctx, c.Store, req.Path, expect, next)

	case statestore.OpSubscribe:
		return statestore.Message{}, c.subscribe(req.Path, req.SubID)

	case statestore.OpUnsubscribe:
		c.mu.Lock()
		unsubscribe, ok := c.subs[req.SubID]
		delete(c.subs, req.SubID)
		c.mu.Unlock()
		if ok {
			unsubscribe()
		}
		return statestore.Message{}, nil

	case statestore.OpOnDisconnect:
		value, err := statestore.DecodeValue(req.Value)
		if err != nil {
			return statestore.Message{}, err
		}
		return statestore.Message{}, c.Store.OnDisconnect(ctx, req.Path, value)
	}
	return statestore.Message{Code: statestore.CodeBadRequest}, fmt.Errorf("unknown op %q", req.Op)
}

func (c *Connection) subscribe(path string, subID uint64) error {
	c.mu.Lock()
	_, dup := c.subs[subID]
	c.mu.Unlock()
	if subID == 0 || dup {
		return fmt.Errorf("%w: subscription id %d unavailable", statestore.ErrInvalidValue, subID)
	}

	unsubscribe, err := c.Store.Subscribe(c.ctx, path, func(s statestore.Snapshot) {
		raw, err := statestore.EncodeValue(s.Value)
		if err != nil {
			log.Error().Err(err).Str("path", s.Path).Msg("failed to encode snapshot")
			return
		}
		c.enqueue(statestore.Message{
			Type:   statestore.MessageSnapshot,
			SubID:  subID,
			Path:   s.Path,
			Exists: s.Exists,
			Value:  raw,
		})
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsubscribe()
		return statestore.ErrClosed
	}
	c.subs[subID] = unsubscribe
	c.mu.Unlock()
	return nil
}
