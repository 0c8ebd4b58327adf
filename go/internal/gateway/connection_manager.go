package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ConnectionManager owns the live WebSocket connections and fans room
// messages out to them from a single goroutine. Sends never block: a
// connection whose buffer is full is closed.
type ConnectionManager struct {
	// Connection pools organized by room ID
	roomConnections map[string]map[*Connection]bool
	// Current connection per player identity
	players map[string]*Connection
	mu      sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan outbound
	dropped     atomic.Int64
}

// Connection is one client socket bound to a player identity.
type Connection struct {
	ID       string
	PlayerID string
	// Name is the display name; touched only by the read goroutine.
	Name     string
	Conn     *websocket.Conn
	Manager  *ConnectionManager

	// roomID is guarded by Manager.mu.
	roomID string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	limiter   *rate.Limiter

	ConnectedAt time.Time
}

type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	IntentRate      rate.Limit
	IntentBurst     int
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		IntentRate:      10,
		IntentBurst:     20,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// outbound is a message waiting for fan-out. conn is set for messages meant
// for one socket only.
type outbound struct {
	msg  room.Message
	conn *Connection
}

// ConnectionStats is served on /ws/stats.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
	Dropped          int64          `json:"dropped"`
}

func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = DefaultConnectionConfig().SendBufferSize
	}
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		players:         make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan outbound, 1000),
	}
}

// Start processes outbound messages until ctx is done.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case out := <-cm.broadcastCh:
			cm.handleBroadcast(out)
		}
	}
}

// Upgrade upgrades the request and registers the socket as playerID's
// connection. An older connection for the same player is closed.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, playerID, name string) (*Connection, error) {
	ws, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		PlayerID:    playerID,
		Name:        name,
		Conn:        ws,
		Manager:     cm,
		send:        make(chan []byte, cm.config.SendBufferSize),
		done:        make(chan struct{}),
		limiter:     rate.NewLimiter(cm.config.IntentRate, cm.config.IntentBurst),
		ConnectedAt: time.Now(),
	}
	cm.register(conn)
	return conn, nil
}

func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	old := cm.players[conn.PlayerID]
	if old != nil {
		cm.detach(old)
	}
	cm.players[conn.PlayerID] = conn
	cm.mu.Unlock()

	if old != nil {
		log.Info().
			Str("player_id", conn.PlayerID).
			Str("connection_id", old.ID).
			Msg("connection replaced by newer one")
		old.close()
	}
	log.Debug().
		Str("connection_id", conn.ID).
		Str("player_id", conn.PlayerID).
		Msg("connection registered")
}

// Unregister drops conn. It reports whether conn was still its player's
// current connection.
func (cm *ConnectionManager) Unregister(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	current := cm.players[conn.PlayerID] == conn
	if current {
		delete(cm.players, conn.PlayerID)
	}
	cm.detach(conn)
	return current
}

// detach removes conn from its room pool. Caller holds mu.
func (cm *ConnectionManager) detach(conn *Connection) {
	if conn.roomID == "" {
		return
	}
	if connections, ok := cm.roomConnections[conn.roomID]; ok {
		delete(connections, conn)
		if len(connections) == 0 {
			delete(cm.roomConnections, conn.roomID)
		}
	}
	conn.roomID = ""
}

// Bind subscribes conn to roomID's room-wide messages.
func (cm *ConnectionManager) Bind(conn *Connection, roomID string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.detach(conn)
	if cm.roomConnections[roomID] == nil {
		cm.roomConnections[roomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomID][conn] = true
	conn.roomID = roomID
}

func (cm *ConnectionManager) Unbind(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.detach(conn)
}

// Connected reports whether playerID has a live connection.
func (cm *ConnectionManager) Connected(playerID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	_, ok := cm.players[playerID]
	return ok
}

// Deliver implements room.Sink. Server-audience messages are ignored.
func (cm *ConnectionManager) Deliver(msg room.Message) {
	if msg.Audience.Kind == room.AudienceServer {
		return
	}
	cm.enqueue(outbound{msg: msg})
}

// SendTo queues a message for conn alone.
func (cm *ConnectionManager) SendTo(conn *Connection, typ room.EventType, payload any) {
	cm.enqueue(outbound{msg: room.Message{Type: typ, Payload: payload}, conn: conn})
}

func (cm *ConnectionManager) enqueue(out outbound) {
	select {
	case cm.broadcastCh <- out:
	default:
		cm.dropped.Add(1)
		log.Warn().
			Str("room_id", out.msg.Audience.Room).
			Str("event_type", string(out.msg.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(out outbound) {
	msg := out.msg

	cm.mu.Lock()
	var targets []*Connection
	switch {
	case out.conn != nil:
		targets = append(targets, out.conn)
	case msg.Audience.Kind == room.AudiencePlayer:
		if conn, ok := cm.players[msg.Audience.Player]; ok && conn.roomID == msg.Audience.Room {
			targets = append(targets, conn)
		}
	default:
		for conn := range cm.roomConnections[msg.Audience.Room] {
			targets = append(targets, conn)
		}
		if msg.Type == room.EventRoomClosed {
			for _, conn := range targets {
				cm.detach(conn)
			}
		}
	}
	cm.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(outboundEnvelope{Type: msg.Type, Data: msg.Payload, Timestamp: time.Now().UTC()})
	if err != nil {
		log.Error().Err(err).Str("event_type", string(msg.Type)).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if !conn.enqueue(data) {
			cm.dropped.Add(1)
			log.Warn().
				Str("connection_id", conn.ID).
				Str("player_id", conn.PlayerID).
				Msg("connection send buffer full, closing connection")
			conn.close()
		}
	}

	log.Debug().
		Str("event_type", string(msg.Type)).
		Str("room_id", msg.Audience.Room).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.players),
		ActiveRooms:      len(cm.roomConnections),
		RoomConnections:  make(map[string]int, len(cm.roomConnections)),
		Dropped:          cm.dropped.Load(),
	}
	for roomID, connections := range cm.roomConnections {
		stats.RoomConnections[roomID] = len(connections)
	}
	return stats
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.players))
	for _, conn := range cm.players {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		conn.close()
	}
}

// enqueue hands data to the write pump. It reports false when the buffer is
// full.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Allow applies the connection's intent rate limit.
func (c *Connection) Allow() bool {
	return c.limiter.Allow()
}

// close asks the write pump to send a close frame and shut the socket.
func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.Conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump reads client frames and hands each to handle. It returns when the
// socket fails or is closed.
func (c *Connection) readPump(handle func(c *Connection, message []byte)) {
	defer c.close()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}

		handle(c, message)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
