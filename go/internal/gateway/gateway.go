package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Connection ConnectionConfig
	// ReconnectGrace is how long a dropped player keeps its membership.
	ReconnectGrace time.Duration
	// RoomDefaults fills fields a createRoom intent leaves out.
	RoomDefaults  room.Config
	IntentTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Connection:     DefaultConnectionConfig(),
		ReconnectGrace: 30 * time.Second,
		RoomDefaults:   room.DefaultConfig(),
		IntentTimeout:  5 * time.Second,
	}
}

// Gateway binds WebSocket sessions to player identities and turns their
// intents into calls on the sender's room.
type Gateway struct {
	registry *room.Registry
	manager  *ConnectionManager
	clock    clockwork.Clock
	config   Config

	mu    sync.Mutex
	grace map[string]*graceEntry
}

type graceEntry struct {
	timer clockwork.Timer
}

func New(registry *room.Registry, manager *ConnectionManager, clock clockwork.Clock, config Config) *Gateway {
	if config.IntentTimeout <= 0 {
		config.IntentTimeout = DefaultConfig().IntentTimeout
	}
	return &Gateway{
		registry: registry,
		manager:  manager,
		clock:    clock,
		config:   config,
		grace:    make(map[string]*graceEntry),
	}
}

// Start runs the connection manager until ctx is done.
func (g *Gateway) Start(ctx context.Context) {
	g.manager.Start(ctx)

	g.mu.Lock()
	for pid, entry := range g.grace {
		entry.timer.Stop()
		delete(g.grace, pid)
	}
	g.mu.Unlock()
}

// HandleWS upgrades /ws?device=<label>&name=<display>. The device label
// decides the player identity, so a client reconnecting with the same label
// resumes its membership.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")
	playerID := IdentityFor(device)
	name := cleanName(r.URL.Query().Get("name"), "Player")

	conn, err := g.manager.Upgrade(w, r, playerID, name)
	if err != nil {
		log.Error().Err(err).Str("player_id", playerID).Msg("failed to upgrade WebSocket connection")
		return
	}
	g.cancelGrace(playerID)
	go conn.writePump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", playerID).
		Str("name", name).
		Msg("WebSocket connection established")

	rm, member := g.registry.RoomOf(playerID)
	registered := RegisteredPayload{PlayerID: playerID, Name: name}
	if member {
		registered.RoomID = rm.ID()
	}
	g.manager.SendTo(conn, EventRegistered, registered)

	if member {
		ctx, cancel := context.WithTimeout(context.Background(), g.config.IntentTimeout)
		if err := g.attach(ctx, conn, rm, true); err != nil {
			log.Warn().Err(err).Str("player_id", playerID).Msg("failed to resume room membership")
			g.sendRooms(conn)
		}
		cancel()
	} else {
		g.sendRooms(conn)
	}

	go func() {
		conn.readPump(g.handleMessage)
		g.disconnected(conn)
	}()
}

// attach binds conn to rm and has the room send it a fresh view.
func (g *Gateway) attach(ctx context.Context, conn *Connection, rm *room.Room, reconnect bool) error {
	g.manager.Bind(conn, rm.ID())
	if reconnect {
		if err := g.registry.Reconnect(ctx, conn.PlayerID); err != nil {
			g.manager.Unbind(conn)
			return err
		}
	}
	return rm.Do(ctx, func(m *room.Machine) error {
		return m.Resync(conn.PlayerID)
	})
}

func (g *Gateway) handleMessage(conn *Connection, raw []byte) {
	if !conn.Allow() {
		log.Debug().Str("connection_id", conn.ID).Msg("intent dropped by rate limit")
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		g.reject(conn, env.Type, ErrMalformed)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.config.IntentTimeout)
	defer cancel()

	err := g.dispatch(ctx, conn, env)
	switch {
	case err == nil:
	case errors.Is(err, room.ErrStillQueued):
		// Applied late; the room's broadcast reports the outcome.
		log.Warn().Err(err).
			Str("player_id", conn.PlayerID).
			Str("intent", env.Type).
			Msg("intent outlived its timeout")
	default:
		if !room.IsRejected(err) && !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrUnknownIntent) {
			log.Error().Err(err).
				Str("player_id", conn.PlayerID).
				Str("intent", env.Type).
				Msg("intent failed")
		}
		g.reject(conn, env.Type, err)
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *Connection, env Envelope) error {
	pid := conn.PlayerID

	switch IntentType(env.Type) {
	case IntentRegister:
		var d RegisterData
		if err := decodeData(env, &d); err != nil {
			return err
		}
		conn.Name = cleanName(d.Name, conn.Name)
		rm, ok := g.registry.RoomOf(pid)
		registered := RegisteredPayload{PlayerID: pid, Name: conn.Name}
		if ok {
			registered.RoomID = rm.ID()
		}
		g.manager.SendTo(conn, EventRegistered, registered)
		if !ok {
			return nil
		}
		return rm.Do(ctx, func(m *room.Machine) error { return m.Rename(pid, conn.Name) })

	case IntentListRooms:
		g.sendRooms(conn)
		return nil

	case IntentCreateRoom:
		var d CreateRoomData
		if err := decodeData(env, &d); err != nil {
			return err
		}
		cfg := d.Config.apply(g.config.RoomDefaults)
		rm, err := g.registry.CreateRoom(ctx, room.Member{ID: pid, Name: conn.Name}, cleanName(d.Name, conn.Name+"'s room"), cfg)
		if err != nil {
			return err
		}
		return g.attach(ctx, conn, rm, false)

	case IntentJoinRoom:
		var d JoinRoomData
		if err := decodeData(env, &d); err != nil {
			return err
		}
		rm, err := g.registry.Join(ctx, d.RoomID, room.Member{ID: pid, Name: conn.Name})
		if err != nil {
			return err
		}
		return g.attach(ctx, conn, rm, false)

	case IntentLeaveRoom:
		if err := g.registry.Leave(ctx, pid); err != nil {
			return err
		}
		g.manager.Unbind(conn)
		g.sendRooms(conn)
		return nil

	case IntentSetTeam:
		var d SetTeamData
		if err := decodeData(env, &d); err != nil {
			return err
		}
		return g.inRoom(ctx, pid, func(m *room.Machine) error { return m.SetTeam(pid, d.Team) })

	case IntentStartCategory:
		return g.inRoom(ctx, pid, func(m *room.Machine) error { return m.StartCategoryPhase(pid) })

	case IntentPickCategory:
		var d PickCategoryData
		if err := decodeData(env, &d); err != nil {
			return err
		}
		return g.inRoom(ctx, pid, func(m *room.Machine) error { return m.PickCategory(pid, d.Category) })

	case IntentSelectPlayer:
		var d SelectPlayerData
		if err := decodeData(env, &d); err != nil {
			return err
		}
		return g.inRoom(ctx, pid, func(m *room.Machine) error { return m.SelectPlayer(pid, d.PlayerID) })

	case IntentStartRound:
		return g.inRoom(ctx, pid, func(m *room.Machine) error { return m.StartRound(pid) })

	case IntentHitWord:
		return g.inRoom(ctx, pid, func(m *room.Machine) error { return m.Hit(pid) })

	case IntentSkipWord:
		return g.inRoom(ctx, pid, func(m *room.Machine) error { return m.Skip(pid) })

	case IntentAdvanceReview:
		return g.inRoom(ctx, pid, func(m *room.Machine) error { return m.Advance(pid) })

	case IntentEndGame:
		return g.inRoom(ctx, pid, func(m *room.Machine) error { return m.End(pid) })

	default:
		return ErrUnknownIntent
	}
}

// inRoom runs fn on the room playerID belongs to.
func (g *Gateway) inRoom(ctx context.Context, playerID string, fn func(m *room.Machine) error) error {
	rm, ok := g.registry.RoomOf(playerID)
	if !ok {
		return room.ErrNotMember
	}
	return rm.Do(ctx, fn)
}

func (g *Gateway) reject(conn *Connection, intent string, err error) {
	g.manager.SendTo(conn, room.EventRejected, RejectedPayload{Intent: intent, Reason: err.Error()})
}

func (g *Gateway) sendRooms(conn *Connection) {
	g.manager.SendTo(conn, room.EventRoomsList, RoomsListPayload{Rooms: g.registry.List()})
}

// disconnected runs once conn's read loop ends. A connection replaced by a
// newer one for the same player changes nothing.
func (g *Gateway) disconnected(conn *Connection) {
	if !g.manager.Unregister(conn) {
		return
	}
	log.Info().
		Str("connection_id", conn.ID).
		Str("player_id", conn.PlayerID).
		Msg("connection closed")

	if _, ok := g.registry.RoomOf(conn.PlayerID); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.config.IntentTimeout)
	defer cancel()
	if err := g.registry.Disconnect(ctx, conn.PlayerID, g.manager.Connected); err != nil && !room.IsRejected(err) {
		log.Error().Err(err).Str("player_id", conn.PlayerID).Msg("failed to mark player disconnected")
	}
	g.startGrace(conn.PlayerID)
}

// startGrace removes playerID from its room unless it reconnects within the
// grace period.
func (g *Gateway) startGrace(playerID string) {
	if g.config.ReconnectGrace <= 0 {
		g.expire(playerID, nil)
		return
	}

	entry := &graceEntry{}
	g.mu.Lock()
	if prev, ok := g.grace[playerID]; ok {
		prev.timer.Stop()
	}
	g.grace[playerID] = entry
	entry.timer = g.clock.AfterFunc(g.config.ReconnectGrace, func() {
		g.expire(playerID, entry)
	})
	g.mu.Unlock()
}

func (g *Gateway) cancelGrace(playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if entry, ok := g.grace[playerID]; ok {
		entry.timer.Stop()
		delete(g.grace, playerID)
	}
}

func (g *Gateway) expire(playerID string, entry *graceEntry) {
	if entry != nil {
		g.mu.Lock()
		if g.grace[playerID] != entry {
			g.mu.Unlock()
			return
		}
		delete(g.grace, playerID)
		g.mu.Unlock()
	}
	if g.manager.Connected(playerID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.config.IntentTimeout)
	defer cancel()
	err := g.registry.Leave(ctx, playerID)
	if err != nil && !room.IsRejected(err) {
		log.Error().Err(err).Str("player_id", playerID).Msg("failed to remove player after grace period")
		return
	}
	log.Info().Str("player_id", playerID).Msg("reconnect grace expired, player removed")
}
