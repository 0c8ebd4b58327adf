package room

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/mcdev12/wordparty/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// Member identifies a player joining a room.
type Member struct {
	ID   string
	Name string
}

// RegistryConfig holds server-wide room limits.
type RegistryConfig struct {
	// MaxCapacity caps Config.Capacity for every room.
	MaxCapacity int
	// MaxRooms limits concurrently live rooms; 0 means no limit.
	MaxRooms int
	Destroy  DestroyPolicy
}

// DefaultRegistryConfig returns the server defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MaxCapacity: 10,
		Destroy:     DestroyPolicy{OnEmpty: true, OnEnd: true},
	}
}

// Registry owns the live rooms and which room each player belongs to. The
// directory is read-mostly; room state itself lives on each room's goroutine.
type Registry struct {
	words  Words
	timers *timer.Factory
	sink   Sink
	config RegistryConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	rooms   map[string]*Room
	members map[string]string // player id -> room id
}

// NewRegistry creates an empty registry. Rooms it creates run until they
// close or Shutdown is called.
func NewRegistry(words Words, timers *timer.Factory, sink Sink, config RegistryConfig) *Registry {
	if config.MaxCapacity < MinCapacity {
		config.MaxCapacity = DefaultRegistryConfig().MaxCapacity
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		words:   words,
		timers:  timers,
		sink:    sink,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
		rooms:   make(map[string]*Room),
		members: make(map[string]string),
	}
}

// MaxCapacity is the largest room capacity the registry accepts.
func (reg *Registry) MaxCapacity() int {
	return reg.config.MaxCapacity
}

// CreateRoom starts a room and admits owner as its first member and owner.
func (reg *Registry) CreateRoom(ctx context.Context, owner Member, name string, cfg Config) (*Room, error) {
	if err := cfg.Validate(reg.words, reg.config.MaxCapacity); err != nil {
		return nil, err
	}
	if err := reg.Leave(ctx, owner.ID); err != nil && !errors.Is(err, ErrNotMember) {
		return nil, fmt.Errorf("failed to leave previous room: %w", err)
	}

	reg.mu.Lock()
	if reg.config.MaxRooms > 0 && len(reg.rooms) >= reg.config.MaxRooms {
		reg.mu.Unlock()
		return nil, ErrTooManyRooms
	}
	id := reg.newRoomID()
	r, err := newRoom(id, name, cfg, owner, reg.words, reg.timers, reg.sink, reg.config.Destroy, reg.forget)
	if err != nil {
		reg.mu.Unlock()
		return nil, err
	}
	reg.rooms[id] = r
	reg.members[owner.ID] = id
	reg.mu.Unlock()

	reg.sink.Deliver(Message{Audience: toServer(id), Type: EventRoomCreated, Payload: LifecyclePayload{
		RoomID: id,
		Name:   name,
		Phase:  PhaseLobby,
		Player: owner.ID,
		At:     r.createdAt,
	}})
	// The owner's join is flushed here, before run can touch the machine.
	r.flush()

	reg.wg.Add(1)
	go func() {
		defer reg.wg.Done()
		r.run(reg.ctx)
		r.awaitTimer()
	}()

	log.Info().
		Str("room_id", id).
		Str("owner_id", owner.ID).
		Int("capacity", cfg.Capacity).
		Msg("room created")
	return r, nil
}

// Join admits m into roomID. A member of another room leaves it first. An
// existing member of roomID is let back in even while a round is running.
func (reg *Registry) Join(ctx context.Context, roomID string, m Member) (*Room, error) {
	r, ok := reg.Get(roomID)
	if !ok {
		return nil, ErrRoomNotFound
	}
	if prev, ok := reg.membership(m.ID); ok && prev != roomID {
		if err := reg.Leave(ctx, m.ID); err != nil && !errors.Is(err, ErrNotMember) {
			return nil, fmt.Errorf("failed to leave previous room: %w", err)
		}
	}

	rejoined, err := reg.admit(ctx, r, m)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("room_id", roomID).
		Str("player_id", m.ID).
		Bool("rejoined", rejoined).
		Msg("player joined room")
	return r, nil
}

func (reg *Registry) admit(ctx context.Context, r *Room, m Member) (bool, error) {
	var rejoined bool
	err := r.Do(ctx, func(mc *Machine) error {
		var err error
		if rejoined, err = mc.AddPlayer(m.ID, m.Name); err != nil {
			return err
		}
		// Recorded on the room goroutine so a caller that stops waiting
		// cannot leave a seated player out of the directory.
		reg.mu.Lock()
		reg.members[m.ID] = r.id
		reg.mu.Unlock()
		return nil
	})
	return rejoined, err
}

// Leave removes playerID from its room for good.
func (reg *Registry) Leave(ctx context.Context, playerID string) error {
	reg.mu.Lock()
	roomID, ok := reg.members[playerID]
	delete(reg.members, playerID)
	r := reg.rooms[roomID]
	reg.mu.Unlock()

	if !ok || r == nil {
		return ErrNotMember
	}
	err := r.Do(ctx, func(m *Machine) error {
		return m.RemovePlayer(playerID)
	})
	switch {
	case err == nil, errors.Is(err, ErrRoomClosed), errors.Is(err, ErrStillQueued):
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// Never queued: the player is still seated.
		reg.mu.Lock()
		if _, live := reg.rooms[roomID]; live {
			reg.members[playerID] = roomID
		}
		reg.mu.Unlock()
	}
	return err
}

// Disconnect marks playerID absent. Team and score are kept. present is
// consulted on the room goroutine; when it reports true a newer session has
// already taken over and the player stays connected.
func (reg *Registry) Disconnect(ctx context.Context, playerID string, present func(playerID string) bool) error {
	r, ok := reg.RoomOf(playerID)
	if !ok {
		return ErrNotMember
	}
	return r.Do(ctx, func(m *Machine) error {
		if present != nil && present(playerID) {
			return nil
		}
		return m.SetConnected(playerID, false)
	})
}

// Reconnect marks playerID present again.
func (reg *Registry) Reconnect(ctx context.Context, playerID string) error {
	r, ok := reg.RoomOf(playerID)
	if !ok {
		return ErrNotMember
	}
	return r.Do(ctx, func(m *Machine) error {
		return m.SetConnected(playerID, true)
	})
}

// Get looks up a live room.
func (reg *Registry) Get(roomID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	return r, ok
}

// RoomOf returns the room playerID belongs to.
func (reg *Registry) RoomOf(playerID string) (*Room, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	roomID, ok := reg.members[playerID]
	if !ok {
		return nil, false
	}
	r, ok := reg.rooms[roomID]
	return r, ok
}

func (reg *Registry) membership(playerID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	roomID, ok := reg.members[playerID]
	return roomID, ok
}

// List returns the lobby listing, oldest room first. It reads each room's
// last published summary and never waits on a room goroutine.
func (reg *Registry) List() []Summary {
	reg.mu.RLock()
	out := make([]Summary, 0, len(reg.rooms))
	for _, r := range reg.rooms {
		out = append(out, r.Summary())
	}
	reg.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count is the number of live rooms.
func (reg *Registry) Count() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// Shutdown stops every room and waits for their goroutines, including any
// countdown a running turn had started.
func (reg *Registry) Shutdown() {
	reg.cancel()
	reg.wg.Wait()
}

// forget drops a closed room and its memberships. Called on the room's own
// goroutine as it exits.
func (reg *Registry) forget(r *Room) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.rooms, r.id)
	for pid, rid := range reg.members {
		if rid == r.id {
			delete(reg.members, pid)
		}
	}
}

// newRoomID returns a short id not used by a live room. Caller holds mu.
func (reg *Registry) newRoomID() string {
	for {
		id := uuid.New().String()[:8]
		if _, taken := reg.rooms[id]; !taken {
			return id
		}
	}
}
