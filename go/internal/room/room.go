package room

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mcdev12/wordparty/go/internal/timer"
	"github.com/rs/zerolog/log"
)

// Summary is the lobby listing entry for a room.
type Summary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PlayerCount int       `json:"player_count"`
	Capacity    int       `json:"capacity"`
	Locked      bool      `json:"locked"`
	Phase       Phase     `json:"phase"`
	CreatedAt   time.Time `json:"created_at"`
}

// DestroyPolicy decides when a room goes away.
type DestroyPolicy struct {
	// OnEmpty destroys a room once its last member is removed.
	OnEmpty bool
	// OnEnd destroys a room when the owner ends the game.
	OnEnd bool
}

type command struct {
	fn    func(m *Machine) error
	reply chan error
}

// Room runs one Machine on its own goroutine. Intents, timer events and
// membership changes are commands on the room's inbox and are applied one at a
// time in arrival order.
type Room struct {
	id        string
	name      string
	createdAt time.Time
	capacity  int
	policy    DestroyPolicy

	machine *Machine
	sink    Sink
	onClose func(r *Room)

	inbox   chan command
	done    chan struct{}
	summary atomic.Pointer[Summary]

	// lastTimer is the countdown cancelled at shutdown, if a turn was running.
	lastTimer *timer.Countdown
}

// newRoom builds a room with owner already seated. Nothing else can reach the
// machine until run starts, so the owner is always the first member.
func newRoom(id, name string, cfg Config, owner Member, words Words, timers *timer.Factory, sink Sink, policy DestroyPolicy, onClose func(*Room)) (*Room, error) {
	r := &Room{
		id:        id,
		name:      name,
		createdAt: timers.Clock().Now(),
		capacity:  cfg.Capacity,
		policy:    policy,
		sink:      sink,
		onClose:   onClose,
		inbox:     make(chan command, 256),
		done:      make(chan struct{}),
	}
	r.machine = NewMachine(id, name, cfg, words, timers, r.postTimer)
	if _, err := r.machine.AddPlayer(owner.ID, owner.Name); err != nil {
		return nil, err
	}
	r.updateSummary()
	return r, nil
}

func (r *Room) ID() string {
	return r.id
}

func (r *Room) Name() string {
	return r.name
}

// Summary returns the latest listing entry without touching the room's
// goroutine.
func (r *Room) Summary() Summary {
	return *r.summary.Load()
}

// Done is closed once the room has shut down.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Do runs fn on the room goroutine and waits for its result. If ctx ends
// before fn is queued, fn never runs and ctx.Err() is returned. If it ends
// after, fn still runs and the error wraps both ErrStillQueued and ctx.Err().
func (r *Room) Do(ctx context.Context, fn func(m *Machine) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case r.inbox <- command{fn: fn, reply: reply}:
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrRoomClosed
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrStillQueued, ctx.Err())
	}
}

// Snapshot fetches the current room-wide view.
func (r *Room) Snapshot(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := r.Do(ctx, func(m *Machine) error {
		s = m.Snapshot()
		return nil
	})
	return s, err
}

// postTimer routes a countdown event into the inbox. It gives up once the
// room is gone.
func (r *Room) postTimer(e timer.Event) {
	select {
	case r.inbox <- command{fn: func(m *Machine) error {
		m.HandleTimer(e)
		return nil
	}}:
	case <-r.done:
	}
}

func (r *Room) run(ctx context.Context) {
	defer close(r.done)

	log.Info().Str("room_id", r.id).Str("name", r.name).Msg("room started")

	for {
		select {
		case <-ctx.Done():
			r.shutdown("server shutting down")
			return
		case cmd := <-r.inbox:
			err := cmd.fn(r.machine)
			r.flush()
			r.updateSummary()
			if cmd.reply != nil {
				cmd.reply <- err
			}
			if err != nil && !IsRejected(err) {
				log.Error().Err(err).Str("room_id", r.id).Msg("room command failed")
			}

			if r.policy.OnEmpty && r.machine.Empty() {
				r.shutdown("empty")
				return
			}
			if r.policy.OnEnd && r.machine.CloseRequested() {
				r.shutdown("ended by owner")
				return
			}
		}
	}
}

// awaitTimer blocks until the countdown cancelled at shutdown has exited.
// Only valid once Done is closed.
func (r *Room) awaitTimer() {
	if r.lastTimer != nil {
		<-r.lastTimer.Done()
	}
}

func (r *Room) flush() {
	for _, msg := range r.machine.Drain() {
		r.sink.Deliver(msg)
	}
}

func (r *Room) shutdown(reason string) {
	r.lastTimer = r.machine.Countdown()
	r.machine.Stop()
	r.flush()

	r.sink.Deliver(Message{Audience: toRoom(r.id), Type: EventRoomClosed, Payload: ClosedPayload{RoomID: r.id, Reason: reason}})
	r.sink.Deliver(Message{Audience: toServer(r.id), Type: EventRoomDestroyed, Payload: LifecyclePayload{
		RoomID: r.id,
		Name:   r.name,
		Phase:  r.machine.Phase(),
		Scores: [2]int{r.machine.Score(0), r.machine.Score(1)},
		At:     r.machine.clock.Now(),
	}})

	if r.onClose != nil {
		r.onClose(r)
	}
	log.Info().Str("room_id", r.id).Str("reason", reason).Msg("room closed")
}

func (r *Room) updateSummary() {
	phase := r.machine.Phase()
	r.summary.Store(&Summary{
		ID:          r.id,
		Name:        r.name,
		PlayerCount: r.machine.PlayerCount(),
		Capacity:    r.capacity,
		Locked:      phase.Locked(),
		Phase:       phase,
		CreatedAt:   r.createdAt,
	})
}
