package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct {
	mock.Mock
	calls chan Event
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{calls: make(chan Event, 16)}
}

func (m *mockPublisher) Publish(ctx context.Context, event Event) error {
	args := m.Called(ctx, event)
	m.calls <- event
	return args.Error(0)
}

func (m *mockPublisher) next(t *testing.T) Event {
	t.Helper()
	select {
	case e := <-m.calls:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("publisher was not called")
		return Event{}
	}
}

// ctxPublisher fails whenever the publish context is already done, the way a
// NATS publish does.
type ctxPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *ctxPublisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *ctxPublisher) published() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func serverMessage(roomID string, typ room.EventType) room.Message {
	return room.Message{
		Audience: room.Audience{Kind: room.AudienceServer, Room: roomID},
		Type:     typ,
		Payload:  room.LifecyclePayload{RoomID: roomID, Phase: room.PhasePlaying, Player: "alice"},
	}
}

func TestRelay_PublishesServerEvents(t *testing.T) {
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)
	relay := NewRelay(pub, DefaultRelayConfig(), clockwork.NewFakeClock())
	require.NoError(t, relay.Start(context.Background()))

	relay.Deliver(room.Message{Audience: room.Audience{Kind: room.AudienceRoom, Room: "r1"}, Type: room.EventRoomState})
	relay.Deliver(serverMessage("r1", room.EventRoundStarted))

	event := pub.next(t)
	assert.Equal(t, "r1", event.RoomID)
	assert.Equal(t, "round.started", event.EventType)
	assert.Equal(t, "wordparty.events.r1.round.started", Subject("wordparty.events", event))

	var payload room.LifecyclePayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, "alice", payload.Player)

	require.NoError(t, relay.Stop())
	assert.Equal(t, Stats{Published: 1}, relay.Stats())
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestRelay_RetriesFailedPublish(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("nats: timeout")).Once()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	cfg := DefaultRelayConfig()
	cfg.RetryDelay = time.Second
	relay := NewRelay(pub, cfg, clock)
	require.NoError(t, relay.Start(context.Background()))

	relay.Deliver(serverMessage("r1", room.EventRoundEnded))
	first := pub.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Second)

	second := pub.next(t)
	assert.Equal(t, first.ID, second.ID, "retry must reuse the event id for dedup")

	require.NoError(t, relay.Stop())
	assert.Equal(t, Stats{Published: 1}, relay.Stats())
}

func TestRelay_GivesUpAfterMaxRetries(t *testing.T) {
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("no responders"))

	cfg := DefaultRelayConfig()
	cfg.MaxRetries = 0
	relay := NewRelay(pub, cfg, clockwork.NewFakeClock())
	require.NoError(t, relay.Start(context.Background()))

	relay.Deliver(serverMessage("r1", room.EventGameFinished))
	pub.next(t)

	require.NoError(t, relay.Stop())
	assert.Equal(t, Stats{Failed: 1}, relay.Stats())
}

func TestRelay_DropsWhenQueueFull(t *testing.T) {
	pub := newMockPublisher()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	cfg := DefaultRelayConfig()
	cfg.QueueSize = 1
	relay := NewRelay(pub, cfg, clockwork.NewFakeClock())

	relay.Deliver(serverMessage("r1", room.EventRoomCreated))
	relay.Deliver(serverMessage("r1", room.EventRoomDestroyed))
	assert.Equal(t, int64(1), relay.Stats().Dropped)

	require.NoError(t, relay.Start(context.Background()))
	require.NoError(t, relay.Stop())
	assert.Equal(t, int64(1), relay.Stats().Published)
}

func TestRelay_StartStopTwice(t *testing.T) {
	relay := NewRelay(NoopPublisher{}, DefaultRelayConfig(), clockwork.NewRealClock())

	assert.Error(t, relay.Stop())
	require.NoError(t, relay.Start(context.Background()))
	assert.Error(t, relay.Start(context.Background()))
	require.NoError(t, relay.Stop())
}

func TestRelay_StopFlushesAfterParentCancelled(t *testing.T) {
	pub := &ctxPublisher{}
	cfg := DefaultRelayConfig()
	cfg.MaxRetries = 0
	relay := NewRelay(pub, cfg, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, relay.Start(ctx))
	cancel()

	relay.Deliver(serverMessage("r1", room.EventRoomDestroyed))
	relay.Deliver(serverMessage("r2", room.EventRoomDestroyed))
	require.NoError(t, relay.Stop())

	assert.Equal(t, Stats{Published: 2}, relay.Stats())
	events := pub.published()
	require.Len(t, events, 2)
	assert.Equal(t, "room.destroyed", events[0].EventType)
}
