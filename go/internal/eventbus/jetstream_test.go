package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	streams   []jetstream.StreamConfig
	msgs      []*nats.Msg
	streamErr error
	pubErr    error
}

func (f *fakeStream) CreateOrUpdateStream(_ context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	f.streams = append(f.streams, cfg)
	return nil, f.streamErr
}

func (f *fakeStream) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	if f.pubErr != nil {
		return nil, f.pubErr
	}
	f.msgs = append(f.msgs, msg)
	return &jetstream.PubAck{Stream: "WORDPARTY_EVENTS", Sequence: uint64(len(f.msgs))}, nil
}

func TestJetStreamPublisher_EnsuresStream(t *testing.T) {
	js := &fakeStream{}
	_, err := newJetStreamPublisher(context.Background(), js, DefaultJetStreamConfig())
	require.NoError(t, err)

	require.Len(t, js.streams, 1)
	sc := js.streams[0]
	assert.Equal(t, "WORDPARTY_EVENTS", sc.Name)
	assert.Equal(t, []string{"wordparty.events.>"}, sc.Subjects)
	assert.Equal(t, 2*time.Minute, sc.Duplicates)

	js.streamErr = errors.New("insufficient resources")
	_, err = newJetStreamPublisher(context.Background(), js, DefaultJetStreamConfig())
	assert.ErrorContains(t, err, "insufficient resources")
}

func TestJetStreamPublisher_MapsEventToMessage(t *testing.T) {
	js := &fakeStream{}
	pub, err := newJetStreamPublisher(context.Background(), js, DefaultJetStreamConfig())
	require.NoError(t, err)

	event := Event{
		ID:        uuid.New(),
		RoomID:    "ab12cd34",
		EventType: "round.ended",
		Payload:   []byte(`{"hits":3}`),
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600)),
	}
	require.NoError(t, pub.Publish(context.Background(), event))

	require.Len(t, js.msgs, 1)
	msg := js.msgs[0]
	assert.Equal(t, "wordparty.events.ab12cd34.round.ended", msg.Subject)
	assert.Equal(t, event.ID.String(), msg.Header.Get(nats.MsgIdHdr))
	assert.Equal(t, "WORDPARTY_EVENTS", msg.Header.Get(nats.ExpectedStreamHdr))
	assert.Equal(t, "round.ended", msg.Header.Get("Event-Type"))
	assert.Equal(t, "ab12cd34", msg.Header.Get("Room-ID"))

	var env envelope
	require.NoError(t, json.Unmarshal(msg.Data, &env))
	assert.Equal(t, event.ID.String(), env.EventID)
	assert.True(t, env.Timestamp.Equal(event.CreatedAt))
	assert.Equal(t, time.UTC, env.Timestamp.Location())
	assert.JSONEq(t, `{"hits":3}`, string(env.Payload))
}

func TestJetStreamPublisher_WrapsPublishError(t *testing.T) {
	js := &fakeStream{}
	pub, err := newJetStreamPublisher(context.Background(), js, DefaultJetStreamConfig())
	require.NoError(t, err)

	js.pubErr = nats.ErrNoResponders
	err = pub.Publish(context.Background(), Event{ID: uuid.New(), RoomID: "r1", EventType: "room.created", Payload: []byte(`{}`)})
	assert.ErrorIs(t, err, nats.ErrNoResponders)
}
