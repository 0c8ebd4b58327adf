package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	ReconnectWait time.Duration
	// MaxAge is how long lifecycle events are retained.
	MaxAge          time.Duration
	DuplicateWindow time.Duration
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "WORDPARTY_EVENTS",
		SubjectPrefix:   "wordparty.events",
		ReconnectWait:   2 * time.Second,
		MaxAge:          24 * time.Hour,
		DuplicateWindow: 2 * time.Minute,
	}
}

// streamAPI is the part of jetstream.JetStream the publisher uses.
type streamAPI interface {
	CreateOrUpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// JetStreamPublisher writes events to a JetStream stream under
// <prefix>.<room id>.<event type>.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     streamAPI
	config JetStreamConfig
}

// NewJetStreamPublisher connects to cfg.URL and makes sure the stream exists
// with the configured limits.
func NewJetStreamPublisher(ctx context.Context, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("wordparty-gateway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("event bus disconnected, lifecycle events will be retried")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p, err := newJetStreamPublisher(ctx, js, cfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.nc = nc
	return p, nil
}

func newJetStreamPublisher(ctx context.Context, js streamAPI, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	if _, err := js.CreateOrUpdateStream(ctx, streamConfig(cfg)); err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
	}
	return &JetStreamPublisher{js: js, config: cfg}, nil
}

func streamConfig(cfg JetStreamConfig) jetstream.StreamConfig {
	return jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Description: "Room lifecycle events",
		Subjects:    []string{cfg.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      cfg.MaxAge,
		Storage:     jetstream.FileStorage,
		Duplicates:  cfg.DuplicateWindow,
	}
}

func (p *JetStreamPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := p.message(event)
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.EventType, err)
	}

	log.Debug().
		Str("subject", msg.Subject).
		Str("room_id", event.RoomID).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("lifecycle event published")
	return nil
}

// message maps an event onto its NATS message. The event id doubles as the
// JetStream dedup id, so retried publishes are stored once.
func (p *JetStreamPublisher) message(event Event) (*nats.Msg, error) {
	data, err := json.Marshal(envelope{
		EventID:   event.ID.String(),
		EventType: event.EventType,
		RoomID:    event.RoomID,
		Timestamp: event.CreatedAt.UTC(),
		Payload:   json.RawMessage(event.Payload),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	msg := nats.NewMsg(Subject(p.config.SubjectPrefix, event))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.ID.String())
	msg.Header.Set(nats.ExpectedStreamHdr, p.config.StreamName)
	msg.Header.Set("Event-Type", event.EventType)
	msg.Header.Set("Room-ID", event.RoomID)
	return msg, nil
}

func (p *JetStreamPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

type envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	RoomID    string          `json:"roomId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Subject is the NATS subject an event is published on.
func Subject(prefix string, event Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, event.RoomID, event.EventType)
}
