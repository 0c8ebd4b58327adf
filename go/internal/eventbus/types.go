package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a room lifecycle event mirrored off the process.
type Event struct {
	ID        uuid.UUID
	RoomID    string
	EventType string
	Payload   []byte
	CreatedAt time.Time
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NoopPublisher discards events. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error { return nil }
