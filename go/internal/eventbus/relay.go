package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/rs/zerolog/log"
)

type RelayConfig struct {
	QueueSize      int
	MaxRetries     int
	RetryDelay     time.Duration
	PublishTimeout time.Duration
	// DrainTimeout bounds the flush of queued events on Stop.
	DrainTimeout time.Duration
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		QueueSize:      1024,
		MaxRetries:     3,
		RetryDelay:     time.Second,
		PublishTimeout: 5 * time.Second,
		DrainTimeout:   10 * time.Second,
	}
}

// Stats counts relay outcomes since start.
type Stats struct {
	Published int64 `json:"published"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Relay is a room.Sink that mirrors server-audience messages to a Publisher
// from its own goroutine. Deliver never blocks: when the queue is full the
// event is dropped and counted.
type Relay struct {
	publisher Publisher
	config    RelayConfig
	clock     clockwork.Clock

	queue chan Event

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

func NewRelay(publisher Publisher, cfg RelayConfig, clock clockwork.Clock) *Relay {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultRelayConfig().QueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultRelayConfig().DrainTimeout
	}
	return &Relay{
		publisher: publisher,
		config:    cfg,
		clock:     clock,
		queue:     make(chan Event, cfg.QueueSize),
		stopChan:  make(chan struct{}),
	}
}

// Deliver implements room.Sink.
func (r *Relay) Deliver(msg room.Message) {
	if msg.Audience.Kind != room.AudienceServer {
		return
	}
	payload, err := json.Marshal(msg.Payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(msg.Type)).Msg("failed to marshal lifecycle event")
		return
	}

	event := Event{
		ID:        uuid.New(),
		RoomID:    msg.Audience.Room,
		EventType: string(msg.Type),
		Payload:   payload,
		CreatedAt: r.clock.Now(),
	}
	select {
	case r.queue <- event:
	default:
		r.dropped.Add(1)
		log.Warn().
			Str("room_id", event.RoomID).
			Str("event_type", event.EventType).
			Msg("event relay queue full, dropping event")
	}
}

// Start runs the relay until Stop. Cancelling ctx does not discard queued
// events; publishes are bounded by PublishTimeout and the final flush by
// DrainTimeout instead.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("event relay already running")
	}
	r.running = true
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)

	log.Info().Int("queue_size", r.config.QueueSize).Msg("event relay started")
	return nil
}

// Stop publishes whatever is still queued and waits for the relay to exit.
func (r *Relay) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("event relay not running")
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopChan)
	r.wg.Wait()

	log.Info().Interface("stats", r.Stats()).Msg("event relay stopped")
	return nil
}

func (r *Relay) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
		Failed:    r.failed.Load(),
	}
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()
	base := context.WithoutCancel(ctx)

	for {
		select {
		case <-r.stopChan:
			r.drain(base)
			return
		case event := <-r.queue:
			r.process(base, event)
		}
	}
}

func (r *Relay) drain(base context.Context) {
	ctx, cancel := context.WithTimeout(base, r.config.DrainTimeout)
	defer cancel()

	for {
		select {
		case event := <-r.queue:
			r.process(ctx, event)
		default:
			return
		}
	}
}

func (r *Relay) process(ctx context.Context, event Event) {
	if err := r.publishWithRetry(ctx, event); err != nil {
		r.failed.Add(1)
		log.Error().Err(err).
			Str("event_id", event.ID.String()).
			Str("event_type", event.EventType).
			Msg("failed to publish event")
		return
	}
	r.published.Add(1)
}

func (r *Relay) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.stopChan:
				return fmt.Errorf("relay stopping after %d attempts: %w", attempt, lastErr)
			case <-r.clock.After(r.config.RetryDelay * time.Duration(attempt)):
			}
		}

		pctx, cancel := context.WithTimeout(ctx, r.config.PublishTimeout)
		err := r.publisher.Publish(pctx, event)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		log.Warn().Err(err).
			Str("event_id", event.ID.String()).
			Int("attempt", attempt+1).
			Msg("failed to publish event, retrying")
	}

	return fmt.Errorf("after %d attempts: %w", r.config.MaxRetries+1, lastErr)
}
