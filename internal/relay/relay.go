// Package relay bridges message production to a shared Redis pub/sub channel
// so every server instance sees one broadcast stream. The relay is a soft
// dependency: the server runs fully degraded-direct when it is down.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"chat-service/internal/metrics"
	"chat-service/internal/models"

	"github.com/redis/go-redis/v9"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives every message delivered on the shared channel, including
// the ones this instance published.
type Handler func(ctx context.Context, m *models.Message)

// envelope is the wire format on the relay channel.
type envelope struct {
	Origin  string          `json:"origin"`
	Message *models.Message `json:"message"`
}

type Relay struct {
	client   *redis.Client
	channel  string
	serverID string
	handler  Handler

	maxRetries int
	retryBase  time.Duration

	state atomic.Int32
}

// New builds a relay against redisURL. The connection is not attempted here;
// call Start. A nil handler panics at Start, not here, to keep wiring simple.
func New(redisURL, channel, serverID string, maxRetries int, retryBase time.Duration) (*Relay, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	return &Relay{
		client:     redis.NewClient(opts),
		channel:    channel,
		serverID:   serverID,
		maxRetries: maxRetries,
		retryBase:  retryBase,
	}, nil
}

// SetHandler installs the consume-loop sink. Must be called before Start.
func (r *Relay) SetHandler(h Handler) {
	r.handler = h
}

// Connected reports whether the relay is currently the fan-out path.
func (r *Relay) Connected() bool {
	return r.State() == StateConnected
}

// State returns the current health state for the status surface.
func (r *Relay) State() State {
	return State(r.state.Load())
}

func (r *Relay) setState(s State) {
	r.state.Store(int32(s))
	metrics.RelayState.Set(float64(s))
	log.Printf("[RELAY] State: %s", s)
}

// Publish enqueues a locally-finalized message on the shared channel. The
// router only calls this while Connected; an error here means the caller
// should fall back to direct fan-out.
func (r *Relay) Publish(ctx context.Context, m *models.Message) error {
	payload, err := json.Marshal(envelope{Origin: r.serverID, Message: m})
	if err != nil {
		return fmt.Errorf("encode relay envelope: %w", err)
	}

	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Start runs the connect/consume lifecycle until ctx is cancelled. It returns
// immediately; all work happens on its own goroutine so a stalled broker can
// never block client connections.
func (r *Relay) Start(ctx context.Context) {
	if r.handler == nil {
		panic("relay: Start called without a handler")
	}

	go r.run(ctx)
}

func (r *Relay) run(ctx context.Context) {
	for {
		if !r.connectWithRetry(ctx) {
			// Retries exhausted or ctx done. The server keeps running in
			// direct mode; there is nothing left for this goroutine to do.
			log.Println("[RELAY] Giving up on broker. Continuing in direct fan-out mode.")
			return
		}

		err := r.consume(ctx)
		r.setState(StateDisconnected)

		if ctx.Err() != nil {
			return
		}
		log.Printf("[RELAY] Consume loop ended: %v. Re-entering retry policy.", err)
	}
}

// connectWithRetry moves Disconnected -> Connecting -> Connected with bounded
// exponential backoff, or back to Disconnected on exhaustion.
func (r *Relay) connectWithRetry(ctx context.Context) bool {
	r.setState(StateConnecting)

	backoff := r.retryBase
	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := r.client.Ping(pingCtx).Err()
		cancel()

		if err == nil {
			r.setState(StateConnected)
			log.Printf("[RELAY] Connected to broker after %d attempt(s)", attempt)
			return true
		}

		log.Printf("[RELAY] Connect attempt %d/%d failed: %v", attempt, r.maxRetries, err)

		select {
		case <-ctx.Done():
			r.setState(StateDisconnected)
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	r.setState(StateDisconnected)
	return false
}

// consume subscribes and feeds every delivered envelope to the handler. It
// returns when the subscription errors or ctx is cancelled.
func (r *Relay) consume(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Force the subscribe round trip so a broken subscription surfaces now
	// rather than as a silent empty channel.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}

	log.Printf("[RELAY] Subscribed to channel %q", r.channel)
	ch := sub.Channel()

	// go-redis reconnects a broken subscription silently, which would leave
	// the health flag stuck on Connected. The ping ticker turns a dead
	// transport into an explicit Disconnected transition instead.
	health := time.NewTicker(15 * time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay subscription closed")
			}
			r.handleDelivery(ctx, msg.Payload)
		case <-health.C:
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			err := r.client.Ping(pingCtx).Err()
			cancel()
			if err != nil {
				return fmt.Errorf("relay health check: %w", err)
			}
		}
	}
}

func (r *Relay) handleDelivery(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Printf("[RELAY] Dropping malformed envelope: %v", err)
		return
	}
	if env.Message == nil {
		log.Println("[RELAY] Dropping envelope without message")
		return
	}

	metrics.RelayConsumed.Inc()
	r.handler(ctx, env.Message)
}

// Close releases the underlying Redis client.
func (r *Relay) Close() error {
	return r.client.Close()
}
