// Package bus relays push events between instances over NATS. Push fan-out
// is local to the process holding a connection, so multi-instance
// deployments attach the relay to make pushes reach connections held by
// sibling processes. The store remains the only durable, cross-instance
// resource; the relay is best-effort like any other push.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/inkwell-cms/livechat/internal/model"
	"github.com/inkwell-cms/livechat/pkg/logger"
)

// Subject carries every relayed push event.
const Subject = "livechat.events"

// Config holds NATS connection configuration.
type Config struct {
	URL   string
	Token string
}

// envelope tags events with the publishing instance so a subscriber can
// ignore its own publications.
type envelope struct {
	Origin string      `json:"origin"`
	Event  model.Event `json:"event"`
}

// Relay is a NATS-backed cross-instance event relay.
type Relay struct {
	conn     *nats.Conn
	sub      *nats.Subscription
	origin   string
	logger   *logger.Logger
	dispatch func(model.Event)
}

// Connect establishes the NATS connection and subscribes dispatch to events
// published by sibling instances.
func Connect(cfg Config, dispatch func(model.Event), log *logger.Logger) (*Relay, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	r := &Relay{
		conn:     nc,
		origin:   uuid.New().String(),
		logger:   log,
		dispatch: dispatch,
	}

	sub, err := nc.Subscribe(Subject, r.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	r.sub = sub

	log.Info("event relay connected", zap.String("url", cfg.URL))
	return r, nil
}

// Publish sends an event to sibling instances.
func (r *Relay) Publish(event model.Event) error {
	data, err := json.Marshal(envelope{Origin: r.origin, Event: event})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.conn.Publish(Subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (r *Relay) handle(msg *nats.Msg) {
	var env envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		r.logger.Warn("dropping malformed relay event", zap.Error(err))
		return
	}
	if env.Origin == r.origin {
		return
	}
	r.dispatch(env.Event)
}

// IsConnected reports whether the NATS connection is up.
func (r *Relay) IsConnected() bool {
	return r.conn != nil && r.conn.IsConnected()
}

// Close drains the subscription and closes the connection.
func (r *Relay) Close() {
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
