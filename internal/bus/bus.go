package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Bus is the publish/subscribe adapter over NATS JetStream. Delivery is
// at-least-once; consumers must be idempotent under re-delivery.
type Bus struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func Connect(url string) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("chainflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("open jetstream: %w", err)
	}
	return &Bus{nc: nc, js: js}, nil
}

func (b *Bus) Close() {
	_ = b.nc.Drain()
}

func streamName(family string) string {
	return strings.ToUpper(family)
}

// EnsureStream provisions the stream backing one workflow family. Subjects
// cover every scope under the family so a single stream serves all chains.
func (b *Bus) EnsureStream(ctx context.Context, family string) error {
	_, err := b.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName(family),
		Subjects:   []string{family + ".>"},
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", family, err)
	}
	return nil
}

func (b *Bus) Publish(ctx context.Context, topic string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", topic, err)
	}
	opts := []jetstream.PublishOpt{}
	if msg.ID != "" {
		opts = append(opts, jetstream.WithMsgID(msg.ID))
	}
	if _, err := b.js.Publish(ctx, topic, data, opts...); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Delivery wraps one received message with its acknowledgement controls.
// Attempt counts deliveries starting at 1.
type Delivery struct {
	Message Message
	Attempt uint64

	ack      func() error
	nakAfter func(delay time.Duration) error
	term     func() error
}

func (d *Delivery) Ack() error {
	return d.ack()
}

// NakAfter requests redelivery after the given delay; this is the backoff
// mechanism for pending steps.
func (d *Delivery) NakAfter(delay time.Duration) error {
	return d.nakAfter(delay)
}

// Term drops the message permanently; used for poison messages only.
func (d *Delivery) Term() error {
	return d.term()
}

// NewDelivery binds a message to its acknowledgement callbacks. Transports
// other than JetStream construct deliveries through this.
func NewDelivery(msg Message, attempt uint64, ack func() error, nakAfter func(time.Duration) error, term func() error) *Delivery {
	return &Delivery{Message: msg, Attempt: attempt, ack: ack, nakAfter: nakAfter, term: term}
}

type Handler func(d *Delivery)

// Subscription is one durable consumer bound to a family/scope topic.
type Subscription struct {
	cc jetstream.ConsumeContext
}

// Stop halts delivery of new messages. In-flight handler calls are the
// caller's to drain.
func (s *Subscription) Stop() {
	s.cc.Stop()
}

// Subscribe binds a durable consumer with an explicit-ack budget of prefetch
// unacknowledged messages. Messages that fail to decode are terminated.
func (b *Bus) Subscribe(ctx context.Context, family string, scope string, durable string, prefetch int, ackWait time.Duration, handler Handler) (*Subscription, error) {
	cons, err := b.js.CreateOrUpdateConsumer(ctx, streamName(family), jetstream.ConsumerConfig{
		Durable:       durable,
		FilterSubject: Topic(family, scope),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxAckPending: prefetch,
		MaxDeliver:    -1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer %s on %s: %w", durable, family, err)
	}

	cc, err := cons.Consume(func(m jetstream.Msg) {
		var msg Message
		if err := json.Unmarshal(m.Data(), &msg); err != nil {
			slog.Error("Dropping undecodable message", "subject", m.Subject(), "error", err)
			_ = m.Term()
			return
		}
		attempt := uint64(1)
		if meta, err := m.Metadata(); err == nil {
			attempt = meta.NumDelivered
		}
		handler(&Delivery{
			Message:  msg,
			Attempt:  attempt,
			ack:      m.Ack,
			nakAfter: m.NakWithDelay,
			term:     m.Term,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("consume %s on %s: %w", durable, family, err)
	}
	return &Subscription{cc: cc}, nil
}
