package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planning-poker/go/internal/room/events"
)

// Broadcaster publishes typed envelopes to the other contexts of a room and
// drops messages this context sent itself.
type Broadcaster struct {
	channel  PubSubChannel
	sender   string
	clock    clockwork.Clock
	degraded atomic.Bool
}

// NewBroadcaster wraps channel for the context identified by sender. A nil
// channel yields a broadcaster that delivers nothing.
func NewBroadcaster(channel PubSubChannel, sender string, clock clockwork.Clock) *Broadcaster {
	if channel == nil {
		log.Warn().Str("sender", sender).Msg("No broadcast channel available, running without sync")
		channel = NoopChannel{}
	}
	return &Broadcaster{channel: channel, sender: sender, clock: clock}
}

// Sender returns the id stamped on every outgoing envelope.
func (b *Broadcaster) Sender() string {
	return b.sender
}

// Publish sends payload to the room. Channel failures are logged, not returned.
func (b *Broadcaster) Publish(ctx context.Context, roomID string, payload events.Payload) error {
	env := events.NewEnvelope(roomID, b.sender, b.clock.Now(), payload)
	data, err := events.Encode(env)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", payload.Kind(), err)
	}

	if b.degraded.Load() {
		return nil
	}
	if err := b.channel.Publish(ctx, ChannelName(roomID), data); err != nil {
		log.Warn().
			Err(err).
			Str("room_id", roomID).
			Str("event_type", string(payload.Kind())).
			Msg("Broadcast failed")
	}
	return nil
}

// Subscribe invokes handler once per envelope sent by another context.
// If the channel refuses the subscription the broadcaster degrades to no-op.
func (b *Broadcaster) Subscribe(ctx context.Context, roomID string, handler func(events.Envelope)) (Subscription, error) {
	sub, err := b.channel.Subscribe(ctx, ChannelName(roomID), func(data []byte) {
		env, err := events.Decode(data)
		if err != nil {
			log.Warn().Err(err).Str("room_id", roomID).Msg("Dropping malformed broadcast")
			return
		}
		if env.Sender == b.sender {
			return
		}
		handler(env)
	})
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Msg("Subscribe failed, running without sync")
		b.degraded.Store(true)
		return noopSubscription{}, nil
	}
	return sub, nil
}
