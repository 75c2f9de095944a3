package transport

import (
	"context"
)

// ChannelPrefix is prepended to the room id to form the broadcast channel name.
const ChannelPrefix = "planning-poker:"

// ChannelName returns the broadcast channel for a room.
func ChannelName(roomID string) string {
	return ChannelPrefix + roomID
}

// Handler receives one raw message.
type Handler func(data []byte)

// Subscription stops delivery to its handler when closed.
type Subscription interface {
	Close() error
}

// PubSubChannel is a named fan-out primitive shared by every context of a room.
// Delivery is best-effort and messages are not retained for late subscribers.
type PubSubChannel interface {
	Publish(ctx context.Context, channel string, data []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)
}

type subscriptionFunc func() error

func (f subscriptionFunc) Close() error { return f() }
