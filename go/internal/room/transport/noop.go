package transport

import "context"

// NoopChannel accepts every publish and never delivers anything.
type NoopChannel struct{}

func (NoopChannel) Publish(context.Context, string, []byte) error { return nil }

func (NoopChannel) Subscribe(context.Context, string, Handler) (Subscription, error) {
	return noopSubscription{}, nil
}

type noopSubscription struct{}

func (noopSubscription) Close() error { return nil }
