package transport

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNATSChannel(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}
	cfg := DefaultNATSConfig()
	cfg.URL = url
	nc, err := ConnectNATS(cfg)
	require.NoError(t, err)
	defer nc.Close()

	ch := NewNATSChannel(nc)
	got := make(chan string, 1)
	sub, err := ch.Subscribe(context.Background(), ChannelName("nats-test"), func(d []byte) { got <- string(d) })
	require.NoError(t, err)
	defer sub.Close()
	require.NoError(t, nc.Flush())

	require.NoError(t, ch.Publish(context.Background(), ChannelName("nats-test"), []byte("hello")))
	select {
	case msg := <-got:
		assert.Equal(t, "hello", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
