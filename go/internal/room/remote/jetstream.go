package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// JetStreamConfig holds settings for the KV bucket backing a JetStreamTree.
type JetStreamConfig struct {
	Bucket        string
	History       uint8
	TTL           time.Duration // zero keeps values forever
	Storage       jetstream.StorageType
	UpdateRetries int
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		Bucket:        "planning-poker",
		History:       1,
		Storage:       jetstream.FileStorage,
		UpdateRetries: 5,
	}
}

// JetStreamTree stores a Tree in a NATS JetStream key-value bucket. Path
// segments become dot-separated key tokens.
type JetStreamTree struct {
	kv      jetstream.KeyValue
	retries int
}

// NewJetStreamTree creates the bucket if needed.
func NewJetStreamTree(ctx context.Context, js jetstream.JetStream, cfg JetStreamConfig) (*JetStreamTree, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "planning poker room state and channels",
		History:     cfg.History,
		TTL:         cfg.TTL,
		Storage:     cfg.Storage,
	})
	if err != nil {
		return nil, fmt.Errorf("create key value bucket %s: %w", cfg.Bucket, err)
	}

	log.Info().Str("bucket", cfg.Bucket).Msg("using JetStream key value bucket")
	return &JetStreamTree{kv: kv, retries: cfg.UpdateRetries}, nil
}

var safeSegment = regexp.MustCompile(`^[-_a-zA-Z0-9]+$`)

// encodedPrefix marks a base64url-encoded segment. It never starts a safe segment.
const encodedPrefix = "="

// KeyFor maps a path to a bucket key.
func KeyFor(path string) (string, error) {
	path, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if !safeSegment.MatchString(seg) {
			segs[i] = encodedPrefix + base64.RawURLEncoding.EncodeToString([]byte(seg))
		}
	}
	return strings.Join(segs, "."), nil
}

// PathFor is the inverse of KeyFor.
func PathFor(key string) string {
	segs := strings.Split(key, ".")
	for i, seg := range segs {
		if strings.HasPrefix(seg, encodedPrefix) {
			if raw, err := base64.RawURLEncoding.DecodeString(seg[len(encodedPrefix):]); err == nil {
				segs[i] = string(raw)
			}
		}
	}
	return strings.Join(segs, "/")
}

func (t *JetStreamTree) Set(ctx context.Context, path string, value []byte) error {
	key, err := KeyFor(path)
	if err != nil {
		return err
	}
	if _, err := t.kv.Put(ctx, key, value); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Update merges fields with a compare-and-set on the key revision, retrying
// when another writer got there first.
func (t *JetStreamTree) Update(ctx context.Context, path string, fields map[string]json.RawMessage) error {
	key, err := KeyFor(path)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= t.retries; attempt++ {
		entry, err := t.kv.Get(ctx, key)
		switch {
		case errors.Is(err, jetstream.ErrKeyNotFound):
			merged, err := mergeFields(nil, fields)
			if err != nil {
				return err
			}
			_, err = t.kv.Create(ctx, key, merged)
			if err == nil {
				return nil
			}
			lastErr = err
		case err != nil:
			return fmt.Errorf("get %s: %w", key, err)
		default:
			merged, err := mergeFields(entry.Value(), fields)
			if err != nil {
				return err
			}
			_, err = t.kv.Update(ctx, key, merged, entry.Revision())
			if err == nil {
				return nil
			}
			lastErr = err
		}

		if !errors.Is(lastErr, jetstream.ErrKeyExists) {
			return fmt.Errorf("update %s: %w", key, lastErr)
		}
		log.Debug().Str("key", key).Int("attempt", attempt+1).Msg("revision conflict, retrying update")
	}
	return fmt.Errorf("update %s failed after %d attempts: %w", key, t.retries+1, lastErr)
}

func (t *JetStreamTree) Once(ctx context.Context, path string) (Snapshot, error) {
	key, err := KeyFor(path)
	if err != nil {
		return Snapshot{}, err
	}
	entry, err := t.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return NewSnapshot(PathFor(key), nil), nil
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("get %s: %w", key, err)
	}
	return NewSnapshot(PathFor(key), entry.Value()), nil
}

// On watches path and every key below it. Existing values are not replayed.
func (t *JetStreamTree) On(ctx context.Context, path string, fn func(Snapshot)) (Listener, error) {
	key, err := KeyFor(path)
	if err != nil {
		return nil, err
	}

	// the watcher lives until Off, not until the caller's request ends
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w, err := t.kv.WatchFiltered(wctx, []string{key, key + ".>"}, jetstream.UpdatesOnly())
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch %s: %w", key, err)
	}

	l := &jetStreamListener{watcher: w, cancel: cancel, done: make(chan struct{})}
	go l.run(fn)
	return l, nil
}

type jetStreamListener struct {
	watcher jetstream.KeyWatcher
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

func (l *jetStreamListener) run(fn func(Snapshot)) {
	updates := l.watcher.Updates()
	for {
		select {
		case <-l.done:
			return
		case entry, ok := <-updates:
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			var value []byte
			if entry.Operation() == jetstream.KeyValuePut {
				value = entry.Value()
			}
			fn(NewSnapshot(PathFor(entry.Key()), value))
		}
	}
}

func (l *jetStreamListener) Off() {
	l.once.Do(func() {
		close(l.done)
		if err := l.watcher.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop watcher")
		}
		l.cancel()
	})
}
