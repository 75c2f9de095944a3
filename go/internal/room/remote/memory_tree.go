package remote

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryTree is an in-process Tree. Listeners are called synchronously by
// the writer, after the write is visible.
type MemoryTree struct {
	mu        sync.RWMutex
	values    map[string][]byte
	listeners map[uint64]*memoryListener
	nextID    uint64
}

type memoryListener struct {
	tree *MemoryTree
	id   uint64
	root string
	fn   func(Snapshot)
	once sync.Once
}

func NewMemoryTree() *MemoryTree {
	return &MemoryTree{
		values:    make(map[string][]byte),
		listeners: make(map[uint64]*memoryListener),
	}
}

func (t *MemoryTree) Set(_ context.Context, path string, value []byte) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)

	t.mu.Lock()
	t.values[path] = v
	t.mu.Unlock()

	t.notify(path, v)
	return nil
}

func (t *MemoryTree) Update(_ context.Context, path string, fields map[string]json.RawMessage) error {
	path, err := cleanPath(path)
	if err != nil {
		return err
	}

	t.mu.Lock()
	merged, err := mergeFields(t.values[path], fields)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	t.values[path] = merged
	t.mu.Unlock()

	t.notify(path, merged)
	return nil
}

func (t *MemoryTree) Once(_ context.Context, path string) (Snapshot, error) {
	path, err := cleanPath(path)
	if err != nil {
		return Snapshot{}, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	v, ok := t.values[path]
	if !ok {
		return NewSnapshot(path, nil), nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return NewSnapshot(path, out), nil
}

func (t *MemoryTree) On(_ context.Context, path string, fn func(Snapshot)) (Listener, error) {
	path, err := cleanPath(path)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	l := &memoryListener{tree: t, id: t.nextID, root: path, fn: fn}
	t.listeners[l.id] = l
	return l, nil
}

func (t *MemoryTree) notify(path string, value []byte) {
	t.mu.RLock()
	var targets []*memoryListener
	for _, l := range t.listeners {
		if under(path, l.root) {
			targets = append(targets, l)
		}
	}
	t.mu.RUnlock()

	sort.Slice(targets, func(i, j int) bool { return targets[i].id < targets[j].id })
	for _, l := range targets {
		out := make([]byte, len(value))
		copy(out, value)
		l.fn(NewSnapshot(path, out))
	}
}

func (l *memoryListener) Off() {
	l.once.Do(func() {
		l.tree.mu.Lock()
		delete(l.tree.listeners, l.id)
		l.tree.mu.Unlock()
	})
}
