// Package memory implements metadata.Backend as a process-wide,
// concurrency-safe map, mirroring the in-memory metadata store in the
// original Python implementation (queuey/storage/memory.py's
// MemoryMetadata) but with the queue_count derived from the live queue
// set rather than carried as a separately-drifting counter (see
// DESIGN.md's "queue_count" decision).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/queuey-io/queuey/internal/metadata"
)

type application struct {
	queues map[string]metadata.Attrs
}

// Backend is a process-wide in-memory metadata.Backend.
type Backend struct {
	mu   sync.RWMutex
	apps map[string]*application
}

// New returns an empty in-memory metadata backend.
func New() *Backend {
	return &Backend{apps: make(map[string]*application)}
}

func (b *Backend) appFor(app string) *application {
	b.mu.RLock()
	a, ok := b.apps[app]
	b.mu.RUnlock()
	if ok {
		return a
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok = b.apps[app]; ok {
		return a
	}
	a = &application{queues: make(map[string]metadata.Attrs)}
	b.apps[app] = a
	return a
}

func (b *Backend) RegisterQueue(ctx context.Context, app, queue string, upd metadata.Update) error {
	a := b.appFor(app)
	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := a.queues[queue]
	if !ok {
		existing = metadata.Attrs{
			QueueName:   queue,
			Application: app,
			Partitions:  1,
			Type:        "user",
			Consistency: "weak",
			Created:     float64(time.Now().UnixNano()) / 1e9,
		}
	}
	if upd.Partitions != nil {
		existing.Partitions = *upd.Partitions
	}
	if upd.Type != nil {
		existing.Type = *upd.Type
	}
	if upd.Consistency != nil {
		existing.Consistency = *upd.Consistency
	}
	if upd.Principals != nil {
		existing.Principals = *upd.Principals
	}
	if !ok && upd.Created != nil {
		existing.Created = *upd.Created
	}
	existing.QueueName = queue
	existing.Application = app
	a.queues[queue] = existing
	return nil
}

func (b *Backend) RemoveQueue(ctx context.Context, app, queue string) (bool, error) {
	a := b.appFor(app)
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := a.queues[queue]; !ok {
		return false, nil
	}
	delete(a.queues, queue)
	return true, nil
}

func (b *Backend) QueueList(ctx context.Context, app string, limit int, offset string) ([]string, error) {
	a := b.appFor(app)
	b.mu.RLock()
	names := make([]string, 0, len(a.queues))
	for name := range a.queues {
		names = append(names, name)
	}
	b.mu.RUnlock()
	sort.Strings(names)

	if offset != "" {
		idx := sort.SearchStrings(names, offset)
		names = names[idx:]
	}
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

func (b *Backend) QueueInformation(ctx context.Context, app string, queues []string) ([]metadata.Attrs, error) {
	a := b.appFor(app)
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]metadata.Attrs, len(queues))
	for i, name := range queues {
		out[i] = a.queues[name] // zero value if absent
	}
	return out, nil
}

func (b *Backend) QueueCount(ctx context.Context, app string) (int, error) {
	a := b.appFor(app)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(a.queues), nil
}

var _ metadata.Backend = (*Backend)(nil)
