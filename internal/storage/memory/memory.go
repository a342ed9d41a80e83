// Package memory implements storage.Backend as a process-wide,
// concurrency-safe in-memory column store. It is one of the two
// concrete storage backends spec'd in §4.B (the other is the SQL-backed
// "wide column" backend in storage/sqlcolumn); the queue engine talks to
// either through the storage.Backend interface only.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/queuey-io/queuey/internal/storage"
	"github.com/queuey-io/queuey/internal/timeuuid"
	"github.com/shopspring/decimal"
)

type entry struct {
	id        timeuuid.ID
	body      []byte
	metadata  map[string]string
	expiresAt time.Time
}

type row struct {
	mu      sync.Mutex
	entries []entry // kept sorted ascending by timeuuid.Compare
}

// Backend is a process-wide in-memory storage.Backend. The zero value is
// ready to use; construct with New for clarity.
type Backend struct {
	mu   sync.RWMutex
	rows map[string]*row // key: "<app>:<queue>:<partition>"
}

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{rows: make(map[string]*row)}
}

func key(app, queue string, partition int) string {
	return fmt.Sprintf("%s:%s:%d", app, queue, partition)
}

func (b *Backend) rowFor(k string) *row {
	b.mu.RLock()
	r, ok := b.rows[k]
	b.mu.RUnlock()
	if ok {
		return r
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.rows[k]; ok {
		return r
	}
	if b.rows == nil {
		b.rows = make(map[string]*row)
	}
	r = &row{}
	b.rows[k] = r
	return r
}

func (b *Backend) Push(ctx context.Context, cl storage.ConsistencyLevel, app string, item storage.PushItem) (storage.PushResult, error) {
	results, err := b.PushBatch(ctx, cl, app, []storage.PushItem{item})
	if err != nil {
		return storage.PushResult{}, err
	}
	return results[0], nil
}

func (b *Backend) PushBatch(ctx context.Context, cl storage.ConsistencyLevel, app string, items []storage.PushItem) ([]storage.PushResult, error) {
	results := make([]storage.PushResult, len(items))
	for i, item := range items {
		id, ts, body, meta, err := resolvePush(item)
		if err != nil {
			return nil, err
		}
		var expiresAt time.Time
		if item.TTL > 0 {
			expiresAt = time.Now().Add(item.TTL)
		}
		k := key(app, item.Queue, item.Partition)
		r := b.rowFor(k)
		r.mu.Lock()
		r.upsert(entry{
			id:        id,
			body:      body,
			metadata:  meta,
			expiresAt: expiresAt,
		})
		r.mu.Unlock()
		results[i] = storage.PushResult{MessageID: id, Timestamp: ts}
	}
	return results, nil
}

// resolvePush determines the id/timestamp for a push per the
// update-in-place / backdated-new-message / fresh-now rules in §4.B/§4.D.
func resolvePush(item storage.PushItem) (timeuuid.ID, decimal.Decimal, []byte, map[string]string, error) {
	switch {
	case item.Timestamp != nil && item.Timestamp.ID != nil:
		id := *item.Timestamp.ID
		return id, timeuuid.TimestampOf(id), item.Body, item.Metadata, nil
	case item.Timestamp != nil && item.Timestamp.Decimal != nil:
		id, err := timeuuid.FromDecimal(*item.Timestamp.Decimal, false, true)
		if err != nil {
			return timeuuid.Nil, decimal.Decimal{}, nil, nil, err
		}
		return id, timeuuid.TimestampOf(id), item.Body, item.Metadata, nil
	default:
		id, ts, err := timeuuid.Now()
		if err != nil {
			return timeuuid.Nil, decimal.Decimal{}, nil, nil, err
		}
		return id, ts, item.Body, item.Metadata, nil
	}
}

// upsert inserts e in sorted position, replacing any existing entry with
// the same id (update-in-place).
func (r *row) upsert(e entry) {
	idx := sort.Search(len(r.entries), func(i int) bool {
		return timeuuid.Compare(r.entries[i].id, e.id) >= 0
	})
	if idx < len(r.entries) && r.entries[idx].id == e.id {
		r.entries[idx] = e
		return
	}
	r.entries = append(r.entries, entry{})
	copy(r.entries[idx+1:], r.entries[idx:])
	r.entries[idx] = e
}

// liveLocked returns the entries in r that are neither expired nor
// hidden by delay, pruning expired entries from the underlying slice.
// Caller must hold r.mu.
func (r *row) liveLocked(delay time.Duration) []entry {
	now := time.Now()
	cutoffTicks := uint64(0)
	hasCutoff := delay > 0
	if hasCutoff {
		cutoff := decimal.New(now.Add(-delay).UnixNano(), -9)
		cutoffID, err := timeuuid.FromDecimal(cutoff, true, false)
		if err == nil {
			cutoffTicks = timeuuid.Ticks(cutoffID)
		}
	}

	live := r.entries[:0:0]
	for _, e := range r.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		if hasCutoff && timeuuid.Ticks(e.id) >= cutoffTicks {
			continue
		}
		live = append(live, e)
	}
	r.entries = pruneExpired(r.entries, now)
	return live
}

func pruneExpired(entries []entry, now time.Time) []entry {
	kept := entries[:0]
	for _, e := range entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func (b *Backend) RetrieveBatch(ctx context.Context, cl storage.ConsistencyLevel, app string, keys []storage.PartitionKey, opts storage.RetrieveOptions) ([]storage.Record, error) {
	limit := opts.Limit
	var sinceTicks uint64
	var hasSince bool
	if opts.Since != nil {
		id, err := sinceID(*opts.Since)
		if err != nil {
			return nil, err
		}
		sinceTicks = timeuuid.Ticks(id)
		hasSince = true
	}

	var out []storage.Record
	for _, pk := range keys {
		k := key(app, pk.Queue, pk.Partition)
		r := b.rowFor(k)
		r.mu.Lock()
		live := r.liveLocked(opts.Delay)
		matched := make([]entry, 0, len(live))
		for _, e := range live {
			if hasSince && timeuuid.Ticks(e.id) < sinceTicks {
				continue
			}
			matched = append(matched, e)
		}
		r.mu.Unlock()

		if opts.Order == storage.Descending {
			for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
				matched[i], matched[j] = matched[j], matched[i]
			}
		}
		if limit > 0 && len(matched) > limit {
			matched = matched[:limit]
		}
		suffix := pk.Queue + ":" + fmt.Sprint(pk.Partition)
		for _, e := range matched {
			meta := map[string]string{}
			if opts.IncludeMetadata {
				for k, v := range e.metadata {
					meta[k] = v
				}
			}
			out = append(out, storage.Record{
				MessageID: e.id,
				Timestamp: timeuuid.TimestampOf(e.id),
				Body:      e.body,
				Metadata:  meta,
				QueueName: suffix,
			})
		}
	}
	return out, nil
}

func sinceID(at storage.At) (timeuuid.ID, error) {
	if at.ID != nil {
		return *at.ID, nil
	}
	if at.Decimal != nil {
		return timeuuid.FromDecimal(*at.Decimal, true, false)
	}
	return timeuuid.Nil, fmt.Errorf("memory: empty since cursor")
}

func (b *Backend) Retrieve(ctx context.Context, cl storage.ConsistencyLevel, app, queue string, partition int, id timeuuid.ID, includeMetadata bool) (storage.Record, bool, error) {
	k := key(app, queue, partition)
	r := b.rowFor(k)
	r.mu.Lock()
	defer r.mu.Unlock()
	live := r.liveLocked(0)
	for _, e := range live {
		if e.id == id {
			meta := map[string]string{}
			if includeMetadata {
				for k, v := range e.metadata {
					meta[k] = v
				}
			}
			return storage.Record{
				MessageID: e.id,
				Timestamp: timeuuid.TimestampOf(e.id),
				Body:      e.body,
				Metadata:  meta,
				QueueName: fmt.Sprintf("%s:%d", queue, partition),
			}, true, nil
		}
	}
	return storage.Record{}, false, nil
}

func (b *Backend) Delete(ctx context.Context, cl storage.ConsistencyLevel, app, queue string, partition int, ids ...timeuuid.ID) error {
	remove := make(map[timeuuid.ID]bool, len(ids))
	for _, id := range ids {
		remove[id] = true
	}
	k := key(app, queue, partition)
	r := b.rowFor(k)
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.entries[:0]
	for _, e := range r.entries {
		if remove[e.id] {
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return nil
}

func (b *Backend) Truncate(ctx context.Context, cl storage.ConsistencyLevel, app, queue string, partition int) error {
	k := key(app, queue, partition)
	r := b.rowFor(k)
	r.mu.Lock()
	r.entries = nil
	r.mu.Unlock()
	return nil
}

func (b *Backend) Count(ctx context.Context, cl storage.ConsistencyLevel, app, queue string, partition int) (int, error) {
	k := key(app, queue, partition)
	r := b.rowFor(k)
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.liveLocked(0)), nil
}

var _ storage.Backend = (*Backend)(nil)
