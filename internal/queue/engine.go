// Package queue implements the queue engine (spec §4.D): the
// consistency/visibility-delay policy, the partition router, ACL
// assembly, batch push/get/delete, and queue metadata update rules. It
// is the only component that talks to both the storage.Backend and
// metadata.Backend contracts; every other layer goes through it.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/queuey-io/queuey/internal/apierr"
	"github.com/queuey-io/queuey/internal/metadata"
	"github.com/queuey-io/queuey/internal/storage"
	"github.com/queuey-io/queuey/internal/telemetry"
	"github.com/queuey-io/queuey/internal/timeuuid"
)

// Engine is the queue engine: fan-out over partitions, the
// consistency-to-(CL,delay) policy, ACL assembly, and the push/get/
// delete/update operations the HTTP surface is a thin mapping onto.
type Engine struct {
	storage  storage.Backend
	catalog  metadata.Backend
	cfg      Config
	live     LiveConfig
	log      *slog.Logger
	recorder telemetry.Recorder
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithRecorder attaches a telemetry.Recorder; the default is telemetry.Noop.
func WithRecorder(r telemetry.Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLive attaches the hot-reloadable multi_dc/base_delay_seconds
// source (typically a *config.Live kept current by config.WatchLive).
// Without this option Engine uses a static, always-zero LiveConfig.
func WithLive(live LiveConfig) Option {
	return func(e *Engine) { e.live = live }
}

// New builds a queue Engine over the given storage and metadata backends.
func New(store storage.Backend, catalog metadata.Backend, cfg Config, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		storage:  store,
		catalog:  catalog,
		cfg:      cfg,
		live:     staticLive{},
		log:      log,
		recorder: telemetry.Noop{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// --- queue lifecycle -------------------------------------------------

// CreateQueue registers a new (or re-registers an existing) queue for
// app. If queueName is empty, a fresh 32-char lowercase hex name is
// generated, per spec §3.
func (e *Engine) CreateQueue(ctx context.Context, app, queueName string, upd metadata.Update) (metadata.Attrs, error) {
	if queueName == "" {
		queueName = strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	if upd.Partitions == nil {
		one := 1
		upd.Partitions = &one
	}
	if upd.Type == nil {
		t := "user"
		upd.Type = &t
	}
	if upd.Consistency == nil {
		c := "weak"
		upd.Consistency = &c
	}

	if err := e.catalog.RegisterQueue(ctx, app, queueName, upd); err != nil {
		return metadata.Attrs{}, apierr.Wrap(apierr.StorageUnavailable, err)
	}
	return e.QueueAttrs(ctx, app, queueName)
}

// UpdateQueue merges upd into an existing queue's attributes. partitions
// may only increase (spec §3 invariant ii); a decrease is
// apierr.InvalidUpdate. Empty/missing fields in upd are left untouched.
func (e *Engine) UpdateQueue(ctx context.Context, app, queueName string, upd metadata.Update) (metadata.Attrs, error) {
	existing, err := e.QueueAttrs(ctx, app, queueName)
	if err != nil {
		return metadata.Attrs{}, err
	}
	if upd.Partitions != nil && *upd.Partitions < existing.Partitions {
		return metadata.Attrs{}, apierr.New(apierr.InvalidUpdate,
			"partitions must not decrease (have %d, got %d)", existing.Partitions, *upd.Partitions)
	}
	if err := e.catalog.RegisterQueue(ctx, app, queueName, upd); err != nil {
		return metadata.Attrs{}, apierr.Wrap(apierr.StorageUnavailable, err)
	}
	return e.QueueAttrs(ctx, app, queueName)
}

// QueueAttrs fetches one queue's attributes, or apierr.InvalidQueueName
// if it is not registered.
func (e *Engine) QueueAttrs(ctx context.Context, app, queueName string) (metadata.Attrs, error) {
	list, err := e.catalog.QueueInformation(ctx, app, []string{queueName})
	if err != nil {
		return metadata.Attrs{}, apierr.Wrap(apierr.StorageUnavailable, err)
	}
	if len(list) == 0 || list[0].IsZero() {
		return metadata.Attrs{}, apierr.New(apierr.InvalidQueueName, "queue %q is not registered", queueName)
	}
	return list[0], nil
}

// ListQueues returns up to opts.Limit queue names for app.
func (e *Engine) ListQueues(ctx context.Context, app string, opts ListOptions) ([]QueueView, int, error) {
	names, err := e.catalog.QueueList(ctx, app, opts.Limit, opts.Offset)
	if err != nil {
		return nil, 0, apierr.Wrap(apierr.StorageUnavailable, err)
	}

	var count int
	if opts.IncludeCount {
		count, err = e.catalog.QueueCount(ctx, app)
		if err != nil {
			return nil, 0, apierr.Wrap(apierr.StorageUnavailable, err)
		}
	}

	if !opts.Details {
		views := make([]QueueView, len(names))
		for i, n := range names {
			views[i] = QueueView{Name: n}
		}
		return views, count, nil
	}

	infos, err := e.catalog.QueueInformation(ctx, app, names)
	if err != nil {
		return nil, 0, apierr.Wrap(apierr.StorageUnavailable, err)
	}
	views := make([]QueueView, len(infos))
	for i, a := range infos {
		views[i] = QueueView{
			Name: names[i], Partitions: a.Partitions, Type: a.Type,
			Consistency: a.Consistency, Principals: a.Principals, Created: a.Created,
		}
	}
	return views, count, nil
}

// DeleteQueue truncates every partition and removes the queue's
// metadata row (spec §4.D "Delete semantics").
func (e *Engine) DeleteQueue(ctx context.Context, app, queueName string) error {
	attrs, err := e.QueueAttrs(ctx, app, queueName)
	if err != nil {
		return err
	}
	cl, _, err := ResolveConsistency(attrs.Consistency, e.cfg.Replicas, e.live)
	if err != nil {
		return apierr.New(apierr.InvalidParameter, "%s", err)
	}
	for p := 1; p <= attrs.Partitions; p++ {
		if err := e.storage.Truncate(ctx, cl, app, queueName, p); err != nil {
			return apierr.Wrap(apierr.StorageUnavailable, err)
		}
	}
	if _, err := e.catalog.RemoveQueue(ctx, app, queueName); err != nil {
		return apierr.Wrap(apierr.StorageUnavailable, err)
	}
	return nil
}

// ACL returns the queue's assembled ACL (spec §4.D "ACL assembly").
func (e *Engine) ACL(attrs metadata.Attrs) ACL {
	return AssembleACL(attrs)
}

// --- messages ----------------------------------------------------------

// PushBatch inserts msgs into queueName, atomically as one batch. A
// message with Partition == 0 gets a uniformly random partition assigned.
func (e *Engine) PushBatch(ctx context.Context, app, queueName string, msgs []PushMessage) ([]PushResultDTO, error) {
	start := time.Now()
	results, err := e.pushBatch(ctx, app, queueName, msgs)
	e.recorder.RecordPush(app, queueName, len(msgs), time.Since(start), err == nil)
	return results, err
}

func (e *Engine) pushBatch(ctx context.Context, app, queueName string, msgs []PushMessage) ([]PushResultDTO, error) {
	attrs, err := e.QueueAttrs(ctx, app, queueName)
	if err != nil {
		return nil, err
	}
	cl, _, err := ResolveConsistency(attrs.Consistency, e.cfg.Replicas, e.live)
	if err != nil {
		return nil, apierr.New(apierr.InvalidParameter, "%s", err)
	}

	items := make([]storage.PushItem, len(msgs))
	for i, m := range msgs {
		p := m.Partition
		if p == 0 {
			p, err = timeuuid.RandomPartition(attrs.Partitions)
			if err != nil {
				return nil, apierr.Wrap(apierr.StorageUnavailable, err)
			}
		} else if p < 1 || p > attrs.Partitions {
			return nil, apierr.New(apierr.InvalidParameter, "partition %d out of range [1,%d]", p, attrs.Partitions)
		}
		items[i] = storage.PushItem{
			Queue: queueName, Partition: p, Body: m.Body,
			Metadata: m.Metadata, TTL: m.TTL, Timestamp: m.Timestamp,
		}
	}

	pushed, err := e.storage.PushBatch(ctx, cl, app, items)
	if err != nil {
		return nil, apierr.Wrap(apierr.StorageUnavailable, err)
	}

	out := make([]PushResultDTO, len(pushed))
	for i, r := range pushed {
		out[i] = PushResultDTO{
			Key:       timeuuid.Hex(r.MessageID),
			Timestamp: r.Timestamp.String(),
			Partition: items[i].Partition,
		}
	}
	return out, nil
}

// GetMessages fans out a range read over opts.Partitions (default {1}).
func (e *Engine) GetMessages(ctx context.Context, app, queueName string, opts GetOptions) ([]MessageDTO, error) {
	start := time.Now()
	msgs, err := e.getMessages(ctx, app, queueName, opts)
	e.recorder.RecordGet(app, queueName, len(msgs), time.Since(start), err == nil)
	return msgs, err
}

func (e *Engine) getMessages(ctx context.Context, app, queueName string, opts GetOptions) ([]MessageDTO, error) {
	attrs, err := e.QueueAttrs(ctx, app, queueName)
	if err != nil {
		return nil, err
	}
	cl, delay, err := ResolveConsistency(attrs.Consistency, e.cfg.Replicas, e.live)
	if err != nil {
		return nil, apierr.New(apierr.InvalidParameter, "%s", err)
	}

	partitions := opts.Partitions
	if len(partitions) == 0 {
		partitions = []int{1}
	}
	keys := make([]storage.PartitionKey, len(partitions))
	for i, p := range partitions {
		if p < 1 || p > attrs.Partitions {
			return nil, apierr.New(apierr.InvalidParameter, "partition %d out of range [1,%d]", p, attrs.Partitions)
		}
		keys[i] = storage.PartitionKey{Queue: queueName, Partition: p}
	}

	recs, err := e.storage.RetrieveBatch(ctx, cl, app, keys, storage.RetrieveOptions{
		Limit: opts.Limit, Since: opts.Since, Order: opts.Order,
		IncludeMetadata: opts.IncludeMetadata, Delay: delay,
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.StorageUnavailable, err)
	}
	return recordsToDTOs(recs), nil
}

// GetMessagesByIDs performs one point lookup per token, in token order,
// each against the token's own partition. Missing ids are omitted from
// the result.
func (e *Engine) GetMessagesByIDs(ctx context.Context, app, queueName string, tokens []MessageIDToken) ([]MessageDTO, error) {
	attrs, err := e.QueueAttrs(ctx, app, queueName)
	if err != nil {
		return nil, err
	}
	cl, _, err := ResolveConsistency(attrs.Consistency, e.cfg.Replicas, e.live)
	if err != nil {
		return nil, apierr.New(apierr.InvalidParameter, "%s", err)
	}

	out := make([]MessageDTO, 0, len(tokens))
	for _, tok := range tokens {
		rec, found, err := e.storage.Retrieve(ctx, cl, app, queueName, tok.Partition, tok.ID, true)
		if err != nil {
			return nil, apierr.Wrap(apierr.StorageUnavailable, err)
		}
		if !found {
			continue
		}
		out = append(out, recordsToDTOs([]storage.Record{rec})...)
		out[len(out)-1].Partition = tok.Partition
	}
	return out, nil
}

// UpdateMessages replaces the body (and ttl) of each token's message,
// grouped by partition. A token whose id is new (not already present)
// still succeeds -- this is the storage backend's update-in-place path,
// which inserts if absent.
func (e *Engine) UpdateMessages(ctx context.Context, app, queueName string, tokens []MessageIDToken, body []byte, ttl time.Duration) error {
	attrs, err := e.QueueAttrs(ctx, app, queueName)
	if err != nil {
		return err
	}
	cl, _, err := ResolveConsistency(attrs.Consistency, e.cfg.Replicas, e.live)
	if err != nil {
		return apierr.New(apierr.InvalidParameter, "%s", err)
	}

	byPartition := groupByPartition(tokens)
	for partition, ids := range byPartition {
		items := make([]storage.PushItem, len(ids))
		for i, id := range ids {
			id := id
			items[i] = storage.PushItem{
				Queue: queueName, Partition: partition, Body: body, TTL: ttl,
				Timestamp: &storage.At{ID: &id},
			}
		}
		if _, err := e.storage.PushBatch(ctx, cl, app, items); err != nil {
			return apierr.Wrap(apierr.StorageUnavailable, err)
		}
	}
	return nil
}

// DeleteMessages groups tokens by partition and issues per-partition
// deletes (spec §4.D "Delete semantics").
func (e *Engine) DeleteMessages(ctx context.Context, app, queueName string, tokens []MessageIDToken) error {
	start := time.Now()
	err := e.deleteMessages(ctx, app, queueName, tokens)
	e.recorder.RecordDelete(app, queueName, len(tokens), time.Since(start), err == nil)
	return err
}

func (e *Engine) deleteMessages(ctx context.Context, app, queueName string, tokens []MessageIDToken) error {
	attrs, err := e.QueueAttrs(ctx, app, queueName)
	if err != nil {
		return err
	}
	cl, _, err := ResolveConsistency(attrs.Consistency, e.cfg.Replicas, e.live)
	if err != nil {
		return apierr.New(apierr.InvalidParameter, "%s", err)
	}

	byPartition := groupByPartition(tokens)
	// Deterministic order keeps delete idempotent/retry-friendly and
	// makes failures reproducible in tests.
	partitions := make([]int, 0, len(byPartition))
	for p := range byPartition {
		partitions = append(partitions, p)
	}
	sort.Ints(partitions)
	for _, p := range partitions {
		if err := e.storage.Delete(ctx, cl, app, queueName, p, byPartition[p]...); err != nil {
			return apierr.Wrap(apierr.StorageUnavailable, err)
		}
	}
	return nil
}

func groupByPartition(tokens []MessageIDToken) map[int][]timeuuid.ID {
	out := make(map[int][]timeuuid.ID)
	for _, t := range tokens {
		out[t.Partition] = append(out[t.Partition], t.ID)
	}
	return out
}

func recordsToDTOs(recs []storage.Record) []MessageDTO {
	out := make([]MessageDTO, len(recs))
	for i, r := range recs {
		partition := 0
		if idx := strings.LastIndex(r.QueueName, ":"); idx >= 0 {
			fmt.Sscanf(r.QueueName[idx+1:], "%d", &partition)
		}
		out[i] = MessageDTO{
			MessageID: timeuuid.Hex(r.MessageID),
			Timestamp: r.Timestamp.String(),
			Body:      r.Body,
			Partition: partition,
			Metadata:  r.Metadata,
		}
	}
	return out
}
