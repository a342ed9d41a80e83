// Package storage defines the message-storage backend contract (spec
// §4.B): an ordered, per-partition column store keyed by
// "<application>:<queue>:<partition>", with batch insert, range read,
// point read, delete, truncate, and count operations, plus a visibility
// delay filter applied on every range read.
//
// Two concrete implementations satisfy this contract: the in-memory
// backend (package storage/memory) and the SQL-backed "wide column"
// backend (package storage/sqlcolumn). The queue engine depends only on
// the Backend interface below.
package storage

import (
	"context"
	"time"

	"github.com/queuey-io/queuey/internal/timeuuid"
	"github.com/shopspring/decimal"
)

// ConsistencyLevel is the storage-level consistency knob the queue
// engine derives from a queue's `consistency` attribute (spec §4.D).
type ConsistencyLevel string

const (
	CLOne          ConsistencyLevel = "one"
	CLQuorum       ConsistencyLevel = "quorum"
	CLLocalQuorum  ConsistencyLevel = "local_quorum"
	CLEachQuorum   ConsistencyLevel = "each_quorum"
)

// Order selects traversal direction for range reads.
type Order string

const (
	Ascending  Order = "ascending"
	Descending Order = "descending"
)

// PartitionKey addresses one ordered column-family row:
// "<application>:<queue>:<partition>".
type PartitionKey struct {
	Queue     string
	Partition int
}

// At is either an explicit message id or a decimal seconds-since-epoch
// timestamp. It is used both for Push's update-in-place/backdated-insert
// modes and for RetrieveBatch's `since` cursor.
type At struct {
	ID      *timeuuid.ID
	Decimal *decimal.Decimal
}

// Record is one stored message as the backend returns it.
type Record struct {
	MessageID timeuuid.ID
	Timestamp decimal.Decimal
	Body      []byte
	Metadata  map[string]string
	// QueueName is the "<queue>:<partition>" suffix of the storage key
	// the record came from (spec §9: strip only the application prefix).
	QueueName string
}

// PushItem is one message in a PushBatch call.
type PushItem struct {
	Queue     string
	Partition int
	Body      []byte
	Metadata  map[string]string
	TTL       time.Duration
	// Timestamp, if set, selects update-in-place (an ID) or a backdated
	// new message (a Decimal). Nil means "generate a fresh id now".
	Timestamp *At
}

// PushResult is one push's outcome.
type PushResult struct {
	MessageID timeuuid.ID
	Timestamp decimal.Decimal
}

// RetrieveOptions configures RetrieveBatch.
type RetrieveOptions struct {
	// Limit applies per partition key; the aggregate result may contain
	// up to Limit * len(keys) records.
	Limit int
	// Since, if set, is the inclusive lower bound for the slice, in
	// either order. A decimal Since is converted to the lowest-valued
	// id at that timestamp so the slice is inclusive of every id at or
	// after that instant.
	Since           *At
	Order           Order
	IncludeMetadata bool
	// Delay hides any record whose id-time is newer than now-Delay, to
	// give eventually-consistent replication time to converge.
	Delay time.Duration
}

// StorageUnavailable wraps any transient backend failure (unreachable,
// timeout); callers translate it to apierr.StorageUnavailable.
type StorageUnavailable struct {
	Cause error
}

func (e *StorageUnavailable) Error() string { return "storage unavailable: " + e.Cause.Error() }
func (e *StorageUnavailable) Unwrap() error { return e.Cause }

// Backend is the message-storage contract (spec §4.B).
type Backend interface {
	// Push inserts one message. If item.Timestamp.ID is set, it updates
	// that message in place (body/metadata/ttl replaced, same id). If
	// item.Timestamp.Decimal is set, a new id is synthesized at that
	// time (randomized clock/node bits) -- a distinct message, not an
	// update. Otherwise a fresh id is generated for "now".
	Push(ctx context.Context, cl ConsistencyLevel, app string, item PushItem) (PushResult, error)

	// PushBatch performs all inserts as one atomic batch; results are
	// returned in the same order as items.
	PushBatch(ctx context.Context, cl ConsistencyLevel, app string, items []PushItem) ([]PushResult, error)

	// RetrieveBatch multi-gets across partition keys, applying limit,
	// since-cursor, order, and the visibility delay.
	RetrieveBatch(ctx context.Context, cl ConsistencyLevel, app string, keys []PartitionKey, opts RetrieveOptions) ([]Record, error)

	// Retrieve point-looks-up a single message id. found is false if no
	// such unexpired message exists. The visibility delay is not applied
	// to point lookups.
	Retrieve(ctx context.Context, cl ConsistencyLevel, app, queue string, partition int, id timeuuid.ID, includeMetadata bool) (rec Record, found bool, err error)

	// Delete removes the given message ids from one partition.
	// Idempotent: deleting an already-absent id is not an error.
	Delete(ctx context.Context, cl ConsistencyLevel, app, queue string, partition int, ids ...timeuuid.ID) error

	// Truncate removes every message from one partition.
	Truncate(ctx context.Context, cl ConsistencyLevel, app, queue string, partition int) error

	// Count returns the number of live messages in one partition.
	Count(ctx context.Context, cl ConsistencyLevel, app, queue string, partition int) (int, error)
}
