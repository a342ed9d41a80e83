// Package metadata defines the queue catalog contract (spec §4.C): a
// registry of queues per application with mutable attributes, a
// queues-by-application secondary index, and a queue counter. Two
// backends satisfy it: an in-memory map (package metadata/memory) and a
// SQL-backed catalog (package metadata/sqlcatalog).
package metadata

import "context"

// Attrs is a queue's full attribute set, as returned by QueueInformation.
type Attrs struct {
	QueueName   string
	Application string
	Partitions  int
	Type        string // "user" or "public"
	Consistency string // "weak", "strong", or "very_strong"
	Principals  []string
	Created     float64 // seconds since epoch
}

// IsZero reports whether a is the empty/absent sentinel QueueInformation
// returns for a queue that does not exist.
func (a Attrs) IsZero() bool {
	return a.QueueName == "" && a.Application == ""
}

// Update carries only the attributes a caller actually supplied to
// RegisterQueue; nil/empty fields are left untouched on merge (spec
// §4.C: "merge attrs (only supplied keys)").
type Update struct {
	Partitions  *int
	Type        *string
	Consistency *string
	Principals  *[]string
	Created     *float64
}

// Backend is the metadata-catalog contract (spec §4.C).
type Backend interface {
	// RegisterQueue is an idempotent create-or-update. If the queue
	// exists, supplied fields in upd are merged in; otherwise a new
	// queue is inserted with upd's fields plus application=app and
	// created=now (unless upd.Created is set), and the application's
	// queue_count is incremented.
	RegisterQueue(ctx context.Context, app, queue string, upd Update) error

	// RemoveQueue deletes a queue registration, decrementing
	// queue_count. Returns false if the queue was already absent.
	RemoveQueue(ctx context.Context, app, queue string) (bool, error)

	// QueueList returns queue names for app in ascending order, at most
	// limit of them, starting at offset (an opaque resume token equal to
	// the last previously-returned queue name; empty means "from the
	// start").
	QueueList(ctx context.Context, app string, limit int, offset string) ([]string, error)

	// QueueInformation multi-gets attrs for queues, in the same order;
	// a queue that doesn't exist yields a zero Attrs (Attrs.IsZero()).
	QueueInformation(ctx context.Context, app string, queues []string) ([]Attrs, error)

	// QueueCount returns the number of live queues registered for app.
	QueueCount(ctx context.Context, app string) (int, error)
}
